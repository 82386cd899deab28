package repl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
)

// DefaultBatchWorkers is the worker count ApplyBatch uses when none is given.
const DefaultBatchWorkers = 4

// BatchItem is the result of one change in a batch.
type BatchItem struct {
	Record *dirent.ChangeRecord
	Result Result
	Err    error
}

// Apply dispatches rec on its kind. A nil sctx means the registry's latest
// schema context.
func (en *Engine) Apply(ctx context.Context, sctx *schema.Context, rec *dirent.ChangeRecord) (Result, error) {
	if sctx == nil {
		sctx = en.registry.Acquire()
	}
	switch rec.Kind {
	case dirent.ChangeAdd:
		return en.ApplyAdd(ctx, sctx, rec)
	case dirent.ChangeDelete:
		return en.ApplyDelete(ctx, sctx, rec)
	case dirent.ChangeModify:
		return en.ApplyModify(ctx, sctx, rec)
	}
	return Result{DN: rec.DN}, &ApplyError{
		Code:       ErrCodeMalformedChange,
		Message:    fmt.Sprintf("unknown change kind %s", rec.Kind),
		DN:         rec.DN,
		PartnerUSN: rec.PartnerUSN,
	}
}

// ApplyBatch applies a page of changes from one partner with up to workers
// changes in flight. Items are returned in input order.
//
// Changes to related objects (the same object, or one an ancestor of the
// other) are applied in input order; unrelated changes run concurrently.
// After the first fatal error no further change is started: those not yet
// started are reported as ABORTED.
func (en *Engine) ApplyBatch(ctx context.Context, recs []*dirent.ChangeRecord, workers int) []BatchItem {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make([]BatchItem, len(recs))
	done := make([]chan struct{}, len(recs))
	keys := make([]batchKey, len(recs))
	sctx := en.registry.Acquire()
	for i, rec := range recs {
		items[i].Record = rec
		done[i] = make(chan struct{})
		keys[i] = keyOf(rec, sctx)
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for range min(workers, len(recs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				en.applyBatchItem(ctx, cancel, i, items, keys, done)
			}
		}()
	}

	for i := range recs {
		next <- i
	}
	close(next)
	wg.Wait()
	return items
}

func (en *Engine) applyBatchItem(ctx context.Context, cancel context.CancelFunc, i int, items []BatchItem, keys []batchKey, done []chan struct{}) {
	defer close(done[i])
	rec := items[i].Record

	// Indexes are handed out in order, so every earlier change is already
	// owned by a worker and will finish.
	for j := range i {
		if keys[j].related(keys[i]) {
			<-done[j]
		}
	}

	if err := ctx.Err(); err != nil {
		items[i].Result = Result{DN: rec.DN}
		items[i].Err = &ApplyError{
			Code:       ErrCodeAborted,
			Message:    "batch stopped after an earlier failure",
			DN:         rec.DN,
			PartnerUSN: rec.PartnerUSN,
			Err:        err,
		}
		return
	}

	res, err := en.Apply(ctx, nil, rec)
	items[i].Result = res
	items[i].Err = err
	if err != nil {
		cancel()
	}
}

// batchKey is what ApplyBatch knows about a change's target before applying
// it: the normalized name (the last known live name for deletes) and the
// objectGUID, when the payload decodes.
type batchKey struct {
	dn   string
	guid string
}

func keyOf(rec *dirent.ChangeRecord, sctx *schema.Context) batchKey {
	k := batchKey{dn: dirent.NormalizeDN(rec.DN)}
	e, err := decodeOrReuse(rec, sctx)
	if err != nil {
		return k
	}
	k.dn = dirent.NormalizeDN(e.DN)
	if rec.Kind == dirent.ChangeDelete {
		if last, ok := e.FirstValue(dirent.AttrLastKnownDN); ok && last != "" {
			k.dn = dirent.NormalizeDN(last)
		}
	}
	k.guid, _ = e.FirstValue(dirent.AttrObjectGUID)
	return k
}

func (k batchKey) related(o batchKey) bool {
	if k.guid != "" && k.guid == o.guid {
		return true
	}
	return isSubtreeOf(k.dn, o.dn) || isSubtreeOf(o.dn, k.dn)
}

// isSubtreeOf reports whether normalized dn equals base or lies below it.
func isSubtreeOf(dn, base string) bool {
	if base == "" {
		return true
	}
	return dn == base || strings.HasSuffix(dn, ","+base)
}
