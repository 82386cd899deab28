package repl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
	"github.com/Mlorras/lightwave/internal/store"
)

// attemptFunc performs one attempt of a change inside txn. It must start
// from fresh inputs on every call: any state derived from an earlier
// attempt may be stale after an abort.
type attemptFunc func(ctx context.Context, txn Txn, usn uint64) error

// runInTxn runs fn under the write ordering discipline:
//
//  1. take a write queue slot and wait until it is at the head
//  2. run fn in a fresh transaction, restarting on deadlock up to
//     maxRetries attempts
//  3. release the slot
//
// Changes to the schema subtree take the schema mod lock (lockSchema)
// before calling runInTxn. ctx is honored only while waiting for the slot.
// Once the first transaction begins the change runs to completion or
// failure.
func (en *Engine) runInTxn(ctx context.Context, o op, res *Result, fn attemptFunc) error {
	slot, err := en.queue.Push()
	if err != nil {
		return &ApplyError{Code: ErrCodeAborted, Message: "write queue unavailable", Err: err}
	}
	defer en.queue.Pop(slot)
	res.USN = slot.USN()

	if err := en.queue.Wait(ctx, slot); err != nil {
		return &ApplyError{Code: ErrCodeAborted, Message: "waiting for write queue slot", Err: err}
	}

	ctx = context.WithoutCancel(ctx)
	for attempt := 1; attempt <= en.maxRetries; attempt++ {
		err := en.attempt(ctx, slot.USN(), fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDeadlock) {
			return err
		}
		en.metrics.DeadlockRetries.WithLabelValues(string(o)).Inc()
		en.logger.Info("store deadlock, retrying transaction",
			"op", o,
			"dn", res.DN,
			"attempt", attempt,
			"error", err,
		)
	}

	return &ApplyError{
		Code:    ErrCodeRetriesExhausted,
		Message: fmt.Sprintf("ran out of deadlock retries after %d attempts", en.maxRetries),
		Err:     store.ErrDeadlock,
	}
}

// attempt runs fn in one transaction and commits it. The transaction is
// aborted on any failure.
func (en *Engine) attempt(ctx context.Context, usn uint64, fn attemptFunc) error {
	txn, err := en.backend.BeginWrite(ctx)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			txn.Abort()
		}
	}()

	if err := fn(ctx, txn, usn); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ApplyAdd applies a replicated add. Value metadata travelling with the
// entry is stored alongside it. The returned Result carries a refreshed
// schema context when the entry lies in the schema subtree.
func (en *Engine) ApplyAdd(ctx context.Context, sctx *schema.Context, rec *dirent.ChangeRecord) (Result, error) {
	start := time.Now()
	res := &Result{DN: rec.DN}

	entry, err := decodeOrReuse(rec, sctx)
	if err != nil {
		return en.finish(opAdd, rec, res, err, start)
	}
	res.DN = entry.DN
	en.logger.Info("replicating add", "dn", entry.DN, "partner", rec.Partner, "partner_usn", rec.PartnerUSN)
	en.logEntryContent(ctx, opAdd, entry)

	unlock := en.lockSchema(entry.DN)
	defer unlock()

	var (
		added   *dirent.Entry
		defined *schema.Descriptor
	)
	err = en.runInTxn(ctx, opAdd, res, func(ctx context.Context, txn Txn, usn uint64) error {
		e := entry.Clone()
		raw := detachValueMetadata(e)

		for _, a := range e.Attrs.All() {
			if a.Meta == nil {
				return &ApplyError{Code: ErrCodeMalformedMetadata, Message: "attribute carries no metadata", Attribute: a.Type}
			}
			a.Meta.LocalUSN = usn
		}
		if err := attachValueMetadata(e, raw, usn); err != nil {
			return err
		}
		if err := patchLegacyData(e); err != nil {
			return err
		}

		if err := txn.Add(ctx, e, usn); err != nil {
			return err
		}
		defined = nil
		if dirent.IsSchemaDN(e.DN) {
			d, err := en.defineAttribute(ctx, txn, e.DN, sctx)
			if err != nil {
				return err
			}
			defined = d
		}
		added = e
		return nil
	})
	if err != nil {
		return en.finish(opAdd, rec, res, err, start)
	}

	res.Mods = added.Attrs.Len()
	if dirent.IsSchemaDN(added.DN) {
		if res.Schema, err = en.publishSchema(defined); err != nil {
			return en.finish(opAdd, rec, res, err, start)
		}
	}
	return en.finish(opAdd, rec, res, nil, start)
}

// ApplyDelete applies a replicated delete. The supplier's entry carries the
// tombstone state (isDeleted, lastKnownDN and emptied attributes); the
// winning parts are applied to the live object, which then moves to the
// supplier's tombstone name.
func (en *Engine) ApplyDelete(ctx context.Context, sctx *schema.Context, rec *dirent.ChangeRecord) (Result, error) {
	start := time.Now()
	res := &Result{DN: rec.DN}

	entry, err := decodeOrReuse(rec, sctx)
	if err != nil {
		return en.finish(opDelete, rec, res, err, start)
	}
	wireDN := entry.DN
	if _, ok := entry.Attrs.Get(dirent.AttrIsDeleted); !ok {
		err := &ApplyError{Code: ErrCodeMalformedChange, Message: "delete carries no isDeleted attribute", DN: wireDN}
		return en.finish(opDelete, rec, res, err, start)
	}

	if err := en.resolveLocalName(ctx, entry); err != nil {
		return en.finish(opDelete, rec, res, err, start)
	}
	target := deleteTarget(entry)
	res.DN = target
	en.logger.Info("replicating delete",
		"dn", wireDN,
		"local_dn", target,
		"partner", rec.Partner,
		"partner_usn", rec.PartnerUSN,
	)
	en.logEntryContent(ctx, opDelete, entry)

	unlock := en.lockSchema(target)
	defer unlock()

	err = en.runInTxn(ctx, opDelete, res, func(ctx context.Context, txn Txn, usn uint64) error {
		e := entry.Clone()
		if raw := detachValueMetadata(e); len(raw) > 0 {
			en.logger.Debug("dropping value metadata carried by delete", "dn", target, "items", len(raw))
		}

		id, err := txn.ResolveDN(ctx, target)
		if err != nil {
			return err
		}
		if err := en.resolveAttributes(ctx, txn, id, e, usn); err != nil {
			return err
		}

		req, deleteObject := buildModifyRequest(e)
		req.DN = target
		res.Mods = len(req.Mods)
		if len(req.Mods) == 0 {
			return nil
		}
		if err := purgeReplacedValueMetadata(ctx, txn, id, req.Mods); err != nil {
			return err
		}
		en.logMods(ctx, req)

		if !deleteObject {
			// A later local isDeleted won; keep whatever else the delete carried.
			return txn.Modify(ctx, req, usn)
		}
		if dirent.IsTombstoneDN(wireDN) {
			req.NewDN = wireDN
		}
		return txn.Delete(ctx, req, usn)
	})
	return en.finish(opDelete, rec, res, err, start)
}

// ApplyModify applies a replicated modify: attribute-level resolution and
// modifications first, then value-level resolution against the state those
// modifications produced, all in one transaction. The returned Result
// carries a refreshed schema context when the target lies in the schema
// subtree.
func (en *Engine) ApplyModify(ctx context.Context, sctx *schema.Context, rec *dirent.ChangeRecord) (Result, error) {
	start := time.Now()
	res := &Result{DN: rec.DN}

	entry, err := decodeOrReuse(rec, sctx)
	if err != nil {
		return en.finish(opModify, rec, res, err, start)
	}
	if dirent.IsTombstoneDN(entry.DN) {
		err := &ApplyError{Code: ErrCodeTombstoneModify, Message: "modify of a tombstone entry", DN: entry.DN}
		en.logEntryContent(ctx, opModify, entry)
		return en.finish(opModify, rec, res, err, start)
	}

	if err := en.resolveLocalName(ctx, entry); err != nil {
		return en.finish(opModify, rec, res, err, start)
	}
	target := entry.DN
	res.DN = target
	en.logger.Info("replicating modify", "dn", target, "partner", rec.Partner, "partner_usn", rec.PartnerUSN)
	en.logEntryContent(ctx, opModify, entry)

	unlock := en.lockSchema(target)
	defer unlock()

	var defined *schema.Descriptor
	err = en.runInTxn(ctx, opModify, res, func(ctx context.Context, txn Txn, usn uint64) error {
		e := entry.Clone()
		raw := detachValueMetadata(e)
		res.Mods = 0
		defined = nil

		id, err := txn.ResolveDN(ctx, target)
		if err != nil {
			return err
		}
		if err := en.resolveAttributes(ctx, txn, id, e, usn); err != nil {
			return err
		}

		req, _ := buildModifyRequest(e)
		// The entry is already pinned by ID; a delete marker does not
		// redirect a modify.
		req.DN = target
		if len(req.Mods) > 0 {
			if err := purgeReplacedValueMetadata(ctx, txn, id, req.Mods); err != nil {
				return err
			}
			en.logMods(ctx, req)
			if err := txn.Modify(ctx, req, usn); err != nil {
				return err
			}
			res.Mods += len(req.Mods)
		}

		if len(raw) > 0 {
			mods, err := en.resolveValueMetadata(ctx, txn, id, e, raw, usn)
			if err != nil {
				return err
			}
			if len(mods) > 0 {
				vreq := &dirent.ModifyRequest{DN: target, Mods: mods}
				en.logMods(ctx, vreq)
				if err := txn.Modify(ctx, vreq, usn); err != nil {
					return err
				}
				res.Mods += len(mods)
			}
		}

		if dirent.IsSchemaDN(target) && res.Mods > 0 {
			d, err := en.defineAttribute(ctx, txn, target, sctx)
			if err != nil {
				return err
			}
			defined = d
		}
		return nil
	})
	if err != nil {
		return en.finish(opModify, rec, res, err, start)
	}

	if dirent.IsSchemaDN(target) {
		if res.Schema, err = en.publishSchema(defined); err != nil {
			return en.finish(opModify, rec, res, err, start)
		}
	}
	return en.finish(opModify, rec, res, nil, start)
}

// formatMods renders a request's modifications for diagnostics and golden
// files: one line per modification, values masked like the content log.
func formatMods(req *dirent.ModifyRequest) []string {
	out := make([]string, 0, len(req.Mods))
	for _, m := range req.Mods {
		line := fmt.Sprintf("%s %s %v", m.Op, m.Attr.Type, loggedValues(&m.Attr))
		if m.Attr.Meta != nil {
			line += " " + m.Attr.Meta.String()
		}
		out = append(out, line)
	}
	return out
}
