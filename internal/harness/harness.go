package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Mlorras/lightwave/internal/changeset"
	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/repl"
	"github.com/Mlorras/lightwave/internal/schema"
	"github.com/Mlorras/lightwave/internal/store"
	"github.com/Mlorras/lightwave/internal/testutil"
	"github.com/Mlorras/lightwave/internal/writequeue"
)

// DefaultPartner supplies changes whose scenario entry names no partner.
const DefaultPartner = "partner"

// Harness is the scenario execution engine.
type Harness struct {
	dir    string
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// replica is one simulated replica: a store file and the engine over it.
type replica struct {
	name     string
	store    *store.Store
	registry *schema.Registry
	engine   *repl.Engine
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each replica gets its own store in a fresh temporary directory, removed
// when Run returns. An error is returned only when the scenario cannot be
// executed (store failure, seed change rejected); assertion failures are
// reported in Result.Errors.
//
// Execution flow:
// 1. Open one store, schema registry and engine per replica
// 2. Apply the seed changes to every replica
// 3. Deliver each replica's changes in its own order
// 4. Snapshot every replica
// 5. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	dir, err := os.MkdirTemp("", "lwrepl-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		dir:    dir,
		clock:  testutil.NewDeterministicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	result := NewResult()
	for _, spec := range scenario.Replicas {
		r, err := h.openReplica(ctx, scenario, spec.Name)
		if err != nil {
			return nil, err
		}
		err = h.runReplica(ctx, scenario, r, spec, result)
		if err == nil {
			result.State[r.name], err = Snapshot(ctx, r.store, r.registry.Acquire())
		}
		r.store.Close()
		if err != nil {
			return nil, fmt.Errorf("replica %s: %w", spec.Name, err)
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) openReplica(ctx context.Context, scenario *Scenario, name string) (*replica, error) {
	var reg *schema.Registry
	var err error
	if scenario.Schema != "" {
		reg, err = schema.Load(scenario.Schema)
	} else {
		reg, err = schema.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	st, err := store.Open(filepath.Join(h.dir, name+".db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store for replica %s: %w", name, err)
	}
	usn, err := st.MaxUSN(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	en := repl.New(repl.NewSQLiteBackend(st), writequeue.New(usn), reg,
		repl.WithLogger(h.logger.With("replica", name)))
	return &replica{name: name, store: st, registry: reg, engine: en}, nil
}

// runReplica applies the seed and then delivers the replica's changes.
func (h *Harness) runReplica(ctx context.Context, scenario *Scenario, r *replica, spec Replica, result *Result) error {
	if len(scenario.Seed) > 0 {
		seed := &changeset.File{Partner: "seed", Changes: scenario.Seed}
		recs, err := seed.Records()
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		for i, rec := range recs {
			res, err := r.engine.Apply(ctx, nil, rec)
			if err == nil && res.Warning != nil {
				err = res.Warning
			}
			if err != nil {
				return fmt.Errorf("seed[%d]: %w", i, err)
			}
		}
	}

	byID := make(map[string]int, len(scenario.Changes))
	for i, c := range scenario.Changes {
		byID[c.ID] = i
	}

	recs := make([]*dirent.ChangeRecord, 0, len(spec.Order))
	for _, id := range spec.Order {
		rec, err := changeRecord(scenario.Changes, byID[id])
		if err != nil {
			return fmt.Errorf("change %s: %w", id, err)
		}
		recs = append(recs, rec)
	}

	if spec.Workers > 0 {
		items := r.engine.ApplyBatch(ctx, recs, spec.Workers)
		for i, it := range items {
			result.AddTrace(h.event(r.name, spec.Order[i], it.Record, it.Result, it.Err))
		}
		return nil
	}

	for i, rec := range recs {
		res, err := r.engine.Apply(ctx, nil, rec)
		result.AddTrace(h.event(r.name, spec.Order[i], rec, res, err))
		h.logger.Debug("change delivered",
			"replica", r.name,
			"change", spec.Order[i],
			"outcome", res.Outcome.String(),
		)
	}
	return nil
}

// changeRecord builds a fresh record for changes[i]. Records are never
// shared between replicas: each caches the entry decoded under its own
// replica's schema.
func changeRecord(changes []Change, i int) (*dirent.ChangeRecord, error) {
	c := changes[i]
	partner := c.Partner
	if partner == "" {
		partner = DefaultPartner
	}
	if c.PartnerUSN == 0 {
		c.PartnerUSN = uint64(i + 1)
	}
	f := &changeset.File{Partner: partner, Changes: []changeset.Change{c.Change}}
	recs, err := f.Records()
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (h *Harness) event(replicaName, id string, rec *dirent.ChangeRecord, res repl.Result, err error) TraceEvent {
	ev := TraceEvent{
		Seq:     h.clock.Next(),
		Replica: replicaName,
		Change:  id,
		Op:      rec.Kind.String(),
		DN:      rec.DN,
		Mods:    res.Mods,
	}
	if res.DN != "" {
		ev.DN = res.DN
	}

	switch {
	case err != nil:
		ev.Outcome = "error"
		var ae *repl.ApplyError
		if errors.As(err, &ae) {
			ev.Code = string(ae.Code)
		}
	case res.Warning != nil:
		ev.Outcome = res.Outcome.String()
		ev.Code = string(res.Warning.Code)
	default:
		ev.Outcome = res.Outcome.String()
	}
	return ev
}

// Snapshot renders every entry of st in a replica-independent form: DNs are
// normalized, local sequence numbers are zeroed, and multi-valued attributes
// list their values and value metadata sorted.
func Snapshot(ctx context.Context, st *store.Store, sctx *schema.Context) ([]EntryState, error) {
	entries, err := st.ListEntries(ctx, sctx)
	if err != nil {
		return nil, err
	}

	out := make([]EntryState, 0, len(entries))
	for _, e := range entries {
		es := EntryState{DN: dirent.NormalizeDN(e.DN), Attrs: []AttrState{}}
		if v, ok := e.FirstValue(dirent.AttrIsDeleted); ok && strings.EqualFold(v, "TRUE") {
			es.Deleted = true
		}

		for _, a := range e.Attrs.All() {
			as := AttrState{Type: a.Type}
			if !a.IsDeleted() {
				as.Vals = a.StringValues()
			}
			if a.Meta != nil {
				m := *a.Meta
				m.LocalUSN = 0
				as.Meta = m.String()
			}
			if a.Desc.MultiValued {
				sort.Strings(as.Vals)
				items, err := st.ReadValueMetadata(ctx, e.DN, a.Desc.ID)
				if err != nil {
					return nil, err
				}
				for _, vm := range items {
					vm.LocalUSN = 0
					as.ValueMeta = append(as.ValueMeta, vm.String())
				}
				sort.Strings(as.ValueMeta)
			}
			es.Attrs = append(es.Attrs, as)
		}
		sort.Slice(es.Attrs, func(i, j int) bool {
			return strings.ToLower(es.Attrs[i].Type) < strings.ToLower(es.Attrs[j].Type)
		})
		out = append(out, es)
	}
	return out, nil
}
