// Package repl applies changes received from replication partners to the
// local replica.
//
// Each change is an add, delete or modify of one entry. The engine decodes
// it (once, reusing the decoded form on retry), maps the supplied name to
// the local object by objectGUID, resolves every attribute and every value
// against local metadata so that all replicas pick the same winners, and
// applies the surviving modifications inside one store transaction.
//
// Lock ordering, on every path:
//
//	schema mod lock (schema subtree only) -> write queue slot -> store txn
//
// Deadlocks reported by the store abort and restart the transaction, up to
// a fixed number of attempts.
package repl

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
	"github.com/Mlorras/lightwave/internal/writequeue"
)

// DefaultMaxDeadlockRetries is the number of transaction attempts made for
// one change before it is reported as failed.
const DefaultMaxDeadlockRetries = 5

// Outcome summarizes what happened to a change.
type Outcome int

const (
	// OutcomeApplied: at least one modification was written.
	OutcomeApplied Outcome = iota + 1
	// OutcomeNoop: every attribute and value lost resolution.
	OutcomeNoop
	// OutcomeWarning: dropped for a convergence-risk reason, see Result.Warning.
	OutcomeWarning
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNoop:
		return "noop"
	case OutcomeWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Result is the non-fatal result of applying one change.
type Result struct {
	Outcome Outcome

	// Warning is set when Outcome is OutcomeWarning.
	Warning *ApplyError

	// DN is the local target name after identity resolution.
	DN string

	// USN is the local sequence number allocated for the change.
	USN uint64

	// Mods is the number of modifications written.
	Mods int

	// Schema is the latest schema context when the change touched the schema
	// subtree. Callers should use it for subsequent changes.
	Schema *schema.Context
}

// Engine applies peer changes. Safe for concurrent use: independent changes
// may be applied from many goroutines.
type Engine struct {
	backend    Backend
	queue      *writequeue.Queue
	registry   *schema.Registry
	maxRetries int
	logger     *slog.Logger
	metrics    *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDeadlockRetries sets the transaction attempt ceiling.
//
// Default: 5 (DefaultMaxDeadlockRetries)
func WithMaxDeadlockRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics sink. Default: unregistered counters.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine over the given backend, write queue and schema
// registry. The queue must be seeded with the store's highest USN.
func New(b Backend, q *writequeue.Queue, reg *schema.Registry, opts ...Option) *Engine {
	e := &Engine{
		backend:    b,
		queue:      q,
		registry:   reg,
		maxRetries: DefaultMaxDeadlockRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// op names the three apply paths in logs and metrics.
type op string

const (
	opAdd    op = "add"
	opDelete op = "delete"
	opModify op = "modify"
)

// finish records metrics and converts the apply outcome to the public
// (Result, error) pair.
func (en *Engine) finish(o op, rec *dirent.ChangeRecord, res *Result, err error, start time.Time) (Result, error) {
	en.metrics.Duration.WithLabelValues(string(o)).Observe(time.Since(start).Seconds())

	if err != nil {
		ae := classify(err, res.DN, rec.PartnerUSN)
		if IsWarning(ae) {
			res.Outcome = OutcomeWarning
			res.Warning = ae
			en.metrics.Applied.WithLabelValues(string(o), "warning").Inc()
			en.logger.Warn("replicated change not applied, replicas may not converge",
				"op", o,
				"dn", ae.DN,
				"code", ae.Code,
				"partner", rec.Partner,
				"partner_usn", rec.PartnerUSN,
				"error", ae.Err,
			)
			return *res, nil
		}
		en.metrics.Applied.WithLabelValues(string(o), "error").Inc()
		en.logger.Error("replicated change failed",
			"op", o,
			"dn", ae.DN,
			"code", ae.Code,
			"partner", rec.Partner,
			"partner_usn", rec.PartnerUSN,
			"error", ae,
		)
		return *res, ae
	}

	if res.Mods == 0 {
		res.Outcome = OutcomeNoop
	} else {
		res.Outcome = OutcomeApplied
	}
	en.metrics.Applied.WithLabelValues(string(o), res.Outcome.String()).Inc()
	en.logger.Debug("replicated change done",
		"op", o,
		"dn", res.DN,
		"usn", res.USN,
		"mods", res.Mods,
		"outcome", res.Outcome,
	)
	return *res, nil
}

// lockSchema takes the schema mod lock when dn lies in the schema subtree
// and returns its release. The lock covers the store transaction and the
// registration that follows its commit.
func (en *Engine) lockSchema(dn string) func() {
	if !dirent.IsSchemaDN(dn) {
		return func() {}
	}
	en.registry.LockMod()
	return en.registry.UnlockMod
}

// defineAttribute records the attribute type described by the schema entry
// at dn, as txn sees it, under the next free ID. It returns nil when the
// entry is not an attributeSchema or names a type the schema already has.
// The schema mod lock must be held until the result is published.
func (en *Engine) defineAttribute(ctx context.Context, txn Txn, dn string, sctx *schema.Context) (*schema.Descriptor, error) {
	e, err := txn.ReadEntry(ctx, dn, sctx)
	if err != nil {
		return nil, err
	}
	oc, ok := e.Attrs.Get(dirent.AttrObjectClass)
	if !ok || !oc.HasValue([]byte(dirent.OCAttributeSchema)) {
		return nil, nil
	}
	name, ok := e.FirstValue(dirent.AttrLDAPDisplayName)
	if !ok {
		return nil, nil
	}
	if _, err := en.registry.Acquire().Descriptor(name); err == nil {
		return nil, nil
	}

	id, err := en.registry.NextID()
	if err != nil {
		return nil, &ApplyError{Code: ErrCodeStore, Message: "cannot define attribute type", Attribute: name, Err: err}
	}
	single, _ := e.FirstValue(dirent.AttrIsSingleValued)
	d := schema.Descriptor{Name: name, ID: id, MultiValued: single != "TRUE"}
	if err := txn.PutAttributeType(ctx, d); err != nil {
		return nil, &ApplyError{Code: ErrCodeStore, Message: "cannot record attribute type", Attribute: name, Err: err}
	}
	return &d, nil
}

// publishSchema registers d, if any, and returns the latest schema context.
func (en *Engine) publishSchema(d *schema.Descriptor) (*schema.Context, error) {
	if d != nil {
		if err := en.registry.Register(*d); err != nil {
			return nil, &ApplyError{Code: ErrCodeStore, Message: "cannot register attribute type", Attribute: d.Name, Err: err}
		}
		en.logger.Info("schema attribute registered",
			"name", d.Name,
			"id", d.ID,
			"generation", en.registry.Generation(),
		)
	}
	return en.registry.Acquire(), nil
}
