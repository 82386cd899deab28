package repl

import (
	"context"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
	"github.com/Mlorras/lightwave/internal/store"
)

// Backend is the local store as seen by the apply engine.
type Backend interface {
	// BeginWrite starts a write transaction.
	BeginWrite(ctx context.Context) (Txn, error)

	// SearchByGUID returns the names of all local entries with the given
	// objectGUID. It runs outside any write transaction.
	SearchByGUID(ctx context.Context, guid string) ([]string, error)
}

// Txn is one write transaction. Any method may fail with an error wrapping
// store.ErrDeadlock, after which the engine aborts and restarts the attempt.
type Txn interface {
	Commit() error
	Abort()

	ResolveDN(ctx context.Context, dn string) (int64, error)
	AttrMetadata(ctx context.Context, entryID int64, attrID uint16) (*dirent.AttrMetadata, error)
	ValueMetadata(ctx context.Context, entryID int64, attrID uint16) ([]dirent.ValueMetadata, error)
	UpdateValueMetadata(ctx context.Context, entryID int64, attrID uint16, op store.ValueMetaOp, items []dirent.ValueMetadata) error

	ReadEntry(ctx context.Context, dn string, sctx *schema.Context) (*dirent.Entry, error)
	PutAttributeType(ctx context.Context, d schema.Descriptor) error

	Add(ctx context.Context, e *dirent.Entry, usn uint64) error
	Modify(ctx context.Context, req *dirent.ModifyRequest, usn uint64) error
	Delete(ctx context.Context, req *dirent.ModifyRequest, usn uint64) error
}

// NewSQLiteBackend adapts a store.Store to Backend.
func NewSQLiteBackend(s *store.Store) Backend {
	return sqliteBackend{s: s}
}

type sqliteBackend struct {
	s *store.Store
}

func (b sqliteBackend) BeginWrite(ctx context.Context) (Txn, error) {
	t, err := b.s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (b sqliteBackend) SearchByGUID(ctx context.Context, guid string) ([]string, error) {
	return b.s.SearchByGUID(ctx, guid)
}
