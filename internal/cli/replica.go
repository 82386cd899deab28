package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/Mlorras/lightwave/internal/repl"
	"github.com/Mlorras/lightwave/internal/schema"
	"github.com/Mlorras/lightwave/internal/store"
	"github.com/Mlorras/lightwave/internal/writequeue"
)

// replica is an opened local store with the engine over it.
type replica struct {
	store    *store.Store
	registry *schema.Registry
	engine   *repl.Engine
}

// loadRegistry loads the core schema, extended by schemaPath when set.
func loadRegistry(schemaPath string) (*schema.Registry, error) {
	if schemaPath == "" {
		return schema.Default()
	}
	return schema.Load(schemaPath)
}

// openReplica opens an existing database. Use create for a new one.
func openReplica(ctx context.Context, dbPath, schemaPath string, create bool, opts ...repl.Option) (*replica, error) {
	if _, err := os.Stat(dbPath); err == nil && create {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database already exists: %s", dbPath))
	} else if os.IsNotExist(err) && !create {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", dbPath))
	}

	reg, err := loadRegistry(schemaPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	// Attribute types learned from replicated schema entries in earlier runs.
	defs, err := st.AttributeTypes(ctx)
	if err == nil && len(defs) > 0 {
		err = reg.Register(defs...)
	}
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load replicated schema", err)
	}

	// The queue hands out sequence numbers after the highest one in use.
	usn, err := st.MaxUSN(ctx)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read sequence number", err)
	}

	return &replica{
		store:    st,
		registry: reg,
		engine:   repl.New(repl.NewSQLiteBackend(st), writequeue.New(usn), reg, opts...),
	}, nil
}

func (r *replica) Close() error {
	return r.store.Close()
}
