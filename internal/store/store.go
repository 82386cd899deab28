package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations bring databases created by older builds up to schema.sql.
// Entry i moves user_version from i to i+1; a new database runs them all,
// so each must be idempotent.
var migrations = []string{
	// 1: change enumeration by local USN.
	`CREATE INDEX IF NOT EXISTS idx_entries_usn ON entries(usn_changed)`,
	// 2: attribute types learned from replicated attributeSchema entries.
	// attributes.attr_id refers to these IDs, so they must outlive the process.
	`CREATE TABLE IF NOT EXISTS attribute_types (
		attr_id      INTEGER PRIMARY KEY,
		name         TEXT    NOT NULL UNIQUE COLLATE NOCASE,
		multi_valued INTEGER NOT NULL
	)`,
}

// pragmas configure every connection. busy_timeout is kept short: a
// blocked writer reports ErrDeadlock and the apply loop restarts the
// transaction rather than queueing inside SQLite.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Sentinel errors. Store methods wrap these; test with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("entry already exists")
	ErrNoSuchObject        = errors.New("no such object")
	ErrNotAllowedOnNonLeaf = errors.New("operation not allowed on non-leaf")
	ErrNoSuchAttribute     = errors.New("no such attribute")

	// ErrDeadlock reports lock contention the caller should resolve by
	// aborting and restarting its transaction.
	ErrDeadlock = errors.New("storage deadlock")
)

// Store is the SQLite-backed replica store.
// Uses WAL mode so readers proceed while a write transaction is open.
type Store struct {
	db *sql.DB
}

// Open opens the replica database at path, creating it when missing, and
// brings its schema up to date. Write transactions begin IMMEDIATE so lock
// conflicts surface at BeginWrite. Opening an existing database again is
// harmless.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open replica store %s: %w", path, err)
	}

	// One connection: SQLite has a single writer, and reads inside a write
	// transaction must see its own changes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := setup(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open replica store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func setup(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for ; version < len(migrations); version++ {
		if _, err := db.Exec(migrations[version]); err != nil {
			return fmt.Errorf("migrate to v%d: %w", version+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// mapErr translates SQLite lock contention into ErrDeadlock so callers can
// distinguish retryable conflicts from hard failures.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrDeadlock, err)
	}
	return err
}

// MaxUSN returns the highest local sequence number committed to the store.
func (s *Store) MaxUSN(ctx context.Context) (uint64, error) {
	var usn uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(usn_changed), 0) FROM entries`).Scan(&usn)
	if err != nil {
		return 0, fmt.Errorf("max usn: %w", mapErr(err))
	}
	return usn, nil
}

// pragma reads one PRAGMA value.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
