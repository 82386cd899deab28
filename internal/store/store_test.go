package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_ReopensExistingReplica(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.db")
	sctx := testSchema(t)

	s, err := Open(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err, "database file created")
	seedEntry(t, s, newEntry(t, sctx, "cn=a,dc=x", testAttr(t, sctx, "cn", testMeta(1), "a")), 4)
	require.NoError(t, s.Close())

	for range 2 {
		s, err := Open(path)
		require.NoError(t, err)
		usn, err := s.MaxUSN(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(4), usn, "entries survive reopening")
		require.NoError(t, s.Close())
	}
}

func TestOpen_MigratesOlderReplica(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// A replica written before any migration existed.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(len(migrations)), version)

	var n int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_entries_usn'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"user_version": fmt.Sprint(len(migrations)),
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestMapErr_BusyIsDeadlock(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	assert.ErrorIs(t, mapErr(busy), ErrDeadlock)

	locked := fmt.Errorf("exec: %w", sqlite3.Error{Code: sqlite3.ErrLocked})
	assert.ErrorIs(t, mapErr(locked), ErrDeadlock)

	constraint := sqlite3.Error{Code: sqlite3.ErrConstraint}
	assert.NotErrorIs(t, mapErr(constraint), ErrDeadlock)
	assert.NoError(t, mapErr(nil))
}

func TestMaxUSN(t *testing.T) {
	s := createTestStore(t)
	sctx := testSchema(t)
	ctx := context.Background()

	usn, err := s.MaxUSN(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), usn)

	seedEntry(t, s, newEntry(t, sctx, "cn=a,dc=x", testAttr(t, sctx, "cn", testMeta(1), "a")), 7)
	seedEntry(t, s, newEntry(t, sctx, "cn=b,dc=x", testAttr(t, sctx, "cn", testMeta(1), "b")), 9)

	usn, err = s.MaxUSN(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), usn)
}
