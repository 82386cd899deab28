package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSchema(t *testing.T) *schema.Context {
	t.Helper()
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("schema.Default() failed: %v", err)
	}
	return reg.Acquire()
}

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testMeta(version uint64) *dirent.AttrMetadata {
	return &dirent.AttrMetadata{Version: version, OrigServerID: "srv-a", OrigTime: testTime, OrigUSN: version}
}

// testAttr builds an attribute with its descriptor resolved.
func testAttr(t *testing.T, sctx *schema.Context, name string, meta *dirent.AttrMetadata, vals ...string) *dirent.Attribute {
	t.Helper()
	d, err := sctx.Descriptor(name)
	if err != nil {
		t.Fatalf("Descriptor(%s): %v", name, err)
	}
	a := &dirent.Attribute{Type: d.Name, Desc: d, Meta: meta}
	for _, v := range vals {
		a.Values = append(a.Values, []byte(v))
	}
	return a
}

// seedEntry adds an entry in its own transaction.
func seedEntry(t *testing.T, s *Store, e *dirent.Entry, usn uint64) {
	t.Helper()
	ctx := context.Background()
	txn, err := s.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	defer txn.Abort()
	if err := txn.Add(ctx, e, usn); err != nil {
		t.Fatalf("Add(%s): %v", e.DN, err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func newEntry(t *testing.T, sctx *schema.Context, dn string, attrs ...*dirent.Attribute) *dirent.Entry {
	t.Helper()
	e := &dirent.Entry{DN: dn, Schema: sctx}
	for _, a := range attrs {
		e.Attrs.Put(a)
	}
	return e
}
