package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
	"github.com/Mlorras/lightwave/internal/testutil"
)

func TestInit_CreatesRootEntry(t *testing.T) {
	db := filepath.Join(t.TempDir(), "r1.db")
	initTestReplica(t, db)

	out, err := execute(t, NewShowCommand(&RootOptions{Format: "json"}), "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []ShowEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)

	root := resp.Data[0]
	assert.Equal(t, testDomain, root.DN)
	guid := testutil.NewGUIDGenerator("").Generate()
	byType := map[string]ShowAttr{}
	for _, a := range root.Attrs {
		byType[a.Type] = a
	}
	assert.Equal(t, []string{guid}, byType["objectGUID"].Vals)
	assert.Equal(t, []string{"top", "domain"}, byType["objectClass"].Vals)
	assert.Equal(t, []string{"example"}, byType["dc"].Vals)
	assert.Contains(t, byType["dc"].Meta, ":1:srv-a:20240101000001.000:1")
}

func TestInit_TextOutput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "r1.db")
	opts := &InitOptions{
		RootOptions: &RootOptions{Format: "text"},
		Database:    db,
		Domain:      "dc=example,dc=com",
		ServerID:    "srv-a",
		newGUID:     func() string { return "guid-root" },
		now:         func() time.Time { return testutil.Epoch },
	}
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	require.NoError(t, runInit(context.Background(), opts, cmd))
	assert.Contains(t, buf.String(), "Created "+db)
	assert.Contains(t, buf.String(), "root: dc=example,dc=com")
	assert.Contains(t, buf.String(), "objectGUID: guid-root")
}

func TestInit_Errors(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.db")
	initTestReplica(t, existing)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"existing database", []string{"--db", existing, "--domain", testDomain}, "database already exists"},
		{"not a domain root", []string{"--db", filepath.Join(dir, "a.db"), "--domain", "cn=users,dc=example"}, "not a domain root"},
		{"server id with colon", []string{"--db", filepath.Join(dir, "b.db"), "--domain", testDomain, "--server-id", "srv:a"}, "invalid server id"},
		{"empty server id", []string{"--db", filepath.Join(dir, "c.db"), "--domain", testDomain, "--server-id", ""}, "invalid server id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewInitCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestRootRecord(t *testing.T) {
	rec, err := rootRecord("DC=Example, DC=com", "guid-root", "srv-a", testutil.Epoch)
	require.NoError(t, err)

	assert.Equal(t, dirent.ChangeAdd, rec.Kind)
	assert.Equal(t, "srv-a", rec.Partner)
	assert.Equal(t, uint64(1), rec.PartnerUSN)

	reg, err := schema.Default()
	require.NoError(t, err)
	e, err := dirent.DecodeEntry(rec.Payload, reg.Acquire())
	require.NoError(t, err)
	assert.Equal(t, 3, e.Attrs.Len())

	dc, ok := e.FirstValue("dc")
	require.True(t, ok)
	assert.Equal(t, "Example", dc)

	guid, ok := e.Attrs.Get(dirent.AttrObjectGUID)
	require.True(t, ok)
	require.NotNil(t, guid.Meta)
	assert.Equal(t, "0:1:srv-a:20240101000000.000:1", guid.Meta.String())
}
