package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mlorras/lightwave/internal/changeset"
)

func TestExport_ParentsFirst(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "r1.db")
	initTestReplica(t, db)
	_, err := runApplyJSON(t, "--db", db,
		writeTestFile(t, dir, "alice.yaml", aliceAdd),
		writeTestFile(t, dir, "group.yaml", groupAdd))
	require.NoError(t, err)

	out := filepath.Join(dir, "seed.yaml")
	text, err := execute(t, NewExportCommand(&RootOptions{Format: "text"}), "--db", db, "--partner", "srv-a", "-o", out)
	require.NoError(t, err)
	assert.Contains(t, text, "Exported 3 entries to "+out)

	f, err := changeset.Load(out)
	require.NoError(t, err)
	assert.Equal(t, "srv-a", f.Partner)
	require.Len(t, f.Changes, 3)
	assert.Equal(t, "dc=example", f.Changes[0].DN)
	assert.Equal(t, "cn=alice,dc=example", f.Changes[1].DN)
	assert.Equal(t, "cn=g,dc=example", f.Changes[2].DN)

	for _, c := range f.Changes {
		assert.Equal(t, "add", c.Op)
		for _, a := range c.Attrs {
			assert.Regexp(t, `^0:`, a.Meta, "local USN is cleared on %s", a.Type)
		}
	}
	assert.Equal(t, []string{"member:0:1:srv-b:srv-b:20240101000010.000:11:0:8:cn=alice"}, f.Changes[2].ValueMeta)
}

func TestExport_SeedsAnotherReplica(t *testing.T) {
	dir := t.TempDir()
	r1 := filepath.Join(dir, "r1.db")
	r2 := filepath.Join(dir, "r2.db")
	initTestReplica(t, r1)
	initTestReplica(t, r2)
	_, err := runApplyJSON(t, "--db", r1,
		writeTestFile(t, dir, "alice.yaml", aliceAdd),
		writeTestFile(t, dir, "group.yaml", groupAdd))
	require.NoError(t, err)

	seed := filepath.Join(dir, "seed.yaml")
	_, err = execute(t, NewExportCommand(&RootOptions{Format: "text"}), "--db", r1, "--partner", "srv-a", "-o", seed)
	require.NoError(t, err)

	// Both replicas already hold the root, so its add is a name collision.
	result, err := runApplyJSON(t, "--db", r2, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 1, result.Warnings)
	assert.Equal(t, "ALREADY_EXISTS", result.Files[0].Changes[0].Code)

	again := filepath.Join(dir, "again.yaml")
	_, err = execute(t, NewExportCommand(&RootOptions{Format: "text"}), "--db", r2, "--partner", "srv-a", "-o", again)
	require.NoError(t, err)

	want, err := os.ReadFile(seed)
	require.NoError(t, err)
	got, err := os.ReadFile(again)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestExport_Stdout(t *testing.T) {
	db := filepath.Join(t.TempDir(), "r1.db")
	initTestReplica(t, db)

	out, err := execute(t, NewExportCommand(&RootOptions{Format: "text"}), "--db", db, "--partner", "srv-a")
	require.NoError(t, err)

	f, err := changeset.Parse([]byte(out))
	require.NoError(t, err)
	require.Len(t, f.Changes, 1)
	assert.Equal(t, "dc=example", f.Changes[0].DN)
}

func TestExport_RequiresPartner(t *testing.T) {
	db := filepath.Join(t.TempDir(), "r1.db")
	initTestReplica(t, db)

	_, err := execute(t, NewExportCommand(&RootOptions{Format: "text"}), "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"partner" not set`)
}
