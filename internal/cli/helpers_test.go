package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/Mlorras/lightwave/internal/testutil"
)

const testDomain = "dc=example"

// initTestReplica creates a replica database with deterministic root GUID
// and originating time.
func initTestReplica(t *testing.T, path string) {
	t.Helper()

	opts := &InitOptions{
		RootOptions: &RootOptions{Format: "text"},
		Database:    path,
		Domain:      testDomain,
		ServerID:    "srv-a",
		newGUID:     testutil.NewGUIDGenerator("").Generate,
		now:         testutil.NewDeterministicClock().Now,
	}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, runInit(context.Background(), opts, cmd))
}

// execute runs a command built from rootOpts and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const aliceAdd = `partner: srv-b
changes:
  - op: add
    dn: cn=alice,dc=example
    partner_usn: 10
    attrs:
      - type: objectGUID
        meta: "0:1:srv-b:20240101000010.000:10"
        vals: [guid-alice]
      - type: objectClass
        meta: "0:1:srv-b:20240101000010.000:10"
        vals: [person]
      - type: cn
        meta: "0:1:srv-b:20240101000010.000:10"
        vals: [alice]
      - type: description
        meta: "0:1:srv-b:20240101000010.000:10"
        vals: [first]
      - type: userPassword
        meta: "0:1:srv-b:20240101000010.000:10"
        vals: [s3cret]
`
