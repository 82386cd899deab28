package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mlorras/lightwave/internal/dirent"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_TraceCoversEveryDelivery(t *testing.T) {
	scenario := loadTestScenario(t, "value_conflict")

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	require.Len(t, result.Trace, 9)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "modify", ev.Op)
		assert.Equal(t, "cn=g,dc=example", ev.DN)
	}
	assert.Equal(t, "r3", result.Trace[8].Replica)
	assert.Equal(t, "add-bob", result.Trace[8].Change)
}

func TestRun_WarningsAreRecorded(t *testing.T) {
	scenario := loadTestScenario(t, "name_collision")

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.Len(t, result.Trace, 3)

	assert.Equal(t, "warning", result.Trace[0].Outcome)
	assert.Equal(t, "ALREADY_EXISTS", result.Trace[0].Code)
	assert.Equal(t, "applied", result.Trace[1].Outcome)
	assert.Equal(t, 2, result.Trace[1].Mods)
	assert.Equal(t, "NO_SUCH_OBJECT", result.Trace[2].Code)
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	scenario := loadTestScenario(t, "attribute_conflict")
	scenario.Assertions = append(scenario.Assertions,
		Assertion{Type: AssertValues, DN: "cn=alice,dc=example", Attr: "description", Values: []string{"from-a"}},
		Assertion{Type: AssertOutcome, Replica: "r1", Change: "a", Outcome: "noop"},
	)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	// The values assertion fails once per replica.
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "assertions[3]")
	assert.Contains(t, result.Errors[2], "assertions[4]")
	assert.Contains(t, result.Errors[2], "Actual: applied")
}

func TestRun_ReportsDivergence(t *testing.T) {
	// Two replicas that see different change sets must be reported as not
	// converged.
	scenario := loadTestScenario(t, "attribute_conflict")
	scenario.Replicas[1].Order = []string{"a"}
	scenario.Assertions = []Assertion{{Type: AssertConverged}}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "cn=alice,dc=example differs")
}

func TestRun_SeedFailureIsAnError(t *testing.T) {
	scenario := loadTestScenario(t, "attribute_conflict")
	scenario.Seed = append(scenario.Seed, scenario.Seed[0])

	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed[1]")
	assert.Contains(t, err.Error(), "ALREADY_EXISTS")
}

func TestRun_ExtendedSchema(t *testing.T) {
	dir := t.TempDir()
	cue := "attributes: favouriteColour: {id: 100, single: true}\n"
	content := `
name: extended_schema
description: "Deployment attributes take part in resolution"
schema: colours.cue
seed:
  - op: add
    dn: cn=alice,dc=example
    attrs:
      - type: favouriteColour
        meta: "0:1:srv-a:20240101000000.000:1"
        vals: [blue]
changes:
  - id: red
    op: modify
    dn: cn=alice,dc=example
    attrs:
      - type: favouriteColour
        meta: "0:2:srv-a:20240101000001.000:2"
        vals: [red]
replicas:
  - name: r1
    order: [red]
assertions:
  - type: values
    dn: cn=alice,dc=example
    attr: favouriteColour
    values: [red]
`
	require.NoError(t, writeFile(filepath.Join(dir, "colours.cue"), cue))
	scenario, err := LoadScenario(writeScenario(t, dir, content))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_DropsLocalUSN(t *testing.T) {
	scenario := loadTestScenario(t, "delete_modify")

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	tomb, ok := result.Find("r1", dirent.NormalizeDN("cn=alice#guid-alice,cn=Deleted Objects,dc=example"))
	require.True(t, ok)
	assert.True(t, tomb.Deleted)
	for _, a := range tomb.Attrs {
		assert.Regexp(t, `^0:`, a.Meta, a.Type)
		if a.Type == "description" {
			assert.Nil(t, a.Vals)
			assert.Equal(t, "0:2:srv-b:20240101000050.000:9", a.Meta)
		}
	}
}
