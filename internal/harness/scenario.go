package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Mlorras/lightwave/internal/changeset"
	"github.com/Mlorras/lightwave/internal/dirent"
)

// Scenario defines a convergence scenario.
// Every replica starts from the same seed, receives the same set of changes
// in its own order, and the resulting states are checked by assertions.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is an optional CUE schema file extending the core attribute
	// types. Relative paths are resolved against the scenario file.
	Schema string `yaml:"schema,omitempty"`

	// Seed contains changes applied to every replica, in order, before any
	// replica-specific delivery. Seed changes must apply cleanly.
	Seed []changeset.Change `yaml:"seed,omitempty"`

	// Changes are the concurrent changes under test, referenced by ID.
	Changes []Change `yaml:"changes"`

	// Replicas lists the replicas and the order each receives Changes in.
	Replicas []Replica `yaml:"replicas"`

	// Assertions validate outcomes and final state.
	// Supported types: converged, values, absent, tombstone, outcome
	Assertions []Assertion `yaml:"assertions"`
}

// Change is one change under test.
type Change struct {
	// ID names the change in replica orders and assertions.
	ID string `yaml:"id"`

	// Partner is the supplying replica. Defaults to "partner".
	Partner string `yaml:"partner,omitempty"`

	changeset.Change `yaml:",inline"`
}

// Replica is one simulated replica.
type Replica struct {
	Name string `yaml:"name"`

	// Order lists change IDs in delivery order. A change may be delivered
	// more than once.
	Order []string `yaml:"order"`

	// Workers, when positive, delivers Order as one batch with that many
	// workers instead of one change at a time.
	Workers int `yaml:"workers,omitempty"`
}

// Assertion validates outcomes or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "converged": all replicas (or Replicas) hold identical state
	// - "values": DN's Attr has exactly Values on each replica
	// - "absent": no live or tombstone entry named DN exists
	// - "tombstone": DN names a deleted object
	// - "outcome": Change delivered to Replica ended with Outcome
	Type string `yaml:"type"`

	// Replica restricts the assertion to one replica (values, absent,
	// tombstone) or names the replica (outcome).
	Replica string `yaml:"replica,omitempty"`

	// Replicas restricts converged to a subset.
	Replicas []string `yaml:"replicas,omitempty"`

	DN     string   `yaml:"dn,omitempty"`
	Attr   string   `yaml:"attr,omitempty"`
	Values []string `yaml:"values,omitempty"`

	// Change is the change ID (outcome).
	Change string `yaml:"change,omitempty"`

	// Outcome is "applied", "noop", "warning" or an error code such as
	// "MALFORMED_METADATA" (outcome). A warning code also matches.
	Outcome string `yaml:"outcome,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged = "converged"
	AssertValues    = "values"
	AssertAbsent    = "absent"
	AssertTombstone = "tombstone"
	AssertOutcome   = "outcome"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative schema path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Changes) == 0 {
		return fmt.Errorf("changes list is required and must be non-empty")
	}

	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Schema != "" {
		if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
			return fmt.Errorf("schema file not found: %s", s.Schema)
		}
	}

	for i, c := range s.Seed {
		if err := validateChange(c); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	ids := make(map[string]bool, len(s.Changes))
	for i, c := range s.Changes {
		if c.ID == "" {
			return fmt.Errorf("changes[%d]: id is required", i)
		}
		if ids[c.ID] {
			return fmt.Errorf("changes[%d]: duplicate id %q", i, c.ID)
		}
		ids[c.ID] = true
		if err := validateChange(c.Change); err != nil {
			return fmt.Errorf("changes[%d]: %w", i, err)
		}
	}

	replicas := make(map[string]bool, len(s.Replicas))
	for i, r := range s.Replicas {
		if r.Name == "" {
			return fmt.Errorf("replicas[%d]: name is required", i)
		}
		if replicas[r.Name] {
			return fmt.Errorf("replicas[%d]: duplicate name %q", i, r.Name)
		}
		replicas[r.Name] = true
		for _, id := range r.Order {
			if !ids[id] {
				return fmt.Errorf("replicas[%d]: unknown change %q", i, id)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], ids, replicas); err != nil {
			return err
		}
	}

	return nil
}

func validateChange(c changeset.Change) error {
	if _, err := dirent.ParseChangeKind(c.Op); err != nil {
		return err
	}
	if c.DN == "" {
		return fmt.Errorf("dn is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, changes, replicas map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Replica != "" && !replicas[a.Replica] {
		return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
	}

	switch a.Type {
	case AssertConverged:
		for _, r := range a.Replicas {
			if !replicas[r] {
				return fmt.Errorf("assertions[%d]: unknown replica %q", index, r)
			}
		}
	case AssertValues:
		if a.DN == "" || a.Attr == "" {
			return fmt.Errorf("assertions[%d]: dn and attr are required for values", index)
		}
	case AssertAbsent, AssertTombstone:
		if a.DN == "" {
			return fmt.Errorf("assertions[%d]: dn is required for %s", index, a.Type)
		}
	case AssertOutcome:
		if a.Replica == "" || a.Change == "" || a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: replica, change and outcome are required for outcome", index)
		}
		if !changes[a.Change] {
			return fmt.Errorf("assertions[%d]: unknown change %q", index, a.Change)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
