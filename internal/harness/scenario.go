package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a convergence scenario.
// A scenario names a set of replicas of one list, drives them through local
// operations and explicit network deliveries, then asserts on the documents
// each replica ends up with.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ListID is the list every replica serves. Defaults to "list-1".
	ListID string `yaml:"list_id,omitempty"`

	// ListName seeds every replica's list name at timestamp 0.
	ListName string `yaml:"list_name,omitempty"`

	// Replicas lists the actor ids of the participating replicas.
	Replicas []string `yaml:"replicas"`

	// Steps run in order. Nothing reaches another replica unless a step
	// delivers it.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final documents.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one local operation or one network delivery.
//
// Local operations (upsert, toggle, remove, rename) run on Replica and carry
// their own timestamp so scenarios can model clock skew. Deliveries (deliver,
// redeliver, sync) move traffic From one replica To another.
type Step struct {
	Do      string `yaml:"do"`
	Replica string `yaml:"replica,omitempty"`
	From    string `yaml:"from,omitempty"`
	To      string `yaml:"to,omitempty"`

	// OpID defaults to "<replica>-<step number>".
	OpID    string `yaml:"op_id,omitempty"`
	ID      string `yaml:"id,omitempty"`
	Text    string `yaml:"text,omitempty"`
	Checked bool   `yaml:"checked,omitempty"`
	Name    string `yaml:"name,omitempty"`
	TS      int64  `yaml:"ts,omitempty"`
}

// Step kinds.
const (
	StepUpsert = "upsert"
	StepToggle = "toggle"
	StepRemove = "remove"
	StepRename = "rename"

	// StepDeliver hands every op From has emitted and To has not yet seen
	// over the link to To.
	StepDeliver = "deliver"

	// StepRedeliver hands every op From has ever emitted to To again,
	// modeling a duplicating transport.
	StepRedeliver = "redeliver"

	// StepSync merges a full snapshot of From into To.
	StepSync = "sync"
)

func (s Step) isLocal() bool {
	switch s.Do {
	case StepUpsert, StepToggle, StepRemove, StepRename:
		return true
	}
	return false
}

// Assertion validates one replica's final document, or all of them.
type Assertion struct {
	// Type specifies the assertion type:
	// - "item": item ID on Replica matches Expect (subset match)
	// - "absent": item ID is not live on Replica
	// - "tombstone": Replica holds a tombstone for ID at exactly TS
	// - "list_name": Replica's list name equals Name
	// - "converged": every replica holds the same document
	// - "duplicates": Replica's gate dropped exactly Count inbound ops
	Type    string `yaml:"type"`
	Replica string `yaml:"replica,omitempty"`
	ID      string `yaml:"id,omitempty"`

	// Expect keys: text, checked, updated_at, updated_by.
	Expect map[string]any `yaml:"expect,omitempty"`

	Name  string `yaml:"name,omitempty"`
	TS    int64  `yaml:"ts,omitempty"`
	Count *int   `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertItem       = "item"
	AssertAbsent     = "absent"
	AssertTombstone  = "tombstone"
	AssertListName   = "list_name"
	AssertConverged  = "converged"
	AssertDuplicates = "duplicates"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.ListID == "" {
		scenario.ListID = "list-1"
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
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	for i, r := range s.Replicas {
		if r == "" {
			return fmt.Errorf("replicas[%d]: empty replica id", i)
		}
		if slices.Index(s.Replicas, r) != i {
			return fmt.Errorf("replicas[%d]: duplicate replica %q", i, r)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	known := func(id string) bool { return slices.Contains(s.Replicas, id) }

	for i, step := range s.Steps {
		if err := validateStep(i, step, known); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, known); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step, known func(string) bool) error {
	switch s.Do {
	case StepUpsert, StepToggle, StepRemove:
		if s.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", index, s.Do)
		}
	case StepRename:
		if s.Name == "" {
			return fmt.Errorf("steps[%d]: name is required for rename", index)
		}
	case StepDeliver, StepRedeliver, StepSync:
		if !known(s.From) || !known(s.To) {
			return fmt.Errorf("steps[%d]: %s needs known from and to replicas (got %q, %q)", index, s.Do, s.From, s.To)
		}
		if s.From == s.To {
			return fmt.Errorf("steps[%d]: %s from a replica to itself", index, s.Do)
		}
		return nil
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", index, s.Do)
	}

	if !known(s.Replica) {
		return fmt.Errorf("steps[%d]: unknown replica %q", index, s.Replica)
	}
	if s.TS <= 0 {
		return fmt.Errorf("steps[%d]: ts must be positive", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, known func(string) bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Type == AssertConverged {
		return nil
	}
	if !known(a.Replica) {
		return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
	}

	switch a.Type {
	case AssertItem:
		if a.ID == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: id and expect are required for item", index)
		}
		for key := range a.Expect {
			if !slices.Contains(itemFields, key) {
				return fmt.Errorf("assertions[%d]: unknown item field %q", index, key)
			}
		}
	case AssertAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for absent", index)
		}
	case AssertTombstone:
		if a.ID == "" || a.TS <= 0 {
			return fmt.Errorf("assertions[%d]: id and ts are required for tombstone", index)
		}
	case AssertListName:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for list_name", index)
		}
	case AssertDuplicates:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for duplicates", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
