package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recordsdb/internal/dberr"
)

// Scenario defines a diff-engine conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Ontology is an optional CUE ontology path, resolved against the
	// scenario file's directory.
	Ontology string `yaml:"ontology,omitempty"`

	// Baseline is the starting document.
	Baseline map[string]interface{} `yaml:"baseline"`

	// Steps apply action lists in order to one working copy.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step applies one action list.
type Step struct {
	// Reset returns the working copy to the baseline before applying.
	Reset bool `yaml:"reset,omitempty"`

	// Actions is the action list in wire format. It is kept as a node so
	// operator and field order survive decoding.
	Actions yaml.Node `yaml:"actions"`

	// Expect checks the step outcome. Nil checks nothing.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies a step outcome.
type Expect struct {
	// Document is the exact expected document after the step.
	Document map[string]interface{} `yaml:"document,omitempty"`

	// UpdatedFields is the expected updated-field set after the step.
	UpdatedFields []string `yaml:"updated_fields,omitempty"`

	// Error is the expected error code. Empty expects success.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	Type   string      `yaml:"type"`
	Path   string      `yaml:"path,omitempty"`
	Value  interface{} `yaml:"value,omitempty"`
	Fields []string    `yaml:"fields,omitempty"`
	Code   string      `yaml:"code,omitempty"`
	Count  int         `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertBaselineUnchanged = "baseline_unchanged"
	AssertFieldEquals       = "field_equals"
	AssertFieldAbsent       = "field_absent"
	AssertUpdatedFields     = "updated_fields"
	AssertStepCount         = "step_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and the ontology path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Ontology != "" && !filepath.IsAbs(scenario.Ontology) {
		scenario.Ontology = filepath.Join(filepath.Dir(path), scenario.Ontology)
	}
	if scenario.Ontology != "" {
		if _, err := os.Stat(scenario.Ontology); err != nil {
			return nil, fmt.Errorf("invalid scenario: ontology not found: %s", scenario.Ontology)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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
	if s.Baseline == nil {
		return fmt.Errorf("baseline is required (use {} for an empty document)")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Actions.Kind != yaml.SequenceNode {
			return fmt.Errorf("steps[%d]: actions must be a list", i)
		}
		if step.Expect != nil && step.Expect.Error != "" {
			if !knownCode(step.Expect.Error) {
				return fmt.Errorf("steps[%d].expect: unknown error code %q", i, step.Expect.Error)
			}
			if step.Expect.Document != nil || step.Expect.UpdatedFields != nil {
				return fmt.Errorf("steps[%d].expect: error excludes document and updated_fields", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertBaselineUnchanged:
	case AssertFieldEquals, AssertFieldAbsent:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	case AssertUpdatedFields:
		if a.Fields == nil {
			return fmt.Errorf("assertions[%d]: fields is required for updated_fields", index)
		}
	case AssertStepCount:
		if a.Code != "" && !knownCode(a.Code) {
			return fmt.Errorf("assertions[%d]: unknown error code %q", index, a.Code)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for step_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownCode(code string) bool {
	switch dberr.Code(code) {
	case dberr.CodeInvalidQuery, dberr.CodeQueryTooDeep, dberr.CodeUnsupportedQuery,
		dberr.CodeTypeMismatch, dberr.CodeFieldNotFound, dberr.CodeDuplicateKey,
		dberr.CodeDatabaseUnavailable, dberr.CodeDatabaseProtocol:
		return true
	}
	return false
}

// nodeJSON renders a YAML node as JSON, keeping mapping order.
func nodeJSON(n *yaml.Node) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := writeNodeJSON(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNodeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNodeJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return writeNodeJSON(buf, n.Alias)
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, child := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNodeJSON(buf, child); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeNodeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.ScalarNode:
		var v interface{}
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(data)
		return nil
	}
	return fmt.Errorf("line %d: unsupported YAML node", n.Line)
}
