package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recordsdb/internal/document"
)

// Snapshot renders a result as canonical JSON for golden comparison.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make(document.Array, len(result.Steps))
	for i, s := range result.Steps {
		steps[i] = s.Object()
	}
	return document.MarshalCanonical(document.Object{
		"scenario": document.String(name),
		"steps":    steps,
		"final":    result.Final,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
