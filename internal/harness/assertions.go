package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/recordsdb/internal/document"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func (h *Harness) evaluate(a Assertion, result *Result) error {
	current := h.wc.Current()
	switch a.Type {
	case AssertBaselineUnchanged:
		if !document.Equal(h.baseline, h.wc.Baseline()) {
			return &AssertionError{Type: a.Type, Expected: render(h.baseline), Actual: render(h.wc.Baseline())}
		}
	case AssertFieldEquals:
		want, err := document.FromGo(a.Value)
		if err != nil {
			return fmt.Errorf("%s: value: %w", a.Type, err)
		}
		got, ok := document.Lookup(current, a.Path)
		if !ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s = %s", a.Path, render(want)), Actual: "absent"}
		}
		if !document.Equal(got, want) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s = %s", a.Path, render(want)), Actual: render(got)}
		}
	case AssertFieldAbsent:
		if got, ok := document.Lookup(current, a.Path); ok {
			return &AssertionError{Type: a.Type, Expected: a.Path + " absent", Actual: render(got)}
		}
	case AssertUpdatedFields:
		got := h.wc.UpdatedFields()
		if !sameStrings(a.Fields, got) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Fields), Actual: fmt.Sprint(got)}
		}
	case AssertStepCount:
		want := OutcomeOK
		if a.Code != "" {
			want = a.Code
		}
		n := 0
		for _, s := range result.Steps {
			if s.Outcome == want {
				n++
			}
		}
		if n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d steps %s", a.Count, want), Actual: fmt.Sprint(n)}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// sameStrings compares as sets.
func sameStrings(a, b []string) bool {
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}
