package harness

import (
	"github.com/roach88/recordsdb/internal/document"
)

// Outcome of a step that succeeded.
const OutcomeOK = "ok"

// StepTrace records one executed step.
type StepTrace struct {
	Index   int
	Reset   bool
	Actions document.Value

	// Outcome is OutcomeOK or the error code.
	Outcome string

	// Message is the error text of a failed step.
	Message string

	// Document and UpdatedFields are the working-copy state after the step.
	Document      document.Object
	UpdatedFields []string
}

// Object renders the step for golden comparison.
func (s StepTrace) Object() document.Object {
	obj := document.Object{
		"step":           document.Int(s.Index),
		"actions":        s.Actions,
		"outcome":        document.String(s.Outcome),
		"document":       s.Document,
		"updated_fields": stringArray(s.UpdatedFields),
	}
	if s.Reset {
		obj["reset"] = document.Bool(true)
	}
	return obj
}

func stringArray(ss []string) document.Array {
	arr := make(document.Array, len(ss))
	for i, s := range ss {
		arr[i] = document.String(s)
	}
	return arr
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool

	Steps []StepTrace

	// Errors holds one message per failed expectation or assertion.
	Errors []string

	// Final is the diff of the working copy after the last step.
	Final document.Object
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
