package harness

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/inmemory"
	"github.com/roach88/recordsdb/internal/ontology"
)

// Harness runs one scenario on a fresh working copy.
type Harness struct {
	scenario *Scenario
	baseline document.Object
	wc       *inmemory.WorkingCopy
	logger   *slog.Logger
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result. The error is non-nil
// only when the scenario cannot be set up; failed expectations are
// reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	baseline, err := document.FromGo(scenario.Baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	obj, ok := baseline.(document.Object)
	if !ok {
		return nil, fmt.Errorf("baseline: expected object, got %s", document.TypeName(baseline))
	}
	h.baseline = obj.Clone()

	var wcOpts []inmemory.Option
	if scenario.Ontology != "" {
		onto, err := ontology.Load(scenario.Ontology)
		if err != nil {
			return nil, fmt.Errorf("ontology: %w", err)
		}
		wcOpts = append(wcOpts, inmemory.WithOntology(onto))
	}
	h.wc = inmemory.New(obj, wcOpts...)

	result := NewResult()
	for i, step := range scenario.Steps {
		trace, err := h.runStep(i, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		result.Steps = append(result.Steps, trace)
		if step.Expect != nil {
			for _, msg := range checkExpect(trace, step.Expect) {
				result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
			}
		}
	}

	diff, err := h.wc.Diff()
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	result.Final = diff.Object()

	for i, a := range scenario.Assertions {
		if err := h.evaluate(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	h.logger.Debug("scenario finished",
		"scenario", scenario.Name,
		"steps", len(result.Steps),
		"pass", result.Pass)
	return result, nil
}

func (h *Harness) runStep(index int, step Step) (StepTrace, error) {
	raw, err := nodeJSON(&step.Actions)
	if err != nil {
		return StepTrace{}, fmt.Errorf("actions: %w", err)
	}
	actionsValue, err := document.Parse(raw)
	if err != nil {
		return StepTrace{}, fmt.Errorf("actions: %w", err)
	}

	if step.Reset {
		h.wc.Reset()
	}
	trace := StepTrace{Index: index, Reset: step.Reset, Actions: actionsValue, Outcome: OutcomeOK}

	actions, err := dsl.ParseActions(raw)
	if err == nil {
		_, err = h.wc.Apply(actions)
	}
	if err != nil {
		code := dberr.CodeOf(err)
		if code == "" {
			return StepTrace{}, err
		}
		trace.Outcome = string(code)
		trace.Message = err.Error()
	}
	trace.Document = h.wc.Current()
	trace.UpdatedFields = h.wc.UpdatedFields()
	h.logger.Debug("step applied", "step", index, "outcome", trace.Outcome)
	return trace, nil
}

func checkExpect(trace StepTrace, want *Expect) []string {
	var errs []string
	wantOutcome := OutcomeOK
	if want.Error != "" {
		wantOutcome = want.Error
	}
	if trace.Outcome != wantOutcome {
		detail := ""
		if trace.Message != "" {
			detail = " (" + trace.Message + ")"
		}
		errs = append(errs, fmt.Sprintf("outcome = %s%s, want %s", trace.Outcome, detail, wantOutcome))
		return errs
	}
	if want.Document != nil {
		doc, err := document.FromGo(want.Document)
		if err != nil {
			return append(errs, fmt.Sprintf("expect.document: %v", err))
		}
		if !document.Equal(doc, trace.Document) {
			errs = append(errs, fmt.Sprintf("document = %s, want %s", render(trace.Document), render(doc)))
		}
	}
	if want.UpdatedFields != nil && !sameStrings(want.UpdatedFields, trace.UpdatedFields) {
		errs = append(errs, fmt.Sprintf("updated_fields = %v, want %v", trace.UpdatedFields, want.UpdatedFields))
	}
	return errs
}

func render(v document.Value) string {
	data, err := document.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
