package inmemory

import (
	"sort"

	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/ontology"
)

// WorkingCopy is a caller-owned, resettable copy of a document.
// It is not safe for concurrent use; create one per goroutine.
type WorkingCopy struct {
	baseline document.Object
	current  document.Object
	updated  map[string]struct{}
	onto     *ontology.Ontology
}

// Option configures a WorkingCopy.
type Option func(*WorkingCopy)

// WithOntology normalizes $set values on array fields into arrays.
func WithOntology(o *ontology.Ontology) Option {
	return func(w *WorkingCopy) {
		w.onto = o
	}
}

// New creates a working copy of baseline. The caller's object is cloned and
// never modified.
func New(baseline document.Object, opts ...Option) *WorkingCopy {
	if baseline == nil {
		baseline = document.Object{}
	}
	w := &WorkingCopy{
		baseline: baseline.Clone(),
		updated:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current = w.baseline.Clone()
	return w
}

// Apply runs actions in order on the current version. On error the current
// version and the updated-field set are left as they were before the call.
func (w *WorkingCopy) Apply(actions []dsl.Action) (document.Object, error) {
	if err := dsl.ValidateActions(actions); err != nil {
		return nil, err
	}
	m := &mutation{
		doc:     w.current.Clone(),
		updated: make(map[string]struct{}),
		onto:    w.onto,
	}
	for _, a := range actions {
		if err := m.apply(a); err != nil {
			return nil, err
		}
	}
	w.current = m.doc
	for f := range m.updated {
		w.updated[f] = struct{}{}
	}
	return w.Current(), nil
}

// Reset discards every applied action.
func (w *WorkingCopy) Reset() {
	w.current = w.baseline.Clone()
	w.updated = make(map[string]struct{})
}

// Current returns a copy of the current version.
func (w *WorkingCopy) Current() document.Object {
	return w.current.Clone()
}

// Baseline returns a copy of the original document.
func (w *WorkingCopy) Baseline() document.Object {
	return w.baseline.Clone()
}

// UpdatedFields lists the paths changed since the last reset, sorted.
func (w *WorkingCopy) UpdatedFields() []string {
	out := make([]string, 0, len(w.updated))
	for f := range w.updated {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Change is the before and after value of one updated path. A nil side
// means the path was absent.
type Change struct {
	Path   string
	Before document.Value
	After  document.Value
}

// Object renders the change, omitting absent sides.
func (c Change) Object() document.Object {
	obj := document.Object{"path": document.String(c.Path)}
	if c.Before != nil {
		obj["before"] = c.Before
	}
	if c.After != nil {
		obj["after"] = c.After
	}
	return obj
}

// Changes lists updated paths whose value differs from the baseline.
func (w *WorkingCopy) Changes() []Change {
	var out []Change
	for _, path := range w.UpdatedFields() {
		before, hadBefore := document.Lookup(w.baseline, path)
		after, hasAfter := document.Lookup(w.current, path)
		if hadBefore && hasAfter && document.Equal(before, after) {
			continue
		}
		if !hadBefore && !hasAfter {
			continue
		}
		c := Change{Path: path}
		if hadBefore {
			c.Before = document.Clone(before)
		}
		if hasAfter {
			c.After = document.Clone(after)
		}
		out = append(out, c)
	}
	return out
}

// Diff is the audit record of a working copy.
type Diff struct {
	Before        document.Object
	After         document.Object
	UpdatedFields []string
	Changes       []Change
	BeforeHash    string
	AfterHash     string
}

// Diff summarizes the working copy against its baseline.
func (w *WorkingCopy) Diff() (*Diff, error) {
	beforeHash, err := document.Hash(w.baseline)
	if err != nil {
		return nil, err
	}
	afterHash, err := document.Hash(w.current)
	if err != nil {
		return nil, err
	}
	return &Diff{
		Before:        w.Baseline(),
		After:         w.Current(),
		UpdatedFields: w.UpdatedFields(),
		Changes:       w.Changes(),
		BeforeHash:    beforeHash,
		AfterHash:     afterHash,
	}, nil
}

// Object renders the diff with snake_case keys.
func (d *Diff) Object() document.Object {
	fields := make(document.Array, len(d.UpdatedFields))
	for i, f := range d.UpdatedFields {
		fields[i] = document.String(f)
	}
	changes := make(document.Array, len(d.Changes))
	for i, c := range d.Changes {
		changes[i] = c.Object()
	}
	return document.Object{
		"before":         d.Before,
		"after":          d.After,
		"updated_fields": fields,
		"changes":        changes,
		"before_hash":    document.String(d.BeforeHash),
		"after_hash":     document.String(d.AfterHash),
	}
}

// Simulate applies actions to baseline and returns the diff.
func Simulate(baseline document.Object, actions []dsl.Action, opts ...Option) (*Diff, error) {
	w := New(baseline, opts...)
	if _, err := w.Apply(actions); err != nil {
		return nil, err
	}
	return w.Diff()
}
