package inmemory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/ontology"
)

func obj(t *testing.T, s string) document.Object {
	t.Helper()
	o, err := document.ParseObject([]byte(s))
	require.NoError(t, err)
	return o
}

func canon(v document.Value) string {
	return string(document.MustMarshalCanonical(v))
}

func actions(a ...dsl.Action) []dsl.Action { return a }

func TestApplyIncLeavesBaseline(t *testing.T) {
	baseline := obj(t, `{"numberTen":10}`)
	w := New(baseline)

	got, err := w.Apply(actions(dsl.IncBy("numberTen", 2)))
	require.NoError(t, err)

	assert.Equal(t, `{"numberTen":12}`, canon(got))
	assert.Equal(t, `{"numberTen":10}`, canon(w.Baseline()))
	assert.Equal(t, `{"numberTen":10}`, canon(baseline))
}

func TestApplyPopFront(t *testing.T) {
	w := New(obj(t, `{"arrayToPop":["a","b","c"]}`))

	got, err := w.Apply(actions(dsl.PopN("arrayToPop", -1)))
	require.NoError(t, err)
	assert.Equal(t, `{"arrayToPop":["b","c"]}`, canon(got))
}

func TestOperators(t *testing.T) {
	tests := []struct {
		name     string
		baseline string
		actions  []dsl.Action
		want     string
		updated  []string
	}{
		{
			name:     "set nested creates intermediates",
			baseline: `{}`,
			actions:  actions(dsl.SetValue("a.b.c", "x")),
			want:     `{"a":{"b":{"c":"x"}}}`,
			updated:  []string{"a.b.c"},
		},
		{
			name:     "set array element",
			baseline: `{"a":[1,2]}`,
			actions:  actions(dsl.SetValue("a.1", 5)),
			want:     `{"a":[1,5]}`,
			updated:  []string{"a.1"},
		},
		{
			name:     "unset",
			baseline: `{"a":1,"b":{"c":2,"d":3}}`,
			actions:  actions(dsl.UnsetFields("a", "b.c")),
			want:     `{"b":{"d":3}}`,
			updated:  []string{"a", "b.c"},
		},
		{
			name:     "unset missing intermediate",
			baseline: `{"a":{}}`,
			actions:  actions(dsl.UnsetFields("a.b.c")),
			want:     `{"a":{}}`,
			updated:  []string{},
		},
		{
			name:     "unset array element",
			baseline: `{"a":[1,2,3]}`,
			actions:  actions(dsl.UnsetFields("a.1")),
			want:     `{"a":[1,null,3]}`,
			updated:  []string{"a.1"},
		},
		{
			name:     "inc float",
			baseline: `{"n":1}`,
			actions:  actions(dsl.IncBy("n", 0.5)),
			want:     `{"n":1.5}`,
			updated:  []string{"n"},
		},
		{
			name:     "min lowers",
			baseline: `{"n":5}`,
			actions:  actions(dsl.MinOf("n", 3)),
			want:     `{"n":3}`,
			updated:  []string{"n"},
		},
		{
			name:     "min already satisfied",
			baseline: `{"n":5}`,
			actions:  actions(dsl.MinOf("n", 7)),
			want:     `{"n":5}`,
			updated:  []string{},
		},
		{
			name:     "max raises",
			baseline: `{"n":5}`,
			actions:  actions(dsl.MaxOf("n", 7.5)),
			want:     `{"n":7.5}`,
			updated:  []string{"n"},
		},
		{
			name:     "max already satisfied",
			baseline: `{"n":5}`,
			actions:  actions(dsl.MaxOf("n", 5)),
			want:     `{"n":5}`,
			updated:  []string{},
		},
		{
			name:     "add to null",
			baseline: `{"tags":null}`,
			actions:  actions(dsl.AddEach("tags", "a", "a")),
			want:     `{"tags":["a"]}`,
			updated:  []string{"tags"},
		},
		{
			name:     "add to absent",
			baseline: `{}`,
			actions:  actions(dsl.AddEach("tags", "a")),
			want:     `{"tags":["a"]}`,
			updated:  []string{"tags"},
		},
		{
			name:     "add present value",
			baseline: `{"tags":["a",1]}`,
			actions:  actions(dsl.AddEach("tags", "a", 1.0)),
			want:     `{"tags":["a",1]}`,
			updated:  []string{},
		},
		{
			name:     "push keeps duplicates",
			baseline: `{"tags":null}`,
			actions:  actions(dsl.PushEach("tags", "v1", "v1")),
			want:     `{"tags":["v1","v1"]}`,
			updated:  []string{"tags"},
		},
		{
			name:     "pull",
			baseline: `{"tags":["a","b","a","c"]}`,
			actions:  actions(dsl.PullEach("tags", "a", "c")),
			want:     `{"tags":["b"]}`,
			updated:  []string{"tags"},
		},
		{
			name:     "pull no match",
			baseline: `{"tags":["a"]}`,
			actions:  actions(dsl.PullEach("tags", "z")),
			want:     `{"tags":["a"]}`,
			updated:  []string{},
		},
		{
			name:     "pull absent",
			baseline: `{}`,
			actions:  actions(dsl.PullEach("tags", "z")),
			want:     `{}`,
			updated:  []string{},
		},
		{
			name:     "pop back",
			baseline: `{"a":[1,2,3]}`,
			actions:  actions(dsl.PopN("a", 1)),
			want:     `{"a":[1,2]}`,
			updated:  []string{"a"},
		},
		{
			name:     "pop several from front",
			baseline: `{"a":[1,2,3,4]}`,
			actions:  actions(dsl.PopN("a", -3)),
			want:     `{"a":[4]}`,
			updated:  []string{"a"},
		},
		{
			name:     "pop beyond length",
			baseline: `{"a":[1,2]}`,
			actions:  actions(dsl.PopN("a", 5)),
			want:     `{"a":[]}`,
			updated:  []string{"a"},
		},
		{
			name:     "pop empty",
			baseline: `{"a":[]}`,
			actions:  actions(dsl.PopN("a", -1)),
			want:     `{"a":[]}`,
			updated:  []string{},
		},
		{
			name:     "rename into new nested path",
			baseline: `{"old":"v","keep":1}`,
			actions:  actions(dsl.RenameField("old", "x.y.z")),
			want:     `{"keep":1,"x":{"y":{"z":"v"}}}`,
			updated:  []string{"old", "x.y.z"},
		},
		{
			name:     "several paths in one update",
			baseline: `{"n":1,"gone":true,"tags":["a"]}`,
			actions:  actions(dsl.IncBy("n", 1), dsl.SetValue("m", 0), dsl.UnsetFields("gone"), dsl.PushEach("tags", "b")),
			want:     `{"m":0,"n":2,"tags":["a","b"]}`,
			updated:  []string{"gone", "m", "n", "tags"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(obj(t, tt.baseline))
			got, err := w.Apply(tt.actions)
			require.NoError(t, err)
			assert.Equal(t, tt.want, canon(got))
			assert.Equal(t, tt.updated, w.UpdatedFields())
			assert.Equal(t, tt.baseline, canon(w.Baseline()))
		})
	}
}

func TestOperatorErrors(t *testing.T) {
	tests := []struct {
		name     string
		baseline string
		action   dsl.Action
		code     dberr.Code
	}{
		{"inc string", `{"n":"x"}`, dsl.IncBy("n", 1), dberr.CodeTypeMismatch},
		{"inc null", `{"n":null}`, dsl.IncBy("n", 1), dberr.CodeTypeMismatch},
		{"inc absent", `{}`, dsl.IncBy("n", 1), dberr.CodeTypeMismatch},
		{"inc non-numeric operand", `{"n":1}`, dsl.IncBy("n", "1"), dberr.CodeTypeMismatch},
		{"inc int overflow", `{"n":9223372036854775807}`, dsl.IncBy("n", 1), dberr.CodeTypeMismatch},
		{"inc int underflow", `{"n":-9223372036854775808}`, dsl.IncBy("n", -1), dberr.CodeTypeMismatch},
		{"inc float overflow", `{"n":1e+308}`, dsl.IncBy("n", 1e308), dberr.CodeTypeMismatch},
		{"min on bool", `{"n":true}`, dsl.MinOf("n", 1), dberr.CodeTypeMismatch},
		{"max non-numeric operand", `{"n":1}`, dsl.MaxOf("n", []any{2}), dberr.CodeTypeMismatch},
		{"add to string", `{"a":"x"}`, dsl.AddEach("a", "y"), dberr.CodeTypeMismatch},
		{"push to object", `{"a":{}}`, dsl.PushEach("a", "y"), dberr.CodeTypeMismatch},
		{"pull from number", `{"a":3}`, dsl.PullEach("a", 3), dberr.CodeTypeMismatch},
		{"pop null", `{"a":null}`, dsl.PopN("a", 1), dberr.CodeTypeMismatch},
		{"pop string", `{"a":"abc"}`, dsl.PopN("a", -1), dberr.CodeTypeMismatch},
		{"rename missing", `{"a":1}`, dsl.RenameField("b", "c"), dberr.CodeFieldNotFound},
		{"set through scalar", `{"a":1}`, dsl.SetValue("a.b", 2), dberr.CodeTypeMismatch},
		{"rename through scalar", `{"a":1,"b":2}`, dsl.RenameField("b", "a.c"), dberr.CodeTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(obj(t, tt.baseline))
			_, err := w.Apply(actions(tt.action))
			require.Error(t, err)
			assert.Equal(t, tt.code, dberr.CodeOf(err))
			assert.Equal(t, tt.baseline, canon(w.Current()))
		})
	}
}

func TestApplyFailureLeavesWorkingCopy(t *testing.T) {
	w := New(obj(t, `{"n":1,"s":"x"}`))
	_, err := w.Apply(actions(dsl.IncBy("n", 1)))
	require.NoError(t, err)

	_, err = w.Apply(actions(dsl.SetValue("added", true), dsl.IncBy("n", 5), dsl.IncBy("s", 1)))
	require.Error(t, err)

	assert.Equal(t, `{"n":2,"s":"x"}`, canon(w.Current()))
	assert.Equal(t, []string{"n"}, w.UpdatedFields())
}

func TestApplyRejectsEmptyActionList(t *testing.T) {
	_, err := New(document.Object{}).Apply(nil)
	assert.True(t, dberr.IsInvalidQuery(err))
}

func TestResetDiscardsPriorApply(t *testing.T) {
	baseline := obj(t, `{"n":1,"tags":["a"]}`)

	w := New(baseline)
	_, err := w.Apply(actions(dsl.IncBy("n", 100), dsl.PushEach("tags", "z")))
	require.NoError(t, err)

	w.Reset()
	assert.Empty(t, w.UpdatedFields())
	got, err := w.Apply(actions(dsl.AddEach("tags", "b")))
	require.NoError(t, err)

	fresh, err := New(baseline).Apply(actions(dsl.AddEach("tags", "b")))
	require.NoError(t, err)
	assert.Equal(t, canon(fresh), canon(got))
	assert.Equal(t, []string{"tags"}, w.UpdatedFields())
}

func TestAddIsIdempotentPushIsNot(t *testing.T) {
	w := New(obj(t, `{"tags":[]}`))
	for i := 0; i < 3; i++ {
		_, err := w.Apply(actions(dsl.AddEach("tags", "v")))
		require.NoError(t, err)
	}
	assert.Equal(t, `{"tags":["v"]}`, canon(w.Current()))

	w = New(obj(t, `{"tags":[]}`))
	for i := 0; i < 3; i++ {
		_, err := w.Apply(actions(dsl.PushEach("tags", "v")))
		require.NoError(t, err)
	}
	assert.Equal(t, `{"tags":["v","v","v"]}`, canon(w.Current()))
}

func TestPopBothEndsIsOrderIndependent(t *testing.T) {
	baseline := obj(t, `{"a":[1,2,3,4,5]}`)

	popBoth := func(first, second int) document.Object {
		w := New(baseline)
		_, err := w.Apply(actions(dsl.PopN("a", first)))
		require.NoError(t, err)
		got, err := w.Apply(actions(dsl.PopN("a", second)))
		require.NoError(t, err)
		return got
	}
	frontFirst := popBoth(-1, 1)
	backFirst := popBoth(1, -1)

	assert.Equal(t, `{"a":[2,3,4]}`, canon(frontFirst))
	assert.Equal(t, canon(frontFirst), canon(backFirst))
}

func TestConflictingPathsAreRejected(t *testing.T) {
	tests := []struct {
		name    string
		actions []dsl.Action
	}{
		{"rename into own child", actions(dsl.RenameField("a", "a.b"))},
		{"set parent and child", actions(dsl.SetValue("a", 1), dsl.SetValue("a.b", 2))},
		{"same path twice", actions(dsl.IncBy("a", 1), dsl.MaxOf("a", 5))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(obj(t, `{"a":1}`))
			_, err := w.Apply(tt.actions)
			require.Error(t, err)
			assert.True(t, dberr.IsInvalidQuery(err))
			assert.Equal(t, `{"a":1}`, canon(w.Current()))
			assert.Empty(t, w.UpdatedFields())
		})
	}
}

func TestReturnedObjectsAreCopies(t *testing.T) {
	w := New(obj(t, `{"a":{"b":1}}`))
	got, err := w.Apply(actions(dsl.SetValue("c", 1)))
	require.NoError(t, err)

	got["a"].(document.Object)["b"] = document.Int(99)
	w.Baseline()["a"] = document.Null{}

	assert.Equal(t, `{"a":{"b":1},"c":1}`, canon(w.Current()))
	assert.Equal(t, `{"a":{"b":1}}`, canon(w.Baseline()))
}

func TestOntologyWrapsArrayFieldOnSet(t *testing.T) {
	onto := ontology.New(ontology.Field{Path: "Tags", Array: true})
	w := New(document.Object{}, WithOntology(onto))

	got, err := w.Apply(actions(dsl.SetValue("Tags", "one"), dsl.SetValue("Title", "t")))
	require.NoError(t, err)
	assert.Equal(t, `{"Tags":["one"],"Title":"t"}`, canon(got))

	got, err = w.Apply(actions(dsl.SetValue("Tags", []any{"x", "y"})))
	require.NoError(t, err)
	assert.Equal(t, `{"Tags":["x","y"],"Title":"t"}`, canon(got))
}

func TestChanges(t *testing.T) {
	w := New(obj(t, `{"a":1,"b":"x","gone":true,"tags":["t"]}`))
	_, err := w.Apply(actions(
		dsl.IncBy("a", 1),
		dsl.SetValue("b", "x"),
		dsl.UnsetFields("gone"),
		dsl.SetValue("new", 0),
		dsl.AddEach("tags", "t"),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "gone", "new"}, w.UpdatedFields())
	assert.Equal(t, []Change{
		{Path: "a", Before: document.Int(1), After: document.Int(2)},
		{Path: "gone", Before: document.Bool(true)},
		{Path: "new", After: document.Int(0)},
	}, w.Changes())
}

func TestSimulateDiff(t *testing.T) {
	d, err := Simulate(obj(t, `{"numberTen":10}`), actions(dsl.IncBy("numberTen", 2)))
	require.NoError(t, err)

	assert.Equal(t, `{"numberTen":10}`, canon(d.Before))
	assert.Equal(t, `{"numberTen":12}`, canon(d.After))
	assert.NotEqual(t, d.BeforeHash, d.AfterHash)
	assert.Len(t, d.BeforeHash, 64)

	sameHash, err := document.Hash(obj(t, `{"numberTen":10}`))
	require.NoError(t, err)
	assert.Equal(t, sameHash, d.BeforeHash)

	assert.Equal(t,
		`[{"after":12,"before":10,"path":"numberTen"}]`,
		canon(d.Object()["changes"]))
}
