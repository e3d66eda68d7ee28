package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/pop_and_reset.yaml")
	require.NoError(t, err)

	assert.Equal(t, "pop_and_reset", s.Name)
	assert.Len(t, s.Steps, 4)
	assert.True(t, s.Steps[2].Reset)
	require.NotNil(t, s.Steps[1].Expect)
	assert.Equal(t, "TYPE_MISMATCH", s.Steps[1].Expect.Error)
	assert.Len(t, s.Assertions, 4)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_OntologyRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	yml := `name: with_onto
description: d
ontology: missing.cue
baseline: {}
steps:
  - actions: []
`
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(dir, "missing.cue"))
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nbaseline: {}\nsteps:\n  - actions: []\n",
			want: "name is required",
		},
		{
			name: "missing baseline",
			yaml: "name: n\ndescription: d\nsteps:\n  - actions: []\n",
			want: "baseline is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\nbaseline: {}\n",
			want: "steps list is required",
		},
		{
			name: "actions not a list",
			yaml: "name: n\ndescription: d\nbaseline: {}\nsteps:\n  - actions: {$set: {a: 1}}\n",
			want: "actions must be a list",
		},
		{
			name: "unknown error code",
			yaml: "name: n\ndescription: d\nbaseline: {}\nsteps:\n  - actions: []\n    expect: {error: BOOM}\n",
			want: `unknown error code "BOOM"`,
		},
		{
			name: "error with document",
			yaml: "name: n\ndescription: d\nbaseline: {}\nsteps:\n  - actions: []\n    expect: {error: TYPE_MISMATCH, document: {}}\n",
			want: "error excludes document",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nbaseline: {}\nsteps:\n  - actions: []\nassertions:\n  - type: vibes\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "field_equals without path",
			yaml: "name: n\ndescription: d\nbaseline: {}\nsteps:\n  - actions: []\nassertions:\n  - type: field_equals\n    value: 1\n",
			want: "path is required for field_equals",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nbaseline: {}\nflow: []\nsteps:\n  - actions: []\n",
			want: "failed to parse YAML",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNodeJSON_KeepsOrder(t *testing.T) {
	yml := `name: n
description: d
baseline: {}
steps:
  - actions:
      - $set: { z: 1, a: "two", m: [true, null, 1.5] }
        $inc: { n: -3 }
`
	s, err := ParseScenario([]byte(yml))
	require.NoError(t, err)

	raw, err := nodeJSON(&s.Steps[0].Actions)
	require.NoError(t, err)
	assert.Equal(t, `[{"$set":{"z":1,"a":"two","m":[true,null,1.5]},"$inc":{"n":-3}}]`, string(raw))
}
