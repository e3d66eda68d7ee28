// Package ontology describes how document fields are indexed.
//
// An ontology is written in CUE:
//
//	field: {
//		Title:       {type: "text"}
//		"Meta.Tags": {type: "keyword", array: true}
//	}
//
// Fields of type "text" are analyzed by the search index and answer
// full-text predicates; "keyword" fields (the default) match exactly.
// Fields marked array hold lists even when a single value is written.
package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Type is the index type of a field.
type Type string

const (
	TypeKeyword Type = "keyword"
	TypeText    Type = "text"
)

// Field is one ontology entry.
type Field struct {
	Path  string
	Type  Type
	Array bool
}

// Analyzed reports whether the field is full-text indexed.
func (f Field) Analyzed() bool {
	return f.Type == TypeText
}

// Ontology maps field paths to their index description.
// A nil *Ontology is valid and treats every field as a scalar keyword.
type Ontology struct {
	fields map[string]Field
}

// New builds an ontology from fields. Later entries replace earlier ones.
func New(fields ...Field) *Ontology {
	o := &Ontology{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Type == "" {
			f.Type = TypeKeyword
		}
		o.fields[f.Path] = f
	}
	return o
}

// Lookup returns the entry for path. Array index segments are ignored, so
// "Tags.0" resolves to "Tags".
func (o *Ontology) Lookup(path string) (Field, bool) {
	if o == nil {
		return Field{}, false
	}
	f, ok := o.fields[stripIndexes(path)]
	return f, ok
}

// IsAnalyzed reports whether path is a full-text field.
func (o *Ontology) IsAnalyzed(path string) bool {
	f, ok := o.Lookup(path)
	return ok && f.Analyzed()
}

// IsArray reports whether path is declared as an array field.
func (o *Ontology) IsArray(path string) bool {
	f, ok := o.Lookup(path)
	return ok && f.Array
}

// Fields returns all entries sorted by path.
func (o *Ontology) Fields() []Field {
	if o == nil {
		return nil
	}
	out := make([]Field, 0, len(o.fields))
	for _, f := range o.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func stripIndexes(path string) string {
	if !strings.ContainsAny(path, "0123456789") {
		return path
	}
	segs := strings.Split(path, ".")
	kept := segs[:0]
	for _, s := range segs {
		if _, err := strconv.Atoi(s); err == nil {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, ".")
}

// schema constrains ontology files. Unknown keys inside an entry are errors.
const schema = `
#Field: {
	type:  *"keyword" | "text"
	array: *false | bool
}
field: [string]: #Field
`

// CompileError is an ontology error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads an ontology from a .cue file or a directory of them.
func Load(path string) (*Ontology, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ontology: %w", err)
	}
	ctx := cuecontext.New()

	var v cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("ontology: no CUE instances in %s", path)
		}
		if err := instances[0].Err; err != nil {
			return nil, fmt.Errorf("ontology: loading %s: %w", path, err)
		}
		v = ctx.BuildInstance(instances[0])
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ontology: %w", err)
		}
		v = ctx.CompileBytes(data, cue.Filename(filepath.Base(path)))
	}
	return Compile(v)
}

// CompileString parses an ontology from CUE source.
func CompileString(src string) (*Ontology, error) {
	return Compile(cuecontext.New().CompileString(src))
}

// Compile extracts an ontology from a CUE value.
func Compile(v cue.Value) (*Ontology, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = v.Context().CompileString(schema).Unify(v)
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	fieldsVal := v.LookupPath(cue.ParsePath("field"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{Field: "field", Message: "ontology declares no fields", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []Field
	for iter.Next() {
		name := iter.Selector().Unquoted()
		entry := iter.Value()

		typ, err := stringOf(entry.LookupPath(cue.ParsePath("type")))
		if err != nil {
			return nil, formatCUEError(err)
		}
		array, err := boolOf(entry.LookupPath(cue.ParsePath("array")))
		if err != nil {
			return nil, formatCUEError(err)
		}
		fields = append(fields, Field{Path: name, Type: Type(typ), Array: array})
	}
	return New(fields...), nil
}

func stringOf(v cue.Value) (string, error) {
	if d, ok := v.Default(); ok {
		v = d
	}
	return v.String()
}

func boolOf(v cue.Value) (bool, error) {
	if d, ok := v.Default(); ok {
		v = d
	}
	return v.Bool()
}

func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
