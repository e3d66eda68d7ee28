package dsl

import "github.com/roach88/recordsdb/internal/document"

// Query is a node of a boolean filter tree.
//
// This is a sealed interface: only the node types below implement it.
// Boolean nodes: *And, *Or. Leaves: *Eq, *Exists, *Gte, *Lte, *Match, *In.
type Query interface {
	queryNode()
}

// And matches when every child matches.
type And struct {
	Queries []Query
}

// Or matches when at least one child matches.
type Or struct {
	Queries []Query
}

// Eq matches documents whose field equals Value exactly.
type Eq struct {
	Field string
	Value document.Value
}

// Exists matches documents where the field is present.
type Exists struct {
	Field string
}

// Gte matches documents whose field is greater than or equal to Value.
type Gte struct {
	Field string
	Value document.Value
}

// Lte matches documents whose field is less than or equal to Value.
type Lte struct {
	Field string
	Value document.Value
}

// Match is a full-text match. It is only authoritative on the search index.
type Match struct {
	Field string
	Text  string
}

// In matches documents whose field equals one of Values.
type In struct {
	Field  string
	Values []document.Value
}

func (*And) queryNode()    {}
func (*Or) queryNode()     {}
func (*Eq) queryNode()     {}
func (*Exists) queryNode() {}
func (*Gte) queryNode()    {}
func (*Lte) queryNode()    {}
func (*Match) queryNode()  {}
func (*In) queryNode()     {}

// AllOf builds an And node.
func AllOf(queries ...Query) *And {
	return &And{Queries: queries}
}

// AnyOf builds an Or node.
func AnyOf(queries ...Query) *Or {
	return &Or{Queries: queries}
}

// FieldRef starts a leaf predicate on a field.
//
// Example:
//
//	dsl.AllOf(
//	    dsl.Field("Title").Eq("x"),
//	    dsl.AnyOf(dsl.Field("Date").Gte("2020"), dsl.Field("Date").Lte("2019")),
//	)
type FieldRef string

// Field returns a FieldRef for path.
func Field(path string) FieldRef {
	return FieldRef(path)
}

// Eq builds an Eq leaf. Values that cannot be represented as documents
// leave Value nil, which Validate rejects.
func (f FieldRef) Eq(v any) *Eq {
	return &Eq{Field: string(f), Value: toValue(v)}
}

// Exists builds an Exists leaf.
func (f FieldRef) Exists() *Exists {
	return &Exists{Field: string(f)}
}

// Gte builds a Gte leaf.
func (f FieldRef) Gte(v any) *Gte {
	return &Gte{Field: string(f), Value: toValue(v)}
}

// Lte builds a Lte leaf.
func (f FieldRef) Lte(v any) *Lte {
	return &Lte{Field: string(f), Value: toValue(v)}
}

// Match builds a Match leaf.
func (f FieldRef) Match(text string) *Match {
	return &Match{Field: string(f), Text: text}
}

// In builds an In leaf.
func (f FieldRef) In(vs ...any) *In {
	return &In{Field: string(f), Values: toValues(vs)}
}

func toValue(v any) document.Value {
	conv, err := document.FromGo(v)
	if err != nil {
		return nil
	}
	return conv
}

func toValues(vs []any) []document.Value {
	out := make([]document.Value, len(vs))
	for i, v := range vs {
		out[i] = toValue(v)
	}
	return out
}

// Walk visits q and its descendants depth-first. Returning false from fn
// stops descent into that node's children.
func Walk(q Query, fn func(Query) bool) {
	if q == nil || !fn(q) {
		return
	}
	switch node := q.(type) {
	case *And:
		for _, child := range node.Queries {
			Walk(child, fn)
		}
	case *Or:
		for _, child := range node.Queries {
			Walk(child, fn)
		}
	}
}

// HasMatch reports whether the tree contains a full-text Match leaf.
func HasMatch(q Query) bool {
	found := false
	Walk(q, func(n Query) bool {
		if _, ok := n.(*Match); ok {
			found = true
		}
		return !found
	})
	return found
}
