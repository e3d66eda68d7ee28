package dsl

import "github.com/roach88/recordsdb/internal/document"

// ScoreField is the pseudo-field naming search relevance in OrderBy.
const ScoreField = "_score"

// IDField is the document identity field.
const IDField = "_id"

// Kind identifies a request envelope.
type Kind string

const (
	KindSelect Kind = "select"
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Request is one of *Select, *Insert, *Update or *Delete.
type Request interface {
	Kind() Kind

	// Final validates the request against depthLimit and renders its
	// canonical wire form.
	Final(depthLimit int) ([]byte, error)
}

// OrderBy is one sort key.
type OrderBy struct {
	Field string
	Desc  bool
}

// Relevance reports whether the key sorts by search relevance.
func (o OrderBy) Relevance() bool {
	return o.Field == ScoreField
}

// Select reads documents.
type Select struct {
	Query Query

	// Roots restricts results to these document ids.
	Roots []string

	// Projection lists the fields to return. Empty returns whole documents.
	Projection []string

	OrderBy []OrderBy

	// Limit caps the number of documents. Zero uses the engine's default
	// limit, if one is configured, and is unbounded otherwise.
	Limit int

	// CountOnly asks for the total only, with no documents.
	CountOnly bool
}

// Insert writes new documents.
type Insert struct {
	Documents []document.Object
}

// Update applies Actions to every document matching Query.
type Update struct {
	Query   Query
	Roots   []string
	Actions []Action
}

// Delete removes every document matching Query.
type Delete struct {
	Query Query
	Roots []string
}

func (*Select) Kind() Kind { return KindSelect }
func (*Insert) Kind() Kind { return KindInsert }
func (*Update) Kind() Kind { return KindUpdate }
func (*Delete) Kind() Kind { return KindDelete }

// NeedsSearch reports whether the select must run on the search index:
// it contains a Match leaf or sorts by relevance.
func (s *Select) NeedsSearch() bool {
	if HasMatch(s.Query) {
		return true
	}
	for _, o := range s.OrderBy {
		if o.Relevance() {
			return true
		}
	}
	return false
}
