// Package queryes compiles DSL selects into Elasticsearch query DSL.
//
// The compiled body is a document.Object so it renders canonically; the
// search adapter sends it as-is. Field handling depends on the ontology:
// analyzed fields answer EQ and IN through match queries, keyword fields
// through term and terms.
package queryes

import (
	"fmt"
	"strings"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/ontology"
)

// Compiler compiles DSL requests for the search index.
type Compiler struct {
	DepthLimit int
	Ontology   *ontology.Ontology
}

// NewCompiler creates a Compiler. A nil ontology treats every field as keyword.
func NewCompiler(depthLimit int, onto *ontology.Ontology) *Compiler {
	return &Compiler{DepthLimit: depthLimit, Ontology: onto}
}

// SearchPlan is a compiled select.
type SearchPlan struct {
	Query     document.Object
	Sort      document.Array
	Source    []string
	Size      int
	CountOnly bool
}

// Body renders the search request body.
func (p *SearchPlan) Body() document.Object {
	body := document.Object{
		"query":            p.Query,
		"track_total_hits": document.Bool(true),
	}
	if p.CountOnly {
		body["size"] = document.Int(0)
		return body
	}
	if len(p.Sort) > 0 {
		body["sort"] = p.Sort
	}
	if len(p.Source) > 0 {
		src := make(document.Array, len(p.Source))
		for i, f := range p.Source {
			src[i] = document.String(f)
		}
		body["_source"] = src
	}
	if p.Size > 0 {
		body["size"] = document.Int(p.Size)
	}
	return body
}

// Select compiles a select request.
func (c *Compiler) Select(s *dsl.Select) (*SearchPlan, error) {
	if err := s.Validate(c.DepthLimit); err != nil {
		return nil, err
	}
	query, err := c.Filter(s.Query, s.Roots)
	if err != nil {
		return nil, err
	}
	return &SearchPlan{
		Query:     query,
		Sort:      c.sorts(s.OrderBy, dsl.HasMatch(s.Query)),
		Source:    s.Projection,
		Size:      s.Limit,
		CountOnly: s.CountOnly,
	}, nil
}

// Filter compiles a filter tree restricted to roots.
func (c *Compiler) Filter(q dsl.Query, roots []string) (document.Object, error) {
	if err := dsl.CheckQuery(q, c.DepthLimit); err != nil {
		return nil, err
	}
	query, err := c.compileQuery(q)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return query, nil
	}
	ids := make(document.Array, len(roots))
	for i, r := range roots {
		ids[i] = document.String(r)
	}
	return boolQuery(document.Object{
		"must":   document.NewArray(query),
		"filter": document.NewArray(single("terms", dsl.IDField, ids)),
	}), nil
}

// sorts resolves orderBy for the search index. With a full-text query a
// descending score sort goes before the first analyzed sort key, or last
// when there is none; an explicit _score entry takes that place instead.
func (c *Compiler) sorts(orderBy []dsl.OrderBy, fullText bool) document.Array {
	var out document.Array
	scoreAdded := false
	for _, o := range orderBy {
		if o.Relevance() {
			if !scoreAdded {
				out = append(out, sortEntry(dsl.ScoreField, o.Desc))
				scoreAdded = true
			}
			continue
		}
		if fullText && !scoreAdded && c.Ontology.IsAnalyzed(o.Field) {
			out = append(out, sortEntry(dsl.ScoreField, true))
			scoreAdded = true
		}
		out = append(out, sortEntry(o.Field, o.Desc))
	}
	if fullText && !scoreAdded {
		out = append(out, sortEntry(dsl.ScoreField, true))
	}
	return out
}

func sortEntry(field string, desc bool) document.Object {
	order := "asc"
	if desc {
		order = "desc"
	}
	return document.Object{field: document.Object{"order": document.String(order)}}
}

func (c *Compiler) compileQuery(q dsl.Query) (document.Object, error) {
	switch node := q.(type) {
	case *dsl.And:
		children, err := c.compileChildren(node.Queries)
		if err != nil {
			return nil, err
		}
		return boolQuery(document.Object{"must": children}), nil
	case *dsl.Or:
		children, err := c.compileChildren(node.Queries)
		if err != nil {
			return nil, err
		}
		return boolQuery(document.Object{
			"should":               children,
			"minimum_should_match": document.Int(1),
		}), nil
	case *dsl.Eq:
		if c.Ontology.IsAnalyzed(node.Field) {
			return matchAll(node.Field, node.Value)
		}
		return single("term", node.Field, node.Value), nil
	case *dsl.Exists:
		return document.Object{"exists": document.Object{"field": document.String(node.Field)}}, nil
	case *dsl.Gte:
		return single("range", node.Field, document.Object{"gte": node.Value}), nil
	case *dsl.Lte:
		return single("range", node.Field, document.Object{"lte": node.Value}), nil
	case *dsl.In:
		if c.Ontology.IsAnalyzed(node.Field) {
			should := make(document.Array, 0, len(node.Values))
			for _, v := range node.Values {
				m, err := matchAny(node.Field, v)
				if err != nil {
					return nil, err
				}
				should = append(should, m)
			}
			return boolQuery(document.Object{
				"should":               should,
				"minimum_should_match": document.Int(1),
			}), nil
		}
		return single("terms", node.Field, document.Array(node.Values)), nil
	case *dsl.Match:
		if c.Ontology != nil && !c.Ontology.IsAnalyzed(node.Field) {
			tokens := strings.Fields(node.Text)
			arr := make(document.Array, len(tokens))
			for i, tok := range tokens {
				arr[i] = document.String(tok)
			}
			return single("terms", node.Field, arr), nil
		}
		return single("match", node.Field, document.Object{"query": document.String(node.Text)}), nil
	}
	return nil, fmt.Errorf("unsupported query node: %T", q)
}

func (c *Compiler) compileChildren(children []dsl.Query) (document.Array, error) {
	out := make(document.Array, 0, len(children))
	for _, child := range children {
		compiled, err := c.compileQuery(child)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}

func boolQuery(clauses document.Object) document.Object {
	return document.Object{"bool": clauses}
}

func single(kind, field string, v document.Value) document.Object {
	return document.Object{kind: document.Object{field: v}}
}

// matchAll requires every analyzed token of v.
func matchAll(field string, v document.Value) (document.Object, error) {
	text, err := matchText(field, v)
	if err != nil {
		return nil, err
	}
	return single("match", field, document.Object{
		"query":    document.String(text),
		"operator": document.String("and"),
	}), nil
}

// matchAny requires at least one analyzed token of v.
func matchAny(field string, v document.Value) (document.Object, error) {
	text, err := matchText(field, v)
	if err != nil {
		return nil, err
	}
	return single("match", field, document.Object{"query": document.String(text)}), nil
}

func matchText(field string, v document.Value) (string, error) {
	switch val := v.(type) {
	case document.String:
		return string(val), nil
	case document.Int, document.Float, document.Bool:
		return string(document.MustMarshalCanonical(val)), nil
	}
	return "", dberr.UnsupportedQuery(field, "analyzed field cannot match a %s", document.TypeName(v))
}
