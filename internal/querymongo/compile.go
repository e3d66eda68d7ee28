// Package querymongo compiles DSL requests into MongoDB filters, update
// documents and find options.
//
// Output is deterministic: objects are emitted as bson.D with keys in a
// fixed order, so compiled plans can be compared and logged as-is.
package querymongo

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
)

// Compiler compiles DSL requests for the primary store.
type Compiler struct {
	// DepthLimit bounds filter-tree depth. Zero means dsl.DefaultDepthLimit.
	DepthLimit int

	// ApproximateMatch lets Match compile to a case-insensitive regex.
	// When false, Match fails with UNSUPPORTED_QUERY because only the
	// search index can evaluate it exactly.
	ApproximateMatch bool
}

// NewCompiler creates a Compiler with the given depth limit.
func NewCompiler(depthLimit int) *Compiler {
	return &Compiler{DepthLimit: depthLimit}
}

// FindPlan is a compiled select.
type FindPlan struct {
	Filter     bson.D
	Projection bson.D
	Sort       bson.D
	Limit      int64
	CountOnly  bool
}

// Options returns the driver find options of the plan.
func (p *FindPlan) Options() *options.FindOptions {
	opts := options.Find()
	if len(p.Projection) > 0 {
		opts.SetProjection(p.Projection)
	}
	if len(p.Sort) > 0 {
		opts.SetSort(p.Sort)
	}
	if p.Limit > 0 {
		opts.SetLimit(p.Limit)
	}
	return opts
}

// UpdatePlan is a compiled update.
type UpdatePlan struct {
	Filter bson.D
	Update bson.D
}

// Filter compiles a filter tree restricted to roots.
func (c *Compiler) Filter(q dsl.Query, roots []string) (bson.D, error) {
	if err := dsl.CheckQuery(q, c.DepthLimit); err != nil {
		return nil, err
	}
	filter, err := c.compileQuery(q)
	if err != nil {
		return nil, err
	}
	return withRoots(filter, roots), nil
}

// Select compiles a select request.
func (c *Compiler) Select(s *dsl.Select) (*FindPlan, error) {
	if err := s.Validate(c.DepthLimit); err != nil {
		return nil, err
	}
	filter, err := c.Filter(s.Query, s.Roots)
	if err != nil {
		return nil, err
	}

	plan := &FindPlan{
		Filter:    filter,
		Limit:     int64(s.Limit),
		CountOnly: s.CountOnly,
	}
	for _, f := range s.Projection {
		plan.Projection = append(plan.Projection, bson.E{Key: f, Value: 1})
	}
	for _, o := range s.OrderBy {
		if o.Relevance() {
			return nil, dberr.UnsupportedQuery(o.Field, "relevance sort requires the search index")
		}
		dir := 1
		if o.Desc {
			dir = -1
		}
		plan.Sort = append(plan.Sort, bson.E{Key: o.Field, Value: dir})
	}
	return plan, nil
}

// Update compiles an update request into a single update document.
func (c *Compiler) Update(u *dsl.Update) (*UpdatePlan, error) {
	if err := u.Validate(c.DepthLimit); err != nil {
		return nil, err
	}
	filter, err := c.Filter(u.Query, u.Roots)
	if err != nil {
		return nil, err
	}
	update, err := CompileActions(u.Actions)
	if err != nil {
		return nil, err
	}
	return &UpdatePlan{Filter: filter, Update: update}, nil
}

// Delete compiles a delete request into its filter.
func (c *Compiler) Delete(d *dsl.Delete) (bson.D, error) {
	if err := d.Validate(c.DepthLimit); err != nil {
		return nil, err
	}
	return c.Filter(d.Query, d.Roots)
}

// Insert converts the documents of an insert request.
func (c *Compiler) Insert(i *dsl.Insert) ([]any, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	docs := make([]any, len(i.Documents))
	for n, d := range i.Documents {
		docs[n] = ToBSON(d)
	}
	return docs, nil
}

// withRoots restricts filter to the root ids. Ids reach the DSL as strings,
// so a root that is ObjectID hex matches both the string and the ObjectID.
func withRoots(filter bson.D, roots []string) bson.D {
	if len(roots) == 0 {
		return filter
	}
	ids := make(bson.A, 0, len(roots))
	for _, r := range roots {
		ids = append(ids, r)
		if oid, err := primitive.ObjectIDFromHex(r); err == nil {
			ids = append(ids, oid)
		}
	}
	rootFilter := bson.D{{Key: dsl.IDField, Value: bson.D{{Key: "$in", Value: ids}}}}
	return bson.D{{Key: "$and", Value: bson.A{rootFilter, filter}}}
}

func (c *Compiler) compileQuery(q dsl.Query) (bson.D, error) {
	switch node := q.(type) {
	case *dsl.And:
		return c.compileBool("$and", node.Queries)
	case *dsl.Or:
		return c.compileBool("$or", node.Queries)
	case *dsl.Eq:
		return fieldOp(node.Field, "$eq", ToBSON(node.Value)), nil
	case *dsl.Exists:
		return fieldOp(node.Field, "$exists", true), nil
	case *dsl.Gte:
		return fieldOp(node.Field, "$gte", ToBSON(node.Value)), nil
	case *dsl.Lte:
		return fieldOp(node.Field, "$lte", ToBSON(node.Value)), nil
	case *dsl.In:
		return fieldOp(node.Field, "$in", ToBSON(document.Array(node.Values))), nil
	case *dsl.Match:
		if !c.ApproximateMatch {
			return nil, dberr.UnsupportedQuery(node.Field, "$match requires the search index")
		}
		return bson.D{{Key: node.Field, Value: bson.D{
			{Key: "$regex", Value: approximatePattern(node.Text)},
			{Key: "$options", Value: "i"},
		}}}, nil
	}
	return nil, fmt.Errorf("unsupported query node: %T", q)
}

func (c *Compiler) compileBool(op string, children []dsl.Query) (bson.D, error) {
	arr := make(bson.A, 0, len(children))
	for _, child := range children {
		compiled, err := c.compileQuery(child)
		if err != nil {
			return nil, err
		}
		arr = append(arr, compiled)
	}
	return bson.D{{Key: op, Value: arr}}, nil
}

func fieldOp(field, op string, v any) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: op, Value: v}}}}
}

// approximatePattern matches every whitespace-separated token of text, in order.
func approximatePattern(text string) string {
	tokens := strings.Fields(text)
	for i, tok := range tokens {
		tokens[i] = regexp.QuoteMeta(tok)
	}
	return strings.Join(tokens, ".*")
}
