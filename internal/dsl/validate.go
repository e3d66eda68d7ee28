package dsl

import (
	"strings"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
)

// DefaultDepthLimit is the default maximum filter-tree depth.
const DefaultDepthLimit = 20

// Depth returns the number of nodes on the longest root-to-leaf path.
func Depth(q Query) int {
	switch node := q.(type) {
	case *And:
		return 1 + maxDepth(node.Queries)
	case *Or:
		return 1 + maxDepth(node.Queries)
	case nil:
		return 0
	}
	return 1
}

func maxDepth(queries []Query) int {
	deepest := 0
	for _, child := range queries {
		if d := Depth(child); d > deepest {
			deepest = d
		}
	}
	return deepest
}

// IsReady reports whether the tree has at least one leaf predicate.
func IsReady(q Query) bool {
	ready := false
	Walk(q, func(n Query) bool {
		switch n.(type) {
		case *And, *Or:
			return !ready
		}
		ready = true
		return false
	})
	return ready
}

// CheckDepth fails with QUERY_TOO_DEEP when q is deeper than limit.
// A non-positive limit means DefaultDepthLimit.
func CheckDepth(q Query, limit int) error {
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	if d := Depth(q); d > limit {
		return dberr.QueryTooDeep(d, limit)
	}
	return nil
}

// CheckQuery runs the depth check and then Validate.
func CheckQuery(q Query, limit int) error {
	if err := CheckDepth(q, limit); err != nil {
		return err
	}
	return Validate(q)
}

// Validate checks the structure of a filter tree. Every boolean node needs
// at least one child, every leaf a valid field path and a usable operand.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	if q == nil {
		return dberr.InvalidQuery("", "query is empty")
	}
	if !IsReady(q) {
		return dberr.InvalidQuery("", "query has no predicate")
	}
	return validateNode(q)
}

func validateNode(q Query) error {
	switch node := q.(type) {
	case *And:
		return validateChildren("$and", node.Queries)
	case *Or:
		return validateChildren("$or", node.Queries)
	case *Eq:
		if err := validateField(node.Field); err != nil {
			return err
		}
		if node.Value == nil {
			return dberr.InvalidQuery(node.Field, "$eq has no value")
		}
	case *Exists:
		return validateField(node.Field)
	case *Gte:
		return validateRange("$gte", node.Field, node.Value)
	case *Lte:
		return validateRange("$lte", node.Field, node.Value)
	case *Match:
		if err := validateField(node.Field); err != nil {
			return err
		}
		if node.Text == "" {
			return dberr.InvalidQuery(node.Field, "$match text is empty")
		}
	case *In:
		if err := validateField(node.Field); err != nil {
			return err
		}
		if len(node.Values) == 0 {
			return dberr.InvalidQuery(node.Field, "$in has no values")
		}
		for _, v := range node.Values {
			if v == nil {
				return dberr.InvalidQuery(node.Field, "$in has an unsupported value")
			}
		}
	case nil:
		return dberr.InvalidQuery("", "missing query node")
	default:
		return dberr.InvalidQuery("", "unknown query node %T", q)
	}
	return nil
}

func validateChildren(op string, children []Query) error {
	if len(children) == 0 {
		return dberr.InvalidQuery("", "%s has no children", op)
	}
	for _, child := range children {
		if err := validateNode(child); err != nil {
			return err
		}
	}
	return nil
}

func validateField(field string) error {
	if !document.ValidPath(field) {
		return dberr.InvalidQuery(field, "invalid field name %q", field)
	}
	return nil
}

func validateRange(op, field string, v document.Value) error {
	if err := validateField(field); err != nil {
		return err
	}
	switch v.(type) {
	case document.String, document.Int, document.Float, document.Bool:
		return nil
	case nil:
		return dberr.InvalidQuery(field, "%s has no value", op)
	}
	return dberr.InvalidQuery(field, "%s needs a scalar value, got %s", op, document.TypeName(v))
}

// ValidateActions checks an action list. Operand types of numeric
// operators are checked where the action is applied or compiled.
//
// No two paths written by the list may be equal or nested in one another;
// MongoDB refuses such an update as conflicting, so the in-memory diff
// refuses it too.
func ValidateActions(actions []Action) error {
	if len(actions) == 0 {
		return dberr.InvalidQuery("", "update has no actions")
	}
	var touched []string
	for _, a := range actions {
		if err := validateAction(a); err != nil {
			return err
		}
		for _, p := range WrittenPaths(a) {
			for _, t := range touched {
				if pathsConflict(t, p) {
					return dberr.InvalidQuery(p, "conflicts with %q in the same update", t)
				}
			}
			touched = append(touched, p)
		}
	}
	return nil
}

// WrittenPaths lists the field paths an action modifies. A rename
// modifies both its source and its target.
func WrittenPaths(a Action) []string {
	switch act := a.(type) {
	case *Set:
		return []string{act.Field}
	case *Unset:
		return act.Fields
	case *Inc:
		return []string{act.Field}
	case *Min:
		return []string{act.Field}
	case *Max:
		return []string{act.Field}
	case *Add:
		return []string{act.Field}
	case *Push:
		return []string{act.Field}
	case *Pull:
		return []string{act.Field}
	case *Pop:
		return []string{act.Field}
	case *Rename:
		return []string{act.From, act.To}
	}
	return nil
}

func pathsConflict(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

func validateAction(a Action) error {
	switch act := a.(type) {
	case *Set:
		if err := validateField(act.Field); err != nil {
			return err
		}
		if act.Value == nil {
			return dberr.InvalidQuery(act.Field, "$set has no value")
		}
	case *Unset:
		if len(act.Fields) == 0 {
			return dberr.InvalidQuery("", "$unset has no fields")
		}
		for _, f := range act.Fields {
			if err := validateField(f); err != nil {
				return err
			}
		}
	case *Inc:
		return validateOperand(act.Op(), act.Field, act.Value)
	case *Min:
		return validateOperand(act.Op(), act.Field, act.Value)
	case *Max:
		return validateOperand(act.Op(), act.Field, act.Value)
	case *Add:
		return validateEach(act.Op(), act.Field, act.Values)
	case *Push:
		return validateEach(act.Op(), act.Field, act.Values)
	case *Pull:
		return validateEach(act.Op(), act.Field, act.Values)
	case *Pop:
		return validateField(act.Field)
	case *Rename:
		if err := validateField(act.From); err != nil {
			return err
		}
		if err := validateField(act.To); err != nil {
			return err
		}
		if act.From == act.To {
			return dberr.InvalidQuery(act.From, "$rename source and target are the same")
		}
	case nil:
		return dberr.InvalidQuery("", "missing action")
	default:
		return dberr.InvalidQuery("", "unknown action %T", a)
	}
	return nil
}

func validateOperand(op Operator, field string, v document.Value) error {
	if err := validateField(field); err != nil {
		return err
	}
	if v == nil {
		return dberr.InvalidQuery(field, "%s has no value", op)
	}
	return nil
}

func validateEach(op Operator, field string, values []document.Value) error {
	if err := validateField(field); err != nil {
		return err
	}
	for _, v := range values {
		if v == nil {
			return dberr.InvalidQuery(field, "%s has an unsupported value", op)
		}
	}
	return nil
}

func validateRoots(roots []string) error {
	for _, r := range roots {
		if r == "" {
			return dberr.InvalidQuery(IDField, "empty root id")
		}
	}
	return nil
}

// Validate checks the select envelope and its query.
func (s *Select) Validate(depthLimit int) error {
	if err := CheckQuery(s.Query, depthLimit); err != nil {
		return err
	}
	if err := validateRoots(s.Roots); err != nil {
		return err
	}
	if s.Limit < 0 {
		return dberr.InvalidQuery("", "negative limit %d", s.Limit)
	}
	for _, f := range s.Projection {
		if err := validateField(f); err != nil {
			return err
		}
	}
	for _, o := range s.OrderBy {
		if err := validateField(o.Field); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the insert envelope.
func (i *Insert) Validate() error {
	if len(i.Documents) == 0 {
		return dberr.InvalidQuery("", "insert has no documents")
	}
	for n, doc := range i.Documents {
		if doc == nil {
			return dberr.InvalidQuery("", "document %d is empty", n)
		}
	}
	return nil
}

// Validate checks the update envelope, its query and its actions.
func (u *Update) Validate(depthLimit int) error {
	if err := CheckQuery(u.Query, depthLimit); err != nil {
		return err
	}
	if err := validateRoots(u.Roots); err != nil {
		return err
	}
	return ValidateActions(u.Actions)
}

// Validate checks the delete envelope and its query.
func (d *Delete) Validate(depthLimit int) error {
	if err := CheckQuery(d.Query, depthLimit); err != nil {
		return err
	}
	return validateRoots(d.Roots)
}
