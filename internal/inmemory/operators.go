package inmemory

import (
	"errors"
	"math"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/ontology"
)

// mutation is one Apply call in progress over a private clone.
type mutation struct {
	doc     document.Object
	updated map[string]struct{}
	onto    *ontology.Ontology
}

func (m *mutation) touch(field string) {
	m.updated[field] = struct{}{}
}

func (m *mutation) apply(a dsl.Action) error {
	switch act := a.(type) {
	case *dsl.Set:
		return m.set(act.Field, act.Value)
	case *dsl.Unset:
		for _, f := range act.Fields {
			if document.DeletePath(m.doc, f) {
				m.touch(f)
			}
		}
		return nil
	case *dsl.Inc:
		return m.numeric(act.Op(), act.Field, act.Value, inc)
	case *dsl.Min:
		return m.numeric(act.Op(), act.Field, act.Value, keepIf(-1))
	case *dsl.Max:
		return m.numeric(act.Op(), act.Field, act.Value, keepIf(1))
	case *dsl.Add:
		return m.add(act.Field, act.Values, true)
	case *dsl.Push:
		return m.add(act.Field, act.Values, false)
	case *dsl.Pull:
		return m.pull(act.Field, act.Values)
	case *dsl.Pop:
		return m.pop(act.Field, act.Count)
	case *dsl.Rename:
		return m.rename(act.From, act.To)
	}
	return dberr.InvalidQuery("", "unknown action %T", a)
}

func (m *mutation) set(field string, v document.Value) error {
	if m.onto.IsArray(field) {
		if _, isArray := v.(document.Array); !isArray && !document.IsNull(v) {
			v = document.NewArray(v)
		}
	}
	return m.store(field, document.Clone(v))
}

func (m *mutation) store(field string, v document.Value) error {
	if err := document.SetPath(m.doc, field, v); err != nil {
		var pe *document.PathError
		if errors.As(err, &pe) {
			return dberr.TypeMismatch(field, "cannot create field under %s", pe.Found)
		}
		return err
	}
	m.touch(field)
	return nil
}

// numericFunc combines the current value with the operand. It reports false
// when the document should not change.
type numericFunc func(cur, operand document.Value) (document.Value, bool, error)

// inc adds in int64 when both sides are integers and in float64 otherwise.
// Results that do not fit are refused, as MongoDB refuses them.
func inc(cur, operand document.Value) (document.Value, bool, error) {
	a, aInt := cur.(document.Int)
	b, bInt := operand.(document.Int)
	if aInt && bInt {
		if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
			return nil, false, errOverflow
		}
		return a + b, true, nil
	}
	af, _ := document.AsFloat(cur)
	bf, _ := document.AsFloat(operand)
	sum := af + bf
	if math.IsInf(sum, 0) || math.IsNaN(sum) {
		return nil, false, errOverflow
	}
	return document.Float(sum), true, nil
}

var errOverflow = errors.New("result overflows")

// keepIf replaces the current value when the operand compares to it as want.
func keepIf(want int) numericFunc {
	return func(cur, operand document.Value) (document.Value, bool, error) {
		if document.CompareNumbers(operand, cur) == want {
			return operand, true, nil
		}
		return cur, false, nil
	}
}

func (m *mutation) numeric(op dsl.Operator, field string, operand document.Value, fn numericFunc) error {
	if !document.IsNumber(operand) {
		return dberr.TypeMismatch(field, "%s needs a number, got %s", op, document.TypeName(operand))
	}
	cur, ok := document.Lookup(m.doc, field)
	if !ok {
		return dberr.TypeMismatch(field, "%s on a missing field", op)
	}
	if !document.IsNumber(cur) {
		return dberr.TypeMismatch(field, "%s on a %s field", op, document.TypeName(cur))
	}
	next, changed, err := fn(cur, operand)
	if err != nil {
		return dberr.TypeMismatch(field, "%s %s: %v", op, document.TypeName(cur), err)
	}
	if !changed {
		return nil
	}
	return m.store(field, next)
}

// arrayAt returns the array at field. Absent or null fields report exists=false.
func (m *mutation) arrayAt(op dsl.Operator, field string) (arr document.Array, exists bool, err error) {
	cur, ok := document.Lookup(m.doc, field)
	if !ok || document.IsNull(cur) {
		return nil, false, nil
	}
	arr, isArray := cur.(document.Array)
	if !isArray {
		return nil, true, dberr.TypeMismatch(field, "%s on a %s field", op, document.TypeName(cur))
	}
	return arr, true, nil
}

func (m *mutation) add(field string, values []document.Value, unique bool) error {
	op := dsl.OpPush
	if unique {
		op = dsl.OpAdd
	}
	arr, exists, err := m.arrayAt(op, field)
	if err != nil {
		return err
	}
	next := append(document.Array{}, arr...)
	for _, v := range values {
		if unique && contains(next, v) {
			continue
		}
		next = append(next, document.Clone(v))
	}
	if exists && len(next) == len(arr) {
		return nil
	}
	return m.store(field, next)
}

func (m *mutation) pull(field string, values []document.Value) error {
	cur, ok := document.Lookup(m.doc, field)
	if !ok || document.IsNull(cur) {
		return nil
	}
	arr, isArray := cur.(document.Array)
	if !isArray {
		return dberr.TypeMismatch(field, "%s on a %s field", dsl.OpPull, document.TypeName(cur))
	}
	next := make(document.Array, 0, len(arr))
	for _, elem := range arr {
		if !contains(values, elem) {
			next = append(next, elem)
		}
	}
	if len(next) == len(arr) {
		return nil
	}
	return m.store(field, next)
}

func (m *mutation) pop(field string, n int) error {
	cur, ok := document.Lookup(m.doc, field)
	if !ok {
		return nil
	}
	arr, isArray := cur.(document.Array)
	if !isArray {
		return dberr.TypeMismatch(field, "%s on a %s field", dsl.OpPop, document.TypeName(cur))
	}
	count := n
	if count < 0 {
		count = -count
	}
	if count > len(arr) {
		count = len(arr)
	}
	if count == 0 {
		return nil
	}
	var next document.Array
	if n < 0 {
		next = append(document.Array{}, arr[count:]...)
	} else {
		next = append(document.Array{}, arr[:len(arr)-count]...)
	}
	return m.store(field, next)
}

func (m *mutation) rename(from, to string) error {
	v, ok := document.Lookup(m.doc, from)
	if !ok {
		return dberr.FieldNotFound(from)
	}
	document.DeletePath(m.doc, from)
	m.touch(from)
	return m.store(to, v)
}

func contains(arr []document.Value, v document.Value) bool {
	for _, elem := range arr {
		if document.Equal(elem, v) {
			return true
		}
	}
	return false
}
