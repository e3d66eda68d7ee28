package dsl

import "github.com/roach88/recordsdb/internal/document"

// Operator names an update operator. The set is closed.
type Operator string

const (
	OpSet    Operator = "$set"
	OpUnset  Operator = "$unset"
	OpInc    Operator = "$inc"
	OpMin    Operator = "$min"
	OpMax    Operator = "$max"
	OpAdd    Operator = "$add"
	OpPush   Operator = "$push"
	OpPull   Operator = "$pull"
	OpPop    Operator = "$pop"
	OpRename Operator = "$rename"
)

// Operators lists every operator in wire order.
var Operators = []Operator{OpSet, OpUnset, OpInc, OpMin, OpMax, OpAdd, OpPush, OpPull, OpPop, OpRename}

// Action is one update action.
//
// This is a sealed interface: only the action types below implement it.
// Each carries its own typed payload, so no operator name is interpreted at
// apply time.
type Action interface {
	actionNode()

	// Op returns the operator of the action.
	Op() Operator
}

// Set assigns Value to Field.
type Set struct {
	Field string
	Value document.Value
}

// Unset removes each of Fields.
type Unset struct {
	Fields []string
}

// Inc adds Value to the numeric Field.
type Inc struct {
	Field string
	Value document.Value
}

// Min keeps the smaller of Field and Value.
type Min struct {
	Field string
	Value document.Value
}

// Max keeps the larger of Field and Value.
type Max struct {
	Field string
	Value document.Value
}

// Add appends each of Values not already present in the array Field.
type Add struct {
	Field  string
	Values []document.Value
}

// Push appends every one of Values to the array Field, duplicates included.
type Push struct {
	Field  string
	Values []document.Value
}

// Pull removes every element of the array Field equal to one of Values.
type Pull struct {
	Field  string
	Values []document.Value
}

// Pop removes |Count| elements of the array Field: from the front when
// Count is negative, from the back when positive.
type Pop struct {
	Field string
	Count int
}

// Rename moves the value at From to To.
type Rename struct {
	From string
	To   string
}

func (*Set) actionNode()    {}
func (*Unset) actionNode()  {}
func (*Inc) actionNode()    {}
func (*Min) actionNode()    {}
func (*Max) actionNode()    {}
func (*Add) actionNode()    {}
func (*Push) actionNode()   {}
func (*Pull) actionNode()   {}
func (*Pop) actionNode()    {}
func (*Rename) actionNode() {}

func (*Set) Op() Operator    { return OpSet }
func (*Unset) Op() Operator  { return OpUnset }
func (*Inc) Op() Operator    { return OpInc }
func (*Min) Op() Operator    { return OpMin }
func (*Max) Op() Operator    { return OpMax }
func (*Add) Op() Operator    { return OpAdd }
func (*Push) Op() Operator   { return OpPush }
func (*Pull) Op() Operator   { return OpPull }
func (*Pop) Op() Operator    { return OpPop }
func (*Rename) Op() Operator { return OpRename }

// SetValue builds a Set action.
func SetValue(field string, v any) *Set {
	return &Set{Field: field, Value: toValue(v)}
}

// UnsetFields builds an Unset action.
func UnsetFields(fields ...string) *Unset {
	return &Unset{Fields: fields}
}

// IncBy builds an Inc action.
func IncBy(field string, v any) *Inc {
	return &Inc{Field: field, Value: toValue(v)}
}

// MinOf builds a Min action.
func MinOf(field string, v any) *Min {
	return &Min{Field: field, Value: toValue(v)}
}

// MaxOf builds a Max action.
func MaxOf(field string, v any) *Max {
	return &Max{Field: field, Value: toValue(v)}
}

// AddEach builds an Add action.
func AddEach(field string, vs ...any) *Add {
	return &Add{Field: field, Values: toValues(vs)}
}

// PushEach builds a Push action.
func PushEach(field string, vs ...any) *Push {
	return &Push{Field: field, Values: toValues(vs)}
}

// PullEach builds a Pull action.
func PullEach(field string, vs ...any) *Pull {
	return &Pull{Field: field, Values: toValues(vs)}
}

// PopN builds a Pop action.
func PopN(field string, n int) *Pop {
	return &Pop{Field: field, Count: n}
}

// RenameField builds a Rename action.
func RenameField(from, to string) *Rename {
	return &Rename{From: from, To: to}
}

// ActionFields returns the field paths an action writes.
func ActionFields(a Action) []string {
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
