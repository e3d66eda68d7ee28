package querymongo

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
)

// nativeOperator maps DSL operators to MongoDB update operators.
var nativeOperator = map[dsl.Operator]string{
	dsl.OpSet:    "$set",
	dsl.OpUnset:  "$unset",
	dsl.OpInc:    "$inc",
	dsl.OpMin:    "$min",
	dsl.OpMax:    "$max",
	dsl.OpAdd:    "$addToSet",
	dsl.OpPush:   "$push",
	dsl.OpPull:   "$pull",
	dsl.OpPop:    "$pop",
	dsl.OpRename: "$rename",
}

// updateBuilder groups fields under their operator in first-seen order.
// Path conflicts are rejected earlier by dsl.ValidateActions.
type updateBuilder struct {
	ops  []string
	byOp map[string]bson.D
}

func (b *updateBuilder) add(op, field string, v any) error {
	if _, ok := b.byOp[op]; !ok {
		b.ops = append(b.ops, op)
	}
	b.byOp[op] = append(b.byOp[op], bson.E{Key: field, Value: v})
	return nil
}

func (b *updateBuilder) build() bson.D {
	out := make(bson.D, 0, len(b.ops))
	for _, op := range b.ops {
		out = append(out, bson.E{Key: op, Value: b.byOp[op]})
	}
	return out
}

// CompileActions compiles an action list into one MongoDB update document.
func CompileActions(actions []dsl.Action) (bson.D, error) {
	if err := dsl.ValidateActions(actions); err != nil {
		return nil, err
	}
	b := &updateBuilder{byOp: make(map[string]bson.D)}

	for _, a := range actions {
		op := nativeOperator[a.Op()]
		var err error
		switch act := a.(type) {
		case *dsl.Set:
			err = b.add(op, act.Field, ToBSON(act.Value))
		case *dsl.Unset:
			for _, f := range act.Fields {
				if err = b.add(op, f, ""); err != nil {
					break
				}
			}
		case *dsl.Inc:
			err = numericAction(b, op, act.Field, act.Value)
		case *dsl.Min:
			err = numericAction(b, op, act.Field, act.Value)
		case *dsl.Max:
			err = numericAction(b, op, act.Field, act.Value)
		case *dsl.Add:
			err = b.add(op, act.Field, eachOf(act.Values))
		case *dsl.Push:
			err = b.add(op, act.Field, eachOf(act.Values))
		case *dsl.Pull:
			err = b.add(op, act.Field, bson.D{{Key: "$in", Value: ToBSON(document.Array(act.Values))}})
		case *dsl.Pop:
			err = popAction(b, op, act)
		case *dsl.Rename:
			err = b.add(op, act.From, act.To)
		}
		if err != nil {
			return nil, err
		}
	}
	update := b.build()
	if len(update) == 0 {
		return nil, dberr.InvalidQuery("", "update has no effect")
	}
	return update, nil
}

func numericAction(b *updateBuilder, op, field string, v document.Value) error {
	if !document.IsNumber(v) {
		return dberr.TypeMismatch(field, "%s needs a number, got %s", op, document.TypeName(v))
	}
	return b.add(op, field, ToBSON(v))
}

func eachOf(values []document.Value) bson.D {
	return bson.D{{Key: "$each", Value: ToBSON(document.Array(values))}}
}

// popAction emits $pop for a single element. MongoDB has no operator that
// removes several elements from one end without knowing the array length.
func popAction(b *updateBuilder, op string, p *dsl.Pop) error {
	switch p.Count {
	case 0:
		return nil
	case 1, -1:
		return b.add(op, p.Field, p.Count)
	}
	return dberr.UnsupportedQuery(p.Field, "$pop of %d elements has no single-operator form", p.Count)
}
