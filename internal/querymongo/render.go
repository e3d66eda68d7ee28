package querymongo

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/recordsdb/internal/document"
)

// orderedValue renders a bson.D as an array of single-key objects so the
// order of sort keys and update operators survives canonical rendering.
func orderedValue(d bson.D) (document.Value, error) {
	arr := make(document.Array, len(d))
	for i, e := range d {
		v, err := FromBSON(e.Value)
		if err != nil {
			return nil, err
		}
		arr[i] = document.Object{e.Key: v}
	}
	return arr, nil
}

// Document renders the plan for logging and display.
func (p *FindPlan) Document() (document.Object, error) {
	filter, err := FromBSON(p.Filter)
	if err != nil {
		return nil, err
	}
	out := document.Object{"filter": filter}
	if len(p.Projection) > 0 {
		if out["projection"], err = FromBSON(p.Projection); err != nil {
			return nil, err
		}
	}
	if len(p.Sort) > 0 {
		if out["sort"], err = orderedValue(p.Sort); err != nil {
			return nil, err
		}
	}
	if p.Limit > 0 {
		out["limit"] = document.Int(p.Limit)
	}
	if p.CountOnly {
		out["count"] = document.Bool(true)
	}
	return out, nil
}

// Document renders the plan for logging and display.
func (p *UpdatePlan) Document() (document.Object, error) {
	filter, err := FromBSON(p.Filter)
	if err != nil {
		return nil, err
	}
	update, err := orderedValue(p.Update)
	if err != nil {
		return nil, err
	}
	return document.Object{"filter": filter, "update": update}, nil
}
