package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
)

// Wire-format keys.
const (
	KeyQuery      = "$query"
	KeyRoots      = "$roots"
	KeyFilter     = "$filter"
	KeyProjection = "$projection"
	KeyAction     = "$action"
	KeyData       = "$data"

	keyLimit   = "$limit"
	keyOrderBy = "$orderby"
	keyCount   = "$count"
	keyFields  = "$fields"
	keyEach    = "$each"

	keyAnd    = "$and"
	keyOr     = "$or"
	keyEq     = "$eq"
	keyExists = "$exists"
	keyGte    = "$gte"
	keyLte    = "$lte"
	keyMatch  = "$match"
	keyIn     = "$in"
)

// QueryValue renders a filter tree in wire form.
func QueryValue(q Query) (document.Value, error) {
	switch node := q.(type) {
	case *And:
		return boolValue(keyAnd, node.Queries)
	case *Or:
		return boolValue(keyOr, node.Queries)
	case *Eq:
		return leaf(keyEq, node.Field, node.Value), nil
	case *Exists:
		return document.Object{keyExists: document.String(node.Field)}, nil
	case *Gte:
		return leaf(keyGte, node.Field, node.Value), nil
	case *Lte:
		return leaf(keyLte, node.Field, node.Value), nil
	case *Match:
		return leaf(keyMatch, node.Field, document.String(node.Text)), nil
	case *In:
		return leaf(keyIn, node.Field, document.Array(node.Values)), nil
	}
	return nil, dberr.InvalidQuery("", "unknown query node %T", q)
}

func boolValue(op string, children []Query) (document.Value, error) {
	arr := make(document.Array, len(children))
	for i, child := range children {
		v, err := QueryValue(child)
		if err != nil {
			return nil, err
		}
		arr[i] = v
	}
	return document.Object{op: arr}, nil
}

func leaf(op, field string, v document.Value) document.Object {
	return document.Object{op: document.Object{field: v}}
}

// ActionValue renders one action in wire form.
func ActionValue(a Action) (document.Value, error) {
	op := string(a.Op())
	switch act := a.(type) {
	case *Set:
		return leaf(op, act.Field, act.Value), nil
	case *Unset:
		fields := make(document.Array, len(act.Fields))
		for i, f := range act.Fields {
			fields[i] = document.String(f)
		}
		return document.Object{op: fields}, nil
	case *Inc:
		return leaf(op, act.Field, act.Value), nil
	case *Min:
		return leaf(op, act.Field, act.Value), nil
	case *Max:
		return leaf(op, act.Field, act.Value), nil
	case *Add:
		return leaf(op, act.Field, each(act.Values)), nil
	case *Push:
		return leaf(op, act.Field, each(act.Values)), nil
	case *Pull:
		return leaf(op, act.Field, each(act.Values)), nil
	case *Pop:
		return leaf(op, act.Field, document.Int(act.Count)), nil
	case *Rename:
		return leaf(op, act.From, document.String(act.To)), nil
	}
	return nil, dberr.InvalidQuery("", "unknown action %T", a)
}

func each(values []document.Value) document.Object {
	return document.Object{keyEach: document.Array(values)}
}

func stringArray(ss []string) document.Array {
	arr := make(document.Array, len(ss))
	for i, s := range ss {
		arr[i] = document.String(s)
	}
	return arr
}

// Final validates the select and renders its canonical wire form.
func (s *Select) Final(depthLimit int) ([]byte, error) {
	if err := s.Validate(depthLimit); err != nil {
		return nil, err
	}
	q, err := QueryValue(s.Query)
	if err != nil {
		return nil, err
	}

	filter := document.Object{}
	if s.Limit > 0 {
		filter[keyLimit] = document.Int(s.Limit)
	}
	if len(s.OrderBy) > 0 {
		orders := make(document.Array, len(s.OrderBy))
		for i, o := range s.OrderBy {
			dir := document.Int(1)
			if o.Desc {
				dir = -1
			}
			orders[i] = document.Object{o.Field: dir}
		}
		filter[keyOrderBy] = orders
	}
	if s.CountOnly {
		filter[keyCount] = document.Bool(true)
	}

	projection := document.Object{}
	if len(s.Projection) > 0 {
		fields := document.Object{}
		for _, f := range s.Projection {
			fields[f] = document.Int(1)
		}
		projection[keyFields] = fields
	}

	return document.MarshalCanonical(document.Object{
		KeyQuery:      q,
		KeyRoots:      stringArray(s.Roots),
		KeyFilter:     filter,
		KeyProjection: projection,
	})
}

// Final validates the insert and renders its canonical wire form.
func (i *Insert) Final(int) ([]byte, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	docs := make(document.Array, len(i.Documents))
	for n, d := range i.Documents {
		docs[n] = d
	}
	return document.MarshalCanonical(document.Object{KeyData: docs})
}

// Final validates the update and renders its canonical wire form.
func (u *Update) Final(depthLimit int) ([]byte, error) {
	if err := u.Validate(depthLimit); err != nil {
		return nil, err
	}
	q, err := QueryValue(u.Query)
	if err != nil {
		return nil, err
	}
	actions := make(document.Array, len(u.Actions))
	for i, a := range u.Actions {
		v, err := ActionValue(a)
		if err != nil {
			return nil, err
		}
		actions[i] = v
	}
	return document.MarshalCanonical(document.Object{
		KeyQuery:  q,
		KeyRoots:  stringArray(u.Roots),
		KeyAction: actions,
	})
}

// Final validates the delete and renders its canonical wire form.
func (d *Delete) Final(depthLimit int) ([]byte, error) {
	if err := d.Validate(depthLimit); err != nil {
		return nil, err
	}
	q, err := QueryValue(d.Query)
	if err != nil {
		return nil, err
	}
	return document.MarshalCanonical(document.Object{
		KeyQuery: q,
		KeyRoots: stringArray(d.Roots),
	})
}

// member is one key of a JSON object, in document order.
type member struct {
	Key string
	Raw json.RawMessage
}

// decodeMembers decodes a JSON object keeping key order.
func decodeMembers(raw json.RawMessage) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object")
	}
	var out []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key")
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		out = append(out, member{Key: key, Raw: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// single decodes an object that must hold exactly one key.
func single(raw json.RawMessage, what string) (member, error) {
	members, err := decodeMembers(raw)
	if err != nil {
		return member{}, dberr.InvalidQuery("", "%s: %v", what, err)
	}
	if len(members) != 1 {
		return member{}, dberr.InvalidQuery("", "%s must have exactly one key, got %d", what, len(members))
	}
	return members[0], nil
}

func parseValue(raw json.RawMessage, field string) (document.Value, error) {
	v, err := document.Parse(raw)
	if err != nil {
		return nil, dberr.InvalidQuery(field, "invalid value: %v", err)
	}
	return v, nil
}

func parseString(raw json.RawMessage, field string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", dberr.InvalidQuery(field, "expected string: %v", err)
	}
	return s, nil
}

func parseArray(raw json.RawMessage, field string) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, dberr.InvalidQuery(field, "expected array: %v", err)
	}
	return arr, nil
}

// ParseQuery reads a filter tree from wire form.
func ParseQuery(raw json.RawMessage) (Query, error) {
	op, err := single(raw, "query node")
	if err != nil {
		return nil, err
	}

	switch op.Key {
	case keyAnd, keyOr:
		items, err := parseArray(op.Raw, op.Key)
		if err != nil {
			return nil, err
		}
		children := make([]Query, 0, len(items))
		for _, item := range items {
			child, err := ParseQuery(item)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if op.Key == keyAnd {
			return &And{Queries: children}, nil
		}
		return &Or{Queries: children}, nil
	case keyExists:
		field, err := parseString(op.Raw, keyExists)
		if err != nil {
			return nil, err
		}
		return &Exists{Field: field}, nil
	}

	arg, err := single(op.Raw, op.Key)
	if err != nil {
		return nil, err
	}
	switch op.Key {
	case keyEq, keyGte, keyLte:
		v, err := parseValue(arg.Raw, arg.Key)
		if err != nil {
			return nil, err
		}
		switch op.Key {
		case keyEq:
			return &Eq{Field: arg.Key, Value: v}, nil
		case keyGte:
			return &Gte{Field: arg.Key, Value: v}, nil
		}
		return &Lte{Field: arg.Key, Value: v}, nil
	case keyMatch:
		text, err := parseString(arg.Raw, arg.Key)
		if err != nil {
			return nil, err
		}
		return &Match{Field: arg.Key, Text: text}, nil
	case keyIn:
		v, err := parseValue(arg.Raw, arg.Key)
		if err != nil {
			return nil, err
		}
		arr, ok := v.(document.Array)
		if !ok {
			return nil, dberr.InvalidQuery(arg.Key, "$in expects an array")
		}
		return &In{Field: arg.Key, Values: []document.Value(arr)}, nil
	}
	return nil, dberr.InvalidQuery("", "unknown query operator %q", op.Key)
}

// ParseActions reads an action list. Each element may hold several
// operators and each operator several fields; all are kept in order.
func ParseActions(raw json.RawMessage) ([]Action, error) {
	items, err := parseArray(raw, KeyAction)
	if err != nil {
		return nil, err
	}
	var actions []Action
	for _, item := range items {
		ops, err := decodeMembers(item)
		if err != nil {
			return nil, dberr.InvalidQuery("", "action: %v", err)
		}
		for _, op := range ops {
			parsed, err := parseOperator(Operator(op.Key), op.Raw)
			if err != nil {
				return nil, err
			}
			actions = append(actions, parsed...)
		}
	}
	return actions, nil
}

func parseOperator(op Operator, raw json.RawMessage) ([]Action, error) {
	if op == OpUnset {
		items, err := parseArray(raw, string(op))
		if err != nil {
			return nil, err
		}
		fields := make([]string, len(items))
		for i, item := range items {
			if fields[i], err = parseString(item, string(op)); err != nil {
				return nil, err
			}
		}
		return []Action{&Unset{Fields: fields}}, nil
	}

	args, err := decodeMembers(raw)
	if err != nil {
		return nil, dberr.InvalidQuery("", "%s: %v", op, err)
	}
	out := make([]Action, 0, len(args))
	for _, arg := range args {
		a, err := parseArgument(op, arg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func parseArgument(op Operator, arg member) (Action, error) {
	switch op {
	case OpSet, OpInc, OpMin, OpMax:
		v, err := parseValue(arg.Raw, arg.Key)
		if err != nil {
			return nil, err
		}
		switch op {
		case OpSet:
			return &Set{Field: arg.Key, Value: v}, nil
		case OpInc:
			return &Inc{Field: arg.Key, Value: v}, nil
		case OpMin:
			return &Min{Field: arg.Key, Value: v}, nil
		}
		return &Max{Field: arg.Key, Value: v}, nil
	case OpAdd, OpPush, OpPull:
		values, err := parseEach(op, arg)
		if err != nil {
			return nil, err
		}
		switch op {
		case OpAdd:
			return &Add{Field: arg.Key, Values: values}, nil
		case OpPush:
			return &Push{Field: arg.Key, Values: values}, nil
		}
		return &Pull{Field: arg.Key, Values: values}, nil
	case OpPop:
		var n int
		if err := json.Unmarshal(arg.Raw, &n); err != nil {
			return nil, dberr.InvalidQuery(arg.Key, "$pop expects an integer: %v", err)
		}
		return &Pop{Field: arg.Key, Count: n}, nil
	case OpRename:
		to, err := parseString(arg.Raw, arg.Key)
		if err != nil {
			return nil, err
		}
		return &Rename{From: arg.Key, To: to}, nil
	}
	return nil, dberr.InvalidQuery(arg.Key, "unknown update operator %q", op)
}

func parseEach(op Operator, arg member) ([]document.Value, error) {
	v, err := parseValue(arg.Raw, arg.Key)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(document.Object)
	if !ok {
		return nil, dberr.InvalidQuery(arg.Key, "%s expects {\"$each\": [...]}", op)
	}
	arr, ok := obj[keyEach].(document.Array)
	if !ok || len(obj) != 1 {
		return nil, dberr.InvalidQuery(arg.Key, "%s expects {\"$each\": [...]}", op)
	}
	return []document.Value(arr), nil
}

func envelope(data []byte, allowed ...string) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, dberr.InvalidQuery("", "request is not a JSON object: %v", err)
	}
	for key := range top {
		known := false
		for _, a := range allowed {
			if key == a {
				known = true
				break
			}
		}
		if !known {
			return nil, dberr.InvalidQuery("", "unexpected key %q", key)
		}
	}
	return top, nil
}

func parseRoots(top map[string]json.RawMessage) ([]string, error) {
	raw, ok := top[KeyRoots]
	if !ok {
		return nil, nil
	}
	var roots []string
	if err := json.Unmarshal(raw, &roots); err != nil {
		return nil, dberr.InvalidQuery(IDField, "$roots expects an array of ids: %v", err)
	}
	return roots, nil
}

func parseEnvelopeQuery(top map[string]json.RawMessage) (Query, error) {
	raw, ok := top[KeyQuery]
	if !ok {
		return nil, dberr.InvalidQuery("", "missing %s", KeyQuery)
	}
	return ParseQuery(raw)
}

// ParseSelect reads a select request.
func ParseSelect(data []byte) (*Select, error) {
	top, err := envelope(data, KeyQuery, KeyRoots, KeyFilter, KeyProjection)
	if err != nil {
		return nil, err
	}
	s := &Select{}
	if s.Query, err = parseEnvelopeQuery(top); err != nil {
		return nil, err
	}
	if s.Roots, err = parseRoots(top); err != nil {
		return nil, err
	}
	if raw, ok := top[KeyFilter]; ok {
		if err := parseFilter(raw, s); err != nil {
			return nil, err
		}
	}
	if raw, ok := top[KeyProjection]; ok {
		if s.Projection, err = parseProjection(raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseFilter(raw json.RawMessage, s *Select) error {
	members, err := decodeMembers(raw)
	if err != nil {
		return dberr.InvalidQuery("", "%s: %v", KeyFilter, err)
	}
	for _, m := range members {
		switch m.Key {
		case keyLimit:
			if err := json.Unmarshal(m.Raw, &s.Limit); err != nil {
				return dberr.InvalidQuery("", "$limit expects an integer: %v", err)
			}
		case keyCount:
			if err := json.Unmarshal(m.Raw, &s.CountOnly); err != nil {
				return dberr.InvalidQuery("", "$count expects a boolean: %v", err)
			}
		case keyOrderBy:
			if s.OrderBy, err = parseOrderBy(m.Raw); err != nil {
				return err
			}
		default:
			return dberr.InvalidQuery("", "unexpected filter key %q", m.Key)
		}
	}
	return nil
}

// parseOrderBy accepts [{"a":1},{"b":-1}] or {"a":1,"b":-1}.
func parseOrderBy(raw json.RawMessage) ([]OrderBy, error) {
	var keys []member
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		items, err := parseArray(raw, keyOrderBy)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			members, err := decodeMembers(item)
			if err != nil {
				return nil, dberr.InvalidQuery("", "$orderby: %v", err)
			}
			keys = append(keys, members...)
		}
	} else {
		members, err := decodeMembers(raw)
		if err != nil {
			return nil, dberr.InvalidQuery("", "$orderby: %v", err)
		}
		keys = members
	}

	out := make([]OrderBy, 0, len(keys))
	for _, k := range keys {
		var dir int
		if err := json.Unmarshal(k.Raw, &dir); err != nil || dir == 0 {
			return nil, dberr.InvalidQuery(k.Key, "$orderby direction must be 1 or -1")
		}
		out = append(out, OrderBy{Field: k.Key, Desc: dir < 0})
	}
	return out, nil
}

// parseProjection accepts {"$fields":{"a":1}} or {"$fields":["a"]}.
func parseProjection(raw json.RawMessage) ([]string, error) {
	members, err := decodeMembers(raw)
	if err != nil {
		return nil, dberr.InvalidQuery("", "%s: %v", KeyProjection, err)
	}
	var fields []string
	for _, m := range members {
		if m.Key != keyFields {
			return nil, dberr.InvalidQuery("", "unexpected projection key %q", m.Key)
		}
		if err := json.Unmarshal(m.Raw, &fields); err == nil {
			continue
		}
		entries, err := decodeMembers(m.Raw)
		if err != nil {
			return nil, dberr.InvalidQuery("", "$fields: %v", err)
		}
		for _, e := range entries {
			var include int
			if err := json.Unmarshal(e.Raw, &include); err != nil {
				return nil, dberr.InvalidQuery(e.Key, "$fields value must be 0 or 1")
			}
			if include > 0 {
				fields = append(fields, e.Key)
			}
		}
	}
	return fields, nil
}

// ParseInsert reads an insert request.
func ParseInsert(data []byte) (*Insert, error) {
	top, err := envelope(data, KeyData)
	if err != nil {
		return nil, err
	}
	raw, ok := top[KeyData]
	if !ok {
		return nil, dberr.InvalidQuery("", "missing %s", KeyData)
	}
	items, err := parseArray(raw, KeyData)
	if err != nil {
		return nil, err
	}
	ins := &Insert{Documents: make([]document.Object, 0, len(items))}
	for n, item := range items {
		doc, err := document.ParseObject(item)
		if err != nil {
			return nil, dberr.InvalidQuery("", "document %d: %v", n, err)
		}
		ins.Documents = append(ins.Documents, doc)
	}
	return ins, nil
}

// ParseUpdate reads an update request.
func ParseUpdate(data []byte) (*Update, error) {
	top, err := envelope(data, KeyQuery, KeyRoots, KeyAction)
	if err != nil {
		return nil, err
	}
	u := &Update{}
	if u.Query, err = parseEnvelopeQuery(top); err != nil {
		return nil, err
	}
	if u.Roots, err = parseRoots(top); err != nil {
		return nil, err
	}
	raw, ok := top[KeyAction]
	if !ok {
		return nil, dberr.InvalidQuery("", "missing %s", KeyAction)
	}
	if u.Actions, err = ParseActions(raw); err != nil {
		return nil, err
	}
	return u, nil
}

// ParseDelete reads a delete request.
func ParseDelete(data []byte) (*Delete, error) {
	top, err := envelope(data, KeyQuery, KeyRoots)
	if err != nil {
		return nil, err
	}
	d := &Delete{}
	if d.Query, err = parseEnvelopeQuery(top); err != nil {
		return nil, err
	}
	if d.Roots, err = parseRoots(top); err != nil {
		return nil, err
	}
	return d, nil
}

// Parse reads a request of the given kind.
func Parse(kind Kind, data []byte) (Request, error) {
	var (
		req Request
		err error
	)
	switch kind {
	case KindSelect:
		var s *Select
		s, err = ParseSelect(data)
		req = s
	case KindInsert:
		var i *Insert
		i, err = ParseInsert(data)
		req = i
	case KindUpdate:
		var u *Update
		u, err = ParseUpdate(data)
		req = u
	case KindDelete:
		var d *Delete
		d, err = ParseDelete(data)
		req = d
	default:
		return nil, dberr.InvalidQuery("", "unknown request kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}
