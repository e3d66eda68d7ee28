package querymongo

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/recordsdb/internal/document"
)

// ToBSON converts a document value into driver-native BSON values.
// Objects become bson.D with keys in canonical order so compiled output is
// deterministic.
func ToBSON(v document.Value) any {
	switch val := v.(type) {
	case nil, document.Null:
		return nil
	case document.String:
		return string(val)
	case document.Int:
		return int64(val)
	case document.Float:
		return float64(val)
	case document.Bool:
		return bool(val)
	case document.Array:
		arr := make(bson.A, len(val))
		for i, elem := range val {
			arr[i] = ToBSON(elem)
		}
		return arr
	case document.Object:
		d := make(bson.D, 0, len(val))
		for _, k := range val.SortedKeys() {
			d = append(d, bson.E{Key: k, Value: ToBSON(val[k])})
		}
		return d
	}
	return nil
}

// FromBSON converts a decoded BSON value into a document value. Types
// without a JSON counterpart are rendered as strings: ObjectIDs as hex,
// dates as RFC 3339 UTC, binary as base64.
func FromBSON(v any) (document.Value, error) {
	switch val := v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return document.Null{}, nil
	case string:
		return document.String(val), nil
	case bool:
		return document.Bool(val), nil
	case int32:
		return document.Int(val), nil
	case int64:
		return document.Int(val), nil
	case int:
		return document.Int(val), nil
	case float64:
		return document.Float(val), nil
	case primitive.ObjectID:
		return document.String(val.Hex()), nil
	case primitive.DateTime:
		return document.String(val.Time().UTC().Format(time.RFC3339Nano)), nil
	case primitive.Timestamp:
		return document.Int(int64(val.T)<<32 | int64(val.I)), nil
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("decimal %s: %w", val.String(), err)
		}
		return document.Float(f), nil
	case primitive.Binary:
		return document.String(base64.StdEncoding.EncodeToString(val.Data)), nil
	case primitive.Regex:
		return document.String(val.Pattern), nil
	case bson.A:
		return fromBSONArray([]any(val))
	case []any:
		return fromBSONArray(val)
	case bson.D:
		obj := make(document.Object, len(val))
		for _, e := range val {
			conv, err := FromBSON(e.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", e.Key, err)
			}
			obj[e.Key] = conv
		}
		return obj, nil
	case bson.M:
		return fromBSONMap(map[string]any(val))
	case map[string]any:
		return fromBSONMap(val)
	case bson.Raw:
		var d bson.D
		if err := bson.Unmarshal(val, &d); err != nil {
			return nil, fmt.Errorf("decode raw document: %w", err)
		}
		return FromBSON(d)
	}
	return nil, fmt.Errorf("unsupported BSON type %T", v)
}

func fromBSONArray(val []any) (document.Value, error) {
	arr := make(document.Array, len(val))
	for i, elem := range val {
		conv, err := FromBSON(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		arr[i] = conv
	}
	return arr, nil
}

func fromBSONMap(val map[string]any) (document.Value, error) {
	obj := make(document.Object, len(val))
	for k, elem := range val {
		conv, err := FromBSON(elem)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = conv
	}
	return obj, nil
}

// DocumentFromBSON converts a decoded BSON document into a document object.
func DocumentFromBSON(v any) (document.Object, error) {
	conv, err := FromBSON(v)
	if err != nil {
		return nil, err
	}
	obj, ok := conv.(document.Object)
	if !ok {
		return nil, fmt.Errorf("expected document, got %s", document.TypeName(conv))
	}
	return obj, nil
}
