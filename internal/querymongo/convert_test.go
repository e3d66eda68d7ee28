package querymongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/recordsdb/internal/document"
)

func TestToBSONSortsKeys(t *testing.T) {
	obj := document.Object{
		"b": document.Int(1),
		"a": document.NewArray(document.Float(1.5), document.Null{}),
	}
	assert.Equal(t, bson.D{
		{Key: "a", Value: bson.A{1.5, nil}},
		{Key: "b", Value: int64(1)},
	}, ToBSON(obj))
}

func TestFromBSONDriverTypes(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("5f1b2c3d4e5f6a7b8c9d0e1f")
	require.NoError(t, err)
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := FromBSON(bson.D{
		{Key: "_id", Value: oid},
		{Key: "when", Value: primitive.NewDateTimeFromTime(when)},
		{Key: "n32", Value: int32(7)},
		{Key: "f", Value: float64(2)},
		{Key: "bin", Value: primitive.Binary{Data: []byte("hi")}},
		{Key: "ts", Value: primitive.Timestamp{T: 1, I: 2}},
		{Key: "nested", Value: bson.M{"x": bson.A{"y", nil}}},
	})
	require.NoError(t, err)

	assert.Equal(t, document.Object{
		"_id":    document.String("5f1b2c3d4e5f6a7b8c9d0e1f"),
		"when":   document.String("2024-03-01T12:00:00Z"),
		"n32":    document.Int(7),
		"f":      document.Float(2),
		"bin":    document.String("aGk="),
		"ts":     document.Int(1<<32 | 2),
		"nested": document.Object{"x": document.NewArray(document.String("y"), document.Null{})},
	}, got)
}

func TestFromBSONRaw(t *testing.T) {
	raw, err := bson.Marshal(bson.D{{Key: "a", Value: "b"}, {Key: "n", Value: int64(3)}})
	require.NoError(t, err)

	got, err := DocumentFromBSON(bson.Raw(raw))
	require.NoError(t, err)
	assert.Equal(t, document.Object{"a": document.String("b"), "n": document.Int(3)}, got)
}

func TestFromBSONUnsupported(t *testing.T) {
	_, err := FromBSON(bson.D{{Key: "c", Value: make(chan int)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "c"`)

	_, err = DocumentFromBSON("scalar")
	assert.Error(t, err)
}

func TestRoundTripThroughBSON(t *testing.T) {
	doc := document.MustFromGo(map[string]any{
		"Title": "x",
		"tags":  []any{"a", int64(1), true},
		"meta":  map[string]any{"depth": 2.5},
	})
	back, err := FromBSON(ToBSON(doc))
	require.NoError(t, err)
	assert.True(t, document.Equal(doc, back))
}
