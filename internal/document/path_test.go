package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	doc := Object{
		"a": Object{"b": Array{String("x"), Object{"c": Int(1)}}},
		"n": Null{},
	}

	v, ok := Lookup(doc, "a.b.1.c")
	require.True(t, ok)
	assert.Equal(t, Int(1), v)

	v, ok = Lookup(doc, "n")
	require.True(t, ok)
	assert.Equal(t, Null{}, v)

	_, ok = Lookup(doc, "a.b.5")
	assert.False(t, ok)

	_, ok = Lookup(doc, "a.missing.c")
	assert.False(t, ok)
}

func TestSetPathCreatesIntermediates(t *testing.T) {
	doc := Object{}
	require.NoError(t, SetPath(doc, "a.b.c", Int(1)))
	assert.Equal(t, Object{"a": Object{"b": Object{"c": Int(1)}}}, doc)
}

func TestSetPathArrayPadding(t *testing.T) {
	doc := Object{"arr": Array{Int(0)}}
	require.NoError(t, SetPath(doc, "arr.2", Int(2)))
	assert.Equal(t, Array{Int(0), Null{}, Int(2)}, doc["arr"])
}

func TestSetPathThroughScalarFails(t *testing.T) {
	doc := Object{"a": String("scalar")}
	err := SetPath(doc, "a.b", Int(1))

	var pe *PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "string", pe.Found)
	assert.Equal(t, Object{"a": String("scalar")}, doc)
}

func TestDeletePath(t *testing.T) {
	doc := Object{"a": Object{"b": Int(1), "c": Int(2)}, "arr": Array{Int(1), Int(2)}}

	assert.True(t, DeletePath(doc, "a.b"))
	assert.True(t, DeletePath(doc, "arr.0"))
	assert.False(t, DeletePath(doc, "x.y.z"))
	assert.False(t, DeletePath(doc, "a.zzz"))

	assert.Equal(t, Object{"a": Object{"c": Int(2)}, "arr": Array{Null{}, Int(2)}}, doc)
}

func TestValidPath(t *testing.T) {
	assert.True(t, ValidPath("a.b"))
	assert.False(t, ValidPath(""))
	assert.False(t, ValidPath("a..b"))
	assert.False(t, ValidPath(".a"))
}
