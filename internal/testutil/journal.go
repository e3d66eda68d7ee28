package testutil

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Journal builds journal entries in the shape the primary store writes
// them, stamped by a JournalClock. The entries feed
// mongo.NewCursorFromDocuments in fakes.
type Journal struct {
	Clock *JournalClock

	ns      string
	entries []interface{}
}

// NewJournal creates a builder writing to namespace ns.
func NewJournal(ns string, clock *JournalClock) *Journal {
	return &Journal{Clock: clock, ns: ns}
}

// In switches the namespace of later entries.
func (j *Journal) In(ns string) *Journal {
	j.ns = ns
	return j
}

func (j *Journal) add(op string, o, o2 bson.D) *Journal {
	entry := bson.D{
		{Key: "ts", Value: j.Clock.Next()},
		{Key: "op", Value: op},
		{Key: "ns", Value: j.ns},
		{Key: "o", Value: o},
	}
	if o2 != nil {
		entry = append(entry, bson.E{Key: "o2", Value: o2})
	}
	j.entries = append(j.entries, entry)
	return j
}

// Insert appends an insert of a document with the given id and fields.
func (j *Journal) Insert(id string, fields ...bson.E) *Journal {
	o := append(bson.D{{Key: "_id", Value: id}}, fields...)
	return j.add("i", o, nil)
}

// Update appends an update of id. The o field holds a $set of fields.
func (j *Journal) Update(id string, fields ...bson.E) *Journal {
	o := bson.D{{Key: "$set", Value: bson.D(fields)}}
	return j.add("u", o, bson.D{{Key: "_id", Value: id}})
}

// Delete appends a delete of id.
func (j *Journal) Delete(id string) *Journal {
	return j.add("d", bson.D{{Key: "_id", Value: id}}, nil)
}

// Noop appends a periodic no-op entry.
func (j *Journal) Noop() *Journal {
	ns := j.ns
	j.ns = ""
	j.add("n", bson.D{{Key: "msg", Value: "periodic noop"}}, nil)
	j.ns = ns
	return j
}

// Entries returns the entries built so far.
func (j *Journal) Entries() []interface{} {
	out := make([]interface{}, len(j.entries))
	copy(out, j.entries)
	return out
}
