package changefeed

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/querymongo"
)

// Op is a journal operation type.
type Op string

const (
	OpInsert  Op = "i"
	OpUpdate  Op = "u"
	OpDelete  Op = "d"
	OpNoop    Op = "n"
	OpCommand Op = "c"
)

// Mutating reports whether op changes document data.
func (op Op) Mutating() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Entry is one journal entry.
type Entry struct {
	Timestamp primitive.Timestamp `bson:"ts"`
	Op        Op                  `bson:"op"`
	Namespace string              `bson:"ns"`
	Object    bson.Raw            `bson:"o,omitempty"`
	Object2   bson.Raw            `bson:"o2,omitempty"`

	// Shard names the journal the entry was read from.
	Shard string `bson:"-"`
}

// DocumentID returns the id of the document the entry touches: o2._id for
// updates, o._id otherwise.
func (e Entry) DocumentID() (string, bool) {
	raw := e.Object
	if e.Op == OpUpdate {
		raw = e.Object2
	}
	if len(raw) == 0 {
		return "", false
	}
	v, err := raw.LookupErr("_id")
	if err != nil {
		return "", false
	}
	if s, ok := v.StringValueOK(); ok {
		return s, true
	}
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex(), true
	}
	return v.String(), true
}

// Document decodes the entry's object. For inserts it is the full
// document; for updates it is the update description.
func (e Entry) Document() (document.Object, error) {
	if len(e.Object) == 0 {
		return document.Object{}, nil
	}
	doc, err := querymongo.DocumentFromBSON(e.Object)
	if err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", e.Namespace, err)
	}
	return doc, nil
}

// Filter selects the entries a poll keeps.
type Filter struct {
	// Namespaces is the "database.collection" allow-list. Empty keeps
	// every namespace.
	Namespaces []string
}

// Allows reports whether e passes the filter.
func (f Filter) Allows(e Entry) bool {
	if !e.Op.Mutating() {
		return false
	}
	if len(f.Namespaces) == 0 {
		return true
	}
	for _, ns := range f.Namespaces {
		if ns == e.Namespace {
			return true
		}
	}
	return false
}
