package engine

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/queryes"
	"github.com/roach88/recordsdb/internal/querymongo"
)

// Page is one batch of a result. An empty Token means no page follows.
type Page struct {
	Documents []document.Object
	Token     string
	Total     int64
}

// PageSource produces the pages of one open result on a backend.
type PageSource interface {
	// Next fetches the page after the one that returned token.
	Next(ctx context.Context, token string) (Page, error)

	// Release frees backend resources held for token.
	Release(ctx context.Context, token string) error
}

// PrimaryStore is the system of record. Implementations translate native
// errors into dberr codes before returning them.
type PrimaryStore interface {
	Insert(ctx context.Context, docs []any) (inserted int64, err error)
	Find(ctx context.Context, plan *querymongo.FindPlan) (Page, PageSource, error)
	Count(ctx context.Context, filter bson.D) (int64, error)
	Update(ctx context.Context, plan *querymongo.UpdatePlan) (matched int64, err error)
	Delete(ctx context.Context, filter bson.D) (deleted int64, err error)
}

// SearchIndex is the read-optimized derivative of the primary store. It may
// lag behind recent writes.
type SearchIndex interface {
	Search(ctx context.Context, plan *queryes.SearchPlan) (Page, PageSource, error)
}

// Backend names where a request was executed.
type Backend string

const (
	BackendPrimary Backend = "primary"
	BackendSearch  Backend = "search"
)
