package changefeed

import (
	"context"
	"slices"

	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/engine"
)

// Indexer receives synced documents.
type Indexer interface {
	Reindex(ctx context.Context, docs []document.Object) (int, error)
	Delete(ctx context.Context, ids []string) (int, error)
}

// Fetcher reads the current version of documents by id. Ids with no
// document are absent from the result.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) ([]document.Object, error)
}

// EngineFetcher fetches documents through the engine's primary store.
type EngineFetcher struct {
	Engine *engine.Engine
}

// Fetch selects ids as roots.
func (f EngineFetcher) Fetch(ctx context.Context, ids []string) ([]document.Object, error) {
	cur, err := f.Engine.Select(ctx, &dsl.Select{
		Query: dsl.Field(dsl.IDField).Exists(),
		Roots: ids,
		Limit: len(ids),
	})
	if err != nil {
		return nil, err
	}
	return cur.All(ctx)
}

// SyncResult counts what a Sync did.
type SyncResult struct {
	Reindexed int
	Deleted   int
}

// Sync brings the index in line with entries. Deleted documents are removed.
// Inserted and updated documents are re-read from the primary store and
// reindexed whole; an id the store no longer has is removed instead.
func Sync(ctx context.Context, entries map[string]Entry, fetch Fetcher, idx Indexer) (SyncResult, error) {
	var res SyncResult
	var live, gone []string
	for id, e := range entries {
		if e.Op == OpDelete {
			gone = append(gone, id)
		} else {
			live = append(live, id)
		}
	}
	slices.Sort(live)

	if len(live) > 0 {
		docs, err := fetch.Fetch(ctx, live)
		if err != nil {
			return res, err
		}
		found := make(map[string]bool, len(docs))
		for _, doc := range docs {
			if id, ok := doc[dsl.IDField].(document.String); ok {
				found[string(id)] = true
			}
		}
		for _, id := range live {
			if !found[id] {
				gone = append(gone, id)
			}
		}
		if res.Reindexed, err = idx.Reindex(ctx, docs); err != nil {
			return res, err
		}
	}

	slices.Sort(gone)
	var err error
	res.Deleted, err = idx.Delete(ctx, gone)
	return res, err
}
