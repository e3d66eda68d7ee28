package engine

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/queryes"
	"github.com/roach88/recordsdb/internal/querymongo"
)

// pagedSource serves fixed pages; tokens are "p1", "p2", ...
type pagedSource struct {
	mu       sync.Mutex
	pages    [][]document.Object
	total    int64
	released []string
	fetched  []string
	failAt   string
	err      error
}

func (s *pagedSource) page(i int) Page {
	p := Page{Documents: s.pages[i], Total: s.total}
	if i+1 < len(s.pages) {
		p.Token = fmt.Sprintf("p%d", i+1)
	}
	return p
}

func (s *pagedSource) first() Page {
	if len(s.pages) == 0 {
		return Page{Total: s.total}
	}
	return s.page(0)
}

func (s *pagedSource) Next(_ context.Context, token string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, token)
	if token == s.failAt {
		return Page{}, s.err
	}
	var i int
	if _, err := fmt.Sscanf(token, "p%d", &i); err != nil || i >= len(s.pages) {
		return Page{}, fmt.Errorf("unknown token %q", token)
	}
	return s.page(i), nil
}

func (s *pagedSource) Release(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, token)
	return nil
}

type fakePrimary struct {
	src      *pagedSource
	findErr  error
	writeErr error
	acked    int64
	count    int64

	lastFind   *querymongo.FindPlan
	lastUpdate *querymongo.UpdatePlan
	lastFilter bson.D
	inserted   []any
	calls      int
}

func (f *fakePrimary) Insert(_ context.Context, docs []any) (int64, error) {
	f.calls++
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.inserted = docs
	return f.acked, nil
}

func (f *fakePrimary) Find(ctx context.Context, plan *querymongo.FindPlan) (Page, PageSource, error) {
	f.calls++
	f.lastFind = plan
	if f.findErr != nil {
		return Page{}, nil, f.findErr
	}
	if err := ctx.Err(); err != nil {
		return Page{}, nil, err
	}
	return f.src.first(), f.src, nil
}

func (f *fakePrimary) Count(_ context.Context, filter bson.D) (int64, error) {
	f.calls++
	f.lastFilter = filter
	return f.count, nil
}

func (f *fakePrimary) Update(_ context.Context, plan *querymongo.UpdatePlan) (int64, error) {
	f.calls++
	f.lastUpdate = plan
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.acked, nil
}

func (f *fakePrimary) Delete(_ context.Context, filter bson.D) (int64, error) {
	f.calls++
	f.lastFilter = filter
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.acked, nil
}

type fakeSearch struct {
	src      *pagedSource
	lastPlan *queryes.SearchPlan
	// partial makes Search return an opened first page together with err.
	partial bool
	err     error
}

func (f *fakeSearch) Search(_ context.Context, plan *queryes.SearchPlan) (Page, PageSource, error) {
	f.lastPlan = plan
	if f.err != nil {
		if f.partial {
			return f.src.first(), f.src, f.err
		}
		return Page{}, nil, f.err
	}
	return f.src.first(), f.src, nil
}

func docs(ids ...string) []document.Object {
	out := make([]document.Object, len(ids))
	for i, id := range ids {
		out[i] = document.Object{"_id": document.String(id)}
	}
	return out
}
