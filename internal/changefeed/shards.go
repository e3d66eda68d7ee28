package changefeed

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// ShardBatch is the merge of one poll across shards.
type ShardBatch struct {
	Entries map[string]Entry

	// Watermarks holds the next since value per shard.
	Watermarks map[string]primitive.Timestamp

	// Scanned counts entries read across shards before filtering.
	Scanned int
}

// PollShards polls every reader concurrently from its watermark in since
// (zero when absent) and merges the batches, keeping the latest entry per
// document id. Any shard failing fails the whole poll and no watermark
// advances.
func PollShards(ctx context.Context, readers []*Reader, filter Filter, since map[string]primitive.Timestamp, limit int) (*ShardBatch, error) {
	batches := make([]*Batch, len(readers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range readers {
		i, r := i, r
		g.Go(func() error {
			b, err := r.Poll(gctx, filter, since[r.Shard()], limit)
			if err != nil {
				return fmt.Errorf("shard %s: %w", r.Shard(), err)
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &ShardBatch{
		Entries:    make(map[string]Entry),
		Watermarks: make(map[string]primitive.Timestamp, len(readers)),
	}
	for i, b := range batches {
		out.Watermarks[readers[i].Shard()] = b.Watermark
		out.Scanned += b.Scanned
		merge(out.Entries, b.Entries)
	}
	return out, nil
}

func merge(dst, src map[string]Entry) {
	for id, e := range src {
		if prev, ok := dst[id]; ok && !e.Timestamp.After(prev.Timestamp) {
			continue
		}
		dst[id] = e
	}
}

// Tail tracks per-shard watermarks across polls. A watermark advances only
// after the batch handler succeeds.
type Tail struct {
	Readers []*Reader
	Filter  Filter
	Limit   int // entries per shard per poll

	mu         sync.Mutex
	watermarks map[string]primitive.Timestamp
}

// NewTail creates a Tail starting from watermarks.
func NewTail(readers []*Reader, filter Filter, limit int, watermarks map[string]primitive.Timestamp) *Tail {
	w := make(map[string]primitive.Timestamp, len(watermarks))
	for k, v := range watermarks {
		w[k] = v
	}
	return &Tail{Readers: readers, Filter: filter, Limit: limit, watermarks: w}
}

// Watermarks returns a copy of the current watermarks.
func (t *Tail) Watermarks() map[string]primitive.Timestamp {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]primitive.Timestamp, len(t.watermarks))
	for k, v := range t.watermarks {
		out[k] = v
	}
	return out
}

// Step runs one poll. It reports whether any shard advanced.
func (t *Tail) Step(ctx context.Context, fn func(context.Context, *ShardBatch) error) (bool, error) {
	batch, err := PollShards(ctx, t.Readers, t.Filter, t.Watermarks(), t.Limit)
	if err != nil {
		return false, err
	}
	if len(batch.Entries) > 0 {
		if err := fn(ctx, batch); err != nil {
			return false, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	advanced := false
	for shard, w := range batch.Watermarks {
		if w.After(t.watermarks[shard]) {
			t.watermarks[shard] = w
			advanced = true
		}
	}
	return advanced, nil
}
