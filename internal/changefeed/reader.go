package changefeed

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/mongostore"
)

// DefaultBatchSize bounds a poll when the caller passes no maximum.
const DefaultBatchSize = 1000

var (
	entriesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordsdb_changefeed_entries_read_total",
		Help: "Journal entries scanned by change-feed polls.",
	}, []string{"shard"})

	entriesKept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordsdb_changefeed_entries_kept_total",
		Help: "Journal entries kept after filtering and deduplication.",
	}, []string{"shard"})
)

// Journal is the subset of *mongo.Collection a Reader reads from.
type Journal interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Batch is the result of one poll.
type Batch struct {
	// Entries maps document id to its latest entry in the batch.
	Entries map[string]Entry

	// Watermark is the newest timestamp scanned. It equals the poll's
	// since value when nothing was read.
	Watermark primitive.Timestamp

	// Scanned counts entries read before filtering.
	Scanned int
}

// Reader polls one journal.
type Reader struct {
	journal Journal
	shard   string
	logger  *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithShard names the journal's shard for logs, metrics and entries.
func WithShard(name string) Option {
	return func(r *Reader) {
		r.shard = name
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = l
	}
}

// NewReader creates a Reader over journal.
func NewReader(journal Journal, opts ...Option) *Reader {
	r := &Reader{journal: journal, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Shard returns the reader's shard name.
func (r *Reader) Shard() string {
	return r.shard
}

// Poll reads at most limit entries newer than since in journal order and
// returns the latest kept entry per document id.
func (r *Reader) Poll(ctx context.Context, filter Filter, since primitive.Timestamp, limit int) (*Batch, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	query := bson.D{{Key: "ts", Value: bson.D{{Key: "$gt", Value: since}}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "$natural", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.journal.Find(ctx, query, opts)
	if err != nil {
		return nil, mongostore.Translate(err)
	}
	defer cur.Close(context.WithoutCancel(ctx))

	batch := &Batch{Entries: make(map[string]Entry), Watermark: since}
	for cur.Next(ctx) {
		var e Entry
		if err := cur.Decode(&e); err != nil {
			return nil, dberr.Protocol(err, "decode journal entry")
		}
		batch.Scanned++
		if e.Timestamp.After(batch.Watermark) {
			batch.Watermark = e.Timestamp
		}
		if !filter.Allows(e) {
			continue
		}
		id, ok := e.DocumentID()
		if !ok {
			r.logger.Warn("journal entry without document id", "shard", r.shard, "ns", e.Namespace, "op", e.Op)
			continue
		}
		e.Shard = r.shard
		if prev, seen := batch.Entries[id]; seen && prev.Timestamp.After(e.Timestamp) {
			continue
		}
		batch.Entries[id] = e
	}
	if err := cur.Err(); err != nil {
		return nil, mongostore.Translate(err)
	}

	entriesRead.WithLabelValues(r.shard).Add(float64(batch.Scanned))
	entriesKept.WithLabelValues(r.shard).Add(float64(len(batch.Entries)))
	r.logger.Debug("journal polled",
		"shard", r.shard,
		"scanned", batch.Scanned,
		"kept", len(batch.Entries),
		"watermark", batch.Watermark)
	return batch, nil
}
