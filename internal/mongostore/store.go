// Package mongostore is the primary-store adapter over the MongoDB driver.
//
// Every driver error is passed through Translate before it leaves the
// package, so callers only see dberr codes.
package mongostore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/engine"
	"github.com/roach88/recordsdb/internal/querymongo"
)

// DefaultPageSize is the number of documents per cursor page.
const DefaultPageSize = 100

// Collection is the subset of *mongo.Collection the store uses.
type Collection interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Store implements engine.PrimaryStore.
type Store struct {
	coll     Collection
	pageSize int
	logger   *slog.Logger
}

var _ engine.PrimaryStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets the cursor page size. Default: DefaultPageSize.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a Store over coll.
func New(coll Collection, opts ...Option) *Store {
	s := &Store{coll: coll, pageSize: DefaultPageSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a client and returns the collection. The caller disconnects
// the client.
func Connect(ctx context.Context, uri, database, collection string, timeout time.Duration) (*mongo.Client, *mongo.Collection, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, Translate(err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, nil, Translate(err)
	}
	return client, client.Database(database).Collection(collection), nil
}

// Insert writes docs in order and returns the acknowledged count.
func (s *Store) Insert(ctx context.Context, docs []any) (int64, error) {
	res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		return 0, Translate(err)
	}
	return int64(len(res.InsertedIDs)), nil
}

// Update applies the update to every matching document and returns the
// matched count.
func (s *Store) Update(ctx context.Context, plan *querymongo.UpdatePlan) (int64, error) {
	res, err := s.coll.UpdateMany(ctx, plan.Filter, plan.Update)
	if err != nil {
		return 0, Translate(err)
	}
	return res.MatchedCount, nil
}

// Delete removes matching documents and returns the deleted count.
func (s *Store) Delete(ctx context.Context, filter bson.D) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, Translate(err)
	}
	return res.DeletedCount, nil
}

// Count returns the number of matching documents.
func (s *Store) Count(ctx context.Context, filter bson.D) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, Translate(err)
	}
	return n, nil
}

// Find opens a driver cursor and reads its first page.
func (s *Store) Find(ctx context.Context, plan *querymongo.FindPlan) (engine.Page, engine.PageSource, error) {
	opts := plan.Options().SetBatchSize(int32(s.pageSize))
	cur, err := s.coll.Find(ctx, plan.Filter, opts)
	if err != nil {
		return engine.Page{}, nil, Translate(err)
	}
	src := &cursorSource{cur: cur, pageSize: s.pageSize}
	page, err := src.read(ctx)
	if err != nil {
		_ = cur.Close(context.WithoutCancel(ctx))
		return engine.Page{}, nil, err
	}
	s.logger.Debug("find opened", "documents", len(page.Documents), "more", page.Token != "")
	return page, src, nil
}

// cursorSource pages over a driver cursor. Tokens number the pages so a
// stale or foreign token is detected.
type cursorSource struct {
	mu       sync.Mutex
	cur      *mongo.Cursor
	pageSize int
	pages    int
	token    string
	closed   bool
}

func (c *cursorSource) read(ctx context.Context) (engine.Page, error) {
	docs := make([]document.Object, 0, c.pageSize)
	for len(docs) < c.pageSize && c.cur.Next(ctx) {
		doc, err := querymongo.DocumentFromBSON(c.cur.Current)
		if err != nil {
			return engine.Page{}, dberr.Protocol(err, "decode document")
		}
		docs = append(docs, doc)
	}
	if err := c.cur.Err(); err != nil {
		return engine.Page{}, Translate(err)
	}
	c.pages++
	c.token = ""
	if c.cur.ID() != 0 || c.cur.RemainingBatchLength() > 0 {
		c.token = fmt.Sprintf("%x/%d", c.cur.ID(), c.pages)
	} else {
		c.closed = true
		if err := c.cur.Close(ctx); err != nil {
			return engine.Page{}, Translate(err)
		}
	}
	return engine.Page{Documents: docs, Token: c.token}, nil
}

// Next reads the page following token.
func (c *cursorSource) Next(ctx context.Context, token string) (engine.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || token == "" || token != c.token {
		return engine.Page{}, dberr.Protocol(nil, "unknown cursor token %q", token)
	}
	return c.read(ctx)
}

// Release closes the driver cursor.
func (c *cursorSource) Release(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.token = ""
	return Translate(c.cur.Close(ctx))
}
