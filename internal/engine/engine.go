package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/ontology"
	"github.com/roach88/recordsdb/internal/queryes"
	"github.com/roach88/recordsdb/internal/querymongo"
)

// Engine executes DSL requests against the primary store and, for selects
// that need full-text matching or relevance sorting, the search index.
//
// Requests are compiled and validated before any backend call, so a
// malformed request never causes a partial write. Engine holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	primary PrimaryStore
	search  SearchIndex
	mongo   *querymongo.Compiler
	es      *queryes.Compiler
	ids     RequestIDGenerator
	timeout time.Duration
	limit   int
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSearchIndex enables routing of full-text selects.
func WithSearchIndex(s SearchIndex) Option {
	return func(e *Engine) {
		e.search = s
	}
}

// WithDepthLimit sets the maximum filter-tree depth. Default: dsl.DefaultDepthLimit.
func WithDepthLimit(n int) Option {
	return func(e *Engine) {
		e.mongo.DepthLimit = n
		e.es.DepthLimit = n
	}
}

// WithOntology sets the field ontology used by the search compiler.
func WithOntology(o *ontology.Ontology) Option {
	return func(e *Engine) {
		e.es.Ontology = o
	}
}

// WithDefaultLimit caps selects that set no limit of their own. Zero, the
// default, leaves them unbounded. Count-only selects are not affected.
func WithDefaultLimit(n int) Option {
	return func(e *Engine) {
		e.limit = n
	}
}

// WithTimeout bounds every backend call that has no earlier deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithRequestIDs sets the request id generator. Default: UUIDv7Generator.
func WithRequestIDs(g RequestIDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over the given primary store.
func New(primary PrimaryStore, opts ...Option) *Engine {
	e := &Engine{
		primary: primary,
		mongo:   querymongo.NewCompiler(dsl.DefaultDepthLimit),
		es:      queryes.NewCompiler(dsl.DefaultDepthLimit, nil),
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WriteResult is the acknowledgment of a write.
type WriteResult struct {
	RequestID string
	// Count is inserted, matched or deleted documents as acknowledged by
	// the primary store.
	Count int64
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < e.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Engine) fail(id string, kind dsl.Kind, backend Backend, err error) error {
	err = translate(err)
	e.logger.Warn("request failed",
		"request_id", id,
		"kind", kind,
		"backend", backend,
		"code", dberr.CodeOf(err),
		"error", err)
	return &RequestError{RequestID: id, Kind: kind, Backend: backend, Err: err}
}

// Route reports which backend a select would run on.
func (e *Engine) Route(s *dsl.Select) (Backend, error) {
	if !s.NeedsSearch() {
		return BackendPrimary, nil
	}
	if e.search == nil {
		return "", dberr.UnsupportedQuery("", "select needs full-text matching or relevance sort and no search index is configured")
	}
	return BackendSearch, nil
}

// Insert writes documents to the primary store.
func (e *Engine) Insert(ctx context.Context, req *dsl.Insert) (res *WriteResult, err error) {
	id := e.ids.Generate()
	start := time.Now()
	defer func() { observe(dsl.KindInsert, BackendPrimary, start, err) }()

	docs, err := e.mongo.Insert(req)
	if err != nil {
		return nil, e.fail(id, dsl.KindInsert, "", err)
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	n, err := e.primary.Insert(ctx, docs)
	if err != nil {
		return nil, e.fail(id, dsl.KindInsert, BackendPrimary, err)
	}
	e.logger.Debug("insert done", "request_id", id, "inserted", n)
	return &WriteResult{RequestID: id, Count: n}, nil
}

// Update applies actions to matching documents of the primary store.
func (e *Engine) Update(ctx context.Context, req *dsl.Update) (res *WriteResult, err error) {
	id := e.ids.Generate()
	start := time.Now()
	defer func() { observe(dsl.KindUpdate, BackendPrimary, start, err) }()

	plan, err := e.mongo.Update(req)
	if err != nil {
		return nil, e.fail(id, dsl.KindUpdate, "", err)
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	n, err := e.primary.Update(ctx, plan)
	if err != nil {
		return nil, e.fail(id, dsl.KindUpdate, BackendPrimary, err)
	}
	e.logger.Debug("update done", "request_id", id, "matched", n)
	return &WriteResult{RequestID: id, Count: n}, nil
}

// Delete removes matching documents from the primary store.
func (e *Engine) Delete(ctx context.Context, req *dsl.Delete) (res *WriteResult, err error) {
	id := e.ids.Generate()
	start := time.Now()
	defer func() { observe(dsl.KindDelete, BackendPrimary, start, err) }()

	filter, err := e.mongo.Delete(req)
	if err != nil {
		return nil, e.fail(id, dsl.KindDelete, "", err)
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	n, err := e.primary.Delete(ctx, filter)
	if err != nil {
		return nil, e.fail(id, dsl.KindDelete, BackendPrimary, err)
	}
	e.logger.Debug("delete done", "request_id", id, "deleted", n)
	return &WriteResult{RequestID: id, Count: n}, nil
}

// Select runs a read and returns an open cursor. The caller must Close it.
func (e *Engine) Select(ctx context.Context, req *dsl.Select) (cur *Cursor, err error) {
	id := e.ids.Generate()
	start := time.Now()
	var backend Backend
	defer func() { observe(dsl.KindSelect, backend, start, err) }()

	if err := req.Validate(e.mongo.DepthLimit); err != nil {
		return nil, e.fail(id, dsl.KindSelect, "", err)
	}
	req = e.withDefaultLimit(req)
	backend, err = e.Route(req)
	if err != nil {
		return nil, e.fail(id, dsl.KindSelect, "", err)
	}

	var open opener
	switch backend {
	case BackendSearch:
		open, err = e.searchOpener(req)
	default:
		open, err = e.primaryOpener(req)
	}
	if err != nil {
		return nil, e.fail(id, dsl.KindSelect, backend, err)
	}

	cur = newCursor(backend, open)
	openCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := cur.Open(openCtx); err != nil {
		return nil, e.fail(id, dsl.KindSelect, backend, err)
	}
	e.logger.Debug("select opened",
		"request_id", id,
		"backend", backend,
		"total", cur.Total(),
		"has_more", cur.HasMore())
	return cur, nil
}

// withDefaultLimit returns req, or a copy of it carrying the default limit.
func (e *Engine) withDefaultLimit(req *dsl.Select) *dsl.Select {
	if e.limit <= 0 || req.Limit != 0 || req.CountOnly {
		return req
	}
	limited := *req
	limited.Limit = e.limit
	return &limited
}

func (e *Engine) primaryOpener(req *dsl.Select) (opener, error) {
	plan, err := e.mongo.Select(req)
	if err != nil {
		return nil, err
	}
	if plan.CountOnly {
		return func(ctx context.Context) (Page, PageSource, error) {
			n, err := e.primary.Count(ctx, plan.Filter)
			return Page{Total: n}, nil, err
		}, nil
	}
	return func(ctx context.Context) (Page, PageSource, error) {
		return e.primary.Find(ctx, plan)
	}, nil
}

func (e *Engine) searchOpener(req *dsl.Select) (opener, error) {
	plan, err := e.es.Select(req)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (Page, PageSource, error) {
		return e.search.Search(ctx, plan)
	}, nil
}
