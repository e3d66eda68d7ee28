// Package esindex is the search-index adapter over the Elasticsearch client.
//
// Selects run as scroll searches: the scroll id is the cursor token, and
// Release clears the scroll context on the server. Writes reach the index
// only through Reindex and Delete, which replace documents wholesale.
package esindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/engine"
	"github.com/roach88/recordsdb/internal/queryes"
)

const (
	// DefaultPageSize is the number of hits per scroll page.
	DefaultPageSize = 100

	// DefaultKeepAlive is how long the server keeps an idle scroll context.
	DefaultKeepAlive = time.Minute
)

// Index implements engine.SearchIndex over one Elasticsearch index.
type Index struct {
	client    *elasticsearch.Client
	name      string
	pageSize  int
	keepAlive time.Duration
	logger    *slog.Logger
}

var _ engine.SearchIndex = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithPageSize sets the scroll page size.
func WithPageSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.pageSize = n
		}
	}
}

// WithKeepAlive sets the scroll keep-alive.
func WithKeepAlive(d time.Duration) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.keepAlive = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = l
	}
}

// New creates an Index named name.
func New(client *elasticsearch.Client, name string, opts ...Option) *Index {
	ix := &Index{
		client:    client,
		name:      name,
		pageSize:  DefaultPageSize,
		keepAlive: DefaultKeepAlive,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// NewClient builds a client for addresses. Empty credentials disable basic
// auth. The client never retries on its own.
func NewClient(addresses []string, username, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
		// Retry policy belongs to the caller.
		DisableRetry: true,
	})
	if err != nil {
		return nil, dberr.Unavailable(err, "configure search client")
	}
	return client, nil
}

type hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

// Search runs plan and returns its first page. Count-only plans never open
// a scroll.
func (ix *Index) Search(ctx context.Context, plan *queryes.SearchPlan) (engine.Page, engine.PageSource, error) {
	body := plan.Body()
	if plan.CountOnly {
		resp, err := ix.search(ctx, body, false)
		if err != nil {
			return engine.Page{}, nil, err
		}
		return engine.Page{Total: resp.Hits.Total.Value}, nil, nil
	}

	size := ix.pageSize
	if plan.Size > 0 && plan.Size < size {
		size = plan.Size
	}
	body["size"] = document.Int(size)

	resp, err := ix.search(ctx, body, true)
	if err != nil {
		return engine.Page{}, nil, err
	}
	src := &scrollSource{ix: ix, limit: plan.Size, total: resp.Hits.Total.Value}
	page, err := src.accept(ctx, resp)
	if err != nil {
		// The partial page carries the scroll id; the engine releases it.
		return page, src, err
	}
	ix.logger.Debug("search opened",
		"index", ix.name,
		"total", page.Total,
		"documents", len(page.Documents),
		"more", page.Token != "")
	return page, src, nil
}

func (ix *Index) search(ctx context.Context, body document.Object, scroll bool) (*searchResponse, error) {
	data, err := document.MarshalCanonical(body)
	if err != nil {
		return nil, dberr.Protocol(err, "encode search body")
	}
	opts := []func(*esapi.SearchRequest){
		ix.client.Search.WithContext(ctx),
		ix.client.Search.WithIndex(ix.name),
		ix.client.Search.WithBody(bytes.NewReader(data)),
	}
	if scroll {
		opts = append(opts, ix.client.Search.WithScroll(ix.keepAlive))
	}
	res, err := ix.client.Search(opts...)
	if err != nil {
		return nil, transportError(err, "search")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res, "search")
	}
	return decodeSearch(res.Body)
}

func decodeSearch(r io.Reader) (*searchResponse, error) {
	var resp searchResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, dberr.Protocol(err, "decode search response")
	}
	return &resp, nil
}

// hitDocument turns a hit into a document carrying its id under _id.
func hitDocument(h hit) (document.Object, error) {
	doc := document.Object{}
	if len(h.Source) > 0 {
		obj, err := document.ParseObject(h.Source)
		if err != nil {
			return nil, dberr.Protocol(err, "decode hit %s", h.ID)
		}
		doc = obj
	}
	doc[dsl.IDField] = document.String(h.ID)
	return doc, nil
}

// scrollSource pages over a scroll context.
type scrollSource struct {
	ix        *Index
	mu        sync.Mutex
	limit     int
	total     int64
	delivered int
	scrollID  string
}

// accept converts a response into a page and decides whether the scroll
// continues. An exhausted scroll is cleared before returning.
func (s *scrollSource) accept(ctx context.Context, resp *searchResponse) (engine.Page, error) {
	s.scrollID = resp.ScrollID
	hits := resp.Hits.Hits
	if s.limit > 0 && s.delivered+len(hits) > s.limit {
		hits = hits[:s.limit-s.delivered]
	}
	docs := make([]document.Object, 0, len(hits))
	for _, h := range hits {
		doc, err := hitDocument(h)
		if err != nil {
			return engine.Page{Token: s.scrollID, Total: s.total}, err
		}
		docs = append(docs, doc)
	}
	s.delivered += len(docs)

	page := engine.Page{Documents: docs, Total: s.total}
	more := len(resp.Hits.Hits) > 0 &&
		int64(s.delivered) < s.total &&
		(s.limit == 0 || s.delivered < s.limit)
	if more {
		page.Token = s.scrollID
		return page, nil
	}
	if err := s.clear(ctx); err != nil {
		return engine.Page{}, err
	}
	return page, nil
}

// Next fetches the page after token.
func (s *scrollSource) Next(ctx context.Context, token string) (engine.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || token != s.scrollID {
		return engine.Page{}, dberr.Protocol(nil, "unknown scroll token")
	}
	body := fmt.Sprintf(`{"scroll":%q,"scroll_id":%q}`, s.ix.keepAlive.String(), token)
	res, err := s.ix.client.Scroll(
		s.ix.client.Scroll.WithContext(ctx),
		s.ix.client.Scroll.WithBody(bytes.NewReader([]byte(body))),
	)
	if err != nil {
		return engine.Page{}, transportError(err, "scroll")
	}
	defer res.Body.Close()
	if res.IsError() {
		return engine.Page{}, responseError(res, "scroll")
	}
	resp, err := decodeSearch(res.Body)
	if err != nil {
		return engine.Page{}, err
	}
	return s.accept(ctx, resp)
}

// Release clears the scroll context. Clearing twice is a no-op.
func (s *scrollSource) Release(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scrollID == "" {
		return nil
	}
	if token != "" && token != s.scrollID {
		return dberr.Protocol(nil, "unknown scroll token")
	}
	return s.clear(ctx)
}

func (s *scrollSource) clear(ctx context.Context) error {
	if s.scrollID == "" {
		return nil
	}
	id := s.scrollID
	s.scrollID = ""
	res, err := s.ix.client.ClearScroll(
		s.ix.client.ClearScroll.WithContext(ctx),
		s.ix.client.ClearScroll.WithScrollID(id),
	)
	if err != nil {
		return transportError(err, "clear scroll")
	}
	defer res.Body.Close()
	// A scroll that already expired is as good as cleared.
	if res.IsError() && res.StatusCode != 404 {
		return responseError(res, "clear scroll")
	}
	return nil
}
