package esindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/engine"
	"github.com/roach88/recordsdb/internal/queryes"
)

// fakeCluster serves search, scroll, clear-scroll and bulk requests from
// an in-memory hit list.
type fakeCluster struct {
	mu       sync.Mutex
	hits     []string
	offset   int
	size     int
	bodies   []map[string]any
	scrolls  int
	cleared  []string
	bulk     []string
	status   int
	errType  string
	bulkResp string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	data, _ := io.ReadAll(r.Body)
	if f.status != 0 {
		w.WriteHeader(f.status)
		fmt.Fprintf(w, `{"error":{"type":%q,"reason":"boom"},"status":%d}`, f.errType, f.status)
		return
	}

	switch {
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/_search/scroll"):
		f.cleared = append(f.cleared, strings.TrimPrefix(r.URL.Path, "/_search/scroll/"))
		fmt.Fprint(w, `{"succeeded":true,"num_freed":1}`)
	case strings.HasPrefix(r.URL.Path, "/_search/scroll"):
		f.scrolls++
		f.writeHits(w)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		f.bodies = append(f.bodies, body)
		f.offset = 0
		f.size = 10
		if n, ok := body["size"].(float64); ok {
			f.size = int(n)
		}
		f.writeHits(w)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.bulk = append(f.bulk, string(data))
		fmt.Fprint(w, f.bulkResp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeCluster) writeHits(w http.ResponseWriter) {
	end := min(f.offset+f.size, len(f.hits))
	hits := make([]string, 0, end-f.offset)
	for _, id := range f.hits[f.offset:end] {
		hits = append(hits, fmt.Sprintf(`{"_id":%q,"_score":1.0,"_source":{"Title":"t-%s"}}`, id, id))
	}
	f.offset = end
	fmt.Fprintf(w, `{"_scroll_id":"scroll-1","hits":{"total":{"value":%d,"relation":"eq"},"hits":[%s]}}`,
		len(f.hits), strings.Join(hits, ","))
}

func newTestIndex(t *testing.T, f *fakeCluster, opts ...Option) *Index {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	client, err := NewClient([]string{srv.URL}, "", "")
	require.NoError(t, err)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(client, "records", opts...)
}

func ids(docs []document.Object) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = string(d[dsl.IDField].(document.String))
	}
	return out
}

func matchPlan(limit int) *queryes.SearchPlan {
	return &queryes.SearchPlan{
		Query: document.Object{"match": document.Object{"Title": document.Object{"query": document.String("t")}}},
		Size:  limit,
	}
}

func TestSearch_ScrollsToExhaustion(t *testing.T) {
	f := &fakeCluster{hits: []string{"a", "b", "c", "d", "e"}}
	ix := newTestIndex(t, f, WithPageSize(2), WithKeepAlive(30*time.Second))
	ctx := context.Background()

	page, src, err := ix.Search(ctx, matchPlan(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(page.Documents))
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, "scroll-1", page.Token)
	assert.Equal(t, document.String("t-a"), page.Documents[0]["Title"])
	assert.Equal(t, float64(2), f.bodies[0]["size"])

	var all []string
	all = append(all, ids(page.Documents)...)
	for page.Token != "" {
		page, err = src.Next(ctx, page.Token)
		require.NoError(t, err)
		all = append(all, ids(page.Documents)...)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, all)
	assert.Equal(t, 2, f.scrolls)
	assert.Equal(t, []string{"scroll-1"}, f.cleared, "exhausted scroll is cleared")

	require.NoError(t, src.Release(ctx, ""))
	assert.Len(t, f.cleared, 1)
}

func TestSearch_LimitStopsScroll(t *testing.T) {
	f := &fakeCluster{hits: []string{"a", "b", "c", "d", "e"}}
	ix := newTestIndex(t, f, WithPageSize(2))
	ctx := context.Background()

	page, src, err := ix.Search(ctx, matchPlan(3))
	require.NoError(t, err)
	require.NotEmpty(t, page.Token)

	page, err = src.Next(ctx, page.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(page.Documents))
	assert.Empty(t, page.Token)
	assert.Equal(t, []string{"scroll-1"}, f.cleared)
}

func TestSearch_ReleaseClearsOpenScroll(t *testing.T) {
	f := &fakeCluster{hits: []string{"a", "b", "c"}}
	ix := newTestIndex(t, f, WithPageSize(1))
	ctx := context.Background()

	page, src, err := ix.Search(ctx, matchPlan(0))
	require.NoError(t, err)

	require.NoError(t, src.Release(ctx, page.Token))
	require.NoError(t, src.Release(ctx, page.Token))
	assert.Equal(t, []string{"scroll-1"}, f.cleared)

	_, err = src.Next(ctx, page.Token)
	assert.True(t, dberr.IsProtocol(err))
}

func TestSearch_CountOnlyOpensNoScroll(t *testing.T) {
	f := &fakeCluster{hits: []string{"a", "b"}}
	ix := newTestIndex(t, f)

	plan := matchPlan(0)
	plan.CountOnly = true
	page, src, err := ix.Search(context.Background(), plan)
	require.NoError(t, err)
	assert.Nil(t, src)
	assert.Equal(t, int64(2), page.Total)
	assert.Empty(t, page.Token)
	assert.Equal(t, float64(0), f.bodies[0]["size"])
	assert.Equal(t, true, f.bodies[0]["track_total_hits"])
}

func TestSearch_ThroughEngine(t *testing.T) {
	f := &fakeCluster{hits: []string{"a", "b", "c"}}
	ix := newTestIndex(t, f, WithPageSize(2))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(nil, engine.WithSearchIndex(ix), engine.WithLogger(logger))

	cur, err := e.Select(context.Background(), &dsl.Select{Query: dsl.Field("Title").Match("t")})
	require.NoError(t, err)
	assert.Equal(t, engine.BackendSearch, cur.Backend())

	docs, err := cur.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(docs))
}

func TestSearch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		errType string
		check   func(error) bool
	}{
		{"bad query", http.StatusBadRequest, "parsing_exception", dberr.IsInvalidQuery},
		{"overloaded", http.StatusTooManyRequests, "es_rejected_execution_exception", dberr.IsUnavailable},
		{"unavailable", http.StatusServiceUnavailable, "cluster_block_exception", dberr.IsUnavailable},
		{"missing index", http.StatusNotFound, "index_not_found_exception", dberr.IsProtocol},
		{"forbidden", http.StatusForbidden, "security_exception", dberr.IsProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCluster{status: tt.status, errType: tt.errType}
			ix := newTestIndex(t, f)

			_, _, err := ix.Search(context.Background(), matchPlan(0))
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)

			var re *ResponseError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.Status)
			assert.Equal(t, tt.errType, re.Type)
		})
	}
}

func TestSearch_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, err := NewClient([]string{addr}, "", "")
	require.NoError(t, err)
	ix := New(client, "records", WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, _, err = ix.Search(context.Background(), matchPlan(0))
	assert.True(t, dberr.IsUnavailable(err))
	assert.True(t, dberr.IsRetryable(err))
}
