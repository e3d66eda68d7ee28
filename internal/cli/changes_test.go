package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/recordsdb/internal/changefeed"
	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/engine"
	"github.com/roach88/recordsdb/internal/store"
	"github.com/roach88/recordsdb/internal/testutil"
)

type fakeJournal struct {
	entries []interface{}
	err     error
}

func (j *fakeJournal) Find(context.Context, interface{}, ...*options.FindOptions) (*mongo.Cursor, error) {
	if j.err != nil {
		return nil, j.err
	}
	return mongo.NewCursorFromDocuments(j.entries, nil, nil)
}

type fakeFetcher struct {
	docs map[string]document.Object
}

func (f *fakeFetcher) Fetch(_ context.Context, ids []string) ([]document.Object, error) {
	var out []document.Object
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

type fakeIndexer struct {
	reindexed []document.Object
	deleted   []string
	err       error
}

func (x *fakeIndexer) Reindex(_ context.Context, docs []document.Object) (int, error) {
	if x.err != nil {
		return 0, x.err
	}
	x.reindexed = append(x.reindexed, docs...)
	return len(docs), nil
}

func (x *fakeIndexer) Delete(_ context.Context, ids []string) (int, error) {
	x.deleted = append(x.deleted, ids...)
	return len(ids), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openCheckpoints(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTailer(t *testing.T, journals map[string]*fakeJournal, ids ...string) *tailer {
	t.Helper()
	var readers []*changefeed.Reader
	for _, shard := range []string{"rs0", "rs1"} {
		if j, ok := journals[shard]; ok {
			readers = append(readers, changefeed.NewReader(j,
				changefeed.WithShard(shard),
				changefeed.WithLogger(quietLogger())))
		}
	}
	return &tailer{
		tail:        changefeed.NewTail(readers, changefeed.Filter{Namespaces: []string{"records.Unit"}}, 100, nil),
		checkpoints: openCheckpoints(t),
		ids:         engine.NewFixedGenerator(ids...),
		logger:      quietLogger(),
	}
}

func TestTailer_StepPersistsWatermarks(t *testing.T) {
	clock0 := testutil.NewJournalClock(1700000000)
	clock1 := testutil.NewJournalClock(1700000100)
	rs0 := testutil.NewJournal("records.Unit", clock0).
		Insert("a").
		Update("a", bson.E{Key: "Title", Value: "v2"}).
		In("records.Other").Insert("x")
	rs1 := testutil.NewJournal("records.Unit", clock1).Delete("b")

	tl := newTestTailer(t, map[string]*fakeJournal{
		"rs0": {entries: rs0.Entries()},
		"rs1": {entries: rs1.Entries()},
	}, "run-1")

	ctx := context.Background()
	run, err := tl.step(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, 4, run.Scanned)
	assert.Equal(t, 2, run.Kept)
	assert.Zero(t, run.Reindexed, "no index configured")

	want := map[string]primitive.Timestamp{"rs0": clock0.Current(), "rs1": clock1.Current()}
	saved, err := tl.checkpoints.LoadCheckpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, saved)

	runs, err := tl.checkpoints.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, want, runs[0].Watermarks)
}

func TestTailer_StepSyncsIndex(t *testing.T) {
	clock := testutil.NewJournalClock(1700000000)
	j := testutil.NewJournal("records.Unit", clock).
		Insert("a").
		Insert("gone").
		Delete("c")

	tl := newTestTailer(t, map[string]*fakeJournal{"rs0": {entries: j.Entries()}}, "run-1")
	idx := &fakeIndexer{}
	tl.fetch = &fakeFetcher{docs: map[string]document.Object{
		"a": {"_id": document.String("a"), "Title": document.String("t")},
	}}
	tl.index = idx

	run, err := tl.step(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 1, run.Reindexed)
	assert.Equal(t, 2, run.Deleted)
	assert.Equal(t, []string{"c", "gone"}, idx.deleted)
	require.Len(t, idx.reindexed, 1)
	assert.Equal(t, document.String("a"), idx.reindexed[0]["_id"])
}

func TestTailer_SyncFailureKeepsWatermarks(t *testing.T) {
	clock := testutil.NewJournalClock(1700000000)
	j := testutil.NewJournal("records.Unit", clock).Insert("a")

	tl := newTestTailer(t, map[string]*fakeJournal{"rs0": {entries: j.Entries()}}, "run-1")
	tl.fetch = &fakeFetcher{docs: map[string]document.Object{"a": {"_id": document.String("a")}}}
	tl.index = &fakeIndexer{err: dberr.Unavailable(errors.New("connection refused"), "bulk")}

	ctx := context.Background()
	_, err := tl.step(ctx)
	require.Error(t, err)
	assert.True(t, dberr.IsUnavailable(err))

	saved, err := tl.checkpoints.LoadCheckpoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
	assert.Empty(t, tl.tail.Watermarks())
}

func TestTailer_EmptyPollRecordsNoRun(t *testing.T) {
	tl := newTestTailer(t, map[string]*fakeJournal{"rs0": {}})

	run, err := tl.step(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)

	runs, err := tl.checkpoints.Runs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestTailer_RunOnce(t *testing.T) {
	clock := testutil.NewJournalClock(1700000000)
	j := testutil.NewJournal("records.Unit", clock).Insert("a")
	tl := newTestTailer(t, map[string]*fakeJournal{"rs0": {entries: j.Entries()}}, "run-1")

	var reported []store.SyncRun
	err := tl.run(context.Background(), true, 0, func(r store.SyncRun) {
		reported = append(reported, r)
	})
	require.NoError(t, err)
	require.Len(t, reported, 1)
	assert.Equal(t, 1, reported[0].Kept)
}

func TestTailer_RunOnceReturnsPollError(t *testing.T) {
	tl := newTestTailer(t, map[string]*fakeJournal{
		"rs0": {err: dberr.Unavailable(errors.New("no primary"), "find")},
	})

	err := tl.run(context.Background(), true, 0, func(store.SyncRun) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard rs0")
	assert.True(t, dberr.IsRetryable(err))
}

func TestTailer_RunStopsOnNonRetryableError(t *testing.T) {
	tl := newTestTailer(t, map[string]*fakeJournal{
		"rs0": {err: dberr.Protocol(errors.New("bad reply"), "find")},
	})

	err := tl.run(context.Background(), false, 0, func(store.SyncRun) {})
	require.Error(t, err)
	assert.True(t, dberr.IsProtocol(err))
}

func TestTailer_RunStopsWhenContextDone(t *testing.T) {
	tl := newTestTailer(t, map[string]*fakeJournal{"rs0": {}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tl.run(ctx, false, 0, func(store.SyncRun) {})
	assert.NoError(t, err)
}

func TestWriteChangesText(t *testing.T) {
	var buf bytes.Buffer
	err := writeChangesText(&buf, ChangesReport{
		Runs: []RunSummary{{ID: "run-1", Scanned: 4, Kept: 2, Reindexed: 1, Deleted: 1}},
		Watermarks: map[string]WatermarkValue{
			"rs1": {T: 1700000100, I: 1},
			"rs0": {T: 1700000000, I: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "run run-1: scanned 4, kept 2, reindexed 1, deleted 1\n"+
		"watermark rs0: 1700000000.3\n"+
		"watermark rs1: 1700000100.1\n", buf.String())
}

func TestChanges_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	noShards := writeFile(t, dir, "empty.yaml", "query:\n  depth_limit: 20\n")
	shards := writeFile(t, dir, "shards.yaml", `changefeed:
  shards:
    - name: rs0
      uri: mongodb://localhost:27017
  checkpoint_path: `+filepath.Join(dir, "cp.db")+`
`)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"--config", filepath.Join(dir, "nope.yaml"), "--once"}, "invalid configuration"},
		{"no shards", []string{"--config", noShards, "--once"}, "at least one shard"},
		{"reindex without backends", []string{"--config", shards, "--once", "--reindex"}, "--reindex needs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(NewChangesCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
