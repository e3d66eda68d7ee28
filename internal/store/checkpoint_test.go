package store

import (
	"context"
	"path/filepath"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCheckpoints_EmptyStore(t *testing.T) {
	s := createTestStore(t)

	got, err := s.LoadCheckpoints(context.Background())
	if err != nil {
		t.Fatalf("LoadCheckpoints() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadCheckpoints() = %v, want empty", got)
	}
}

func TestCheckpoints_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := map[string]primitive.Timestamp{
		"shard-a": {T: 1700000000, I: 3},
		"shard-b": {T: 1700000100, I: 1},
	}
	if err := s.SaveCheckpoints(ctx, want); err != nil {
		t.Fatalf("SaveCheckpoints() failed: %v", err)
	}

	got, err := s.LoadCheckpoints(ctx)
	if err != nil {
		t.Fatalf("LoadCheckpoints() failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d checkpoints, want %d", len(got), len(want))
	}
	for shard, w := range want {
		if !got[shard].Equal(w) {
			t.Errorf("checkpoint %s = %v, want %v", shard, got[shard], w)
		}
	}

	var updated string
	if err := s.db.QueryRow("SELECT updated_at FROM checkpoints WHERE shard = 'shard-a'").Scan(&updated); err != nil {
		t.Fatalf("query updated_at: %v", err)
	}
	if updated != "2024-03-01T12:00:00Z" {
		t.Errorf("updated_at = %q, want store clock", updated)
	}
}

func TestCheckpoints_NeverMoveBackwards(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	steps := []struct {
		save primitive.Timestamp
		want primitive.Timestamp
	}{
		{primitive.Timestamp{T: 10, I: 5}, primitive.Timestamp{T: 10, I: 5}},
		{primitive.Timestamp{T: 9, I: 99}, primitive.Timestamp{T: 10, I: 5}},
		{primitive.Timestamp{T: 10, I: 4}, primitive.Timestamp{T: 10, I: 5}},
		{primitive.Timestamp{T: 10, I: 6}, primitive.Timestamp{T: 10, I: 6}},
		{primitive.Timestamp{T: 11, I: 0}, primitive.Timestamp{T: 11, I: 0}},
	}
	for i, step := range steps {
		if err := s.SaveCheckpoints(ctx, map[string]primitive.Timestamp{"s": step.save}); err != nil {
			t.Fatalf("step %d: SaveCheckpoints() failed: %v", i, err)
		}
		got, err := s.LoadCheckpoints(ctx)
		if err != nil {
			t.Fatalf("step %d: LoadCheckpoints() failed: %v", i, err)
		}
		if !got["s"].Equal(step.want) {
			t.Errorf("step %d: checkpoint = %v, want %v", i, got["s"], step.want)
		}
	}
}

func TestCheckpoints_SurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s1.SaveCheckpoints(ctx, map[string]primitive.Timestamp{"s": {T: 7, I: 1}}); err != nil {
		t.Fatalf("SaveCheckpoints() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.LoadCheckpoints(ctx)
	if err != nil {
		t.Fatalf("LoadCheckpoints() failed: %v", err)
	}
	if !got["s"].Equal(primitive.Timestamp{T: 7, I: 1}) {
		t.Errorf("checkpoint after reopen = %v", got["s"])
	}
}

func TestRuns_RecordAndList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs := []SyncRun{
		{ID: "run-1", StartedAt: "2024-03-01T10:00:00Z", Scanned: 10, Kept: 4, Reindexed: 3, Deleted: 1,
			Watermarks: map[string]primitive.Timestamp{"s": {T: 1, I: 1}}},
		{ID: "run-2", Scanned: 2, Kept: 1, Reindexed: 1,
			Watermarks: map[string]primitive.Timestamp{"s": {T: 2, I: 1}, "t": {T: 3, I: 0}}},
	}
	for _, run := range runs {
		if err := s.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun(%s) failed: %v", run.ID, err)
		}
	}
	// Recording the same id again is a no-op.
	if err := s.RecordRun(ctx, runs[0]); err != nil {
		t.Fatalf("RecordRun() duplicate failed: %v", err)
	}

	got, err := s.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Runs() returned %d runs, want 2", len(got))
	}
	if got[0].ID != "run-2" || got[1].ID != "run-1" {
		t.Errorf("Runs() order = %s, %s; want newest first", got[0].ID, got[1].ID)
	}
	if got[0].StartedAt != "2024-03-01T12:00:00Z" {
		t.Errorf("StartedAt = %q, want store clock", got[0].StartedAt)
	}
	if !got[0].Watermarks["t"].Equal(primitive.Timestamp{T: 3, I: 0}) {
		t.Errorf("watermarks = %v", got[0].Watermarks)
	}
	if got[1].Kept != 4 || got[1].Deleted != 1 {
		t.Errorf("run-1 counts = %+v", got[1])
	}

	limited, err := s.Runs(ctx, 1)
	if err != nil {
		t.Fatalf("Runs(1) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Runs(1) returned %d runs", len(limited))
	}
}
