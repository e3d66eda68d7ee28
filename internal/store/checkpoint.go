package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LoadCheckpoints returns the stored watermark of every shard.
func (s *Store) LoadCheckpoints(ctx context.Context) (map[string]primitive.Timestamp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT shard, ts_t, ts_i FROM checkpoints
		ORDER BY shard COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]primitive.Timestamp)
	for rows.Next() {
		var shard string
		var t, i int64
		if err := rows.Scan(&shard, &t, &i); err != nil {
			return nil, fmt.Errorf("load checkpoints: %w", err)
		}
		out[shard] = primitive.Timestamp{T: uint32(t), I: uint32(i)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	return out, nil
}

// SaveCheckpoints stores watermarks in one transaction. A watermark older
// than the stored one is ignored.
func (s *Store) SaveCheckpoints(ctx context.Context, watermarks map[string]primitive.Timestamp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save checkpoints: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	for _, shard := range sortedShards(watermarks) {
		w := watermarks[shard]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (shard, ts_t, ts_i, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(shard) DO UPDATE SET
				ts_t = excluded.ts_t,
				ts_i = excluded.ts_i,
				updated_at = excluded.updated_at
			WHERE excluded.ts_t > checkpoints.ts_t
			   OR (excluded.ts_t = checkpoints.ts_t AND excluded.ts_i > checkpoints.ts_i)
		`, shard, int64(w.T), int64(w.I), now)
		if err != nil {
			return fmt.Errorf("save checkpoint %s: %w", shard, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save checkpoints: %w", err)
	}
	return nil
}

func sortedShards(m map[string]primitive.Timestamp) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// SyncRun is the audit record of one applied change-feed batch.
type SyncRun struct {
	ID         string
	StartedAt  string
	Scanned    int
	Kept       int
	Reindexed  int
	Deleted    int
	Watermarks map[string]primitive.Timestamp
}

type watermarkJSON struct {
	T uint32 `json:"t"`
	I uint32 `json:"i"`
}

// RecordRun appends run. StartedAt defaults to the store clock.
func (s *Store) RecordRun(ctx context.Context, run SyncRun) error {
	if run.StartedAt == "" {
		run.StartedAt = s.timestamp()
	}
	marks := make(map[string]watermarkJSON, len(run.Watermarks))
	for shard, w := range run.Watermarks {
		marks[shard] = watermarkJSON{T: w.T, I: w.I}
	}
	// encoding/json sorts map keys, so the column is stable.
	marksJSON, err := json.Marshal(marks)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, scanned, kept, reindexed, deleted, watermarks)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.StartedAt, run.Scanned, run.Kept, run.Reindexed, run.Deleted, string(marksJSON))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, scanned, kept, reindexed, deleted, watermarks
		FROM sync_runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var run SyncRun
		var marksJSON string
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.Scanned, &run.Kept, &run.Reindexed, &run.Deleted, &marksJSON); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		var marks map[string]watermarkJSON
		if err := json.Unmarshal([]byte(marksJSON), &marks); err != nil {
			return nil, fmt.Errorf("list runs: decode watermarks of %s: %w", run.ID, err)
		}
		run.Watermarks = make(map[string]primitive.Timestamp, len(marks))
		for shard, w := range marks {
			run.Watermarks[shard] = primitive.Timestamp{T: w.T, I: w.I}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
