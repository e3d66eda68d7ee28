package store

import (
	"path/filepath"
	"testing"
	"time"
)

// fixedNow is the clock every test store reads.
var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a store in a temp directory with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
