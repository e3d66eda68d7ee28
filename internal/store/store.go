package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragma is a connection setting and the value PRAGMA reads back for it.
type pragma struct {
	name  string
	value string
	read  string
}

// The tail is the only writer; WAL lets `changes` and an operator's
// sqlite3 shell read the audit rows while it runs.
var pragmas = []pragma{
	{name: "journal_mode", value: "WAL", read: "wal"},
	{name: "synchronous", value: "NORMAL", read: "1"},
	{name: "busy_timeout", value: "5000", read: "5000"},
}

// migration upgrades a database to version.
type migration struct {
	version int
	stmt    string
}

// migrations run in order on databases whose user_version is lower.
//
// v1: the first checkpoint files had no index on sync_runs. Runs reads the
// newest audit rows by (started_at, id), which scanned every row ever
// recorded on a long-lived tail.
var migrations = []migration{
	{version: 1, stmt: `CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at, id)`},
}

// currentSchemaVersion is the user_version of a fully migrated store.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Store is the durable checkpoint and sync-run store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates or opens the checkpoint database at path. Opening the same
// path again is safe.
func Open(path string, opts ...Option) (s *Store, err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	// One connection: pragmas are per connection and the tail writes alone.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return nil, fmt.Errorf("set %s: %w", p.name, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}

	s = &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// migrate applies every migration newer than the stored user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate checkpoint store to v%d: %w", m.version, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("migrate checkpoint store to v%d: %w", m.version, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
