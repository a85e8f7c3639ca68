package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite connection holding all quietlink state. The
// embedded mutex serializes read-modify-write sequences over shared
// collections; see WithLock.
type Store struct {
	*sql.DB
	mu sync.Mutex
}

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas, and runs any pending migrations. Pass ":memory:" for an
// ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{DB: db}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// nowISO is the canonical timestamp format for all persisted rows,
// matching the ISO8601 timestamps carried in bundles.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NowISO returns the current UTC time in the store's timestamp format.
func NowISO() string {
	return nowISO()
}
