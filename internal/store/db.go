package store

import (
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"database/sql"
)

// DB wraps the SQLite connection backing the local durable store.
type DB struct {
	*sql.DB
	path string
}

var (
	openMu sync.Mutex
	opened = map[string]*DB{}
)

// Open returns the store at path, creating it if needed. Opens are memoized
// per path so concurrent callers share one connection and one migration run.
func Open(path string) (*DB, error) {
	openMu.Lock()
	defer openMu.Unlock()

	if db, ok := opened[path]; ok {
		return db, nil
	}

	raw, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := raw.Ping(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	db := &DB{DB: raw, path: path}
	opened[path] = db
	return db, nil
}

// Available probes whether a durable store can be opened at path. Callers use
// a false result to fall back to online-only mode instead of handling an open
// error at every call site.
func Available(path string) bool {
	db, err := Open(path)
	if err != nil {
		return false
	}
	return db.Ping() == nil
}

// Close closes the connection and forgets the memoized handle.
func (db *DB) Close() error {
	openMu.Lock()
	delete(opened, db.path)
	openMu.Unlock()
	return db.DB.Close()
}
