// Package database opens the race database.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

// filePragmas tune a file database for many short write transactions, one
// per lap read, alongside readers polling results. The busy timeout goes
// first so the rest wait out a lock held by another handle.
var filePragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

var memoryPragmas = []string{
	"PRAGMA foreign_keys=ON",
}

// Open opens the libSQL database at path, creating its directory when
// needed. An in-memory database is pinned to one connection since every
// connection would otherwise get its own empty database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	pragmas := filePragmas
	if path == Memory {
		pragmas = memoryPragmas
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == Memory {
		db.SetMaxOpenConns(1)
	}

	for _, p := range pragmas {
		if err := pragma(ctx, db, p); err != nil {
			db.Close()
			return nil, err
		}
	}
	if path != Memory {
		if err := walMode(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// pragma runs p through QueryContext: libSQL refuses Exec for pragmas that
// return a row.
func pragma(ctx context.Context, db *sql.DB, p string) error {
	rows, err := db.QueryContext(ctx, p)
	if err != nil {
		return fmt.Errorf("executing %s: %w", p, err)
	}
	return rows.Close()
}

// walMode switches the file to WAL unless it already is. WAL is stored in
// the file, and switching needs an exclusive lock, so a database reopened
// while another handle is still open must not ask again.
func walMode(ctx context.Context, db *sql.DB) error {
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("reading journal mode: %w", err)
	}
	if strings.EqualFold(mode, "wal") {
		return nil
	}
	return pragma(ctx, db, "PRAGMA journal_mode=WAL")
}

// Checker reports whether the database answers. It satisfies the health
// handler's Checker.
type Checker struct{ DB *sql.DB }

func (c Checker) Check(ctx context.Context) error { return c.DB.PingContext(ctx) }
