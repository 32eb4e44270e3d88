// Package store persists races, runners, tags, laps and admin credentials
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every read and write the application performs. Bound to
// the pool it autocommits each statement; inside InTx it is bound to the
// transaction.
type Queries struct {
	q querier
}

type SQLiteStore struct {
	*Queries
	db *sql.DB

	// SQLite allows one writer at a time. Read-then-write transactions
	// are serialised here so a deferred transaction never has to upgrade
	// its lock while another writer holds it.
	writeMu sync.Mutex
}

func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{Queries: &Queries{q: db}, db: db}
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

// InTx implements tracker.Store.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tracker.Tx) error) error {
	return s.Tx(ctx, func(q *Queries) error { return fn(q) })
}

// Tx executes fn inside a *sql.Tx.
// If fn returns an error the tx rolls back, else it commits.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(q *Queries) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&Queries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var _ tracker.Tx = (*Queries)(nil)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func micros(d time.Duration) int64 { return d.Microseconds() }

func fromMicros(us int64) time.Duration { return time.Duration(us) * time.Microsecond }

func nullDuration(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: micros(*d), Valid: true}
}

func durationPtr(n sql.NullInt64) *time.Duration {
	if !n.Valid {
		return nil
	}
	d := fromMicros(n.Int64)
	return &d
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// notFound converts sql.ErrNoRows, and the bare ErrNotFound reported by
// checkAffected, into the given domain error.
func notFound(err, domain error) error {
	if errors.Is(err, sql.ErrNoRows) || err == tracker.ErrNotFound {
		return domain
	}
	return err
}

// checkAffected reports tracker.ErrNotFound when an UPDATE or DELETE
// matched nothing.
func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
