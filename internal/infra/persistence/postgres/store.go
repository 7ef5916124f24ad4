// Package postgres provides a Postgres-backed VisitStore: one row per
// identifier with the record held in a JSONB column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"visitmap/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertions ensuring the store satisfies the domain interfaces.
var (
	_ domain.VisitStore   = (*Store)(nil)
	_ domain.VisitLister  = (*Store)(nil)
	_ domain.VisitDeleter = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	// DefaultDSN keeps parity with OpenVisitStore defaults while allowing overrides via env.
	DefaultDSN = "postgres://localhost/visitmap?sslmode=disable"
)

const advisoryLock = `SELECT pg_advisory_xact_lock(hashtext($1))`

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists visit records to Postgres.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// DefaultDSN), pings it and ensures the user_visits table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS user_visits (
		net_id TEXT PRIMARY KEY,
		visits JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure user_visits table: %w", err)
	}
	return nil
}

// Driver returns the storage driver identifier.
func (s *Store) Driver() domain.StorageDriver { return domain.StoragePostgres }

// Get loads the record for id.
func (s *Store) Get(ctx context.Context, id string) (domain.VisitRecord, error) {
	rec, found, err := load(ctx, s.db, `SELECT visits FROM user_visits WHERE net_id = $1`, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotFound{ID: id}
	}
	return rec, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func load(ctx context.Context, q queryer, query, id string) (domain.VisitRecord, bool, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, query, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewVisitRecord(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select visits: %w", err)
	}
	rec, _, err := domain.DecodeRecord(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode visits for %s: %w", id, err)
	}
	return rec, true, nil
}

// Update serializes writers for id with a transaction-scoped advisory lock,
// locks the row (when present), applies fn and upserts the result in a single
// transaction. The advisory lock covers the first write for an id, where there
// is no row yet for FOR UPDATE to hold.
func (s *Store) Update(ctx context.Context, id string, fn domain.UpdateFunc) (domain.VisitRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, advisoryLock, id); err != nil {
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	current, exists, err := load(ctx, tx, `SELECT visits FROM user_visits WHERE net_id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	next, err := fn(current, exists)
	if err != nil {
		return nil, err
	}
	next = next.Compact()
	data, err := domain.EncodeRecord(next)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO user_visits(net_id, visits, updated_at) VALUES($1,$2,$3) ON CONFLICT(net_id) DO UPDATE SET visits=EXCLUDED.visits, updated_at=EXCLUDED.updated_at`,
		id, data, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return next, nil
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_visits WHERE net_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound{ID: id}
	}
	return nil
}

// List returns the stored identifiers in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT net_id FROM user_visits ORDER BY net_id`)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan net_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
