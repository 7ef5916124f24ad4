// Package sqlite persists visit records in an embedded SQLite database, one
// row per identifier holding the record as JSON.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"visitmap/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var (
	_ domain.VisitStore   = (*Store)(nil)
	_ domain.VisitLister  = (*Store)(nil)
	_ domain.VisitDeleter = (*Store)(nil)
)

const defaultPath = "visitmap.db"

// Store is a SQLite-backed domain.VisitStore.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore opens (creating if needed) the database at path and ensures the
// user_visits table exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer at a time; share a single connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS user_visits (
		net_id TEXT PRIMARY KEY,
		visits BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create user_visits table: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Driver returns the storage driver identifier.
func (s *Store) Driver() domain.StorageDriver { return domain.StorageSQLite }

// Get loads the record for id, normalizing rows still in the legacy shape.
func (s *Store) Get(ctx context.Context, id string) (domain.VisitRecord, error) {
	rec, found, err := s.load(ctx, s.db, id)
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

func (s *Store) load(ctx context.Context, q queryer, id string) (domain.VisitRecord, bool, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, `SELECT visits FROM user_visits WHERE net_id = ?`, id).Scan(&payload)
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

// Update runs fn inside a transaction and upserts its result.
func (s *Store) Update(ctx context.Context, id string, fn domain.UpdateFunc) (rec domain.VisitRecord, retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	current, exists, err := s.load(ctx, tx, id)
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
	if _, err := tx.ExecContext(ctx, `INSERT INTO user_visits(net_id, visits, updated_at) VALUES(?,?,?)
		ON CONFLICT(net_id) DO UPDATE SET visits=excluded.visits, updated_at=excluded.updated_at`,
		id, data, s.now().UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_visits WHERE net_id = ?`, id)
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
