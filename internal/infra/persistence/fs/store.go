// Package fs implements a VisitStore that keeps one JSON document per
// identifier under a root directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"visitmap/pkg/domain"
)

var (
	_ domain.VisitStore   = (*Store)(nil)
	_ domain.VisitLister  = (*Store)(nil)
	_ domain.VisitDeleter = (*Store)(nil)
)

const (
	// DefaultRoot is used when no root directory is configured.
	DefaultRoot = "./visitdata"
	fileSuffix  = ".json"
)

// Store implements domain.VisitStore on the local filesystem. Writes are
// serialized within the process and land atomically via temp file rename.
type Store struct {
	mu   sync.Mutex
	root string
}

// New returns a filesystem-backed store rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Driver returns the storage driver identifier.
func (s *Store) Driver() domain.StorageDriver { return domain.StorageFS }

// Root reports the directory documents are written under.
func (s *Store) Root() string { return s.root }

// sanitizeID maps an identifier to a single file name and refuses anything
// that could escape the root.
func sanitizeID(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: empty id", domain.ErrInvalidInput)
	}
	if strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: id contains '..'", domain.ErrInvalidInput)
	}
	escaped := url.PathEscape(id)
	if strings.ContainsAny(escaped, `/\`) {
		return "", fmt.Errorf("%w: id contains a path separator", domain.ErrInvalidInput)
	}
	return escaped + fileSuffix, nil
}

func (s *Store) pathFor(id string) (string, error) {
	name, err := sanitizeID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// Get loads the record for id.
func (s *Store) Get(ctx context.Context, id string) (domain.VisitRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}
	rec, found, err := readRecord(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotFound{ID: id}
	}
	return rec, nil
}

func readRecord(path string) (domain.VisitRecord, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewVisitRecord(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, _, err := domain.DecodeRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return rec, true, nil
}

// Update applies fn to the stored record and writes the result back.
func (s *Store) Update(ctx context.Context, id string, fn domain.UpdateFunc) (domain.VisitRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists, err := readRecord(path)
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
	if err := writeAtomic(path, data); err != nil {
		return nil, err
	}
	return next, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Delete removes the record file for id.
func (s *Store) Delete(_ context.Context, id string) error {
	path, err := s.pathFor(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrNotFound{ID: id}
	}
	return err
}

// List returns the stored identifiers in lexical order.
func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
