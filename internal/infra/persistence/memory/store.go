// Package memory provides an in-memory VisitStore used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"

	"visitmap/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var (
	_ domain.VisitStore   = (*Store)(nil)
	_ domain.VisitLister  = (*Store)(nil)
	_ domain.VisitDeleter = (*Store)(nil)
)

type (
	// VisitRecord aliases domain.VisitRecord for in-memory persistence operations.
	VisitRecord = domain.VisitRecord
	// UpdateFunc aliases domain.UpdateFunc.
	UpdateFunc = domain.UpdateFunc
)

// Store keeps records in process memory behind a RWMutex. Records are cloned
// on the way in and out so callers never alias stored state.
type Store struct {
	mu      sync.RWMutex
	records map[string]VisitRecord
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{records: make(map[string]VisitRecord)}
}

// Driver returns the storage driver identifier.
func (s *Store) Driver() domain.StorageDriver { return domain.StorageMemory }

// Get returns a copy of the stored record or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, id string) (VisitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound{ID: id}
	}
	return rec.Clone(), nil
}

// Update applies fn under the write lock and stores its compacted result.
func (s *Store) Update(ctx context.Context, id string, fn UpdateFunc) (VisitRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.records[id]
	if !exists {
		current = domain.NewVisitRecord()
	}
	next, err := fn(current.Clone(), exists)
	if err != nil {
		return nil, err
	}
	stored := next.Compact()
	s.records[id] = stored
	return stored.Clone(), nil
}

// Delete removes the record for id.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return domain.ErrNotFound{ID: id}
	}
	delete(s.records, id)
	return nil
}

// List returns the stored identifiers in lexical order.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}
