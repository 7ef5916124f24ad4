package domain

import "context"

// StorageDriver identifies a concrete VisitStore implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageFS       StorageDriver = "fs"       // one JSON file per identifier
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL via database/sql + pgx
	StorageGorm     StorageDriver = "gorm"     // PostgreSQL via gorm
	StorageS3       StorageDriver = "s3"       // one object per identifier, S3 / MinIO
)

// UpdateFunc computes the record to store from the current one. exists is
// false when nothing is stored yet, in which case current is empty.
type UpdateFunc func(current VisitRecord, exists bool) (VisitRecord, error)

// VisitStore is the key-value persistence for visit records, addressed by an
// opaque identifier. Implementations must be safe for concurrent use and must
// never hand out records aliased with their internal state.
type VisitStore interface {
	// Get returns the stored record or ErrNotFound.
	Get(ctx context.Context, id string) (VisitRecord, error)
	// Update replaces the record with fn's result, atomically where the backend
	// allows it. An error from fn aborts without writing.
	Update(ctx context.Context, id string, fn UpdateFunc) (VisitRecord, error)
	// Driver names the backend.
	Driver() StorageDriver
}

// VisitLister is implemented by stores that can enumerate stored identifiers.
type VisitLister interface {
	// List returns every stored identifier in lexical order.
	List(ctx context.Context) ([]string, error)
}

// VisitDeleter is implemented by stores that can remove a record.
type VisitDeleter interface {
	// Delete removes the record for id or reports ErrNotFound.
	Delete(ctx context.Context, id string) error
}
