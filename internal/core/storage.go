package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"visitmap/internal/infra/persistence/fs"
	"visitmap/internal/infra/persistence/gormstore"
	"visitmap/internal/infra/persistence/memory"
	"visitmap/internal/infra/persistence/postgres"
	"visitmap/internal/infra/persistence/s3"
	"visitmap/internal/infra/persistence/sqlite"
	"visitmap/pkg/domain"
)

// OpenVisitStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	VISITMAP_STORAGE_DRIVER: memory|fs|sqlite|postgres|gorm|s3 (default sqlite)
//	VISITMAP_SQLITE_PATH: path to sqlite file (default ./visitmap.db)
//	VISITMAP_POSTGRES_DSN: postgres DSN when driver=postgres or gorm
//	VISITMAP_FS_ROOT: directory when driver=fs (default ./visitdata)
//	VISITMAP_S3_*: see s3.OpenFromEnv
func OpenVisitStore(ctx context.Context) (domain.VisitStore, error) {
	driver := os.Getenv("VISITMAP_STORAGE_DRIVER")
	if driver == "" {
		driver = string(domain.StorageSQLite)
	}
	var (
		store domain.VisitStore
		err   error
	)
	switch domain.StorageDriver(driver) {
	case domain.StorageMemory:
		return memory.NewStore(), nil
	case domain.StorageFS:
		store, err = fs.New(os.Getenv("VISITMAP_FS_ROOT"))
	case domain.StorageSQLite:
		store, err = sqlite.NewStore(os.Getenv("VISITMAP_SQLITE_PATH"))
	case domain.StoragePostgres:
		store, err = postgres.NewStore(ctx, os.Getenv("VISITMAP_POSTGRES_DSN"))
	case domain.StorageGorm:
		dsn := os.Getenv("VISITMAP_POSTGRES_DSN")
		if dsn == "" {
			dsn = postgres.DefaultDSN
		}
		store, err = gormstore.NewStore(dsn)
	case domain.StorageS3:
		store, err = s3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// CloseStore releases store resources when the backend holds any.
func CloseStore(store domain.VisitStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
