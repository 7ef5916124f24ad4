// Package gormstore provides a VisitStore on PostgreSQL through the gorm ORM. It
// shares the user_visits table layout with the database/sql postgres store.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"visitmap/pkg/domain"
)

var (
	_ domain.VisitStore   = (*Store)(nil)
	_ domain.VisitLister  = (*Store)(nil)
	_ domain.VisitDeleter = (*Store)(nil)
)

// UserVisits is the persisted row: one JSON visit record per identifier.
type UserVisits struct {
	NetID     string    `gorm:"column:net_id;primaryKey;size:190"`
	Visits    []byte    `gorm:"column:visits;type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserVisits) TableName() string {
	return "user_visits"
}

// Store persists visit records through gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore connects to dsn and migrates the user_visits table.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required for gorm driver")
	}
	return Open(postgres.Open(dsn))
}

// Open builds a store over a gorm dialector. Update relies on PostgreSQL
// advisory locks, so the dialector must speak to a postgres server.
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	if err := db.AutoMigrate(&UserVisits{}); err != nil {
		return nil, fmt.Errorf("migrate user_visits: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Driver returns the storage driver identifier.
func (s *Store) Driver() domain.StorageDriver { return domain.StorageGorm }

// Get loads the record for id.
func (s *Store) Get(ctx context.Context, id string) (domain.VisitRecord, error) {
	var row UserVisits
	err := s.db.WithContext(ctx).Where("net_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("select visits: %w", err)
	}
	return decodeRow(row)
}

func decodeRow(row UserVisits) (domain.VisitRecord, error) {
	rec, _, err := domain.DecodeRecord(row.Visits)
	if err != nil {
		return nil, fmt.Errorf("decode visits for %s: %w", row.NetID, err)
	}
	return rec, nil
}

// Update takes a transaction-scoped advisory lock on id, locks the row, applies
// fn and upserts the result in one transaction. The advisory lock serializes
// concurrent first writes, which have no row to lock.
func (s *Store) Update(ctx context.Context, id string, fn domain.UpdateFunc) (domain.VisitRecord, error) {
	var out domain.VisitRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", id).Error; err != nil {
			return fmt.Errorf("lock %s: %w", id, err)
		}
		var rows []UserVisits
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("net_id = ?", id).Limit(1).Find(&rows).Error; err != nil {
			return fmt.Errorf("select visits: %w", err)
		}
		current, exists := domain.NewVisitRecord(), len(rows) > 0
		if exists {
			rec, err := decodeRow(rows[0])
			if err != nil {
				return err
			}
			current = rec
		}
		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		next = next.Compact()
		data, err := domain.EncodeRecord(next)
		if err != nil {
			return err
		}
		row := UserVisits{NetID: id, Visits: data, UpdatedAt: s.now().UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "net_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"visits", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert %s: %w", id, err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("net_id = ?", id).Delete(&UserVisits{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound{ID: id}
	}
	return nil
}

// List returns the stored identifiers in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&UserVisits{}).Order("net_id").Pluck("net_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return ids, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
