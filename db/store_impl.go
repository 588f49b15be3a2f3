package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type SQLStore struct {
	db       *gorm.DB
	entities []Entity
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, entities: Entities}
}

// Ping verifies the underlying database connection is healthy.
func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sql store is not initialized")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// TableCounts returns the number of live rows in each BirdQuest table keyed
// by table name. Soft-deleted rows are not counted.
func (s *SQLStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(s.entities))
	for _, e := range s.entities {
		var n int64
		if err := s.db.WithContext(ctx).Model(e.Model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("counting %s: %w", e.Name, err)
		}
		counts[e.Name] = n
	}
	return counts, nil
}
