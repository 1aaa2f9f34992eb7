// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides a small aggregate query used for
// conditional responses (ETag generation) on the list endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-todo-backend/internal/domain"
)

// ItemsStats returns the number of live items and the greatest UpdatedAt
// among them. When the list is empty the count is 0 and maxUpdatedAt is nil.
//
// Deletes are soft, so a delete changes the count; an update bumps UpdatedAt.
// Together they change whenever the list body would.
func ItemsStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Item{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Item{}).
		Select("updated_at").Order("updated_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
