// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Item model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a live item is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience). Update and delete
//     derive it from RowsAffected == 0 so callers never have to interpret an
//     empty result themselves.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Usage:
//
//	item, err := repo.GetItem(ctx, db, 42)
//	if errors.Is(err, repo.ErrNotFound) {
//	    // handle missing
//	} else if err != nil {
//	    // handle DB failure
//	}
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-todo-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateItem inserts a new item with the given text. Any ID on the input is
// ignored; the database assigns one.
func CreateItem(ctx context.Context, db *gorm.DB, text string) (*domain.Item, error) {
	it := &domain.Item{Text: text}
	if err := db.WithContext(ctx).Create(it).Error; err != nil {
		return nil, err
	}
	return it, nil
}

// GetItem fetches a single live item by id, or ErrNotFound.
func GetItem(ctx context.Context, db *gorm.DB, id int64) (*domain.Item, error) {
	var it domain.Item
	if err := db.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// ListItems returns all live items ordered by id ascending. It returns an
// empty slice when the list is empty.
func ListItems(ctx context.Context, db *gorm.DB) ([]domain.Item, error) {
	out := []domain.Item{}
	err := db.WithContext(ctx).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// UpdateItemText replaces the text of an existing live item and returns the
// stored row. If no rows are affected it returns ErrNotFound, so updates never
// create rows.
func UpdateItemText(ctx context.Context, db *gorm.DB, id int64, text string) (*domain.Item, error) {
	res := db.WithContext(ctx).
		Model(&domain.Item{}).
		Where("id = ?", id).
		Update("text", text)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return GetItem(ctx, db, id)
}

// DeleteItem soft-deletes the item with the given id. If no live row matched
// it returns ErrNotFound.
func DeleteItem(ctx context.Context, db *gorm.DB, id int64) error {
	res := db.WithContext(ctx).Delete(&domain.Item{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
