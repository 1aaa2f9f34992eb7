// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for POST /items.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-todo-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given key.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record for key or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
//
// Expired records for the same key are purged first so a key can be reused
// once its TTL has elapsed.
func CreateIdempotency(ctx context.Context, db *gorm.DB, key string, itemID int64, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	if err := db.WithContext(ctx).
		Where("key = ? AND expires_at <= ?", key, now).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}

	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Key:       key,
		ItemID:    itemID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// isUniqueViolation detects unique-constraint failures. glebarez/sqlite often
// returns plain-text errors that do not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// DeleteIdempotency removes the record for key that points at itemID. Scoping
// by item keeps a concurrent re-key of the same key intact.
func DeleteIdempotency(ctx context.Context, db *gorm.DB, key string, itemID int64) error {
	return db.WithContext(ctx).
		Where("key = ? AND item_id = ?", key, itemID).
		Delete(&domain.Idempotency{}).Error
}
