package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-purchases-api/internal/domain"
)

// ErrDuplicate means (scope, key) already has a live record.
var ErrDuplicate = errors.New("repo: idempotency key already recorded")

// IdempotencyEntry is what a completed request leaves behind for its key.
type IdempotencyEntry struct {
	Scope       string
	Key         string
	ResourceID  string
	Fingerprint string
	Status      int
}

// GetIdempotency returns the record for (scope, key) that is still live at
// now, or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("scope = ? AND key = ? AND expires_at > ?", scope, key, now.UTC()).
		First(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency stores e, live until now+ttl. A record for the same
// (scope, key) that expired by now is replaced; a live one yields
// ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, e IdempotencyEntry, now time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	now = now.UTC()
	rec := &domain.Idempotency{
		ID:          uuid.NewString(),
		Scope:       e.Scope,
		Key:         e.Key,
		ResourceID:  e.ResourceID,
		Fingerprint: e.Fingerprint,
		Status:      e.Status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	tx := db.WithContext(ctx)
	if err := tx.Where("scope = ? AND key = ? AND expires_at <= ?", e.Scope, e.Key, now).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}
	err := tx.Create(rec).Error
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// isUniqueViolation recognizes translated errors and the driver's plain
// text, which connections opened without TranslateError return.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "constraint failed: unique")
}
