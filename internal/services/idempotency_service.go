package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-purchases-api/internal/clock"
	"github.com/tbourn/go-purchases-api/internal/domain"
	"github.com/tbourn/go-purchases-api/internal/repo"
)

// ScopePurchases namespaces idempotency keys used by POST /purchases.
const ScopePurchases = "purchases"

// IdempotencyService remembers which resource a client-supplied key produced,
// together with a keyed fingerprint of the request body.
type IdempotencyService struct {
	DB     *gorm.DB
	Secret []byte
	TTL    time.Duration
	Clock  clock.Clock
}

// NewIdempotencyService constructs an IdempotencyService. A non-positive ttl
// defaults to 24h.
func NewIdempotencyService(db *gorm.DB, secret string, ttl time.Duration) *IdempotencyService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyService{
		DB:     db,
		Secret: []byte(secret),
		TTL:    ttl,
		Clock:  clock.NewSystem(),
	}
}

// Fingerprint returns the hex HMAC-SHA256 of body keyed with the service secret.
func (s *IdempotencyService) Fingerprint(body []byte) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Lookup returns the stored record for (scope, key). It returns (nil, nil)
// when no live record exists and ErrIdempotencyConflict when one exists for a
// different fingerprint.
func (s *IdempotencyService) Lookup(ctx context.Context, scope, key, fingerprint string) (*domain.Idempotency, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, scope, key, s.Clock.Now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(rec.Fingerprint), []byte(fingerprint)) {
		return rec, ErrIdempotencyConflict
	}
	return rec, nil
}

// Remember stores (scope, key) → resourceID. When a concurrent request won
// the race, the winner's record is returned together with repo.ErrDuplicate.
func (s *IdempotencyService) Remember(ctx context.Context, scope, key, resourceID, fingerprint string, status int) (*domain.Idempotency, error) {
	rec, err := repo.CreateIdempotency(ctx, s.DB, repo.IdempotencyEntry{
		Scope:       scope,
		Key:         key,
		ResourceID:  resourceID,
		Fingerprint: fingerprint,
		Status:      status,
	}, s.Clock.Now(), s.TTL)
	if errors.Is(err, repo.ErrDuplicate) {
		prev, lerr := repo.GetIdempotency(ctx, s.DB, scope, key, s.Clock.Now())
		if lerr != nil {
			return nil, lerr
		}
		return prev, repo.ErrDuplicate
	}
	return rec, err
}
