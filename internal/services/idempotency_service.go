package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-letter-workflow/internal/clock"
	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/repo"
)

// DefaultIdempotencyTTL is used when no TTL is configured.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyService records completed unsafe requests so that retries with
// the same Idempotency-Key replay the stored letter instead of re-executing.
type IdempotencyService struct {
	DB    *gorm.DB
	Clock clock.Clock
	TTL   time.Duration
}

// NewIdempotencyService builds an IdempotencyService. ttl <= 0 uses the default.
func NewIdempotencyService(db *gorm.DB, clk clock.Clock, ttl time.Duration) *IdempotencyService {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyService{DB: db, Clock: clk, TTL: ttl}
}

// Lookup returns the live record for (actorID, scope, key), if any.
func (s *IdempotencyService) Lookup(ctx context.Context, actorID, scope, key string) (*domain.Idempotency, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, actorID, scope, key, s.Clock.Now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Exists reports whether a live record exists at now. Its signature matches
// middleware.IdempotencyLookup.
func (s *IdempotencyService) Exists(ctx context.Context, actorID, scope, key string, now time.Time) (bool, error) {
	_, err := repo.GetIdempotency(ctx, s.DB, actorID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Remember stores the outcome of a completed request. A concurrent duplicate
// is not an error; the first record wins.
func (s *IdempotencyService) Remember(ctx context.Context, actorID, scope, key string, letterID int64, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.DB, actorID, scope, key, letterID, status, s.Clock.Now(), s.TTL)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Purge deletes expired records.
func (s *IdempotencyService) Purge(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, s.DB, s.Clock.Now())
}
