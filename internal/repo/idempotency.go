package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// ErrDuplicate is returned when a live record already holds
// (actor_id, scope, key).
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns the record for (actorID, scope, key) when it is
// still live at now, ErrNotFound otherwise.
func GetIdempotency(ctx context.Context, db *gorm.DB, actorID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("actor_id = ? AND scope = ? AND key = ?", actorID, scope, key).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !rec.Live(now) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// CreateIdempotency stores the outcome of a keyed request, expiring after ttl.
// An expired record that the purge has not reached yet is replaced; a live
// one yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, actorID, scope, key string, letterID int64, status int, now time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Scope:     scope,
		Key:       key,
		LetterID:  letterID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return rec, nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}

	stale := db.WithContext(ctx).
		Where("actor_id = ? AND scope = ? AND key = ? AND expires_at <= ?", actorID, scope, key, now).
		Delete(&domain.Idempotency{})
	if stale.Error != nil {
		return nil, stale.Error
	}
	if stale.RowsAffected == 0 {
		return nil, ErrDuplicate
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records whose TTL elapsed at or before now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation matches the unique-constraint errors of both drivers.
// glebarez/sqlite reports them as plain text.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
