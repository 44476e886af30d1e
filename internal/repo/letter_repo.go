// Package repo implements the data persistence layer for letters, backed by
// GORM. This file provides repository functions for the Letter model.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside a transaction opened by the service layer. They follow the thin
// repository approach: workflow rules live in internal/workflow and the
// services; here we only persist and query.
//
// Error semantics:
//   - A missing letter yields ErrNotFound (gorm.ErrRecordNotFound).
//   - SaveLetter yields ErrVersionConflict when the row changed underneath.
//   - Other DB errors are propagated untouched.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrVersionConflict means the stored version no longer matches the one the
// caller read.
var ErrVersionConflict = errors.New("version conflict")

// CreateLetter inserts l with version 1 and UTC timestamps set to now.
func CreateLetter(ctx context.Context, db *gorm.DB, l *domain.Letter, now time.Time) error {
	l.ID = 0
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.Status == "" {
		l.Status = domain.StatusNew
	}
	if l.Priority == 0 {
		l.Priority = domain.PriorityMedium
	}
	return db.WithContext(ctx).Create(l).Error
}

// GetLetter fetches one letter by id, or ErrNotFound.
func GetLetter(ctx context.Context, db *gorm.DB, id int64) (*domain.Letter, error) {
	var l domain.Letter
	if err := db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// SaveLetter writes every mutable column of l if the stored version still
// equals l.Version, then bumps l.Version. On conflict l is left unchanged.
func SaveLetter(ctx context.Context, db *gorm.DB, l *domain.Letter, now time.Time) error {
	prev, prevAt := l.Version, l.UpdatedAt
	l.Version = prev + 1
	l.UpdatedAt = now

	res := db.WithContext(ctx).
		Model(&domain.Letter{}).
		Where("id = ? AND version = ?", l.ID, prev).
		Select("*").
		Omit("id", "created_at").
		Updates(l)
	if res.Error == nil && res.RowsAffected == 1 {
		return nil
	}

	l.Version, l.UpdatedAt = prev, prevAt
	if res.Error != nil {
		return res.Error
	}
	var n int64
	if err := db.WithContext(ctx).Model(&domain.Letter{}).Where("id = ?", l.ID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// ReserveLetter sets the reservation pair in one conditional UPDATE that
// only matches a free in_approval row at the expected version. It reports
// whether the row was claimed.
func ReserveLetter(ctx context.Context, db *gorm.DB, id, version int64, actorID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Letter{}).
		Where("id = ? AND version = ? AND status = ? AND reserved_by IS NULL", id, version, domain.StatusInApproval).
		UpdateColumns(map[string]any{
			"reserved_by": actorID,
			"reserved_at": now,
			"version":     gorm.Expr("version + 1"),
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LetterFilter narrows ListLetters. Zero values mean "any".
type LetterFilter struct {
	Statuses   []domain.Status
	ReservedBy string
	Unreserved bool
	// Department keeps only letters whose current_approver matches it,
	// compared with Unicode case folding in Go because SQLite's LOWER() is
	// ASCII-only.
	Department string
	// Involves keeps only letters that require the department or route a
	// stage to it, in any status.
	Involves string
	Offset   int
	Limit      int // <= 0 means no limit
}

func (f LetterFilter) apply(q *gorm.DB) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.ReservedBy != "" {
		q = q.Where("reserved_by = ?", f.ReservedBy)
	}
	if f.Unreserved {
		q = q.Where("reserved_by IS NULL")
	}
	return q
}

// ListLetters returns one page of letters matching f ordered by priority,
// then age, plus the total number of matches.
func ListLetters(ctx context.Context, db *gorm.DB, f LetterFilter) ([]domain.Letter, int64, error) {
	base := f.apply(db.WithContext(ctx).Model(&domain.Letter{}))

	if f.Department != "" || f.Involves != "" {
		if f.Department != "" {
			base = base.Where("current_approver IS NOT NULL")
		}
		var all []domain.Letter
		if err := base.Order("priority ASC, created_at ASC, id ASC").Find(&all).Error; err != nil {
			return nil, 0, err
		}
		kept := all[:0]
		for _, l := range all {
			if f.Department != "" && !workflow.SameDepartment(l.Approver(), f.Department) {
				continue
			}
			if f.Involves != "" && !involves(&l, f.Involves) {
				continue
			}
			kept = append(kept, l)
		}
		return page(kept, f.Offset, f.Limit), int64(len(kept)), nil
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q := base.Order("priority ASC, created_at ASC, id ASC")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []domain.Letter
	if err := q.Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func involves(l *domain.Letter, department string) bool {
	for _, d := range l.RequiredDepartments {
		if workflow.SameDepartment(d, department) {
			return true
		}
	}
	for _, st := range l.ApprovalRoute {
		if workflow.SameDepartment(st.Department, department) {
			return true
		}
	}
	return false
}

func page(items []domain.Letter, offset, limit int) []domain.Letter {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []domain.Letter{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// ListActive returns every letter still counting against its SLA.
func ListActive(ctx context.Context, db *gorm.DB) ([]domain.Letter, error) {
	var out []domain.Letter
	err := db.WithContext(ctx).
		Where("status NOT IN ?", []domain.Status{domain.StatusApproved, domain.StatusSent}).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListStaleReservations returns in_approval letters claimed before cutoff.
func ListStaleReservations(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.Letter, error) {
	var out []domain.Letter
	err := db.WithContext(ctx).
		Where("status = ? AND reserved_by IS NOT NULL AND reserved_at < ?", domain.StatusInApproval, cutoff).
		Order("reserved_at ASC").
		Find(&out).Error
	return out, err
}
