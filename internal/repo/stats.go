package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// LettersStats returns how many letters match f and the newest UpdatedAt
// among them (nil when none match). Every write bumps UpdatedAt, so the pair
// changes whenever the matching set or any member of it does. Department,
// Involves, Offset and Limit are ignored: the result covers a superset of any
// page.
func LettersStats(ctx context.Context, db *gorm.DB, f LetterFilter) (int64, *time.Time, error) {
	f.Department, f.Involves, f.Offset, f.Limit = "", "", 0, 0
	q := f.apply(db.WithContext(ctx).Model(&domain.Letter{}))

	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// ORDER BY instead of MAX(): glebarez/sqlite returns MAX(datetime) as TEXT.
	var row struct{ UpdatedAt time.Time }
	if err := q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
