// Package services – QueryService
//
// QueryService is the read side used by pollers: filtered letter views by
// status and claim ownership, an aggregate used as a weak ETag, and free-text
// search. It never mutates letters and takes no per-letter locks.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/repo"
	"github.com/tbourn/go-letter-workflow/internal/search"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultSearchK  = 10
)

// QueryService serves read-only letter views.
type QueryService struct {
	DB *gorm.DB
}

// NewQueryService builds a QueryService.
func NewQueryService(db *gorm.DB) *QueryService { return &QueryService{DB: db} }

// Page is one page of a letter listing.
type Page struct {
	Items    []domain.Letter `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// SearchHit is a letter ranked by a free-text query.
type SearchHit struct {
	Letter domain.Letter `json:"letter"`
	Score  float64       `json:"score"`
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func (s *QueryService) list(ctx context.Context, name string, f repo.LetterFilter, page, pageSize int) (*Page, error) {
	ctx, span := otel.Tracer("services/QueryService").Start(ctx, name,
		trace.WithAttributes(
			attribute.String("reserved_by", f.ReservedBy),
			attribute.String("department", f.Department),
			attribute.String("involves", f.Involves),
			attribute.Int("page", page),
		),
	)
	defer span.End()

	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, st)
		}
	}
	page, pageSize = normalizePage(page, pageSize)
	f.Offset = (page - 1) * pageSize
	f.Limit = pageSize

	items, total, err := repo.ListLetters(ctx, s.DB, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Letter{}
	}
	return &Page{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListByStatus lists letters in status (every letter when status is empty).
// A non-empty department keeps only letters that require it or route a stage
// to it.
func (s *QueryService) ListByStatus(ctx context.Context, status domain.Status, department string, page, pageSize int) (*Page, error) {
	f := repo.LetterFilter{Statuses: statuses(status), Involves: strings.TrimSpace(department)}
	return s.list(ctx, "ListByStatus", f, page, pageSize)
}

// ListReservedBy lists letters claimed by actorID, optionally narrowed to
// status and to letters involving department.
func (s *QueryService) ListReservedBy(ctx context.Context, actorID string, status domain.Status, department string, page, pageSize int) (*Page, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	f := repo.LetterFilter{Statuses: statuses(status), ReservedBy: actorID, Involves: strings.TrimSpace(department)}
	return s.list(ctx, "ListReservedBy", f, page, pageSize)
}

// ListUnreserved lists unclaimed letters in status. A non-empty department
// keeps only letters currently waiting on that department.
func (s *QueryService) ListUnreserved(ctx context.Context, status domain.Status, department string, page, pageSize int) (*Page, error) {
	f := repo.LetterFilter{
		Statuses:   statuses(status),
		Unreserved: true,
		Department: strings.TrimSpace(department),
	}
	return s.list(ctx, "ListUnreserved", f, page, pageSize)
}

// Stats returns the count and most recent update of letters in the given
// statuses. Handlers fold the pair into an ETag.
func (s *QueryService) Stats(ctx context.Context, status ...domain.Status) (int64, *time.Time, error) {
	var filtered []domain.Status
	for _, st := range status {
		if st != "" {
			filtered = append(filtered, st)
		}
	}
	return repo.LettersStats(ctx, s.DB, repo.LetterFilter{Statuses: filtered})
}

// Search ranks letters by similarity of query to subject and body. At most k
// hits are returned (10 when k <= 0); letters with no shared token are
// omitted.
func (s *QueryService) Search(ctx context.Context, query string, k int) ([]SearchHit, error) {
	ctx, span := otel.Tracer("services/QueryService").Start(ctx, "Search",
		trace.WithAttributes(attribute.Int("k", k)),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if k <= 0 {
		k = defaultSearchK
	}

	var letters []domain.Letter
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&letters).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Letter, len(letters))
	docs := make([]search.Document, 0, len(letters))
	for _, l := range letters {
		byID[l.ID] = l
		docs = append(docs, search.Document{ID: l.ID, Text: search.PrepareLetter(l.Subject, l.Body)})
	}

	idx := search.NewIndex(docs, search.WithStopwords(search.DefaultStopwords))
	hits := []SearchHit{}
	for _, r := range idx.TopK(query, k) {
		if r.Score <= 0 {
			continue
		}
		hits = append(hits, SearchHit{Letter: byID[r.ID], Score: r.Score})
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

func statuses(st domain.Status) []domain.Status {
	if st == "" {
		return nil
	}
	return []domain.Status{st}
}
