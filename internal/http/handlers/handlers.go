// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers consume, the Handlers
// wiring type and the helpers shared by every letter endpoint: actor lookup,
// path id parsing, pagination and Idempotency-Key replay.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/http/middleware"
	"github.com/tbourn/go-letter-workflow/internal/services"
	"github.com/tbourn/go-letter-workflow/internal/utils"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

//
// Service contracts (context-aware)
//

// LetterService drives ingestion, classification, drafting and dispatch.
type LetterService interface {
	Ingest(ctx context.Context, actor domain.Actor, in services.IngestInput) (*domain.Letter, error)
	Get(ctx context.Context, id int64) (*domain.Letter, error)
	BeginAnalysis(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error)
	ApplyClassification(ctx context.Context, id int64, actor domain.Actor, c services.Classification) (*domain.Letter, error)
	SelectResponse(ctx context.Context, id int64, actor domain.Actor, sel services.ResponseSelection) (*domain.Letter, error)
	ChangeStatus(ctx context.Context, id int64, actor domain.Actor, to domain.Status) (*domain.Letter, error)
	StartApproval(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error)
	MarkSent(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error)
	OverrideDeadline(ctx context.Context, id int64, actor domain.Actor, deadline time.Time) (*domain.Letter, error)
	SLA(ctx context.Context, id int64) (*services.SLAReport, error)
}

// ApprovalService records department decisions.
type ApprovalService interface {
	RecordDecision(ctx context.Context, id int64, actor domain.Actor, d workflow.Decision) (*domain.Letter, workflow.Outcome, error)
}

// ReservationService claims and releases letters for approvers.
type ReservationService interface {
	Reserve(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error)
	Release(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error)
}

// QueryService serves the read-only list, stats and search views.
type QueryService interface {
	ListByStatus(ctx context.Context, status domain.Status, department string, page, pageSize int) (*services.Page, error)
	ListReservedBy(ctx context.Context, actorID string, status domain.Status, department string, page, pageSize int) (*services.Page, error)
	ListUnreserved(ctx context.Context, status domain.Status, department string, page, pageSize int) (*services.Page, error)
	Stats(ctx context.Context, status ...domain.Status) (int64, *time.Time, error)
	Search(ctx context.Context, query string, k int) ([]services.SearchHit, error)
}

// IdempotencyStore persists the outcome of keyed unsafe requests.
type IdempotencyStore interface {
	Lookup(ctx context.Context, actorID, scope, key string) (*domain.Idempotency, bool, error)
	Remember(ctx context.Context, actorID, scope, key string, letterID int64, status int) error
}

//
// Handler wiring
//

// Handlers groups the letter workflow endpoints.
type Handlers struct {
	letters      LetterService
	approvals    ApprovalService
	reservations ReservationService
	queries      QueryService
	idem         IdempotencyStore
}

// New constructs a Handlers bound to the given services. idem may be nil, in
// which case Idempotency-Key headers are accepted but never replayed.
func New(letters LetterService, approvals ApprovalService, reservations ReservationService, queries QueryService, idem IdempotencyStore) *Handlers {
	return &Handlers{
		letters:      letters,
		approvals:    approvals,
		reservations: reservations,
		queries:      queries,
		idem:         idem,
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(p *services.Page) Pagination {
	totalPages := 0
	if p.PageSize > 0 {
		totalPages = int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	return Pagination{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      p.Total,
		TotalPages: totalPages,
		HasNext:    p.Page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.IntQuery(c.Query("page"), defaultPage, 1, 0)
	pageSize = utils.IntQuery(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return
}

// requireActor returns the actor resolved by middleware.Actor or writes 401.
func requireActor(c *gin.Context) (domain.Actor, bool) {
	a, found := middleware.ActorFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing actor identity")
		return domain.Actor{}, false
	}
	return a, true
}

// letterID parses the :id path parameter or writes 400.
func letterID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "letter id must be a positive integer")
		return 0, false
	}
	return id, true
}

// idempotencyKey reads the key stashed by IdempotencyValidator, falling back
// to the raw header when the validator is not mounted.
func idempotencyKey(c *gin.Context) string {
	if k, found := middleware.GetIdempotencyKey(c); found {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}

// replay answers a retried request from its stored outcome. It reports false
// when there is nothing to replay and the handler should run normally.
func (h *Handlers) replay(c *gin.Context, actor domain.Actor, render func(*domain.Letter) any) bool {
	key := idempotencyKey(c)
	if key == "" || h.idem == nil {
		return false
	}
	if replay, checked := middleware.ReplayStatus(c); checked && !replay {
		return false
	}
	ctx := c.Request.Context()
	rec, found, err := h.idem.Lookup(ctx, actor.ID, middleware.IdempotencyScope(c), key)
	if err != nil || !found {
		return false
	}
	l, err := h.letters.Get(ctx, rec.LetterID)
	if err != nil {
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, rec.Status, render(l))
	return true
}

// remember records a successful keyed request. Best effort: a failed write
// only costs the client a re-execution on retry.
func (h *Handlers) remember(c *gin.Context, actor domain.Actor, l *domain.Letter, status int) {
	key := idempotencyKey(c)
	if key == "" || h.idem == nil || l == nil {
		return
	}
	if err := h.idem.Remember(c.Request.Context(), actor.ID, middleware.IdempotencyScope(c), key, l.ID, status); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record failed")
	}
}

// letterOp is a service call that changes one letter on behalf of an actor.
type letterOp func(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error)

func asLetter(l *domain.Letter) any { return l }
