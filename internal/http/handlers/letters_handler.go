// Letter HTTP handlers.
//
// This file exposes REST endpoints for the letter lifecycle outside approval:
//   - POST  /letters                      (ingest)
//   - GET   /letters                      (list, paginated, ETag support)
//   - GET   /letters/{id}                 (fetch one)
//   - POST  /letters/{id}/analysis        (new → analyzing)
//   - PUT   /letters/{id}/classification  (record classifier output)
//   - PUT   /letters/{id}/response        (pick or edit the draft)
//   - PATCH /letters/{id}/status          (plain edges and shortcuts)
//   - POST  /letters/{id}/send            (approved → sent)
//   - PUT   /letters/{id}/deadline        (manual SLA override)
//   - GET   /letters/{id}/sla             (current SLA evaluation)
//
// Handlers are transport-thin: they parse input, call the services with the
// request actor and translate errors through failService.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/services"
)

//
// DTOs
//

// IngestLetterRequest is the JSON payload for a new inbound letter.
type IngestLetterRequest struct {
	Subject     string `json:"subject" binding:"required" example:"Refund request for order 1182"`
	Body        string `json:"body" binding:"required" example:"Dear team, I would like to request a refund..."`
	SenderEmail string `json:"sender_email" example:"client@example.com"`
	SenderName  string `json:"sender_name" example:"Ivan Petrov"`
}

// ClassificationRequest carries the output of the external analysis step.
type ClassificationRequest struct {
	LetterType          domain.LetterType     `json:"letter_type" example:"complaint"`
	FormalityLevel      domain.FormalityLevel `json:"formality_level" example:"corporate"`
	Priority            *int                  `json:"priority,omitempty" example:"2"`
	SLAHours            *int                  `json:"sla_hours,omitempty" example:"24"`
	Risks               []domain.Risk         `json:"risks,omitempty"`
	RequiredDepartments []string              `json:"required_departments,omitempty"`
	ClassificationData  map[string]any        `json:"classification_data,omitempty"`
	ExtractedEntities   map[string]any        `json:"extracted_entities,omitempty"`
	DraftResponses      map[string]string     `json:"draft_responses,omitempty"`
}

// SelectResponseRequest picks a draft by key or supplies edited text.
type SelectResponseRequest struct {
	DraftKey string `json:"draft_key,omitempty" example:"formal"`
	Text     string `json:"text,omitempty"`
}

// ChangeStatusRequest requests a plain lifecycle edge.
type ChangeStatusRequest struct {
	Status domain.Status `json:"status" binding:"required" example:"sent"`
}

// OverrideDeadlineRequest replaces the computed deadline.
type OverrideDeadlineRequest struct {
	Deadline time.Time `json:"deadline" binding:"required" example:"2026-03-04T18:00:00Z"`
}

// ListLettersResponse wraps a page of letters and pagination information.
type ListLettersResponse struct {
	Letters    []domain.Letter `json:"letters"`
	Pagination Pagination      `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeBody normalizes letter text: CRLF/CR become LF, runs of blank lines
// collapse to one, and surrounding whitespace is trimmed.
func sanitizeBody(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Reserved filter values of GET /letters.
const (
	reservedAny  = ""
	reservedMe   = "me"
	reservedNone = "none"
)

//
// Handlers
//

// IngestLetter godoc
// @ID          ingestLetter
// @Summary     Ingest a letter
// @Description Creates a letter in status new. Supports Idempotency-Key replay.
// @Tags        Letters
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Actor id"    example(op-1)
// @Param       X-User-Role      header  string  true  "Actor role"  example(operator)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.IngestLetterRequest  true  "Letter content"
//
// @Success     201  {object}  domain.Letter
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unknown actor"
// @Failure     403  {object}  handlers.ErrorResponse  "Role cannot ingest"
// @Router      /letters [post]
func (h *Handlers) IngestLetter(c *gin.Context) {
	actor, found := requireActor(c)
	if !found {
		return
	}
	if h.replay(c, actor, asLetter) {
		return
	}

	var req IngestLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject and body required")
		return
	}

	l, err := h.letters.Ingest(c.Request.Context(), actor, services.IngestInput{
		Subject:     strings.TrimSpace(req.Subject),
		Body:        sanitizeBody(req.Body),
		SenderEmail: req.SenderEmail,
		SenderName:  req.SenderName,
	})
	if err != nil {
		failService(c, err)
		return
	}
	h.remember(c, actor, l, http.StatusCreated)
	ok(c, http.StatusCreated, l)
}

// ListLetters godoc
// @ID          listLetters
// @Summary     List letters (paginated)
// @Description Lists letters by status. reserved=me shows the caller's claims; reserved=none
// @Description shows the unclaimed queue awaiting the department. Approvers are always scoped
// @Description to their own department; other roles may pass department to narrow any view.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Letters
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "Actor id"    example(law-1)
// @Param       X-User-Role    header  string  true  "Actor role"  example(lawyer)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       status         query   string  false "Status filter"  Enums(new,analyzing,in_progress,draft_ready,in_approval,approved,sent)
// @Param       reserved       query   string  false "Reservation view"  Enums(me,none)
// @Param       department     query   string  false "Department filter (ignored for approvers)"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListLettersResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /letters [get]
func (h *Handlers) ListLetters(c *gin.Context) {
	actor, found := requireActor(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	status := domain.Status(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	reserved := strings.ToLower(strings.TrimSpace(c.Query("reserved")))
	page, pageSize := clampPagination(c)

	// Approvers only ever see their own department's letters.
	department := strings.TrimSpace(c.Query("department"))
	if actor.Role.IsApprover() {
		department = actor.Department
	}

	switch reserved {
	case reservedAny, reservedMe, reservedNone:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reserved must be me or none")
		return
	}

	// ETag pre-check (best effort). Any write bumps updated_at, so count plus
	// the newest timestamp of the status bucket changes whenever the view can.
	if count, maxTS, err := h.queries.Stats(ctx, status); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"letters:%s:%s:%s:%s:%d:%d:%d:%d"`,
			status, reserved, actor.ID, department, page, pageSize, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	var (
		p   *services.Page
		err error
	)
	switch reserved {
	case reservedMe:
		p, err = h.queries.ListReservedBy(ctx, actor.ID, status, department, page, pageSize)
	case reservedNone:
		p, err = h.queries.ListUnreserved(ctx, status, department, page, pageSize)
	default:
		p, err = h.queries.ListByStatus(ctx, status, department, page, pageSize)
	}
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListLettersResponse{Letters: p.Items, Pagination: newPagination(p)})
}

// GetLetter godoc
// @ID          getLetter
// @Summary     Get a letter
// @Tags        Letters
// @Produce     json
// @Param       id   path  int  true  "Letter ID"  minimum(1)
// @Success     200  {object} domain.Letter
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Letter not found"
// @Router      /letters/{id} [get]
func (h *Handlers) GetLetter(c *gin.Context) {
	id, valid := letterID(c)
	if !valid {
		return
	}
	l, err := h.letters.Get(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// BeginAnalysis godoc
// @ID          beginAnalysis
// @Summary     Start analysis
// @Description Moves a new letter to analyzing.
// @Tags        Letters
// @Produce     json
// @Param       X-User-ID    header  string  true  "Actor id"
// @Param       X-User-Role  header  string  true  "Actor role"  example(classifier)
// @Param       id           path    int     true  "Letter ID"   minimum(1)
// @Success     200  {object} domain.Letter
// @Failure     403  {object} handlers.ErrorResponse "Role cannot classify"
// @Failure     404  {object} handlers.ErrorResponse "Letter not found"
// @Failure     409  {object} handlers.ErrorResponse "Invalid transition"
// @Router      /letters/{id}/analysis [post]
func (h *Handlers) BeginAnalysis(c *gin.Context) {
	h.simpleEdge(c, h.letters.BeginAnalysis)
}

// ApplyClassification godoc
// @ID          applyClassification
// @Summary     Record classification
// @Description Stores the classifier output, computes the deadline and priority
// @Description and moves the letter to in_progress.
// @Tags        Letters
// @Accept      json
// @Produce     json
// @Param       X-User-ID    header  string  true  "Actor id"
// @Param       X-User-Role  header  string  true  "Actor role"  example(classifier)
// @Param       id           path    int     true  "Letter ID"   minimum(1)
// @Param       body         body    handlers.ClassificationRequest  true  "Classification"
// @Success     200  {object} domain.Letter
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Invalid transition"
// @Router      /letters/{id}/classification [put]
func (h *Handlers) ApplyClassification(c *gin.Context) {
	actor, found := requireActor(c)
	if !found {
		return
	}
	id, valid := letterID(c)
	if !valid {
		return
	}
	var req ClassificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	l, err := h.letters.ApplyClassification(c.Request.Context(), id, actor, services.Classification{
		LetterType:          req.LetterType,
		FormalityLevel:      req.FormalityLevel,
		Priority:            req.Priority,
		SLAHours:            req.SLAHours,
		Risks:               req.Risks,
		RequiredDepartments: req.RequiredDepartments,
		ClassificationData:  req.ClassificationData,
		ExtractedEntities:   req.ExtractedEntities,
		DraftResponses:      req.DraftResponses,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// SelectResponse godoc
// @ID          selectResponse
// @Summary     Select the response draft
// @Description Picks a draft by key or stores edited text; exactly one must be given.
// @Tags        Letters
// @Accept      json
// @Produce     json
// @Param       X-User-ID    header  string  true  "Actor id"
// @Param       X-User-Role  header  string  true  "Actor role"  example(operator)
// @Param       id           path    int     true  "Letter ID"   minimum(1)
// @Param       body         body    handlers.SelectResponseRequest  true  "Selection"
// @Success     200  {object} domain.Letter
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Invalid transition"
// @Router      /letters/{id}/response [put]
func (h *Handlers) SelectResponse(c *gin.Context) {
	actor, found := requireActor(c)
	if !found {
		return
	}
	id, valid := letterID(c)
	if !valid {
		return
	}
	var req SelectResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	l, err := h.letters.SelectResponse(c.Request.Context(), id, actor, services.ResponseSelection{
		DraftKey: strings.TrimSpace(req.DraftKey),
		Text:     sanitizeBody(req.Text),
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// ChangeStatus godoc
// @ID          changeStatus
// @Summary     Request a status change
// @Description Applies a plain lifecycle edge such as the notification shortcuts.
// @Tags        Letters
// @Accept      json
// @Produce     json
// @Param       X-User-ID    header  string  true  "Actor id"
// @Param       X-User-Role  header  string  true  "Actor role"  example(operator)
// @Param       id           path    int     true  "Letter ID"   minimum(1)
// @Param       body         body    handlers.ChangeStatusRequest  true  "Target status"
// @Success     200  {object} domain.Letter
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     409  {object} handlers.ErrorResponse "Invalid transition"
// @Router      /letters/{id}/status [patch]
func (h *Handlers) ChangeStatus(c *gin.Context) {
	actor, found := requireActor(c)
	if !found {
		return
	}
	id, valid := letterID(c)
	if !valid {
		return
	}
	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	to := domain.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	l, err := h.letters.ChangeStatus(c.Request.Context(), id, actor, to)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// SendLetter godoc
// @ID          sendLetter
// @Summary     Dispatch an approved letter
// @Description Hands the final response to the reply dispatcher, addressed to sender_email as "Re: <subject>", then marks the letter sent. When the dispatcher fails the letter stays approved and 502 is returned.
// @Tags        Letters
// @Produce     json
// @Param       X-User-ID        header  string  true  "Actor id"
// @Param       X-User-Role      header  string  true  "Actor role"  example(operator)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    int     true  "Letter ID"   minimum(1)
// @Success     200  {object} domain.Letter
// @Failure     409  {object} handlers.ErrorResponse "Invalid transition"
// @Failure     502  {object} handlers.ErrorResponse "dispatch_failed"
// @Router      /letters/{id}/send [post]
func (h *Handlers) SendLetter(c *gin.Context) {
	h.simpleEdge(c, h.letters.MarkSent)
}

// OverrideDeadline godoc
// @ID          overrideDeadline
// @Summary     Override the SLA deadline
// @Tags        Letters
// @Accept      json
// @Produce     json
// @Param       X-User-ID    header  string  true  "Actor id"
// @Param       X-User-Role  header  string  true  "Actor role"  example(operator)
// @Param       id           path    int     true  "Letter ID"   minimum(1)
// @Param       body         body    handlers.OverrideDeadlineRequest  true  "New deadline (RFC 3339)"
// @Success     200  {object} domain.Letter
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Router      /letters/{id}/deadline [put]
func (h *Handlers) OverrideDeadline(c *gin.Context) {
	actor, found := requireActor(c)
	if !found {
		return
	}
	id, valid := letterID(c)
	if !valid {
		return
	}
	var req OverrideDeadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deadline required (RFC 3339)")
		return
	}
	l, err := h.letters.OverrideDeadline(c.Request.Context(), id, actor, req.Deadline)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, l)
}

// GetSLA godoc
// @ID          getLetterSLA
// @Summary     Current SLA evaluation
// @Tags        Letters
// @Produce     json
// @Param       id   path  int  true  "Letter ID"  minimum(1)
// @Success     200  {object} services.SLAReport
// @Failure     404  {object} handlers.ErrorResponse "Letter not found"
// @Router      /letters/{id}/sla [get]
func (h *Handlers) GetSLA(c *gin.Context) {
	id, valid := letterID(c)
	if !valid {
		return
	}
	r, err := h.letters.SLA(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// simpleEdge runs a body-less POST that returns the updated letter, with
// Idempotency-Key replay.
func (h *Handlers) simpleEdge(c *gin.Context, op letterOp) {
	actor, found := requireActor(c)
	if !found {
		return
	}
	id, valid := letterID(c)
	if !valid {
		return
	}
	if h.replay(c, actor, asLetter) {
		return
	}
	l, err := op(c.Request.Context(), id, actor)
	if err != nil {
		failService(c, err)
		return
	}
	h.remember(c, actor, l, http.StatusOK)
	ok(c, http.StatusOK, l)
}
