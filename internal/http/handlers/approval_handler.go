// Approval HTTP handlers.
//
// This file exposes the approval endpoints:
//   - POST /letters/{id}/approval           (submit draft_ready → in_approval)
//   - POST /letters/{id}/approval/decision  (record the current stage's decision)
//
// Both accept Idempotency-Key so a retried decision is never appended twice.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// DecisionRequest is the JSON payload of an approver decision. Department is
// optional and defaults to the actor's department; admins may name any stage.
type DecisionRequest struct {
	Department string `json:"department,omitempty" example:"Legal"`
	Comment    string `json:"comment" example:"Checked liability wording"`
	Approved   *bool  `json:"approved" binding:"required" example:"true"`
}

// DecisionResponse carries the updated letter and what the decision did.
// Outcome is omitted on idempotent replays.
type DecisionResponse struct {
	Letter  *domain.Letter   `json:"letter"`
	Outcome workflow.Outcome `json:"outcome,omitempty" example:"advanced"`
}

// StartApproval godoc
// @ID          startApproval
// @Summary     Submit for approval
// @Description Builds the approval route from required departments and moves the letter
// @Description to in_approval. An empty route approves the letter at once.
// @Tags        Approval
// @Produce     json
// @Param       X-User-ID        header  string  true  "Actor id"
// @Param       X-User-Role      header  string  true  "Actor role"  example(operator)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    int     true  "Letter ID"   minimum(1)
// @Success     200  {object} domain.Letter
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     409  {object} handlers.ErrorResponse "Invalid transition"
// @Router      /letters/{id}/approval [post]
func (h *Handlers) StartApproval(c *gin.Context) {
	h.simpleEdge(c, h.letters.StartApproval)
}

// RecordDecision godoc
// @ID          recordDecision
// @Summary     Record an approval decision
// @Description Appends the decision for the current stage. Approval advances to the next
// @Description stage or approves the letter; rejection returns it to draft_ready.
// @Tags        Approval
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  true  "Actor id"    example(law-1)
// @Param       X-User-Role      header  string  true  "Actor role"  example(lawyer)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    int     true  "Letter ID"   minimum(1)
// @Param       body             body    handlers.DecisionRequest  true  "Decision"
// @Success     200  {object} handlers.DecisionResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     409  {object} handlers.ErrorResponse "wrong_state, not_current_approver or already_reserved"
// @Router      /letters/{id}/approval/decision [post]
func (h *Handlers) RecordDecision(c *gin.Context) {
	actor, found := requireActor(c)
	if !found {
		return
	}
	id, valid := letterID(c)
	if !valid {
		return
	}
	if h.replay(c, actor, func(l *domain.Letter) any { return DecisionResponse{Letter: l} }) {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Approved == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "approved flag required")
		return
	}

	l, outcome, err := h.approvals.RecordDecision(c.Request.Context(), id, actor, workflow.Decision{
		Department: strings.TrimSpace(req.Department),
		Comment:    strings.TrimSpace(req.Comment),
		Approved:   *req.Approved,
	})
	if err != nil {
		failService(c, err)
		return
	}
	h.remember(c, actor, l, http.StatusOK)
	ok(c, http.StatusOK, DecisionResponse{Letter: l, Outcome: outcome})
}
