// Reservation HTTP handlers.
//
//   - POST   /letters/{id}/reservation  (claim for the calling approver)
//   - DELETE /letters/{id}/reservation  (release; holder or admin)
//
// Exactly one of several concurrent claims succeeds; the others receive
// 409 already_reserved.
package handlers

import (
	"github.com/gin-gonic/gin"
)

// ReserveLetter godoc
// @ID          reserveLetter
// @Summary     Claim a letter
// @Tags        Reservation
// @Produce     json
// @Param       X-User-ID        header  string  true  "Actor id"    example(law-1)
// @Param       X-User-Role      header  string  true  "Actor role"  example(lawyer)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    int     true  "Letter ID"   minimum(1)
// @Success     200  {object} domain.Letter
// @Failure     403  {object} handlers.ErrorResponse "Not an approver for this stage"
// @Failure     409  {object} handlers.ErrorResponse "already_reserved or wrong_state"
// @Router      /letters/{id}/reservation [post]
func (h *Handlers) ReserveLetter(c *gin.Context) {
	h.simpleEdge(c, h.reservations.Reserve)
}

// ReleaseLetter godoc
// @ID          releaseLetter
// @Summary     Release a claim
// @Tags        Reservation
// @Produce     json
// @Param       X-User-ID    header  string  true  "Actor id"    example(law-1)
// @Param       X-User-Role  header  string  true  "Actor role"  example(lawyer)
// @Param       id           path    int     true  "Letter ID"   minimum(1)
// @Success     200  {object} domain.Letter
// @Failure     403  {object} handlers.ErrorResponse "Claim held by someone else"
// @Router      /letters/{id}/reservation [delete]
func (h *Handlers) ReleaseLetter(c *gin.Context) {
	h.simpleEdge(c, h.reservations.Release)
}
