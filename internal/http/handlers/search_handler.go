// Search HTTP handler.
//
//   - GET /search/letters?q=...&k=...
//
// Ranks letters by token overlap between the query and subject plus body.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-letter-workflow/internal/services"
	"github.com/tbourn/go-letter-workflow/internal/utils"
)

const maxSearchK = 50

// SearchResponse lists ranked hits, best first.
type SearchResponse struct {
	Query string               `json:"query" example:"refund payment"`
	Hits  []services.SearchHit `json:"hits"`
}

// SearchLetters godoc
// @ID          searchLetters
// @Summary     Search letters
// @Tags        Search
// @Produce     json
// @Param       q  query  string  true   "Free text query"  example(refund payment)
// @Param       k  query  int     false  "Max hits"  minimum(1) maximum(50) default(10)
// @Success     200  {object} handlers.SearchResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /search/letters [get]
func (h *Handlers) SearchLetters(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q required")
		return
	}
	k := utils.IntQuery(c.Query("k"), 10, 1, maxSearchK)
	hits, err := h.queries.Search(c.Request.Context(), q, k)
	if err != nil {
		failService(c, err)
		return
	}
	if hits == nil {
		hits = []services.SearchHit{}
	}
	ok(c, http.StatusOK, SearchResponse{Query: q, Hits: hits})
}
