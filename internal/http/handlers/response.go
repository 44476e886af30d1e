package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-letter-workflow/internal/http/middleware"
	"github.com/tbourn/go-letter-workflow/internal/services"
)

// ErrorResponse is the body of every non-2xx API response.
//
//	HTTP/1.1 409 Conflict
//	{"request_id":"5f0c...","code":"already_reserved","message":"letter is reserved by law-2"}
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching a client error to server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable machine-readable code, see errors.go.
	Code    string `json:"code" example:"already_reserved"`
	Message string `json:"message" example:"letter is reserved by another approver"`
}

// serviceErrors maps service sentinels to responses. Order matters:
// ErrWrongState wraps ErrInvalidTransition and must match first.
var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrInvalidInput, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
	{services.ErrAlreadyReserved, http.StatusConflict, ErrCodeAlreadyReserved},
	{services.ErrNotCurrentApprover, http.StatusConflict, ErrCodeNotCurrentApprover},
	{services.ErrWrongState, http.StatusConflict, ErrCodeWrongState},
	{services.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidTransition},
	{services.ErrConflict, http.StatusConflict, ErrCodeConflict},
	{services.ErrDispatchFailed, http.StatusBadGateway, ErrCodeDispatchFailed},
}

// fail aborts with an ErrorResponse. Server errors are logged on the
// request logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	middleware.SetErrorCode(c, code)
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// failService answers with the mapping of err, or a bare 500 whose cause
// stays in the log.
func failService(c *gin.Context, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			fail(c, m.status, m.code, err.Error())
			return
		}
	}
	middleware.LoggerFrom(c).Error().Err(err).Msg("service error")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}

// Fail lets the router answer NoRoute and NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
