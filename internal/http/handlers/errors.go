// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in ErrorResponse.Code.
// Clients branch on them instead of on the status alone: several workflow
// failures share 409 and are only distinguishable by code.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "already_reserved",
//	  "message": "letter already reserved"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Workflow:
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeWrongState         = "wrong_state"
	ErrCodeAlreadyReserved    = "already_reserved"
	ErrCodeNotCurrentApprover = "not_current_approver"
	ErrCodeDispatchFailed     = "dispatch_failed"
)
