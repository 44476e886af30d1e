// Package services defines the business logic of the letter workflow.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers with
// errors.Is.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"

	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// Workflow errors, re-exported so handlers depend on one package.
var (
	// ErrInvalidTransition: the edge does not exist for the current status.
	ErrInvalidTransition = workflow.ErrInvalidTransition

	// ErrWrongState: an approval operation on a letter not in approval.
	// errors.Is(ErrWrongState, ErrInvalidTransition) holds.
	ErrWrongState = workflow.ErrWrongState

	// ErrForbidden: the actor's role or department lacks the capability.
	ErrForbidden = workflow.ErrForbidden

	// ErrAlreadyReserved: another approver holds the claim.
	ErrAlreadyReserved = workflow.ErrAlreadyReserved

	// ErrNotCurrentApprover: the department is not the current stage.
	ErrNotCurrentApprover = workflow.ErrNotCurrentApprover

	// ErrNoResponse: approval requested without a selected response.
	ErrNoResponse = workflow.ErrNoResponse
)

var (
	// ErrNotFound indicates that the requested letter does not exist.
	ErrNotFound = errors.New("letter not found")

	// ErrInvalidInput is returned for malformed or out-of-range arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a concurrent writer changed the letter
	// between read and save. Callers may retry.
	ErrConflict = errors.New("letter modified concurrently")

	// ErrDispatchFailed: the final response could not be handed to the
	// dispatcher; the letter stays approved.
	ErrDispatchFailed = errors.New("reply dispatch failed")
)
