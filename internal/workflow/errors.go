// Package workflow holds the pure rules of the letter lifecycle: the
// transition graph, capability checks, approval routing and SLA evaluation.
//
// Nothing in this package touches storage, the clock or the network. Every
// function takes the letter and the current time explicitly and either
// mutates the given letter in place or returns an error leaving it
// untouched, so callers can run them inside a single read-modify-write.
package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition: the requested edge does not exist for the
	// letter's current status and type.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrWrongState is the approval-specific form of ErrInvalidTransition:
	// decisions and claims require status in_approval.
	ErrWrongState = fmt.Errorf("%w: letter is not in approval", ErrInvalidTransition)

	// ErrForbidden: the actor's role lacks the capability for the edge.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyReserved: another claim exists.
	ErrAlreadyReserved = errors.New("letter already reserved")

	// ErrNotCurrentApprover: the department is not the current stage.
	ErrNotCurrentApprover = errors.New("not current approver")

	// ErrNoResponse: approval and dispatch need a selected response.
	ErrNoResponse = fmt.Errorf("%w: no response selected", ErrInvalidTransition)

	// ErrInvariant: a letter state violates a data-model invariant.
	ErrInvariant = errors.New("letter invariant violated")
)
