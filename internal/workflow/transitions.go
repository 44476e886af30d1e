package workflow

import (
	"fmt"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// Edge is one permitted status change and the capability it requires.
type Edge struct {
	From       domain.Status
	To         domain.Status
	Capability domain.Capability
	// NotificationOnly edges exist only for letters of type notification.
	NotificationOnly bool
}

// Transitions is the complete lifecycle graph. draft_ready -> approved is
// reachable only through BeginApproval when the round's route is empty.
var Transitions = []Edge{
	{From: domain.StatusNew, To: domain.StatusAnalyzing, Capability: domain.CapClassify},
	{From: domain.StatusAnalyzing, To: domain.StatusInProgress, Capability: domain.CapClassify},
	{From: domain.StatusInProgress, To: domain.StatusDraftReady, Capability: domain.CapEdit},
	{From: domain.StatusDraftReady, To: domain.StatusDraftReady, Capability: domain.CapEdit},
	{From: domain.StatusDraftReady, To: domain.StatusInApproval, Capability: domain.CapEdit},
	{From: domain.StatusDraftReady, To: domain.StatusApproved, Capability: domain.CapEdit},
	{From: domain.StatusInApproval, To: domain.StatusInApproval, Capability: domain.CapApprove},
	{From: domain.StatusInApproval, To: domain.StatusApproved, Capability: domain.CapApprove},
	{From: domain.StatusInApproval, To: domain.StatusDraftReady, Capability: domain.CapApprove},
	{From: domain.StatusApproved, To: domain.StatusSent, Capability: domain.CapEdit},

	{From: domain.StatusNew, To: domain.StatusInProgress, Capability: domain.CapEdit, NotificationOnly: true},
	{From: domain.StatusInProgress, To: domain.StatusNew, Capability: domain.CapEdit, NotificationOnly: true},
	{From: domain.StatusInProgress, To: domain.StatusApproved, Capability: domain.CapEdit, NotificationOnly: true},
}

// Lookup finds the edge from -> to for a letter of type lt.
func Lookup(lt domain.LetterType, from, to domain.Status) (Edge, bool) {
	for _, e := range Transitions {
		if e.From != from || e.To != to {
			continue
		}
		if e.NotificationOnly && lt != domain.TypeNotification {
			continue
		}
		return e, true
	}
	return Edge{}, false
}

// Check validates that actor may move l to status to. It returns
// ErrInvalidTransition when no such edge exists and ErrForbidden when the
// actor's role lacks the edge's capability. Approve edges additionally
// require the actor's department to match current_approver unless the actor
// holds the override capability.
func Check(l *domain.Letter, actor domain.Actor, to domain.Status) (Edge, error) {
	e, ok := Lookup(l.LetterType, l.Status, to)
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, to)
	}
	if !actor.Can(e.Capability) {
		return Edge{}, fmt.Errorf("%w: role %q lacks %s", ErrForbidden, actor.Role, e.Capability)
	}
	if e.Capability == domain.CapApprove && !actor.Can(domain.CapOverride) &&
		!SameDepartment(actor.Department, l.Approver()) {
		return Edge{}, fmt.Errorf("%w: department %q is not the current approver", ErrForbidden, actor.Department)
	}
	return e, nil
}

// Apply performs a plain status change that carries no side effects beyond
// the status itself: triage, notification shortcuts and dispatch. Edges that
// touch the route or reservation go through BeginApproval and Decide.
func Apply(l *domain.Letter, actor domain.Actor, to domain.Status) error {
	switch {
	case l.Status == domain.StatusDraftReady && (to == domain.StatusInApproval || to == domain.StatusApproved):
		return fmt.Errorf("%w: use start approval", ErrInvalidTransition)
	case l.Status == domain.StatusInApproval:
		return fmt.Errorf("%w: use a decision", ErrInvalidTransition)
	}
	if _, err := Check(l, actor, to); err != nil {
		return err
	}
	if to == domain.StatusApproved || to == domain.StatusSent {
		if l.FinalResponse == "" {
			l.FinalResponse = l.SelectedResponse
		}
	}
	l.Status = to
	return nil
}
