package workflow

import (
	"fmt"
	"time"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// CurrentStage returns the index of the first route entry that has no
// matching approved comment from the given round. Each approved comment
// satisfies at most one entry, so a department listed twice needs two
// approvals. ok is false when every stage is satisfied.
func CurrentStage(route []domain.ApprovalStage, comments []domain.ApprovalComment, round int) (idx int, ok bool) {
	approved := make(map[string]int)
	for _, c := range comments {
		if c.Round == round && c.Approved {
			approved[DepartmentKey(c.Department)]++
		}
	}
	for i, st := range route {
		k := DepartmentKey(st.Department)
		if approved[k] > 0 {
			approved[k]--
			continue
		}
		return i, true
	}
	return -1, false
}

// BeginApproval starts a new approval round on a draft_ready letter using
// route. An empty route approves the letter immediately. Comments from
// earlier rounds are kept but no longer count.
func BeginApproval(l *domain.Letter, actor domain.Actor, route []domain.ApprovalStage) error {
	if _, err := Check(l, actor, domain.StatusInApproval); err != nil {
		return err
	}
	if l.SelectedResponse == "" && !l.IsNotification() {
		return ErrNoResponse
	}

	l.ApprovalRound++
	l.ApprovalRoute = copyRoute(route)
	l.ClearReservation()

	if len(l.ApprovalRoute) == 0 {
		l.Status = domain.StatusApproved
		l.FinalResponse = l.SelectedResponse
		l.SetApprover("")
		return nil
	}
	l.Status = domain.StatusInApproval
	l.SetApprover(l.ApprovalRoute[0].Department)
	return nil
}

// Decision is one approver's verdict on the current stage.
type Decision struct {
	Department string
	Comment    string
	Approved   bool
}

// Outcome describes where a decision left the letter.
type Outcome string

const (
	OutcomeAdvanced Outcome = "advanced"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Decide applies d to l on behalf of actor.
//
// Errors, in check order:
//   - ErrWrongState when l is not in_approval
//   - ErrForbidden when the actor cannot approve or cannot speak for d.Department
//   - ErrNotCurrentApprover when d.Department is not current_approver
//   - ErrAlreadyReserved when another actor holds the claim
//
// On success a comment is appended and the reservation released. A
// rejection sends the letter back to draft_ready; an approval either moves
// current_approver to the next stage or, after the last stage, approves the
// letter and fixes final_response.
func Decide(l *domain.Letter, actor domain.Actor, d Decision, now time.Time) (Outcome, error) {
	if l.Status != domain.StatusInApproval {
		return "", ErrWrongState
	}
	if !actor.Can(domain.CapApprove) {
		return "", fmt.Errorf("%w: role %q cannot approve", ErrForbidden, actor.Role)
	}
	if !actor.Can(domain.CapOverride) && !SameDepartment(actor.Department, d.Department) {
		return "", fmt.Errorf("%w: %q cannot decide for %q", ErrForbidden, actor.Department, d.Department)
	}
	if !SameDepartment(d.Department, l.Approver()) {
		return "", fmt.Errorf("%w: current is %q", ErrNotCurrentApprover, l.Approver())
	}
	if l.Reserved() && *l.ReservedBy != actor.ID {
		return "", ErrAlreadyReserved
	}

	l.ApprovalComments = append(l.ApprovalComments, domain.ApprovalComment{
		Department: l.Approver(),
		Comment:    d.Comment,
		Approved:   d.Approved,
		Timestamp:  now,
		Round:      l.ApprovalRound,
		ActorID:    actor.ID,
	})
	l.ClearReservation()

	if !d.Approved {
		l.Status = domain.StatusDraftReady
		l.SetApprover("")
		return OutcomeRejected, nil
	}

	idx, ok := CurrentStage(l.ApprovalRoute, l.ApprovalComments, l.ApprovalRound)
	if !ok {
		l.Status = domain.StatusApproved
		l.FinalResponse = l.SelectedResponse
		l.SetApprover("")
		return OutcomeApproved, nil
	}
	l.SetApprover(l.ApprovalRoute[idx].Department)
	return OutcomeAdvanced, nil
}

// Claim checks that actor may reserve l and sets the reservation. Storage
// repeats the free-and-in-approval condition atomically, so Claim is the
// in-memory half of the check.
func Claim(l *domain.Letter, actor domain.Actor, now time.Time) error {
	if err := CanClaim(l, actor); err != nil {
		return err
	}
	l.SetReservation(actor.ID, now)
	return nil
}

// CanClaim reports why actor may not reserve l, or nil.
func CanClaim(l *domain.Letter, actor domain.Actor) error {
	if l.Status != domain.StatusInApproval {
		return ErrWrongState
	}
	if !actor.Can(domain.CapApprove) {
		return fmt.Errorf("%w: role %q cannot approve", ErrForbidden, actor.Role)
	}
	if !actor.Can(domain.CapOverride) && !SameDepartment(actor.Department, l.Approver()) {
		return fmt.Errorf("%w: department %q is not the current approver", ErrForbidden, actor.Department)
	}
	if l.Reserved() {
		return ErrAlreadyReserved
	}
	return nil
}

// Release drops the claim on l. Only the holder or an override actor may
// release; releasing a free letter is a no-op.
func Release(l *domain.Letter, actor domain.Actor) error {
	if !l.Reserved() {
		return nil
	}
	if *l.ReservedBy != actor.ID && !actor.Can(domain.CapOverride) {
		return fmt.Errorf("%w: reserved by another actor", ErrForbidden)
	}
	l.ClearReservation()
	return nil
}

// Validate checks the data-model invariants of l.
func Validate(l *domain.Letter) error {
	if !l.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, l.Status)
	}
	if (l.ReservedBy == nil) != (l.ReservedAt == nil) {
		return fmt.Errorf("%w: reservation pair half set", ErrInvariant)
	}
	if l.Reserved() && l.Status != domain.StatusInApproval {
		return fmt.Errorf("%w: reserved outside approval", ErrInvariant)
	}
	wantApprover := l.Status == domain.StatusInApproval && len(l.ApprovalRoute) > 0
	if (l.Approver() != "") != wantApprover {
		return fmt.Errorf("%w: current_approver %q in status %s", ErrInvariant, l.Approver(), l.Status)
	}
	if l.Status == domain.StatusInApproval {
		idx, ok := CurrentStage(l.ApprovalRoute, l.ApprovalComments, l.ApprovalRound)
		if !ok {
			return fmt.Errorf("%w: route complete but still in approval", ErrInvariant)
		}
		if !SameDepartment(l.ApprovalRoute[idx].Department, l.Approver()) {
			return fmt.Errorf("%w: current_approver %q, route expects %q", ErrInvariant, l.Approver(), l.ApprovalRoute[idx].Department)
		}
	}
	return nil
}

func copyRoute(route []domain.ApprovalStage) []domain.ApprovalStage {
	out := make([]domain.ApprovalStage, len(route))
	for i, st := range route {
		st.Checkpoints = append([]string(nil), st.Checkpoints...)
		out[i] = st
	}
	return out
}
