package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

func TestApproval_LegalThenMarketingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l := f.submitted(t, "legal", "Marketing")
	if l.Status != domain.StatusInApproval || !workflow.SameDepartment(l.Approver(), "Legal") {
		t.Fatalf("after start: status=%s approver=%q", l.Status, l.Approver())
	}
	if !l.Deadline.Equal(T.Add(24 * time.Hour)) {
		t.Fatalf("deadline = %v", l.Deadline)
	}
	if got := f.notes.ofKind(notify.KindApprovalRequested); len(got) != 1 || got[0].Department != "legal" {
		t.Fatalf("approval_requested = %+v", got)
	}

	if _, err := f.reservations.Reserve(ctx, l.ID, lawyer); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	f.clk.Advance(time.Hour)
	l, out, err := f.approvals.RecordDecision(ctx, l.ID, lawyer, workflow.Decision{Approved: true, Comment: "ok"})
	if err != nil || out != workflow.OutcomeAdvanced {
		t.Fatalf("legal approve = %v, %v", out, err)
	}
	if l.Approver() != "Marketing" || l.Reserved() {
		t.Fatalf("after legal: approver=%q reserved=%v", l.Approver(), l.Reserved())
	}

	f.notes.reset()
	l, out, err = f.approvals.RecordDecision(ctx, l.ID, marketer, workflow.Decision{Approved: false, Comment: "tone"})
	if err != nil || out != workflow.OutcomeRejected {
		t.Fatalf("marketing reject = %v, %v", out, err)
	}
	if l.Status != domain.StatusDraftReady || l.Approver() != "" || l.Reserved() {
		t.Fatalf("after reject: %+v", l)
	}
	dec := f.notes.ofKind(notify.KindDecisionRecorded)
	if len(dec) != 1 || dec[0].Department != "Marketing" || dec[0].Approved == nil || *dec[0].Approved || dec[0].Comment != "tone" {
		t.Fatalf("decision event = %+v", dec)
	}
	before := append([]domain.ApprovalComment(nil), l.ApprovalComments...)

	l, err = f.letters.StartApproval(ctx, l.ID, operator)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !workflow.SameDepartment(l.Approver(), "Legal") || l.ApprovalRound != 2 {
		t.Fatalf("after resubmit: approver=%q round=%d", l.Approver(), l.ApprovalRound)
	}
	if !reflect.DeepEqual(timeless(l.ApprovalComments), timeless(before)) {
		t.Fatalf("comments changed on resubmit:\n got %+v\nwant %+v", l.ApprovalComments, before)
	}

	l, _, err = f.approvals.RecordDecision(ctx, l.ID, lawyer, workflow.Decision{Approved: true})
	if err != nil {
		t.Fatalf("legal approve round 2: %v", err)
	}
	l, out, err = f.approvals.RecordDecision(ctx, l.ID, marketer, workflow.Decision{Approved: true})
	if err != nil || out != workflow.OutcomeApproved {
		t.Fatalf("marketing approve round 2 = %v, %v", out, err)
	}
	if l.Status != domain.StatusApproved || l.Approver() != "" || l.FinalResponse != l.SelectedResponse {
		t.Fatalf("after final approval: %+v", l)
	}
	if len(l.ApprovalComments) != 4 {
		t.Fatalf("comments = %d; want 4", len(l.ApprovalComments))
	}

	l, err = f.letters.MarkSent(ctx, l.ID, operator)
	if err != nil || l.Status != domain.StatusSent {
		t.Fatalf("MarkSent = %v, %v", l, err)
	}
}

// timeless drops timestamps so values survive a database round trip.
func timeless(cs []domain.ApprovalComment) []domain.ApprovalComment {
	out := make([]domain.ApprovalComment, len(cs))
	for i, c := range cs {
		c.Timestamp = time.Time{}
		out[i] = c
	}
	return out
}

func TestApproval_RejectAtEachStage(t *testing.T) {
	approvers := []domain.Actor{lawyer, marketer}
	for stage := range approvers {
		f := newFixture(t)
		ctx := context.Background()
		l := f.submitted(t, "Legal", "Marketing")

		for i := 0; i < stage; i++ {
			if _, _, err := f.approvals.RecordDecision(ctx, l.ID, approvers[i], workflow.Decision{Approved: true}); err != nil {
				t.Fatalf("stage %d approve: %v", i, err)
			}
		}
		if _, err := f.reservations.Reserve(ctx, l.ID, approvers[stage]); err != nil {
			t.Fatalf("stage %d reserve: %v", stage, err)
		}
		l, out, err := f.approvals.RecordDecision(ctx, l.ID, approvers[stage], workflow.Decision{Approved: false})
		if err != nil || out != workflow.OutcomeRejected {
			t.Fatalf("stage %d reject = %v, %v", stage, out, err)
		}
		if l.Status != domain.StatusDraftReady || l.Approver() != "" || l.Reserved() {
			t.Fatalf("stage %d: %+v", stage, l)
		}
	}
}

func TestApproval_Errors_LeaveLetterUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.submitted(t, "Legal", "Marketing")
	if _, err := f.reservations.Reserve(ctx, l.ID, lawyer); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	before := f.reload(t, l.ID)

	tests := []struct {
		name  string
		actor domain.Actor
		d     workflow.Decision
		want  error
	}{
		{"operator cannot approve", operator, workflow.Decision{Approved: true}, ErrForbidden},
		{"department mismatch", marketer, workflow.Decision{Department: "Legal", Approved: true}, ErrForbidden},
		{"not current approver", marketer, workflow.Decision{Approved: true}, ErrNotCurrentApprover},
		{"claimed by colleague", lawyer2, workflow.Decision{Approved: true}, ErrAlreadyReserved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.approvals.RecordDecision(ctx, l.ID, tt.actor, tt.d)
			wantErr(t, err, tt.want)
			after := f.reload(t, l.ID)
			if after.Version != before.Version || after.Approver() != before.Approver() ||
				len(after.ApprovalComments) != len(before.ApprovalComments) || !after.Reserved() {
				t.Fatalf("failed decision changed letter: %+v", after)
			}
		})
	}

	d := f.drafted(t, "Legal")
	_, _, err := f.approvals.RecordDecision(ctx, d.ID, lawyer, workflow.Decision{Approved: true})
	wantErr(t, err, ErrWrongState)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("wrong state should also be an invalid transition: %v", err)
	}
}

func TestApproval_AdminOverridesCurrentStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.submitted(t, "Legal")

	l, out, err := f.approvals.RecordDecision(ctx, l.ID, admin, workflow.Decision{Approved: true})
	if err != nil || out != workflow.OutcomeApproved {
		t.Fatalf("admin decision = %v, %v", out, err)
	}
	if got := l.ApprovalComments[0]; got.Department != "Legal" || got.ActorID != admin.ID {
		t.Fatalf("comment = %+v", got)
	}
}

func TestApproval_NotifierFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.submitted(t, "Legal")
	f.notes.err = errors.New("broker down")

	l, _, err := f.approvals.RecordDecision(ctx, l.ID, lawyer, workflow.Decision{Approved: true})
	if err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if got := f.reload(t, l.ID); got.Status != domain.StatusApproved {
		t.Fatalf("status = %s; want approved", got.Status)
	}
}
