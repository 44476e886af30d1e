// Package services – ApprovalService
//
// ApprovalService records approver decisions against the current stage of a
// letter's approval route. Every successful decision appends a comment and
// releases the claim; the outcome advances the route, approves the letter,
// or returns it to draft_ready.
package services

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
	"github.com/tbourn/go-letter-workflow/internal/observability"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// ApprovalService applies approval decisions.
type ApprovalService struct {
	*Engine
}

// NewApprovalService builds an ApprovalService over e.
func NewApprovalService(e *Engine) *ApprovalService { return &ApprovalService{Engine: e} }

// RecordDecision applies d on behalf of actor. An empty department means the
// actor's own department (or, for override actors, the current stage).
func (s *ApprovalService) RecordDecision(ctx context.Context, id int64, actor domain.Actor, d workflow.Decision) (*domain.Letter, workflow.Outcome, error) {
	ctx, span := otel.Tracer("services/ApprovalService").Start(ctx, "RecordDecision",
		trace.WithAttributes(observability.LetterAttrs(id, actor)...),
		trace.WithAttributes(attribute.Bool("approved", d.Approved)),
	)
	defer span.End()

	d.Department = strings.TrimSpace(d.Department)
	d.Comment = strings.TrimSpace(d.Comment)
	if d.Department == "" {
		d.Department = actor.Department
	}

	var outcome workflow.Outcome
	l, err := s.mutate(ctx, id, func(l *domain.Letter, now time.Time) ([]notify.Event, error) {
		if d.Department == "" && actor.Can(domain.CapOverride) {
			d.Department = l.Approver()
		}
		decided := l.Approver()
		out, err := workflow.Decide(l, actor, d, now)
		if err != nil {
			return nil, err
		}
		outcome = out

		approved := d.Approved
		ev := s.event(notify.KindDecisionRecorded, l, now)
		ev.Department = decided
		ev.ActorID = actor.ID
		ev.Comment = d.Comment
		ev.Approved = &approved
		events := []notify.Event{ev}
		if out == workflow.OutcomeAdvanced {
			events = append(events, s.event(notify.KindApprovalRequested, l, now))
		}
		return events, nil
	})
	if err != nil {
		decisionsTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, "", err
	}
	decisionsTotal.WithLabelValues(string(outcome)).Inc()
	s.Log.Info().
		Int64("letter_id", id).
		Str("actor_id", actor.ID).
		Str("outcome", string(outcome)).
		Msg("approval decision")
	return l, outcome, nil
}
