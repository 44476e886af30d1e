// Package services – LetterService
//
// This file implements LetterService, which owns every lifecycle edge that is
// not an approval decision or a claim: ingestion, classification, drafting,
// submission for approval, dispatch and deadline overrides.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the letter id and actor.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
	"github.com/tbourn/go-letter-workflow/internal/observability"
	"github.com/tbourn/go-letter-workflow/internal/repo"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

const (
	maxSubjectRunes = 500
	maxBodyRunes    = 100_000
)

// LetterService drives the non-approval edges of the lifecycle.
type LetterService struct {
	*Engine
	Policy       workflow.RoutePolicy
	WarnFraction float64
}

// NewLetterService builds a LetterService. A nil policy uses the default.
func NewLetterService(e *Engine, p workflow.RoutePolicy, warnFraction float64) *LetterService {
	if p == nil {
		p = workflow.DefaultPolicy()
	}
	if warnFraction <= 0 {
		warnFraction = workflow.DefaultWarnFraction
	}
	return &LetterService{Engine: e, Policy: p, WarnFraction: warnFraction}
}

// IngestInput is the content of a new letter.
type IngestInput struct {
	Subject     string
	Body        string
	SenderEmail string
	SenderName  string
}

// Classification is the opaque result of the external analysis step.
type Classification struct {
	LetterType          domain.LetterType
	FormalityLevel      domain.FormalityLevel
	Priority            *int
	SLAHours            *int
	Risks               []domain.Risk
	RequiredDepartments []string
	ClassificationData  map[string]any
	ExtractedEntities   map[string]any
	DraftResponses      map[string]string
}

// ResponseSelection picks a draft by key or supplies edited text. Exactly
// one of the two must be set.
type ResponseSelection struct {
	DraftKey string
	Text     string
}

// SLAReport is the current SLA view of one letter.
type SLAReport struct {
	State            workflow.SLAState `json:"state"`
	Deadline         *time.Time        `json:"deadline"`
	RemainingSeconds *int64            `json:"remaining_seconds,omitempty"`
	Overridden       bool              `json:"overridden"`
	Priority         int               `json:"priority"`
}

func (s *LetterService) span(ctx context.Context, name string, id int64, actor domain.Actor) (context.Context, trace.Span) {
	return otel.Tracer("services/LetterService").Start(ctx, name,
		trace.WithAttributes(observability.LetterAttrs(id, actor)...),
	)
}

// Ingest creates a new letter in status new.
func (s *LetterService) Ingest(ctx context.Context, actor domain.Actor, in IngestInput) (*domain.Letter, error) {
	ctx, span := s.span(ctx, "Ingest", 0, actor)
	defer span.End()

	if !actor.Can(domain.CapIngest) {
		return nil, fmt.Errorf("%w: role %q cannot ingest", ErrForbidden, actor.Role)
	}
	subject := strings.TrimSpace(in.Subject)
	body := strings.TrimSpace(in.Body)
	if subject == "" || body == "" {
		return nil, fmt.Errorf("%w: subject and body are required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(subject) > maxSubjectRunes || utf8.RuneCountInString(body) > maxBodyRunes {
		return nil, fmt.Errorf("%w: subject or body too long", ErrInvalidInput)
	}

	l := &domain.Letter{
		Subject:     subject,
		Body:        body,
		SenderEmail: strings.TrimSpace(in.SenderEmail),
		SenderName:  strings.TrimSpace(in.SenderName),
		Status:      domain.StatusNew,
		Priority:    domain.PriorityMedium,
	}
	now := s.Clock.Now()
	if err := repo.CreateLetter(ctx, s.DB, l, now); err != nil {
		return nil, err
	}
	span.SetAttributes(observability.LetterIDKey.Int64(l.ID))
	s.Log.Info().Int64("letter_id", l.ID).Str("actor_id", actor.ID).Msg("letter ingested")

	ev := s.event(notify.KindStatusChanged, l, now)
	ev.ActorID = actor.ID
	s.publish(ctx, ev)
	return l, nil
}

// Get returns one letter.
func (s *LetterService) Get(ctx context.Context, id int64) (*domain.Letter, error) {
	return s.get(ctx, id)
}

// BeginAnalysis moves a new letter to analyzing.
func (s *LetterService) BeginAnalysis(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error) {
	ctx, span := s.span(ctx, "BeginAnalysis", id, actor)
	defer span.End()

	return s.mutate(ctx, id, func(l *domain.Letter, _ time.Time) ([]notify.Event, error) {
		return nil, workflow.Apply(l, actor, domain.StatusAnalyzing)
	})
}

// ApplyClassification records the analysis result in one step:
// new|analyzing → analyzing → in_progress. The deadline is stamped from
// sla_hours unless it was overridden, and priority is derived from it when
// the classifier supplied none.
func (s *LetterService) ApplyClassification(ctx context.Context, id int64, actor domain.Actor, c Classification) (*domain.Letter, error) {
	ctx, span := s.span(ctx, "ApplyClassification", id, actor)
	defer span.End()

	if err := validateClassification(c); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(l *domain.Letter, now time.Time) ([]notify.Event, error) {
		if l.Status == domain.StatusNew {
			if err := workflow.Apply(l, actor, domain.StatusAnalyzing); err != nil {
				return nil, err
			}
		}
		if _, err := workflow.Check(l, actor, domain.StatusInProgress); err != nil {
			return nil, err
		}

		l.LetterType = c.LetterType
		l.FormalityLevel = c.FormalityLevel
		l.SLAHours = c.SLAHours
		l.Risks = c.Risks
		l.RequiredDepartments = c.RequiredDepartments
		l.ClassificationData = c.ClassificationData
		l.ExtractedEntities = c.ExtractedEntities
		l.DraftResponses = c.DraftResponses
		if !l.DeadlineOverridden {
			l.Deadline = workflow.Deadline(l.CreatedAt, l.SLAHours)
		}
		if c.Priority != nil {
			l.Priority = *c.Priority
		} else {
			l.Priority = workflow.Priority(now, l)
		}
		return nil, workflow.Apply(l, actor, domain.StatusInProgress)
	})
}

func validateClassification(c Classification) error {
	switch c.LetterType {
	case domain.TypeInfoRequest, domain.TypeComplaint, domain.TypeRegulatory, domain.TypePartnership,
		domain.TypeApprovalRequest, domain.TypeNotification, domain.TypeOther:
	default:
		return fmt.Errorf("%w: unknown letter type %q", ErrInvalidInput, c.LetterType)
	}
	if c.Priority != nil && (*c.Priority < domain.PriorityHigh || *c.Priority > domain.PriorityLow) {
		return fmt.Errorf("%w: priority must be 1..3", ErrInvalidInput)
	}
	if c.SLAHours != nil && *c.SLAHours < 0 {
		return fmt.Errorf("%w: sla_hours must not be negative", ErrInvalidInput)
	}
	return nil
}

// SelectResponse sets selected_response from a draft or edited text and
// moves the letter to draft_ready.
func (s *LetterService) SelectResponse(ctx context.Context, id int64, actor domain.Actor, sel ResponseSelection) (*domain.Letter, error) {
	ctx, span := s.span(ctx, "SelectResponse", id, actor)
	defer span.End()

	key, text := strings.TrimSpace(sel.DraftKey), strings.TrimSpace(sel.Text)
	if (key == "") == (text == "") {
		return nil, fmt.Errorf("%w: exactly one of draft_key or text is required", ErrInvalidInput)
	}
	return s.mutate(ctx, id, func(l *domain.Letter, _ time.Time) ([]notify.Event, error) {
		if key != "" {
			d, ok := l.DraftResponses[key]
			if !ok {
				return nil, fmt.Errorf("%w: no draft %q", ErrInvalidInput, key)
			}
			text = d
		}
		if err := workflow.Apply(l, actor, domain.StatusDraftReady); err != nil {
			return nil, err
		}
		l.SelectedResponse = text
		return nil, nil
	})
}

// ChangeStatus requests a plain edge such as the notification shortcuts or
// approved → sent.
func (s *LetterService) ChangeStatus(ctx context.Context, id int64, actor domain.Actor, to domain.Status) (*domain.Letter, error) {
	ctx, span := s.span(ctx, "ChangeStatus", id, actor)
	defer span.End()

	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	if to == domain.StatusSent {
		return s.MarkSent(ctx, id, actor)
	}
	return s.mutate(ctx, id, func(l *domain.Letter, _ time.Time) ([]notify.Event, error) {
		return nil, workflow.Apply(l, actor, to)
	})
}

// StartApproval builds this round's route and submits the letter. An empty
// route approves it immediately.
func (s *LetterService) StartApproval(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error) {
	ctx, span := s.span(ctx, "StartApproval", id, actor)
	defer span.End()

	return s.mutate(ctx, id, func(l *domain.Letter, now time.Time) ([]notify.Event, error) {
		if err := workflow.BeginApproval(l, actor, s.Policy.BuildRoute(l)); err != nil {
			return nil, err
		}
		if l.Status != domain.StatusInApproval {
			return nil, nil
		}
		ev := s.event(notify.KindApprovalRequested, l, now)
		ev.ActorID = actor.ID
		return []notify.Event{ev}, nil
	})
}

// MarkSent hands the final response to the dispatcher as a reply to the
// sender, then records approved → sent. The reply goes out before commit:
// when the dispatcher fails the transaction is rolled back, the letter stays
// approved and ErrDispatchFailed is returned. A letter without a sender
// address is marked sent with nothing dispatched.
func (s *LetterService) MarkSent(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error) {
	ctx, span := s.span(ctx, "MarkSent", id, actor)
	defer span.End()

	return s.mutate(ctx, id, func(l *domain.Letter, now time.Time) ([]notify.Event, error) {
		if err := workflow.Apply(l, actor, domain.StatusSent); err != nil {
			return nil, err
		}
		to := strings.TrimSpace(l.SenderEmail)
		if to == "" {
			s.Log.Warn().Int64("letter_id", l.ID).Msg("no sender address, reply not dispatched")
			return nil, nil
		}
		reply := notify.Reply{
			ID:       fmt.Sprintf("letter-%d-round-%d", l.ID, l.ApprovalRound),
			LetterID: l.ID,
			To:       to,
			Subject:  notify.ReplySubject(l.Subject),
			Body:     l.FinalResponse,
			ActorID:  actor.ID,
			At:       now,
		}
		if err := s.Dispatcher.Dispatch(ctx, reply); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: letter %d: %w", ErrDispatchFailed, l.ID, err)
		}
		return nil, nil
	})
}

// OverrideDeadline replaces the computed deadline. Overrides are stored
// verbatim and never recomputed from sla_hours.
func (s *LetterService) OverrideDeadline(ctx context.Context, id int64, actor domain.Actor, deadline time.Time) (*domain.Letter, error) {
	ctx, span := s.span(ctx, "OverrideDeadline", id, actor)
	defer span.End()

	if !actor.Can(domain.CapEdit) {
		return nil, fmt.Errorf("%w: role %q cannot override deadlines", ErrForbidden, actor.Role)
	}
	if deadline.IsZero() {
		return nil, fmt.Errorf("%w: deadline is required", ErrInvalidInput)
	}
	return s.mutate(ctx, id, func(l *domain.Letter, now time.Time) ([]notify.Event, error) {
		if !l.Status.Active() {
			return nil, fmt.Errorf("%w: letter is %s", ErrInvalidTransition, l.Status)
		}
		d := deadline.UTC()
		l.Deadline = &d
		l.DeadlineOverridden = true
		l.Priority = workflow.Priority(now, l)
		return nil, nil
	})
}

// SLA evaluates the letter at the current time.
func (s *LetterService) SLA(ctx context.Context, id int64) (*SLAReport, error) {
	l, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	r := &SLAReport{
		State:      workflow.Evaluate(now, l, s.WarnFraction),
		Deadline:   workflow.EffectiveDeadline(l),
		Overridden: l.DeadlineOverridden,
		Priority:   workflow.Priority(now, l),
	}
	if left, ok := workflow.Remaining(now, l); ok {
		secs := int64(left / time.Second)
		r.RemainingSeconds = &secs
	}
	return r, nil
}
