// Package notify delivers workflow events to the notification collaborator.
//
// The workflow core only depends on the Notifier interface. Delivery is
// best effort: callers log failures and never roll back a committed state
// change because an event could not be published.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// Kind names a workflow event.
type Kind string

const (
	KindStatusChanged     Kind = "status_changed"
	KindApprovalRequested Kind = "approval_requested"
	KindDecisionRecorded  Kind = "decision_recorded"
	KindReservation       Kind = "reservation_changed"
	KindSLAWarning        Kind = "sla_warning"
	KindSLABreached       Kind = "sla_breached"
)

// Event is the JSON schema published for every workflow event.
type Event struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	LetterID   int64         `json:"letter_id"`
	Subject    string        `json:"subject,omitempty"`
	From       domain.Status `json:"from,omitempty"`
	Status     domain.Status `json:"status"`
	Department string        `json:"department,omitempty"`
	ActorID    string        `json:"actor_id,omitempty"`
	Comment    string        `json:"comment,omitempty"`
	Approved   *bool         `json:"approved,omitempty"`
	Deadline   *time.Time    `json:"deadline,omitempty"`
	At         time.Time     `json:"at"`
}

// Notifier receives workflow events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// LogNotifier writes events to a zerolog logger. It is the default sink when
// no broker is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

// Notify logs e at info level.
func (n LogNotifier) Notify(_ context.Context, e Event) error {
	ev := n.Log.Info().
		Str("event_id", e.ID).
		Str("kind", string(e.Kind)).
		Int64("letter_id", e.LetterID).
		Str("status", string(e.Status))
	if e.From != "" {
		ev = ev.Str("from", string(e.From))
	}
	if e.Department != "" {
		ev = ev.Str("department", e.Department)
	}
	if e.ActorID != "" {
		ev = ev.Str("actor_id", e.ActorID)
	}
	if e.Approved != nil {
		ev = ev.Bool("approved", *e.Approved)
	}
	ev.Msg("notification")
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers e to each member, continuing past failures.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
