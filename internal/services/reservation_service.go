// Package services – ReservationService
//
// ReservationService manages the exclusive approver claim on a letter in
// approval. A claim is taken with one conditional UPDATE guarded by the
// per-letter lock, so of any number of concurrent callers exactly one wins
// and the rest see ErrAlreadyReserved.
package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
	"github.com/tbourn/go-letter-workflow/internal/observability"
	"github.com/tbourn/go-letter-workflow/internal/repo"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// ReservationService takes and releases approver claims.
type ReservationService struct {
	*Engine
}

// NewReservationService builds a ReservationService over e.
func NewReservationService(e *Engine) *ReservationService { return &ReservationService{Engine: e} }

// Reserve claims letter id for actor. A second Reserve, even by the holder,
// fails with ErrAlreadyReserved.
func (s *ReservationService) Reserve(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error) {
	ctx, span := otel.Tracer("services/ReservationService").Start(ctx, "Reserve",
		trace.WithAttributes(observability.LetterAttrs(id, actor)...),
	)
	defer span.End()

	l, err := s.reserveLocked(ctx, id, actor)
	reservationsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.Log.Info().Int64("letter_id", id).Str("actor_id", actor.ID).Msg("letter reserved")

	ev := s.event(notify.KindReservation, l, l.UpdatedAt)
	ev.ActorID = actor.ID
	s.publish(ctx, ev)
	return l, nil
}

func (s *ReservationService) reserveLocked(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	l, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.CanClaim(l, actor); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	ok, err := repo.ReserveLetter(ctx, s.DB, id, l.Version, actor.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another process changed the row; report why it is no longer claimable.
		fresh, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := workflow.CanClaim(fresh, actor); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}

	l.SetReservation(actor.ID, now)
	l.Version++
	l.UpdatedAt = now
	return l, nil
}

// Release drops the claim. Only the holder or an override actor may release;
// releasing a free letter succeeds without a write.
func (s *ReservationService) Release(ctx context.Context, id int64, actor domain.Actor) (*domain.Letter, error) {
	ctx, span := otel.Tracer("services/ReservationService").Start(ctx, "Release",
		trace.WithAttributes(observability.LetterAttrs(id, actor)...),
	)
	defer span.End()

	return s.mutate(ctx, id, func(l *domain.Letter, now time.Time) ([]notify.Event, error) {
		if !l.Reserved() {
			return nil, errUnchanged
		}
		holder := *l.ReservedBy
		if err := workflow.Release(l, actor); err != nil {
			return nil, err
		}
		ev := s.event(notify.KindReservation, l, now)
		ev.ActorID = actor.ID
		ev.Comment = fmt.Sprintf("released claim held by %s", holder)
		return []notify.Event{ev}, nil
	})
}

// ReleaseStale drops claims taken before cutoff. It returns the ids released.
func (s *ReservationService) ReleaseStale(ctx context.Context, cutoff time.Time) ([]int64, error) {
	stale, err := repo.ListStaleReservations(ctx, s.DB, cutoff)
	if err != nil {
		return nil, err
	}
	sweeper := domain.Actor{ID: "sla-monitor", Role: domain.RoleAdmin}
	var released []int64
	for _, st := range stale {
		_, err := s.mutate(ctx, st.ID, func(l *domain.Letter, now time.Time) ([]notify.Event, error) {
			// Re-check under the lock; the claim may have moved on.
			if !l.Reserved() || l.ReservedAt == nil || !l.ReservedAt.Before(cutoff) {
				return nil, errUnchanged
			}
			_ = workflow.Release(l, sweeper)
			ev := s.event(notify.KindReservation, l, now)
			ev.ActorID = sweeper.ID
			ev.Comment = "stale claim expired"
			return []notify.Event{ev}, nil
		})
		if err != nil {
			s.Log.Warn().Err(err).Int64("letter_id", st.ID).Msg("stale reservation release failed")
			continue
		}
		released = append(released, st.ID)
	}
	return released, nil
}
