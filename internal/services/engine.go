package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-letter-workflow/internal/clock"
	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
	"github.com/tbourn/go-letter-workflow/internal/repo"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// Engine carries the collaborators shared by every letter mutation and
// implements the single read-modify-write path they all go through.
type Engine struct {
	DB         *gorm.DB
	Locks      *KeyedMutex
	Clock      clock.Clock
	Notifier   notify.Notifier
	// Dispatcher delivers final responses on approved → sent.
	Dispatcher notify.Dispatcher
	Log        zerolog.Logger
}

// NewEngine wires an Engine. A nil notifier discards events; a nil clock
// uses wall time. Replies are dropped until Dispatcher is set.
func NewEngine(db *gorm.DB, clk clock.Clock, n notify.Notifier, log zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Engine{DB: db, Locks: NewKeyedMutex(), Clock: clk, Notifier: n, Dispatcher: notify.Nop{}, Log: log}
}

// errUnchanged lets a mutation report success without writing.
var errUnchanged = errors.New("unchanged")

// mutateFunc edits l in place at now and returns events to publish after
// commit. Returning an error discards every edit.
type mutateFunc func(l *domain.Letter, now time.Time) ([]notify.Event, error)

// mutate runs fn against letter id atomically: per-letter lock, one
// transaction, invariant check, then a version compare-and-set save.
// Events are published after the lock is released.
func (e *Engine) mutate(ctx context.Context, id int64, fn mutateFunc) (*domain.Letter, error) {
	out, from, events, err := e.mutateLocked(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	if out.Status != from {
		transitionsTotal.WithLabelValues(string(from), string(out.Status)).Inc()
		ev := e.event(notify.KindStatusChanged, out, out.UpdatedAt)
		ev.From = from
		events = append([]notify.Event{ev}, events...)
		e.Log.Info().
			Int64("letter_id", out.ID).
			Str("from", string(from)).
			Str("to", string(out.Status)).
			Msg("letter transition")
	}
	e.publish(ctx, events...)
	return out, nil
}

func (e *Engine) mutateLocked(ctx context.Context, id int64, fn mutateFunc) (*domain.Letter, domain.Status, []notify.Event, error) {
	unlock := e.Locks.Lock(id)
	defer unlock()

	now := e.Clock.Now()
	var (
		out    *domain.Letter
		from   domain.Status
		events []notify.Event
	)
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := repo.GetLetter(ctx, tx, id)
		if err != nil {
			return mapRepoErr(err)
		}
		from = l.Status
		work := l.Clone()

		evs, err := fn(work, now)
		if errors.Is(err, errUnchanged) {
			out = l
			return nil
		}
		if err != nil {
			return err
		}
		if err := workflow.Validate(work); err != nil {
			return fmt.Errorf("letter %d: %w", id, err)
		}
		if err := repo.SaveLetter(ctx, tx, work, now); err != nil {
			return mapRepoErr(err)
		}
		out, events = work, evs
		return nil
	})
	if err != nil {
		return nil, "", nil, err
	}
	return out, from, events, nil
}

// get loads one letter.
func (e *Engine) get(ctx context.Context, id int64) (*domain.Letter, error) {
	l, err := repo.GetLetter(ctx, e.DB, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return l, nil
}

// event builds a notification for l.
func (e *Engine) event(kind notify.Kind, l *domain.Letter, at time.Time) notify.Event {
	return notify.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		LetterID:   l.ID,
		Subject:    l.Subject,
		Status:     l.Status,
		Department: l.Approver(),
		Deadline:   l.Deadline,
		At:         at,
	}
}

// publish delivers events best effort. Failures are logged and never
// surface to the caller; the state change is already committed.
func (e *Engine) publish(ctx context.Context, events ...notify.Event) {
	for _, ev := range events {
		if err := e.Notifier.Notify(ctx, ev); err != nil {
			e.Log.Warn().Err(err).
				Str("kind", string(ev.Kind)).
				Int64("letter_id", ev.LetterID).
				Msg("notification: failed to publish event (non-fatal)")
		}
	}
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repo.ErrVersionConflict):
		return ErrConflict
	}
	return err
}
