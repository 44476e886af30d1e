// Package services – SLAMonitor
//
// SLAMonitor polls active letters on a fixed interval. Each tick evaluates
// every letter's SLA state, emits sla_warning / sla_breached the first time a
// letter enters one of those states, and refreshes the stored priority as the
// deadline approaches. The same tick optionally releases stale approver
// claims and purges expired idempotency records.
package services

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
	"github.com/tbourn/go-letter-workflow/internal/repo"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// DefaultSLAPollInterval is used when no interval is configured.
const DefaultSLAPollInterval = time.Minute

// SLAMonitor is the background SLA poller.
type SLAMonitor struct {
	*Engine
	WarnFraction   float64
	Interval       time.Duration
	ReservationTTL time.Duration // 0 disables the stale-claim sweep

	Reservations *ReservationService
	Idempotency  *IdempotencyService

	mu     sync.Mutex
	states map[int64]workflow.SLAState
}

// TickResult summarizes one monitor pass.
type TickResult struct {
	Scanned       int
	Warnings      int
	Breaches      int
	Reprioritized int
	Released      int
	Purged        int64
}

// NewSLAMonitor builds a monitor over e.
func NewSLAMonitor(e *Engine, warnFraction float64, interval time.Duration) *SLAMonitor {
	if warnFraction <= 0 {
		warnFraction = workflow.DefaultWarnFraction
	}
	if interval <= 0 {
		interval = DefaultSLAPollInterval
	}
	return &SLAMonitor{
		Engine:       e,
		WarnFraction: warnFraction,
		Interval:     interval,
		states:       make(map[int64]workflow.SLAState),
	}
}

// Run ticks immediately and then every Interval until ctx is done.
func (m *SLAMonitor) Run(ctx context.Context) {
	m.Log.Info().Dur("interval", m.Interval).Msg("sla monitor started")
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	m.tickLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			m.Log.Info().Msg("sla monitor stopped")
			return
		case <-ticker.C:
			m.tickLogged(ctx)
		}
	}
}

func (m *SLAMonitor) tickLogged(ctx context.Context) {
	res, err := m.Tick(ctx)
	if err != nil {
		m.Log.Error().Err(err).Msg("sla monitor tick failed")
		return
	}
	m.Log.Debug().
		Int("scanned", res.Scanned).
		Int("warnings", res.Warnings).
		Int("breaches", res.Breaches).
		Int("reprioritized", res.Reprioritized).
		Int("released", res.Released).
		Int64("purged", res.Purged).
		Msg("sla monitor tick")
}

// Tick runs one pass.
func (m *SLAMonitor) Tick(ctx context.Context) (TickResult, error) {
	ctx, span := otel.Tracer("services/SLAMonitor").Start(ctx, "Tick")
	defer span.End()

	var res TickResult
	letters, err := repo.ListActive(ctx, m.DB)
	if err != nil {
		return res, err
	}
	res.Scanned = len(letters)
	now := m.Clock.Now()

	seen := make(map[int64]struct{}, len(letters))
	var events []notify.Event
	for i := range letters {
		l := &letters[i]
		seen[l.ID] = struct{}{}

		state := workflow.Evaluate(now, l, m.WarnFraction)
		if m.enter(l.ID, state) {
			switch state {
			case workflow.SLAWarning:
				res.Warnings++
				events = append(events, m.event(notify.KindSLAWarning, l, now))
			case workflow.SLABreached:
				res.Breaches++
				events = append(events, m.event(notify.KindSLABreached, l, now))
			}
			slaEventsTotal.WithLabelValues(string(state)).Inc()
		}

		if workflow.EffectiveDeadline(l) != nil && workflow.Priority(now, l) != l.Priority {
			changed, err := m.reprioritize(ctx, l.ID)
			if err != nil {
				m.Log.Warn().Err(err).Int64("letter_id", l.ID).Msg("sla monitor: priority refresh failed")
			} else if changed {
				res.Reprioritized++
			}
		}
	}
	m.forget(seen)
	m.publish(ctx, events...)

	if m.ReservationTTL > 0 && m.Reservations != nil {
		released, err := m.Reservations.ReleaseStale(ctx, now.Add(-m.ReservationTTL))
		if err != nil {
			m.Log.Warn().Err(err).Msg("sla monitor: stale reservation sweep failed")
		}
		res.Released = len(released)
	}
	if m.Idempotency != nil {
		n, err := m.Idempotency.Purge(ctx)
		if err != nil {
			m.Log.Warn().Err(err).Msg("sla monitor: idempotency purge failed")
		}
		res.Purged = n
	}

	span.SetAttributes(
		attribute.Int("scanned", res.Scanned),
		attribute.Int("warnings", res.Warnings),
		attribute.Int("breaches", res.Breaches),
	)
	return res, nil
}

// enter records state for id and reports whether it is a new warning or
// breach.
func (m *SLAMonitor) enter(id int64, state workflow.SLAState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.states[id]
	m.states[id] = state
	if state == workflow.SLAOk {
		return false
	}
	return !ok || prev != state
}

// forget drops state for letters that are no longer active.
func (m *SLAMonitor) forget(active map[int64]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.states {
		if _, ok := active[id]; !ok {
			delete(m.states, id)
		}
	}
}

func (m *SLAMonitor) reprioritize(ctx context.Context, id int64) (bool, error) {
	changed := false
	_, err := m.mutate(ctx, id, func(l *domain.Letter, now time.Time) ([]notify.Event, error) {
		if !l.Status.Active() {
			return nil, errUnchanged
		}
		p := workflow.Priority(now, l)
		if p == l.Priority {
			return nil, errUnchanged
		}
		l.Priority = p
		changed = true
		return nil, nil
	})
	return changed, err
}
