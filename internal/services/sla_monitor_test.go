package services

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
)

func TestSLAMonitor_EmitsOnEntryOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.classified(t)
	m := NewSLAMonitor(f.engine, 0.2, time.Minute)
	f.notes.reset()

	res, err := m.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Scanned != 1 || res.Warnings != 0 || res.Breaches != 0 {
		t.Fatalf("T: %+v", res)
	}

	f.clk.Set(T.Add(19 * time.Hour))
	res, _ = m.Tick(ctx)
	if res.Warnings != 1 {
		t.Fatalf("T+19h: %+v; want one warning", res)
	}
	res, _ = m.Tick(ctx)
	if res.Warnings != 0 {
		t.Fatalf("repeated warning: %+v", res)
	}

	f.clk.Set(T.Add(25 * time.Hour))
	res, _ = m.Tick(ctx)
	if res.Breaches != 1 {
		t.Fatalf("T+25h: %+v; want one breach", res)
	}

	warn := f.notes.ofKind(notify.KindSLAWarning)
	breach := f.notes.ofKind(notify.KindSLABreached)
	if len(warn) != 1 || len(breach) != 1 || breach[0].LetterID != l.ID || breach[0].Deadline == nil {
		t.Fatalf("events = %v", f.notes.kinds())
	}

	if got := f.reload(t, l.ID); got.Priority != domain.PriorityHigh {
		t.Fatalf("priority = %d; want high after breach", got.Priority)
	}
}

func TestSLAMonitor_RefreshesPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.classified(t)
	m := NewSLAMonitor(f.engine, 0, 0)

	f.clk.Set(T.Add(14 * time.Hour)) // 10h of 24h left
	res, err := m.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Reprioritized != 1 {
		t.Fatalf("res = %+v", res)
	}
	if got := f.reload(t, l.ID); got.Priority != domain.PriorityMedium {
		t.Fatalf("priority = %d; want medium", got.Priority)
	}
	res, _ = m.Tick(ctx)
	if res.Reprioritized != 0 {
		t.Fatalf("second tick reprioritized again: %+v", res)
	}
}

func TestSLAMonitor_IgnoresInactiveAndSweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done := f.drafted(t)
	if _, err := f.letters.StartApproval(ctx, done.ID, operator); err != nil {
		t.Fatalf("StartApproval: %v", err)
	}
	claimed := f.submitted(t, "Legal")
	if _, err := f.reservations.Reserve(ctx, claimed.ID, lawyer); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := f.idem.Remember(ctx, operator.ID, "ingest", "k1", claimed.ID, 201); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	m := NewSLAMonitor(f.engine, 0.2, time.Minute)
	m.ReservationTTL = 30 * time.Minute
	m.Reservations = f.reservations
	m.Idempotency = f.idem

	f.clk.Set(T.Add(2 * time.Hour))
	res, err := m.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Scanned != 1 {
		t.Fatalf("scanned = %d; approved letters are not active", res.Scanned)
	}
	if res.Released != 1 || f.reload(t, claimed.ID).Reserved() {
		t.Fatalf("stale claim not released: %+v", res)
	}
	if res.Purged != 1 {
		t.Fatalf("purged = %d; want 1", res.Purged)
	}
}

func TestSLAMonitor_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	m := NewSLAMonitor(f.engine, 0.2, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
