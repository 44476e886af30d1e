package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
)

func TestReserve_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.submitted(t, "Legal")

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   []string
		losses int
		other  []error
	)
	for i := 0; i < n; i++ {
		actor := domain.Actor{ID: fmt.Sprintf("law-%d", i), Role: domain.RoleLawyer, Department: "Legal"}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reservations.Reserve(ctx, l.ID, actor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins = append(wins, actor.ID)
			case errors.Is(err, ErrAlreadyReserved):
				losses++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if len(wins) != 1 || losses != n-1 {
		t.Fatalf("wins=%v losses=%d; want exactly one winner", wins, losses)
	}
	got := f.reload(t, l.ID)
	if got.ReservedBy == nil || *got.ReservedBy != wins[0] || got.ReservedAt == nil {
		t.Fatalf("reservation = %v/%v; want %s", got.ReservedBy, got.ReservedAt, wins[0])
	}
	if f.engine.Locks.size() != 0 {
		t.Fatalf("lock entries leaked: %d", f.engine.Locks.size())
	}
}

func TestReserve_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.submitted(t, "Legal")

	_, err := f.reservations.Reserve(ctx, l.ID, operator)
	wantErr(t, err, ErrForbidden)
	_, err = f.reservations.Reserve(ctx, l.ID, marketer)
	wantErr(t, err, ErrForbidden)
	_, err = f.reservations.Reserve(ctx, 4242, lawyer)
	wantErr(t, err, ErrNotFound)

	r, err := f.reservations.Reserve(ctx, l.ID, lawyer)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if r.Version != l.Version+1 || !r.ReservedAt.Equal(T) {
		t.Fatalf("reserved letter version=%d at=%v", r.Version, r.ReservedAt)
	}
	_, err = f.reservations.Reserve(ctx, l.ID, lawyer)
	wantErr(t, err, ErrAlreadyReserved)

	d := f.drafted(t, "Legal")
	_, err = f.reservations.Reserve(ctx, d.ID, lawyer)
	wantErr(t, err, ErrWrongState)
}

func TestReserve_LostRaceAcrossProcesses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.submitted(t, "Legal")

	// A second engine over the same database has its own locks, like a second
	// server process.
	other := NewReservationService(NewEngine(f.db, f.clk, nil, f.engine.Log))
	if _, err := other.Reserve(ctx, l.ID, lawyer2); err != nil {
		t.Fatalf("other Reserve: %v", err)
	}
	_, err := f.reservations.Reserve(ctx, l.ID, lawyer)
	wantErr(t, err, ErrAlreadyReserved)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.submitted(t, "Legal")

	// Releasing a free letter is a no-op.
	got, err := f.reservations.Release(ctx, l.ID, lawyer)
	if err != nil || got.Version != l.Version {
		t.Fatalf("release free = %v, %v", got, err)
	}

	if _, err := f.reservations.Reserve(ctx, l.ID, lawyer); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	_, err = f.reservations.Release(ctx, l.ID, lawyer2)
	wantErr(t, err, ErrForbidden)

	f.notes.reset()
	got, err = f.reservations.Release(ctx, l.ID, lawyer)
	if err != nil || got.Reserved() {
		t.Fatalf("Release = %+v, %v", got, err)
	}
	if evs := f.notes.ofKind(notify.KindReservation); len(evs) != 1 {
		t.Fatalf("reservation events = %v", f.notes.kinds())
	}

	if _, err := f.reservations.Reserve(ctx, l.ID, lawyer2); err != nil {
		t.Fatalf("Reserve after release: %v", err)
	}
	if got, err := f.reservations.Release(ctx, l.ID, admin); err != nil || got.Reserved() {
		t.Fatalf("admin release = %+v, %v", got, err)
	}
}

func TestReleaseStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.submitted(t, "Legal")
	if _, err := f.reservations.Reserve(ctx, old.ID, lawyer); err != nil {
		t.Fatalf("Reserve old: %v", err)
	}
	f.clk.Advance(2 * time.Hour)
	fresh := f.submitted(t, "Legal")
	if _, err := f.reservations.Reserve(ctx, fresh.ID, lawyer2); err != nil {
		t.Fatalf("Reserve fresh: %v", err)
	}

	released, err := f.reservations.ReleaseStale(ctx, f.clk.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReleaseStale: %v", err)
	}
	if len(released) != 1 || released[0] != old.ID {
		t.Fatalf("released = %v; want [%d]", released, old.ID)
	}
	if f.reload(t, old.ID).Reserved() || !f.reload(t, fresh.ID).Reserved() {
		t.Fatal("wrong claims released")
	}
}
