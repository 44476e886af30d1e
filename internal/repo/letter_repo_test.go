package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

var base = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func seedLetter(t *testing.T, db *gorm.DB, mut func(l *domain.Letter), at time.Time) *domain.Letter {
	t.Helper()
	l := &domain.Letter{Subject: "Subject", Body: "Body"}
	if mut != nil {
		mut(l)
	}
	if err := CreateLetter(context.Background(), db, l, at); err != nil {
		t.Fatalf("CreateLetter: %v", err)
	}
	return l
}

func inApproval(dept string) func(l *domain.Letter) {
	return func(l *domain.Letter) {
		l.Status = domain.StatusInApproval
		l.ApprovalRound = 1
		l.ApprovalRoute = []domain.ApprovalStage{{Department: dept}}
		l.SetApprover(dept)
	}
}

func TestCreateAndGetLetter(t *testing.T) {
	db := newTestDB(t, &domain.Letter{})
	ctx := context.Background()

	l := seedLetter(t, db, nil, base)
	if l.ID == 0 || l.Version != 1 || l.Status != domain.StatusNew || l.Priority != domain.PriorityMedium {
		t.Fatalf("CreateLetter defaults: %+v", l)
	}

	got, err := GetLetter(ctx, db, l.ID)
	if err != nil {
		t.Fatalf("GetLetter: %v", err)
	}
	if got.Subject != "Subject" || !got.CreatedAt.Equal(base) {
		t.Fatalf("readback: %+v", got)
	}

	if _, err := GetLetter(ctx, db, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing letter: want ErrNotFound, got %v", err)
	}
}

func TestSaveLetter_CompareAndSet(t *testing.T) {
	db := newTestDB(t, &domain.Letter{})
	ctx := context.Background()
	l := seedLetter(t, db, inApproval("Legal"), base)

	a, _ := GetLetter(ctx, db, l.ID)
	b, _ := GetLetter(ctx, db, l.ID)

	a.SetReservation("law-1", base.Add(time.Minute))
	if err := SaveLetter(ctx, db, a, base.Add(time.Minute)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("version after save = %d; want 2", a.Version)
	}

	b.SetReservation("law-2", base.Add(2*time.Minute))
	if err := SaveLetter(ctx, db, b, base.Add(2*time.Minute)); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale save: want ErrVersionConflict, got %v", err)
	}
	if b.Version != 1 {
		t.Fatalf("stale copy version must be restored, got %d", b.Version)
	}

	got, _ := GetLetter(ctx, db, l.ID)
	if got.ReservedBy == nil || *got.ReservedBy != "law-1" || got.Version != 2 {
		t.Fatalf("stored row: reserved_by=%v version=%d", got.ReservedBy, got.Version)
	}

	// Nil pointers must be written as NULL.
	got.ClearReservation()
	got.SetApprover("")
	got.Status = domain.StatusDraftReady
	if err := SaveLetter(ctx, db, got, base.Add(3*time.Minute)); err != nil {
		t.Fatalf("clear save: %v", err)
	}
	again, _ := GetLetter(ctx, db, l.ID)
	if again.ReservedBy != nil || again.ReservedAt != nil || again.CurrentApprover != nil {
		t.Fatalf("nullable columns not cleared: %+v", again)
	}
	if !again.CreatedAt.Equal(base) {
		t.Fatalf("created_at must not change, got %v", again.CreatedAt)
	}

	ghost := &domain.Letter{ID: 4242, Version: 1, Subject: "x", Body: "y", Status: domain.StatusNew, Priority: 2}
	if err := SaveLetter(ctx, db, ghost, base); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing row: want ErrNotFound, got %v", err)
	}
}

func TestReserveLetter_Conditional(t *testing.T) {
	db := newTestDB(t, &domain.Letter{})
	ctx := context.Background()
	l := seedLetter(t, db, inApproval("Legal"), base)
	draft := seedLetter(t, db, func(l *domain.Letter) { l.Status = domain.StatusDraftReady }, base)

	if ok, err := ReserveLetter(ctx, db, l.ID, 99, "law-1", base); err != nil || ok {
		t.Fatalf("wrong version: ok=%v err=%v", ok, err)
	}
	if ok, err := ReserveLetter(ctx, db, draft.ID, draft.Version, "law-1", base); err != nil || ok {
		t.Fatalf("wrong status: ok=%v err=%v", ok, err)
	}
	if ok, err := ReserveLetter(ctx, db, l.ID, l.Version, "law-1", base); err != nil || !ok {
		t.Fatalf("free letter: ok=%v err=%v", ok, err)
	}
	if ok, err := ReserveLetter(ctx, db, l.ID, l.Version+1, "law-2", base); err != nil || ok {
		t.Fatalf("already reserved: ok=%v err=%v", ok, err)
	}

	got, _ := GetLetter(ctx, db, l.ID)
	if got.ReservedBy == nil || *got.ReservedBy != "law-1" || got.ReservedAt == nil || got.Version != 2 {
		t.Fatalf("reservation row: %+v", got)
	}
}

func TestListLetters_Filters(t *testing.T) {
	db := newTestDB(t, &domain.Letter{})
	ctx := context.Background()

	legal1 := seedLetter(t, db, inApproval("Юридический"), base)
	legal2 := seedLetter(t, db, inApproval("юридический"), base.Add(time.Minute))
	mkt := seedLetter(t, db, inApproval("Marketing"), base.Add(2*time.Minute))
	seedLetter(t, db, nil, base.Add(3*time.Minute))

	if ok, _ := ReserveLetter(ctx, db, legal2.ID, legal2.Version, "law-1", base); !ok {
		t.Fatalf("seed reservation failed")
	}

	items, total, err := ListLetters(ctx, db, LetterFilter{Statuses: []domain.Status{domain.StatusInApproval}})
	if err != nil || total != 3 || len(items) != 3 {
		t.Fatalf("in_approval: total=%d len=%d err=%v", total, len(items), err)
	}

	items, total, _ = ListLetters(ctx, db, LetterFilter{Statuses: []domain.Status{domain.StatusInApproval}, Unreserved: true})
	if total != 2 || items[0].ID != legal1.ID || items[1].ID != mkt.ID {
		t.Fatalf("unreserved: total=%d items=%v", total, ids(items))
	}

	items, total, _ = ListLetters(ctx, db, LetterFilter{Statuses: []domain.Status{domain.StatusInApproval}, ReservedBy: "law-1"})
	if total != 1 || items[0].ID != legal2.ID {
		t.Fatalf("reserved by law-1: total=%d items=%v", total, ids(items))
	}

	items, total, _ = ListLetters(ctx, db, LetterFilter{Department: "ЮРИДИЧЕСКИЙ"})
	if total != 2 || len(items) != 2 {
		t.Fatalf("department fold: total=%d items=%v", total, ids(items))
	}

	items, total, _ = ListLetters(ctx, db, LetterFilter{Department: "юридический", Offset: 1, Limit: 5})
	if total != 2 || len(items) != 1 || items[0].ID != legal2.ID {
		t.Fatalf("department page: total=%d items=%v", total, ids(items))
	}

	items, total, _ = ListLetters(ctx, db, LetterFilter{Offset: 1, Limit: 2})
	if total != 4 || len(items) != 2 || items[0].ID != legal2.ID {
		t.Fatalf("page: total=%d items=%v", total, ids(items))
	}
}

func TestListLetters_Involves(t *testing.T) {
	db := newTestDB(t, &domain.Letter{})
	ctx := context.Background()

	routed := seedLetter(t, db, inApproval("Legal"), base)
	required := seedLetter(t, db, func(l *domain.Letter) {
		l.Status = domain.StatusDraftReady
		l.RequiredDepartments = []string{"Marketing", "legal"}
	}, base.Add(time.Minute))
	done := seedLetter(t, db, func(l *domain.Letter) {
		l.Status = domain.StatusApproved
		l.ApprovalRound = 1
		l.ApprovalRoute = []domain.ApprovalStage{{Department: "LEGAL"}}
	}, base.Add(2*time.Minute))
	seedLetter(t, db, inApproval("Marketing"), base.Add(3*time.Minute))
	seedLetter(t, db, nil, base.Add(4*time.Minute))

	items, total, err := ListLetters(ctx, db, LetterFilter{Involves: "Legal"})
	if err != nil || total != 3 {
		t.Fatalf("involves Legal: total=%d items=%v err=%v", total, ids(items), err)
	}
	if items[0].ID != routed.ID || items[1].ID != required.ID || items[2].ID != done.ID {
		t.Fatalf("involves order: %v", ids(items))
	}

	items, total, _ = ListLetters(ctx, db, LetterFilter{Statuses: []domain.Status{domain.StatusApproved}, Involves: "legal"})
	if total != 1 || items[0].ID != done.ID {
		t.Fatalf("approved involving legal: total=%d items=%v", total, ids(items))
	}

	// Involves does not narrow to the current approver.
	_, total, _ = ListLetters(ctx, db, LetterFilter{Department: "Legal", Involves: "Marketing"})
	if total != 0 {
		t.Fatalf("department and involves combine with AND: total=%d", total)
	}
}

func TestListActiveAndStaleReservations(t *testing.T) {
	db := newTestDB(t, &domain.Letter{})
	ctx := context.Background()

	l := seedLetter(t, db, inApproval("Legal"), base)
	seedLetter(t, db, func(l *domain.Letter) { l.Status = domain.StatusSent }, base)
	seedLetter(t, db, func(l *domain.Letter) { l.Status = domain.StatusApproved }, base)
	seedLetter(t, db, nil, base)

	active, err := ListActive(ctx, db)
	if err != nil || len(active) != 2 {
		t.Fatalf("ListActive = %d, %v; want 2", len(active), err)
	}

	_, _ = ReserveLetter(ctx, db, l.ID, l.Version, "law-1", base)
	stale, err := ListStaleReservations(ctx, db, base.Add(time.Hour))
	if err != nil || len(stale) != 1 || stale[0].ID != l.ID {
		t.Fatalf("stale = %v, %v", ids(stale), err)
	}
	if stale, _ := ListStaleReservations(ctx, db, base); len(stale) != 0 {
		t.Fatalf("fresh claim reported stale: %v", ids(stale))
	}
}

func ids(ls []domain.Letter) []int64 {
	out := make([]int64, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}
