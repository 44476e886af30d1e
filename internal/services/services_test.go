package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-letter-workflow/internal/clock"
	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/notify"
	"github.com/tbourn/go-letter-workflow/internal/repo"
)

var (
	T = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	operator   = domain.Actor{ID: "op-1", Role: domain.RoleOperator}
	classifier = domain.Actor{ID: "ai", Role: domain.RoleClassifier}
	admin      = domain.Actor{ID: "root", Role: domain.RoleAdmin}
	lawyer     = domain.Actor{ID: "law-1", Role: domain.RoleLawyer, Department: "Legal"}
	lawyer2    = domain.Actor{ID: "law-2", Role: domain.RoleLawyer, Department: "Legal"}
	marketer   = domain.Actor{ID: "mkt-1", Role: domain.RoleMarketing, Department: "Marketing"}
)

// captureNotifier records every event it receives.
type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, e notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *captureNotifier) kinds() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Kind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

func (c *captureNotifier) ofKind(k notify.Kind) []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Event
	for _, e := range c.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (c *captureNotifier) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

type fixture struct {
	db           *gorm.DB
	clk          *clock.Fake
	notes        *captureNotifier
	engine       *Engine
	letters      *LetterService
	approvals    *ApprovalService
	reservations *ReservationService
	queries      *QueryService
	idem         *IdempotencyService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps the shared in-memory database alive and serializes
	// writers, which SQLite requires.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	clk := clock.NewFake(T)
	notes := &captureNotifier{}
	e := NewEngine(db, clk, notes, zerolog.Nop())
	return &fixture{
		db:           db,
		clk:          clk,
		notes:        notes,
		engine:       e,
		letters:      NewLetterService(e, nil, 0),
		approvals:    NewApprovalService(e),
		reservations: NewReservationService(e),
		queries:      NewQueryService(db),
		idem:         NewIdempotencyService(db, clk, time.Hour),
	}
}

func intp(v int) *int { return &v }

// classified ingests a complaint and classifies it with the given required
// departments and a 24h SLA.
func (f *fixture) classified(t *testing.T, departments ...string) *domain.Letter {
	t.Helper()
	ctx := context.Background()
	l, err := f.letters.Ingest(ctx, operator, IngestInput{Subject: "Late delivery", Body: "My order never arrived."})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	l, err = f.letters.ApplyClassification(ctx, l.ID, classifier, Classification{
		LetterType:          domain.TypeComplaint,
		FormalityLevel:      domain.FormalityCorporate,
		SLAHours:            intp(24),
		RequiredDepartments: departments,
		DraftResponses:      map[string]string{"formal": "Dear customer, we apologise."},
	})
	if err != nil {
		t.Fatalf("ApplyClassification: %v", err)
	}
	return l
}

// drafted returns a draft_ready letter routed through departments.
func (f *fixture) drafted(t *testing.T, departments ...string) *domain.Letter {
	t.Helper()
	l := f.classified(t, departments...)
	l, err := f.letters.SelectResponse(context.Background(), l.ID, operator, ResponseSelection{DraftKey: "formal"})
	if err != nil {
		t.Fatalf("SelectResponse: %v", err)
	}
	return l
}

// submitted returns an in_approval letter routed through departments.
func (f *fixture) submitted(t *testing.T, departments ...string) *domain.Letter {
	t.Helper()
	l := f.drafted(t, departments...)
	l, err := f.letters.StartApproval(context.Background(), l.ID, operator)
	if err != nil {
		t.Fatalf("StartApproval: %v", err)
	}
	return l
}

func (f *fixture) reload(t *testing.T, id int64) *domain.Letter {
	t.Helper()
	l, err := f.letters.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%d): %v", id, err)
	}
	return l
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("err = %v; want %v", err, target)
	}
}
