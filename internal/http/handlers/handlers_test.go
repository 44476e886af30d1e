package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/http/middleware"
	"github.com/tbourn/go-letter-workflow/internal/services"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

// ---------- stubs ----------

// stubSvc satisfies every service contract; unset funcs fail the call.
type stubSvc struct {
	t     *testing.T
	calls map[string]int
	mu    sync.Mutex

	ingest   func(domain.Actor, services.IngestInput) (*domain.Letter, error)
	get      func(int64) (*domain.Letter, error)
	edge     func(name string, id int64, a domain.Actor) (*domain.Letter, error)
	classify func(int64, services.Classification) (*domain.Letter, error)
	selResp  func(int64, services.ResponseSelection) (*domain.Letter, error)
	status   func(int64, domain.Status) (*domain.Letter, error)
	deadline func(int64, time.Time) (*domain.Letter, error)
	sla      func(int64) (*services.SLAReport, error)
	decide   func(int64, domain.Actor, workflow.Decision) (*domain.Letter, workflow.Outcome, error)
	list     func(view string, actorID string, st domain.Status, dept string, page, size int) (*services.Page, error)
	stats    func(st ...domain.Status) (int64, *time.Time, error)
	search   func(q string, k int) ([]services.SearchHit, error)
}

func newStub(t *testing.T) *stubSvc {
	return &stubSvc{t: t, calls: map[string]int{}}
}

func (s *stubSvc) hit(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func (s *stubSvc) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubSvc) runEdge(name string, id int64, a domain.Actor) (*domain.Letter, error) {
	s.hit(name)
	if s.edge == nil {
		s.t.Fatalf("unexpected %s", name)
	}
	return s.edge(name, id, a)
}

func (s *stubSvc) Ingest(_ context.Context, a domain.Actor, in services.IngestInput) (*domain.Letter, error) {
	s.hit("Ingest")
	return s.ingest(a, in)
}

func (s *stubSvc) Get(_ context.Context, id int64) (*domain.Letter, error) {
	s.hit("Get")
	return s.get(id)
}

func (s *stubSvc) BeginAnalysis(_ context.Context, id int64, a domain.Actor) (*domain.Letter, error) {
	return s.runEdge("BeginAnalysis", id, a)
}

func (s *stubSvc) ApplyClassification(_ context.Context, id int64, _ domain.Actor, c services.Classification) (*domain.Letter, error) {
	s.hit("ApplyClassification")
	return s.classify(id, c)
}

func (s *stubSvc) SelectResponse(_ context.Context, id int64, _ domain.Actor, sel services.ResponseSelection) (*domain.Letter, error) {
	s.hit("SelectResponse")
	return s.selResp(id, sel)
}

func (s *stubSvc) ChangeStatus(_ context.Context, id int64, _ domain.Actor, to domain.Status) (*domain.Letter, error) {
	s.hit("ChangeStatus")
	return s.status(id, to)
}

func (s *stubSvc) StartApproval(_ context.Context, id int64, a domain.Actor) (*domain.Letter, error) {
	return s.runEdge("StartApproval", id, a)
}

func (s *stubSvc) MarkSent(_ context.Context, id int64, a domain.Actor) (*domain.Letter, error) {
	return s.runEdge("MarkSent", id, a)
}

func (s *stubSvc) OverrideDeadline(_ context.Context, id int64, _ domain.Actor, d time.Time) (*domain.Letter, error) {
	s.hit("OverrideDeadline")
	return s.deadline(id, d)
}

func (s *stubSvc) SLA(_ context.Context, id int64) (*services.SLAReport, error) {
	s.hit("SLA")
	return s.sla(id)
}

func (s *stubSvc) RecordDecision(_ context.Context, id int64, a domain.Actor, d workflow.Decision) (*domain.Letter, workflow.Outcome, error) {
	s.hit("RecordDecision")
	return s.decide(id, a, d)
}

func (s *stubSvc) Reserve(_ context.Context, id int64, a domain.Actor) (*domain.Letter, error) {
	return s.runEdge("Reserve", id, a)
}

func (s *stubSvc) Release(_ context.Context, id int64, a domain.Actor) (*domain.Letter, error) {
	return s.runEdge("Release", id, a)
}

func (s *stubSvc) ListByStatus(_ context.Context, st domain.Status, dept string, page, size int) (*services.Page, error) {
	s.hit("ListByStatus")
	return s.list("status", "", st, dept, page, size)
}

func (s *stubSvc) ListReservedBy(_ context.Context, actorID string, st domain.Status, dept string, page, size int) (*services.Page, error) {
	s.hit("ListReservedBy")
	return s.list("reserved", actorID, st, dept, page, size)
}

func (s *stubSvc) ListUnreserved(_ context.Context, st domain.Status, dept string, page, size int) (*services.Page, error) {
	s.hit("ListUnreserved")
	return s.list("unreserved", "", st, dept, page, size)
}

func (s *stubSvc) Stats(_ context.Context, st ...domain.Status) (int64, *time.Time, error) {
	if s.stats == nil {
		return 0, nil, nil
	}
	return s.stats(st...)
}

func (s *stubSvc) Search(_ context.Context, q string, k int) ([]services.SearchHit, error) {
	s.hit("Search")
	return s.search(q, k)
}

// memIdem is an in-memory IdempotencyStore.
type memIdem struct {
	mu   sync.Mutex
	recs map[string]domain.Idempotency
}

func newMemIdem() *memIdem { return &memIdem{recs: map[string]domain.Idempotency{}} }

func (m *memIdem) Lookup(_ context.Context, actorID, scope, key string) (*domain.Idempotency, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, found := m.recs[actorID+"|"+scope+"|"+key]
	if !found {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (m *memIdem) Remember(_ context.Context, actorID, scope, key string, letterID int64, status int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := actorID + "|" + scope + "|" + key
	if _, dup := m.recs[k]; !dup {
		m.recs[k] = domain.Idempotency{ActorID: actorID, Scope: scope, Key: key, LetterID: letterID, Status: status}
	}
	return nil
}

// ---------- plumbing ----------

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Actor(workflow.DefaultPolicy()))
	r.POST("/letters", h.IngestLetter)
	r.GET("/letters", h.ListLetters)
	r.GET("/letters/:id", h.GetLetter)
	r.POST("/letters/:id/analysis", h.BeginAnalysis)
	r.PUT("/letters/:id/classification", h.ApplyClassification)
	r.PUT("/letters/:id/response", h.SelectResponse)
	r.PATCH("/letters/:id/status", h.ChangeStatus)
	r.POST("/letters/:id/approval", h.StartApproval)
	r.POST("/letters/:id/approval/decision", h.RecordDecision)
	r.POST("/letters/:id/reservation", h.ReserveLetter)
	r.DELETE("/letters/:id/reservation", h.ReleaseLetter)
	r.POST("/letters/:id/send", h.SendLetter)
	r.PUT("/letters/:id/deadline", h.OverrideDeadline)
	r.GET("/letters/:id/sla", h.GetSLA)
	r.GET("/search/letters", h.SearchLetters)
	return r
}

type call struct {
	method, path, body string
	user, role         string
	headers            map[string]string
}

func do(t *testing.T, r http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if c.body != "" {
		body = bytes.NewReader([]byte(c.body))
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set(middleware.HeaderUserID, c.user)
	}
	if c.role != "" {
		req.Header.Set(middleware.HeaderUserRole, c.role)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body: %v (%s)", err, w.Body.String())
	}
	return er.Code
}

func letter(id int64, st domain.Status) *domain.Letter {
	return &domain.Letter{ID: id, Subject: "s", Body: "b", Status: st, Priority: domain.PriorityMedium}
}
