package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/services"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

func TestRecordDecision(t *testing.T) {
	s := newStub(t)
	var got workflow.Decision
	var who domain.Actor
	s.decide = func(id int64, a domain.Actor, d workflow.Decision) (*domain.Letter, workflow.Outcome, error) {
		got, who = d, a
		return letter(id, domain.StatusInApproval), workflow.OutcomeAdvanced, nil
	}
	r := newRouter(New(s, s, s, s, nil))

	w := do(t, r, call{method: http.MethodPost, path: "/letters/9/approval/decision", user: "law-1", role: "lawyer",
		body: `{"comment":"  ok  ","approved":true}`})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	if !got.Approved || got.Comment != "ok" || got.Department != "" || who.Department != "Legal" {
		t.Fatalf("decision = %+v actor = %+v", got, who)
	}
	var resp DecisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Outcome != workflow.OutcomeAdvanced || resp.Letter.ID != 9 {
		t.Fatalf("body = %s (%v)", w.Body.String(), err)
	}

	// approved:false must be sent explicitly.
	w = do(t, r, call{method: http.MethodPost, path: "/letters/9/approval/decision", user: "law-1", role: "lawyer",
		body: `{"comment":"no flag"}`})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing approved: %d", w.Code)
	}
	do(t, r, call{method: http.MethodPost, path: "/letters/9/approval/decision", user: "law-1", role: "lawyer",
		body: `{"approved":false,"comment":"fix wording"}`})
	if got.Approved {
		t.Fatal("approved=false decoded as true")
	}
}

func TestRecordDecision_Errors(t *testing.T) {
	tests := []struct {
		err  error
		code string
		http int
	}{
		{services.ErrWrongState, ErrCodeWrongState, http.StatusConflict},
		{services.ErrNotCurrentApprover, ErrCodeNotCurrentApprover, http.StatusConflict},
		{services.ErrAlreadyReserved, ErrCodeAlreadyReserved, http.StatusConflict},
		{services.ErrForbidden, ErrCodeForbidden, http.StatusForbidden},
		{services.ErrNotFound, ErrCodeNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		s := newStub(t)
		s.decide = func(int64, domain.Actor, workflow.Decision) (*domain.Letter, workflow.Outcome, error) {
			return nil, "", tt.err
		}
		r := newRouter(New(s, s, s, s, nil))
		w := do(t, r, call{method: http.MethodPost, path: "/letters/1/approval/decision", user: "mkt-1", role: "marketing",
			body: `{"approved":true}`})
		if w.Code != tt.http || errCode(t, w) != tt.code {
			t.Fatalf("%v: got %d %s", tt.err, w.Code, w.Body.String())
		}
	}
}

func TestRecordDecision_ReplayDoesNotAppendTwice(t *testing.T) {
	s := newStub(t)
	s.decide = func(id int64, _ domain.Actor, _ workflow.Decision) (*domain.Letter, workflow.Outcome, error) {
		return letter(id, domain.StatusApproved), workflow.OutcomeApproved, nil
	}
	s.get = func(id int64) (*domain.Letter, error) { return letter(id, domain.StatusApproved), nil }
	r := newRouter(New(s, s, s, s, newMemIdem()))

	c := call{method: http.MethodPost, path: "/letters/4/approval/decision", user: "law-1", role: "lawyer",
		body: `{"approved":true}`, headers: map[string]string{"Idempotency-Key": "d-1"}}
	do(t, r, c)
	w := do(t, r, c)
	if s.count("RecordDecision") != 1 || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("decisions = %d replayed=%q", s.count("RecordDecision"), w.Header().Get("Idempotency-Replayed"))
	}
	var resp DecisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Letter == nil || resp.Letter.Status != domain.StatusApproved {
		t.Fatalf("replay body = %s", w.Body.String())
	}

	// The same key on another letter is a different scope.
	c.path = "/letters/5/approval/decision"
	do(t, r, c)
	if s.count("RecordDecision") != 2 {
		t.Fatal("scope must include the letter path")
	}
}

func TestStartApproval(t *testing.T) {
	s := newStub(t)
	s.edge = func(name string, id int64, _ domain.Actor) (*domain.Letter, error) {
		if id == 2 {
			return nil, services.ErrNoResponse
		}
		return letter(id, domain.StatusInApproval), nil
	}
	r := newRouter(New(s, s, s, s, nil))

	if w := do(t, r, call{method: http.MethodPost, path: "/letters/1/approval", user: "op", role: "operator"}); w.Code != http.StatusOK || s.count("StartApproval") != 1 {
		t.Fatalf("start: %d", w.Code)
	}
	w := do(t, r, call{method: http.MethodPost, path: "/letters/2/approval", user: "op", role: "operator"})
	if w.Code != http.StatusConflict || errCode(t, w) != ErrCodeInvalidTransition {
		t.Fatalf("no response: %d %s", w.Code, w.Body.String())
	}
}

func TestReserveAndRelease(t *testing.T) {
	s := newStub(t)
	var (
		mu     sync.Mutex
		holder string
	)
	s.edge = func(name string, id int64, a domain.Actor) (*domain.Letter, error) {
		mu.Lock()
		defer mu.Unlock()
		switch name {
		case "Reserve":
			if holder != "" {
				return nil, services.ErrAlreadyReserved
			}
			holder = a.ID
		case "Release":
			if holder != a.ID && a.Role != domain.RoleAdmin {
				return nil, services.ErrForbidden
			}
			holder = ""
		}
		return letter(id, domain.StatusInApproval), nil
	}
	r := newRouter(New(s, s, s, s, nil))

	if w := do(t, r, call{method: http.MethodPost, path: "/letters/3/reservation", user: "law-1", role: "lawyer"}); w.Code != http.StatusOK {
		t.Fatalf("reserve: %d", w.Code)
	}
	w := do(t, r, call{method: http.MethodPost, path: "/letters/3/reservation", user: "law-2", role: "lawyer"})
	if w.Code != http.StatusConflict || errCode(t, w) != ErrCodeAlreadyReserved {
		t.Fatalf("second reserve: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, call{method: http.MethodDelete, path: "/letters/3/reservation", user: "law-2", role: "lawyer"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign release: %d", w.Code)
	}
	if w := do(t, r, call{method: http.MethodDelete, path: "/letters/3/reservation", user: "adm", role: "admin"}); w.Code != http.StatusOK {
		t.Fatalf("admin release: %d", w.Code)
	}
	if w := do(t, r, call{method: http.MethodPost, path: "/letters/x/reservation", user: "law-1", role: "lawyer"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
}

func TestSearchLetters(t *testing.T) {
	s := newStub(t)
	var gotK int
	s.search = func(q string, k int) ([]services.SearchHit, error) {
		gotK = k
		if q == "none" {
			return nil, nil
		}
		return []services.SearchHit{{Letter: *letter(1, domain.StatusNew), Score: 0.5}}, nil
	}
	r := newRouter(New(s, s, s, s, nil))

	w := do(t, r, call{method: http.MethodGet, path: "/search/letters?q=refund&k=500", user: "u", role: "operator"})
	if w.Code != http.StatusOK || gotK != maxSearchK {
		t.Fatalf("search: %d k=%d", w.Code, gotK)
	}
	var resp SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Hits) != 1 || resp.Query != "refund" {
		t.Fatalf("body = %s", w.Body.String())
	}

	w = do(t, r, call{method: http.MethodGet, path: "/search/letters?q=none", user: "u", role: "operator"})
	if w.Code != http.StatusOK || gotK != 10 || !json.Valid(w.Body.Bytes()) || string(w.Body.Bytes()) != `{"query":"none","hits":[]}` {
		t.Fatalf("empty search: %d k=%d %s", w.Code, gotK, w.Body.String())
	}
	if w := do(t, r, call{method: http.MethodGet, path: "/search/letters?q=%20", user: "u", role: "operator"}); w.Code != http.StatusBadRequest {
		t.Fatalf("blank q: %d", w.Code)
	}
}
