package workflow

import (
	"testing"
	"time"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

func slaLetter(hours int, status domain.Status) *domain.Letter {
	h := hours
	l := &domain.Letter{CreatedAt: t0, SLAHours: &h, Status: status, Priority: domain.PriorityMedium}
	l.Deadline = Deadline(l.CreatedAt, l.SLAHours)
	return l
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		hours int
		after time.Duration
		want  SLAState
	}{
		{"fresh", 24, time.Hour, SLAOk},
		{"just before window", 24, 18 * time.Hour, SLAOk},
		{"inside window", 24, 19 * time.Hour, SLAWarning},
		{"at deadline", 24, 24 * time.Hour, SLAWarning},
		{"breached", 24, 25 * time.Hour, SLABreached},
		{"short sla rounds window up", 3, 2*time.Hour + 30*time.Minute, SLAWarning},
		{"one hour sla starts ok", 1, 0, SLAOk},
		{"one hour sla before exact window", 1, 47 * time.Minute, SLAOk},
		{"one hour sla inside exact window", 1, 48 * time.Minute, SLAWarning},
	}
	for _, tt := range tests {
		l := slaLetter(tt.hours, domain.StatusInProgress)
		if got := Evaluate(t0.Add(tt.after), l, DefaultWarnFraction); got != tt.want {
			t.Errorf("%s: Evaluate = %s; want %s", tt.name, got, tt.want)
		}
	}
}

func TestEvaluate_InactiveAndNoSLA(t *testing.T) {
	if got := Evaluate(t0.Add(48*time.Hour), slaLetter(24, domain.StatusApproved), DefaultWarnFraction); got != SLAOk {
		t.Fatalf("approved letters are never breached, got %s", got)
	}
	l := &domain.Letter{CreatedAt: t0, Status: domain.StatusNew}
	if got := Evaluate(t0.Add(1000*time.Hour), l, DefaultWarnFraction); got != SLAOk {
		t.Fatalf("no SLA → ok, got %s", got)
	}
	zero := 0
	if Deadline(t0, &zero) != nil || Deadline(t0, nil) != nil {
		t.Fatalf("non-positive SLA has no deadline")
	}
}

func TestEvaluate_OverriddenDeadline(t *testing.T) {
	l := slaLetter(24, domain.StatusInApproval)
	dl := t0.Add(2 * time.Hour)
	l.Deadline = &dl
	l.DeadlineOverridden = true
	if got := Evaluate(t0.Add(3*time.Hour), l, DefaultWarnFraction); got != SLABreached {
		t.Fatalf("override must be honoured, got %s", got)
	}
}

func TestWarningWindow(t *testing.T) {
	h24, h30 := 24, 30
	if w := WarningWindow(&h24, 0.2); w != 5*time.Hour {
		t.Fatalf("0.2 of 24h = %v; want 5h", w)
	}
	if w := WarningWindow(&h24, 0.25); w != 6*time.Hour {
		t.Fatalf("0.25 of 24h = %v; want 6h", w)
	}
	if w := WarningWindow(&h30, 0.1); w != 3*time.Hour {
		t.Fatalf("0.1 of 30h = %v; want 3h", w)
	}
	h1, h2 := 1, 2
	if w := WarningWindow(&h1, 0.2); w != 12*time.Minute {
		t.Fatalf("0.2 of 1h = %v; want 12m", w)
	}
	if w := WarningWindow(&h2, 0.2); w != 24*time.Minute {
		t.Fatalf("0.2 of 2h = %v; want 24m", w)
	}
	if w := WarningWindow(nil, 0.2); w != 0 {
		t.Fatalf("nil sla → 0, got %v", w)
	}
}

func TestPriority(t *testing.T) {
	tests := []struct {
		name  string
		hours int
		after time.Duration
		want  int
	}{
		{"plenty of time", 24, time.Hour, domain.PriorityLow},
		{"under half", 24, 13 * time.Hour, domain.PriorityMedium},
		{"four hours left", 24, 20 * time.Hour, domain.PriorityHigh},
		{"overdue", 24, 30 * time.Hour, domain.PriorityHigh},
		{"under a fifth of long sla", 100, 81 * time.Hour, domain.PriorityHigh},
	}
	for _, tt := range tests {
		l := slaLetter(tt.hours, domain.StatusInProgress)
		if got := Priority(t0.Add(tt.after), l); got != tt.want {
			t.Errorf("%s: Priority = %d; want %d", tt.name, got, tt.want)
		}
	}

	l := &domain.Letter{Priority: domain.PriorityLow}
	if got := Priority(t0, l); got != domain.PriorityLow {
		t.Fatalf("no deadline keeps priority, got %d", got)
	}
}

func TestRemaining(t *testing.T) {
	l := slaLetter(24, domain.StatusNew)
	left, ok := Remaining(t0.Add(30*time.Hour), l)
	if !ok || left != -6*time.Hour {
		t.Fatalf("Remaining = %v,%v; want -6h,true", left, ok)
	}
}
