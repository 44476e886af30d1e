package workflow

import (
	"time"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// SLAState is the result of evaluating a letter against its deadline.
type SLAState string

const (
	SLAOk       SLAState = "ok"
	SLAWarning  SLAState = "warning"
	SLABreached SLAState = "breached"
)

// DefaultWarnFraction is the share of sla_hours before the deadline at which
// a letter enters the warning state.
const DefaultWarnFraction = 0.2

// Deadline computes created_at + sla_hours. Non-positive or missing
// sla_hours means the letter carries no SLA.
func Deadline(createdAt time.Time, slaHours *int) *time.Time {
	if slaHours == nil || *slaHours <= 0 {
		return nil
	}
	d := createdAt.Add(time.Duration(*slaHours) * time.Hour)
	return &d
}

// EffectiveDeadline returns the stored deadline, falling back to the
// computed one for letters classified before deadlines were stamped.
func EffectiveDeadline(l *domain.Letter) *time.Time {
	if l.Deadline != nil {
		return l.Deadline
	}
	return Deadline(l.CreatedAt, l.SLAHours)
}

// WarningWindow is warnFraction of sla_hours rounded to the nearest hour,
// never shorter than the exact fraction. A 24h SLA at 0.2 warns 5h out; a 1h
// SLA warns 12m out. With no sla_hours there is no warning window.
func WarningWindow(slaHours *int, warnFraction float64) time.Duration {
	if slaHours == nil || *slaHours <= 0 || warnFraction <= 0 {
		return 0
	}
	// Truncating to the second drops float noise such as 0.1*30 = 3.0000000000000004.
	exact := time.Duration(warnFraction * float64(*slaHours) * float64(time.Hour)).Truncate(time.Second)
	return max(exact, exact.Round(time.Hour))
}

// Evaluate classifies l at now. Letters without a deadline, and letters that
// are no longer active (approved or sent), are always ok.
func Evaluate(now time.Time, l *domain.Letter, warnFraction float64) SLAState {
	if !l.Status.Active() {
		return SLAOk
	}
	dl := EffectiveDeadline(l)
	if dl == nil {
		return SLAOk
	}
	if now.After(*dl) {
		return SLABreached
	}
	if w := WarningWindow(l.SLAHours, warnFraction); w > 0 && dl.Sub(now) <= w {
		return SLAWarning
	}
	return SLAOk
}

// Remaining returns the time left until the deadline; negative when overdue.
func Remaining(now time.Time, l *domain.Letter) (time.Duration, bool) {
	dl := EffectiveDeadline(l)
	if dl == nil {
		return 0, false
	}
	return dl.Sub(now), true
}

// Priority derives 1..3 from the time left. Overdue, four hours or less, or
// under a fifth of the SLA left is high; under half is medium; otherwise
// low. Letters without a deadline keep their priority.
func Priority(now time.Time, l *domain.Letter) int {
	left, ok := Remaining(now, l)
	if !ok {
		if l.Priority == 0 {
			return domain.PriorityMedium
		}
		return l.Priority
	}
	hours := left.Hours()
	if hours <= 4 {
		return domain.PriorityHigh
	}
	sla := 24
	if l.SLAHours != nil && *l.SLAHours > 0 {
		sla = *l.SLAHours
	}
	ratio := hours / float64(sla)
	switch {
	case ratio < 0.2:
		return domain.PriorityHigh
	case ratio < 0.5:
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}
