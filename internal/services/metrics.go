package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letter_transitions_total",
			Help: "Letter status transitions by from/to status.",
		},
		[]string{"from", "to"},
	)
	reservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letter_reservations_total",
			Help: "Reservation attempts by result.",
		},
		[]string{"result"},
	)
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letter_decisions_total",
			Help: "Approval decisions by outcome.",
		},
		[]string{"outcome"},
	)
	slaEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letter_sla_events_total",
			Help: "SLA state entries emitted by the monitor.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal, reservationsTotal, decisionsTotal, slaEventsTotal)
}

// resultLabel maps an operation error onto a bounded label value.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyReserved):
		return "already_reserved"
	case errors.Is(err, ErrWrongState):
		return "wrong_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotCurrentApprover):
		return "not_current_approver"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "error"
}
