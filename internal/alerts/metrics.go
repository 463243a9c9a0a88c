package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_alert_transitions_total",
		Help: "Alert state transitions, by target state",
	}, []string{"state"})

	droppedCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_dropped_candidates_total",
		Help: "Detection candidates discarded before reaching an alert, by reason",
	}, []string{"reason"})
)
