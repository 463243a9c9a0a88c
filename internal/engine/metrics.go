package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anastrophex_events_recorded_total",
		Help: "Tool-call events appended across all sessions",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anastrophex_sessions",
		Help: "Session pipelines currently held in memory",
	})

	sweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anastrophex_sweeps_total",
		Help: "Periodic sweeps of time-based rules and intervention expiry",
	})
)
