package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_outcomes_recorded_total",
		Help: "Outcome reports accepted, by result",
	}, []string{"result"})

	persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_persistence_failures_total",
		Help: "Durable writes that exhausted their retries, by record kind",
	}, []string{"kind"})

	persistPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anastrophex_persistence_pending",
		Help: "Records waiting to be written to durable storage",
	})

	persistDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anastrophex_persistence_degraded",
		Help: "1 while durable writes are failing, 0 otherwise",
	})
)
