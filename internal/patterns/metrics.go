package patterns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	candidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_pattern_candidates_total",
		Help: "Detection candidates emitted by the matcher, by pattern",
	}, []string{"pattern"})

	matcherFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_pattern_faults_total",
		Help: "Recovered faults during pattern evaluation, by pattern",
	}, []string{"pattern"})

	registryReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_registry_reloads_total",
		Help: "Pattern registry reload attempts, by result",
	}, []string{"result"})
)

func candidatesEmitted(cs []Candidate) {
	for _, c := range cs {
		candidatesTotal.WithLabelValues(c.PatternID).Inc()
	}
}
