package rest

import (
	"github.com/pot-code/lecture-gate/internal/access"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type serverMetrics struct {
	registry       *prometheus.Registry
	unlockOutcomes *prometheus.CounterVec
	rateLimited    prometheus.Counter
}

// each server owns its registry, so several can live in one process
func newServerMetrics(sessions *access.Registry) *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		unlockOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lgate",
			Name:      "unlock_outcomes_total",
			Help:      "Total number of unlock requests, by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lgate",
			Name:      "unlock_rate_limited_total",
			Help:      "Total number of unlock requests rejected by the per-viewer limiter.",
		}),
	}
	m.registry.MustRegister(
		m.unlockOutcomes,
		m.rateLimited,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "lgate",
			Name:      "open_sessions",
			Help:      "Current number of open lecture sessions.",
		}, func() float64 {
			return float64(sessions.Len())
		}),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
