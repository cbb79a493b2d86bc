package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the gateway's Prometheus collectors. Each server gets its
// own registry so tests can run in parallel.
type metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	agentRuns   *prometheus.CounterVec
	runDuration prometheus.Histogram
	runTokens   prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grip_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grip_agent_runs_total",
			Help: "Agent runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grip_agent_run_duration_seconds",
			Help:    "Agent run wall time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		runTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grip_agent_tokens_total",
			Help: "Total tokens consumed by agent runs.",
		}),
	}
	m.registry.MustRegister(m.requests, m.agentRuns, m.runDuration, m.runTokens)
	return m
}
