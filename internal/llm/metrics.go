package llm

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level metrics, registered once.
var (
	metricsOnce          sync.Once
	breakerStateGauge    *prometheus.GaugeVec
	providerFailuresCtr  *prometheus.CounterVec
	providerSuccessesCtr *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		breakerStateGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "askdocs_circuit_breaker_state",
				Help: "Current state of provider circuit breakers (0=closed, 1=half_open, 2=open)",
			},
			[]string{"provider"},
		)
		providerFailuresCtr = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askdocs_provider_failures_total",
				Help: "Total failed generation calls per provider",
			},
			[]string{"provider"},
		)
		providerSuccessesCtr = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askdocs_provider_successes_total",
				Help: "Total successful generation calls per provider",
			},
			[]string{"provider"},
		)
	})
}

func observeBreakerState(provider string, state CircuitState) {
	initMetrics()
	var v float64
	switch state {
	case CircuitHalfOpen:
		v = 1
	case CircuitOpen:
		v = 2
	}
	breakerStateGauge.WithLabelValues(provider).Set(v)
}

func observeProviderOutcome(provider string, err error) {
	initMetrics()
	if err != nil {
		providerFailuresCtr.WithLabelValues(provider).Inc()
	} else {
		providerSuccessesCtr.WithLabelValues(provider).Inc()
	}
}
