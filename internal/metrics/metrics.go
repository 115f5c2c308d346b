// Package metrics exposes Prometheus collectors for the extraction engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal        *prometheus.CounterVec
	blocksTotal          *prometheus.CounterVec
	rotationsTotal       *prometheus.CounterVec
	strategyFailureTotal *prometheus.CounterVec
	recordsTotal         prometheus.Counter
	jobsTotal            *prometheus.CounterVec
	activeJobs           prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times. Observation helpers are
// no-ops until Init runs, so library consumers and tests need no setup.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertrawl_requests_total",
				Help: "Total result pages requested, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		blocksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertrawl_blocks_total",
				Help: "Total confirmed block signals, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		rotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertrawl_circuit_rotations_total",
				Help: "Total circuit rotation requests, labeled by reason.",
			},
			[]string{"reason"},
		)

		strategyFailureTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertrawl_strategy_failures_total",
				Help: "Total strategy run failures, labeled by strategy and kind.",
			},
			[]string{"strategy", "kind"},
		)

		recordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "papertrawl_records_total",
				Help: "Total unique records extracted.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertrawl_jobs_total",
				Help: "Total jobs reaching a status, labeled by status.",
			},
			[]string{"status"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "papertrawl_active_jobs",
				Help: "Number of jobs currently executing.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest increments the page request counter.
func ObserveRequest(strategy, outcome string) {
	if requestsTotal == nil {
		return
	}
	requestsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveBlock increments the block counter for a strategy.
func ObserveBlock(strategy string) {
	if blocksTotal == nil {
		return
	}
	blocksTotal.WithLabelValues(strategy).Inc()
}

// ObserveRotation increments the rotation counter for the given reason.
func ObserveRotation(reason string) {
	if rotationsTotal == nil {
		return
	}
	rotationsTotal.WithLabelValues(reason).Inc()
}

// StrategyFailure increments the failure counter for a strategy and kind.
func StrategyFailure(strategy, kind string) {
	if strategyFailureTotal == nil {
		return
	}
	strategyFailureTotal.WithLabelValues(strategy, kind).Inc()
}

// AddRecords adds to the extracted record counter.
func AddRecords(n int) {
	if recordsTotal == nil || n <= 0 {
		return
	}
	recordsTotal.Add(float64(n))
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	if activeJobs == nil {
		return
	}
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	if activeJobs == nil {
		return
	}
	activeJobs.Dec()
}
