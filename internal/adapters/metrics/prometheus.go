package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptopt_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptopt_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promptopt_runs_active",
		Help: "Number of optimization runs in progress",
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptopt_runs_total",
		Help: "Optimization runs by terminal status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptopt_stage_duration_seconds",
		Help:    "Pipeline stage duration",
		Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"stage"})

	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptopt_evaluations_total",
		Help: "Test case evaluations by suite",
	}, []string{"stage"})

	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptopt_evaluation_duration_seconds",
		Help:    "Duration of one test case evaluation, target response plus judge",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	OracleRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptopt_oracle_requests_total",
		Help: "Total oracle requests",
	}, []string{"operation", "status"})

	OracleRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptopt_oracle_request_duration_seconds",
		Help:    "Oracle request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	OracleRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptopt_oracle_retries_total",
		Help: "Oracle retries after transient failures",
	}, []string{"operation"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "promptopt_circuit_breaker_state",
		Help: "Breaker state per endpoint (0 closed, 1 open, 2 half open)",
	}, []string{"endpoint"})

	RefinementIterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptopt_refinement_iterations_total",
		Help: "Refinement iterations by outcome",
	}, []string{"outcome"})

	EvaluationSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promptopt_evaluation_slots_in_use",
		Help: "Concurrency permits currently held by evaluations",
	})
)
