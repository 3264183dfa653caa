package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_http_requests_total",
		Help: "Total HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "civic_http_request_duration_seconds",
		Help:    "Latency of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_job_transitions_total",
		Help: "Job status transitions by target status",
	}, []string{"to"})

	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_job_finalizations_total",
		Help: "Finalize attempts by outcome (noop, disputed, completed, failed)",
	}, []string{"outcome"})

	WalletMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_wallet_mutations_total",
		Help: "Wallet balance mutations by transaction type",
	}, []string{"type"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_review_sweep_runs_total",
		Help: "Review deadline sweeps by result (ran, skipped, error)",
	}, []string{"result"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "civic_review_sweep_duration_seconds",
		Help:    "Duration of a review deadline sweep",
		Buckets: prometheus.DefBuckets,
	})
)
