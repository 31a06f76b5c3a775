package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Action executions by terminal outcome (success, validation_error, ...).
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratsync_executions_total",
			Help: "Total number of action executions by outcome",
		},
		[]string{"strategy", "outcome"},
	)

	ExecutionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stratsync_executions_in_flight",
		Help: "Number of action executions currently holding their key",
	})

	// Gateway submissions (approve, crossChainSync).
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratsync_gateway_submissions_total",
			Help: "Total number of contract call submissions",
		},
		[]string{"method", "status"},
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratsync_gateway_submission_duration_seconds",
			Help:    "Contract call submission latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	UnmappedSelectorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratsync_unmapped_selector_total",
			Help: "Executions refused because the destination chain has no cross-chain selector",
		},
		[]string{"chain_id"},
	)

	JournalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratsync_journal_writes_total",
			Help: "Activity journal writes by status",
		},
		[]string{"status"},
	)
)
