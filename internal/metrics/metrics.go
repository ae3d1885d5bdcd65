// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Generations counts finished generations by terminal status
	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c4chat_generations_total",
		Help: "Finished generations by terminal completion status",
	}, []string{"status"})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "c4chat_generation_duration_seconds",
		Help:    "Wall time from message start to terminal status",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	CheckpointWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c4chat_checkpoint_writes_total",
		Help: "Partial message writes persisted during streaming",
	})

	CheckpointFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c4chat_checkpoint_failures_total",
		Help: "Partial message writes that failed and were skipped",
	})

	StreamedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c4chat_streamed_content_bytes_total",
		Help: "Content bytes forwarded to clients",
	})

	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c4chat_upstream_errors_total",
		Help: "Failed upstream completion calls by HTTP status (0 for transport errors)",
	}, []string{"status"})

	// DebitRejections counts charges refused by the ledger, by cost category
	DebitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c4chat_debit_rejections_total",
		Help: "Charges rejected for insufficient quota or tier",
	}, []string{"category", "reason"})
)
