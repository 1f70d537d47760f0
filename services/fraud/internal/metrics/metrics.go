// Package metrics exposes Prometheus instrumentation for the fraud pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraud_events_consumed_total",
		Help: "Total number of event records received from the ingestion queue.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraud_events_dropped_total",
		Help: "Total number of malformed event records dropped before enrichment.",
	})

	EventsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraud_events_scored_total",
		Help: "Total number of scored events, labelled by action.",
	}, []string{"action"})

	OracleFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraud_oracle_fallbacks_total",
		Help: "Total number of events scored via the fixed fallback after an oracle failure.",
	})

	SinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraud_sink_errors_total",
		Help: "Total number of failed score publications to the output sink.",
	})

	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraud_scoring_duration_ms",
		Help:    "End-to-end per-event processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	TrackedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fraud_velocity_tracked_keys",
		Help: "Number of keys currently held in the velocity store.",
	})

	CheckpointErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraud_checkpoint_errors_total",
		Help: "Total number of failed velocity checkpoint saves.",
	})
)
