package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics for production monitoring.
var (
	// Aggregation metrics
	WardsAggregated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epiwatch_wards_aggregated_total",
			Help: "Total number of ward/day aggregates written",
		},
	)

	WardsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epiwatch_wards_skipped_total",
			Help: "Total number of wards skipped due to errors, by stage",
		},
		[]string{"stage"}, // aggregation | detection
	)

	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "epiwatch_aggregation_duration_seconds",
			Help:    "Duration of one full aggregation run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// Detection metrics
	AggregatesScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epiwatch_aggregates_scored_total",
			Help: "Total number of aggregates run through detection",
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epiwatch_anomalies_detected_total",
			Help: "Total number of flagged anomalies, by severity",
		},
		[]string{"severity"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "epiwatch_detection_duration_seconds",
			Help:    "Duration of one full detection run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Escalation metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epiwatch_alerts_created_total",
			Help: "Total number of alerts emitted, by severity",
		},
		[]string{"severity"},
	)

	EscalationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epiwatch_escalations_suppressed_total",
			Help: "Total number of anomalies suppressed before alerting, by gate",
		},
		[]string{"gate"}, // integrity | verification | confidence | dedup | error
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epiwatch_notifications_sent_total",
			Help: "Total number of alert notification deliveries, by outcome",
		},
		[]string{"status"}, // ok | error
	)

	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epiwatch_events_ingested_total",
			Help: "Total number of raw events accepted, by source",
		},
		[]string{"source"}, // hospital | social | environment
	)
)
