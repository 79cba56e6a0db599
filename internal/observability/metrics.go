// Package observability provides Prometheus metrics for the service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transkriptor"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	SessionsStarted   *prometheus.CounterVec
	SessionsCompleted *prometheus.CounterVec
	SessionsFailed    *prometheus.CounterVec
	SessionDuration   *prometheus.HistogramVec

	EventsEmitted *prometheus.CounterVec

	LiveSessionsActive prometheus.Gauge
	LiveAudioBytes     prometheus.Counter
	LiveResultsServed  prometheus.Counter

	HistoryFallback prometheus.Gauge

	KafkaPublishTotal  *prometheus.CounterVec
	KafkaPublishErrors *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of transcription sessions started",
		}, []string{"model"}),
		SessionsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total number of transcription sessions that completed",
		}, []string{"model"}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of transcription sessions that failed",
		}, []string{"model"}),
		SessionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of transcription sessions",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"model"}),
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of recognition events emitted to clients",
		}, []string{"event_type"}),
		LiveSessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of currently registered live sessions",
		}),
		LiveAudioBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_audio_bytes_total",
			Help:      "Total audio bytes pushed into live sessions",
		}),
		LiveResultsServed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_results_served_total",
			Help:      "Total live results drained by clients",
		}),
		HistoryFallback: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_in_memory_fallback",
			Help:      "1 when history runs on the volatile in-memory store",
		}),
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic"}),
	}
}
