package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/transkriptor/backend/internal/observability"
	"github.com/transkriptor/backend/internal/publisher"
)

// KafkaSender writes completion events to one Kafka topic, keyed by session
// so per-session ordering survives partitioning. Without brokers it runs in
// log-only mode.
type KafkaSender struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	metrics *observability.Metrics
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func NewKafkaSender(cfg KafkaConfig, metrics *observability.Metrics) *KafkaSender {
	if len(cfg.Brokers) == 0 {
		slog.Info("kafka not configured, completion events are log-only")
		return &KafkaSender{topic: cfg.Topic, metrics: metrics}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	slog.Info("kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &KafkaSender{writer: writer, topic: cfg.Topic, enabled: true, metrics: metrics}
}

func (s *KafkaSender) Publish(ctx context.Context, ev publisher.CompletionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	slog.Debug("publishing completion event", "topic", s.topic, "session_id", ev.SessionID, "status", ev.Status)

	if !s.enabled {
		return nil
	}
	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("transcription.completed")},
		},
	}
	err = s.writer.WriteMessages(ctx, msg)
	s.metrics.KafkaPublishTotal.WithLabelValues(s.topic).Inc()
	if err != nil {
		s.metrics.KafkaPublishErrors.WithLabelValues(s.topic).Inc()
		slog.Error("failed to publish completion event", "topic", s.topic, "error", err)
		return err
	}
	return nil
}

func (s *KafkaSender) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
