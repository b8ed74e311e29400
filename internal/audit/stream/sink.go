// Package stream publishes durable audit records to Kafka for downstream
// consumers. Publishing is fire-and-forget: a failed produce is logged and
// counted, never surfaced to the audit write path.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"tourops/internal/audit/metrics"
	"tourops/internal/audit/models"
)

// Producer is the slice of *kgo.Client the sink uses.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

type Sink struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Sink)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sink) {
		s.metrics = m
	}
}

func NewSink(producer Producer, topic string, opts ...Option) *Sink {
	s := &Sink{producer: producer, topic: topic}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "audit_stream")
	return s
}

// Publish produces the record keyed by order id so one order's history stays
// ordered within a partition.
func (s *Sink) Publish(ctx context.Context, r *models.Record) {
	value, err := json.Marshal(r)
	if err != nil {
		s.failed(ctx, r, err)
		return
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(r.OrderID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(r.Action)},
			{Key: "entity_kind", Value: []byte(r.EntityKind)},
		},
		Timestamp: r.CreatedAt,
	}
	s.producer.Produce(context.WithoutCancel(ctx), rec, func(_ *kgo.Record, err error) {
		if err != nil {
			s.failed(ctx, r, err)
		}
	})
}

func (s *Sink) failed(ctx context.Context, r *models.Record, err error) {
	s.metrics.IncrementStreamFailure()
	s.logger.WarnContext(ctx, "audit record not published",
		"record_id", r.ID,
		"order_id", r.OrderID,
		"topic", s.topic,
		"error", err,
	)
}

// NewClient builds a producer client for the given brokers.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates the topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}
