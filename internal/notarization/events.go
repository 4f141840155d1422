package notarization

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chainrelay/internal/platform/kafka"
	id "chainrelay/pkg/domain"
)

// EventType names a pipeline transition.
type EventType string

const (
	EventSubmitted      EventType = "notarization.submitted"
	EventConfirmed      EventType = "notarization.confirmed"
	EventRetryScheduled EventType = "notarization.retry_scheduled"
	EventFailed         EventType = "notarization.failed"
)

// Event describes one transition, published for downstream consumers such
// as client push or audit.
type Event struct {
	ID        string         `json:"event_id"`
	Type      EventType      `json:"type"`
	MessageID id.MessageID   `json:"message_id"`
	Hash      id.MessageHash `json:"message_hash"`
	TxRef     string         `json:"tx_ref,omitempty"`
	Attempt   int            `json:"attempt"`
	Error     string         `json:"error,omitempty"`
	RetryIn   time.Duration  `json:"retry_in_ns,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher emits pipeline events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Producer is the Kafka producer surface the publisher needs.
type Producer interface {
	ProduceAsync(ctx context.Context, msg kafka.Message, onDone func(error))
}

// KafkaPublisher writes events to a topic keyed by message id, so every
// transition of a message lands on the same partition in order. Records are
// buffered by the client; delivery failures are logged, never returned, so a
// slow broker cannot stall a pipeline worker.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher creates a publisher for topic.
func NewKafkaPublisher(producer Producer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish hands the event to the producer and returns without waiting for
// the broker. Only encoding errors are reported.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notarization event: %w", err)
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.MessageID.String()),
		Value: value,
		Headers: map[string]string{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		},
	}
	// Delivery outlives the attempt that produced the event.
	p.producer.ProduceAsync(context.WithoutCancel(ctx), msg, func(err error) {
		if err == nil {
			return
		}
		p.logger.Warn("notarization event not delivered",
			"event_id", event.ID,
			"event_type", event.Type,
			"message_id", event.MessageID,
			"error", err,
		)
	})
	return nil
}
