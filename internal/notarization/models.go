// Package notarization anchors message digests on the ledger in the
// background and drives each message through
// pending -> submitted -> confirmed | failed.
package notarization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainrelay/internal/message"
	"chainrelay/internal/platform/config"
	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/sentinel"
)

// ErrQueueFull is returned by Enqueue when the bounded queue is saturated.
var ErrQueueFull = fmt.Errorf("notarization queue full: %w", sentinel.ErrUnavailable)

// ErrAlreadyQueued is returned by Enqueue for a message the pipeline is
// already working on.
var ErrAlreadyQueued = errors.New("message already queued for notarization")

// Job is the pipeline's working record for one message. It lives only in
// memory; the message store holds the durable state.
type Job struct {
	MessageID   id.MessageID
	Hash        id.MessageHash
	Attempt     int
	NextRetryAt time.Time
	LastError   string
	TxRef       string
	SubmittedAt time.Time
}

// MessageStore is the slice of the message store the pipeline writes to.
type MessageStore interface {
	FindByID(ctx context.Context, messageID id.MessageID) (*message.Message, error)
	UpdateNotarization(ctx context.Context, messageID id.MessageID, state message.NotarizationState, txRef string) error
	ResetNotarization(ctx context.Context, messageID id.MessageID) error
	ClearTxRef(ctx context.Context, messageID id.MessageID) error
	RecordAttempt(ctx context.Context, messageID id.MessageID, attempts int, lastErr string) error
	ListByState(ctx context.Context, states []message.NotarizationState, limit int) ([]*message.Message, error)
}

// Config tunes the pipeline.
type Config struct {
	Workers             int
	QueueSize           int
	MaxAttempts         int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		QueueSize:           1024,
		MaxAttempts:         5,
		BaseBackoff:         2 * time.Second,
		MaxBackoff:          2 * time.Minute,
		ConfirmPollInterval: 2 * time.Second,
		ConfirmTimeout:      2 * time.Minute,
	}
}

// ConfigFrom maps process configuration onto pipeline settings.
func ConfigFrom(c config.Pipeline) Config {
	return Config{
		Workers:             c.Workers,
		QueueSize:           c.QueueSize,
		MaxAttempts:         c.MaxAttempts,
		BaseBackoff:         c.BaseBackoff,
		MaxBackoff:          c.MaxBackoff,
		ConfirmPollInterval: c.ConfirmPollInterval,
		ConfirmTimeout:      c.ConfirmTimeout,
	}
}

// Status is the operator view of the pipeline.
type Status struct {
	Workers          int   `json:"workers"`
	QueueDepth       int   `json:"queue_depth"`
	QueueCapacity    int   `json:"queue_capacity"`
	InFlight         int   `json:"in_flight"`
	ScheduledRetries int   `json:"scheduled_retries"`
	Tracked          int   `json:"tracked"`
	Submitted        int64 `json:"submitted_total"`
	Confirmed        int64 `json:"confirmed_total"`
	Failed           int64 `json:"failed_total"`
	Retries          int64 `json:"retries_total"`
}
