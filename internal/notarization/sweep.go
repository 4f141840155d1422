package notarization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chainrelay/internal/message"
)

// Enqueuer accepts notarization jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Sweeper re-enqueues messages the pipeline still owes work for: messages
// left pending after a queue overflow and messages interrupted by a restart.
type Sweeper struct {
	store    MessageStore
	enqueuer Enqueuer
	batch    int
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that loads up to batch messages per pass.
func NewSweeper(store MessageStore, enqueuer Enqueuer, batch int, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, enqueuer: enqueuer, batch: batch, logger: logger}
}

// Sweep enqueues one batch of open messages and returns how many were handed
// to the pipeline. Messages the pipeline already holds are skipped; the pass
// stops early when the queue fills up.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	open, err := s.store.ListByState(ctx, []message.NotarizationState{message.StatePending, message.StateSubmitted}, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list open notarizations: %w", err)
	}
	enqueued := 0
	for _, m := range open {
		err := s.enqueuer.Enqueue(ctx, Job{
			MessageID: m.ID,
			Hash:      m.Hash,
			Attempt:   m.Attempts,
			TxRef:     m.TxRef,
		})
		if errors.Is(err, ErrQueueFull) {
			break
		}
		if errors.Is(err, ErrAlreadyQueued) {
			continue
		}
		if err != nil {
			return enqueued, err
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.InfoContext(ctx, "recovery sweep enqueued messages",
			"count", enqueued,
			"open", len(open),
		)
	}
	return enqueued, nil
}

// Run sweeps once immediately and then every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "recovery sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
