package notarization

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"chainrelay/internal/ledger"
	"chainrelay/internal/message"
	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/sentinel"
)

// Pipeline runs a fixed pool of workers over a bounded queue. Failed attempts
// wait in a timer heap and are fed back into the queue when due.
type Pipeline struct {
	cfg       Config
	store     MessageStore
	ledger    ledger.Ledger
	lane      Lane
	publisher Publisher
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	queue chan *Job

	retryMu sync.Mutex
	retries retryHeap
	wake    chan struct{}

	trackMu sync.Mutex
	tracked map[id.MessageID]struct{}

	inFlight  atomic.Int64
	submitted atomic.Int64
	confirmed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLane sets the submission lane (default: LocalLane).
func WithLane(l Lane) Option {
	return func(p *Pipeline) { p.lane = l }
}

// WithPublisher sets the event publisher (default: NopPublisher).
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline. Call Run to start the workers; Enqueue may be
// called before Run.
func New(store MessageStore, l ledger.Ledger, logger *slog.Logger, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		ledger:    l,
		lane:      NewLocalLane(),
		publisher: NopPublisher{},
		logger:    logger,
		tracer:    otel.Tracer("chainrelay/notarization"),
		now:       time.Now,
		queue:     make(chan *Job, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		tracked:   make(map[id.MessageID]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue hands a job to the pipeline without blocking. A message that is
// already queued, in flight, or waiting for a retry is not queued twice and
// yields ErrAlreadyQueued. Returns ErrQueueFull when the queue is saturated.
func (p *Pipeline) Enqueue(ctx context.Context, job Job) error {
	if !p.track(job.MessageID) {
		return ErrAlreadyQueued
	}
	select {
	case p.queue <- &job:
		p.metrics.setQueueDepth(len(p.queue))
		return nil
	default:
		p.untrack(job.MessageID)
		p.metrics.incQueueOverflow()
		p.logger.WarnContext(ctx, "notarization queue full",
			"message_id", job.MessageID,
			"capacity", cap(p.queue),
		)
		return ErrQueueFull
	}
}

// Run starts the workers and the retry scheduler and blocks until ctx ends.
// Jobs interrupted by shutdown stay pending in the store for the recovery
// sweep.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(ctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		p.schedule(ctx)
		return nil
	})
	p.logger.InfoContext(ctx, "notarization pipeline started",
		"workers", p.cfg.Workers,
		"queue_size", p.cfg.QueueSize,
	)
	return g.Wait()
}

// Status reports queue and worker state.
func (p *Pipeline) Status() Status {
	p.retryMu.Lock()
	scheduled := p.retries.Len()
	p.retryMu.Unlock()
	p.trackMu.Lock()
	tracked := len(p.tracked)
	p.trackMu.Unlock()
	return Status{
		Workers:          p.cfg.Workers,
		QueueDepth:       len(p.queue),
		QueueCapacity:    cap(p.queue),
		InFlight:         int(p.inFlight.Load()),
		ScheduledRetries: scheduled,
		Tracked:          tracked,
		Submitted:        p.submitted.Load(),
		Confirmed:        p.confirmed.Load(),
		Failed:           p.failed.Load(),
		Retries:          p.retried.Load(),
	}
}

// Drain blocks until every tracked job reached a terminal state or ctx ends.
func (p *Pipeline) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.Status().Tracked == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) track(messageID id.MessageID) bool {
	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	if _, ok := p.tracked[messageID]; ok {
		return false
	}
	p.tracked[messageID] = struct{}{}
	return true
}

func (p *Pipeline) untrack(messageID id.MessageID) {
	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	delete(p.tracked, messageID)
}

func (p *Pipeline) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.metrics.setQueueDepth(len(p.queue))
			p.process(ctx, worker, job)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, worker int, job *Job) {
	p.inFlight.Add(1)
	p.metrics.addInFlight(1)
	defer func() {
		p.inFlight.Add(-1)
		p.metrics.addInFlight(-1)
	}()

	job.Attempt++
	ctx, span := p.tracer.Start(ctx, "notarization.attempt", trace.WithAttributes(
		attribute.Int64("message_id", int64(job.MessageID)),
		attribute.Int("attempt", job.Attempt),
		attribute.Int("worker", worker),
	))
	defer span.End()

	err := p.safeAttempt(ctx, job)
	if err == nil {
		p.untrack(job.MessageID)
		return
	}
	if ctx.Err() != nil {
		p.untrack(job.MessageID)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if !ledger.IsRetryable(err) || job.Attempt >= p.cfg.MaxAttempts {
		p.fail(ctx, job, err)
		return
	}
	p.retry(ctx, job, err)
}

func (p *Pipeline) safeAttempt(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notarization attempt panicked: %v", r)
		}
	}()
	return p.attempt(ctx, job)
}

// errNotMined marks a transaction that produced no receipt within
// ConfirmTimeout.
var errNotMined = errors.New("transaction not mined")

// attempt runs one submission cycle. The lane is held from submission until
// the receipt settles, so one signing key never has two transactions in
// flight. A transaction left over from an earlier attempt is polled before
// anything new is sent, and the ledger is asked before every submission so a
// digest that is already anchored is never registered twice.
func (p *Pipeline) attempt(ctx context.Context, job *Job) error {
	release, err := p.lane.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire submission lane: %w", err)
	}
	defer release()

	if job.TxRef != "" {
		txRef := job.TxRef
		receipt, err := p.pollReceipt(ctx, txRef)
		switch {
		case err == nil:
			return p.settle(ctx, job, txRef, receipt.Status)
		case errors.Is(err, errNotMined) || !ledger.IsRetryable(err):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WarnContext(ctx, "abandoning earlier transaction",
				"message_id", job.MessageID,
				"tx_ref", txRef,
				"error", err,
			)
			if err := p.dropTxRef(ctx, job); err != nil {
				return err
			}
		default:
			return err
		}
	}

	registered, err := p.ledger.VerifyHash(ctx, job.Hash)
	if err != nil {
		return err
	}
	if registered {
		return p.confirm(ctx, job, "")
	}

	txRef, err := p.submit(ctx, job)
	if errors.Is(err, ledger.ErrAlreadyRegistered) {
		return p.confirm(ctx, job, "")
	}
	if err != nil {
		return err
	}
	receipt, err := p.pollReceipt(ctx, txRef)
	if err != nil {
		return err
	}
	return p.settle(ctx, job, txRef, receipt.Status)
}

// submit sends the registration. The caller holds the lane.
func (p *Pipeline) submit(ctx context.Context, job *Job) (string, error) {
	txRef, err := p.ledger.RegisterHash(ctx, job.Hash)
	if err != nil {
		return "", err
	}

	job.TxRef = txRef
	job.SubmittedAt = p.now()
	p.submitted.Add(1)
	p.metrics.incTransition("submitted")
	if err := p.store.UpdateNotarization(ctx, job.MessageID, message.StateSubmitted, txRef); err != nil {
		p.logger.WarnContext(ctx, "failed to record submission",
			"message_id", job.MessageID,
			"tx_ref", txRef,
			"error", err,
		)
	}
	p.publish(ctx, Event{Type: EventSubmitted, TxRef: txRef}, job)
	return txRef, nil
}

// pollReceipt waits up to ConfirmTimeout for txRef to be mined. A timeout is
// reported as a transient error wrapping errNotMined.
func (p *Pipeline) pollReceipt(ctx context.Context, txRef string) (*ledger.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(p.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.ledger.TransactionReceipt(waitCtx, txRef)
		if err == nil {
			return receipt, nil
		}
		if !ledger.IsRetryable(err) {
			return nil, err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ledger.Transient("confirm",
				fmt.Errorf("%w: %s after %s", errNotMined, txRef, p.cfg.ConfirmTimeout))
		case <-ticker.C:
		}
	}
}

// settle records a mined transaction. A reverted one never becomes the
// message's proof: its ref is dropped, and the message is confirmed only if
// a concurrent registration of the same digest won.
func (p *Pipeline) settle(ctx context.Context, job *Job, txRef string, status ledger.ReceiptStatus) error {
	if status == ledger.ReceiptSuccess {
		return p.confirm(ctx, job, txRef)
	}
	if err := p.dropTxRef(ctx, job); err != nil {
		return err
	}
	registered, err := p.ledger.VerifyHash(ctx, job.Hash)
	if err == nil && registered {
		return p.confirm(ctx, job, "")
	}
	return ledger.Transient("confirm", fmt.Errorf("transaction %s reverted", txRef))
}

func (p *Pipeline) dropTxRef(ctx context.Context, job *Job) error {
	job.TxRef = ""
	err := p.store.ClearTxRef(ctx, job.MessageID)
	if err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
		return fmt.Errorf("clear tx ref: %w", err)
	}
	return nil
}

func (p *Pipeline) confirm(ctx context.Context, job *Job, txRef string) error {
	err := p.store.UpdateNotarization(ctx, job.MessageID, message.StateConfirmed, txRef)
	if err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
		return fmt.Errorf("record confirmation: %w", err)
	}
	if err := p.store.RecordAttempt(ctx, job.MessageID, job.Attempt, ""); err != nil {
		p.logger.WarnContext(ctx, "failed to record attempt", "message_id", job.MessageID, "error", err)
	}

	p.confirmed.Add(1)
	p.metrics.incTransition("confirmed")
	if !job.SubmittedAt.IsZero() {
		p.metrics.observeConfirmDelay(p.now().Sub(job.SubmittedAt).Seconds())
	}
	p.publish(ctx, Event{Type: EventConfirmed, TxRef: txRef}, job)
	p.logger.InfoContext(ctx, "message notarized",
		"message_id", job.MessageID,
		"tx_ref", txRef,
		"attempt", job.Attempt,
	)
	return nil
}

// fail records the terminal failure. The attempt count is written before the
// state flips, and the message is untracked right after, so a Notarize
// request that resets it afterwards starts from a clean slate.
func (p *Pipeline) fail(ctx context.Context, job *Job, cause error) {
	job.LastError = cause.Error()

	if err := p.store.RecordAttempt(ctx, job.MessageID, job.Attempt, job.LastError); err != nil {
		p.logger.WarnContext(ctx, "failed to record attempt", "message_id", job.MessageID, "error", err)
	}
	err := p.store.UpdateNotarization(ctx, job.MessageID, message.StateFailed, "")
	p.untrack(job.MessageID)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to record notarization failure",
			"message_id", job.MessageID,
			"error", err,
		)
		return
	}

	p.failed.Add(1)
	p.metrics.incTransition("failed")
	p.publish(ctx, Event{Type: EventFailed, Error: job.LastError}, job)
	p.logger.ErrorContext(ctx, "notarization failed",
		"message_id", job.MessageID,
		"attempt", job.Attempt,
		"error", cause,
	)
}

func (p *Pipeline) retry(ctx context.Context, job *Job, cause error) {
	delay := Backoff(job.Attempt, p.cfg.BaseBackoff, p.cfg.MaxBackoff)
	job.LastError = cause.Error()
	job.NextRetryAt = p.now().Add(delay)

	err := p.store.UpdateNotarization(ctx, job.MessageID, message.StatePending, "")
	if errors.Is(err, sentinel.ErrInvalidState) {
		// Settled elsewhere in the meantime.
		p.untrack(job.MessageID)
		return
	}
	if err != nil {
		p.logger.WarnContext(ctx, "failed to reset message to pending", "message_id", job.MessageID, "error", err)
	}
	if err := p.store.RecordAttempt(ctx, job.MessageID, job.Attempt, job.LastError); err != nil {
		p.logger.WarnContext(ctx, "failed to record attempt", "message_id", job.MessageID, "error", err)
	}

	p.retried.Add(1)
	p.metrics.incTransition("retry")
	p.publish(ctx, Event{Type: EventRetryScheduled, Error: job.LastError, RetryIn: delay}, job)
	p.logger.WarnContext(ctx, "notarization attempt failed, retrying",
		"message_id", job.MessageID,
		"attempt", job.Attempt,
		"retry_in", delay,
		"error", cause,
	)

	p.retryMu.Lock()
	heap.Push(&p.retries, job)
	p.retryMu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) publish(ctx context.Context, event Event, job *Job) {
	event.MessageID = job.MessageID
	event.Hash = job.Hash
	event.Attempt = job.Attempt
	event.At = p.now().UTC()
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "failed to publish notarization event",
			"message_id", job.MessageID,
			"event_type", event.Type,
			"error", err,
		)
	}
}

// schedule moves due retries back onto the queue.
func (p *Pipeline) schedule(ctx context.Context) {
	const idle = time.Hour
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		due, next := p.popDue()
		for _, job := range due {
			select {
			case p.queue <- job:
				p.metrics.setQueueDepth(len(p.queue))
			case <-ctx.Done():
				return
			}
		}

		wait := idle
		if !next.IsZero() {
			wait = max(next.Sub(p.now()), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

func (p *Pipeline) popDue() (due []*Job, next time.Time) {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	now := p.now()
	for p.retries.Len() > 0 {
		head := p.retries[0]
		if head.NextRetryAt.After(now) {
			return due, head.NextRetryAt
		}
		due = append(due, heap.Pop(&p.retries).(*Job))
	}
	return due, time.Time{}
}

// retryHeap orders jobs by NextRetryAt.
type retryHeap []*Job

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].NextRetryAt.Before(h[j].NextRetryAt) }
func (h retryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *retryHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
