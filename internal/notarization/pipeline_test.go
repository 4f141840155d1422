package notarization_test

//go:generate mockgen -source=../ledger/ledger.go -destination=../ledger/mocks/mocks.go -package=mocks Ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"chainrelay/internal/ledger"
	"chainrelay/internal/ledger/mocks"
	"chainrelay/internal/message"
	"chainrelay/internal/notarization"
	id "chainrelay/pkg/domain"
)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []notarization.Event
	onEvent func(notarization.Event)
}

func (p *recordingPublisher) Publish(_ context.Context, e notarization.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	hook := p.onEvent
	p.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	return nil
}

func (p *recordingPublisher) ofType(t notarization.EventType) []notarization.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notarization.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type PipelineSuite struct {
	suite.Suite
	store     *message.InMemory
	publisher *recordingPublisher
	logger    *slog.Logger
	cfg       notarization.Config
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.store = message.NewInMemory()
	s.publisher = &recordingPublisher{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.cfg = notarization.Config{
		Workers:             2,
		QueueSize:           16,
		MaxAttempts:         3,
		BaseBackoff:         20 * time.Millisecond,
		MaxBackoff:          time.Second,
		ConfirmPollInterval: 5 * time.Millisecond,
		ConfirmTimeout:      200 * time.Millisecond,
	}
}

func (s *PipelineSuite) persist(hash id.MessageHash) *message.Message {
	msg := &message.Message{SenderID: 1, ReceiverID: 2, Payload: "ciphertext", Hash: hash}
	_, err := s.store.Persist(context.Background(), msg)
	s.Require().NoError(err)
	return msg
}

func (s *PipelineSuite) build(l ledger.Ledger) *notarization.Pipeline {
	return notarization.New(s.store, l, s.logger, s.cfg, notarization.WithPublisher(s.publisher))
}

// start runs the pipeline until the test ends.
func (s *PipelineSuite) start(l ledger.Ledger) *notarization.Pipeline {
	return s.run(s.build(l))
}

func (s *PipelineSuite) run(p *notarization.Pipeline) *notarization.Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	s.T().Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func (s *PipelineSuite) drain(p *notarization.Pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(p.Drain(ctx))
}

func (s *PipelineSuite) state(msgID id.MessageID) *message.Message {
	m, err := s.store.FindByID(context.Background(), msgID)
	s.Require().NoError(err)
	return m
}

func (s *PipelineSuite) TestConfirmsSubmittedHash() {
	l := ledger.NewMemory(ledger.WithConfirmAfter(2))
	p := s.start(l)
	msg := s.persist("0xabc123")

	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(message.StateConfirmed, got.State)
	s.NotEmpty(got.TxRef)
	s.Equal(1, got.Attempts)
	s.Equal(1, l.RegisterCalls())
	s.Len(s.publisher.ofType(notarization.EventSubmitted), 1)
	s.Len(s.publisher.ofType(notarization.EventConfirmed), 1)

	status := p.Status()
	s.Equal(int64(1), status.Confirmed)
	s.Equal(0, status.Tracked)
}

func (s *PipelineSuite) TestDoubleSubmitRegistersOnce() {
	l := ledger.NewMemory()
	p := s.build(l)
	msg := s.persist("0x01")

	job := notarization.Job{MessageID: msg.ID, Hash: msg.Hash}
	s.Require().NoError(p.Enqueue(context.Background(), job))
	s.ErrorIs(p.Enqueue(context.Background(), job), notarization.ErrAlreadyQueued)
	s.run(p)
	s.drain(p)

	s.Require().NoError(p.Enqueue(context.Background(), job), "re-enqueue after confirmation")
	s.drain(p)

	s.Equal(1, l.RegisterCalls())
	s.Equal(message.StateConfirmed, s.state(msg.ID).State)
}

func (s *PipelineSuite) TestAlreadyRegisteredHashConfirmsWithoutSubmission() {
	l := ledger.NewMemory()
	l.Preregister("0xabc123")
	p := s.start(l)
	msg := s.persist("0xabc123")

	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))
	s.drain(p)

	s.Equal(message.StateConfirmed, s.state(msg.ID).State)
	s.Equal(0, l.RegisterCalls())
	s.Empty(s.publisher.ofType(notarization.EventSubmitted))
}

func (s *PipelineSuite) TestRevertedByConcurrentRegistrationStillConfirms() {
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	msg := s.persist("0x02")

	gomock.InOrder(
		l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(false, nil),
		l.EXPECT().RegisterHash(gomock.Any(), msg.Hash).Return("0xtx", nil),
		l.EXPECT().TransactionReceipt(gomock.Any(), "0xtx").Return(&ledger.Receipt{TxRef: "0xtx", Status: ledger.ReceiptReverted}, nil),
		l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(true, nil),
	)

	p := s.start(l)
	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(message.StateConfirmed, got.State)
	s.Empty(got.TxRef, "a reverted transaction is not the message's proof")
}

func (s *PipelineSuite) TestRevertedWithoutRegistrationResubmits() {
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	msg := s.persist("0x0b")

	gomock.InOrder(
		l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(false, nil),
		l.EXPECT().RegisterHash(gomock.Any(), msg.Hash).Return("0xbad", nil),
		l.EXPECT().TransactionReceipt(gomock.Any(), "0xbad").Return(&ledger.Receipt{TxRef: "0xbad", Status: ledger.ReceiptReverted}, nil),
		l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(false, nil),
		// The retry starts from scratch instead of polling the reverted ref.
		l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(false, nil),
		l.EXPECT().RegisterHash(gomock.Any(), msg.Hash).Return("0xgood", nil),
		l.EXPECT().TransactionReceipt(gomock.Any(), "0xgood").Return(&ledger.Receipt{TxRef: "0xgood", Status: ledger.ReceiptSuccess}, nil),
	)

	p := s.start(l)
	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(message.StateConfirmed, got.State)
	s.Equal("0xgood", got.TxRef)
	s.Equal(2, got.Attempts)
}

func (s *PipelineSuite) TestRecoveredTransactionIsPolledBeforeResubmitting() {
	ctx := context.Background()
	l := ledger.NewMemory(ledger.WithConfirmAfter(1))
	msg := s.persist("0x0c")
	txRef, err := l.RegisterHash(ctx, msg.Hash)
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpdateNotarization(ctx, msg.ID, message.StateSubmitted, txRef))
	s.Require().NoError(s.store.RecordAttempt(ctx, msg.ID, 1, ""))

	p := s.start(l)
	s.Require().NoError(p.Enqueue(ctx, notarization.Job{MessageID: msg.ID, Hash: msg.Hash, Attempt: 1, TxRef: txRef}))
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(message.StateConfirmed, got.State)
	s.Equal(txRef, got.TxRef)
	s.Equal(1, l.RegisterCalls(), "the earlier transaction was enough")
	s.Empty(s.publisher.ofType(notarization.EventSubmitted))
}

func (s *PipelineSuite) TestUnknownRecoveredTransactionIsReplaced() {
	ctx := context.Background()
	l := ledger.NewMemory()
	msg := s.persist("0x0d")
	s.Require().NoError(s.store.UpdateNotarization(ctx, msg.ID, message.StateSubmitted, "0xdropped"))

	p := s.start(l)
	s.Require().NoError(p.Enqueue(ctx, notarization.Job{MessageID: msg.ID, Hash: msg.Hash, TxRef: "0xdropped"}))
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(message.StateConfirmed, got.State)
	s.NotEqual("0xdropped", got.TxRef)
	s.NotEmpty(got.TxRef)
	s.Equal(1, l.RegisterCalls())
}

func (s *PipelineSuite) TestLaneHeldUntilReceiptSettles() {
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	first := s.persist("0x0e")
	second := s.persist("0x0f")

	var inFlight, peak atomic.Int32
	l.EXPECT().VerifyHash(gomock.Any(), gomock.Any()).Return(false, nil).Times(2)
	l.EXPECT().RegisterHash(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, hash id.MessageHash) (string, error) {
			n := inFlight.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			return "0xtx-" + string(hash), nil
		}).Times(2)
	l.EXPECT().TransactionReceipt(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, txRef string) (*ledger.Receipt, error) {
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &ledger.Receipt{TxRef: txRef, Status: ledger.ReceiptSuccess}, nil
		}).Times(2)

	p := s.start(l)
	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: first.ID, Hash: first.Hash}))
	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: second.ID, Hash: second.Hash}))
	s.drain(p)

	s.Equal(int32(1), peak.Load(), "one transaction in flight per signing key")
	s.Equal(message.StateConfirmed, s.state(first.ID).State)
	s.Equal(message.StateConfirmed, s.state(second.ID).State)
}

func (s *PipelineSuite) TestFailedMessageCanBeRequeuedRightAway() {
	ctx := context.Background()
	l := ledger.NewMemory()
	l.FailNext(ledger.OpRegister, ledger.Permanent("register", errors.New("execution reverted: paused")))
	msg := s.persist("0x10")

	var p *notarization.Pipeline
	requeued := make(chan error, 1)
	s.publisher.onEvent = func(e notarization.Event) {
		if e.Type != notarization.EventFailed {
			return
		}
		if err := s.store.ResetNotarization(ctx, e.MessageID); err != nil {
			requeued <- err
			return
		}
		requeued <- p.Enqueue(ctx, notarization.Job{MessageID: e.MessageID, Hash: e.Hash})
	}
	p = s.start(l)
	s.Require().NoError(p.Enqueue(ctx, notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))

	select {
	case err := <-requeued:
		s.Require().NoError(err, "failure releases the message before it is announced")
	case <-time.After(5 * time.Second):
		s.FailNow("no failure event")
	}
	s.Eventually(func() bool {
		return s.state(msg.ID).State == message.StateConfirmed
	}, 5*time.Second, 10*time.Millisecond)
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(1, got.Attempts, "the fresh budget is not overwritten by the failed run")
	s.Empty(got.LastError)
}

func (s *PipelineSuite) TestTransientFailuresBackOffThenFail() {
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	msg := s.persist("0x03")

	var mu sync.Mutex
	var attemptTimes []time.Time
	l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(false, nil).Times(3)
	l.EXPECT().RegisterHash(gomock.Any(), msg.Hash).
		DoAndReturn(func(context.Context, id.MessageHash) (string, error) {
			mu.Lock()
			attemptTimes = append(attemptTimes, time.Now())
			mu.Unlock()
			return "", ledger.Transient("register", errors.New("connection refused"))
		}).Times(3)

	p := s.start(l)
	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(message.StateFailed, got.State)
	s.Equal(3, got.Attempts)
	s.Contains(got.LastError, "connection refused")

	retries := s.publisher.ofType(notarization.EventRetryScheduled)
	s.Require().Len(retries, 2)
	s.Less(retries[0].RetryIn, retries[1].RetryIn, "delays strictly increase")

	s.Require().Len(attemptTimes, 3)
	s.GreaterOrEqual(attemptTimes[1].Sub(attemptTimes[0]), retries[0].RetryIn)
	s.GreaterOrEqual(attemptTimes[2].Sub(attemptTimes[1]), retries[1].RetryIn)
	s.Len(s.publisher.ofType(notarization.EventFailed), 1)
}

func (s *PipelineSuite) TestPermanentFailureFailsImmediately() {
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	msg := s.persist("0x04")

	l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(false, nil)
	l.EXPECT().RegisterHash(gomock.Any(), msg.Hash).Return("", ledger.Permanent("register", errors.New("execution reverted: paused")))

	p := s.start(l)
	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(message.StateFailed, got.State)
	s.Equal(1, got.Attempts)
	s.Empty(s.publisher.ofType(notarization.EventRetryScheduled))
}

func (s *PipelineSuite) TestConfirmationTimeoutRetriesAndRecovers() {
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	msg := s.persist("0x05")
	s.cfg.ConfirmTimeout = 30 * time.Millisecond

	l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(false, nil).Times(1)
	l.EXPECT().RegisterHash(gomock.Any(), msg.Hash).Return("0xslow", nil).Times(1)
	// Mined while we were backing off: the retry finds the same transaction.
	l.EXPECT().TransactionReceipt(gomock.Any(), "0xslow").
		DoAndReturn(func(context.Context, string) (*ledger.Receipt, error) {
			if len(s.publisher.ofType(notarization.EventRetryScheduled)) == 0 {
				return nil, ledger.ErrReceiptPending
			}
			return &ledger.Receipt{TxRef: "0xslow", Status: ledger.ReceiptSuccess}, nil
		}).MinTimes(2)

	p := s.start(l)
	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))
	s.drain(p)

	got := s.state(msg.ID)
	s.Equal(message.StateConfirmed, got.State)
	s.Equal("0xslow", got.TxRef)
	s.Equal(2, got.Attempts)
	s.Len(s.publisher.ofType(notarization.EventSubmitted), 1)
}

func (s *PipelineSuite) TestWorkerSurvivesPanic() {
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	msg := s.persist("0x06")

	gomock.InOrder(
		l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).DoAndReturn(func(context.Context, id.MessageHash) (bool, error) {
			panic("decoder bug")
		}),
		l.EXPECT().VerifyHash(gomock.Any(), msg.Hash).Return(true, nil),
	)

	p := s.start(l)
	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: msg.ID, Hash: msg.Hash}))
	s.drain(p)

	s.Equal(message.StateConfirmed, s.state(msg.ID).State)
}

func (s *PipelineSuite) TestEnqueueReportsFullQueue() {
	s.cfg.QueueSize = 1
	p := notarization.New(s.store, ledger.NewMemory(), s.logger, s.cfg)
	first := s.persist("0x07")
	second := s.persist("0x08")

	s.Require().NoError(p.Enqueue(context.Background(), notarization.Job{MessageID: first.ID, Hash: first.Hash}))
	err := p.Enqueue(context.Background(), notarization.Job{MessageID: second.ID, Hash: second.Hash})
	s.ErrorIs(err, notarization.ErrQueueFull)
	s.Equal(1, p.Status().QueueDepth)
	s.Equal(message.StatePending, s.state(second.ID).State, "overflowed message stays pending for the sweep")
}
