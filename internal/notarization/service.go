package notarization

import (
	"context"
	"errors"

	"chainrelay/internal/message"
	id "chainrelay/pkg/domain"
	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/sentinel"
)

// Notarize outcomes.
const (
	ResultAlreadyNotarized = "already_notarized"
	ResultQueued           = "queued"
	ResultInProgress       = "in_progress"
)

// NotarizeResult answers a manual notarization request.
type NotarizeResult struct {
	MessageID id.MessageID              `json:"message_id"`
	Status    string                    `json:"status"`
	State     message.NotarizationState `json:"notarization_state"`
	TxRef     string                    `json:"blockchain_tx_hash,omitempty"`
}

// Service handles sender-initiated notarization requests.
type Service struct {
	store    MessageStore
	enqueuer Enqueuer
}

// NewService creates the manual notarization service.
func NewService(store MessageStore, enqueuer Enqueuer) *Service {
	return &Service{store: store, enqueuer: enqueuer}
}

// Notarize queues a message for notarization on behalf of its sender. A
// confirmed message returns its existing transaction; a failed one is reset
// to pending with a fresh attempt budget.
func (s *Service) Notarize(ctx context.Context, requester id.UserID, messageID id.MessageID) (*NotarizeResult, error) {
	msg, err := s.store.FindByID(ctx, messageID)
	if err != nil {
		return nil, translate(err)
	}
	if !msg.IsParticipant(requester) {
		return nil, dErrors.New(dErrors.CodeNotFound, "message not found")
	}
	if msg.SenderID != requester {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the sender can request notarization")
	}

	if msg.State == message.StateConfirmed {
		return &NotarizeResult{
			MessageID: msg.ID,
			Status:    ResultAlreadyNotarized,
			State:     msg.State,
			TxRef:     msg.TxRef,
		}, nil
	}

	attempts := msg.Attempts
	if msg.State == message.StateFailed {
		if err := s.store.ResetNotarization(ctx, msg.ID); err != nil {
			return nil, translate(err)
		}
		attempts = 0
	}

	err = s.enqueuer.Enqueue(ctx, Job{MessageID: msg.ID, Hash: msg.Hash, Attempt: attempts, TxRef: msg.TxRef})
	if errors.Is(err, ErrAlreadyQueued) {
		return &NotarizeResult{MessageID: msg.ID, Status: ResultInProgress, State: msg.State, TxRef: msg.TxRef}, nil
	}
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "notarization queue is full, try again later")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue notarization")
	}
	return &NotarizeResult{MessageID: msg.ID, Status: ResultQueued, State: message.StatePending, TxRef: msg.TxRef}, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "message not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, "message cannot be re-notarized")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "message store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load message")
	}
}
