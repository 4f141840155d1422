// Package message holds persisted chat messages and their notarization state.
package message

import (
	"context"
	"fmt"
	"time"

	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/sentinel"
)

// NotarizationState tracks a message through the notarization pipeline.
type NotarizationState string

const (
	StatePending   NotarizationState = "pending"
	StateSubmitted NotarizationState = "submitted"
	StateConfirmed NotarizationState = "confirmed"
	StateFailed    NotarizationState = "failed"
)

// IsValid reports whether s is a known state.
func (s NotarizationState) IsValid() bool {
	switch s {
	case StatePending, StateSubmitted, StateConfirmed, StateFailed:
		return true
	}
	return false
}

// IsOpen reports whether the pipeline still owes work for this state.
func (s NotarizationState) IsOpen() bool {
	return s == StatePending || s == StateSubmitted
}

var transitions = map[NotarizationState][]NotarizationState{
	StatePending:   {StateSubmitted, StateConfirmed, StateFailed},
	StateSubmitted: {StatePending, StateConfirmed, StateFailed},
	// Leaving failed goes through ResetNotarization, which also clears the
	// attempt budget.
	StateFailed:    nil,
	StateConfirmed: nil,
}

// CanTransition reports whether a message may move from one state to another.
// Writing the current state again is always allowed so repeated confirmations
// stay idempotent.
func CanTransition(from, to NotarizationState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrStoreUnavailable is returned when the backing store cannot be reached.
var ErrStoreUnavailable = fmt.Errorf("message store: %w", sentinel.ErrUnavailable)

// Message is one relayed chat message. Payload is opaque ciphertext and is
// never decoded by the relay.
type Message struct {
	ID         id.MessageID
	SenderID   id.UserID
	ReceiverID id.UserID
	Payload    string
	Hash       id.MessageHash
	State      NotarizationState
	TxRef      string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

// IsParticipant reports whether userID sent or received the message.
func (m *Message) IsParticipant(userID id.UserID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Store persists messages. Implementations guarantee read-your-writes for
// every caller once a method returns.
type Store interface {
	// Persist assigns the message id and creation time and stores it in the
	// pending state.
	Persist(ctx context.Context, msg *Message) (id.MessageID, error)
	FindByID(ctx context.Context, messageID id.MessageID) (*Message, error)
	// History returns up to limit messages exchanged between two users in
	// either direction, ascending by creation time. offset skips that many of
	// the newest messages, so offset 0 is the latest page.
	History(ctx context.Context, userID, counterpartyID id.UserID, limit, offset int) ([]*Message, error)
	// UpdateNotarization moves a message to state. An empty txRef keeps the
	// stored reference.
	UpdateNotarization(ctx context.Context, messageID id.MessageID, state NotarizationState, txRef string) error
	// ResetNotarization moves a failed message back to pending and clears its
	// attempt count in one step. Other states return sentinel.ErrInvalidState.
	ResetNotarization(ctx context.Context, messageID id.MessageID) error
	// ClearTxRef drops the stored transaction reference, e.g. after that
	// transaction reverted. A confirmed message keeps its reference and
	// returns sentinel.ErrInvalidState.
	ClearTxRef(ctx context.Context, messageID id.MessageID) error
	RecordAttempt(ctx context.Context, messageID id.MessageID, attempts int, lastErr string) error
	// ListByState returns up to limit messages in any of states, oldest first.
	ListByState(ctx context.Context, states []NotarizationState, limit int) ([]*Message, error)
}
