// Package verification answers whether a message's digest is anchored on the
// ledger. It asks the ledger directly and never trusts cached pipeline state.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chainrelay/internal/ledger"
	"chainrelay/internal/message"
	id "chainrelay/pkg/domain"
	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/sentinel"
)

// MessageReader loads messages.
type MessageReader interface {
	FindByID(ctx context.Context, messageID id.MessageID) (*message.Message, error)
}

// Result is the verification outcome for one message.
type Result struct {
	MessageID   id.MessageID              `json:"message_id"`
	MessageHash id.MessageHash            `json:"message_hash"`
	Verified    bool                      `json:"verified"`
	State       message.NotarizationState `json:"notarization_state"`
	Timestamp   *time.Time                `json:"timestamp,omitempty"`
	Registrar   string                    `json:"registrar,omitempty"`
	TxRef       string                    `json:"blockchain_tx_hash,omitempty"`
}

// HashInfo is the ledger record for a message's digest.
type HashInfo struct {
	MessageID   id.MessageID   `json:"message_id"`
	MessageHash id.MessageHash `json:"message_hash"`
	Registered  bool           `json:"registered"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
	Registrar   string         `json:"registrar,omitempty"`
	TxRef       string         `json:"blockchain_tx_hash,omitempty"`
}

// Service verifies messages against the ledger.
type Service struct {
	messages MessageReader
	ledger   ledger.Ledger
	logger   *slog.Logger
}

// NewService creates a verification service.
func NewService(messages MessageReader, l ledger.Ledger, logger *slog.Logger) *Service {
	return &Service{messages: messages, ledger: l, logger: logger}
}

// Verify reports whether the message's digest is registered. Only the sender
// or receiver may ask; anyone else gets not_found so message ids do not leak.
func (s *Service) Verify(ctx context.Context, requester id.UserID, messageID id.MessageID) (*Result, error) {
	msg, info, err := s.lookup(ctx, requester, messageID)
	if err != nil {
		return nil, err
	}
	res := &Result{
		MessageID:   msg.ID,
		MessageHash: msg.Hash,
		Verified:    info.Registered,
		State:       msg.State,
		TxRef:       msg.TxRef,
	}
	if info.Registered {
		ts := info.Timestamp
		res.Timestamp = &ts
		res.Registrar = info.Registrar
	}
	return res, nil
}

// HashInfo returns the ledger record for the message's digest.
func (s *Service) HashInfo(ctx context.Context, requester id.UserID, messageID id.MessageID) (*HashInfo, error) {
	msg, info, err := s.lookup(ctx, requester, messageID)
	if err != nil {
		return nil, err
	}
	res := &HashInfo{
		MessageID:   msg.ID,
		MessageHash: msg.Hash,
		Registered:  info.Registered,
		TxRef:       msg.TxRef,
	}
	if info.Registered {
		ts := info.Timestamp
		res.Timestamp = &ts
		res.Registrar = info.Registrar
	}
	return res, nil
}

func (s *Service) lookup(ctx context.Context, requester id.UserID, messageID id.MessageID) (*message.Message, *ledger.HashInfo, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "message not found")
		}
		if errors.Is(err, sentinel.ErrUnavailable) {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "message store unavailable")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load message")
	}
	if !msg.IsParticipant(requester) {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "message not found")
	}

	info, err := s.ledger.GetHashInfo(ctx, msg.Hash)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger lookup failed",
			"message_id", msg.ID,
			"error", err,
		)
		if errors.Is(err, ledger.ErrPermanent) {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger rejected the lookup")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	}
	return msg, info, nil
}
