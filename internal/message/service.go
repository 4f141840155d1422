package message

import (
	"context"
	"errors"

	"chainrelay/internal/users"
	id "chainrelay/pkg/domain"
	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/sentinel"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Service serves conversation history to participants.
type Service struct {
	store Store
	users users.Directory
}

// NewService creates the history service.
func NewService(store Store, directory users.Directory) *Service {
	return &Service{store: store, users: directory}
}

// History returns the conversation between requester and counterparty,
// oldest first. A zero limit selects DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, requester, counterparty id.UserID, limit, offset int) ([]*Message, error) {
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit < 0 || limit > MaxHistoryLimit {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "limit must be between 1 and 200")
	}
	if offset < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "offset must not be negative")
	}
	if _, err := s.users.FindByID(ctx, counterparty); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not resolve user")
	}

	msgs, err := s.store.History(ctx, requester, counterparty, limit, offset)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "message store unavailable")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history")
	}
	return msgs, nil
}
