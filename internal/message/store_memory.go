package message

import (
	"context"
	"fmt"
	"slices"
	"sync"

	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/sentinel"
	"chainrelay/pkg/requestcontext"
)

// InMemory is an append-only Store guarded by one lock, so ids and creation
// order always agree.
type InMemory struct {
	mu       sync.RWMutex
	messages []*Message
	index    map[id.MessageID]int
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{index: make(map[id.MessageID]int)}
}

func (s *InMemory) Persist(ctx context.Context, msg *Message) (id.MessageID, error) {
	if msg == nil {
		return 0, fmt.Errorf("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	stored.ID = id.MessageID(len(s.messages) + 1)
	stored.State = StatePending
	stored.CreatedAt = requestcontext.Now(ctx)
	if n := len(s.messages); n > 0 && stored.CreatedAt.Before(s.messages[n-1].CreatedAt) {
		// Keep history ordering monotonic when callers inject clocks.
		stored.CreatedAt = s.messages[n-1].CreatedAt
	}
	s.messages = append(s.messages, &stored)
	s.index[stored.ID] = len(s.messages) - 1

	msg.ID = stored.ID
	msg.State = stored.State
	msg.CreatedAt = stored.CreatedAt
	return stored.ID, nil
}

func (s *InMemory) FindByID(_ context.Context, messageID id.MessageID) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[messageID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.messages[i]
	return &copied, nil
}

func (s *InMemory) History(_ context.Context, userID, counterpartyID id.UserID, limit, offset int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var page []*Message
	skipped := 0
	for i := len(s.messages) - 1; i >= 0 && len(page) < limit; i-- {
		m := s.messages[i]
		if !isPair(m, userID, counterpartyID) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		copied := *m
		page = append(page, &copied)
	}
	slices.Reverse(page)
	return page, nil
}

func isPair(m *Message, a, b id.UserID) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

func (s *InMemory) UpdateNotarization(_ context.Context, messageID id.MessageID, state NotarizationState, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[messageID]
	if !ok {
		return sentinel.ErrNotFound
	}
	m := s.messages[i]
	if !CanTransition(m.State, state) {
		return fmt.Errorf("message %d %s -> %s: %w", messageID, m.State, state, sentinel.ErrInvalidState)
	}
	m.State = state
	if txRef != "" {
		m.TxRef = txRef
	}
	return nil
}

func (s *InMemory) ResetNotarization(_ context.Context, messageID id.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[messageID]
	if !ok {
		return sentinel.ErrNotFound
	}
	m := s.messages[i]
	if m.State != StateFailed {
		return fmt.Errorf("message %d is %s, not failed: %w", messageID, m.State, sentinel.ErrInvalidState)
	}
	m.State = StatePending
	m.Attempts = 0
	m.LastError = ""
	return nil
}

func (s *InMemory) ClearTxRef(_ context.Context, messageID id.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[messageID]
	if !ok {
		return sentinel.ErrNotFound
	}
	m := s.messages[i]
	if m.State == StateConfirmed {
		return fmt.Errorf("message %d is confirmed: %w", messageID, sentinel.ErrInvalidState)
	}
	m.TxRef = ""
	return nil
}

func (s *InMemory) RecordAttempt(_ context.Context, messageID id.MessageID, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[messageID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.messages[i].Attempts = attempts
	s.messages[i].LastError = lastErr
	return nil
}

func (s *InMemory) ListByState(_ context.Context, states []NotarizationState, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.messages {
		if len(out) >= limit {
			break
		}
		if slices.Contains(states, m.State) {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}
