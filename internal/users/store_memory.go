package users

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/sentinel"
)

// InMemory is a Directory for development and tests.
type InMemory struct {
	mu     sync.RWMutex
	nextID id.UserID
	byID   map[id.UserID]*User
	byName map[string]id.UserID
}

// NewInMemory returns an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[id.UserID]*User),
		byName: make(map[string]id.UserID),
	}
}

// Create adds a user and assigns the next id. Usernames are unique.
func (s *InMemory) Create(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	if _, taken := s.byName[key]; taken {
		return nil, fmt.Errorf("username %q: %w", username, sentinel.ErrConflict)
	}
	s.nextID++
	u := &User{ID: s.nextID, Username: username, CreatedAt: time.Now()}
	s.byID[u.ID] = u
	s.byName[key] = u.ID
	return u, nil
}

func (s *InMemory) FindByID(_ context.Context, userID id.UserID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *u
	return &copied, nil
}
