// Package registry tracks which users are reachable and routes frames to
// their live sessions.
package registry

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	id "chainrelay/pkg/domain"
)

// Registry maps users to their live sessions. A user may hold several
// sessions at once (multiple devices); frames fan out to all of them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[id.UserID]map[string]*Session
	total    int

	notifier PresenceNotifier
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotifier sets the presence notifier (default: NopNotifier).
func WithNotifier(n PresenceNotifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty registry.
func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[id.UserID]map[string]*Session),
		notifier: NopNotifier{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a live session for userID.
func (r *Registry) Register(ctx context.Context, userID id.UserID, s *Session) {
	r.mu.Lock()
	byID, ok := r.sessions[userID]
	if !ok {
		byID = make(map[string]*Session)
		r.sessions[userID] = byID
	}
	if _, dup := byID[s.ID]; !dup {
		r.total++
	}
	byID[s.ID] = s
	cameOnline := !ok
	r.metrics.setCounts(len(r.sessions), r.total)
	r.mu.Unlock()

	if cameOnline {
		r.notify(ctx, userID, true)
	}
}

// Unregister removes a session. Removing an unknown session is a no-op.
func (r *Registry) Unregister(ctx context.Context, userID id.UserID, s *Session) {
	r.mu.Lock()
	byID, ok := r.sessions[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, present := byID[s.ID]; !present {
		r.mu.Unlock()
		return
	}
	delete(byID, s.ID)
	r.total--
	wentOffline := len(byID) == 0
	if wentOffline {
		delete(r.sessions, userID)
	}
	r.metrics.setCounts(len(r.sessions), r.total)
	r.mu.Unlock()

	if wentOffline {
		r.notify(ctx, userID, false)
	}
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(userID id.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// ListOnline returns the online users in ascending id order.
func (r *Registry) ListOnline() []id.UserID {
	r.mu.RLock()
	out := make([]id.UserID, 0, len(r.sessions))
	for userID := range r.sessions {
		out = append(out, userID)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// SessionCount returns the number of live sessions across all users.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Send delivers frame to every live session of userID and reports whether
// at least one accepted it. A session that refuses a frame is unregistered.
func (r *Registry) Send(ctx context.Context, userID id.UserID, frame []byte) bool {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions[userID]))
	for _, s := range r.sessions[userID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	accepted := false
	for _, s := range targets {
		if err := s.Sender.SendFrame(frame); err != nil {
			r.metrics.incSendFailure()
			r.logger.WarnContext(ctx, "dropping session after failed send",
				"user_id", userID,
				"session_id", s.ID,
				"error", err,
			)
			r.Unregister(ctx, userID, s)
			continue
		}
		r.metrics.incFramesSent()
		accepted = true
	}
	if !accepted {
		r.metrics.incDeliveryMiss()
	}
	return accepted
}

func (r *Registry) notify(ctx context.Context, userID id.UserID, online bool) {
	if err := r.notifier.PresenceChanged(ctx, userID, online); err != nil {
		r.logger.WarnContext(ctx, "presence notification failed",
			"user_id", userID,
			"online", online,
			"error", err,
		)
	}
}
