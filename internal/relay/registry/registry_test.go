package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "chainrelay/pkg/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *recordingSender) SendFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type presenceCall struct {
	userID id.UserID
	online bool
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (n *recordingNotifier) PresenceChanged(_ context.Context, userID id.UserID, online bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, presenceCall{userID, online})
	return nil
}

type RegistrySuite struct {
	suite.Suite
	ctx      context.Context
	notifier *recordingNotifier
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.notifier = &recordingNotifier{}
	s.registry = New(slog.New(slog.NewTextHandler(io.Discard, nil)), WithNotifier(s.notifier))
}

func newSession(userID id.UserID, sessionID string, sender FrameSender) *Session {
	return &Session{ID: sessionID, UserID: userID, ConnectedAt: time.Now(), Sender: sender}
}

func (s *RegistrySuite) TestRegisterAndUnregister() {
	sess := newSession(1, "a", &recordingSender{})

	s.Run("register makes user online", func() {
		s.registry.Register(s.ctx, 1, sess)
		s.True(s.registry.IsOnline(1))
		s.Equal([]id.UserID{1}, s.registry.ListOnline())
	})

	s.Run("unregister is idempotent", func() {
		s.registry.Unregister(s.ctx, 1, sess)
		s.registry.Unregister(s.ctx, 1, sess)
		s.registry.Unregister(s.ctx, 2, sess)
		s.False(s.registry.IsOnline(1))
		s.Empty(s.registry.ListOnline())
		s.Equal(0, s.registry.SessionCount())
	})

	s.Run("presence reported on first and last session only", func() {
		s.Equal([]presenceCall{{1, true}, {1, false}}, s.notifier.calls)
	})
}

func (s *RegistrySuite) TestSendFansOutToAllSessions() {
	phone, laptop := &recordingSender{}, &recordingSender{}
	s.registry.Register(s.ctx, 7, newSession(7, "phone", phone))
	s.registry.Register(s.ctx, 7, newSession(7, "laptop", laptop))
	s.Equal(2, s.registry.SessionCount())

	s.True(s.registry.Send(s.ctx, 7, []byte(`{"type":"message"}`)))
	s.Equal(1, phone.count())
	s.Equal(1, laptop.count())
	s.Len(s.notifier.calls, 1, "second session does not re-announce presence")
}

func (s *RegistrySuite) TestSendToOfflineUserIsAMiss() {
	s.False(s.registry.Send(s.ctx, 99, []byte("{}")))
}

func (s *RegistrySuite) TestFailedSendUnregistersSession() {
	broken := &recordingSender{err: errors.New("send buffer full")}
	healthy := &recordingSender{}
	s.registry.Register(s.ctx, 3, newSession(3, "broken", broken))
	s.registry.Register(s.ctx, 3, newSession(3, "healthy", healthy))

	s.True(s.registry.Send(s.ctx, 3, []byte("{}")), "one accepting session is enough")
	s.Equal(1, s.registry.SessionCount())

	s.registry.Unregister(s.ctx, 3, newSession(3, "healthy", healthy))
	s.registry.Register(s.ctx, 4, newSession(4, "only", broken))
	s.False(s.registry.Send(s.ctx, 4, []byte("{}")))
	s.False(s.registry.IsOnline(4))
}

func (s *RegistrySuite) TestConcurrentMutationAndSend() {
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		userID := id.UserID(i%10 + 1)
		sess := newSession(userID, strconv.Itoa(i), &recordingSender{})
		wg.Add(3)
		go func() {
			defer wg.Done()
			s.registry.Register(s.ctx, userID, sess)
		}()
		go func() {
			defer wg.Done()
			s.registry.Send(s.ctx, userID, []byte("{}"))
			_ = s.registry.ListOnline()
		}()
		go func() {
			defer wg.Done()
			s.registry.Unregister(s.ctx, userID, sess)
		}()
	}
	wg.Wait()

	online := s.registry.ListOnline()
	for _, userID := range online {
		s.True(s.registry.IsOnline(userID))
	}
	s.LessOrEqual(len(online), 10)
}
