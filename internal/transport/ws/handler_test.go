package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	jwttoken "chainrelay/internal/jwt_token"
	"chainrelay/internal/message"
	"chainrelay/internal/notarization"
	"chainrelay/internal/relay/registry"
	"chainrelay/internal/relay/router"
	"chainrelay/internal/transport/ws"
	"chainrelay/internal/users"
)

type nopEnqueuer struct {
	mu   sync.Mutex
	jobs int
}

func (e *nopEnqueuer) Enqueue(context.Context, notarization.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs++
	return nil
}

type HandlerSuite struct {
	suite.Suite
	server   *httptest.Server
	registry *registry.Registry
	store    *message.InMemory
	jwt      *jwttoken.JWTService
	alice    *users.User
	bob      *users.User
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := users.NewInMemory()
	var err error
	s.alice, err = dir.Create(ctx, "alice")
	s.Require().NoError(err)
	s.bob, err = dir.Create(ctx, "bob")
	s.Require().NoError(err)

	s.store = message.NewInMemory()
	s.registry = registry.New(logger)
	s.jwt = jwttoken.NewJWTService("test-signing-key", "chainrelay-test")
	r := router.New(s.store, dir, s.registry, &nopEnqueuer{}, logger)

	h := ws.NewHandler(jwttoken.NewJWTServiceAdapter(s.jwt), dir, s.registry, r, logger, ws.Options{
		SendBuffer:   8,
		WriteTimeout: time.Second,
		PingInterval: time.Second,
	})
	s.server = httptest.NewServer(h)
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) token(u *users.User) string {
	tok, err := s.jwt.GenerateAccessToken(u.ID, u.Username, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) dial(u *users.User) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "?token=" + s.token(u)
	c, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	s.T().Cleanup(func() { _ = c.Close() })

	frame := s.read(c)
	s.Require().Equal(router.FrameConnected, frame["type"])
	s.Require().EqualValues(u.ID, frame["user_id"])
	return c
}

func (s *HandlerSuite) read(c *websocket.Conn) map[string]any {
	s.T().Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	s.Require().NoError(err)
	var frame map[string]any
	s.Require().NoError(json.Unmarshal(data, &frame))
	return frame
}

func (s *HandlerSuite) TestHandshakeRequiresToken() {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")

	s.Run("missing token", func() {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		s.Require().Error(err)
		s.Require().NotNil(resp)
		defer resp.Body.Close()
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("forged token", func() {
		_, resp, err := websocket.DefaultDialer.Dial(url+"?token=not-a-jwt", nil)
		s.Require().Error(err)
		s.Require().NotNil(resp)
		defer resp.Body.Close()
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("bearer header", func() {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+s.token(s.alice))
		c, resp, err := websocket.DefaultDialer.Dial(url, header)
		s.Require().NoError(err)
		defer resp.Body.Close()
		defer c.Close()
		s.Equal(router.FrameConnected, s.read(c)["type"])
	})
}

func (s *HandlerSuite) TestRelayBetweenOnlineUsers() {
	alice := s.dial(s.alice)
	bob := s.dial(s.bob)

	s.Require().NoError(alice.WriteJSON(router.InboundFrame{
		ToUserID:    int64(s.bob.ID),
		Payload:     "Y2lwaGVy",
		MessageHash: "0xabc123",
	}))

	ack := s.read(alice)
	s.Equal(router.FrameSent, ack["type"])
	s.EqualValues(s.bob.ID, ack["to_user_id"])

	pushed := s.read(bob)
	s.Equal(router.FrameMessage, pushed["type"])
	s.Equal(ack["message_id"], pushed["message_id"])
	s.Equal("alice", pushed["from_username"])
	s.Equal("Y2lwaGVy", pushed["payload"])
	s.Equal("0xabc123", pushed["message_hash"])
}

func (s *HandlerSuite) TestErrorFrames() {
	alice := s.dial(s.alice)

	s.Run("invalid json keeps the connection open", func() {
		s.Require().NoError(alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
		frame := s.read(alice)
		s.Equal(router.FrameError, frame["type"])
		s.Equal("invalid JSON", frame["detail"])
	})

	s.Run("invalid hash", func() {
		s.Require().NoError(alice.WriteJSON(router.InboundFrame{ToUserID: int64(s.bob.ID), Payload: "p", MessageHash: "xyz"}))
		frame := s.read(alice)
		s.Equal(router.FrameError, frame["type"])
		s.NotEmpty(frame["detail"])
	})

	s.Run("still routes afterwards", func() {
		s.Require().NoError(alice.WriteJSON(router.InboundFrame{ToUserID: int64(s.bob.ID), Payload: "p", MessageHash: "0x01"}))
		s.Equal(router.FrameSent, s.read(alice)["type"])
	})
}

func (s *HandlerSuite) TestDisconnectUnregisters() {
	alice := s.dial(s.alice)
	s.True(s.registry.IsOnline(s.alice.ID))

	s.Require().NoError(alice.Close())
	s.Eventually(func() bool {
		return !s.registry.IsOnline(s.alice.ID)
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *HandlerSuite) TestMultipleSessionsReceiveFanOut() {
	bob1 := s.dial(s.bob)
	bob2 := s.dial(s.bob)
	alice := s.dial(s.alice)

	s.Require().NoError(alice.WriteJSON(router.InboundFrame{ToUserID: int64(s.bob.ID), Payload: "p", MessageHash: "0x02"}))
	s.Equal(router.FrameSent, s.read(alice)["type"])
	s.Equal(router.FrameMessage, s.read(bob1)["type"])
	s.Equal(router.FrameMessage, s.read(bob2)["type"])
}

func (s *HandlerSuite) TestOfflineMessageLandsInHistory() {
	alice := s.dial(s.alice)
	s.Require().NoError(alice.WriteJSON(router.InboundFrame{ToUserID: int64(s.bob.ID), Payload: "later", MessageHash: "0x03"}))
	s.Require().Equal(router.FrameSent, s.read(alice)["type"])

	history, err := s.store.History(context.Background(), s.bob.ID, s.alice.ID, 50, 0)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal("later", history[0].Payload)
}
