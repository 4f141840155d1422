// Package ws serves the relay's WebSocket endpoint: it authenticates the
// connection, registers a session, and feeds inbound frames to the router.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mssola/useragent"

	"chainrelay/internal/relay/registry"
	"chainrelay/internal/relay/router"
	"chainrelay/internal/users"
	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/httputil"
	"chainrelay/pkg/platform/middleware/auth"
	"chainrelay/pkg/platform/sentinel"
)

const maxFrameSize = 64 << 10

// Router routes inbound frames.
type Router interface {
	Route(ctx context.Context, sender *users.User, in router.InboundFrame) (*router.SentFrame, error)
}

// Options tune connection handling.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Handler upgrades authenticated requests to relay sessions.
type Handler struct {
	validator auth.TokenValidator
	users     users.Directory
	registry  *registry.Registry
	router    Router
	logger    *slog.Logger
	opts      Options
	upgrader  websocket.Upgrader
}

// NewHandler creates the WebSocket handler.
func NewHandler(validator auth.TokenValidator, directory users.Directory, reg *registry.Registry, r Router, logger *slog.Logger, opts Options) *Handler {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	return &Handler{
		validator: validator,
		users:     directory,
		registry:  reg,
		router:    r,
		logger:    logger,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with a token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates before upgrading so a rejected client gets a plain
// HTTP error instead of a socket that closes immediately.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket handshake rejected", "error", err)
		httputil.WriteError(w, err)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	// The request context is not cancelled when a hijacked client goes away.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := newConn(socket, h.opts.SendBuffer, h.opts.WriteTimeout, h.opts.PingInterval)
	session := &registry.Session{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		ConnectedAt: time.Now(),
		Client:      clientInfo(r.UserAgent()),
		Sender:      c,
	}
	go c.writePump()

	h.registry.Register(ctx, user.ID, session)
	h.logger.InfoContext(ctx, "session connected",
		"user_id", user.ID,
		"session_id", session.ID,
		"browser", session.Client.Browser,
		"os", session.Client.OS,
		"mobile", session.Client.Mobile,
	)
	defer func() {
		h.registry.Unregister(ctx, user.ID, session)
		c.close()
		h.logger.InfoContext(ctx, "session disconnected",
			"user_id", user.ID,
			"session_id", session.ID,
		)
	}()

	h.reply(c, router.ConnectedFrame{Type: router.FrameConnected, UserID: user.ID, Username: user.Username})
	h.readLoop(ctx, socket, c, user)
}

func (h *Handler) authenticate(r *http.Request) (*users.User, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing token")
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid or expired token")
	}
	user, err := h.users.FindByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown user")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not resolve user")
	}
	return user, nil
}

func (h *Handler) readLoop(ctx context.Context, socket *websocket.Conn, c *conn, user *users.User) {
	pongWait := 2 * h.opts.PingInterval
	socket.SetReadLimit(maxFrameSize)
	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.DebugContext(ctx, "websocket read failed", "user_id", user.ID, "error", err)
			}
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(pongWait))

		var in router.InboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			h.reply(c, router.NewErrorFrame("invalid JSON"))
			continue
		}
		sent, err := h.router.Route(ctx, user, in)
		if err != nil {
			h.reply(c, router.NewErrorFrame(detailFor(err)))
			continue
		}
		h.reply(c, sent)
	}
}

// reply writes to the originating connection only; acks are not fanned out
// to the sender's other sessions.
func (h *Handler) reply(c *conn, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to encode frame", "error", err)
		return
	}
	if err := c.SendFrame(data); err != nil {
		h.logger.Debug("reply dropped", "error", err)
	}
}

func detailFor(err error) string {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		return "internal error"
	}
	return dErrors.MessageOf(err)
}

func clientInfo(header string) registry.ClientInfo {
	if header == "" {
		return registry.ClientInfo{}
	}
	ua := useragent.New(header)
	browser, _ := ua.Browser()
	return registry.ClientInfo{
		Browser: browser,
		OS:      ua.OS(),
		Mobile:  ua.Mobile(),
	}
}
