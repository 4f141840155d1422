package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chainrelay/internal/verification"
	id "chainrelay/pkg/domain"
	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/httputil"
	"chainrelay/pkg/requestcontext"
)

// Service verifies messages against the ledger.
type Service interface {
	Verify(ctx context.Context, requester id.UserID, messageID id.MessageID) (*verification.Result, error)
	HashInfo(ctx context.Context, requester id.UserID, messageID id.MessageID) (*verification.HashInfo, error)
}

// Handler serves verification endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a verification handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes. Callers apply authentication.
func (h *Handler) Register(r chi.Router) {
	r.Get("/verify/{message_id}", h.handleVerify)
	r.Get("/hash-info/{message_id}", h.handleHashInfo)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID, err := id.ParseMessageID(chi.URLParam(r, "message_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Verify(ctx, requestcontext.UserID(ctx), messageID)
	if err != nil {
		h.logFailure(ctx, "verify", messageID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleHashInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID, err := id.ParseMessageID(chi.URLParam(r, "message_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.HashInfo(ctx, requestcontext.UserID(ctx), messageID)
	if err != nil {
		h.logFailure(ctx, "hash_info", messageID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) logFailure(ctx context.Context, op string, messageID id.MessageID, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodeInvalidInput:
		return
	}
	h.logger.ErrorContext(ctx, "verification failed",
		"op", op,
		"message_id", messageID,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
