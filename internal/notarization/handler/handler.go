package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chainrelay/internal/notarization"
	id "chainrelay/pkg/domain"
	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/httputil"
	"chainrelay/pkg/requestcontext"
)

// Service triggers notarization on behalf of a sender.
type Service interface {
	Notarize(ctx context.Context, requester id.UserID, messageID id.MessageID) (*notarization.NotarizeResult, error)
}

// StatusReporter exposes pipeline state.
type StatusReporter interface {
	Status() notarization.Status
}

// Sweeper re-enqueues messages still owed notarization.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Handler serves the notarization endpoints.
type Handler struct {
	service Service
	status  StatusReporter
	sweeper Sweeper
	logger  *slog.Logger
}

// New creates a notarization handler.
func New(service Service, status StatusReporter, sweeper Sweeper, logger *slog.Logger) *Handler {
	return &Handler{service: service, status: status, sweeper: sweeper, logger: logger}
}

// Register mounts the user-facing routes. Callers apply authentication.
func (h *Handler) Register(r chi.Router) {
	r.Post("/notarize/{message_id}", h.handleNotarize)
}

// RegisterAdmin mounts operator routes. Callers apply the admin guard.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/notarization/status", h.handleStatus)
	r.Post("/notarization/sweep", h.handleSweep)
}

func (h *Handler) handleNotarize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requester := requestcontext.UserID(ctx)
	messageID, err := id.ParseMessageID(chi.URLParam(r, "message_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Notarize(ctx, requester, messageID)
	if err != nil {
		if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
			h.logger.ErrorContext(ctx, "manual notarization failed",
				"message_id", messageID,
				"user_id", requester,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "manual notarization requested",
		"message_id", messageID,
		"user_id", requester,
		"status", res.Status,
	)
	status := http.StatusAccepted
	if res.Status == notarization.ResultAlreadyNotarized {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, res)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.status.Status())
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.sweeper.Sweep(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual sweep failed",
			"request_id", requestcontext.RequestID(ctx),
			"requeued", n,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "sweep failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"requeued": n})
}
