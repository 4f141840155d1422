package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"chainrelay/internal/message"
	id "chainrelay/pkg/domain"
	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/httputil"
	"chainrelay/pkg/requestcontext"
)

// Service loads conversation history.
type Service interface {
	History(ctx context.Context, requester, counterparty id.UserID, limit, offset int) ([]*message.Message, error)
}

// Handler serves the history endpoint.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a history handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes. Callers apply authentication.
func (h *Handler) Register(r chi.Router) {
	r.Get("/chat/{user_id}", h.handleHistory)
}

// MessageResponse is one history entry.
type MessageResponse struct {
	ID                id.MessageID              `json:"id"`
	SenderID          id.UserID                 `json:"sender_id"`
	ReceiverID        id.UserID                 `json:"receiver_id"`
	EncryptedPayload  string                    `json:"encrypted_payload"`
	MessageHash       id.MessageHash            `json:"message_hash"`
	NotarizationState message.NotarizationState `json:"notarization_state"`
	TxRef             *string                   `json:"blockchain_tx_hash"`
	Timestamp         time.Time                 `json:"timestamp"`
}

func toResponse(m *message.Message) MessageResponse {
	resp := MessageResponse{
		ID:                m.ID,
		SenderID:          m.SenderID,
		ReceiverID:        m.ReceiverID,
		EncryptedPayload:  m.Payload,
		MessageHash:       m.Hash,
		NotarizationState: m.State,
		Timestamp:         m.CreatedAt,
	}
	if m.TxRef != "" {
		tx := m.TxRef
		resp.TxRef = &tx
	}
	return resp
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requester := requestcontext.UserID(ctx)

	counterparty, err := id.ParseUserID(chi.URLParam(r, "user_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	msgs, err := h.service.History(ctx, requester, counterparty, limit, offset)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnavailable) || dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "failed to load history",
				"request_id", requestcontext.RequestID(ctx),
				"user_id", requester,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toResponse(m))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, name+" must be an integer")
	}
	return n, nil
}
