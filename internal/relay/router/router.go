// Package router turns an inbound client frame into a durable message, a
// best-effort push to the recipient, and a notarization job.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chainrelay/internal/message"
	"chainrelay/internal/notarization"
	"chainrelay/internal/users"
	id "chainrelay/pkg/domain"
	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/sentinel"
)

// MessageStore persists messages.
type MessageStore interface {
	Persist(ctx context.Context, msg *message.Message) (id.MessageID, error)
}

// Presence pushes frames to live sessions.
type Presence interface {
	Send(ctx context.Context, userID id.UserID, frame []byte) bool
}

// Router delivers messages between users.
type Router struct {
	store    MessageStore
	users    users.Directory
	presence Presence
	enqueuer notarization.Enqueuer
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a router.
func New(store MessageStore, directory users.Directory, presence Presence, enqueuer notarization.Enqueuer, logger *slog.Logger) *Router {
	return &Router{
		store:    store,
		users:    directory,
		presence: presence,
		enqueuer: enqueuer,
		logger:   logger,
		tracer:   otel.Tracer("chainrelay/router"),
	}
}

// Route handles one inbound frame from sender and returns the acknowledgement
// for the sender. Errors are coded: invalid_input for a bad hash or
// recipient, unavailable when the message could not be stored.
//
// A recipient without a live session is not an error; the message is
// delivered through history. A full notarization queue is not an error
// either; the message stays pending until the recovery sweep picks it up.
func (r *Router) Route(ctx context.Context, sender *users.User, in InboundFrame) (*SentFrame, error) {
	ctx, span := r.tracer.Start(ctx, "relay.route", trace.WithAttributes(
		attribute.Int64("sender_id", int64(sender.ID)),
		attribute.Int64("receiver_id", in.ToUserID),
	))
	defer span.End()

	hash, err := id.ParseMessageHash(in.MessageHash)
	if err != nil {
		return nil, r.reject(span, err)
	}
	receiverID := id.UserID(in.ToUserID)
	if receiverID.IsNil() {
		return nil, r.reject(span, dErrors.New(dErrors.CodeInvalidInput, "to_user_id is required"))
	}
	if receiverID == sender.ID {
		return nil, r.reject(span, dErrors.New(dErrors.CodeInvalidInput, "cannot send a message to yourself"))
	}
	if _, err := r.users.FindByID(ctx, receiverID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, r.reject(span, dErrors.New(dErrors.CodeInvalidInput, "receiver not found"))
		}
		return nil, r.reject(span, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not resolve receiver"))
	}

	msg := &message.Message{
		SenderID:   sender.ID,
		ReceiverID: receiverID,
		Payload:    in.Payload,
		Hash:       hash,
	}
	if _, err := r.store.Persist(ctx, msg); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist message",
			"sender_id", sender.ID,
			"receiver_id", receiverID,
			"error", err,
		)
		return nil, r.reject(span, dErrors.Wrap(err, dErrors.CodeUnavailable, "message could not be stored"))
	}
	span.SetAttributes(attribute.Int64("message_id", int64(msg.ID)))

	r.push(ctx, sender, msg)

	if err := r.enqueuer.Enqueue(ctx, notarization.Job{MessageID: msg.ID, Hash: msg.Hash}); err != nil {
		r.logger.WarnContext(ctx, "notarization deferred to recovery sweep",
			"message_id", msg.ID,
			"error", err,
		)
	}

	return &SentFrame{
		Type:      FrameSent,
		MessageID: msg.ID,
		ToUserID:  receiverID,
		Timestamp: msg.CreatedAt,
	}, nil
}

func (r *Router) push(ctx context.Context, sender *users.User, msg *message.Message) {
	frame, err := json.Marshal(MessageFrame{
		Type:         FrameMessage,
		MessageID:    msg.ID,
		FromUserID:   sender.ID,
		FromUsername: sender.Username,
		Payload:      msg.Payload,
		MessageHash:  msg.Hash,
		Timestamp:    msg.CreatedAt,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode message frame", "message_id", msg.ID, "error", err)
		return
	}
	if !r.presence.Send(ctx, msg.ReceiverID, frame) {
		r.logger.DebugContext(ctx, "receiver offline, message kept for history",
			"message_id", msg.ID,
			"receiver_id", msg.ReceiverID,
		)
	}
}

func (r *Router) reject(span trace.Span, err error) error {
	span.SetStatus(codes.Error, dErrors.MessageOf(err))
	return err
}
