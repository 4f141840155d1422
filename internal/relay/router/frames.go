package router

import (
	"time"

	id "chainrelay/pkg/domain"
)

// Frame types written to clients.
const (
	FrameConnected = "connected"
	FrameMessage   = "message"
	FrameSent      = "sent"
	FrameError     = "error"
)

// InboundFrame is what an authenticated client sends to relay a message.
type InboundFrame struct {
	ToUserID    int64  `json:"to_user_id"`
	Payload     string `json:"payload"`
	MessageHash string `json:"message_hash"`
}

// ConnectedFrame greets a client after the handshake.
type ConnectedFrame struct {
	Type     string    `json:"type"`
	UserID   id.UserID `json:"user_id"`
	Username string    `json:"username,omitempty"`
}

// MessageFrame pushes a relayed message to the recipient.
type MessageFrame struct {
	Type         string         `json:"type"`
	MessageID    id.MessageID   `json:"message_id"`
	FromUserID   id.UserID      `json:"from_user_id"`
	FromUsername string         `json:"from_username"`
	Payload      string         `json:"payload"`
	MessageHash  id.MessageHash `json:"message_hash"`
	Timestamp    time.Time      `json:"timestamp"`
}

// SentFrame acknowledges a persisted message to its sender.
type SentFrame struct {
	Type      string       `json:"type"`
	MessageID id.MessageID `json:"message_id"`
	ToUserID  id.UserID    `json:"to_user_id"`
	Timestamp time.Time    `json:"timestamp"`
}

// ErrorFrame reports a rejected frame to its sender.
type ErrorFrame struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(detail string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Detail: detail}
}
