package registry

import (
	"time"

	id "chainrelay/pkg/domain"
)

// FrameSender delivers an encoded frame to one connection. SendFrame must not
// block on the network; an error means the connection can no longer accept
// frames.
type FrameSender interface {
	SendFrame(frame []byte) error
}

// ClientInfo describes the connecting client, parsed from its user agent.
type ClientInfo struct {
	Browser string
	OS      string
	Mobile  bool
}

// Session is one authenticated live connection.
type Session struct {
	ID          string
	UserID      id.UserID
	ConnectedAt time.Time
	Client      ClientInfo
	Sender      FrameSender
}
