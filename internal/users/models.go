// Package users is the relay's read-only view of identities owned by the
// external account service.
package users

import (
	"context"
	"time"

	id "chainrelay/pkg/domain"
)

// User is a registered identity.
type User struct {
	ID        id.UserID
	Username  string
	CreatedAt time.Time
}

// Directory resolves identities. FindByID returns sentinel.ErrNotFound for
// unknown users.
type Directory interface {
	FindByID(ctx context.Context, userID id.UserID) (*User, error)
}
