// Package sentinel defines the infrastructure errors stores, the ledger
// adapter and the notarization queue wrap. Services translate them into
// coded domain errors; validation failures use pkg/domain-errors directly.
package sentinel

import "errors"

var (
	// ErrNotFound means the user or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a unique key (a username) is taken.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState means a notarization transition was refused.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable means the database, Redis, Kafka or the chain is unreachable.
	ErrUnavailable = errors.New("unavailable")
)
