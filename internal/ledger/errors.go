package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, RPC outages,
	// nonce races.
	ErrTransient = errors.New("ledger transient failure")
	// ErrPermanent marks failures that will not succeed on retry.
	ErrPermanent = errors.New("ledger permanent failure")
	// ErrAlreadyRegistered means the digest is already on the ledger.
	ErrAlreadyRegistered = errors.New("hash already registered")
	// ErrReceiptPending means the transaction has not been mined yet.
	ErrReceiptPending = errors.New("transaction receipt pending")
)

// Error wraps a ledger failure with its classification.
type Error struct {
	Op    string
	Class error
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s: %v: %v", e.Op, e.Class, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Class)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// Transient classifies err as retryable.
func Transient(op string, err error) error {
	return &Error{Op: op, Class: ErrTransient, Err: err}
}

// Permanent classifies err as not retryable.
func Permanent(op string, err error) error {
	return &Error{Op: op, Class: ErrPermanent, Err: err}
}

// IsRetryable reports whether err is a transient ledger failure. Unclassified
// errors are treated as transient: an unknown failure talking to a remote
// node is more likely an outage than a bad request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrAlreadyRegistered) {
		return false
	}
	return true
}
