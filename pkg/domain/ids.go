package domain

import (
	"strconv"
	"strings"

	dErrors "chainrelay/pkg/domain-errors"
)

// UserID identifies a registered user. Identities are issued by the external
// account service; the relay only ever reads them.
type UserID int64

// MessageID identifies a persisted message. Assigned by the message store.
type MessageID int64

// ParseUserID constructs a UserID from external input (path params, token claims).
//
// Errors: returns CodeInvalidInput when the value is not a positive integer.
func ParseUserID(s string) (UserID, error) {
	n, err := parsePositive(s)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid user id")
	}
	return UserID(n), nil
}

// ParseMessageID constructs a MessageID from external input.
func ParseMessageID(s string) (MessageID, error) {
	n, err := parsePositive(s)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid message id")
	}
	return MessageID(n), nil
}

func parsePositive(s string) (int64, error) {
	if s == "" || strings.TrimSpace(s) != s {
		return 0, strconv.ErrSyntax
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// IsNil reports whether the ID is the zero value.
func (u UserID) IsNil() bool { return u <= 0 }

func (u UserID) String() string { return strconv.FormatInt(int64(u), 10) }

// IsNil reports whether the ID is the zero value.
func (m MessageID) IsNil() bool { return m <= 0 }

func (m MessageID) String() string { return strconv.FormatInt(int64(m), 10) }
