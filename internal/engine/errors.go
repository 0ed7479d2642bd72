package engine

import (
	"errors"
	"fmt"
)

// Input validation errors. Returned by the action builders before any
// operation is constructed, so invalid input never reaches ApplyOp.
var (
	ErrEmptyText       = errors.New("item text is empty")
	ErrEmptyName       = errors.New("name is empty")
	ErrEmptyInviteCode = errors.New("invite code is empty")
	ErrUnknownItem     = errors.New("item not found")
)

// RuntimeError represents a protocol violation detected by a replica.
//
// Runtime errors never stop a replica: Run logs them and moves on. The
// direct entry points (HandleInboundOp, HandleInboundSnapshot) return them
// so callers and tests can see why an input was discarded.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ListID identifies the list the message claimed to belong to.
	ListID string

	// OpID identifies the offending operation, if any.
	OpID string

	// From is the peer the message arrived from.
	From string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeForeignList indicates a snapshot for a different list id.
	ErrCodeForeignList RuntimeErrorCode = "FOREIGN_LIST"

	// ErrCodeBadMessage indicates an inbound message that could not be decoded.
	ErrCodeBadMessage RuntimeErrorCode = "BAD_MESSAGE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.OpID != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.OpID)
	}
	if e.ListID != "" {
		return fmt.Sprintf("%s: %s (list=%s)", e.Code, e.Message, e.ListID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsForeignListError returns true if err is a foreign-list protocol violation.
// Uses errors.As to handle wrapped errors.
func IsForeignListError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeForeignList
	}
	return false
}

// IsBadMessageError returns true if err is an undecodable inbound message.
func IsBadMessageError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeBadMessage
	}
	return false
}

// NewForeignListError creates a RuntimeError for a snapshot of another list.
func NewForeignListError(want, got, from string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeForeignList,
		Message: fmt.Sprintf("snapshot for list %q does not match %q", got, want),
		ListID:  got,
		From:    from,
	}
}

// NewBadMessageError creates a RuntimeError wrapping a decode failure.
func NewBadMessageError(opID, from string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeBadMessage,
		Message: err.Error(),
		OpID:    opID,
		From:    from,
	}
}
