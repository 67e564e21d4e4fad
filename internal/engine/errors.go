package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeUnknownScript indicates no instance is registered for the item.
	ErrCodeUnknownScript ErrorCode = "UNKNOWN_SCRIPT"

	// ErrCodeDuplicateScript indicates the item already has an instance.
	ErrCodeDuplicateScript ErrorCode = "DUPLICATE_SCRIPT"

	// ErrCodeLoadFailed indicates the instance could not be loaded.
	ErrCodeLoadFailed ErrorCode = "LOAD_FAILED"

	// ErrCodeClosed indicates the engine has been shut down.
	ErrCodeClosed ErrorCode = "ENGINE_CLOSED"
)

// Error is an error returned by engine operations.
type Error struct {
	Code    ErrorCode
	Message string

	// ItemID identifies the script, when the error concerns one.
	ItemID uuid.UUID

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ItemID != uuid.Nil {
		msg = fmt.Sprintf("%s (item=%s)", msg, e.ItemID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is an engine Error with the given code.
// Wrapped errors are recognized.
func HasCode(err error, code ErrorCode) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsUnknownScript reports whether err means the script is not registered.
func IsUnknownScript(err error) bool {
	return HasCode(err, ErrCodeUnknownScript)
}

func unknownScript(itemID uuid.UUID) *Error {
	return &Error{Code: ErrCodeUnknownScript, Message: "no such script", ItemID: itemID}
}

func duplicateScript(itemID uuid.UUID) *Error {
	return &Error{Code: ErrCodeDuplicateScript, Message: "script already running", ItemID: itemID}
}

func engineClosed() *Error {
	return &Error{Code: ErrCodeClosed, Message: "engine is shut down"}
}
