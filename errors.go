package smatrixdb

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a storage-engine failure.
type ErrorCode int

const (
	// IoFailure covers read, write, and file-extension failures.
	IoFailure ErrorCode = iota + 1

	// CorruptHeader covers a bad MetaBlock or RMap magic or size.
	CorruptHeader

	// AllocFailure covers a failure to allocate file space for an RMap
	// resize.
	AllocFailure

	// InvalidArgument covers an id or argument out of the valid range.
	InvalidArgument

	// NotFound covers a row absent from the engine on a read path.
	NotFound
)

var errorMessages = map[ErrorCode]string{
	IoFailure:       "i/o failure",
	CorruptHeader:   "corrupt file header",
	AllocFailure:    "allocation failure",
	InvalidArgument: "invalid argument",
	NotFound:        "row not found",
}

func (c ErrorCode) String() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error code %d", c)
}

// Error is a smatrixdb error: a classified code plus an optional wrapped
// cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("smatrixdb: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("smatrixdb: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the code's default message.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.String()}
}

// WrapError creates an Error with the code's default message, wrapping err.
func WrapError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Message: code.String(), Err: err}
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrIoFailure       = NewError(IoFailure)
	ErrCorruptHeader   = NewError(CorruptHeader)
	ErrAllocFailure    = NewError(AllocFailure)
	ErrInvalidArgument = NewError(InvalidArgument)
	ErrNotFound        = NewError(NotFound)
)

// Is reports whether target is a smatrixdb Error with the same code, so
// that errors.Is(err, smatrixdb.ErrNotFound) works regardless of the
// wrapped cause or message attached to a particular instance.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}
