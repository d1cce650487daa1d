package backend

import (
	"errors"
)

// Wire error codes.
const (
	CodeNotFound        = "not_found"
	CodeInvalidArgument = "invalid_argument"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalidArgument is returned for malformed command arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable is returned when a dependency such as the LLM provider is
	// not configured or reachable.
	ErrUnavailable = errors.New("backend unavailable")
)

// Error is a command failure as carried on the wire.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the package sentinels by code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrInvalidArgument:
		return e.Code == CodeInvalidArgument
	case ErrUnavailable:
		return e.Code == CodeUnavailable
	}
	return false
}

// ToError converts any error into its wire form.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	var wire *Error
	if errors.As(err, &wire) {
		return wire
	}
	code := CodeInternal
	switch {
	case errors.Is(err, ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		code = CodeInvalidArgument
	case errors.Is(err, ErrUnavailable):
		code = CodeUnavailable
	}
	return &Error{Code: code, Message: err.Error()}
}
