package mixer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by who can fix it
type ErrorKind int

const (
	// ErrorValidation is a client-correctable input problem, always safe to echo back
	ErrorValidation ErrorKind = iota + 1

	// ErrorNotFound covers unknown modules, unknown devices and unmatched session groups
	ErrorNotFound

	// ErrorBackend is an OS/driver level failure. its details stay in the server logs
	ErrorBackend
)

// status codes used on the wire
const (
	CodeOK            = 200
	CodeBadRequest    = 400
	CodeNotFound      = 404
	CodeInternalError = 500
)

var (
	// ErrDeviceNotFound is wrapped by backend errors for an unknown device id
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoSessionsFound is wrapped by backend errors when a group id matches nothing
	ErrNoSessionsFound = errors.New("no sessions found")

	// ErrUnsupportedPlatform is returned when no audio backend exists for this OS
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// StatusCode maps the kind onto the wire status code
func (k ErrorKind) StatusCode() int {
	switch k {
	case ErrorValidation:
		return CodeBadRequest
	case ErrorNotFound:
		return CodeNotFound
	case ErrorBackend:
		return CodeInternalError
	}

	return CodeInternalError
}

func (k ErrorKind) String() string {
	switch k {
	case ErrorValidation:
		return "validation"
	case ErrorNotFound:
		return "not_found"
	case ErrorBackend:
		return "backend"
	}

	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the tagged error returned by the audio backends and the command service
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    ErrorValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

func deviceNotFoundError(deviceID string) *Error {
	return &Error{
		Kind:    ErrorNotFound,
		Message: fmt.Sprintf("Device not found: %s", deviceID),
		Err:     ErrDeviceNotFound,
	}
}

func noSessionsFoundError() *Error {
	return &Error{
		Kind:    ErrorNotFound,
		Message: "No sessions found",
		Err:     ErrNoSessionsFound,
	}
}

func backendError(message string, err error) *Error {
	return &Error{
		Kind:    ErrorBackend,
		Message: message,
		Err:     err,
	}
}

// asError classifies any error. anything that isn't already an *Error is a backend failure
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return backendError("Internal error", err)
}
