// Package voice provides types shared across the voice pipeline: the error
// taxonomy used by capture, recognition, synthesis, and the session, plus
// the mute gate applied to microphone frames.
package voice

import (
	"errors"
	"fmt"
)

// Classification sentinels. Every *Error unwraps to exactly one of these,
// so callers can decide retry behavior with errors.Is without inspecting
// message text.
var (
	// ErrRecoverable indicates a failure that may succeed if retried.
	// Examples: connection timeout, mid-session disconnect, server overload.
	ErrRecoverable = errors.New("recoverable voice error")

	// ErrFatal indicates a failure that will not succeed if retried.
	// Examples: missing microphone permission, no capture device present.
	ErrFatal = errors.New("fatal voice error")
)

// Code identifies a voice error category. Codes are compared by value,
// never by message text.
type Code int

const (
	CodeUnknown Code = iota
	CodePermissionDenied
	CodeMicrophoneUnavailable
	CodeConnectionTimeout
	CodeConnectionFailed
	CodeRecognitionFailed
	CodeSynthesisFailed
	CodeInvalidTransition
)

func (c Code) String() string {
	switch c {
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeMicrophoneUnavailable:
		return "MicrophoneUnavailable"
	case CodeConnectionTimeout:
		return "ConnectionTimeout"
	case CodeConnectionFailed:
		return "ConnectionFailed"
	case CodeRecognitionFailed:
		return "RecognitionFailed"
	case CodeSynthesisFailed:
		return "SynthesisFailed"
	case CodeInvalidTransition:
		return "InvalidTransition"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// recoverable reports whether errors of this code are worth retrying.
func (c Code) recoverable() bool {
	switch c {
	case CodePermissionDenied, CodeMicrophoneUnavailable:
		return false
	default:
		return true
	}
}

// Error is the concrete error type carried through the voice pipeline.
// Message may include server-provided detail; Underlying preserves the
// transport-level cause for wrapping.
type Error struct {
	Code       Code
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Underlying != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Underlying != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Underlying)
	default:
		return e.Code.String()
	}
}

// Unwrap exposes the classification sentinel so errors.Is(err, ErrFatal)
// and errors.Is(err, ErrRecoverable) work on any pipeline error.
func (e *Error) Unwrap() error {
	if e.Code.recoverable() {
		return ErrRecoverable
	}
	return ErrFatal
}

// Is matches against another *Error by code only.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError creates an Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an Error preserving an underlying cause.
func WrapError(code Code, underlying error, message string) *Error {
	return &Error{Code: code, Message: message, Underlying: underlying}
}

// CodeOf extracts the Code from err, or CodeUnknown if err is not a
// pipeline error.
func CodeOf(err error) Code {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return CodeUnknown
}

// IsRecoverable reports whether err should be retried.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal reports whether err is permanent.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
