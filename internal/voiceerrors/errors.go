// Package voiceerrors defines the error taxonomy for the calling client:
// caller-input errors, state-precondition errors, and typed errors resolved
// from relay error codes.
package voiceerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrInvalidArgument indicates malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState indicates an operation attempted while call or
	// channel preconditions are unmet.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrSignaling is the base of all errors surfaced by the relay.
	ErrSignaling = errors.New("signaling error")

	// ErrMedia is the base of all terminal media and ICE failures.
	ErrMedia = errors.New("media error")

	// ErrUnknown is the fallback when no specific mapping exists.
	ErrUnknown = errors.New("unknown error")
)

// SignalingError is an error surfaced by the signaling relay, resolved
// from the numeric error-code table.
type SignalingError struct {
	// Code is the relay error code (0 if none was attached).
	Code int

	// Description is a short human-readable summary.
	Description string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *SignalingError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("signaling error %d: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("signaling error: %s", e.Description)
}

// Unwrap returns ErrSignaling so errors.Is(err, ErrSignaling) holds.
func (e *SignalingError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrSignaling
}

// Temporary reports whether the condition may clear on its own
// (server-class codes and timeouts).
func (e *SignalingError) Temporary() bool {
	return e.Code >= 31500 && e.Code < 31600 || e.Code == CodeConnectionTimeout
}

// MediaError is a terminal media-transport failure.
type MediaError struct {
	// Code is the media error code.
	Code int

	// Description is a short human-readable summary.
	Description string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *MediaError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("media error %d: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("media error: %s", e.Description)
}

// Unwrap returns ErrMedia so errors.Is(err, ErrMedia) holds.
func (e *MediaError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrMedia
}

// InvalidArgumentError reports malformed caller input for a named field.
type InvalidArgumentError struct {
	Field   string
	Message string
}

// Error returns the error message.
func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Unwrap returns ErrInvalidArgument.
func (e *InvalidArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// StateError reports an operation attempted in a state that does not
// permit it.
type StateError struct {
	Op      string
	State   fmt.Stringer
	Message string
}

// Error returns the error message.
func (e *StateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s not permitted in state %s: %s", e.Op, e.State, e.Message)
	}
	return fmt.Sprintf("%s not permitted in state %s", e.Op, e.State)
}

// Unwrap returns ErrInvalidState.
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
