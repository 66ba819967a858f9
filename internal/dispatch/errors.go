package dispatch

import (
	"errors"
	"fmt"
)

// Kind classifies a dispatch or validation failure.
type Kind string

// Failure kinds.
const (
	KindMissingCredentials      Kind = "MissingCredentials"
	KindRoomCreationFailed      Kind = "RoomCreationFailed"
	KindMalformedResponse       Kind = "MalformedResponse"
	KindPlaylistAppendFailed    Kind = "PlaylistAppendFailed"
	KindAuthorizationDenied     Kind = "AuthorizationDenied"
	KindNetworkError            Kind = "NetworkError"
	KindValidationIndeterminate Kind = "ValidationIndeterminate"
	KindStore                   Kind = "StoreError"
)

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingCredentials:
		return "Please configure your W2G API key."
	case KindRoomCreationFailed:
		return fmt.Sprintf("Failed to create room: %d - %s", e.Status, e.Body)
	case KindPlaylistAppendFailed:
		return fmt.Sprintf("W2G API error: %d - %s", e.Status, e.Body)
	case KindAuthorizationDenied:
		return fmt.Sprintf("Room access denied: %d - %s", e.Status, e.Body)
	case KindValidationIndeterminate:
		if e.Status != 0 {
			return fmt.Sprintf("Validation failed: %d - %s", e.Status, e.Body)
		}
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
