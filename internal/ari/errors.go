package ari

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed ARI verb.
type ErrorKind int

const (
	// KindTransport covers network failures, timeouts and unexpected
	// status codes that do not map to a more specific kind.
	KindTransport ErrorKind = iota

	// KindNotFound means the channel, bridge or playback no longer exists.
	KindNotFound

	// KindStateConflict means the resource exists but is in a state that
	// rejects the verb, e.g. answering an already-hung-up channel.
	KindStateConflict

	// KindUnauthorized means the ARI credentials were rejected.
	KindUnauthorized
)

// String returns the human-readable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "transport"
	}
}

// Error is the typed error returned by every ARI verb.
type Error struct {
	Kind   ErrorKind
	Op     string // verb name, e.g. "answer"
	Status int    // HTTP status, 0 for transport-level failures
	Msg    string
	cause  error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ari: %s: %s (status %d): %s", e.Op, e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("ari: %s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// IsNotFound reports whether err is an ARI not-found error.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsStateConflict reports whether err is an ARI state-conflict error.
func IsStateConflict(err error) bool { return hasKind(err, KindStateConflict) }

// IsUnauthorized reports whether err is an ARI unauthorized error.
func IsUnauthorized(err error) bool { return hasKind(err, KindUnauthorized) }

func hasKind(err error, kind ErrorKind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// kindForStatus maps an HTTP status code to an ErrorKind.
func kindForStatus(status int) ErrorKind {
	switch status {
	case 404:
		return KindNotFound
	case 409, 412, 422:
		return KindStateConflict
	case 401, 403:
		return KindUnauthorized
	default:
		return KindTransport
	}
}
