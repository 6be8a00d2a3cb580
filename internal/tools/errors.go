package tools

import "fmt"

// ErrorKind classifies tool failures for the structured results handed back
// to the model.
type ErrorKind int

const (
	// KindInvalidArgs means the model supplied malformed or missing
	// arguments.
	KindInvalidArgs ErrorKind = iota

	// KindDestinationNotFound means the requested transfer destination is
	// not in the destination map.
	KindDestinationNotFound

	// KindDestinationUnreachable means routing to a known destination
	// failed (no answer, ARI error).
	KindDestinationUnreachable

	// KindTimeout means the tool exceeded its execution deadline.
	KindTimeout

	// KindDeclined means the transfer destination declined the call.
	KindDeclined
)

// String returns the snake_case kind name used in tool results.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgs:
		return "invalid_args"
	case KindDestinationNotFound:
		return "destination_not_found"
	case KindDestinationUnreachable:
		return "destination_unreachable"
	case KindTimeout:
		return "timeout"
	case KindDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// Error is a typed tool failure. It is surfaced to the model as a structured
// result, never thrown up the stack.
type Error struct {
	Kind  ErrorKind
	Tool  string
	Msg   string
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("tools: %s: %s: %s: %v", e.Tool, e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("tools: %s: %s: %s", e.Tool, e.Kind, e.Msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, tool, msg string) *Error {
	return &Error{Kind: kind, Tool: tool, Msg: msg}
}

func wrapError(kind ErrorKind, tool, msg string, cause error) *Error {
	return &Error{Kind: kind, Tool: tool, Msg: msg, cause: cause}
}
