// Package bidierr defines the BiDi error taxonomy as small typed
// errors, each able to render itself as the wire {error, message}
// pair expected in an outbound BiDi error response.
package bidierr

import "fmt"

// Code is one of the BiDi wire error codes.
type Code string

const (
	CodeInvalidArgument       Code = "invalid argument"
	CodeInvalidSessionID      Code = "invalid session id"
	CodeNoSuchAlert           Code = "no such alert"
	CodeNoSuchElement         Code = "no such element"
	CodeNoSuchFrame           Code = "no such frame"
	CodeNoSuchHandle          Code = "no such handle"
	CodeNoSuchNode            Code = "no such node"
	CodeNoSuchScript          Code = "no such script"
	CodeSessionNotCreated     Code = "session not created"
	CodeUnableToCaptureScreen Code = "unable to capture screen"
	CodeUnableToCloseBrowser  Code = "unable to close browser"
	CodeUnknownCommand        Code = "unknown command"
	CodeUnknownError          Code = "unknown error"
	CodeUnsupportedOperation  Code = "unsupported operation"

	// CodeNoSuchRealm: the BiDi enumeration (§6) has no dedicated
	// realm-not-found code; realm lookups fold into "no such frame",
	// since a realm is always resolved by way of its owning context.
	CodeNoSuchRealm Code = "no such frame"
)

// Error is a tagged BiDi error carrying a wire code, a human-readable
// message and an optional stacktrace.
type Error struct {
	Code       Code
	Message    string
	Stacktrace string
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response is the JSON shape serialized onto the wire for a failed
// command: {"id"?, "error", "message", "stacktrace"?, "channel"?}.
type Response struct {
	ID         *int64 `json:"id,omitempty"`
	Error      Code   `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
	Channel    string `json:"channel,omitempty"`
}

// AsResponse renders e as the outbound error envelope for the given
// command id (nil when the id could not be recovered) and channel
// (empty when absent).
func (e *Error) AsResponse(id *int64, channel string) Response {
	return Response{ID: id, Error: e.Code, Message: e.Message, Stacktrace: e.Stacktrace, Channel: channel}
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

func NoSuchFrame(contextID string) *Error {
	return New(CodeNoSuchFrame, "no such frame: %s", contextID)
}

func NoSuchHandle(handle string) *Error {
	return New(CodeNoSuchHandle, "no such handle: %s", handle)
}

func NoSuchRealm(reason string) *Error {
	return New(CodeNoSuchRealm, "no such realm: %s", reason)
}

func NoSuchScript(id string) *Error {
	return New(CodeNoSuchScript, "no such preload script: %s", id)
}

func NoSuchNode(reason string) *Error {
	return New(CodeNoSuchNode, "no such node: %s", reason)
}

func UnknownCommand(method string) *Error {
	return New(CodeUnknownCommand, "unknown command: %s", method)
}

func UnknownError(format string, args ...any) *Error {
	return New(CodeUnknownError, format, args...)
}

func UnsupportedOperation(format string, args ...any) *Error {
	return New(CodeUnsupportedOperation, format, args...)
}

func SessionNotCreated(format string, args ...any) *Error {
	return New(CodeSessionNotCreated, format, args...)
}

// FromCdp translates a raw CDP error into a BiDi error.
// referencedContext is the context id the failing
// command was scoped to, if any. A target/session-gone message yields
// no such frame when referencedContext is set and nil (swallowed) when
// it is empty. "Invalid remote object id" (-32000) yields nil; any
// other message yields unknown error.
func FromCdp(message string, code int64, referencedContext string) *Error {
	switch {
	case code == -32000 && message == "Invalid remote object id":
		return nil // swallowed: nil tells the caller there is no error to surface
	case isTargetGone(message):
		if referencedContext == "" {
			return nil
		}
		return NoSuchFrame(referencedContext)
	default:
		return UnknownError("%s", message)
	}
}

func isTargetGone(message string) bool {
	switch message {
	case "No target with given id found", "Session with given id not found",
		"No session with given id", "Not attached to an active page":
		return true
	}
	return false
}
