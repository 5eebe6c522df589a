package mongrel2

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Errors returned by connection and handler operations.
var (
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNoResolver is returned by NewHandlerFor when no address resolver is given.
	ErrNoResolver = errors.New("no address resolver")
	// ErrReservedCloseStatus is returned when building a close frame with a
	// status code that may not be sent on the wire.
	ErrReservedCloseStatus = errors.New("reserved close status")
)

// FramingError is returned when a message from the server cannot be decoded.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *FramingError) Unwrap() error { return e.Err }

func framingError(err error, format string, args ...any) error {
	return &FramingError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// UnhandledMethodError is returned when a request's METHOD header is not a
// plain word.
type UnhandledMethodError struct {
	Method string
}

func (e *UnhandledMethodError) Error() string {
	return fmt.Sprintf("unhandled method %q", e.Method)
}

// BuildError is returned when a well-framed message cannot be turned into
// its request variant, such as a JSON message with an invalid body.
type BuildError struct {
	Method string
	Type   string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s request for %s: %v", e.Type, e.Method, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// UploadError reports an asynchronous upload that cannot be used.
type UploadError struct {
	Msg string
}

func (e *UploadError) Error() string {
	return "invalid upload: " + e.Msg
}

// FrameValidationError lists every rule a WebSocket frame breaks.
type FrameValidationError struct {
	Violations []string
}

func (e *FrameValidationError) Error() string {
	return "invalid frame: " + strings.Join(e.Violations, ", ")
}

// HandshakeProtocolError is returned when a handshake response picks a
// sub-protocol the client did not ask for.
type HandshakeProtocolError struct {
	Protocol  string
	Requested []string
}

func (e *HandshakeProtocolError) Error() string {
	return fmt.Sprintf("%q is not one of the requested protocols %v", e.Protocol, e.Requested)
}
