// Package errs defines the error families raised by the frame codec,
// handshake matcher, connection state machines, and node coordinator.
package errs

import "fmt"

// Code identifies which error family and specific condition produced an Error.
type Code int

const (
	// Unknown is the zero value and should never be surfaced deliberately.
	Unknown Code = iota

	// Parse/framing family. ShortFrame is non-fatal and callers retry once
	// more bytes arrive; the rest are fatal for the connection.
	ShortFrame
	MalformedField
	UnknownKey
	DuplicateKey
	OversizedHeader

	// Handshake mismatch family. Always fatal for the connection.
	HandshakeMalformed
	HandshakeTopicMismatch
	HandshakeServiceUnknown
	HandshakeServiceMD5Mismatch
	HandshakeMissingFields

	// I/O family. Fatal for the connection; caller-side connections
	// schedule a reconnect after backoff, server-side connections are
	// discarded.
	ConnectFailure
	ReadFailure
	WriteFailure
	PeerClosed
	ConnTimeout

	// Resource family.
	QueueOverflow
	BufferCeilingExceeded

	// CallbackError wraps a non-zero return from a user callback. It does
	// not tear down the connection; it is only propagated to Start()'s
	// aggregated return code.
	CallbackError
)

var codeNames = map[Code]string{
	Unknown:                     "UNKNOWN",
	ShortFrame:                  "SHORT_FRAME",
	MalformedField:              "MALFORMED_FIELD",
	UnknownKey:                  "UNKNOWN_KEY",
	DuplicateKey:                "DUPLICATE_KEY",
	OversizedHeader:             "OVERSIZED_HEADER",
	HandshakeMalformed:          "HANDSHAKE_MALFORMED",
	HandshakeTopicMismatch:      "HANDSHAKE_TOPIC_MISMATCH",
	HandshakeServiceUnknown:     "HANDSHAKE_SERVICE_UNKNOWN",
	HandshakeServiceMD5Mismatch: "HANDSHAKE_SERVICE_MD5_MISMATCH",
	HandshakeMissingFields:      "HANDSHAKE_MISSING_FIELDS",
	ConnectFailure:              "CONNECT_FAILURE",
	ReadFailure:                 "READ_FAILURE",
	WriteFailure:                "WRITE_FAILURE",
	PeerClosed:                  "PEER_CLOSED",
	ConnTimeout:                 "CONN_TIMEOUT",
	QueueOverflow:               "QUEUE_OVERFLOW",
	BufferCeilingExceeded:       "BUFFER_CEILING_EXCEEDED",
	CallbackError:               "CALLBACK_ERROR",
}

// String returns the canonical uppercase name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Severity orders codes for Start()'s aggregation of the most severe
// observed error. Higher is more severe. Non-fatal conditions (ShortFrame)
// sit at zero so they never win an aggregation against a real failure.
func (c Code) Severity() int {
	switch c {
	case ShortFrame:
		return 0
	case CallbackError, QueueOverflow:
		return 1
	case ConnTimeout, PeerClosed:
		return 2
	case ConnectFailure, ReadFailure, WriteFailure:
		return 3
	case HandshakeMalformed, HandshakeTopicMismatch, HandshakeServiceUnknown,
		HandshakeServiceMD5Mismatch, HandshakeMissingFields:
		return 4
	case MalformedField, UnknownKey, DuplicateKey, OversizedHeader, BufferCeilingExceeded:
		return 5
	default:
		return 0
	}
}

// Fatal reports whether a connection in this error state must be torn down.
func (c Code) Fatal() bool {
	return c != ShortFrame && c != CallbackError && c != Unknown
}

// Error is the single error type used across the connection engine. It
// carries an enumerated Code, a human-readable message, and an optional
// wrapped cause so errors.Is/errors.As keep working against the underlying
// net/io error.
type Error struct {
	code    Code
	message string
	cause   error
}

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

// Code returns the error's code.
func (e *Error) Code() Code {
	if e == nil {
		return Unknown
	}
	return e.code
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is allows errors.Is(err, errs.New(code, "")) to match purely by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// As reports whether err carries the given code, unwrapping *Error values.
func As(err error, code Code) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.code == code
}
