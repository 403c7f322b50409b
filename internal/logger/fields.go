package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across internal/conn,
// internal/handshake, internal/registry and pkg/node. Using these
// constants consistently keeps log lines greppable/aggregatable.
const (
	// Connection identity
	KeyConnID     = "conn_id"
	KeyRole       = "role"
	KeyRemoteAddr = "remote_addr"
	KeyCallerID   = "callerid"

	// Registration identity
	KeyTopic   = "topic"
	KeyService = "service"
	KeyType    = "type"
	KeyMD5Sum  = "md5sum"

	// State machine
	KeyState     = "state"
	KeyPrevState = "prev_state"
	KeyErrCode   = "err_code"

	// Framing / payload / queues
	KeyBytes         = "bytes"
	KeyPayloadLen    = "payload_len"
	KeyHeaderLen     = "header_len"
	KeyQueueDepth    = "queue_depth"
	KeyQueueOverflow = "queue_overflow"

	// Timing / retry
	KeyDurationMs = "duration_ms"
	KeyAttempt    = "attempt"
	KeyBackoffMs  = "backoff_ms"
)

// ConnID returns a structured conn_id attribute.
func ConnID(id string) slog.Attr { return slog.String(KeyConnID, id) }

// Role returns a structured role attribute.
func Role(role string) slog.Attr { return slog.String(KeyRole, role) }

// RemoteAddr returns a structured remote_addr attribute.
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }

// CallerID returns a structured callerid attribute.
func CallerID(id string) slog.Attr { return slog.String(KeyCallerID, id) }

// Topic returns a structured topic attribute.
func Topic(name string) slog.Attr { return slog.String(KeyTopic, name) }

// Service returns a structured service attribute.
func Service(name string) slog.Attr { return slog.String(KeyService, name) }

// Type returns a structured type attribute.
func Type(t string) slog.Attr { return slog.String(KeyType, t) }

// MD5Sum returns a structured md5sum attribute.
func MD5Sum(sum string) slog.Attr { return slog.String(KeyMD5Sum, sum) }

// State returns a structured state attribute.
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// PrevState returns a structured prev_state attribute.
func PrevState(s string) slog.Attr { return slog.String(KeyPrevState, s) }

// ErrCode returns a structured err_code attribute.
func ErrCode(code string) slog.Attr { return slog.String(KeyErrCode, code) }

// Bytes returns a structured byte-count attribute.
func Bytes(n int) slog.Attr { return slog.Int(KeyBytes, n) }

// PayloadLen returns a structured payload_len attribute.
func PayloadLen(n int) slog.Attr { return slog.Int(KeyPayloadLen, n) }

// HeaderLen returns a structured header_len attribute.
func HeaderLen(n int) slog.Attr { return slog.Int(KeyHeaderLen, n) }

// QueueDepth returns a structured queue_depth attribute.
func QueueDepth(n int) slog.Attr { return slog.Int(KeyQueueDepth, n) }

// QueueOverflow returns a structured queue_overflow attribute.
func QueueOverflow(v bool) slog.Attr { return slog.Bool(KeyQueueOverflow, v) }

// DurationMs returns a structured duration_ms attribute.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Attempt returns a structured attempt attribute.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// BackoffMs returns a structured backoff_ms attribute.
func BackoffMs(ms int64) slog.Attr { return slog.Int64(KeyBackoffMs, ms) }

// Err returns a structured error attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
