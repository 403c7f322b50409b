package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds per-connection logging context: the fields every log line
// emitted from inside a connection's goroutine should carry, without having
// to thread a logger value through every call in internal/conn.
type LogContext struct {
	ConnID     string    // opaque connection identifier: hex form of conn.Conn.ID (not node.ConnID)
	Role       string    // "topic-server", "topic-client", "service-server", "service-client"
	Topic      string    // topic name, for topic roles
	Service    string    // service name, for service roles
	CallerID   string    // peer's callerid header field, once known
	RemoteAddr string    // peer's remote address
	StartTime  time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewConnContext creates a new LogContext for a freshly accepted/dialed connection.
func NewConnContext(connID, role, remoteAddr string) *LogContext {
	return &LogContext{
		ConnID:     connID,
		Role:       role,
		RemoteAddr: remoteAddr,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithTopic returns a copy with the topic set
func (lc *LogContext) WithTopic(topic string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Topic = topic
	}
	return clone
}

// WithService returns a copy with the service name set
func (lc *LogContext) WithService(service string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Service = service
	}
	return clone
}

// WithCallerID returns a copy with the peer's callerid set
func (lc *LogContext) WithCallerID(callerID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.CallerID = callerID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
