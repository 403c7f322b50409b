// Package header defines the TCPROS/RPCROS handshake header field
// vocabulary and the Header type: an unordered collection of fields, at
// most one per key.
package header

import (
	"strings"

	"github.com/marmos91/tcpros/internal/errs"
	"github.com/marmos91/tcpros/internal/frame"
)

// Field keys recognized on the wire. Any other key is a protocol error.
const (
	KeyCallerID           = "callerid"
	KeyTopic              = "topic"
	KeyType               = "type"
	KeyMD5Sum             = "md5sum"
	KeyMessageDefinition  = "message_definition"
	KeyTCPNoDelay         = "tcp_nodelay"
	KeyLatching           = "latching"
	KeyPersistent         = "persistent"
	KeyProbe              = "probe"
	KeyService            = "service"
	KeyRequestType        = "request_type"
	KeyResponseType       = "response_type"
	KeyError              = "error"
)

// MD5Sentinel is the special md5sum value meaning "any", used in probes and
// accepted loosely by a service provider on a normal call.
const MD5Sentinel = "*"

var knownKeys = map[string]bool{
	KeyCallerID:          true,
	KeyTopic:             true,
	KeyType:              true,
	KeyMD5Sum:            true,
	KeyMessageDefinition: true,
	KeyTCPNoDelay:        true,
	KeyLatching:          true,
	KeyPersistent:        true,
	KeyProbe:             true,
	KeyService:           true,
	KeyRequestType:       true,
	KeyResponseType:      true,
	KeyError:             true,
}

// Header is an unordered collection of fields, at most one per key.
type Header struct {
	fields map[string]string
}

// New returns an empty Header.
func New() *Header {
	return &Header{fields: make(map[string]string)}
}

// Set assigns a field, overwriting any existing value for the key. Used when
// building an outbound header programmatically.
func (h *Header) Set(key, value string) *Header {
	if h.fields == nil {
		h.fields = make(map[string]string)
	}
	h.fields[key] = value
	return h
}

// Get returns a field's value and whether it was present.
func (h *Header) Get(key string) (string, bool) {
	v, ok := h.fields[key]
	return v, ok
}

// Has reports whether the key is present.
func (h *Header) Has(key string) bool {
	_, ok := h.fields[key]
	return ok
}

// MD5IsSentinel reports whether the header's md5sum field equals the "any"
// sentinel, distinct from an absent md5sum.
func (h *Header) MD5IsSentinel() bool {
	v, ok := h.fields[KeyMD5Sum]
	return ok && v == MD5Sentinel
}

// Fields returns the fields in an unspecified order, for writing a header
// block back onto the wire.
func (h *Header) Fields() []frame.KV {
	out := make([]frame.KV, 0, len(h.fields))
	for k, v := range h.fields {
		out = append(out, frame.KV{Key: k, Value: v})
	}
	return out
}

// Parse decodes a header-block body (everything after the outer u32 total
// length, i.e. the buffer returned by frame.ReadHeaderBlock) into a Header.
// A duplicate key is DuplicateKey and an unknown key is UnknownKey. A
// malformed field (missing '=') is MalformedField.
func Parse(block *frame.Buffer) (*Header, error) {
	h := New()
	for block.Len() > 0 {
		raw, err := frame.ReadFrame(block)
		if err != nil {
			return nil, err
		}
		s := string(raw)
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return nil, errs.New(errs.MalformedField, "header field missing '=' separator: "+s)
		}
		key, value := s[:eq], s[eq+1:]
		if !knownKeys[key] {
			return nil, errs.New(errs.UnknownKey, "unknown header field key: "+key)
		}
		if h.Has(key) {
			return nil, errs.New(errs.DuplicateKey, "duplicate header field key: "+key)
		}
		h.Set(key, value)
	}
	return h, nil
}

// RequireFields returns HandshakeMissingFields if any of the given keys is
// absent from the header.
func (h *Header) RequireFields(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !h.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return errs.New(errs.HandshakeMissingFields, "missing required header fields: "+strings.Join(missing, ", "))
	}
	return nil
}
