// Package frame implements the TCPROS/RPCROS wire primitives: the
// little-endian u32 length prefix, the length-prefixed payload frame, and
// the length-prefixed header block of "key=value" fields.
//
// The codec never interprets field semantics; that is internal/header's job.
package frame

import (
	"encoding/binary"

	"github.com/marmos91/tcpros/internal/errs"
)

// Buffer is the explicit {bytes, read_cursor, write_cursor} value object
// called for in the design notes, replacing raw pointer-cursor bookkeeping.
// A zero Buffer is ready to use.
type Buffer struct {
	bytes       []byte
	readCursor  int
	writeCursor int
}

// NewBuffer wraps an existing byte slice for reading from the start.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{bytes: b, writeCursor: len(b)}
}

// Bytes returns the unread-and-beyond slice of the buffer, i.e. everything
// written so far regardless of read position.
func (b *Buffer) Bytes() []byte {
	return b.bytes[:b.writeCursor]
}

// Unread returns the slice still to be consumed by reads.
func (b *Buffer) Unread() []byte {
	return b.bytes[b.readCursor:b.writeCursor]
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return b.writeCursor - b.readCursor
}

// ReadCursor returns the current read position, usable as a save point that
// Restore can roll back to after a short-frame error mid-decode.
func (b *Buffer) ReadCursor() int {
	return b.readCursor
}

// Restore rolls the read cursor back to a previously saved position. This is
// the mechanism by which a matcher call (or a short-frame retry) leaves the
// buffer exactly as it found it on failure.
func (b *Buffer) Restore(cursor int) {
	b.readCursor = cursor
}

// Append grows the buffer with more bytes received off the wire, e.g. from a
// single Read() call, and reports whether the result would exceed ceiling
// (0 disables the check).
func (b *Buffer) Append(data []byte, ceiling int) error {
	if ceiling > 0 && b.writeCursor+len(data) > ceiling {
		return errs.New(errs.BufferCeilingExceeded, "incoming buffer would exceed configured ceiling")
	}
	b.bytes = append(b.bytes[:b.writeCursor], data...)
	b.writeCursor = len(b.bytes)
	return nil
}

// Compact discards already-read bytes, sliding the remainder to the front.
// Call this periodically once a connection has consumed a large prefix to
// bound memory growth on long-lived streaming connections.
func (b *Buffer) Compact() {
	if b.readCursor == 0 {
		return
	}
	n := copy(b.bytes, b.bytes[b.readCursor:b.writeCursor])
	b.bytes = b.bytes[:n]
	b.writeCursor = n
	b.readCursor = 0
}

// Reset empties the buffer entirely, retaining the underlying array.
func (b *Buffer) Reset() {
	b.bytes = b.bytes[:0]
	b.readCursor = 0
	b.writeCursor = 0
}

// ReadU32 consumes 4 bytes from the cursor and returns their little-endian
// value. It fails with ShortFrame (and leaves the cursor unchanged) if fewer
// than 4 bytes are available.
func ReadU32(b *Buffer) (uint32, error) {
	if b.Len() < 4 {
		return 0, errs.New(errs.ShortFrame, "fewer than 4 bytes available for u32")
	}
	v := binary.LittleEndian.Uint32(b.bytes[b.readCursor : b.readCursor+4])
	b.readCursor += 4
	return v, nil
}

// ReadFrame reads a u32 length n, then returns a view of the next n bytes
// and advances the cursor past them. On ShortFrame the cursor is left
// exactly where it was before the call, so the caller may retry once more
// bytes have arrived.
func ReadFrame(b *Buffer) ([]byte, error) {
	save := b.readCursor
	n, err := ReadU32(b)
	if err != nil {
		b.Restore(save)
		return nil, err
	}
	if b.Len() < int(n) {
		b.Restore(save)
		return nil, errs.New(errs.ShortFrame, "fewer bytes available than declared frame length")
	}
	view := b.bytes[b.readCursor : b.readCursor+int(n)]
	b.readCursor += int(n)
	return view, nil
}

// WriteU32 appends a little-endian u32 to the buffer's write end.
func WriteU32(b *Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.bytes = append(b.bytes[:b.writeCursor], tmp[:]...)
	b.writeCursor = len(b.bytes)
}

// WriteRaw appends raw bytes to the buffer's write end, unprefixed.
func WriteRaw(b *Buffer, data []byte) {
	b.bytes = append(b.bytes[:b.writeCursor], data...)
	b.writeCursor = len(b.bytes)
}

// WritePayload appends u32(len(payload)) followed by payload.
func WritePayload(b *Buffer, payload []byte) {
	WriteU32(b, uint32(len(payload)))
	WriteRaw(b, payload)
}

// WriteField appends u32(len(key)+1+len(value)) | key | "=" | value.
func WriteField(b *Buffer, key, value string) {
	fieldLen := len(key) + 1 + len(value)
	WriteU32(b, uint32(fieldLen))
	WriteRaw(b, []byte(key))
	WriteRaw(b, []byte{'='})
	WriteRaw(b, []byte(value))
}

// WriteHeader reserves 4 bytes for the total length, writes each field in
// the order given, then back-patches the total length.
func WriteHeader(b *Buffer, fields []KV) {
	start := b.writeCursor
	WriteU32(b, 0) // placeholder, back-patched below
	for _, f := range fields {
		WriteField(b, f.Key, f.Value)
	}
	total := uint32(b.writeCursor - start - 4)
	binary.LittleEndian.PutUint32(b.bytes[start:start+4], total)
}

// KV is an ordered key/value pair, used when writing a header block since
// field order on the wire must match the order the caller supplies.
type KV struct {
	Key   string
	Value string
}

// ReadHeaderBlock reads the outer u32 total_len and returns a Buffer scoped
// to exactly that many bytes of field data, for internal/header to parse
// field-by-field. Semantics mirror ReadFrame: ShortFrame leaves the cursor
// untouched.
func ReadHeaderBlock(b *Buffer) (*Buffer, error) {
	raw, err := ReadFrame(b)
	if err != nil {
		return nil, err
	}
	return NewBuffer(raw), nil
}
