package header

import (
	"testing"

	"github.com/marmos91/tcpros/internal/errs"
	"github.com/marmos91/tcpros/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, fields []frame.KV) *frame.Buffer {
	t.Helper()
	var out frame.Buffer
	frame.WriteHeader(&out, fields)
	in := frame.NewBuffer(out.Bytes())
	block, err := frame.ReadHeaderBlock(in)
	require.NoError(t, err)
	return block
}

func TestParseRoundTrip(t *testing.T) {
	block := encode(t, []frame.KV{
		{Key: KeyCallerID, Value: "/talker"},
		{Key: KeyTopic, Value: "/chatter"},
		{Key: KeyType, Value: "std_msgs/String"},
		{Key: KeyMD5Sum, Value: "992ce8a1687cec8c8bd883ec73ca41d1"},
	})

	h, err := Parse(block)
	require.NoError(t, err)

	v, ok := h.Get(KeyTopic)
	assert.True(t, ok)
	assert.Equal(t, "/chatter", v)
	assert.NoError(t, h.RequireFields(KeyCallerID, KeyTopic, KeyType, KeyMD5Sum))
}

func TestParseDuplicateKeyIsMalformed(t *testing.T) {
	block := encode(t, []frame.KV{
		{Key: KeyCallerID, Value: "/talker"},
		{Key: KeyCallerID, Value: "/other"},
	})
	_, err := Parse(block)
	require.Error(t, err)
	assert.Equal(t, errs.DuplicateKey, err.(*errs.Error).Code())
}

func TestParseUnknownKeyIsRejected(t *testing.T) {
	block := encode(t, []frame.KV{
		{Key: "bogus_field", Value: "x"},
	})
	_, err := Parse(block)
	require.Error(t, err)
	assert.Equal(t, errs.UnknownKey, err.(*errs.Error).Code())
}

func TestParseMalformedFieldMissingEquals(t *testing.T) {
	var out frame.Buffer
	start := out.Len()
	_ = start
	// Hand-construct a header block with one field lacking '='.
	var inner frame.Buffer
	frame.WriteU32(&inner, uint32(len("novalue")))
	frame.WriteRaw(&inner, []byte("novalue"))

	var wrapped frame.Buffer
	frame.WriteU32(&wrapped, uint32(inner.Len()))
	frame.WriteRaw(&wrapped, inner.Bytes())

	in := frame.NewBuffer(wrapped.Bytes())
	block, err := frame.ReadHeaderBlock(in)
	require.NoError(t, err)

	_, err = Parse(block)
	require.Error(t, err)
	assert.Equal(t, errs.MalformedField, err.(*errs.Error).Code())
}

func TestRequireFieldsReportsMissing(t *testing.T) {
	h := New().Set(KeyCallerID, "/talker")
	err := h.RequireFields(KeyCallerID, KeyTopic)
	require.Error(t, err)
	assert.Equal(t, errs.HandshakeMissingFields, err.(*errs.Error).Code())
}

func TestMD5Sentinel(t *testing.T) {
	h := New().Set(KeyMD5Sum, MD5Sentinel)
	assert.True(t, h.MD5IsSentinel())

	h2 := New().Set(KeyMD5Sum, "992ce8a1687cec8c8bd883ec73ca41d1")
	assert.False(t, h2.MD5IsSentinel())

	h3 := New()
	assert.False(t, h3.MD5IsSentinel())
}
