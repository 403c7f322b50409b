package handshake

import (
	"testing"

	"github.com/marmos91/tcpros/internal/errs"
	"github.com/marmos91/tcpros/internal/header"
	"github.com/marmos91/tcpros/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatterMD5 = "992ce8a1687cec8c8bd883ec73ca41d1"

func tablesWithChatterPublisher() *registry.Tables {
	tables := registry.NewTables()
	_ = tables.RegisterPublisher(registry.NewPublisher("/chatter", "std_msgs/String", chatterMD5, "", 100, nil, 16))
	return tables
}

func TestMatchSubscriptionExactMatch(t *testing.T) {
	tables := tablesWithChatterPublisher()
	h := header.New().
		Set(header.KeyCallerID, "/listener").
		Set(header.KeyTopic, "/chatter").
		Set(header.KeyType, "std_msgs/String").
		Set(header.KeyMD5Sum, chatterMD5)

	pub, result, err := MatchSubscription(h, tables)
	require.NoError(t, err)
	assert.Equal(t, "/chatter", pub.Name)
	assert.False(t, result.TCPNoDelay)
}

func TestMatchSubscriptionSingleByteMD5MismatchRejected(t *testing.T) {
	tables := tablesWithChatterPublisher()
	mismatched := "992ce8a1687cec8c8bd883ec73ca41d2" // last byte differs
	h := header.New().
		Set(header.KeyCallerID, "/listener").
		Set(header.KeyTopic, "/chatter").
		Set(header.KeyType, "std_msgs/String").
		Set(header.KeyMD5Sum, mismatched)

	_, _, err := MatchSubscription(h, tables)
	require.Error(t, err)
	assert.Equal(t, errs.HandshakeTopicMismatch, err.(*errs.Error).Code())
}

func TestMatchSubscriptionAllZerosMD5Rejected(t *testing.T) {
	tables := tablesWithChatterPublisher()
	h := header.New().
		Set(header.KeyCallerID, "/listener").
		Set(header.KeyTopic, "/chatter").
		Set(header.KeyType, "std_msgs/String").
		Set(header.KeyMD5Sum, "00000000000000000000000000000000")

	_, _, err := MatchSubscription(h, tables)
	require.Error(t, err)
	assert.Equal(t, errs.HandshakeTopicMismatch, err.(*errs.Error).Code())
}

func TestMatchSubscriptionMissingFieldIsFatal(t *testing.T) {
	tables := tablesWithChatterPublisher()
	h := header.New().Set(header.KeyCallerID, "/listener")
	_, _, err := MatchSubscription(h, tables)
	require.Error(t, err)
	assert.Equal(t, errs.HandshakeMissingFields, err.(*errs.Error).Code())
}

func TestMatchPublicationDoesNotCheckTopicByDefault(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterSubscriber(registry.NewSubscriber("/chatter", "std_msgs/String", chatterMD5, nil, 16))

	h := header.New().
		Set(header.KeyCallerID, "/talker").
		Set(header.KeyType, "std_msgs/String").
		Set(header.KeyMD5Sum, chatterMD5).
		Set(header.KeyTopic, "/unrelated-topic-name")

	_, _, err := MatchPublication(h, tables, "/chatter", Options{StrictPublicationTopic: false})
	require.NoError(t, err, "topic field is untrusted by default per documented behavior")
}

func TestMatchPublicationStrictModeRejectsTopicMismatch(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterSubscriber(registry.NewSubscriber("/chatter", "std_msgs/String", chatterMD5, nil, 16))

	h := header.New().
		Set(header.KeyCallerID, "/talker").
		Set(header.KeyType, "std_msgs/String").
		Set(header.KeyMD5Sum, chatterMD5).
		Set(header.KeyTopic, "/unrelated-topic-name")

	_, _, err := MatchPublication(h, tables, "/chatter", Options{StrictPublicationTopic: true})
	require.Error(t, err)
	assert.Equal(t, errs.HandshakeTopicMismatch, err.(*errs.Error).Code())
}

func TestMatchServiceCallAcceptsSentinelMD5(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterServiceProvider(registry.NewServiceProvider("/sum", "rospy_tutorials/AddTwoInts", "req", "resp", "md5-real", nil))

	h := header.New().
		Set(header.KeyCallerID, "/caller").
		Set(header.KeyService, "/sum").
		Set(header.KeyMD5Sum, header.MD5Sentinel)

	provider, _, err := MatchServiceCall(h, tables)
	require.NoError(t, err)
	assert.Equal(t, "/sum", provider.Name)
}

func TestMatchServiceCallMD5MismatchRejected(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterServiceProvider(registry.NewServiceProvider("/sum", "t", "req", "resp", "md5-real", nil))

	h := header.New().
		Set(header.KeyCallerID, "/caller").
		Set(header.KeyService, "/sum").
		Set(header.KeyMD5Sum, "wrong-md5")

	_, _, err := MatchServiceCall(h, tables)
	require.Error(t, err)
	assert.Equal(t, errs.HandshakeServiceMD5Mismatch, err.(*errs.Error).Code())
}

func TestMatchServiceCallUnknownServiceRejected(t *testing.T) {
	tables := registry.NewTables()
	h := header.New().
		Set(header.KeyCallerID, "/caller").
		Set(header.KeyService, "/nonexistent").
		Set(header.KeyMD5Sum, header.MD5Sentinel)

	_, _, err := MatchServiceCall(h, tables)
	require.Error(t, err)
	assert.Equal(t, errs.HandshakeServiceUnknown, err.(*errs.Error).Code())
}

func TestMatchServiceCallAcceptsMatlabVariantMissingType(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterServiceProvider(registry.NewServiceProvider("/sum", "t", "req", "resp", "md5-real", nil))

	h := header.New().
		Set(header.KeyCallerID, "/caller").
		Set(header.KeyService, "/sum").
		Set(header.KeyMD5Sum, "md5-real")
		// no "type" field at all — matlab variant

	_, _, err := MatchServiceCall(h, tables)
	require.NoError(t, err)
}

func TestMatchServiceProbeRequiresProbeAndSentinel(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterServiceProvider(registry.NewServiceProvider("/sum", "t", "req", "resp", "md5-real", nil))

	h := header.New().
		Set(header.KeyCallerID, "/caller").
		Set(header.KeyService, "/sum").
		Set(header.KeyMD5Sum, header.MD5Sentinel).
		Set(header.KeyProbe, "1")

	provider, isProbe, err := MatchServiceProbe(h, tables)
	require.NoError(t, err)
	assert.True(t, isProbe)
	assert.Equal(t, "/sum", provider.Name)
}

func TestMatchServiceProbeFalseWithoutProbeFlag(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterServiceProvider(registry.NewServiceProvider("/sum", "t", "req", "resp", "md5-real", nil))

	h := header.New().
		Set(header.KeyCallerID, "/caller").
		Set(header.KeyService, "/sum").
		Set(header.KeyMD5Sum, header.MD5Sentinel)

	_, isProbe, err := MatchServiceProbe(h, tables)
	require.NoError(t, err)
	assert.False(t, isProbe)
}

func TestMatchServiceProvisionValidatesAllPresentFields(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterServiceCaller(registry.NewServiceCaller("/sum", "t", "req", "resp", "md5-real", 0, false, nil))

	h := header.New().
		Set(header.KeyCallerID, "/provider").
		Set(header.KeyMD5Sum, "md5-real").
		Set(header.KeyType, "t").
		Set(header.KeyRequestType, "req").
		Set(header.KeyResponseType, "resp")

	caller, _, err := MatchServiceProvision(h, tables, "/sum")
	require.NoError(t, err)
	assert.Equal(t, "/sum", caller.Name)
}

func TestMatchServiceProvisionRejectsTypeMismatch(t *testing.T) {
	tables := registry.NewTables()
	_ = tables.RegisterServiceCaller(registry.NewServiceCaller("/sum", "t", "req", "resp", "md5-real", 0, false, nil))

	h := header.New().
		Set(header.KeyMD5Sum, "md5-real").
		Set(header.KeyType, "wrong-type")

	_, _, err := MatchServiceProvision(h, tables, "/sum")
	require.Error(t, err)
}
