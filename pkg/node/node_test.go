package node

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/tcpros/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodeConfig() config.NodeConfig {
	full := &config.Config{}
	config.ApplyDefaults(full)
	return full.Node
}

// TestPublishSubscribeAcrossTwoNodes exercises the coordinator end to end:
// one node accepts a publisher connection, a second node dials it as a
// subscriber, and a message enqueued on the publisher reaches the
// subscriber's callback.
func TestPublishSubscribeAcrossTwoNodes(t *testing.T) {
	publisherNode := New(Params{CallerID: "/talker", Config: testNodeConfig()})
	require.NoError(t, publisherNode.RegisterPublisher("/chatter", "std_msgs/String", chatterMD5, "", 0, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, publisherNode.Start(ctx, "127.0.0.1:0"))
	defer publisherNode.Destroy()

	delivered := make(chan []byte, 1)
	subscriberNode := New(Params{CallerID: "/listener", Config: testNodeConfig()})
	require.NoError(t, subscriberNode.RegisterSubscriber("/chatter", "std_msgs/String", chatterMD5, func(payload []byte) error {
		delivered <- payload
		return nil
	}))
	require.NoError(t, subscriberNode.Start(ctx, "127.0.0.1:0"))
	defer subscriberNode.Destroy()

	require.NoError(t, subscriberNode.AddPublisherEndpoint("/chatter", publisherNode.listener.Addr().String()))

	// Wait for the dial and handshake to complete before enqueuing.
	time.Sleep(50 * time.Millisecond)
	pub, ok := publisherNode.Tables().Publisher("/chatter")
	require.True(t, ok)
	pub.Enqueue([]byte("hello world"))

	select {
	case payload := <-delivered:
		assert.Equal(t, []byte("hello world"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the published message")
	}
}

// TestServiceCallAcrossTwoNodes exercises a provider node and a caller node
// dialing it, completing a single request/response exchange.
func TestServiceCallAcrossTwoNodes(t *testing.T) {
	providerNode := New(Params{CallerID: "/sum_provider", Config: testNodeConfig()})
	require.NoError(t, providerNode.RegisterServiceProvider("/sum", "t", "req", "resp", "sum-md5",
		func(request []byte) ([]byte, string, bool) {
			return []byte("ok"), "", true
		}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, providerNode.Start(ctx, "127.0.0.1:0"))
	defer providerNode.Destroy()

	responseCh := make(chan []byte, 1)
	callerNode := New(Params{CallerID: "/sum_caller", Config: testNodeConfig()})
	require.NoError(t, callerNode.RegisterServiceCaller("/sum", "t", "req", "resp", "sum-md5", 0, false,
		func(isResponse bool, body []byte) []byte {
			if !isResponse {
				return []byte("request")
			}
			responseCh <- body
			return nil
		}))
	require.NoError(t, callerNode.Start(ctx, "127.0.0.1:0"))
	defer callerNode.Destroy()

	require.NoError(t, callerNode.SetCallerEndpoint("/sum", providerNode.listener.Addr().String()))

	select {
	case body := <-responseCh:
		assert.Equal(t, []byte("ok"), body)
	case <-time.After(2 * time.Second):
		t.Fatal("caller never received a response")
	}
}

const chatterMD5 = "992ce8a1687cec8c8bd883ec73ca41d1"
