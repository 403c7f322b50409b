package conn

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/marmos91/tcpros/internal/errs"
	"github.com/marmos91/tcpros/internal/frame"
	"github.com/marmos91/tcpros/internal/handshake"
	"github.com/marmos91/tcpros/internal/header"
	"github.com/marmos91/tcpros/internal/metrics"
	"github.com/marmos91/tcpros/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatterMD5 = "992ce8a1687cec8c8bd883ec73ca41d1"

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func testConfig() Config {
	return Config{BufferCeiling: 1 << 20, InactivityTimeout: 2 * time.Second}
}

// writeSubscriptionHeader writes a raw subscription header directly onto
// conn, bypassing RunTopicClient, so tests can exercise handshake
// rejection paths without a cooperating client driver.
func writeSubscriptionHeader(t *testing.T, nc net.Conn, callerID, topic, typ, md5 string) {
	t.Helper()
	var out frame.Buffer
	frame.WriteHeader(&out, []frame.KV{
		{Key: header.KeyCallerID, Value: callerID},
		{Key: header.KeyTopic, Value: topic},
		{Key: header.KeyType, Value: typ},
		{Key: header.KeyMD5Sum, Value: md5},
	})
	_, err := nc.Write(out.Bytes())
	require.NoError(t, err)
}

func readU32Raw(t *testing.T, nc net.Conn) uint32 {
	t.Helper()
	var buf [4]byte
	_, err := nc.Read(buf[:])
	require.NoError(t, err)
	return binary.LittleEndian.Uint32(buf[:])
}

// TestS1PublishHelloWorld exercises the full publisher/subscriber round
// trip: a subscriber connects, both sides run their real state machine
// drivers, and the subscriber's callback observes the published payload.
func TestS1PublishHelloWorld(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	tables := registry.NewTables()
	pub := registry.NewPublisher("/chatter", "std_msgs/String", chatterMD5, "", 100, nil, 16)
	require.NoError(t, tables.RegisterPublisher(pub))

	delivered := make(chan []byte, 1)
	sub := registry.NewSubscriber("/chatter", "std_msgs/String", chatterMD5, func(payload []byte) error {
		delivered <- payload
		return nil
	}, 16)
	require.NoError(t, tables.RegisterSubscriber(sub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverConn := New(1, RoleTopicServer, serverSide, testConfig(), testMetrics())
	clientConn := New(2, RoleTopicClient, clientSide, testConfig(), testMetrics())

	go RunTopicServer(ctx, serverConn, tables, "/talker", handshake.Options{})
	go RunTopicClient(ctx, clientConn, tables, sub, "/listener", handshake.Options{})

	// Give the handshake a moment to complete, then enqueue a message.
	time.Sleep(20 * time.Millisecond)
	pub.Enqueue([]byte("hi"))

	select {
	case payload := <-delivered:
		assert.Equal(t, []byte("hi"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber callback never invoked")
	}
}

// TestS2MD5MismatchClosesWithoutPayload exercises the publisher-side
// rejection of a subscription header whose md5sum does not match the
// registered publisher's, asserting the specific error code.
func TestS2MD5MismatchClosesWithoutPayload(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	tables := registry.NewTables()
	pub := registry.NewPublisher("/chatter", "std_msgs/String", chatterMD5, "", 100, nil, 16)
	require.NoError(t, tables.RegisterPublisher(pub))

	serverConn := New(1, RoleTopicServer, serverSide, testConfig(), testMetrics())

	errCh := make(chan error, 1)
	go func() {
		errCh <- RunTopicServer(context.Background(), serverConn, tables, "/talker", handshake.Options{})
	}()

	writeSubscriptionHeader(t, clientSide, "/listener", "/chatter", "std_msgs/String", "00000000000000000000000000000000")

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, errs.HandshakeTopicMismatch, err.(*errs.Error).Code())
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never rejected the mismatched handshake")
	}
	assert.Equal(t, 0, pub.BoundCount())
}

// TestS3SumService exercises a single request/response service call.
func TestS3SumService(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	tables := registry.NewTables()
	provider := registry.NewServiceProvider("/sum", "rospy_tutorials/AddTwoInts", "req", "resp", "sum-md5",
		func(request []byte) (response []byte, errMsg string, ok bool) {
			// The request body is two back-to-back int64 fields; the
			// outer payload frame already carries the total length, so
			// there is no inner length prefix to decode here.
			a := int64(binary.LittleEndian.Uint64(request[0:8]))
			b := int64(binary.LittleEndian.Uint64(request[8:16]))
			sum := a + b
			out := make([]byte, 8)
			binary.LittleEndian.PutUint64(out, uint64(sum))
			return out, "", true
		})
	require.NoError(t, tables.RegisterServiceProvider(provider))

	caller := registry.NewServiceCaller("/sum", "rospy_tutorials/AddTwoInts", "req", "resp", "sum-md5", 0, false, nil)
	require.NoError(t, tables.RegisterServiceCaller(caller))

	responseCh := make(chan []byte, 1)
	caller.Callback = func(isResponse bool, body []byte) []byte {
		if !isResponse {
			req := make([]byte, 16)
			binary.LittleEndian.PutUint64(req[0:8], uint64(7))
			binary.LittleEndian.PutUint64(req[8:16], uint64(5))
			return req
		}
		responseCh <- body
		return nil
	}

	serverConn := New(1, RoleServiceServer, serverSide, testConfig(), testMetrics())
	clientConn := New(2, RoleServiceClient, clientSide, testConfig(), testMetrics())

	go RunServiceServer(context.Background(), serverConn, tables, "/sum_provider")
	go RunServiceClient(context.Background(), clientConn, tables, caller, "/sum_caller")

	select {
	case body := <-responseCh:
		require.Len(t, body, 8)
		sum := int64(binary.LittleEndian.Uint64(body))
		assert.Equal(t, int64(12), sum)
	case <-time.After(2 * time.Second):
		t.Fatal("service call never completed")
	}
}

// TestS4ServiceProbeNoPayloadExchanged exercises the probe handshake: the
// provider sends its provision header and returns, with no request or
// response frame.
func TestS4ServiceProbeNoPayloadExchanged(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	tables := registry.NewTables()
	invoked := false
	provider := registry.NewServiceProvider("/sum", "t", "req", "resp", "sum-md5",
		func(request []byte) ([]byte, string, bool) {
			invoked = true
			return nil, "", true
		})
	require.NoError(t, tables.RegisterServiceProvider(provider))

	errCh := make(chan error, 1)
	go func() {
		errCh <- RunServiceServer(context.Background(), serverConnForProbe(t, serverSide), tables, "/sum_provider")
	}()

	var out frame.Buffer
	frame.WriteHeader(&out, []frame.KV{
		{Key: header.KeyCallerID, Value: "/prober"},
		{Key: header.KeyService, Value: "/sum"},
		{Key: header.KeyMD5Sum, Value: header.MD5Sentinel},
		{Key: header.KeyProbe, Value: "1"},
	})
	_, err := clientSide.Write(out.Bytes())
	require.NoError(t, err)

	// Read the provision header back; the provider driver must then return
	// without reading a request.
	total := readU32Raw(t, clientSide)
	body := make([]byte, total)
	_, err = clientSide.Read(body)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("provider never returned after probe")
	}
	assert.False(t, invoked, "probe must not invoke the service callback")
}

func serverConnForProbe(t *testing.T, nc net.Conn) *Conn {
	t.Helper()
	return New(1, RoleServiceServer, nc, testConfig(), testMetrics())
}

// TestPersistentServiceOrdering exercises testable property 4: K sequential
// calls on a persistent connection return responses in request order.
func TestPersistentServiceOrdering(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	tables := registry.NewTables()
	provider := registry.NewServiceProvider("/echo", "t", "req", "resp", "echo-md5",
		func(request []byte) ([]byte, string, bool) {
			return request, "", true
		})
	require.NoError(t, tables.RegisterServiceProvider(provider))

	caller := registry.NewServiceCaller("/echo", "t", "req", "resp", "echo-md5", 0, true, nil)
	require.NoError(t, tables.RegisterServiceCaller(caller))

	const k = 5
	var next byte
	responses := make(chan byte, k)
	done := make(chan struct{})
	caller.Callback = func(isResponse bool, body []byte) []byte {
		if !isResponse {
			req := []byte{next}
			next++
			if next > k {
				close(done)
			}
			return req
		}
		responses <- body[0]
		return nil
	}

	serverConn := New(1, RoleServiceServer, serverSide, testConfig(), testMetrics())
	clientConn := New(2, RoleServiceClient, clientSide, testConfig(), testMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go RunServiceServer(ctx, serverConn, tables, "/echo_provider")
	go RunServiceClient(ctx, clientConn, tables, caller, "/echo_caller")

	var got []byte
	for i := 0; i < k; i++ {
		select {
		case b := <-responses:
			got = append(got, b)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for response %d", i)
		}
	}
	for i, b := range got {
		assert.Equal(t, byte(i), b, "responses must arrive in request order")
	}
}
