package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherFanoutConservation(t *testing.T) {
	p := NewPublisher("/chatter", "std_msgs/String", "md5", "", 100, nil, 16)
	p.BindConn(1)
	p.BindConn(2)

	p.Enqueue([]byte("one"))

	payload, ok, _ := p.PeekHead()
	require.True(t, ok)
	assert.Equal(t, []byte("one"), payload)

	// First ack: not all N connections have transmitted yet.
	popped := p.AckTransmit()
	assert.False(t, popped)
	assert.Equal(t, 1, p.QueueLen())

	// Second ack: both bound connections have now transmitted; pop.
	popped = p.AckTransmit()
	assert.True(t, popped)
	assert.Equal(t, 0, p.QueueLen())
}

func TestPublisherFanoutRearmsOnNextMessage(t *testing.T) {
	p := NewPublisher("/chatter", "std_msgs/String", "md5", "", 100, nil, 16)
	p.BindConn(1)

	p.Enqueue([]byte("one"))
	p.Enqueue([]byte("two"))

	_, ok, _ := p.PeekHead()
	require.True(t, ok)
	popped := p.AckTransmit()
	assert.True(t, popped)
	assert.Equal(t, 1, p.QueueLen())

	payload, ok, _ := p.PeekHead()
	require.True(t, ok)
	assert.Equal(t, []byte("two"), payload)
	popped = p.AckTransmit()
	assert.True(t, popped)
	assert.Equal(t, 0, p.QueueLen())
}

func TestPublisherQueueBoundedDropsOldest(t *testing.T) {
	p := NewPublisher("/chatter", "t", "m", "", 100, nil, 2)
	p.Enqueue([]byte("a"))
	p.Enqueue([]byte("b"))
	p.Enqueue([]byte("c"))
	assert.Equal(t, 2, p.QueueLen())
	payload, _, _ := p.PeekHead()
	assert.Equal(t, []byte("b"), payload)
}

func TestPublisherPeekHeadWakeChannelMatchesSubsequentEnqueue(t *testing.T) {
	p := NewPublisher("/chatter", "t", "m", "", 100, nil, 16)

	_, ok, wake := p.PeekHead()
	require.False(t, ok)

	select {
	case <-wake:
		t.Fatal("wake channel closed before any Enqueue")
	default:
	}

	p.Enqueue([]byte("one"))

	select {
	case <-wake:
	default:
		t.Fatal("wake channel captured alongside the empty peek must be the one Enqueue closes")
	}
}

func TestSubscriberOverflowStillInvokesCallback(t *testing.T) {
	var received [][]byte
	s := NewSubscriber("/chatter", "t", "m", func(payload []byte) error {
		received = append(received, payload)
		return nil
	}, 1)

	require.NoError(t, s.Deliver([]byte("one")))
	assert.False(t, s.Overflow())

	require.NoError(t, s.Deliver([]byte("two")))
	assert.True(t, s.Overflow(), "second delivery should overflow the size-1 queue")
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, received, "callback still invoked on overflow")
}

func TestTablesRejectsDuplicateRegistration(t *testing.T) {
	tables := NewTables()
	require.NoError(t, tables.RegisterPublisher(NewPublisher("/chatter", "t", "m", "", 100, nil, 16)))
	err := tables.RegisterPublisher(NewPublisher("/chatter", "t", "m", "", 100, nil, 16))
	require.Error(t, err)
}

func TestTablesSnapshot(t *testing.T) {
	tables := NewTables()
	require.NoError(t, tables.RegisterPublisher(NewPublisher("/chatter", "std_msgs/String", "m", "", 100, nil, 16)))
	require.NoError(t, tables.RegisterSubscriber(NewSubscriber("/chatter", "std_msgs/String", "m", nil, 16)))

	snap := tables.Snapshot()
	require.Len(t, snap.Publishers, 1)
	require.Len(t, snap.Subscribers, 1)
	assert.Equal(t, "/chatter", snap.Publishers[0].Topic)
}
