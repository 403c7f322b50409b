package conn

import (
	"context"

	"github.com/marmos91/tcpros/internal/frame"
	"github.com/marmos91/tcpros/internal/handshake"
	"github.com/marmos91/tcpros/internal/header"
	"github.com/marmos91/tcpros/internal/logger"
	"github.com/marmos91/tcpros/internal/registry"
)

// RunTopicServer drives an accepted publisher-side connection: it reads and
// matches the subscriber's subscription header, writes back the
// publication header, then repeatedly transmits whatever the bound
// publisher's queue produces until the connection fails or ctx is
// cancelled.
//
// Transition table (spec §4.3): READING_HEADER_SIZE → READING_HEADER —
// (matched) → WRITING_HEADER → WAIT_FOR_WRITING → START_WRITING → WRITING →
// WAIT_FOR_WRITING (loop).
func RunTopicServer(ctx context.Context, c *Conn, tables *registry.Tables, callerID string, opts handshake.Options) error {
	ctx = c.Context(ctx)

	h, err := c.readHeaderBlock()
	if err != nil {
		c.metrics.RecordHandshake(string(c.Role), "error")
		return err
	}
	return RunTopicServerWithHeader(ctx, c, h, tables, callerID, opts)
}

// RunTopicServerWithHeader drives a topic-server connection whose
// subscription header has already been read off the wire, e.g. by a
// dispatching accept loop that inspects the header to choose between the
// topic-server and service-server drivers before handing the connection
// off.
func RunTopicServerWithHeader(ctx context.Context, c *Conn, h *header.Header, tables *registry.Tables, callerID string, opts handshake.Options) error {
	ctx = c.Context(ctx)

	pub, result, err := handshake.MatchSubscription(h, tables)
	if err != nil {
		c.metrics.RecordHandshake(string(c.Role), "mismatch")
		logger.WarnCtx(ctx, "subscription handshake rejected", logger.Err(err))
		return err
	}
	c.metrics.RecordHandshake(string(c.Role), "ok")
	c.WithTopic(pub.Name)
	c.ApplyTCPNoDelay(result.TCPNoDelay)

	pub.BindConn(c.ID)
	defer pub.UnbindConn(c.ID)

	if err := c.writeHeader([]frame.KV{
		{Key: header.KeyCallerID, Value: callerID},
		{Key: header.KeyTopic, Value: pub.Name},
		{Key: header.KeyType, Value: pub.Type},
		{Key: header.KeyMD5Sum, Value: pub.MD5},
		{Key: header.KeyMessageDefinition, Value: pub.Definition},
		{Key: header.KeyLatching, Value: boolField(c.Latching)},
	}); err != nil {
		return err
	}

	c.setState(StateWaitForWriting)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, ok, wake := pub.PeekHead()
		if !ok {
			select {
			case <-wake:
			case <-ctx.Done():
				return nil
			}
			continue
		}

		c.setState(StateStartWriting)
		if err := c.writePayload(payload); err != nil {
			return err
		}
		c.metrics.RecordDelivery(pub.Name)
		pub.AckTransmit()
		c.setState(StateWaitForWriting)
	}
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
