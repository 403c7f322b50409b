package conn

import (
	"context"

	"github.com/marmos91/tcpros/internal/frame"
	"github.com/marmos91/tcpros/internal/handshake"
	"github.com/marmos91/tcpros/internal/header"
	"github.com/marmos91/tcpros/internal/logger"
	"github.com/marmos91/tcpros/internal/registry"
)

// RunTopicClient drives a dialed subscriber-side connection: it writes the
// subscription header, reads and matches the publisher's publication
// header, then repeatedly reads payload frames and delivers them to the
// subscriber's callback until the connection fails or ctx is cancelled.
//
// Transition table (spec §4.3): WRITING_HEADER → READING_HEADER_SIZE →
// READING_HEADER — (matched) → READING_SIZE → READING — (delivered) →
// READING_SIZE (loop).
func RunTopicClient(ctx context.Context, c *Conn, tables *registry.Tables, sub *registry.Subscriber, callerID string, opts handshake.Options) error {
	ctx = c.Context(ctx)
	c.WithTopic(sub.Name)

	if err := c.writeHeader([]frame.KV{
		{Key: header.KeyCallerID, Value: callerID},
		{Key: header.KeyTopic, Value: sub.Name},
		{Key: header.KeyMD5Sum, Value: sub.MD5},
		{Key: header.KeyType, Value: sub.Type},
	}); err != nil {
		return err
	}

	h, err := c.readHeaderBlock()
	if err != nil {
		c.metrics.RecordHandshake(string(c.Role), "error")
		return err
	}

	_, result, err := handshake.MatchPublication(h, tables, sub.Name, opts)
	if err != nil {
		c.metrics.RecordHandshake(string(c.Role), "mismatch")
		logger.WarnCtx(ctx, "publication handshake rejected", logger.Err(err))
		return err
	}
	c.metrics.RecordHandshake(string(c.Role), "ok")
	c.ApplyTCPNoDelay(result.TCPNoDelay)

	sub.BindConn(c.ID)
	defer sub.UnbindConn(c.ID)

	c.setState(StateReadingSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, err := c.readPayload()
		if err != nil {
			return err
		}

		if err := sub.Deliver(payload); err != nil {
			logger.WarnCtx(ctx, "subscriber callback returned an error", logger.Err(err))
		}
		c.metrics.RecordDelivery(sub.Name)
		c.setState(StateReadingSize)
	}
}
