package conn

import (
	"context"

	"github.com/marmos91/tcpros/internal/frame"
	"github.com/marmos91/tcpros/internal/handshake"
	"github.com/marmos91/tcpros/internal/header"
	"github.com/marmos91/tcpros/internal/logger"
	"github.com/marmos91/tcpros/internal/registry"
)

// RunServiceClient drives a dialed service-caller-side connection: it
// writes the service-call header, reads and matches the provider's
// provision header, then repeatedly builds a request via the caller's
// callback, sends it, and delivers the response back to the same callback,
// preserving strict request→response ordering (testable property 4) for as
// long as the caller is persistent.
//
// Transition table (spec §4.3): WRITING_HEADER → READING_HEADER_SIZE →
// READING_HEADER — (matched) → WAIT_FOR_WRITING → START_WRITING (request) →
// WRITING → READING_SIZE (ok byte + length) → READING (response) →
// WAIT_FOR_WRITING (if persistent) or teardown.
func RunServiceClient(ctx context.Context, c *Conn, tables *registry.Tables, caller *registry.ServiceCaller, callerID string) error {
	ctx = c.Context(ctx)
	c.WithService(caller.Name)

	if err := c.writeHeader([]frame.KV{
		{Key: header.KeyCallerID, Value: callerID},
		{Key: header.KeyService, Value: caller.Name},
		{Key: header.KeyMD5Sum, Value: caller.MD5},
		{Key: header.KeyPersistent, Value: boolField(caller.Persistent)},
	}); err != nil {
		return err
	}

	h, err := c.readHeaderBlock()
	if err != nil {
		c.metrics.RecordHandshake(string(c.Role), "error")
		return err
	}

	_, result, err := handshake.MatchServiceProvision(h, tables, caller.Name)
	if err != nil {
		c.metrics.RecordHandshake(string(c.Role), "mismatch")
		logger.WarnCtx(ctx, "service provision handshake rejected", logger.Err(err))
		return err
	}
	c.metrics.RecordHandshake(string(c.Role), "ok")
	c.ApplyTCPNoDelay(result.TCPNoDelay)
	c.Persistent = caller.Persistent
	c.setState(StateWaitForWriting)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if caller.Callback == nil {
			return nil
		}

		c.setState(StateStartWriting)
		request := caller.Callback(false, nil)
		if err := c.writePayload(request); err != nil {
			return err
		}

		_, response, err := c.readServiceResponse()
		if err != nil {
			return err
		}
		caller.Callback(true, response)

		if !c.Persistent {
			return nil
		}
		c.setState(StateWaitForWriting)
	}
}
