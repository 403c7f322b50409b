package conn

import (
	"context"

	"github.com/marmos91/tcpros/internal/frame"
	"github.com/marmos91/tcpros/internal/handshake"
	"github.com/marmos91/tcpros/internal/header"
	"github.com/marmos91/tcpros/internal/logger"
	"github.com/marmos91/tcpros/internal/registry"
)

// RunServiceServer drives an accepted service-provider-side connection.
// A probe handshake (md5sum="*", probe="1") gets the provision header, and
// the driver returns at once with no request/response exchanged (testable
// property 6); closing the socket is left to the caller, as for every
// driver in this package. A regular call gets matched, processes exactly one request, responds,
// and either loops (persistent) or tears down.
//
// Transition table (spec §4.3): READING_HEADER_SIZE → READING_HEADER —
// (matched, not probe) → WRITING_HEADER → READING_SIZE → READING —
// (processed) → WRITING (response) → READING_SIZE (loop, persistent) or
// teardown. If probe: WRITING_HEADER → teardown.
func RunServiceServer(ctx context.Context, c *Conn, tables *registry.Tables, callerID string) error {
	ctx = c.Context(ctx)

	h, err := c.readHeaderBlock()
	if err != nil {
		c.metrics.RecordHandshake(string(c.Role), "error")
		return err
	}
	return RunServiceServerWithHeader(ctx, c, h, tables, callerID)
}

// RunServiceServerWithHeader drives a service-server connection whose
// call/probe header has already been read off the wire, mirroring
// RunTopicServerWithHeader for a dispatching accept loop.
func RunServiceServerWithHeader(ctx context.Context, c *Conn, h *header.Header, tables *registry.Tables, callerID string) error {
	ctx = c.Context(ctx)

	if provider, isProbe, err := handshake.MatchServiceProbe(h, tables); isProbe {
		if err != nil {
			c.metrics.RecordHandshake(string(c.Role), "mismatch")
			return err
		}
		c.WithService(provider.Name)
		c.metrics.RecordHandshake(string(c.Role), "probe")
		logger.InfoCtx(ctx, "service probe handled", logger.Service(provider.Name))
		return c.writeHeader(provisionFields(callerID, provider))
	}

	provider, result, err := handshake.MatchServiceCall(h, tables)
	if err != nil {
		c.metrics.RecordHandshake(string(c.Role), "mismatch")
		logger.WarnCtx(ctx, "service call handshake rejected", logger.Err(err))
		return err
	}
	c.metrics.RecordHandshake(string(c.Role), "ok")
	c.WithService(provider.Name)
	c.ApplyTCPNoDelay(result.TCPNoDelay)
	persistentVal, _ := h.Get(header.KeyPersistent)
	c.Persistent = persistentVal == "1"

	if err := c.writeHeader(provisionFields(callerID, provider)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		request, err := c.readPayload()
		if err != nil {
			return err
		}

		response, errMsg, ok := invokeProvider(provider, request)
		if !ok {
			logger.WarnCtx(ctx, "service callback returned an error", logger.Service(provider.Name))
		}
		if err := c.writeServiceResponse(ok, responseOrError(ok, response, errMsg)); err != nil {
			return err
		}

		if !c.Persistent {
			return nil
		}
		c.setState(StateReadingSize)
	}
}

func invokeProvider(provider *registry.ServiceProvider, request []byte) (response []byte, errMsg string, ok bool) {
	if provider.Callback == nil {
		return nil, "no callback registered", false
	}
	return provider.Callback(request)
}

func responseOrError(ok bool, response []byte, errMsg string) []byte {
	if ok {
		return response
	}
	return []byte(errMsg)
}

func provisionFields(callerID string, provider *registry.ServiceProvider) []frame.KV {
	return []frame.KV{
		{Key: header.KeyCallerID, Value: callerID},
		{Key: header.KeyMD5Sum, Value: provider.MD5},
		{Key: header.KeyType, Value: provider.Type},
		{Key: header.KeyRequestType, Value: provider.RequestType},
		{Key: header.KeyResponseType, Value: provider.ResponseType},
	}
}
