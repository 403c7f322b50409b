// Package handshake validates an inbound handshake header against a role
// and matches it against the node's registered publishers, subscribers,
// service providers, and service callers.
package handshake

import (
	"github.com/marmos91/tcpros/internal/errs"
	"github.com/marmos91/tcpros/internal/header"
	"github.com/marmos91/tcpros/internal/registry"
)

// Options configures the matcher's Open-Question-driven strictness knobs.
type Options struct {
	// StrictPublicationTopic additionally requires a publication header's
	// topic field, when present, to match the subscriber's topic name.
	// Default false preserves the documented (type, md5sum)-only check.
	StrictPublicationTopic bool
}

// Result carries the outcome of a successful match: the bound registry
// entry and whether the peer asked for TCP_NODELAY.
type Result struct {
	TCPNoDelay bool
}

// MatchSubscription validates an inbound subscription header (publisher
// side) against the required field mask and looks up a local publisher by
// exact (topic, type, md5) equality.
func MatchSubscription(h *header.Header, tables *registry.Tables) (*registry.Publisher, *Result, error) {
	if err := h.RequireFields(header.KeyCallerID, header.KeyTopic, header.KeyMD5Sum, header.KeyType); err != nil {
		return nil, nil, err
	}

	topic, _ := h.Get(header.KeyTopic)
	typ, _ := h.Get(header.KeyType)
	md5, _ := h.Get(header.KeyMD5Sum)

	pub, ok := tables.Publisher(topic)
	if !ok || pub.Type != typ || pub.MD5 != md5 {
		return nil, nil, errs.New(errs.HandshakeTopicMismatch, "no publisher matches (topic, type, md5) exactly")
	}

	return pub, result(h), nil
}

// MatchPublication validates an inbound publication header (subscriber
// side) against a local subscriber by (type, md5sum); topic identity is
// trusted from the subscriber's own configuration. See SPEC_FULL.md open
// question 1 for StrictPublicationTopic.
func MatchPublication(h *header.Header, tables *registry.Tables, subscriberTopic string, opts Options) (*registry.Subscriber, *Result, error) {
	if err := h.RequireFields(header.KeyCallerID, header.KeyMD5Sum, header.KeyType); err != nil {
		return nil, nil, err
	}

	typ, _ := h.Get(header.KeyType)
	md5, _ := h.Get(header.KeyMD5Sum)

	sub, ok := tables.Subscriber(subscriberTopic)
	if !ok || sub.Type != typ || sub.MD5 != md5 {
		return nil, nil, errs.New(errs.HandshakeTopicMismatch, "publication header does not match local subscriber (type, md5)")
	}

	if opts.StrictPublicationTopic {
		if topic, present := h.Get(header.KeyTopic); present && topic != subscriberTopic {
			return nil, nil, errs.New(errs.HandshakeTopicMismatch, "publication header topic does not match subscriber topic (strict mode)")
		}
	}

	return sub, result(h), nil
}

// MatchServiceCall validates an inbound service-call header (provider
// side). Both the standard field set and the "matlab variant" (missing
// type) are accepted — type, if present, is not cross-checked, per the
// design notes' open question 2.
func MatchServiceCall(h *header.Header, tables *registry.Tables) (*registry.ServiceProvider, *Result, error) {
	if err := h.RequireFields(header.KeyCallerID, header.KeyService, header.KeyMD5Sum); err != nil {
		return nil, nil, err
	}

	service, _ := h.Get(header.KeyService)
	md5, _ := h.Get(header.KeyMD5Sum)

	provider, ok := tables.ServiceProvider(service)
	if !ok {
		return nil, nil, errs.New(errs.HandshakeServiceUnknown, "no service provider registered for "+service)
	}
	if md5 != header.MD5Sentinel && md5 != provider.MD5 {
		return nil, nil, errs.New(errs.HandshakeServiceMD5Mismatch, "service call md5 does not match provider's registered md5")
	}

	return provider, result(h), nil
}

// MatchServiceProbe validates an inbound service-probe header (provider
// side): same name lookup as a call, but md5sum must equal the sentinel and
// probe must equal "1".
func MatchServiceProbe(h *header.Header, tables *registry.Tables) (*registry.ServiceProvider, bool, error) {
	if err := h.RequireFields(header.KeyCallerID, header.KeyService, header.KeyMD5Sum); err != nil {
		return nil, false, err
	}

	probeVal, hasProbe := h.Get(header.KeyProbe)
	isProbe := hasProbe && probeVal == "1" && h.MD5IsSentinel()
	if !isProbe {
		return nil, false, nil
	}

	service, _ := h.Get(header.KeyService)
	provider, ok := tables.ServiceProvider(service)
	if !ok {
		return nil, true, errs.New(errs.HandshakeServiceUnknown, "no service provider registered for "+service)
	}
	return provider, true, nil
}

// MatchServiceProvision validates an inbound service-provision header
// (caller side): service (if present), md5sum, type, request_type (if
// present), and response_type (if present) must all match the local
// service caller's expectations. Any mismatch is fatal for the connection.
func MatchServiceProvision(h *header.Header, tables *registry.Tables, callerName string) (*registry.ServiceCaller, *Result, error) {
	if err := h.RequireFields(header.KeyMD5Sum, header.KeyType); err != nil {
		return nil, nil, err
	}

	caller, ok := tables.ServiceCaller(callerName)
	if !ok {
		return nil, nil, errs.New(errs.HandshakeServiceUnknown, "no local service caller registered for "+callerName)
	}

	if service, present := h.Get(header.KeyService); present && service != callerName {
		return nil, nil, errs.New(errs.HandshakeServiceUnknown, "provision header service does not match caller")
	}
	if md5, _ := h.Get(header.KeyMD5Sum); md5 != caller.MD5 {
		return nil, nil, errs.New(errs.HandshakeServiceMD5Mismatch, "provision header md5 does not match caller")
	}
	if typ, _ := h.Get(header.KeyType); typ != caller.Type {
		return nil, nil, errs.New(errs.HandshakeTopicMismatch, "provision header type does not match caller")
	}
	if reqType, present := h.Get(header.KeyRequestType); present && reqType != caller.RequestType {
		return nil, nil, errs.New(errs.HandshakeTopicMismatch, "provision header request_type does not match caller")
	}
	if respType, present := h.Get(header.KeyResponseType); present && respType != caller.ResponseType {
		return nil, nil, errs.New(errs.HandshakeTopicMismatch, "provision header response_type does not match caller")
	}

	return caller, result(h), nil
}

func result(h *header.Header) *Result {
	nodelay, _ := h.Get(header.KeyTCPNoDelay)
	return &Result{TCPNoDelay: nodelay == "1"}
}
