// Package node implements the §4.4 node coordinator: the container that
// owns the four registration tables, the pool of live connections, and the
// dial/accept loops that drive internal/conn's per-role state machines over
// real sockets.
//
// The source's coordinator is a single-threaded cooperative event loop
// polling non-blocking descriptors (spec.md §5); this implementation keeps
// its public contract — register, start, destroy, aggregated error code —
// but runs one goroutine per connection, the same substitution
// internal/conn documents for the per-connection state machines.
package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/tcpros/internal/conn"
	"github.com/marmos91/tcpros/internal/errs"
	"github.com/marmos91/tcpros/internal/handshake"
	"github.com/marmos91/tcpros/internal/header"
	"github.com/marmos91/tcpros/internal/logger"
	"github.com/marmos91/tcpros/internal/metrics"
	"github.com/marmos91/tcpros/internal/registry"
	"github.com/marmos91/tcpros/pkg/config"
)

// ConnID is an opaque per-connection identifier handed out by the node,
// replacing the source's reused free-list slot index (SPEC_FULL.md
// ORIGINAL-SOURCE SUPPLEMENTS).
type ConnID uint64

// Params configures a Node at construction time, mirroring the fields the
// distilled spec's start()/register_* calls take plus the knobs
// SPEC_FULL.md's config layer adds.
type Params struct {
	// CallerID identifies this node to peers in every handshake's callerid
	// field. Defaults to a generated node name if empty.
	CallerID string

	Config  config.NodeConfig
	Metrics *metrics.Metrics
}

// Node owns the four registries, the pool of live connections, and the
// accept/dial loops driving them.
type Node struct {
	callerID string
	cfg      config.NodeConfig
	metrics  *metrics.Metrics
	tables   *registry.Tables

	listener net.Listener

	mu          sync.Mutex
	conns       map[ConnID]*conn.Conn
	nextConnID  ConnID
	subEndpoints map[string][]string // subscriber topic -> "host:port" list, set by AddPublisherEndpoint
	callerEndpoints map[string]string // service caller name -> "host:port"

	errMu     sync.Mutex
	worstCode errs.Code

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Node ready for registration calls. Call Start to begin
// accepting/dialing connections.
func New(p Params) *Node {
	callerID := p.CallerID
	if callerID == "" {
		callerID = "/node_" + uuid.New().String()[:8]
	}
	if p.Metrics == nil {
		p.Metrics = metrics.NullMetrics()
	}
	return &Node{
		callerID:        callerID,
		cfg:             p.Config,
		metrics:         p.Metrics,
		tables:          registry.NewTables(),
		conns:           make(map[ConnID]*conn.Conn),
		subEndpoints:    make(map[string][]string),
		callerEndpoints: make(map[string]string),
	}
}

// RegisterPublisher registers a topic publisher, scheduling its periodic
// callback once Start runs.
func (n *Node) RegisterPublisher(name, typ, md5, definition string, periodMillis int, cb registry.PubCallback) error {
	pub := registry.NewPublisher(name, typ, md5, definition, periodMillis, cb, n.cfg.PublisherQueueCapacity)
	return n.tables.RegisterPublisher(pub)
}

// RegisterSubscriber registers a topic subscriber. Publisher endpoints to
// dial are supplied separately via AddPublisherEndpoint (the distilled spec
// leaves peer discovery — e.g. a master/roscore — out of scope).
func (n *Node) RegisterSubscriber(name, typ, md5 string, cb registry.SubCallback) error {
	sub := registry.NewSubscriber(name, typ, md5, cb, n.cfg.SubscriberQueueCapacity)
	return n.tables.RegisterSubscriber(sub)
}

// RegisterServiceProvider registers a service provider, reachable by
// callers that dial this node's listener.
func (n *Node) RegisterServiceProvider(name, typ, reqType, respType, md5 string, cb registry.ServiceCallback) error {
	provider := registry.NewServiceProvider(name, typ, reqType, respType, md5, cb)
	return n.tables.RegisterServiceProvider(provider)
}

// RegisterServiceCaller registers a service caller that dials a known
// provider endpoint, supplied via SetCallerEndpoint.
func (n *Node) RegisterServiceCaller(name, typ, reqType, respType, md5 string, periodMillis int, persistent bool, cb registry.CallerCallback) error {
	caller := registry.NewServiceCaller(name, typ, reqType, respType, md5, periodMillis, persistent, cb)
	return n.tables.RegisterServiceCaller(caller)
}

// AddPublisherEndpoint records a "host:port" a registered subscriber should
// dial. Start (and any call after Start) spawns a dial loop for each
// endpoint; adding an endpoint already recorded for the topic is a no-op.
func (n *Node) AddPublisherEndpoint(topic, hostPort string) error {
	sub, ok := n.tables.Subscriber(topic)
	if !ok {
		return fmt.Errorf("no subscriber registered for topic %q", topic)
	}
	sub.AddPublisherEndpoint(hostPort)

	n.mu.Lock()
	for _, hp := range n.subEndpoints[topic] {
		if hp == hostPort {
			n.mu.Unlock()
			return nil
		}
	}
	n.subEndpoints[topic] = append(n.subEndpoints[topic], hostPort)
	running := n.ctx != nil
	n.mu.Unlock()

	if running {
		n.wg.Add(1)
		go n.dialSubscriber(topic, sub, hostPort)
	}
	return nil
}

// SetCallerEndpoint records the "host:port" a registered service caller
// should dial. Start (and any call after Start) spawns a dial loop.
func (n *Node) SetCallerEndpoint(service, hostPort string) error {
	caller, ok := n.tables.ServiceCaller(service)
	if !ok {
		return fmt.Errorf("no service caller registered for %q", service)
	}

	n.mu.Lock()
	n.callerEndpoints[service] = hostPort
	running := n.ctx != nil
	n.mu.Unlock()

	if running {
		n.wg.Add(1)
		go n.dialServiceCaller(service, caller, hostPort)
	}
	return nil
}

// Tables exposes the registries for pkg/admin's /debug/registries endpoint.
func (n *Node) Tables() *registry.Tables { return n.tables }

// CallerID returns the identifier this node presents in every handshake's
// callerid field.
func (n *Node) CallerID() string { return n.callerID }

// ListenAddr returns the address the node's listener is bound to, once
// Start has succeeded. Returns "" before Start; after Destroy it still
// returns the address the closed listener was bound to.
func (n *Node) ListenAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// ConnSnapshot describes one live connection for pkg/admin's registries
// dump, independent of conn.Conn's internal state so the admin package
// doesn't need write access to it.
type ConnSnapshot struct {
	ID         ConnID
	Role       string
	RemoteAddr string
	State      string
	TCPConn    *net.TCPConn
}

// Conns returns a point-in-time snapshot of every live connection this
// node is driving.
func (n *Node) Conns() []ConnSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ConnSnapshot, 0, len(n.conns))
	for id, c := range n.conns {
		out = append(out, ConnSnapshot{
			ID:         id,
			Role:       string(c.Role),
			RemoteAddr: c.RemoteAddr,
			State:      c.State().String(),
			TCPConn:    c.TCPConn(),
		})
	}
	return out
}

// Ready reports whether Start has opened the node's listener, for
// pkg/admin's /healthz endpoint. It stays true after Destroy.
func (n *Node) Ready() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listener != nil
}

// Start opens the listener, spawns the accept loop, spawns a dial loop for
// every already-registered endpoint, and spawns a ticker per publisher with
// a nonzero period. It returns as soon as those are spawned (nil), or with
// a CONNECT_FAILURE error if the listener fails to open; it does not block
// waiting for spawned goroutines (use Destroy for that). The most severe
// errs.Code observed by any connection during the run is not part of
// Start's return: it is reported by AggregatedError, and by Destroy's
// return once everything has exited.
func (n *Node) Start(ctx context.Context, listenAddr string) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(n.ctx, "tcp", listenAddr)
	if err != nil {
		return errs.Wrap(errs.ConnectFailure, "failed to open node listener", err)
	}
	n.mu.Lock()
	n.listener = ln
	n.mu.Unlock()
	logger.Info("node listening", "addr", ln.Addr().String(), "callerid", n.callerID)

	n.wg.Add(1)
	go n.acceptLoop()

	n.mu.Lock()
	endpoints := make(map[string][]string, len(n.subEndpoints))
	for k, v := range n.subEndpoints {
		endpoints[k] = append([]string(nil), v...)
	}
	callerEndpoints := make(map[string]string, len(n.callerEndpoints))
	for k, v := range n.callerEndpoints {
		callerEndpoints[k] = v
	}
	n.mu.Unlock()

	for topic, hostPorts := range endpoints {
		sub, ok := n.tables.Subscriber(topic)
		if !ok {
			continue
		}
		for _, hp := range hostPorts {
			n.wg.Add(1)
			go n.dialSubscriber(topic, sub, hp)
		}
	}
	for service, hp := range callerEndpoints {
		caller, ok := n.tables.ServiceCaller(service)
		if !ok {
			continue
		}
		n.wg.Add(1)
		go n.dialServiceCaller(service, caller, hp)
	}

	for _, snap := range n.tables.Snapshot().Publishers {
		pub, ok := n.tables.Publisher(snap.Topic)
		if !ok || pub.Period <= 0 || pub.Callback == nil {
			continue
		}
		n.wg.Add(1)
		go n.tickPublisher(pub)
	}

	return nil
}

// Destroy cancels all running loops, closes the listener and every
// connection, waits for everything to exit, and unregisters the
// registries.
func (n *Node) Destroy() error {
	if n.cancel != nil {
		n.cancel()
	}
	if n.listener != nil {
		_ = n.listener.Close()
	}

	n.mu.Lock()
	conns := make([]*conn.Conn, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}

	n.wg.Wait()

	snap := n.tables.Snapshot()
	for _, p := range snap.Publishers {
		n.tables.UnregisterPublisher(p.Topic)
	}
	for _, s := range snap.Subscribers {
		n.tables.UnregisterSubscriber(s.Topic)
	}
	for _, p := range snap.ServiceProviders {
		n.tables.UnregisterServiceProvider(p.Service)
	}
	for _, c := range snap.ServiceCallers {
		n.tables.UnregisterServiceCaller(c.Service)
	}
	return n.AggregatedError()
}

// AggregatedError returns the most severe errs.Code observed across every
// connection this node has driven, or nil if none has failed.
func (n *Node) AggregatedError() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	if n.worstCode == errs.Unknown {
		return nil
	}
	return errs.New(n.worstCode, "most severe error observed across all connections")
}

func (n *Node) recordErr(err error) {
	if err == nil {
		return
	}
	code := errs.Unknown
	if e, ok := err.(*errs.Error); ok {
		code = e.Code()
	}
	n.errMu.Lock()
	if code.Severity() > n.worstCode.Severity() {
		n.worstCode = code
	}
	n.errMu.Unlock()
}

// finishConn closes a connection, unregisters it, and records its outcome
// against both the teardown metric and the node's aggregated error code.
func (n *Node) finishConn(id ConnID, c *conn.Conn, runErr error) {
	_ = c.Close()
	n.unregisterConn(id)
	code := "ok"
	if e, ok := runErr.(*errs.Error); ok {
		code = e.Code().String()
	}
	n.metrics.RecordTeardown(string(c.Role), code)
	n.recordErr(runErr)
}

func (n *Node) registerConn(c *conn.Conn) ConnID {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextConnID++
	id := n.nextConnID
	n.conns[id] = c
	return id
}

func (n *Node) unregisterConn(id ConnID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, id)
}

func (n *Node) connConfig() conn.Config {
	return conn.Config{
		BufferCeiling:     int(n.cfg.BufferCeiling),
		InactivityTimeout: n.cfg.InactivityTimeout,
	}
}

func (n *Node) handshakeOptions() handshake.Options {
	return handshake.Options{StrictPublicationTopic: n.cfg.StrictPublicationTopic}
}

// acceptLoop accepts inbound connections and dispatches each to the
// topic-server or service-server driver based on the first handshake
// header's fields, since a single listener serves both roles.
func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		nc, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
				logger.Error("node accept failed", "error", err)
				return
			}
		}
		n.wg.Add(1)
		go n.serveAccepted(nc)
	}
}

func (n *Node) serveAccepted(nc net.Conn) {
	defer n.wg.Done()

	raw := randConnID()
	c := conn.New(raw, conn.RoleTopicServer, nc, n.connConfig(), n.metrics)
	id := n.registerConn(c)

	h, err := c.ReadHandshakeHeader()
	if err != nil {
		n.finishConn(id, c, err)
		return
	}

	var runErr error
	switch {
	case h.Has(header.KeyTopic):
		runErr = conn.RunTopicServerWithHeader(n.ctx, c, h, n.tables, n.callerID, n.handshakeOptions())
	case h.Has(header.KeyService):
		c.Role = conn.RoleServiceServer
		runErr = conn.RunServiceServerWithHeader(n.ctx, c, h, n.tables, n.callerID)
	default:
		runErr = errs.New(errs.HandshakeMalformed, "inbound handshake header has neither topic nor service field")
	}
	n.finishConn(id, c, runErr)
}

// dialSubscriber repeatedly dials a publisher endpoint for a registered
// subscriber, running the topic-client driver until it fails, then retries
// after an exponential backoff until the node is torn down.
func (n *Node) dialSubscriber(topic string, sub *registry.Subscriber, hostPort string) {
	defer n.wg.Done()
	backoff := newBackoff(n.cfg.ReconnectBackoffBase, n.cfg.ReconnectBackoffMax)
	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}

		nc, err := (&net.Dialer{}).DialContext(n.ctx, "tcp", hostPort)
		if err != nil {
			n.recordErr(errs.Wrap(errs.ConnectFailure, "dial publisher failed", err))
			n.metrics.RecordReconnectAttempt(string(conn.RoleTopicClient))
			if !backoff.wait(n.ctx) {
				return
			}
			continue
		}

		c := conn.New(randConnID(), conn.RoleTopicClient, nc, n.connConfig(), n.metrics)
		id := n.registerConn(c)
		runErr := conn.RunTopicClient(n.ctx, c, n.tables, sub, n.callerID, n.handshakeOptions())
		n.finishConn(id, c, runErr)

		if n.ctx.Err() != nil {
			return
		}
		backoff.reset()
		if !backoff.wait(n.ctx) {
			return
		}
	}
}

// dialServiceCaller mirrors dialSubscriber for a registered service caller.
func (n *Node) dialServiceCaller(service string, caller *registry.ServiceCaller, hostPort string) {
	defer n.wg.Done()
	backoff := newBackoff(n.cfg.ReconnectBackoffBase, n.cfg.ReconnectBackoffMax)
	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}

		nc, err := (&net.Dialer{}).DialContext(n.ctx, "tcp", hostPort)
		if err != nil {
			n.recordErr(errs.Wrap(errs.ConnectFailure, "dial service provider failed", err))
			n.metrics.RecordReconnectAttempt(string(conn.RoleServiceClient))
			if !backoff.wait(n.ctx) {
				return
			}
			continue
		}

		c := conn.New(randConnID(), conn.RoleServiceClient, nc, n.connConfig(), n.metrics)
		id := n.registerConn(c)
		runErr := conn.RunServiceClient(n.ctx, c, n.tables, caller, n.callerID)
		n.finishConn(id, c, runErr)

		if n.ctx.Err() != nil || !caller.Persistent {
			return
		}
		backoff.reset()
		if !backoff.wait(n.ctx) {
			return
		}
	}
}

// tickPublisher invokes a publisher's callback on its configured period,
// enqueuing whatever it produces — the goroutine-per-ticker analogue of the
// spec's "publisher tick elapsed" poll-cycle step (spec.md §4.4d).
func (n *Node) tickPublisher(pub *registry.Publisher) {
	defer n.wg.Done()
	ticker := time.NewTicker(time.Duration(pub.Period) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			payload, ok := pub.Callback()
			if ok {
				pub.Enqueue(payload)
				n.metrics.RecordPublish(pub.Name)
			}
			n.metrics.SetQueueDepth(pub.Name, "publish", pub.QueueLen())
		}
	}
}

func randConnID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
