// Package registry holds the node's four registration tables —
// publishers, subscribers, service providers, and service callers — along
// with the bounded queues and fanout reference-counting that coordinate
// delivery across the connections bound to each entry.
package registry

import "sync"

// PubCallback returns the next outgoing message body and reports whether
// one was produced. It is invoked on the publisher's periodic tick.
type PubCallback func() (payload []byte, ok bool)

// SubCallback consumes a delivered message body. A returned error is logged
// by the topic-client driver and does not tear down the connection; it is
// not recorded as CALLBACK_ERROR in the node's aggregated error.
type SubCallback func(payload []byte) error

// ServiceCallback handles a request and produces a response or an error
// string (sent back with ok=0).
type ServiceCallback func(request []byte) (response []byte, errMsg string, ok bool)

// CallerCallback is invoked twice per call: once with isResponse=false to
// build the request (the returned bytes are the request body), once with
// isResponse=true carrying the response body.
type CallerCallback func(isResponse bool, body []byte) (request []byte)

// Publisher is a registered topic publisher.
type Publisher struct {
	Name       string
	Type       string
	MD5        string
	Definition string
	Period     int // milliseconds
	Callback   PubCallback

	mu          sync.Mutex
	queue       [][]byte
	queueCap    int
	boundConns  map[uint64]struct{}
	pendingRefs int // outstanding transmit acks for the queue head
	notify      chan struct{}
}

// NewPublisher constructs a Publisher with a bounded queue.
func NewPublisher(name, typ, md5, definition string, period int, cb PubCallback, queueCap int) *Publisher {
	return &Publisher{
		Name:       name,
		Type:       typ,
		MD5:        md5,
		Definition: definition,
		Period:     period,
		Callback:   cb,
		queueCap:   queueCap,
		boundConns: make(map[uint64]struct{}),
		notify:     make(chan struct{}),
	}
}

// BindConn registers a server connection as bound to this publisher.
func (p *Publisher) BindConn(connID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boundConns[connID] = struct{}{}
}

// UnbindConn removes a server connection, e.g. on teardown.
func (p *Publisher) UnbindConn(connID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.boundConns, connID)
}

// BoundCount returns the number of connections currently bound (N in the
// fanout reference count).
func (p *Publisher) BoundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.boundConns)
}

// Enqueue pushes a message onto the tail of the queue, dropping the oldest
// entry if the queue is at capacity (bounded per-topic queue, per the
// non-goal "no flow control beyond bounded per-topic queues").
func (p *Publisher) Enqueue(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queueCap > 0 && len(p.queue) >= p.queueCap {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, payload)
	close(p.notify)
	p.notify = make(chan struct{})
}

// PeekHead returns the queue head without popping it, and arms the fanout
// reference count to the current number of bound connections. Call this
// once, when a new head becomes eligible for transmission.
//
// When ok is false, wake is the notify channel to block on: it is captured
// under the same lock acquisition that found the queue empty, so a
// concurrent Enqueue either lands before this call (and is observed by the
// empty check) or closes exactly this wake channel (and is observed by the
// wait) — there is no gap in which Enqueue's close could target a
// newer channel than the one the caller waits on.
func (p *Publisher) PeekHead() (payload []byte, ok bool, wake <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false, p.notify
	}
	if p.pendingRefs == 0 {
		p.pendingRefs = len(p.boundConns)
	}
	return p.queue[0], true, nil
}

// AckTransmit decrements the fanout reference count after one bound
// connection has transmitted the queue head. When the count reaches zero,
// the head is popped and true is returned.
func (p *Publisher) AckTransmit() (popped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingRefs > 0 {
		p.pendingRefs--
	}
	if p.pendingRefs == 0 && len(p.queue) > 0 {
		p.queue = p.queue[1:]
		return true
	}
	return false
}

// QueueLen reports the current queue depth.
func (p *Publisher) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Subscriber is a registered topic subscriber.
type Subscriber struct {
	Name     string
	Type     string
	MD5      string
	Callback SubCallback

	mu         sync.Mutex
	deliveries [][]byte
	queueCap   int
	overflow   bool
	boundConns map[uint64]struct{}
	publishers []string // known publisher endpoints, "host:port"
}

// NewSubscriber constructs a Subscriber with a bounded delivery queue.
func NewSubscriber(name, typ, md5 string, cb SubCallback, queueCap int) *Subscriber {
	return &Subscriber{
		Name:       name,
		Type:       typ,
		MD5:        md5,
		Callback:   cb,
		queueCap:   queueCap,
		boundConns: make(map[uint64]struct{}),
	}
}

// BindConn registers a client connection bound to this subscriber.
func (s *Subscriber) BindConn(connID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boundConns[connID] = struct{}{}
}

// UnbindConn removes a client connection.
func (s *Subscriber) UnbindConn(connID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boundConns, connID)
}

// AddPublisherEndpoint records a newly discovered upstream publisher.
func (s *Subscriber) AddPublisherEndpoint(hostPort string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.publishers {
		if e == hostPort {
			return
		}
	}
	s.publishers = append(s.publishers, hostPort)
}

// Deliver hands a payload to the subscriber's delivery queue. If the queue
// is full, the overflow flag is set but the callback is still invoked — the
// callback decides whether to drop or coalesce.
func (s *Subscriber) Deliver(payload []byte) error {
	s.mu.Lock()
	if s.queueCap > 0 && len(s.deliveries) >= s.queueCap {
		s.overflow = true
	} else {
		s.deliveries = append(s.deliveries, payload)
	}
	cb := s.Callback
	s.mu.Unlock()

	if cb == nil {
		return nil
	}
	return cb(payload)
}

// Overflow reports whether the delivery queue has ever overflowed.
func (s *Subscriber) Overflow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

// ServiceProvider is a registered service provider.
type ServiceProvider struct {
	Name         string
	Type         string
	RequestType  string
	ResponseType string
	MD5          string
	Callback     ServiceCallback
}

// NewServiceProvider constructs a ServiceProvider.
func NewServiceProvider(name, typ, reqType, respType, md5 string, cb ServiceCallback) *ServiceProvider {
	return &ServiceProvider{
		Name:         name,
		Type:         typ,
		RequestType:  reqType,
		ResponseType: respType,
		MD5:          md5,
		Callback:     cb,
	}
}

// ServiceCaller is a registered service caller.
type ServiceCaller struct {
	Name         string
	Type         string
	RequestType  string
	ResponseType string
	MD5          string
	Period       int
	Persistent   bool
	Callback     CallerCallback
}

// NewServiceCaller constructs a ServiceCaller.
func NewServiceCaller(name, typ, reqType, respType, md5 string, period int, persistent bool, cb CallerCallback) *ServiceCaller {
	return &ServiceCaller{
		Name:         name,
		Type:         typ,
		RequestType:  reqType,
		ResponseType: respType,
		MD5:          md5,
		Period:       period,
		Persistent:   persistent,
		Callback:     cb,
	}
}
