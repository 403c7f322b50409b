package registry

import (
	"fmt"
	"sync"
)

// Tables owns the four registries the node coordinator exposes
// registration methods over. Entries are indexed by stable string keys
// (topic or service name) rather than by the original source's raw vector
// slot, per the design note to avoid exposing numeric slot plumbing outside
// the coordinator.
type Tables struct {
	mu sync.RWMutex

	publishers       map[string]*Publisher
	subscribers      map[string]*Subscriber
	serviceProviders map[string]*ServiceProvider
	serviceCallers   map[string]*ServiceCaller
}

// NewTables returns an empty set of registries.
func NewTables() *Tables {
	return &Tables{
		publishers:       make(map[string]*Publisher),
		subscribers:      make(map[string]*Subscriber),
		serviceProviders: make(map[string]*ServiceProvider),
		serviceCallers:   make(map[string]*ServiceCaller),
	}
}

// RegisterPublisher adds a publisher, failing if the topic is already
// registered.
func (t *Tables) RegisterPublisher(p *Publisher) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.publishers[p.Name]; exists {
		return fmt.Errorf("publisher already registered for topic %q", p.Name)
	}
	t.publishers[p.Name] = p
	return nil
}

// RegisterSubscriber adds a subscriber, failing if the topic is already
// registered.
func (t *Tables) RegisterSubscriber(s *Subscriber) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.subscribers[s.Name]; exists {
		return fmt.Errorf("subscriber already registered for topic %q", s.Name)
	}
	t.subscribers[s.Name] = s
	return nil
}

// RegisterServiceProvider adds a service provider, failing if the service
// name is already registered.
func (t *Tables) RegisterServiceProvider(p *ServiceProvider) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.serviceProviders[p.Name]; exists {
		return fmt.Errorf("service provider already registered for %q", p.Name)
	}
	t.serviceProviders[p.Name] = p
	return nil
}

// RegisterServiceCaller adds a service caller, failing if the service name
// is already registered.
func (t *Tables) RegisterServiceCaller(c *ServiceCaller) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.serviceCallers[c.Name]; exists {
		return fmt.Errorf("service caller already registered for %q", c.Name)
	}
	t.serviceCallers[c.Name] = c
	return nil
}

// Publisher looks up a publisher by topic name.
func (t *Tables) Publisher(name string) (*Publisher, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.publishers[name]
	return p, ok
}

// Subscriber looks up a subscriber by topic name.
func (t *Tables) Subscriber(name string) (*Subscriber, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.subscribers[name]
	return s, ok
}

// ServiceProvider looks up a service provider by service name.
func (t *Tables) ServiceProvider(name string) (*ServiceProvider, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.serviceProviders[name]
	return p, ok
}

// ServiceCaller looks up a service caller by service name.
func (t *Tables) ServiceCaller(name string) (*ServiceCaller, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.serviceCallers[name]
	return c, ok
}

// UnregisterPublisher removes a publisher registration.
func (t *Tables) UnregisterPublisher(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.publishers, name)
}

// UnregisterSubscriber removes a subscriber registration.
func (t *Tables) UnregisterSubscriber(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, name)
}

// UnregisterServiceProvider removes a service provider registration.
func (t *Tables) UnregisterServiceProvider(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.serviceProviders, name)
}

// UnregisterServiceCaller removes a service caller registration.
func (t *Tables) UnregisterServiceCaller(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.serviceCallers, name)
}

// Snapshot is a point-in-time, read-only view of registry contents used by
// the admin /debug/registries endpoint.
type Snapshot struct {
	Publishers       []PublisherSnapshot       `json:"publishers"`
	Subscribers      []SubscriberSnapshot      `json:"subscribers"`
	ServiceProviders []ServiceProviderSnapshot `json:"service_providers"`
	ServiceCallers   []ServiceCallerSnapshot   `json:"service_callers"`
}

// PublisherSnapshot describes one publisher's observable state.
type PublisherSnapshot struct {
	Topic      string `json:"topic"`
	Type       string `json:"type"`
	QueueDepth int    `json:"queue_depth"`
	BoundConns int    `json:"bound_connections"`
}

// SubscriberSnapshot describes one subscriber's observable state.
type SubscriberSnapshot struct {
	Topic      string `json:"topic"`
	Type       string `json:"type"`
	Overflow   bool   `json:"overflow"`
	BoundConns int    `json:"bound_connections"`
}

// ServiceProviderSnapshot describes one service provider's observable state.
type ServiceProviderSnapshot struct {
	Service string `json:"service"`
	Type    string `json:"type"`
}

// ServiceCallerSnapshot describes one service caller's observable state.
type ServiceCallerSnapshot struct {
	Service    string `json:"service"`
	Type       string `json:"type"`
	Persistent bool   `json:"persistent"`
}

// Snapshot returns a point-in-time copy of all four registries.
func (t *Tables) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{}
	for _, p := range t.publishers {
		snap.Publishers = append(snap.Publishers, PublisherSnapshot{
			Topic:      p.Name,
			Type:       p.Type,
			QueueDepth: p.QueueLen(),
			BoundConns: p.BoundCount(),
		})
	}
	for _, s := range t.subscribers {
		s.mu.Lock()
		snap.Subscribers = append(snap.Subscribers, SubscriberSnapshot{
			Topic:      s.Name,
			Type:       s.Type,
			Overflow:   s.overflow,
			BoundConns: len(s.boundConns),
		})
		s.mu.Unlock()
	}
	for _, p := range t.serviceProviders {
		snap.ServiceProviders = append(snap.ServiceProviders, ServiceProviderSnapshot{
			Service: p.Name,
			Type:    p.Type,
		})
	}
	for _, c := range t.serviceCallers {
		snap.ServiceCallers = append(snap.ServiceCallers, ServiceCallerSnapshot{
			Service:    c.Name,
			Type:       c.Type,
			Persistent: c.Persistent,
		})
	}
	return snap
}
