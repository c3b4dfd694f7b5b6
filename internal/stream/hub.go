// Package stream fans replay and cycle events out to in-process subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"replay-trader/internal/models"
)

// EventType identifies what happened.
type EventType string

const (
	EventBar      EventType = "bar"
	EventCycle    EventType = "cycle"
	EventDecision EventType = "decision"
	EventReset    EventType = "reset"
)

// AllEvents subscribes to every event type.
const AllEvents EventType = ""

// Event is one published notification.
type Event struct {
	Type       EventType
	Time       time.Time
	AgentID    string
	Symbol     string
	BarTsMs    int64
	TradingDay string
	Decision   *models.Decision
	Replay     *models.ReplayStatus
	Succeeded  int
	Failed     int
	Message    string
}

// HubConfig holds configuration for the Stream Hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Hub distributes events from the engine to multiple consumers. Publishing
// never blocks the engine: a full buffer drops the event.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[EventType][]*Subscriber
	eventChan   chan Event
	done        chan struct{}
	started     bool
	consumers   []Consumer
	consumersMu sync.RWMutex

	// Metrics
	eventsReceived  uint64
	eventsBroadcast uint64
	eventsDropped   uint64
	metricsMu       sync.RWMutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	Channel      chan Event
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new stream hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new stream hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[EventType][]*Subscriber),
		eventChan:   make(chan Event, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	go h.broadcastLoop(ctx, done)
}

func (h *Hub) broadcastLoop(ctx context.Context, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev := <-h.eventChan:
			h.metricsMu.Lock()
			h.eventsReceived++
			h.metricsMu.Unlock()

			h.broadcast(ev)
			h.notifyConsumers(ev)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	close(h.done)
	h.started = false

	for topic, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, topic)
	}
}

// Subscribe adds a subscriber for an event type, or AllEvents. The channel
// is closed by Stop.
func (h *Hub) Subscribe(topic EventType) <-chan Event {
	ch := make(chan Event, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[topic] = append(h.subscribers[topic], sub)
	h.mu.Unlock()

	return ch
}

// Publish sends an event to the hub for distribution.
// This is non-blocking - if the internal buffer is full, the event is dropped.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case h.eventChan <- ev:
	default:
		h.metricsMu.Lock()
		h.eventsDropped++
		h.metricsMu.Unlock()
	}
}

// broadcast sends an event to the subscribers of its type and of AllEvents.
// The lock is held while sending so Stop cannot close a channel mid-send.
func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := append([]*Subscriber(nil), h.subscribers[ev.Type]...)
	if ev.Type != AllEvents {
		subs = append(subs, h.subscribers[AllEvents]...)
	}

	for _, sub := range subs {
		select {
		case sub.Channel <- ev:
			h.metricsMu.Lock()
			h.eventsBroadcast++
			h.metricsMu.Unlock()
		default:
			// Skip slow consumers - non-blocking
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.eventsDropped++
			h.metricsMu.Unlock()
		}
	}
}

// GetTotalSubscriberCount returns the number of subscribers across all topics.
func (h *Hub) GetTotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	subscribers := h.GetTotalSubscriberCount()

	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()
	return HubMetrics{
		EventsReceived:  h.eventsReceived,
		EventsBroadcast: h.eventsBroadcast,
		EventsDropped:   h.eventsDropped,
		Subscribers:     subscribers,
	}
}

// HubMetrics contains hub performance metrics.
type HubMetrics struct {
	EventsReceived  uint64
	EventsBroadcast uint64
	EventsDropped   uint64
	Subscribers     int
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Consumer processes events on the hub's broadcast goroutine.
type Consumer interface {
	OnEvent(ev Event)
	// Types returns the event types of interest. Empty means all.
	Types() []EventType
}

// RegisterConsumer adds a consumer to receive events.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

// UnregisterConsumer removes a consumer. It waits for an in-progress
// delivery, so once it returns the consumer is not called again. It must not
// be called from OnEvent.
func (h *Hub) UnregisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()

	for i, c := range h.consumers {
		if c == consumer {
			h.consumers = append(h.consumers[:i], h.consumers[i+1:]...)
			break
		}
	}
}

// notifyConsumers calls consumers in registration order on the broadcast
// goroutine, so each one sees events in publish order.
func (h *Hub) notifyConsumers(ev Event) {
	h.consumersMu.RLock()
	defer h.consumersMu.RUnlock()

	for _, consumer := range h.consumers {
		types := consumer.Types()
		if len(types) == 0 || containsType(types, ev.Type) {
			consumer.OnEvent(ev)
		}
	}
}

func containsType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// ConsumerFunc is a function adapter for the Consumer interface.
type ConsumerFunc struct {
	types   []EventType
	onEvent func(Event)
}

// NewConsumerFunc creates a new ConsumerFunc.
func NewConsumerFunc(types []EventType, onEvent func(Event)) *ConsumerFunc {
	return &ConsumerFunc{types: types, onEvent: onEvent}
}

// OnEvent implements Consumer.
func (c *ConsumerFunc) OnEvent(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// Types implements Consumer.
func (c *ConsumerFunc) Types() []EventType {
	return c.types
}
