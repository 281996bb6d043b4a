package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"chatcompose/internal/domain/models/chat"
)

// DefaultChannelBuffer is the buffer size for subscriber channels.
const DefaultChannelBuffer = 256

// Publisher receives outbound notifications. Publish must not block;
// delivery is best-effort.
type Publisher interface {
	Publish(event chat.Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(event chat.Event)

func (f PublisherFunc) Publish(event chat.Event) { f(event) }

// MultiPublisher fans one event out to several publishers
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(event chat.Event) {
	for _, p := range m {
		p.Publish(event)
	}
}

// Subscription is one listener on the hub. Read events from C until it is
// closed by Unsubscribe or Close.
type Subscription struct {
	ID      string
	TopicID string // empty receives every topic
	C       <-chan chat.Event

	ch      chan chat.Event
	dropped atomic.Int64
}

// Dropped reports how many events were discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Hub routes events to per-topic and wildcard subscribers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	all    map[string]*Subscription
	closed bool
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub. buffer <= 0 uses DefaultChannelBuffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultChannelBuffer
	}
	return &Hub{
		topics: make(map[string]map[string]*Subscription),
		all:    make(map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a listener for topicID, or for all topics when it is
// empty. Subscribing to a closed hub returns an already-closed subscription.
func (h *Hub) Subscribe(topicID string) *Subscription {
	ch := make(chan chat.Event, h.buffer)
	sub := &Subscription{ID: uuid.NewString(), TopicID: topicID, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return sub
	}
	if topicID == "" {
		h.all[sub.ID] = sub
		return sub
	}
	subs, ok := h.topics[topicID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.topics[topicID] = subs
	}
	subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes the listener and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.TopicID == "" {
		if _, ok := h.all[sub.ID]; !ok {
			return
		}
		delete(h.all, sub.ID)
	} else {
		subs, ok := h.topics[sub.TopicID]
		if !ok {
			return
		}
		if _, ok := subs[sub.ID]; !ok {
			return
		}
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.topics, sub.TopicID)
		}
	}
	close(sub.ch)
}

// Publish delivers event without blocking. A subscriber whose buffer is
// full misses the event.
func (h *Hub) Publish(event chat.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, sub := range h.topics[event.TopicID] {
		h.deliver(sub, event)
	}
	for _, sub := range h.all {
		h.deliver(sub, event)
	}
}

func (h *Hub) deliver(sub *Subscription, event chat.Event) {
	select {
	case sub.ch <- event:
	default:
		sub.dropped.Add(1)
		h.logger.Warn("subscriber buffer full, dropping event",
			"subscription_id", sub.ID,
			"topic_id", event.TopicID,
			"event_type", event.Type,
		)
	}
}

// SubscriberCount returns the number of listeners that would receive an
// event for topicID.
func (h *Hub) SubscriberCount(topicID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topicID]) + len(h.all)
}

// Close closes every subscription. Publish after Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.topics {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	for _, sub := range h.all {
		close(sub.ch)
	}
	h.topics = map[string]map[string]*Subscription{}
	h.all = map[string]*Subscription{}
}
