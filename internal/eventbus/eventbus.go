// Package eventbus is a process-local publish/subscribe bus keyed by topic
// (e.g. "workers", "spec:<id>"). Subscribers receive a snapshot on connect
// and delta events thereafter over a buffered channel; a slow subscriber
// loses its oldest undelivered event rather than stalling the publisher.
package eventbus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one delta published to a topic.
type Event struct {
	Topic     string
	Type      string
	Payload   any
	Timestamp time.Time
}

// SnapshotFunc produces the current state of a topic for a newly connected
// subscriber. Registered per topic prefix by the component that owns that
// topic's state (RunSession for "spec:<id>", WorkerPool for "workers").
type SnapshotFunc func(topic string) any

// ringBufferSize bounds per-subscriber backpressure: once full, the oldest
// queued event is dropped to make room for the newest.
const ringBufferSize = 256

// Bus fans events out to per-topic subscribers.
type Bus struct {
	log zerolog.Logger

	mu        sync.Mutex
	topics    map[string]*topicState
	snapshots map[string]SnapshotFunc
}

type topicState struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// subscription is one live subscriber. The ring buffer and closed latch are
// owned by a single writer goroutine per topic (the publisher, serialized by
// topicState.mu), so no extra locking is needed around the ring itself.
type subscription struct {
	ch     chan Event
	ring   []Event
	closed bool
}

// New creates an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		log:       log,
		topics:    make(map[string]*topicState),
		snapshots: make(map[string]SnapshotFunc),
	}
}

// RegisterSnapshot registers the snapshot provider for an exact topic name.
func (b *Bus) RegisterSnapshot(topic string, fn SnapshotFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[topic] = fn
}

func (b *Bus) topicFor(topic string) *topicState {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		t = &topicState{subs: make(map[*subscription]struct{})}
		b.topics[topic] = t
	}
	return t
}

// Subscription is the handle returned to a caller of Subscribe.
type Subscription struct {
	Events   <-chan Event
	Snapshot any
	bus      *Bus
	topic    string
	sub      *subscription
}

// Subscribe registers a new subscriber on topic, returning the current
// snapshot (nil if no SnapshotFunc is registered) and a channel of
// subsequent events.
func (b *Bus) Subscribe(topic string) *Subscription {
	t := b.topicFor(topic)

	sub := &subscription{ch: make(chan Event, ringBufferSize)}
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	b.mu.Lock()
	snapshotFn := b.snapshots[topic]
	b.mu.Unlock()

	var snapshot any
	if snapshotFn != nil {
		snapshot = snapshotFn(topic)
	}

	return &Subscription{
		Events:   sub.ch,
		Snapshot: snapshot,
		bus:      b,
		topic:    topic,
		sub:      sub,
	}
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	t := s.bus.topicFor(s.topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[s.sub]; !ok {
		return
	}
	delete(t.subs, s.sub)
	if !s.sub.closed {
		s.sub.closed = true
		close(s.sub.ch)
	}
}

// Publish delivers an event to every live subscriber of topic. Delivery is
// best-effort and never blocks: a subscriber whose channel is full drops its
// own oldest event to make room, logging at warn.
func (b *Bus) Publish(topic, eventType string, payload any) {
	t := b.topicFor(topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	evt := Event{Topic: topic, Type: eventType, Payload: payload, Timestamp: time.Now()}
	for sub := range t.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Ring is full: drop the oldest queued event and retry once.
			select {
			case <-sub.ch:
				b.log.Warn().Str("topic", topic).Str("event", eventType).Msg("eventbus: dropping oldest event for slow subscriber")
			default:
			}
			select {
			case sub.ch <- evt:
			default:
				b.log.Warn().Str("topic", topic).Str("event", eventType).Msg("eventbus: subscriber channel still full after drop, discarding event")
			}
		}
	}
}
