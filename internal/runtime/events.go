package runtime

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event kinds published by the runtime.
const (
	EventLaunch   = "launch"
	EventComplete = "complete"
	EventFence    = "fence"
)

// Event is one runtime occurrence, streamed to inspection clients.
type Event struct {
	Kind     string    `json:"kind"`
	LaunchID string    `json:"launch_id,omitempty"`
	Task     string    `json:"task,omitempty"`
	Variant  string    `json:"variant,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Points   int       `json:"points,omitempty"`
	Fence    int64     `json:"fence,omitempty"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Broker fans runtime events out to subscribers. It is safe for concurrent
// use. Once closed, future Subscribe calls return a closed channel.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker creates an event broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel that receives runtime events and an
// unsubscribe function. If the broker is already closed, the returned
// channel is closed.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish sends an event to all subscribers. Events are dropped for
// subscribers whose buffers are full.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking execution.
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
