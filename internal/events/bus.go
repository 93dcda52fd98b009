package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Bus manages event fan-out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event rather than stalling the
// job that produced it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string
	closed      atomic.Bool
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chan Event]string),
	}
}

// Subscribe creates a buffered subscription channel identified by name
func (b *Bus) Subscribe(name string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subscribers[ch] = name
	return ch
}

// Unsubscribe removes a subscription channel
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, ch)
}

// Publish emits an event to all subscribers
func (b *Bus) Publish(typ Type, data map[string]any) {
	if b.closed.Load() {
		return
	}

	event := Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// channel full, skip this subscriber
		}
	}
}

// Close shuts down the bus and closes all subscriber channels
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
