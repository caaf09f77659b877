// Package events fans run lifecycle events out to subscribers
package events

import (
	"sync"

	"snapvault/internal/services/memories/domain"
)

// Bus is an in-process fan-out. Publish never blocks: a subscriber whose
// buffer is full misses that event, and progress consumers are expected to
// reconcile from run snapshots
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan domain.Event
	next int
}

// NewBus constructs an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan domain.Event)}
}

// Subscribe registers a buffered channel and returns it with its cancel.
// Cancel is idempotent and closes the channel
func (b *Bus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers to every current subscriber, dropping on full buffers
func (b *Bus) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
