package mixer

import (
	"sync"
	"sync/atomic"
)

// DefaultEventBufferSize is the per-subscriber buffer used when none is configured
const DefaultEventBufferSize = 100

// Broadcaster fans server events out to any number of subscribers.
// publishers never block: a subscriber whose buffer is full loses its oldest event
type Broadcaster struct {
	capacity int

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription is a single listener's view of the event stream
type Subscription struct {
	b  *Broadcaster
	ch chan ServerEvent

	sendLock sync.Mutex
	dropped  uint64
	closed   sync.Once
}

// NewBroadcaster creates a broadcaster with the given per-subscriber capacity
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultEventBufferSize
	}

	return &Broadcaster{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new listener
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{
		b:  b,
		ch: make(chan ServerEvent, b.capacity),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Publish delivers the event to every current subscriber and returns how many there were
func (b *Broadcaster) Publish(event ServerEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		s.deliver(event)
	}

	return len(b.subs)
}

// ReceiverCount returns the number of active subscribers
func (b *Broadcaster) ReceiverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (s *Subscription) deliver(event ServerEvent) {
	s.sendLock.Lock()
	defer s.sendLock.Unlock()

	for {
		select {
		case s.ch <- event:
			return
		default:
		}

		// full - make room by discarding the oldest buffered event
		select {
		case <-s.ch:
			atomic.AddUint64(&s.dropped, 1)
		default:
		}
	}
}

// Events returns the channel events arrive on. it's closed by Close
func (s *Subscription) Events() <-chan ServerEvent {
	return s.ch
}

// Dropped returns how many events this subscriber lost to a full buffer
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close unsubscribes and closes the event channel
func (s *Subscription) Close() {
	s.closed.Do(func() {
		// once removed, no publisher holds a reference under the read lock anymore
		s.b.remove(s)
		close(s.ch)
	})
}
