package events

import (
	"fmt"
	"sync"
)

// Bus is the pub/sub transport deltas travel over. Publication is FIFO per
// subject and at-most-once: a subscriber that falls behind or disconnects
// resynchronizes by re-requesting an AOI, not by replay.
type Bus interface {
	// Publish sends data on a subject. Returns an error only for transport
	// failure; no-subscriber is not an error.
	Publish(subject string, data []byte) error
	// Subscribe registers fn for every message on subject. fn is invoked
	// in publication order for that subject and must not block.
	Subscribe(subject string, fn func(data []byte)) (Subscription, error)
	// Close releases transport resources.
	Close() error
}

// Subscription is a handle for one subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// MemoryBus is the in-process Bus used when the core runs as a single
// instance (and in tests). Delivery happens synchronously on the
// publisher's goroutine under a per-subject ordering lock, which makes the
// FIFO guarantee trivial; handlers are expected to hand the payload to a
// buffered per-connection queue immediately.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	order  map[string]*sync.Mutex
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	fn      func(data []byte)
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:  make(map[string][]*memorySub),
		order: make(map[string]*sync.Mutex),
	}
}

// Publish delivers data to every current subscriber of subject, in
// subscription order. Concurrent publishers to the same subject are
// serialized so every subscriber observes the same message order.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus closed")
	}
	subs := make([]*memorySub, len(b.subs[subject]))
	copy(subs, b.subs[subject])
	lock, ok := b.order[subject]
	if !ok {
		lock = &sync.Mutex{}
		b.order[subject] = lock
	}
	b.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	for _, s := range subs {
		s.fn(data)
	}
	return nil
}

// Subscribe registers fn on subject.
func (b *MemoryBus) Subscribe(subject string, fn func(data []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}
	s := &memorySub{bus: b, subject: subject, fn: fn}
	b.subs[subject] = append(b.subs[subject], s)
	return s, nil
}

// Close drops all subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*memorySub)
	b.order = make(map[string]*sync.Mutex)
	return nil
}

func (s *memorySub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.subject]
	for i, cur := range list {
		if cur == s {
			b.subs[s.subject] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[s.subject]) == 0 {
		delete(b.subs, s.subject)
	}
	return nil
}
