// Package notify fans out bus location updates to every current subscriber.
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Topic is the event name used on every transport.
const Topic = "busLocationUpdate"

var ErrClosed = errors.New("notifier closed")

type Event struct {
	BusID     string    `json:"bus_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type Metrics interface {
	EventPublished()
	EventDropped(subscriber string)
	SubscribersSet(n int)
}

// Broadcaster delivers each published event to every subscriber registered
// at publish time. Each subscriber has its own buffer; when it is full that
// subscriber's copy is dropped and Publish moves on.
type Broadcaster struct {
	buffer  int
	metrics Metrics

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

func NewBroadcaster(buffer int, m Metrics) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster{buffer: buffer, metrics: m, subs: make(map[string]*Subscription)}
}

// Subscribe registers a new receiver. name identifies the receiver kind in
// logs and metrics, e.g. "ws" or "nats".
func (b *Broadcaster) Subscribe(name string) (*Subscription, error) {
	s := &Subscription{
		id:   uuid.NewString(),
		name: name,
		ch:   make(chan Event, b.buffer),
		b:    b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs[s.id] = s
	if b.metrics != nil {
		b.metrics.SubscribersSet(len(b.subs))
	}
	return s, nil
}

// Publish enqueues ev on every subscriber without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			if b.metrics != nil {
				b.metrics.EventDropped(s.name)
			}
		}
	}
	if b.metrics != nil {
		b.metrics.EventPublished()
	}
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription; later Subscribe calls fail with ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.closeChan()
	}
	if b.metrics != nil {
		b.metrics.SubscribersSet(0)
	}
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	s.closeChan()
	if b.metrics != nil {
		b.metrics.SubscribersSet(len(b.subs))
	}
}

type Subscription struct {
	id      string
	name    string
	ch      chan Event
	b       *Broadcaster
	once    sync.Once
	dropped atomic.Uint64
}

func (s *Subscription) ID() string   { return s.id }
func (s *Subscription) Name() string { return s.name }

// C is closed when the subscription or its broadcaster is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() { s.b.remove(s) }

func (s *Subscription) closeChan() { s.once.Do(func() { close(s.ch) }) }

// Each calls fn for every event until ctx is done or the subscription closes.
func (s *Subscription) Each(ctx context.Context, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.ch:
			if !ok {
				return
			}
			fn(ev)
		}
	}
}
