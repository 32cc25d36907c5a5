package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	mu          sync.Mutex
	published   int
	dropped     map[string]int
	subscribers int
}

func (m *countingMetrics) EventPublished() { m.mu.Lock(); m.published++; m.mu.Unlock() }
func (m *countingMetrics) EventDropped(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped == nil {
		m.dropped = map[string]int{}
	}
	m.dropped[name]++
}
func (m *countingMetrics) SubscribersSet(n int) { m.mu.Lock(); m.subscribers = n; m.mu.Unlock() }

func event(bus string, seq int) Event {
	return Event{BusID: bus, Latitude: float64(seq), Longitude: 36.8, Timestamp: time.Unix(int64(seq), 0)}
}

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(8, nil)
	s1, err := b.Subscribe("a")
	require.NoError(t, err)
	s2, err := b.Subscribe("b")
	require.NoError(t, err)

	b.Publish(event("B001", 1))

	assert.Equal(t, "B001", recv(t, s1).BusID)
	assert.Equal(t, "B001", recv(t, s2).BusID)
}

func TestSubscribe_NoReplay(t *testing.T) {
	b := NewBroadcaster(8, nil)
	b.Publish(event("B001", 1))

	late, err := b.Subscribe("late")
	require.NoError(t, err)
	select {
	case ev := <-late.C():
		t.Fatalf("late subscriber received past event %+v", ev)
	default:
	}

	b.Publish(event("B001", 2))
	assert.Equal(t, float64(2), recv(t, late).Latitude)
}

func TestPublish_PreservesOrder(t *testing.T) {
	b := NewBroadcaster(100, nil)
	s, err := b.Subscribe("ordered")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		b.Publish(event("B001", i))
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, float64(i), recv(t, s).Latitude)
	}
}

func TestPublish_SlowSubscriberIsIsolated(t *testing.T) {
	m := &countingMetrics{}
	b := NewBroadcaster(2, m)
	slow, err := b.Subscribe("slow")
	require.NoError(t, err)
	fast, err := b.Subscribe("fast")
	require.NoError(t, err)

	got := make(chan Event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fast.Each(ctx, func(ev Event) { got <- ev })

	done := make(chan struct{})
	go func() {
		// Never read from slow; publish must still return promptly.
		for i := 0; i < 10; i++ {
			b.Publish(event("B001", i))
			<-got
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	assert.Equal(t, uint64(8), slow.Dropped())
	assert.Zero(t, fast.Dropped())

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 10, m.published)
	assert.Equal(t, 8, m.dropped["slow"])
}

func TestSubscription_Close(t *testing.T) {
	m := &countingMetrics{}
	b := NewBroadcaster(4, m)
	s, err := b.Subscribe("x")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())

	s.Close()
	s.Close()
	assert.Equal(t, 0, b.Len())
	_, ok := <-s.C()
	assert.False(t, ok)

	// Publishing after unsubscribe is a no-op for that subscriber.
	b.Publish(event("B001", 1))
	m.mu.Lock()
	assert.Equal(t, 0, m.subscribers)
	m.mu.Unlock()
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(4, nil)
	s, err := b.Subscribe("x")
	require.NoError(t, err)

	b.Close()
	_, ok := <-s.C()
	assert.False(t, ok)
	s.Close()

	_, err = b.Subscribe("y")
	assert.ErrorIs(t, err, ErrClosed)
	b.Publish(event("B001", 1))
}

func TestEach_StopsOnContext(t *testing.T) {
	b := NewBroadcaster(4, nil)
	s, err := b.Subscribe("x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	seen := make(chan Event, 1)
	go func() {
		s.Each(ctx, func(ev Event) { seen <- ev })
		close(finished)
	}()
	b.Publish(event("B001", 1))
	assert.Equal(t, "B001", (<-seen).BusID)
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Each did not return after cancel")
	}
}
