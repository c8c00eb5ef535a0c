package pubsub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus(nil, Options{})
	ctx := context.Background()

	inC1, err := bus.Subscribe(ctx, TopicMessageSent, MessagesIn("c1"))
	require.NoError(t, err)
	inC2, err := bus.Subscribe(ctx, TopicMessageSent, MessagesIn("c2"))
	require.NoError(t, err)
	otherTopic, err := bus.Subscribe(ctx, TopicMessageDeleted, MessagesIn("c1"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, MessageSent(&domain.Message{ID: "m1", ConversationID: "c1"}, nil)))

	assert.Equal(t, "m1", recv(t, inC1).Message.ID)
	assertNoEvent(t, inC2)
	assertNoEvent(t, otherTopic)
}

func TestBusPreservesPublishOrder(t *testing.T) {
	bus := NewBus(nil, Options{BufferSize: 100})
	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, TopicMessageSent, MessagesIn("c1"))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(ctx, MessageSent(&domain.Message{ID: fmt.Sprintf("m%02d", i), ConversationID: "c1"}, nil)))
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, fmt.Sprintf("m%02d", i), recv(t, sub).Message.ID)
	}
}

func TestBusDropsSlowSubscriberWithoutBlocking(t *testing.T) {
	bus := NewBus(nil, Options{BufferSize: 2})
	ctx := context.Background()

	slow, err := bus.Subscribe(ctx, TopicMessageSent, MessagesIn("c1"))
	require.NoError(t, err)
	fast, err := bus.Subscribe(ctx, TopicMessageSent, MessagesIn("c1"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_ = bus.Publish(ctx, MessageSent(&domain.Message{ID: fmt.Sprintf("m%d", i), ConversationID: "c1"}, nil))
			// drain the fast subscriber as we go
			<-fast.C()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked by slow subscriber")
	}

	// the two buffered events are still readable, then the channel closes
	got := 0
	for range slow.C() {
		got++
	}
	assert.Equal(t, 2, got)
	assert.ErrorIs(t, slow.Err(), ErrSlowConsumer)
	assert.NoError(t, fast.Err())
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestBusContextCancelUnsubscribes(t *testing.T) {
	bus := NewBus(nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	evaluated := 0
	sub, err := bus.Subscribe(ctx, TopicConversationCreated, func(Event) bool {
		mu.Lock()
		evaluated++
		mu.Unlock()
		return true
	})
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, time.Second, time.Millisecond)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())

	require.NoError(t, bus.Publish(context.Background(), ConversationCreated(&domain.Conversation{ID: "c1"})))
	mu.Lock()
	assert.Equal(t, 0, evaluated)
	mu.Unlock()
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	bus := NewBus(nil, Options{})
	sub, err := bus.Subscribe(context.Background(), TopicMessageSent, MessagesIn("c1"))
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusClose(t *testing.T) {
	bus := NewBus(nil, Options{})
	sub, err := bus.Subscribe(context.Background(), TopicMessageSent, MessagesIn("c1"))
	require.NoError(t, err)

	bus.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrBusClosed)
	assert.ErrorIs(t, bus.Publish(context.Background(), MessageSent(&domain.Message{ConversationID: "c1"}, nil)), ErrBusClosed)

	_, err = bus.Subscribe(context.Background(), TopicMessageSent, MessagesIn("c1"))
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestBusIndependentInstances(t *testing.T) {
	a := NewBus(nil, Options{})
	b := NewBus(nil, Options{})
	sub, err := b.Subscribe(context.Background(), TopicMessageSent, MessagesIn("c1"))
	require.NoError(t, err)

	require.NoError(t, a.Publish(context.Background(), MessageSent(&domain.Message{ID: "m1", ConversationID: "c1"}, nil)))
	assertNoEvent(t, sub)
}
