package redisrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
	"zchat/internal/pubsub"
)

func TestDecodeRejectsUnknownTopic(t *testing.T) {
	_, _, err := decode([]byte(`{"origin":"a","event":{"topic":"typing"}}`))
	assert.Error(t, err)

	_, _, err = decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestHandleRepublishesRemoteEvents(t *testing.T) {
	bus := pubsub.NewBus(nil, pubsub.Options{})
	r := New(nil, bus, nil, "")

	sub, err := bus.Subscribe(context.Background(), pubsub.TopicMessageSent, pubsub.MessagesIn("c1"))
	require.NoError(t, err)

	ev := pubsub.MessageSent(&domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Body: "hi"}, nil)

	own, err := encode(r.origin, ev)
	require.NoError(t, err)
	r.handle(context.Background(), own)

	remote, err := encode("other-instance", ev)
	require.NoError(t, err)
	r.handle(context.Background(), remote)

	select {
	case got := <-sub.C():
		assert.Equal(t, "m1", got.Message.ID)
		assert.Equal(t, "hi", got.Message.Body)
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}

	select {
	case got := <-sub.C():
		t.Fatalf("own event echoed back: %+v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHandleKeepsOriginOrder(t *testing.T) {
	bus := pubsub.NewBus(nil, pubsub.Options{})
	r := New(nil, bus, nil, "")

	sub, err := bus.Subscribe(context.Background(), pubsub.TopicMessageSent, pubsub.MessagesIn("c1"))
	require.NoError(t, err)

	want := []string{"m1", "m2", "m3", "m4"}
	for _, id := range want {
		data, err := encode("other-instance", pubsub.MessageSent(&domain.Message{ID: id, ConversationID: "c1"}, nil))
		require.NoError(t, err)
		r.handle(context.Background(), data)
	}

	var got []string
	for range want {
		select {
		case ev := <-sub.C():
			got = append(got, ev.Message.ID)
		case <-time.After(time.Second):
			t.Fatalf("delivered %v of %v", got, want)
		}
	}
	assert.Equal(t, want, got)
}

func TestEncodeCarriesParticipantDelta(t *testing.T) {
	ev := pubsub.ConversationUpdated(&domain.Conversation{ID: "c1"}, []string{"u3"}, []string{"u2"})
	data, err := encode("o", ev)
	require.NoError(t, err)

	origin, got, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, "o", origin)
	assert.Equal(t, []string{"u3"}, got.AddedUserIDs)
	assert.Equal(t, []string{"u2"}, got.RemovedUserIDs)
	assert.Equal(t, "c1", got.ConversationID())
	assert.Empty(t, got.TriggeredBy)

	data, err = encode("o", pubsub.MessageActivity(&domain.Conversation{ID: "c1"}, "u1"))
	require.NoError(t, err)
	_, got, err = decode(data)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.TriggeredBy)
}
