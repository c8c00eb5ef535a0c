package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
	"zchat/internal/pubsub"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func conv(id string, updated time.Time, userIDs ...string) *domain.Conversation {
	c := &domain.Conversation{ID: id, CreatedAt: t0, UpdatedAt: updated}
	for _, u := range userIDs {
		c.Participants = append(c.Participants, domain.Participant{
			ConversationID: id,
			UserID:         u,
			User:           domain.UserSummary{ID: u, Username: u},
		})
	}
	return c
}

func msg(id, convID, sender string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		Body:           "body " + id,
		CreatedAt:      at,
		Sender:         domain.UserSummary{ID: sender, Username: sender},
	}
}

func withLatest(c *domain.Conversation, m *domain.Message) *domain.Conversation {
	c.LatestMessage = m
	if m != nil {
		id := m.ID
		c.LatestMessageID = &id
	} else {
		c.LatestMessageID = nil
	}
	return c
}

type navRecorder struct {
	calls []string
}

func (n *navRecorder) navigate(id string) { n.calls = append(n.calls, id) }

func newTestCache(self string) (*Cache, *navRecorder) {
	nav := &navRecorder{}
	c := NewCache(self, nav.navigate)
	c.now = func() time.Time { return t0.Add(time.Hour) }
	return c, nav
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func convIDs(convs []domain.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestOptimisticSendConfirmedByEvent(t *testing.T) {
	c, _ := newTestCache("alice")
	c.Load([]*domain.Conversation{
		conv("c1", t0, "alice", "bob"),
		conv("c2", t0.Add(time.Minute), "alice", "carol"),
	})
	assert.Equal(t, []string{"c2", "c1"}, convIDs(c.Conversations()))

	provisional, err := c.BeginSend("c1", "hello", nil)
	require.NoError(t, err)
	assert.True(t, c.Pending(provisional.ID))
	assert.Equal(t, []string{"c1", "c2"}, convIDs(c.Conversations()), "sending bumps the conversation")
	assert.Equal(t, []string{provisional.ID}, ids(c.Messages("c1")))

	confirmed := msg(provisional.ID, "c1", "alice", t0.Add(30*time.Minute))
	confirmed.Body = "hello"
	ev := pubsub.MessageSent(confirmed, withLatest(conv("c1", confirmed.CreatedAt, "alice", "bob"), confirmed))

	c.Apply(ev)
	once := c.Messages("c1")
	onceConv, _ := c.Conversation("c1")

	c.Apply(ev)
	assert.Equal(t, once, c.Messages("c1"), "applying the same MessageSent twice changes nothing")
	twiceConv, _ := c.Conversation("c1")
	assert.Equal(t, onceConv, twiceConv)

	require.Len(t, once, 1)
	assert.Equal(t, confirmed.CreatedAt, once[0].CreatedAt)
	assert.False(t, c.Pending(provisional.ID))
}

func TestFailSendRollsBack(t *testing.T) {
	c, _ := newTestCache("alice")
	m0 := msg("m0", "c1", "bob", t0)
	c.Load([]*domain.Conversation{withLatest(conv("c1", t0, "alice", "bob"), m0)})
	c.LoadMessages([]*domain.Message{m0})

	provisional, err := c.BeginSend("c1", "oops", nil)
	require.NoError(t, err)
	got, _ := c.Conversation("c1")
	require.NotNil(t, got.LatestMessageID)
	assert.Equal(t, provisional.ID, *got.LatestMessageID)

	cause := errors.New("boom")
	sendErr := c.FailSend(provisional.ID, cause)
	require.NotNil(t, sendErr)
	assert.ErrorIs(t, sendErr, cause)
	assert.True(t, sendErr.Temporary())
	assert.Equal(t, "c1", sendErr.ConversationID)

	assert.Equal(t, []string{"m0"}, ids(c.Messages("c1")))
	got, _ = c.Conversation("c1")
	require.NotNil(t, got.LatestMessageID)
	assert.Equal(t, "m0", *got.LatestMessageID)
	assert.Equal(t, t0, got.UpdatedAt)
	assert.False(t, c.Pending(provisional.ID))
}

func TestBeginSendUnknownConversation(t *testing.T) {
	c, _ := newTestCache("alice")
	_, err := c.BeginSend("nope", "x", nil)
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestMessageSentFromOthers(t *testing.T) {
	c, _ := newTestCache("alice")
	c.Load([]*domain.Conversation{conv("c1", t0, "alice", "bob")})

	m2 := msg("m2", "c1", "bob", t0.Add(2*time.Second))
	m1 := msg("m1", "c1", "bob", t0.Add(time.Second))
	c.Apply(pubsub.MessageSent(m1, nil))
	c.Apply(pubsub.MessageSent(m2, nil))
	c.Apply(pubsub.MessageSent(m1, nil))

	assert.Equal(t, []string{"m1", "m2"}, ids(c.Messages("c1")))
	got, _ := c.Conversation("c1")
	require.NotNil(t, got.LatestMessage)
	assert.Equal(t, "m2", got.LatestMessage.ID)
	assert.Equal(t, m2.CreatedAt, got.UpdatedAt)
}

func TestMessageDeletedRepointsLatest(t *testing.T) {
	c, _ := newTestCache("alice")
	m1 := msg("m1", "c1", "bob", t0.Add(time.Second))
	m2 := msg("m2", "c1", "bob", t0.Add(2*time.Second))
	m3 := msg("m3", "c1", "alice", t0.Add(3*time.Second))
	c.Load([]*domain.Conversation{withLatest(conv("c1", m3.CreatedAt, "alice", "bob"), m3)})
	c.LoadMessages([]*domain.Message{m1, m2, m3})

	// Without a snapshot the newest remaining local message takes over.
	c.Apply(pubsub.MessageDeleted(m3, nil))
	got, _ := c.Conversation("c1")
	require.NotNil(t, got.LatestMessageID)
	assert.Equal(t, "m2", *got.LatestMessageID)

	// Deleting a non-latest message leaves the pointer alone.
	c.Apply(pubsub.MessageDeleted(m1, withLatest(conv("c1", m3.CreatedAt, "alice", "bob"), m2)))
	got, _ = c.Conversation("c1")
	assert.Equal(t, "m2", *got.LatestMessageID)
	assert.Equal(t, []string{"m2"}, ids(c.Messages("c1")))

	c.Apply(pubsub.MessageDeleted(m2, withLatest(conv("c1", m3.CreatedAt, "alice", "bob"), nil)))
	got, _ = c.Conversation("c1")
	assert.Nil(t, got.LatestMessageID)
	assert.Nil(t, got.LatestMessage)
	assert.Empty(t, c.Messages("c1"))

	// Unknown ids are ignored.
	c.Apply(pubsub.MessageDeleted(m2, nil))
}

func TestConversationUpdatedRemovalNavigatesAway(t *testing.T) {
	c, nav := newTestCache("alice")
	c.Load([]*domain.Conversation{
		conv("c1", t0, "alice", "bob"),
		conv("c2", t0, "alice", "bob"),
	})
	c.LoadMessages([]*domain.Message{msg("m1", "c1", "bob", t0)})
	c.Open("c1")

	c.Apply(pubsub.ConversationUpdated(conv("c2", t0.Add(time.Minute), "bob", "carol"), []string{"carol"}, []string{"alice"}))
	assert.Empty(t, nav.calls, "removal from a closed conversation does not navigate")
	assert.Equal(t, []string{"c1"}, convIDs(c.Conversations()))

	c.Apply(pubsub.ConversationUpdated(conv("c1", t0.Add(time.Minute), "bob", "carol"), []string{"carol"}, []string{"alice"}))
	assert.Equal(t, []string{""}, nav.calls)
	assert.Empty(t, c.Conversations())
	assert.Empty(t, c.Messages("c1"))
	assert.Equal(t, "", c.OpenConversation())
}

func TestConversationUpdatedAddedInsertsOnce(t *testing.T) {
	c, _ := newTestCache("carol")
	snapshot := conv("c1", t0, "alice", "bob", "carol")

	c.Apply(pubsub.ConversationUpdated(snapshot, []string{"carol"}, []string{}))
	c.Apply(pubsub.ConversationUpdated(snapshot, []string{"carol"}, []string{}))

	convs := c.Conversations()
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].Participants, 3)
}

func TestConversationUpdatedMergesSeenFlags(t *testing.T) {
	c, _ := newTestCache("alice")
	m1 := msg("m1", "c1", "alice", t0)
	local := withLatest(conv("c1", t0, "alice", "bob", "carol"), m1)
	c.Load([]*domain.Conversation{local, conv("c2", t0.Add(time.Minute), "alice", "dave")})
	c.LoadMessages([]*domain.Message{m1})
	c.Open("c1")

	m2 := msg("m2", "c1", "bob", t0.Add(2*time.Minute))
	snapshot := withLatest(conv("c1", m2.CreatedAt, "alice", "bob"), m2)
	snapshot.Participants[0].HasSeenLatestMessage = false
	snapshot.Participants[1].HasSeenLatestMessage = true

	c.Apply(pubsub.ConversationUpdated(snapshot, nil, nil))

	got, ok := c.Conversation("c1")
	require.True(t, ok)
	require.NotNil(t, got.LatestMessage)
	assert.Equal(t, "m2", got.LatestMessage.ID)
	require.Len(t, got.Participants, 2, "carol left the snapshot")
	seen := map[string]bool{}
	for _, p := range got.Participants {
		seen[p.UserID] = p.HasSeenLatestMessage
	}
	assert.True(t, seen["alice"], "open conversation is marked read locally")
	assert.True(t, seen["bob"])

	assert.Equal(t, []string{"m1", "m2"}, ids(c.Messages("c1")), "local messages survive the merge")
	assert.Equal(t, []string{"c1", "c2"}, convIDs(c.Conversations()))
}

func TestConversationUpdatedForUnknownIsIgnored(t *testing.T) {
	c, _ := newTestCache("alice")
	c.Apply(pubsub.ConversationUpdated(conv("c9", t0, "alice", "bob"), nil, nil))
	assert.Empty(t, c.Conversations())
}

func TestConversationCreatedInsertIfAbsent(t *testing.T) {
	c, _ := newTestCache("alice")
	c.Load([]*domain.Conversation{conv("c1", t0, "alice", "bob")})
	_, err := c.BeginSend("c1", "local", nil)
	require.NoError(t, err)
	before, _ := c.Conversation("c1")

	c.Apply(pubsub.ConversationCreated(conv("c1", t0, "alice", "bob")))
	after, _ := c.Conversation("c1")
	assert.Equal(t, before, after)

	c.Apply(pubsub.ConversationCreated(conv("c2", t0.Add(2*time.Hour), "alice", "carol")))
	assert.Equal(t, []string{"c2", "c1"}, convIDs(c.Conversations()))
}

func TestConversationDeleted(t *testing.T) {
	c, nav := newTestCache("alice")
	c.Load([]*domain.Conversation{conv("c1", t0, "alice", "bob"), conv("c2", t0, "alice", "bob")})
	c.Open("c2")

	c.Apply(pubsub.ConversationDeleted(conv("c1", t0, "alice", "bob")))
	assert.Empty(t, nav.calls)
	c.Apply(pubsub.ConversationDeleted(conv("c2", t0, "alice", "bob")))
	assert.Equal(t, []string{""}, nav.calls)
	assert.Empty(t, c.Conversations())
}

func TestEventsWithoutPayloadAreIgnored(t *testing.T) {
	c, nav := newTestCache("alice")
	for _, topic := range []pubsub.Topic{
		pubsub.TopicMessageSent,
		pubsub.TopicMessageDeleted,
		pubsub.TopicConversationCreated,
		pubsub.TopicConversationUpdated,
		pubsub.TopicConversationDeleted,
	} {
		c.Apply(pubsub.Event{Topic: topic})
	}
	assert.Empty(t, c.Conversations())
	assert.Empty(t, nav.calls)
}

func TestLateEventsDoNotResurrectDeletedMessage(t *testing.T) {
	c, _ := newTestCache("alice")
	m1 := msg("m1", "c1", "bob", t0.Add(time.Minute))
	m2 := msg("m2", "c1", "bob", t0.Add(2*time.Minute))
	c.Load([]*domain.Conversation{withLatest(conv("c1", m1.CreatedAt, "alice", "bob"), m1)})
	c.LoadMessages([]*domain.Message{m1})

	afterDelete := t0.Add(3 * time.Minute)
	c.Apply(pubsub.MessageDeleted(m2, withLatest(conv("c1", afterDelete, "alice", "bob"), m1)))
	c.Apply(pubsub.ConversationUpdated(withLatest(conv("c1", afterDelete, "alice", "bob"), m1), nil, nil))
	c.Apply(pubsub.MessageSent(m2, withLatest(conv("c1", m2.CreatedAt, "alice", "bob"), m2)))
	c.Apply(pubsub.ConversationUpdated(withLatest(conv("c1", m2.CreatedAt, "alice", "bob"), m2), nil, nil))

	assert.Equal(t, []string{"m1"}, ids(c.Messages("c1")))
	got, _ := c.Conversation("c1")
	require.NotNil(t, got.LatestMessageID)
	assert.Equal(t, "m1", *got.LatestMessageID)
	assert.Equal(t, afterDelete, got.UpdatedAt)
}

func TestStaleSnapshotKeepsParticipants(t *testing.T) {
	c, _ := newTestCache("alice")
	c.Load([]*domain.Conversation{conv("c1", t0.Add(5*time.Minute), "alice", "bob", "carol")})

	c.Apply(pubsub.ConversationUpdated(conv("c1", t0.Add(time.Minute), "alice", "bob"), nil, nil))
	got, _ := c.Conversation("c1")
	assert.Len(t, got.Participants, 3)
	assert.Equal(t, t0.Add(5*time.Minute), got.UpdatedAt)

	c.Apply(pubsub.ConversationUpdated(conv("c1", t0.Add(6*time.Minute), "alice", "bob"), nil, []string{"carol"}))
	got, _ = c.Conversation("c1")
	assert.Len(t, got.Participants, 2)
}

func TestReplayingEventsIsIdempotent(t *testing.T) {
	c, _ := newTestCache("alice")
	m1 := msg("m1", "c1", "bob", t0.Add(time.Minute))
	m2 := msg("m2", "c1", "alice", t0.Add(2*time.Minute))
	m3 := msg("m3", "c1", "bob", t0.Add(3*time.Minute))
	afterDelete := t0.Add(4 * time.Minute)

	events := []pubsub.Event{
		pubsub.ConversationCreated(conv("c1", t0, "alice", "bob")),
		pubsub.MessageSent(m1, withLatest(conv("c1", m1.CreatedAt, "alice", "bob"), m1)),
		pubsub.MessageActivity(withLatest(conv("c1", m1.CreatedAt, "alice", "bob"), m1), "bob"),
		pubsub.MessageSent(m2, withLatest(conv("c1", m2.CreatedAt, "alice", "bob"), m2)),
		pubsub.MessageActivity(withLatest(conv("c1", m2.CreatedAt, "alice", "bob"), m2), "alice"),
		pubsub.MessageSent(m3, withLatest(conv("c1", m3.CreatedAt, "alice", "bob"), m3)),
		pubsub.MessageDeleted(m3, withLatest(conv("c1", afterDelete, "alice", "bob"), m2)),
		pubsub.MessageActivity(withLatest(conv("c1", afterDelete, "alice", "bob"), m2), "bob"),
	}
	for _, ev := range events {
		c.Apply(ev)
	}
	convs := c.Conversations()
	thread := c.Messages("c1")
	assert.Equal(t, []string{"m1", "m2"}, ids(thread))
	require.NotNil(t, convs[0].LatestMessageID)
	assert.Equal(t, "m2", *convs[0].LatestMessageID)

	for _, ev := range events {
		c.Apply(ev)
	}
	assert.Equal(t, convs, c.Conversations())
	assert.Equal(t, thread, c.Messages("c1"))
}

func TestFailSendSkipsDeletedPreviousLatest(t *testing.T) {
	c, _ := newTestCache("alice")
	m0 := msg("m0", "c1", "bob", t0.Add(-time.Minute))
	m1 := msg("m1", "c1", "bob", t0)
	c.Load([]*domain.Conversation{withLatest(conv("c1", t0, "alice", "bob"), m1)})
	c.LoadMessages([]*domain.Message{m0, m1})

	provisional, err := c.BeginSend("c1", "late", nil)
	require.NoError(t, err)
	c.Apply(pubsub.MessageDeleted(m1, nil))
	c.FailSend(provisional.ID, errors.New("rejected"))

	got, _ := c.Conversation("c1")
	require.NotNil(t, got.LatestMessageID)
	assert.Equal(t, "m0", *got.LatestMessageID)
}

func TestReadHookFiresOutsideLock(t *testing.T) {
	c, _ := newTestCache("alice")
	c.Load([]*domain.Conversation{conv("c1", t0, "alice", "bob"), conv("c2", t0, "alice", "carol")})

	var reads []string
	c.OnRead(func(id string) {
		reads = append(reads, id)
		c.Conversations()
	})

	c.Open("c1")
	assert.Equal(t, []string{"c1"}, reads)
	c.Open("c1")
	assert.Equal(t, []string{"c1"}, reads, "already read locally")

	m1 := msg("m1", "c1", "bob", t0.Add(time.Minute))
	c.Apply(pubsub.MessageActivity(withLatest(conv("c1", m1.CreatedAt, "alice", "bob"), m1), "bob"))
	assert.Equal(t, []string{"c1", "c1"}, reads)

	m2 := msg("m2", "c2", "carol", t0.Add(time.Minute))
	c.Apply(pubsub.MessageActivity(withLatest(conv("c2", m2.CreatedAt, "alice", "carol"), m2), "carol"))
	assert.Equal(t, []string{"c1", "c1"}, reads, "closed conversations stay unread")

	c.Open("")
	assert.Equal(t, []string{"c1", "c1"}, reads)
}
