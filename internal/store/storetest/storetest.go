// Package storetest holds the behaviour every domain.Store implementation
// must share. Each adapter runs Run from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
)

// Factory returns an empty store. The store is closed by Run.
type Factory func(t *testing.T) domain.Store

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.Store)
	}{
		{"Users", testUsers},
		{"ConversationReads", testConversationReads},
		{"ParticipantUpsert", testParticipantUpsert},
		{"SeenFlags", testSeenFlags},
		{"MessageOrdering", testMessageOrdering},
		{"LatestPointer", testLatestPointer},
		{"DeleteConversationOrder", testDeleteConversationOrder},
		{"TransactionRollback", testTransactionRollback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func seedUsers(t *testing.T, s domain.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.Users().Create(context.Background(), &domain.User{
			ID:        id,
			Username:  "user_" + id,
			Email:     id + "@example.com",
			CreatedAt: base,
		}))
	}
}

func seedConversation(t *testing.T, s domain.Store, id string, members ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx domain.Repositories) error {
		if err := tx.Conversations().Create(ctx, &domain.Conversation{ID: id, CreatedAt: base, UpdatedAt: base}); err != nil {
			return err
		}
		return tx.Participants().Add(ctx, id, members, false)
	}))
}

func seedMessage(t *testing.T, s domain.Store, id, conversationID, sender string, at time.Time) {
	t.Helper()
	require.NoError(t, s.Messages().Create(context.Background(), &domain.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       sender,
		Body:           "body " + id,
		CreatedAt:      at,
	}))
}

func testUsers(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.Users().Create(ctx, &domain.User{ID: "u1", Email: "u1@example.com", CreatedAt: base}))
	require.NoError(t, s.Users().Create(ctx, &domain.User{ID: "u2", Email: "u2@example.com", CreatedAt: base}))

	err := s.Users().Create(ctx, &domain.User{ID: "u3", Email: "u1@example.com", CreatedAt: base})
	assert.ErrorIs(t, err, domain.ErrConflict)

	u, err := s.Users().GetByEmail(ctx, "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Empty(t, u.Username)
	assert.True(t, u.CreatedAt.Equal(base))

	_, err = s.Users().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Users().GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Users().SetUsername(ctx, "u1", "Alice"))
	assert.ErrorIs(t, s.Users().SetUsername(ctx, "u2", "Alice"), domain.ErrConflict)
	assert.ErrorIs(t, s.Users().SetUsername(ctx, "missing", "x"), domain.ErrNotFound)
	require.NoError(t, s.Users().SetUsername(ctx, "u2", "malice"))

	u, err = s.Users().GetByUsername(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	found, err := s.Users().Search(ctx, "ALIC", "Alice", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "u2", found[0].ID)

	n, err := s.Users().CountExisting(ctx, []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testConversationReads(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seedUsers(t, s, "a", "b", "c")
	seedConversation(t, s, "c1", "a", "b")
	seedConversation(t, s, "c2", "a", "c")
	require.NoError(t, s.Conversations().Touch(ctx, "c2", base.Add(time.Minute)))

	c, err := s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.ParticipantIDs())
	assert.Equal(t, "user_a", c.Participants[0].User.Username)
	assert.Nil(t, c.LatestMessageID)
	assert.Nil(t, c.LatestMessage)

	list, err := s.Conversations().ListForUser(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].ID)
	assert.Equal(t, "c1", list[1].ID)

	list, err = s.Conversations().ListForUser(ctx, "b")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.Conversations().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.InTx(ctx, func(tx domain.Repositories) error {
		return tx.Conversations().Lock(ctx, "missing")
	}), domain.ErrNotFound)
}

func testParticipantUpsert(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seedUsers(t, s, "a", "b")
	seedConversation(t, s, "c1", "a", "b")

	// re-adding an existing participant resets its flag without a second row
	require.NoError(t, s.Participants().Add(ctx, "c1", []string{"b"}, true))
	c, err := s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, c.Participants, 2)
	for _, p := range c.Participants {
		assert.Equal(t, p.UserID == "b", p.HasSeenLatestMessage, p.UserID)
	}

	err = s.Participants().Add(ctx, "c1", []string{"ghost"}, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Participants().Remove(ctx, "c1", []string{"b"}))
	ids, err := s.Participants().ListUserIDs(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	ok, err := s.Participants().IsParticipant(ctx, "c1", "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSeenFlags(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seedUsers(t, s, "a", "b", "c")
	seedConversation(t, s, "c1", "a", "b", "c")
	require.NoError(t, s.Participants().MarkSeen(ctx, "c1", "c"))

	require.NoError(t, s.Participants().MarkSeenExclusive(ctx, "c1", "a"))
	c, err := s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	for _, p := range c.Participants {
		assert.Equal(t, p.UserID == "a", p.HasSeenLatestMessage, p.UserID)
	}

	require.NoError(t, s.Participants().MarkSeen(ctx, "c1", "b"))
	require.NoError(t, s.Participants().MarkSeen(ctx, "c1", "b"))
	c, err = s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, p := range c.Participants {
		seen[p.UserID] = p.HasSeenLatestMessage
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": false}, seen)
}

func testMessageOrdering(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seedUsers(t, s, "a", "b")
	seedConversation(t, s, "c1", "a", "b")

	seedMessage(t, s, "m2", "c1", "a", base.Add(2*time.Second))
	seedMessage(t, s, "m1", "c1", "b", base.Add(time.Second))
	// same timestamp as m2, later by id
	seedMessage(t, s, "m3", "c1", "a", base.Add(2*time.Second))

	err := s.Messages().Create(ctx, &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "a", Body: "dup", CreatedAt: base})
	assert.ErrorIs(t, err, domain.ErrConflict)

	all, err := s.Messages().ListForConversation(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(all))
	assert.Equal(t, "user_b", all[0].Sender.Username)

	page, err := s.Messages().ListForConversation(ctx, "c1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, messageIDs(page))

	latest, err := s.Messages().Latest(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "m3", latest.ID)
	assert.True(t, latest.CreatedAt.Equal(base.Add(2*time.Second)))

	_, err = s.Messages().Latest(ctx, "empty")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testLatestPointer(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seedUsers(t, s, "a", "b")
	seedConversation(t, s, "c1", "a", "b")
	seedMessage(t, s, "m1", "c1", "a", base.Add(time.Second))

	mid := "m1"
	require.NoError(t, s.Conversations().SetLatestMessage(ctx, "c1", &mid, base.Add(time.Second)))
	c, err := s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.LatestMessage)
	assert.Equal(t, "m1", c.LatestMessage.ID)
	assert.Equal(t, "user_a", c.LatestMessage.Sender.Username)
	assert.True(t, c.UpdatedAt.Equal(base.Add(time.Second)))

	// the pointer must be cleared before the message can go
	assert.Error(t, s.InTx(ctx, func(tx domain.Repositories) error {
		return tx.Messages().Delete(ctx, "m1")
	}))

	require.NoError(t, s.InTx(ctx, func(tx domain.Repositories) error {
		if err := tx.Conversations().SetLatestMessage(ctx, "c1", nil, base.Add(2*time.Second)); err != nil {
			return err
		}
		return tx.Messages().Delete(ctx, "m1")
	}))
	c, err = s.Conversations().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, c.LatestMessageID)
	assert.ErrorIs(t, s.Messages().Delete(ctx, "m1"), domain.ErrNotFound)
}

func testDeleteConversationOrder(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seedUsers(t, s, "a", "b")
	seedConversation(t, s, "c1", "a", "b")
	seedMessage(t, s, "m1", "c1", "a", base.Add(time.Second))
	mid := "m1"
	require.NoError(t, s.Conversations().SetLatestMessage(ctx, "c1", &mid, base.Add(time.Second)))

	require.NoError(t, s.InTx(ctx, func(tx domain.Repositories) error {
		if err := tx.Conversations().SetLatestMessage(ctx, "c1", nil, base); err != nil {
			return err
		}
		if err := tx.Messages().DeleteAll(ctx, "c1"); err != nil {
			return err
		}
		if err := tx.Participants().RemoveAll(ctx, "c1"); err != nil {
			return err
		}
		return tx.Conversations().Delete(ctx, "c1")
	}))

	_, err := s.Conversations().GetByID(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Messages().GetByID(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	list, err := s.Conversations().ListForUser(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, list)
}

var errAbort = errors.New("abort")

func testTransactionRollback(t *testing.T, s domain.Store) {
	ctx := context.Background()
	seedUsers(t, s, "a", "b")

	err := s.InTx(ctx, func(tx domain.Repositories) error {
		if err := tx.Conversations().Create(ctx, &domain.Conversation{ID: "c1", CreatedAt: base, UpdatedAt: base}); err != nil {
			return err
		}
		if err := tx.Participants().Add(ctx, "c1", []string{"a", "b"}, false); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	_, err = s.Conversations().GetByID(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	list, err := s.Conversations().ListForUser(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func messageIDs(msgs []*domain.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
