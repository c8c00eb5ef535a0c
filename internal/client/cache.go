// Package client keeps a local, event-driven read model of a user's
// conversations and messages.
package client

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"zchat/internal/domain"
	"zchat/internal/pubsub"
)

// Navigator is told which conversation to show. An empty id means the
// default view with no conversation open.
type Navigator func(conversationID string)

// ReadHook is called after the cache marks a conversation read locally so the
// caller can record the read on the server.
type ReadHook func(conversationID string)

// SendError reports an optimistic send the server did not accept. The
// provisional message has already been rolled back.
type SendError struct {
	MessageID      string
	ConversationID string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message %s: %v", e.MessageID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Temporary reports that the user may retry the send.
func (e *SendError) Temporary() bool { return true }

var ErrUnknownConversation = errors.New("conversation not in cache")

type participantKey struct {
	conversationID string
	userID         string
}

type pendingSend struct {
	conversationID string
	prevLatest     *string
	prevUpdatedAt  time.Time
}

// conversationRecord is the normalized conversation row. Participants and
// messages live in their own tables. updatedAt may run ahead of the server
// during an optimistic send; syncedAt is the newest server updated_at seen
// and decides whether a snapshot is stale.
type conversationRecord struct {
	id              string
	latestMessageID *string
	createdAt       time.Time
	updatedAt       time.Time
	syncedAt        time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	self     string
	navigate Navigator
	onRead   ReadHook
	now      func() time.Time

	mu            sync.Mutex
	users         map[string]domain.UserSummary
	conversations map[string]*conversationRecord
	participants  map[participantKey]*domain.Participant
	messages      map[string]*domain.Message
	deleted       map[string]struct{}
	pending       map[string]pendingSend
	open          string
}

func NewCache(selfID string, nav Navigator) *Cache {
	if nav == nil {
		nav = func(string) {}
	}
	return &Cache{
		self:          selfID,
		navigate:      nav,
		now:           time.Now,
		users:         make(map[string]domain.UserSummary),
		conversations: make(map[string]*conversationRecord),
		participants:  make(map[participantKey]*domain.Participant),
		messages:      make(map[string]*domain.Message),
		deleted:       make(map[string]struct{}),
		pending:       make(map[string]pendingSend),
	}
}

// OnRead installs the hook called for every local mark-read. It runs outside
// the cache lock.
func (c *Cache) OnRead(hook ReadHook) {
	c.mu.Lock()
	c.onRead = hook
	c.mu.Unlock()
}

// Load seeds the cache with conversations fetched over REST.
func (c *Cache) Load(convs []*domain.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range convs {
		c.mergeConversation(conv)
	}
}

// LoadMessages seeds one conversation's thread.
func (c *Cache) LoadMessages(msgs []*domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.mergeMessage(m)
	}
}

// Open marks conversationID as the one on screen and reads it locally. An
// empty id closes the current conversation.
func (c *Cache) Open(conversationID string) {
	c.mu.Lock()
	c.open = conversationID
	read := c.markReadLocked(conversationID)
	hook := c.onRead
	c.mu.Unlock()

	if read && hook != nil {
		hook(conversationID)
	}
}

func (c *Cache) OpenConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// BeginSend inserts a provisional message and bumps its conversation to the
// top. The returned message id must be the one sent to the server.
func (c *Cache) BeginSend(conversationID, body string, attachment *string) (*domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.conversations[conversationID]
	if !ok {
		return nil, ErrUnknownConversation
	}
	now := c.now().UTC()
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.self,
		Body:           body,
		Attachment:     attachment,
		CreatedAt:      now,
		Sender:         c.users[c.self],
	}
	c.pending[msg.ID] = pendingSend{
		conversationID: conversationID,
		prevLatest:     conv.latestMessageID,
		prevUpdatedAt:  conv.updatedAt,
	}
	c.messages[msg.ID] = msg
	id := msg.ID
	conv.latestMessageID = &id
	if now.After(conv.updatedAt) {
		conv.updatedAt = now
	}
	cp := *msg
	return &cp, nil
}

// ConfirmSend merges the server's copy of a message started with BeginSend.
func (c *Cache) ConfirmSend(m *domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeMessage(m)
}

// FailSend rolls back a provisional message and returns the error to show.
func (c *Cache) FailSend(messageID string, cause error) *SendError {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[messageID]
	if !ok {
		return &SendError{MessageID: messageID, Err: cause}
	}
	delete(c.pending, messageID)
	delete(c.messages, messageID)
	if conv, ok := c.conversations[p.conversationID]; ok {
		if conv.latestMessageID != nil && *conv.latestMessageID == messageID {
			c.setLatest(conv, p.prevLatest)
			conv.updatedAt = p.prevUpdatedAt
		}
	}
	return &SendError{MessageID: messageID, ConversationID: p.conversationID, Err: cause}
}

// Pending reports whether messageID is still awaiting confirmation.
func (c *Cache) Pending(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[messageID]
	return ok
}

// effects are the callbacks an event triggers once the lock is released.
type effects struct {
	leave bool
	read  string
}

// Apply reconciles one event from the subscription stream. Events may arrive
// late, twice or out of order; applying a sequence again changes nothing.
func (c *Cache) Apply(ev pubsub.Event) {
	c.mu.Lock()
	fx := c.applyLocked(ev)
	hook := c.onRead
	c.mu.Unlock()

	if fx.leave {
		c.navigate("")
	}
	if fx.read != "" && hook != nil {
		hook(fx.read)
	}
}

func (c *Cache) applyLocked(ev pubsub.Event) effects {
	switch ev.Topic {
	case pubsub.TopicMessageSent:
		if ev.Message == nil {
			return effects{}
		}
		if !c.mergeMessage(ev.Message) {
			return effects{}
		}
		if conv, ok := c.conversations[ev.Message.ConversationID]; ok {
			c.bumpLatest(conv, ev.Message)
		}

	case pubsub.TopicMessageDeleted:
		if ev.Message == nil {
			return effects{}
		}
		c.removeMessage(ev.Message, ev.Conversation)

	case pubsub.TopicConversationCreated:
		if ev.Conversation == nil {
			return effects{}
		}
		if _, exists := c.conversations[ev.Conversation.ID]; !exists {
			c.mergeConversation(ev.Conversation)
		}

	case pubsub.TopicConversationUpdated:
		if ev.Conversation == nil {
			return effects{}
		}
		id := ev.Conversation.ID
		switch {
		case containsID(ev.RemovedUserIDs, c.self):
			c.dropConversation(id)
			if c.open == id {
				c.open = ""
				return effects{leave: true}
			}
		case containsID(ev.AddedUserIDs, c.self):
			if _, exists := c.conversations[id]; !exists {
				c.mergeConversation(ev.Conversation)
			}
		default:
			if _, exists := c.conversations[id]; !exists {
				return effects{}
			}
			c.mergeConversation(ev.Conversation)
			if c.open == id && c.markReadLocked(id) {
				return effects{read: id}
			}
		}

	case pubsub.TopicConversationDeleted:
		if ev.Conversation == nil {
			return effects{}
		}
		id := ev.Conversation.ID
		c.dropConversation(id)
		if c.open == id {
			c.open = ""
			return effects{leave: true}
		}
	}
	return effects{}
}

// mergeUser keeps known fields when the incoming summary is partial.
func (c *Cache) mergeUser(u domain.UserSummary) {
	if u.ID == "" {
		return
	}
	cur := c.users[u.ID]
	cur.ID = u.ID
	if u.Username != "" {
		cur.Username = u.Username
	}
	if u.Image != nil {
		cur.Image = u.Image
	}
	c.users[u.ID] = cur
}

// mergeMessage is idempotent. Messages are immutable on the server, so an
// existing entry only adopts the server timestamp and sender of a confirmed
// provisional copy. Deleted ids are never merged back; it reports whether
// the message is in the cache afterwards.
func (c *Cache) mergeMessage(m *domain.Message) bool {
	if _, gone := c.deleted[m.ID]; gone {
		return false
	}
	c.mergeUser(m.Sender)
	if cur, ok := c.messages[m.ID]; ok {
		if _, provisional := c.pending[m.ID]; provisional {
			cur.CreatedAt = m.CreatedAt
			delete(c.pending, m.ID)
		}
		if m.Sender.ID != "" {
			cur.Sender = c.users[m.Sender.ID]
		}
		return true
	}
	cp := *m
	if cp.Sender.ID != "" {
		cp.Sender = c.users[cp.Sender.ID]
	}
	c.messages[m.ID] = &cp
	return true
}

func (c *Cache) mergeParticipant(p domain.Participant) {
	c.mergeUser(p.User)
	key := participantKey{conversationID: p.ConversationID, userID: p.UserID}
	if cur, ok := c.participants[key]; ok {
		cur.HasSeenLatestMessage = p.HasSeenLatestMessage
		if p.User.ID != "" {
			cur.User = c.users[p.User.ID]
		}
		return
	}
	cp := p
	if cp.User.ID != "" {
		cp.User = c.users[cp.User.ID]
	}
	c.participants[key] = &cp
}

// mergeConversation folds a server snapshot into the local record. Local
// participants missing from a non-empty snapshot are dropped. A snapshot
// older than the record only contributes its message.
func (c *Cache) mergeConversation(conv *domain.Conversation) {
	rec, ok := c.conversations[conv.ID]
	if !ok {
		rec = &conversationRecord{id: conv.ID, createdAt: conv.CreatedAt, syncedAt: conv.UpdatedAt}
		c.conversations[conv.ID] = rec
	}
	if conv.LatestMessage != nil {
		c.mergeMessage(conv.LatestMessage)
	}
	if conv.UpdatedAt.Before(rec.syncedAt) {
		return
	}
	rec.syncedAt = conv.UpdatedAt
	if conv.UpdatedAt.After(rec.updatedAt) {
		rec.updatedAt = conv.UpdatedAt
	}
	if !c.hasPendingIn(conv.ID) {
		c.setLatest(rec, conv.LatestMessageID)
	}

	if len(conv.Participants) > 0 {
		keep := make(map[string]struct{}, len(conv.Participants))
		for _, p := range conv.Participants {
			keep[p.UserID] = struct{}{}
		}
		for key := range c.participants {
			if key.conversationID != conv.ID {
				continue
			}
			if _, ok := keep[key.userID]; !ok {
				delete(c.participants, key)
			}
		}
	}
	for _, p := range conv.Participants {
		c.mergeParticipant(p)
	}
}

func (c *Cache) hasPendingIn(conversationID string) bool {
	for _, p := range c.pending {
		if p.conversationID == conversationID {
			return true
		}
	}
	return false
}

func (c *Cache) bumpLatest(conv *conversationRecord, m *domain.Message) {
	if conv.latestMessageID != nil {
		if cur, ok := c.messages[*conv.latestMessageID]; ok && !cur.Before(m) {
			return
		}
	}
	id := m.ID
	conv.latestMessageID = &id
	if m.CreatedAt.After(conv.updatedAt) {
		conv.updatedAt = m.CreatedAt
	}
	if m.CreatedAt.After(conv.syncedAt) {
		conv.syncedAt = m.CreatedAt
	}
}

// setLatest adopts a server pointer unless it names a deleted message, in
// which case the newest local message takes over.
func (c *Cache) setLatest(rec *conversationRecord, id *string) {
	if id != nil {
		if _, gone := c.deleted[*id]; gone {
			c.repointLatest(rec)
			return
		}
	}
	rec.latestMessageID = copyID(id)
}

func (c *Cache) repointLatest(rec *conversationRecord) {
	var newest *domain.Message
	for _, other := range c.messages {
		if other.ConversationID != rec.id {
			continue
		}
		if newest == nil || newest.Before(other) {
			newest = other
		}
	}
	if newest == nil {
		rec.latestMessageID = nil
		return
	}
	nid := newest.ID
	rec.latestMessageID = &nid
}

// removeMessage deletes a message, known locally or not, and records its id
// so late copies stay deleted. A latest pointer naming it moves to the
// snapshot's latest when the snapshot is current, or to the newest local
// message of the thread.
func (c *Cache) removeMessage(m *domain.Message, snapshot *domain.Conversation) {
	c.deleted[m.ID] = struct{}{}
	delete(c.messages, m.ID)
	delete(c.pending, m.ID)

	conv, ok := c.conversations[m.ConversationID]
	if !ok {
		return
	}
	current := snapshot != nil && snapshot.ID == conv.id && !snapshot.UpdatedAt.Before(conv.syncedAt)
	if current {
		conv.syncedAt = snapshot.UpdatedAt
		if snapshot.UpdatedAt.After(conv.updatedAt) {
			conv.updatedAt = snapshot.UpdatedAt
		}
	}
	if conv.latestMessageID == nil || *conv.latestMessageID != m.ID {
		return
	}
	if current {
		if snapshot.LatestMessage != nil {
			c.mergeMessage(snapshot.LatestMessage)
		}
		c.setLatest(conv, snapshot.LatestMessageID)
		return
	}
	c.repointLatest(conv)
}

func (c *Cache) dropConversation(id string) {
	delete(c.conversations, id)
	for key := range c.participants {
		if key.conversationID == id {
			delete(c.participants, key)
		}
	}
	for mid, m := range c.messages {
		if m.ConversationID == id {
			delete(c.messages, mid)
			delete(c.pending, mid)
		}
	}
}

// markReadLocked reports whether the flag flipped.
func (c *Cache) markReadLocked(conversationID string) bool {
	p, ok := c.participants[participantKey{conversationID: conversationID, userID: c.self}]
	if !ok || p.HasSeenLatestMessage {
		return false
	}
	p.HasSeenLatestMessage = true
	return true
}

// Conversations returns the conversation list, most recently updated first.
func (c *Cache) Conversations() []domain.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Conversation, 0, len(c.conversations))
	for _, rec := range c.conversations {
		out = append(out, c.denormalize(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Conversation returns one denormalized conversation.
func (c *Cache) Conversation(id string) (domain.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.conversations[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return c.denormalize(rec), true
}

// Messages returns a thread in display order: created_at ascending, id as
// the tie-break.
func (c *Cache) Messages(conversationID string) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.Message
	for _, m := range c.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}

func (c *Cache) denormalize(rec *conversationRecord) domain.Conversation {
	conv := domain.Conversation{
		ID:              rec.id,
		LatestMessageID: copyID(rec.latestMessageID),
		CreatedAt:       rec.createdAt,
		UpdatedAt:       rec.updatedAt,
	}
	for key, p := range c.participants {
		if key.conversationID == rec.id {
			conv.Participants = append(conv.Participants, *p)
		}
	}
	sort.Slice(conv.Participants, func(i, j int) bool {
		return conv.Participants[i].UserID < conv.Participants[j].UserID
	})
	if rec.latestMessageID != nil {
		if m, ok := c.messages[*rec.latestMessageID]; ok {
			cp := *m
			conv.LatestMessage = &cp
		}
	}
	return conv
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
