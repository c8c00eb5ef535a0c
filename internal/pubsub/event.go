// Package pubsub is the in-process event bus that fans committed chat
// mutations out to live subscribers.
package pubsub

import "zchat/internal/domain"

// Topic names one event stream.
type Topic string

const (
	TopicConversationCreated Topic = "conversation_created"
	TopicConversationUpdated Topic = "conversation_updated"
	TopicConversationDeleted Topic = "conversation_deleted"
	TopicMessageSent         Topic = "message_sent"
	TopicMessageDeleted      Topic = "message_deleted"
)

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	switch t {
	case TopicConversationCreated, TopicConversationUpdated, TopicConversationDeleted,
		TopicMessageSent, TopicMessageDeleted:
		return true
	}
	return false
}

// ConversationScoped reports whether subscriptions to t are bound to one
// conversation id.
func (t Topic) ConversationScoped() bool {
	return t == TopicMessageSent || t == TopicMessageDeleted
}

// Event is one published change. Payloads are snapshots taken at publish
// time and carry everything the filters need; they are shared between
// subscribers and must be treated as read-only.
type Event struct {
	Topic          Topic                `json:"topic"`
	Conversation   *domain.Conversation `json:"conversation,omitempty"`
	Message        *domain.Message      `json:"message,omitempty"`
	AddedUserIDs   []string             `json:"added_user_ids,omitempty"`
	RemovedUserIDs []string             `json:"removed_user_ids,omitempty"`
	// TriggeredBy is the author of the message whose send or delete caused a
	// conversation update. Empty for membership changes.
	TriggeredBy    string               `json:"triggered_by,omitempty"`
}

// ConversationID returns the id of the conversation the event refers to.
func (e Event) ConversationID() string {
	if e.Conversation != nil {
		return e.Conversation.ID
	}
	if e.Message != nil {
		return e.Message.ConversationID
	}
	return ""
}

func ConversationCreated(c *domain.Conversation) Event {
	return Event{Topic: TopicConversationCreated, Conversation: c}
}

// ConversationUpdated builds the membership update event.
func ConversationUpdated(c *domain.Conversation, added, removed []string) Event {
	return Event{
		Topic:          TopicConversationUpdated,
		Conversation:   c,
		AddedUserIDs:   added,
		RemovedUserIDs: removed,
	}
}

// MessageActivity builds the conversation update that follows a send or
// delete of a message written by authorID.
func MessageActivity(c *domain.Conversation, authorID string) Event {
	return Event{Topic: TopicConversationUpdated, Conversation: c, TriggeredBy: authorID}
}

func ConversationDeleted(c *domain.Conversation) Event {
	return Event{Topic: TopicConversationDeleted, Conversation: c}
}

// MessageSent builds the send event. c is the conversation snapshot after
// the commit and may be nil.
func MessageSent(m *domain.Message, c *domain.Conversation) Event {
	return Event{Topic: TopicMessageSent, Message: m, Conversation: c}
}

func MessageDeleted(m *domain.Message, c *domain.Conversation) Event {
	return Event{Topic: TopicMessageDeleted, Message: m, Conversation: c}
}
