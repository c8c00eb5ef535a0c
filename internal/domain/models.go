package domain

import "time"

// User represents an application user. Username is empty until onboarding.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	Image          *string   `json:"image,omitempty"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary returns the public projection embedded in participants and messages.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Image: u.Image}
}

// UserSummary is the public part of a user carried inside read models and
// event payloads.
type UserSummary struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Image    *string `json:"image,omitempty"`
}

// Conversation is a set of participants sharing one message thread.
//
// Participants and LatestMessage are populated by the store on reads and are
// the snapshot embedded in published events.
type Conversation struct {
	ID              string        `json:"id"`
	LatestMessageID *string       `json:"latest_message_id"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Participants    []Participant `json:"participants"`
	LatestMessage   *Message      `json:"latest_message"`
}

// HasParticipant reports whether userID is in the participant snapshot.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the user ids of the participant snapshot.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// Participant links a user to a conversation and carries per-user read state.
type Participant struct {
	ConversationID       string      `json:"conversation_id"`
	UserID               string      `json:"user_id"`
	HasSeenLatestMessage bool        `json:"has_seen_latest_message"`
	User                 UserSummary `json:"user"`
}

// Message is a single immutable chat message. ID is supplied by the client.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Body           string      `json:"body"`
	Attachment     *string     `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Sender         UserSummary `json:"sender"`
}

// Before reports whether m sorts before o in a conversation thread:
// created_at ascending, id as the tie-break.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
