package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// SetUsername fails with ErrConflict when the username is taken.
	SetUsername(ctx context.Context, id, username string) error
	// Search matches usernames case-insensitively by substring, excluding
	// excludeUsername.
	Search(ctx context.Context, query, excludeUsername string, limit int) ([]*User, error)
	// CountExisting returns how many of ids belong to existing users.
	CountExisting(ctx context.Context, ids []string) (int, error)
}

// ConversationRepository defines persistence operations for conversations.
// Reads return conversations populated with participants and the latest
// message.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	// Lock acquires a row lock for the remainder of the transaction where
	// the engine supports it and fails with ErrNotFound for a missing row.
	Lock(ctx context.Context, id string) error
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	SetLatestMessage(ctx context.Context, id string, messageID *string, updatedAt time.Time) error
	Touch(ctx context.Context, id string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	// Add upserts one row per user; an existing row gets hasSeen overwritten.
	Add(ctx context.Context, conversationID string, userIDs []string, hasSeen bool) error
	Remove(ctx context.Context, conversationID string, userIDs []string) error
	RemoveAll(ctx context.Context, conversationID string) error
	ListUserIDs(ctx context.Context, conversationID string) ([]string, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	MarkSeen(ctx context.Context, conversationID, userID string) error
	// MarkSeenExclusive sets seen=true for userID and false for everyone else.
	MarkSeenExclusive(ctx context.Context, conversationID, userID string) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Create fails with ErrConflict when the id already exists.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// Latest returns the message with the greatest (created_at, id), or
	// ErrNotFound when the conversation has none.
	Latest(ctx context.Context, conversationID string) (*Message, error)
	// ListForConversation returns messages in created_at ascending order.
	ListForConversation(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, conversationID string) error
}

// Repositories groups the repositories bound to one unit of work.
type Repositories interface {
	Users() UserRepository
	Conversations() ConversationRepository
	Participants() ParticipantRepository
	Messages() MessageRepository
}

// Store is the transactional persistence contract. The embedded
// Repositories run in autocommit mode; InTx runs fn in a single transaction
// that is committed only if fn returns nil.
type Store interface {
	Repositories
	InTx(ctx context.Context, fn func(tx Repositories) error) error
	Close() error
}
