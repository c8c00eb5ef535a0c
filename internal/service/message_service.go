package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zchat/internal/domain"
	"zchat/internal/pubsub"
)

// MaxBodyLength bounds a message body in runes.
const MaxBodyLength = 5000

// MessageService owns message lifecycle and the conversation's latest
// message pointer.
type MessageService struct {
	coordinator
}

func NewMessageService(
	store domain.Store,
	events pubsub.Publisher,
	locks *ConversationLocks,
	logger *slog.Logger,
) *MessageService {
	return &MessageService{coordinator: newCoordinator(store, events, locks, logger)}
}

// SetClock replaces the time source used for message timestamps.
func (s *MessageService) SetClock(now func() time.Time) {
	s.now = now
}

type SendMessageInput struct {
	ID             string
	SenderID       string
	ConversationID string
	Body           string
	Attachment     *string
}

// SendMessage stores a message under the caller-supplied id, makes it the
// conversation's latest message and leaves only the sender with the seen
// flag set.
func (s *MessageService) SendMessage(ctx context.Context, callerID string, in SendMessageInput) (*domain.Message, error) {
	if in.SenderID != callerID {
		return nil, fmt.Errorf("%w: sender must be the caller", domain.ErrForbidden)
	}
	if in.ID == "" || in.ConversationID == "" {
		return nil, fmt.Errorf("%w: message id and conversation id are required", domain.ErrInvalidInput)
	}
	body := strings.TrimSpace(in.Body)
	hasAttachment := in.Attachment != nil && *in.Attachment != ""
	if body == "" && !hasAttachment {
		return nil, fmt.Errorf("%w: message body cannot be empty", domain.ErrInvalidInput)
	}
	if len([]rune(body)) > MaxBodyLength {
		return nil, fmt.Errorf("%w: message body exceeds %d characters", domain.ErrInvalidInput, MaxBodyLength)
	}
	var attachment *string
	if hasAttachment {
		a := *in.Attachment
		attachment = &a
	}

	unlock := s.locks.Lock(in.ConversationID)
	defer unlock()

	var (
		msg      *domain.Message
		snapshot *domain.Conversation
	)
	err := s.store.InTx(ctx, func(tx domain.Repositories) error {
		if err := lockConversation(ctx, tx, in.ConversationID); err != nil {
			return err
		}
		if err := requireParticipant(ctx, tx, in.ConversationID, in.SenderID); err != nil {
			return err
		}
		if _, err := tx.Messages().GetByID(ctx, in.ID); err == nil {
			return fmt.Errorf("message %s: %w", in.ID, domain.ErrConflict)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("check message id: %w", err)
		}

		createdAt, err := s.nextTimestamp(ctx, tx, in.ConversationID)
		if err != nil {
			return err
		}
		m := &domain.Message{
			ID:             in.ID,
			ConversationID: in.ConversationID,
			SenderID:       in.SenderID,
			Body:           body,
			Attachment:     attachment,
			CreatedAt:      createdAt,
		}
		if err := tx.Messages().Create(ctx, m); err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		if err := tx.Conversations().SetLatestMessage(ctx, in.ConversationID, &m.ID, createdAt); err != nil {
			return fmt.Errorf("set latest message: %w", err)
		}
		if err := tx.Participants().MarkSeenExclusive(ctx, in.ConversationID, in.SenderID); err != nil {
			return fmt.Errorf("update seen flags: %w", err)
		}

		if msg, err = tx.Messages().GetByID(ctx, m.ID); err != nil {
			return fmt.Errorf("load message: %w", err)
		}
		if snapshot, err = tx.Conversations().GetByID(ctx, in.ConversationID); err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, pubsub.MessageSent(msg, snapshot), pubsub.MessageActivity(snapshot, msg.SenderID))
	return msg, nil
}

// nextTimestamp keeps created_at strictly increasing within a conversation
// even when the clock stalls or steps back.
func (s *MessageService) nextTimestamp(ctx context.Context, tx domain.Repositories, conversationID string) (time.Time, error) {
	now := s.timestamp()
	latest, err := tx.Messages().Latest(ctx, conversationID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return now, nil
	case err != nil:
		return time.Time{}, fmt.Errorf("latest message: %w", err)
	}
	if !now.After(latest.CreatedAt) {
		now = latest.CreatedAt.Add(time.Microsecond)
	}
	return now, nil
}

// DeleteMessage removes a message sent by the caller, who must still be a
// participant. When it was the latest message, the pointer moves to the newest remaining message.
func (s *MessageService) DeleteMessage(ctx context.Context, callerID, messageID string) error {
	found, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if found.SenderID != callerID {
		return fmt.Errorf("%w: only the sender can delete a message", domain.ErrForbidden)
	}

	unlock := s.locks.Lock(found.ConversationID)
	defer unlock()

	var (
		msg      *domain.Message
		snapshot *domain.Conversation
	)
	err = s.store.InTx(ctx, func(tx domain.Repositories) error {
		if err := lockConversation(ctx, tx, found.ConversationID); err != nil {
			return err
		}
		m, err := tx.Messages().GetByID(ctx, messageID)
		if err != nil {
			return fmt.Errorf("get message: %w", err)
		}
		msg = m
		if err := requireParticipant(ctx, tx, m.ConversationID, callerID); err != nil {
			return err
		}

		conv, err := tx.Conversations().GetByID(ctx, m.ConversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		wasLatest := conv.LatestMessageID != nil && *conv.LatestMessageID == m.ID
		now := s.timestamp()
		if now.Before(conv.UpdatedAt) {
			now = conv.UpdatedAt
		}

		if wasLatest {
			if err := tx.Conversations().SetLatestMessage(ctx, conv.ID, nil, now); err != nil {
				return fmt.Errorf("detach latest message: %w", err)
			}
		}
		if err := tx.Messages().Delete(ctx, m.ID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		if wasLatest {
			next, err := tx.Messages().Latest(ctx, conv.ID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
			case err != nil:
				return fmt.Errorf("find previous message: %w", err)
			default:
				if err := tx.Conversations().SetLatestMessage(ctx, conv.ID, &next.ID, now); err != nil {
					return fmt.Errorf("repoint latest message: %w", err)
				}
			}
		}

		if snapshot, err = tx.Conversations().GetByID(ctx, conv.ID); err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, pubsub.MessageDeleted(msg, snapshot), pubsub.MessageActivity(snapshot, msg.SenderID))
	return nil
}

// ListMessages returns the conversation's messages oldest first. limit <= 0
// returns all of them.
func (s *MessageService) ListMessages(ctx context.Context, callerID, conversationID string, limit int) ([]*domain.Message, error) {
	ok, err := s.store.Participants().IsParticipant(ctx, conversationID, callerID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		if _, err := s.store.Conversations().GetByID(ctx, conversationID); err != nil {
			return nil, fmt.Errorf("get conversation: %w", err)
		}
		return nil, fmt.Errorf("%w: not a participant in this conversation", domain.ErrForbidden)
	}
	msgs, err := s.store.Messages().ListForConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
