package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"zchat/internal/domain"
	"zchat/internal/pubsub"
)

// ConversationService owns conversation lifecycle and membership.
type ConversationService struct {
	coordinator
}

func NewConversationService(
	store domain.Store,
	events pubsub.Publisher,
	locks *ConversationLocks,
	logger *slog.Logger,
) *ConversationService {
	return &ConversationService{coordinator: newCoordinator(store, events, locks, logger)}
}

// CreateConversation creates a conversation between the caller and
// participantIDs and returns its id. The caller starts with the latest
// message marked as seen.
func (s *ConversationService) CreateConversation(
	ctx context.Context,
	callerID string,
	participantIDs []string,
) (string, error) {
	ids, err := uniqueIDs([]string{callerID}, participantIDs)
	if err != nil {
		return "", err
	}
	if len(ids) < 2 {
		return "", fmt.Errorf("%w: a conversation needs at least two participants", domain.ErrInvalidInput)
	}

	id := uuid.NewString()
	unlock := s.locks.Lock(id)
	defer unlock()

	now := s.timestamp()
	var snapshot *domain.Conversation
	err = s.store.InTx(ctx, func(tx domain.Repositories) error {
		n, err := tx.Users().CountExisting(ctx, ids)
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		if n != len(ids) {
			return fmt.Errorf("participant: %w", domain.ErrNotFound)
		}

		conv := &domain.Conversation{ID: id, CreatedAt: now, UpdatedAt: now}
		if err := tx.Conversations().Create(ctx, conv); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		if err := tx.Participants().Add(ctx, id, ids[:1], true); err != nil {
			return fmt.Errorf("add creator: %w", err)
		}
		if err := tx.Participants().Add(ctx, id, ids[1:], false); err != nil {
			return fmt.Errorf("add participants: %w", err)
		}

		snapshot, err = tx.Conversations().GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.publish(ctx, pubsub.ConversationCreated(snapshot))
	return id, nil
}

// UpdateParticipants replaces the participant set with targetIDs. Users in
// both the current and the target set keep their rows untouched.
func (s *ConversationService) UpdateParticipants(
	ctx context.Context,
	callerID, conversationID string,
	targetIDs []string,
) error {
	target, err := uniqueIDs(targetIDs)
	if err != nil {
		return err
	}
	if len(target) < 2 {
		return fmt.Errorf("%w: a conversation needs at least two participants", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var (
		snapshot *domain.Conversation
		toAdd    []string
		toRemove []string
	)
	err = s.store.InTx(ctx, func(tx domain.Repositories) error {
		if err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		current, err := tx.Participants().ListUserIDs(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}

		toAdd, toRemove = diffMembers(current, target, callerID)
		if toAdd == nil {
			return fmt.Errorf("%w: not a participant in this conversation", domain.ErrForbidden)
		}

		if len(toRemove) > 0 {
			if err := tx.Participants().Remove(ctx, conversationID, toRemove); err != nil {
				return fmt.Errorf("remove participants: %w", err)
			}
		}
		if len(toAdd) > 0 {
			n, err := tx.Users().CountExisting(ctx, toAdd)
			if err != nil {
				return fmt.Errorf("count users: %w", err)
			}
			if n != len(toAdd) {
				return fmt.Errorf("participant: %w", domain.ErrNotFound)
			}
			if err := tx.Participants().Add(ctx, conversationID, toAdd, true); err != nil {
				return fmt.Errorf("add participants: %w", err)
			}
		}
		if err := tx.Conversations().Touch(ctx, conversationID, s.timestamp()); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}

		snapshot, err = tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, pubsub.ConversationUpdated(snapshot, toAdd, toRemove))
	return nil
}

// diffMembers returns target minus current and current minus target, both
// non-nil. It returns nil slices when callerID is not in current.
func diffMembers(current, target []string, callerID string) (toAdd, toRemove []string) {
	cur := make(map[string]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}
	if _, ok := cur[callerID]; !ok {
		return nil, nil
	}
	tgt := make(map[string]struct{}, len(target))
	toAdd = make([]string, 0)
	for _, id := range target {
		tgt[id] = struct{}{}
		if _, ok := cur[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	toRemove = make([]string, 0)
	for _, id := range current {
		if _, ok := tgt[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}

// DeleteConversation removes the conversation with its messages and
// participants. The published event carries the last participant snapshot.
func (s *ConversationService) DeleteConversation(ctx context.Context, callerID, conversationID string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var snapshot *domain.Conversation
	err := s.store.InTx(ctx, func(tx domain.Repositories) error {
		if err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if !conv.HasParticipant(callerID) {
			return fmt.Errorf("%w: not a participant in this conversation", domain.ErrForbidden)
		}
		snapshot = conv

		if conv.LatestMessageID != nil {
			if err := tx.Conversations().SetLatestMessage(ctx, conversationID, nil, conv.UpdatedAt); err != nil {
				return fmt.Errorf("detach latest message: %w", err)
			}
		}
		if err := tx.Messages().DeleteAll(ctx, conversationID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Participants().RemoveAll(ctx, conversationID); err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}
		if err := tx.Conversations().Delete(ctx, conversationID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, pubsub.ConversationDeleted(snapshot))
	return nil
}

// MarkConversationAsRead sets the seen flag of userID. Only the user itself
// may do this. No event is published.
func (s *ConversationService) MarkConversationAsRead(ctx context.Context, callerID, userID, conversationID string) error {
	if callerID != userID {
		return fmt.Errorf("%w: cannot mark read for another user", domain.ErrForbidden)
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	return s.store.InTx(ctx, func(tx domain.Repositories) error {
		if err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		if err := requireParticipant(ctx, tx, conversationID, userID); err != nil {
			return err
		}
		if err := tx.Participants().MarkSeen(ctx, conversationID, userID); err != nil {
			return fmt.Errorf("mark seen: %w", err)
		}
		return nil
	})
}

// ListConversations returns the caller's conversations, most recently
// updated first.
func (s *ConversationService) ListConversations(ctx context.Context, callerID string) ([]*domain.Conversation, error) {
	convs, err := s.store.Conversations().ListForUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// GetConversation returns one conversation the caller participates in.
func (s *ConversationService) GetConversation(ctx context.Context, callerID, conversationID string) (*domain.Conversation, error) {
	conv, err := s.store.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !conv.HasParticipant(callerID) {
		return nil, fmt.Errorf("%w: not a participant in this conversation", domain.ErrForbidden)
	}
	return conv, nil
}
