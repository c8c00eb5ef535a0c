package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zchat/internal/domain"
	"zchat/internal/pubsub"
)

// coordinator is the part shared by the services that mutate conversation
// state: the store, the publisher fed after commit and the per-conversation
// lock table.
type coordinator struct {
	store  domain.Store
	events pubsub.Publisher
	locks  *ConversationLocks
	logger *slog.Logger
	now    func() time.Time
}

func newCoordinator(store domain.Store, events pubsub.Publisher, locks *ConversationLocks, logger *slog.Logger) coordinator {
	if locks == nil {
		locks = NewConversationLocks()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return coordinator{
		store:  store,
		events: events,
		locks:  locks,
		logger: logger,
		now:    time.Now,
	}
}

// timestamp returns the current time at the precision every store keeps.
func (c *coordinator) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

// publish hands committed events to the bus. Failures are event loss, never
// operation failures.
func (c *coordinator) publish(ctx context.Context, events ...pubsub.Event) {
	if c.events == nil {
		return
	}
	for _, ev := range events {
		if err := c.events.Publish(ctx, ev); err != nil {
			c.logger.Warn("publish event",
				slog.String("topic", string(ev.Topic)),
				slog.String("conversation_id", ev.ConversationID()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// requireParticipant loads the participant flag of userID inside tx.
func requireParticipant(ctx context.Context, tx domain.Repositories, conversationID, userID string) error {
	ok, err := tx.Participants().IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: not a participant in this conversation", domain.ErrForbidden)
	}
	return nil
}

// lockConversation takes the row lock and maps a missing row to a
// descriptive not-found error.
func lockConversation(ctx context.Context, tx domain.Repositories, conversationID string) error {
	if err := tx.Conversations().Lock(ctx, conversationID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
		}
		return fmt.Errorf("lock conversation: %w", err)
	}
	return nil
}

// uniqueIDs drops duplicates while keeping first-seen order.
func uniqueIDs(ids ...[]string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range ids {
		for _, id := range group {
			if id == "" {
				return nil, fmt.Errorf("%w: empty user id", domain.ErrInvalidInput)
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}
