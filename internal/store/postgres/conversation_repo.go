package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zchat/internal/domain"
)

type ConversationRepo struct {
	q querier
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO conversations (id, latest_message_id, created_at, updated_at)
		VALUES ($1, NULL, $2, $3)
	`, c.ID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", translate(err))
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.q.QueryRow(ctx, `
		SELECT id, latest_message_id, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", translate(err))
	}

	participants, err := listParticipants(ctx, r.q, c.ID)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	if c.LatestMessageID != nil {
		m, err := (&MessageRepo{q: r.q}).GetByID(ctx, *c.LatestMessageID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		c.LatestMessage = m
	}
	return c, nil
}

// Lock takes a row lock held until the surrounding transaction ends.
func (r *ConversationRepo) Lock(ctx context.Context, id string) error {
	var got string
	err := r.q.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, id).Scan(&got)
	if err != nil {
		return fmt.Errorf("lock conversation: %w", translate(err))
	}
	return nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC, c.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res := make([]*domain.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

func (r *ConversationRepo) SetLatestMessage(ctx context.Context, id string, messageID *string, updatedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE conversations SET latest_message_id = $1, updated_at = $2 WHERE id = $3
	`, messageID, updatedAt, id)
	if err != nil {
		return fmt.Errorf("set latest message: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) Touch(ctx context.Context, id string, updatedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, updatedAt, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
