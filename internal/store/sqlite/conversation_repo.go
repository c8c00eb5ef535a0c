package sqlite

import (
	"context"
	"database/sql"
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
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO conversations (id, latest_message_id, created_at, updated_at)
		VALUES (?, NULL, ?, ?)
	`, c.ID, toUnix(c.CreatedAt), toUnix(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", translate(err))
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var latest sql.NullString
	var created, updated int64
	err := r.q.QueryRowContext(ctx, `
		SELECT id, latest_message_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id).Scan(&c.ID, &latest, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", translate(err))
	}
	c.CreatedAt = fromUnix(created)
	c.UpdatedAt = fromUnix(updated)
	if latest.Valid {
		c.LatestMessageID = &latest.String
	}
	if err := r.populate(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Lock only checks existence: SQLite transactions already hold the single
// write lock once they write.
func (r *ConversationRepo) Lock(ctx context.Context, id string) error {
	var exists int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lock conversation: %w", translate(err))
	}
	return nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = ?
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
	res, err := r.q.ExecContext(ctx, `
		UPDATE conversations
		SET latest_message_id = ?, updated_at = ?
		WHERE id = ?
	`, messageID, toUnix(updatedAt), id)
	if err != nil {
		return fmt.Errorf("set latest message: %w", translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) Touch(ctx context.Context, id string, updatedAt time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, toUnix(updatedAt), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) populate(ctx context.Context, c *domain.Conversation) error {
	participants, err := listParticipants(ctx, r.q, c.ID)
	if err != nil {
		return err
	}
	c.Participants = participants
	if c.LatestMessageID != nil {
		m, err := (&MessageRepo{q: r.q}).GetByID(ctx, *c.LatestMessageID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		c.LatestMessage = m
	}
	return nil
}
