package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"zchat/internal/domain"
)

type MessageRepo struct {
	q querier
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.body, m.attachment, m.created_at, u.username, u.image
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, attachment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.ConversationID, m.SenderID, m.Body, m.Attachment, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", translate(err))
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.q.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get message: %w", translate(err))
	}
	return m, nil
}

func (r *MessageRepo) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	m, err := scanMessage(r.q.QueryRow(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`, conversationID))
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", translate(err))
	}
	return m, nil
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := r.q.Query(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2
	`, conversationID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order (DB returns DESC)
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) DeleteAll(ctx context.Context, conversationID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", translate(err))
	}
	return nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{}
	var username *string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Attachment, &m.CreatedAt, &username, &m.Sender.Image); err != nil {
		return nil, err
	}
	m.Sender.ID = m.SenderID
	m.Sender.Username = deref(username)
	return m, nil
}
