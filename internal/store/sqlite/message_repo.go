package sqlite

import (
	"context"
	"database/sql"
	"fmt"

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
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, attachment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.SenderID, m.Body, m.Attachment, toUnix(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", translate(err))
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.q.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get message: %w", translate(err))
	}
	return m, nil
}

func (r *MessageRepo) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	m, err := scanMessage(r.q.QueryRowContext(ctx, messageSelect+`
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`, conversationID))
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", translate(err))
	}
	return m, nil
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	// newest page first, reversed below into chronological order
	rows, err := r.q.QueryContext(ctx, messageSelect+`
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, conversationID, limit)
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
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) DeleteAll(ctx context.Context, conversationID string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", translate(err))
	}
	return nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var attachment, username, image sql.NullString
	var created int64
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &attachment, &created, &username, &image); err != nil {
		return nil, err
	}
	if attachment.Valid {
		m.Attachment = &attachment.String
	}
	m.CreatedAt = fromUnix(created)
	m.Sender = domain.UserSummary{ID: m.SenderID, Username: username.String}
	if image.Valid {
		m.Sender.Image = &image.String
	}
	return m, nil
}
