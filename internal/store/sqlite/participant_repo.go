package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"zchat/internal/domain"
)

type ParticipantRepo struct {
	q querier
}

var _ domain.ParticipantRepository = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) Add(ctx context.Context, conversationID string, userIDs []string, hasSeen bool) error {
	for _, uid := range userIDs {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, has_seen_latest_message)
			VALUES (?, ?, ?)
			ON CONFLICT (conversation_id, user_id)
			DO UPDATE SET has_seen_latest_message = excluded.has_seen_latest_message
		`, conversationID, uid, hasSeen); err != nil {
			return fmt.Errorf("insert participant %s: %w", uid, translate(err))
		}
	}
	return nil
}

func (r *ParticipantRepo) Remove(ctx context.Context, conversationID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(userIDs)+1)
	args = append(args, conversationID)
	for _, uid := range userIDs {
		args = append(args, uid)
	}
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id = ? AND user_id IN (`+placeholders(len(userIDs))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("remove participants: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) RemoveAll(ctx context.Context, conversationID string) error {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM conversation_participants WHERE conversation_id = ?
	`, conversationID); err != nil {
		return fmt.Errorf("remove all participants: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) ListUserIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY user_id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participant ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ParticipantRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists int
	err := r.q.QueryRowContext(ctx, `
		SELECT 1
		FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is participant: %w", err)
	}
	return true, nil
}

func (r *ParticipantRepo) MarkSeen(ctx context.Context, conversationID, userID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE conversation_participants
		SET has_seen_latest_message = 1
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) MarkSeenExclusive(ctx context.Context, conversationID, userID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE conversation_participants
		SET has_seen_latest_message = CASE WHEN user_id = ? THEN 1 ELSE 0 END
		WHERE conversation_id = ?
	`, userID, conversationID)
	if err != nil {
		return fmt.Errorf("mark seen exclusive: %w", err)
	}
	return nil
}

// listParticipants loads the participant snapshot with user summaries.
func listParticipants(ctx context.Context, q querier, conversationID string) ([]domain.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT cp.user_id, cp.has_seen_latest_message, u.username, u.image
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = ?
		ORDER BY COALESCE(u.username, '') ASC, cp.user_id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	res := []domain.Participant{}
	for rows.Next() {
		p := domain.Participant{ConversationID: conversationID}
		var username, image sql.NullString
		if err := rows.Scan(&p.UserID, &p.HasSeenLatestMessage, &username, &image); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.User = domain.UserSummary{ID: p.UserID, Username: username.String}
		if image.Valid {
			p.User.Image = &image.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
