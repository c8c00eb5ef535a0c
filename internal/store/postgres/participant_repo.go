package postgres

import (
	"context"
	"fmt"

	"zchat/internal/domain"
)

type ParticipantRepo struct {
	q querier
}

var _ domain.ParticipantRepository = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) Add(ctx context.Context, conversationID string, userIDs []string, hasSeen bool) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, has_seen_latest_message)
		SELECT $1, uid, $3 FROM unnest($2::text[]) AS uid
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET has_seen_latest_message = EXCLUDED.has_seen_latest_message
	`, conversationID, userIDs, hasSeen)
	if err != nil {
		return fmt.Errorf("insert participants: %w", translate(err))
	}
	return nil
}

func (r *ParticipantRepo) Remove(ctx context.Context, conversationID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = ANY($2)
	`, conversationID, userIDs)
	if err != nil {
		return fmt.Errorf("remove participants: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) RemoveAll(ctx context.Context, conversationID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("remove all participants: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) ListUserIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1
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
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ParticipantRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (r *ParticipantRepo) MarkSeen(ctx context.Context, conversationID, userID string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE conversation_participants
		SET has_seen_latest_message = TRUE
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) MarkSeenExclusive(ctx context.Context, conversationID, userID string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE conversation_participants
		SET has_seen_latest_message = (user_id = $2)
		WHERE conversation_id = $1
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark seen exclusive: %w", err)
	}
	return nil
}

func listParticipants(ctx context.Context, q querier, conversationID string) ([]domain.Participant, error) {
	rows, err := q.Query(ctx, `
		SELECT cp.user_id, cp.has_seen_latest_message, u.username, u.image
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = $1
		ORDER BY COALESCE(u.username, '') ASC, cp.user_id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	res := []domain.Participant{}
	for rows.Next() {
		p := domain.Participant{ConversationID: conversationID}
		var username *string
		if err := rows.Scan(&p.UserID, &p.HasSeenLatestMessage, &username, &p.User.Image); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.User.ID = p.UserID
		p.User.Username = deref(username)
		res = append(res, p)
	}
	return res, rows.Err()
}
