package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"zchat/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements domain.Store on a SQLite database.
type Store struct {
	db *sql.DB
	repos
}

var _ domain.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, repos: repos{q: db}}
}

func (s *Store) InTx(ctx context.Context, fn func(tx domain.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(repos{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type repos struct {
	q querier
}

func (r repos) Users() domain.UserRepository                 { return &UserRepo{q: r.q} }
func (r repos) Conversations() domain.ConversationRepository { return &ConversationRepo{q: r.q} }
func (r repos) Participants() domain.ParticipantRepository   { return &ParticipantRepo{q: r.q} }
func (r repos) Messages() domain.MessageRepository           { return &MessageRepo{q: r.q} }

func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// translate maps driver errors onto domain sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}
