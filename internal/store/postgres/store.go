package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"zchat/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	repos
}

var _ domain.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, repos: repos{q: pool}}
}

func (s *Store) InTx(ctx context.Context, fn func(tx domain.Repositories) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(repos{q: tx})
	})
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type repos struct {
	q querier
}

func (r repos) Users() domain.UserRepository                 { return &UserRepo{q: r.q} }
func (r repos) Conversations() domain.ConversationRepository { return &ConversationRepo{q: r.q} }
func (r repos) Participants() domain.ParticipantRepository   { return &ParticipantRepo{q: r.q} }
func (r repos) Messages() domain.MessageRepository           { return &MessageRepo{q: r.q} }

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// translate maps driver errors onto domain sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
