package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"zchat/internal/domain"
)

type UserRepo struct {
	q querier
}

var _ domain.UserRepository = (*UserRepo)(nil)

const userColumns = `id, username, email, image, hashed_password, created_at`

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (id, username, email, image, hashed_password, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, nullString(u.Username), nullString(u.Email), u.Image, u.HashedPassword, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", translate(err))
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *UserRepo) SetUsername(ctx context.Context, id, username string) error {
	tag, err := r.q.Exec(ctx, `UPDATE users SET username = $1 WHERE id = $2`, username, id)
	if err != nil {
		return fmt.Errorf("set username: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepo) Search(ctx context.Context, query, excludeUsername string, limit int) ([]*domain.User, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username IS NOT NULL
		  AND username <> $1
		  AND strpos(lower(username), lower($2)) > 0
		ORDER BY username ASC
		LIMIT $3
	`, excludeUsername, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) CountExisting(ctx context.Context, ids []string) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE id = ANY($1)`, ids).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func scanUserRow(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	var username, email *string
	if err := row.Scan(&u.ID, &username, &email, &u.Image, &u.HashedPassword, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Username = deref(username)
	u.Email = deref(email)
	return u, nil
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUserRow(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", translate(err))
	}
	return u, nil
}
