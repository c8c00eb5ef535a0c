package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"zchat/internal/domain"
)

type UserRepo struct {
	q querier
}

var _ domain.UserRepository = (*UserRepo)(nil)

const userColumns = `id, username, email, image, hashed_password, created_at`

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, username, email, image, hashed_password, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, nullString(u.Username), nullString(u.Email), u.Image, u.HashedPassword, toUnix(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", translate(err))
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower(?)`, email)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UserRepo) SetUsername(ctx context.Context, id, username string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE users SET username = ? WHERE id = ?`, username, id)
	if err != nil {
		return fmt.Errorf("set username: %w", translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepo) Search(ctx context.Context, query, excludeUsername string, limit int) ([]*domain.User, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username IS NOT NULL
		  AND username <> ?
		  AND instr(lower(username), lower(?)) > 0
		ORDER BY username ASC
		LIMIT ?
	`, excludeUsername, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) CountExisting(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id IN (`+placeholders(len(ids))+`)`, args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(row rowScanner) (*domain.User, error) {
	u := &domain.User{}
	var username, email, image sql.NullString
	var created int64
	if err := row.Scan(&u.ID, &username, &email, &image, &u.HashedPassword, &created); err != nil {
		return nil, err
	}
	u.Username = username.String
	u.Email = email.String
	if image.Valid {
		u.Image = &image.String
	}
	u.CreatedAt = fromUnix(created)
	return u, nil
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUserRow(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", translate(err))
	}
	return u, nil
}
