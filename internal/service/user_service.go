package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"zchat/internal/domain"
)

// DefaultSearchLimit caps user search results.
const DefaultSearchLimit = 20

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// UserService provides user-related operations.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUsername finishes onboarding. A username is set once.
func (s *UserService) CreateUsername(ctx context.Context, callerID, username string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 3-32 letters, digits, '_', '.' or '-'", domain.ErrInvalidInput)
	}
	u, err := s.users.GetByID(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.Username != "" {
		return nil, fmt.Errorf("%w: username already set", domain.ErrConflict)
	}
	if err := s.users.SetUsername(ctx, callerID, username); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("username already taken: %w", err)
		}
		return nil, fmt.Errorf("set username: %w", err)
	}
	u.Username = username
	return u, nil
}

// SearchUsers matches usernames case-insensitively, excluding the caller.
func (s *UserService) SearchUsers(ctx context.Context, caller *domain.User, query string) ([]*domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.User{}, nil
	}
	users, err := s.users.Search(ctx, query, caller.Username, DefaultSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	res := users[:0]
	for _, u := range users {
		if u.ID != caller.ID {
			res = append(res, u)
		}
	}
	return res, nil
}
