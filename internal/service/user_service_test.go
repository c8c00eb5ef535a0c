package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
	"zchat/internal/service"
	"zchat/internal/store/memory"
)

func TestCreateUsername(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Users().Create(ctx, &domain.User{ID: "u1", Email: "u1@example.com"}))
	require.NoError(t, store.Users().Create(ctx, &domain.User{ID: "u2", Email: "u2@example.com"}))
	svc := service.NewUserService(store.Users())

	u, err := svc.CreateUsername(ctx, "u1", " alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = svc.CreateUsername(ctx, "u1", "alice2")
	assert.ErrorIs(t, err, domain.ErrConflict, "username is set once")

	_, err = svc.CreateUsername(ctx, "u2", "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.CreateUsername(ctx, "u2", "a b")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.CreateUsername(ctx, "ghost", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearchUsers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, u := range []*domain.User{
		{ID: "1", Username: "alice", Email: "1@example.com"},
		{ID: "2", Username: "Alicia", Email: "2@example.com"},
		{ID: "3", Username: "bob", Email: "3@example.com"},
		{ID: "4", Email: "4@example.com"},
	} {
		require.NoError(t, store.Users().Create(ctx, u))
	}
	svc := service.NewUserService(store.Users())
	caller := &domain.User{ID: "1", Username: "alice"}

	res, err := svc.SearchUsers(ctx, caller, "ALI")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Alicia", res[0].Username)

	res, err = svc.SearchUsers(ctx, caller, "  ")
	require.NoError(t, err)
	assert.Empty(t, res)
}
