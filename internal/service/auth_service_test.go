package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
	"zchat/internal/security"
	"zchat/internal/service"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) SetUsername(ctx context.Context, id, username string) error {
	args := m.Called(ctx, id, username)
	return args.Error(0)
}

func (m *MockUserRepo) Search(ctx context.Context, query, excludeUsername string, limit int) ([]*domain.User, error) {
	return nil, nil // Not used in auth tests
}

func (m *MockUserRepo) CountExisting(ctx context.Context, ids []string) (int, error) {
	return 0, nil
}

func TestRegister(t *testing.T) {
	mockRepo := new(MockUserRepo)
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4) // low cost for tests

	svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

	t.Run("Success", func(t *testing.T) {
		input := service.RegisterInput{
			Email:    "New@Example.com",
			Password: "Password1!",
		}

		mockRepo.On("GetByEmail", mock.Anything, "new@example.com").Return(nil, domain.ErrNotFound)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Email == "new@example.com" && u.Username == "" && u.ID != ""
		})).Return(nil)

		user, err := svc.Register(context.Background(), input)
		assert.NoError(t, err)
		assert.NotNil(t, user)
		assert.Equal(t, "new@example.com", user.Email)
		assert.NotEqual(t, "Password1!", user.HashedPassword)
	})

	t.Run("EmailTaken", func(t *testing.T) {
		input := service.RegisterInput{
			Email:    "existing@example.com",
			Password: "Password1!",
		}

		existing := &domain.User{ID: "u1", Email: "existing@example.com"}
		mockRepo.On("GetByEmail", mock.Anything, "existing@example.com").Return(existing, nil)

		user, err := svc.Register(context.Background(), input)
		assert.Error(t, err)
		assert.Nil(t, user)
		assert.Equal(t, domain.ErrConflict, err)
	})

	t.Run("ShortPassword", func(t *testing.T) {
		_, err := svc.Register(context.Background(), service.RegisterInput{Email: "a@example.com", Password: "short"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestLoginAndAuthenticate(t *testing.T) {
	mockRepo := new(MockUserRepo)
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4)
	svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

	hashed, err := hasher.Hash("Password1!")
	require.NoError(t, err)
	user := &domain.User{ID: "u1", Email: "a@example.com", HashedPassword: hashed}

	mockRepo.On("GetByEmail", mock.Anything, "a@example.com").Return(user, nil)
	mockRepo.On("GetByEmail", mock.Anything, "missing@example.com").Return(nil, domain.ErrNotFound)
	mockRepo.On("GetByID", mock.Anything, "u1").Return(user, nil)

	t.Run("Success", func(t *testing.T) {
		res, err := svc.Login(context.Background(), service.LoginInput{Email: "a@example.com", Password: "Password1!"})
		require.NoError(t, err)
		assert.Equal(t, "bearer", res.TokenType)

		got, err := svc.Authenticate(context.Background(), res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "u1", got.ID)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, err := svc.Login(context.Background(), service.LoginInput{Email: "a@example.com", Password: "nope"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		_, err := svc.Login(context.Background(), service.LoginInput{Email: "missing@example.com", Password: "Password1!"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("BadToken", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), "garbage")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}
