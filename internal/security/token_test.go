package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"zchat/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	tok, err := svc.CreateForUser("user-1")
	require.NoError(t, err)

	sub, err := svc.Subject(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestTokenRejections(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	other := NewTokenService("other", time.Hour)

	foreign, err := other.CreateForUser("user-1")
	require.NoError(t, err)
	expired, err := svc.CreateWithTTL("user-1", -time.Minute)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"wrong secret":  foreign,
		"expired token": expired,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Subject(tok)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = BearerToken("bearer  xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	_, err = BearerToken("Basic abc")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = BearerToken("Bearer ")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(4)
	hashed, err := h.Hash("Password1!")
	require.NoError(t, err)

	assert.NoError(t, h.Verify("Password1!", hashed))
	err = h.Verify("wrong", hashed)
	assert.ErrorIs(t, err, ErrPasswordMismatch)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.Hash(strings.Repeat("x", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, bcrypt.MinCost, NewPasswordHasher(1).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(0).cost)
}
