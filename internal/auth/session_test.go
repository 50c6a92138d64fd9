package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/glowscan/internal/kv"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sign(t *testing.T, secret, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newSessions(secret string) (*TokenSessions, *kv.Store) {
	store := kv.New(kv.NewMemoryBackend(0))
	s := NewTokenSessions(store, secret, zerolog.Nop())
	s.now = func() time.Time { return testNow }
	return s, store
}

func TestNoSession(t *testing.T) {
	s, _ := newSessions("secret")
	_, err := s.Current(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSignInAndCurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessions("secret")

	token := sign(t, "secret", "user-7", testNow.Add(time.Hour))
	session, err := s.SignIn(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", session.UserID)

	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-7", current.UserID)
	assert.Equal(t, token, current.AccessToken)
	assert.True(t, current.ExpiresAt.Equal(testNow.Add(time.Hour)))

	require.NoError(t, s.SignOut(ctx))
	_, err = s.Current(ctx)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSignInRejectsBadSignature(t *testing.T) {
	s, _ := newSessions("secret")
	_, err := s.SignIn(context.Background(), sign(t, "other", "user-7", testNow.Add(time.Hour)))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredStoredSession(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessions("secret")

	_, err := s.SignIn(ctx, sign(t, "secret", "user-7", testNow.Add(time.Minute)))
	require.NoError(t, err)

	s.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	_, err = s.Current(ctx)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestUnverifiedWithoutSecret(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessions("")

	session, err := s.SignIn(ctx, sign(t, "backend-only", "user-9", testNow.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "user-9", session.UserID)

	_, err = s.SignIn(ctx, "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionSurvivesQuotaEviction(t *testing.T) {
	ctx := context.Background()
	store := kv.New(kv.NewMemoryBackend(260))
	s := NewTokenSessions(store, "secret", zerolog.Nop())
	s.now = func() time.Time { return testNow }

	_, err := s.SignIn(ctx, sign(t, "secret", "user-7", testNow.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "chat_history", "0123456789012345678901234567890123456789"))

	// forces eviction of everything but the session
	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, store.Set(ctx, "scan_front", string(big)))

	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-7", current.UserID)
	assert.NotContains(t, store.Keys(ctx), "chat_history")
}
