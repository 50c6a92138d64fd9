// Package auth keeps the backend session token on the device and turns it
// into the signed-in user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/franckalain/glowscan/internal/kv"
)

// SessionKey is the store key holding the access token. It is protected
// from quota eviction.
const SessionKey = "auth_session"

var (
	// ErrNoSession means nobody is signed in
	ErrNoSession = errors.New("no authenticated session")
	// ErrInvalidToken is returned by SignIn for unusable tokens
	ErrInvalidToken = errors.New("invalid access token")
)

// Session is the signed-in user
type Session struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}

type storedSession struct {
	AccessToken string `json:"access_token"`
}

// TokenSessions reads and writes the access token in the KV store.
type TokenSessions struct {
	store  *kv.Store
	secret []byte
	now    func() time.Time
	log    zerolog.Logger
}

// NewTokenSessions verifies HS256 signatures when secret is set. Without a
// secret the backend is trusted and only the expiry is checked.
func NewTokenSessions(store *kv.Store, secret string, log zerolog.Logger) *TokenSessions {
	return &TokenSessions{
		store:  store,
		secret: []byte(secret),
		now:    time.Now,
		log:    log,
	}
}

// Current returns the signed-in session or ErrNoSession.
func (t *TokenSessions) Current(ctx context.Context) (*Session, error) {
	stored, ok := kv.Get[storedSession](ctx, t.store, SessionKey)
	if !ok || stored.AccessToken == "" {
		return nil, ErrNoSession
	}

	session, err := t.parse(stored.AccessToken)
	if err != nil {
		t.log.Warn().Err(err).Msg("stored session is not usable")
		return nil, ErrNoSession
	}
	return session, nil
}

// SignIn validates token and stores it as the current session.
func (t *TokenSessions) SignIn(ctx context.Context, token string) (*Session, error) {
	session, err := t.parse(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if err := t.store.Set(ctx, SessionKey, storedSession{AccessToken: session.AccessToken}); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	t.log.Info().Str("user_id", session.UserID).Msg("signed in")
	return session, nil
}

// SignOut forgets the stored token
func (t *TokenSessions) SignOut(ctx context.Context) error {
	return t.store.Remove(ctx, SessionKey)
}

func (t *TokenSessions) parse(token string) (*Session, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}

	var claims jwt.RegisteredClaims
	if len(t.secret) > 0 {
		_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
			return t.secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		)
		if err != nil {
			return nil, err
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
			return nil, err
		}
	}

	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	session := &Session{UserID: claims.Subject, AccessToken: token}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
		if !session.ExpiresAt.After(t.now()) {
			return nil, errors.New("token is expired")
		}
	}
	return session, nil
}
