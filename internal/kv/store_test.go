package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestStoreTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(0))

	require.NoError(t, s.Set(ctx, "user_profile", profile{Name: "Ada", Age: 31}))

	got, ok := Get[profile](ctx, s, "user_profile")
	require.True(t, ok)
	assert.Equal(t, profile{Name: "Ada", Age: 31}, got)

	_, ok = Get[profile](ctx, s, "nope")
	assert.False(t, ok)
}

func TestStoreDecodeFailureIsAbsent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(0)
	require.NoError(t, b.Set(ctx, "user_profile", []byte("not json")))

	s := New(b)
	_, ok := Get[profile](ctx, s, "user_profile")
	assert.False(t, ok)

	raw, ok := s.Raw(ctx, "user_profile")
	require.True(t, ok)
	assert.Equal(t, "not json", string(raw))
}

type failingBackend struct {
	*MemoryBackend
	getErr  error
	keysErr error
}

func (f *failingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *failingBackend) Keys(ctx context.Context) ([]string, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	return f.MemoryBackend.Keys(ctx)
}

func TestStoreReadFailureDegrades(t *testing.T) {
	ctx := context.Background()
	s := New(&failingBackend{
		MemoryBackend: NewMemoryBackend(0),
		getErr:        errors.New("disk gone"),
		keysErr:       errors.New("disk gone"),
	})

	_, ok := s.Raw(ctx, "scan_session")
	assert.False(t, ok)
	assert.Equal(t, []string{}, s.Keys(ctx))
}

func TestStoreQuotaEvictsNonEssential(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(64)
	var evicted int
	s := New(b, WithEvictionHook(func(n int) { evicted = n }))

	require.NoError(t, s.Set(ctx, "auth_session", "tok"))
	require.NoError(t, s.Set(ctx, "user_profile", "me"))
	require.NoError(t, s.Set(ctx, "chat_history", "0123456789"))
	require.NoError(t, s.Set(ctx, "quiz_answers", "0123456789"))

	require.NoError(t, s.Set(ctx, "scan_front", "0123456789abcdef0123456789abcdef01234567"))

	assert.Equal(t, 2, evicted)
	assert.ElementsMatch(t, []string{"auth_session", "scan_front", "user_profile"}, s.Keys(ctx))
}

func TestStoreQuotaFailsAfterRetry(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(8))

	require.NoError(t, s.Set(ctx, "auth_session", "tok"))

	err := s.Set(ctx, "scan_front", "this value is far too large")
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	_, ok := Get[string](ctx, s, "auth_session")
	assert.True(t, ok)
}

func TestStoreCustomEssentialKeys(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(26), WithEssentialKeys("keep"))

	require.NoError(t, s.Set(ctx, "keep_me", "x"))
	require.NoError(t, s.Set(ctx, "auth_session", "y"))
	require.NoError(t, s.Set(ctx, "big", "0123456789abcdefghij"))

	assert.ElementsMatch(t, []string{"big", "keep_me"}, s.Keys(ctx))
}
