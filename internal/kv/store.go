package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrQuotaExceeded is returned by a Backend when a write does not fit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrStorage wraps write failures that survived the recovery attempt.
	ErrStorage = errors.New("storage write failed")
)

// Backend is the raw persistent medium behind a Store
type Backend interface {
	// Get returns the stored bytes. The boolean is false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, returning ErrQuotaExceeded when full.
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// EssentialKeys are never evicted during quota recovery. A key is kept
// when it contains one of these markers.
var EssentialKeys = []string{"auth_session", "user_profile"}

// Store is a JSON-valued key-value store over a Backend.
type Store struct {
	backend   Backend
	essential []string
	onEvict   func(n int)
	log       zerolog.Logger
}

// Option customizes a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithEssentialKeys replaces the markers protected from quota eviction
func WithEssentialKeys(markers ...string) Option {
	return func(s *Store) { s.essential = markers }
}

// WithEvictionHook is called with the number of evicted keys after a quota recovery
func WithEvictionHook(fn func(n int)) Option {
	return func(s *Store) { s.onEvict = fn }
}

// New creates a Store
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		essential: EssentialKeys,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raw returns the stored bytes for key. Read errors degrade to absent.
func (s *Store) Raw(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("failed to read item")
		return nil, false
	}
	return data, ok
}

// Decode unmarshals the value stored under key into v. It returns false
// when the key is absent or the value cannot be decoded into v.
func (s *Store) Decode(ctx context.Context, key string, v any) bool {
	data, ok := s.Raw(ctx, key)
	if !ok || len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to decode item")
		return false
	}
	return true
}

// Get is the typed form of Store.Decode
func Get[T any](ctx context.Context, s *Store, key string) (T, bool) {
	var v T
	if !s.Decode(ctx, key, &v) {
		var zero T
		return zero, false
	}
	return v, true
}

// Set marshals value and stores it. When the backend is full, every
// non-essential key is evicted and the write is retried once.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	err = s.backend.Set(ctx, key, data)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		s.log.Error().Err(err).Str("key", key).Msg("failed to set item")
		return fmt.Errorf("%w: set %s: %w", ErrStorage, key, err)
	}

	s.log.Warn().Str("key", key).Msg("storage quota exceeded, clearing non-essential data")
	evicted, evictErr := s.evict(ctx)
	if evictErr != nil {
		s.log.Error().Err(evictErr).Msg("quota eviction incomplete")
	}
	if s.onEvict != nil {
		s.onEvict(evicted)
	}

	if err := s.backend.Set(ctx, key, data); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("still failed after cleanup")
		return fmt.Errorf("%w: set %s after eviction: %w", ErrStorage, key, err)
	}
	s.log.Info().Str("key", key).Int("evicted", evicted).Msg("saved after cleanup")
	return nil
}

func (s *Store) evict(ctx context.Context) (int, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	var evicted int
	var errs []error
	for _, key := range keys {
		if s.isEssential(key) {
			continue
		}
		if err := s.backend.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		evicted++
	}
	return evicted, errors.Join(errs...)
}

func (s *Store) isEssential(key string) bool {
	for _, marker := range s.essential {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// Remove deletes key
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Remove(ctx, key); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("failed to remove item")
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Clear deletes every key
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to clear storage")
		return fmt.Errorf("clear storage: %w", err)
	}
	return nil
}

// Keys lists stored keys. Failures degrade to an empty list.
func (s *Store) Keys(ctx context.Context) []string {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get all keys")
		return []string{}
	}
	return keys
}
