package kv

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUBackend caches reads of another Backend. Writes go through to the
// inner backend before the cache is updated.
type LRUBackend struct {
	inner Backend
	cache *lru.Cache[string, []byte]
}

// NewLRUBackend wraps inner with a read cache of up to size entries.
func NewLRUBackend(inner Backend, size int) (*LRUBackend, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &LRUBackend{inner: inner, cache: cache}, nil
}

func (l *LRUBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := l.cache.Get(key); ok {
		return clone(v), true, nil
	}
	v, ok, err := l.inner.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	l.cache.Add(key, clone(v))
	return v, true, nil
}

func (l *LRUBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := l.inner.Set(ctx, key, value); err != nil {
		l.cache.Remove(key)
		return err
	}
	l.cache.Add(key, clone(value))
	return nil
}

func (l *LRUBackend) Remove(ctx context.Context, key string) error {
	l.cache.Remove(key)
	return l.inner.Remove(ctx, key)
}

func (l *LRUBackend) Clear(ctx context.Context) error {
	l.cache.Purge()
	return l.inner.Clear(ctx)
}

func (l *LRUBackend) Keys(ctx context.Context) ([]string, error) {
	return l.inner.Keys(ctx)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
