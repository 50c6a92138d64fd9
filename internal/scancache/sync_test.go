package scancache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/glowscan/internal/kv"
	"github.com/franckalain/glowscan/internal/models"
)

type stubSource struct {
	results models.ScanResults
	err     error
	userID  string
}

func (s *stubSource) ScanImages(ctx context.Context, userID string) (models.ScanResults, error) {
	s.userID = userID
	return s.results, s.err
}

// seed writes a slot record with an explicit timestamp.
func seed(t *testing.T, c *Cache, slot models.Slot, uri string, ts int64) {
	t.Helper()
	_, err := c.Merge(context.Background(), resultsWith(slot, &models.ScanImage{URI: uri, Timestamp: ts}))
	require.NoError(t, err)
}

func resultsWith(slot models.Slot, img *models.ScanImage) models.ScanResults {
	var r models.ScanResults
	r.Set(slot, img)
	return r
}

func TestSyncKeepsNewerLocal(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	seed(t, c, models.SlotFront, "local", 100)

	src := &stubSource{results: resultsWith(models.SlotFront, &models.ScanImage{URI: "remote", Timestamp: 50})}
	updated, err := NewReconciler(c, src, zerolog.Nop()).Sync(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, updated)
	assert.Equal(t, "user-1", src.userID)

	img := c.Image(ctx, models.SlotFront)
	assert.Equal(t, "local", img.URI)
	assert.Equal(t, int64(100), img.Timestamp)
}

func TestSyncTakesNewerRemote(t *testing.T) {
	ctx := context.Background()
	c, store, clock := newTestCache(t)
	seed(t, c, models.SlotFront, "local", 100)
	before := c.CurrentSession(ctx).Timestamp
	clock.Advance(time.Second)

	src := &stubSource{results: resultsWith(models.SlotFront, &models.ScanImage{URI: "remote", ShouldMirror: true, Timestamp: 200})}
	updated, err := NewReconciler(c, src, zerolog.Nop()).Sync(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []models.Slot{models.SlotFront}, updated)

	img := c.Image(ctx, models.SlotFront)
	assert.Equal(t, &models.ScanImage{URI: "remote", ShouldMirror: true, Timestamp: 200}, img)

	standalone, ok := kv.Get[models.ScanImage](ctx, store, "scan_front")
	require.True(t, ok)
	assert.Equal(t, "remote", standalone.URI)
	assert.Greater(t, c.CurrentSession(ctx).Timestamp, before)
}

func TestSyncEqualTimestampKeepsLocal(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	seed(t, c, models.SlotFront, "local", 10)

	src := &stubSource{results: resultsWith(models.SlotFront, &models.ScanImage{URI: "other", Timestamp: 10})}
	updated, err := NewReconciler(c, src, zerolog.Nop()).Sync(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, updated)
	assert.Equal(t, "local", c.Image(ctx, models.SlotFront).URI)
}

func TestSyncNeverDeletesLocal(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	require.NoError(t, c.UpdateSession(ctx, models.SlotRight, "file:///r.jpg", false))

	src := &stubSource{results: resultsWith(models.SlotFront, &models.ScanImage{URI: "remote-front", Timestamp: 1})}
	_, err := NewReconciler(c, src, zerolog.Nop()).Sync(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, "file:///r.jpg", c.Image(ctx, models.SlotRight).URI)
	assert.Equal(t, "remote-front", c.Image(ctx, models.SlotFront).URI)
}

func TestSyncFillsEmptyCache(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	var remote models.ScanResults
	for _, slot := range models.Slots() {
		remote.Set(slot, &models.ScanImage{URI: "https://cdn/" + string(slot), Timestamp: 1})
	}
	updated, err := NewReconciler(c, &stubSource{results: remote}, zerolog.Nop()).Sync(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, updated, 3)
	assert.True(t, c.CurrentSession(ctx).Completed)
}

func TestSyncRemoteFailureLeavesLocal(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	require.NoError(t, c.UpdateSession(ctx, models.SlotLeft, "l", false))
	before := c.CurrentSession(ctx)

	_, err := NewReconciler(c, &stubSource{err: errors.New("offline")}, zerolog.Nop()).Sync(ctx, "user-1")
	require.Error(t, err)
	assert.Equal(t, before, c.CurrentSession(ctx))
}

func TestSyncKeepsNewerSlotRecordMissingFromAggregate(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCache(t)

	// slot record saved, aggregate write never happened
	_, err := c.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, models.SlotFront.StorageKey(), models.ScanImage{URI: "file:///f.jpg", Timestamp: 100}))
	require.Nil(t, c.CurrentSession(ctx).Front)

	src := &stubSource{results: resultsWith(models.SlotFront, &models.ScanImage{URI: "https://cdn/old.jpg", Timestamp: 50})}
	updated, err := NewReconciler(c, src, zerolog.Nop()).Sync(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, updated)

	img := c.Image(ctx, models.SlotFront)
	require.NotNil(t, img)
	assert.Equal(t, "file:///f.jpg", img.URI)
	assert.Equal(t, int64(100), img.Timestamp)
	assert.NotNil(t, c.CurrentSession(ctx).Front, "aggregate marker restored")
}
