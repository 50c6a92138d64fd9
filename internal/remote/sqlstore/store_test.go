package sqlstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/remote"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLatestWithoutRows(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Latest(context.Background(), "nobody")
	require.ErrorIs(t, err, remote.ErrNotFound)
}

func TestInsertAndLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := time.UnixMilli(1000)
	second := time.UnixMilli(2000)
	require.NoError(t, s.Insert(ctx, &remote.ScanRow{ID: "a", UserID: "u1", CreatedAt: first, UpdatedAt: first}))
	require.NoError(t, s.Insert(ctx, &remote.ScanRow{
		ID:        "b",
		UserID:    "u1",
		Front:     &remote.RowImage{URL: "https://cdn/f.jpg", Mirror: true, At: time.UnixMilli(1500)},
		CreatedAt: second,
		UpdatedAt: second,
	}))
	require.NoError(t, s.Insert(ctx, &remote.ScanRow{ID: "c", UserID: "u2", CreatedAt: second, UpdatedAt: second}))

	row, err := s.Latest(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b", row.ID)
	require.NotNil(t, row.Front)
	assert.Equal(t, "https://cdn/f.jpg", row.Front.URL)
	assert.True(t, row.Front.Mirror)
	assert.Equal(t, int64(1500), row.Front.At.UnixMilli())
	assert.Nil(t, row.Right)
	assert.Nil(t, row.Left)
	assert.Equal(t, int64(2000), row.UpdatedAt.UnixMilli())
}

func TestUpdateImage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.now = func() time.Time { return time.UnixMilli(9000) }

	require.NoError(t, s.Insert(ctx, &remote.ScanRow{ID: "a", UserID: "u1"}))
	require.NoError(t, s.UpdateImage(ctx, "a", models.SlotLeft, remote.RowImage{URL: "https://cdn/l.jpg"}))

	row, err := s.Latest(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, row.Left)
	assert.Equal(t, "https://cdn/l.jpg", row.Left.URL)
	assert.False(t, row.Left.Mirror)
	assert.True(t, row.Left.At.IsZero())
	assert.Equal(t, int64(9000), row.UpdatedAt.UnixMilli())

	err = s.UpdateImage(ctx, "missing", models.SlotLeft, remote.RowImage{URL: "x"})
	require.ErrorIs(t, err, remote.ErrNotFound)

	err = s.UpdateImage(ctx, "a", models.Slot("top; DROP TABLE scan_sessions"), remote.RowImage{URL: "x"})
	require.ErrorIs(t, err, models.ErrUnknownSlot)
}

func TestUpdateAnalysis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, &remote.ScanRow{ID: "a", UserID: "u1"}))
	require.NoError(t, s.UpdateAnalysis(ctx, "a", json.RawMessage(`{"overall":72}`), true))

	row, err := s.Latest(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, row.Completed)
	assert.JSONEq(t, `{"overall":72}`, string(row.AnalysisResult))
}

func TestClientOverSQLStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := remote.NewClient(nil, s, zerolog.Nop())

	at := time.UnixMilli(4242)
	require.NoError(t, c.RecordImage(ctx, "u1", models.SlotFront, "https://cdn/f.jpg", true, at))
	require.NoError(t, c.RecordImage(ctx, "u1", models.SlotRight, "https://cdn/r.jpg", false, at))

	results, err := c.ScanImages(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &models.ScanImage{URI: "https://cdn/f.jpg", ShouldMirror: true, Timestamp: 4242}, results.Front)
	assert.Equal(t, "https://cdn/r.jpg", results.Right.URI)
	assert.Nil(t, results.Left)
}
