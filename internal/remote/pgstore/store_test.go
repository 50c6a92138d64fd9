package pgstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/remote"
)

// Runs against a real database when GLOWSCAN_TEST_POSTGRES_DSN is set.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GLOWSCAN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GLOWSCAN_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	userID := "test-" + uuid.NewString()

	_, err := s.Latest(ctx, userID)
	require.ErrorIs(t, err, remote.ErrNotFound)

	row := &remote.ScanRow{ID: uuid.NewString(), UserID: userID}
	require.NoError(t, s.Insert(ctx, row))

	at := time.UnixMilli(time.Now().UnixMilli()).UTC()
	require.NoError(t, s.UpdateImage(ctx, row.ID, models.SlotRight, remote.RowImage{URL: "https://cdn/r.jpg", At: at}))
	require.NoError(t, s.UpdateAnalysis(ctx, row.ID, json.RawMessage(`{"overall":64}`), true))

	got, err := s.Latest(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)
	require.NotNil(t, got.Right)
	assert.Equal(t, "https://cdn/r.jpg", got.Right.URL)
	assert.True(t, got.Right.At.Equal(at))
	assert.Nil(t, got.Front)
	assert.True(t, got.Completed)
	assert.JSONEq(t, `{"overall":64}`, string(got.AnalysisResult))

	err = s.UpdateImage(ctx, uuid.NewString(), models.SlotFront, remote.RowImage{URL: "x"})
	require.ErrorIs(t, err, remote.ErrNotFound)
}
