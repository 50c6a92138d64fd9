package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/glowscan/internal/auth"
	"github.com/franckalain/glowscan/internal/kv"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/remote"
	"github.com/franckalain/glowscan/internal/remote/mocks"
	"github.com/franckalain/glowscan/internal/scancache"
)

type stubSessions struct {
	userID string
}

func (s stubSessions) Current(context.Context) (*auth.Session, error) {
	if s.userID == "" {
		return nil, auth.ErrNoSession
	}
	return &auth.Session{UserID: s.userID}, nil
}

type stubLoader map[string][]byte

func (l stubLoader) Load(_ context.Context, uri string) ([]byte, error) {
	data, ok := l[uri]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

type fixture struct {
	cache   *scancache.Cache
	objects *mocks.MockObjectStore
	rows    *mocks.MockScanRows
	metrics *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	ctl := gomock.NewController(t)
	return &fixture{
		cache:   scancache.New(kv.New(kv.NewMemoryBackend(0))),
		objects: mocks.NewMockObjectStore(ctl),
		rows:    mocks.NewMockScanRows(ctl),
		metrics: metrics.NewRegistry(),
	}
}

func (f *fixture) pipeline(userID string, loader Loader, opts ...Option) *Pipeline {
	client := remote.NewClient(f.objects, f.rows, zerolog.Nop())
	opts = append([]Option{WithMetrics(f.metrics)}, opts...)
	return New(f.cache, stubSessions{userID: userID}, client, loader, opts...)
}

func (f *fixture) expectRecord(userID string) {
	f.rows.EXPECT().Latest(gomock.Any(), userID).Return(&remote.ScanRow{ID: "row-1"}, nil).AnyTimes()
	f.rows.EXPECT().UpdateImage(gomock.Any(), "row-1", gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func TestUploadPromotesRemoteURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expectRecord("u1")

	f.objects.EXPECT().List(gomock.Any(), remote.Bucket, "u1").Return(nil, nil)
	f.objects.EXPECT().
		Upload(gomock.Any(), remote.Bucket, gomock.Any(), []byte("raw"), remote.ContentType).
		Return("https://cdn/u1/right.jpg", nil).
		Times(1)

	var (
		mu   sync.Mutex
		seen []string
	)
	p := f.pipeline("u1", stubLoader{"file:///r.jpg": []byte("raw")})
	p.Subscribe(func(slot models.Slot, img *models.ScanImage) {
		mu.Lock()
		seen = append(seen, img.URI)
		mu.Unlock()
	})

	require.NoError(t, p.UploadScanImage(ctx, "file:///r.jpg", models.SlotRight, false))
	p.Wait()

	img := f.cache.Image(ctx, models.SlotRight)
	require.NotNil(t, img)
	assert.Equal(t, "https://cdn/u1/right.jpg", img.URI)
	assert.False(t, img.ShouldMirror)
	assert.False(t, p.IsUploading(models.SlotRight))
	assert.Equal(t, []string{"file:///r.jpg", "https://cdn/u1/right.jpg"}, seen)
	assert.Equal(t, int64(1), f.metrics.Value(metrics.ScanUploads, map[string]string{"slot": "right", "result": "ok"}))
}

func TestLocalCommitIsVisibleWhileNetworkHangs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expectRecord("u1")

	release := make(chan struct{})
	f.objects.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, string) ([]string, error) {
			<-release
			return nil, nil
		})
	f.objects.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("https://cdn/u1/front.jpg", nil)

	p := f.pipeline("u1", stubLoader{"file:///a.jpg": []byte("raw")}, WithMirror(func(b []byte) ([]byte, error) { return b, nil }))
	require.NoError(t, p.UploadScanImage(ctx, "file:///a.jpg", models.SlotFront, true))

	results := f.cache.AllScanResults(ctx)
	require.NotNil(t, results.Front)
	assert.Equal(t, "file:///a.jpg", results.Front.URI)
	assert.True(t, results.Front.ShouldMirror)
	assert.True(t, p.IsUploading(models.SlotFront))

	close(release)
	p.Wait()
	assert.Equal(t, "https://cdn/u1/front.jpg", f.cache.Image(ctx, models.SlotFront).URI)
}

func TestDuplicateUploadIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expectRecord("u1")

	release := make(chan struct{})
	f.objects.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)
	f.objects.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, string, []byte, string) (string, error) {
			<-release
			return "https://cdn/u1/left.jpg", nil
		}).Times(1)

	loader := stubLoader{"file:///l1.jpg": []byte("one"), "file:///l2.jpg": []byte("two")}
	p := f.pipeline("u1", loader)

	require.NoError(t, p.UploadScanImage(ctx, "file:///l1.jpg", models.SlotLeft, false))
	require.NoError(t, p.UploadScanImage(ctx, "file:///l2.jpg", models.SlotLeft, false))

	// the second capture is still shown locally
	assert.Equal(t, "file:///l2.jpg", f.cache.Image(ctx, models.SlotLeft).URI)

	close(release)
	p.Wait()

	// the finished upload belongs to the first capture and must not
	// replace the newer local image
	assert.Equal(t, "file:///l2.jpg", f.cache.Image(ctx, models.SlotLeft).URI)
	assert.False(t, p.IsUploading(models.SlotLeft))
}

func TestSlotsUploadIndependently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expectRecord("u1")

	f.objects.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(3)
	f.objects.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, path string, _ []byte, _ string) (string, error) {
			return "https://cdn/" + path, nil
		}).Times(3)

	loader := stubLoader{"f": []byte("f"), "r": []byte("r"), "l": []byte("l")}
	p := f.pipeline("u1", loader, WithMirror(func(b []byte) ([]byte, error) { return b, nil }))

	require.NoError(t, p.UploadScanImage(ctx, "f", models.SlotFront, true))
	require.NoError(t, p.UploadScanImage(ctx, "r", models.SlotRight, false))
	require.NoError(t, p.UploadScanImage(ctx, "l", models.SlotLeft, false))
	p.Wait()

	session := f.cache.CurrentSession(ctx)
	require.NotNil(t, session)
	assert.True(t, session.Completed)
	for _, slot := range models.Slots() {
		assert.Contains(t, session.Image(slot).URI, "https://cdn/u1/"+string(slot)+"_")
	}
}

func TestUnauthenticatedStaysLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := f.pipeline("", stubLoader{})
	require.NoError(t, p.UploadScanImage(ctx, "file:///a.jpg", models.SlotFront, true))
	p.Wait()

	assert.Equal(t, "file:///a.jpg", f.cache.Image(ctx, models.SlotFront).URI)
	assert.False(t, p.IsUploading(models.SlotFront))
}

func TestUploadFailureKeepsLocalImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.objects.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("offline")).Times(2)
	gomock.InOrder(
		f.objects.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", errors.New("offline")),
		f.objects.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return("https://cdn/u1/right.jpg", nil),
	)
	f.expectRecord("u1")

	p := f.pipeline("u1", stubLoader{"file:///r.jpg": []byte("raw")})

	require.NoError(t, p.UploadScanImage(ctx, "file:///r.jpg", models.SlotRight, false))
	p.Wait()
	assert.Equal(t, "file:///r.jpg", f.cache.Image(ctx, models.SlotRight).URI)
	assert.False(t, p.IsUploading(models.SlotRight))
	assert.Equal(t, int64(1), f.metrics.Value(metrics.ScanUploads, map[string]string{"slot": "right", "result": "failed"}))

	// nothing retries on its own, the next request goes through
	require.NoError(t, p.UploadScanImage(ctx, "file:///r.jpg", models.SlotRight, false))
	p.Wait()
	assert.Equal(t, "https://cdn/u1/right.jpg", f.cache.Image(ctx, models.SlotRight).URI)
}

func TestRecordFailureKeepsLocalImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.objects.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	f.objects.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("https://cdn/u1/front.jpg", nil)
	f.rows.EXPECT().Latest(gomock.Any(), "u1").Return(nil, errors.New("db down"))

	p := f.pipeline("u1", stubLoader{"a": []byte("raw")}, WithMirror(func(b []byte) ([]byte, error) { return b, nil }))
	require.NoError(t, p.UploadScanImage(ctx, "a", models.SlotFront, true))
	p.Wait()

	assert.Equal(t, "a", f.cache.Image(ctx, models.SlotFront).URI)
}

func TestMirrorFailureUploadsOriginal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expectRecord("u1")

	f.objects.EXPECT().List(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	f.objects.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Any(), []byte("not a jpeg"), gomock.Any()).
		Return("https://cdn/u1/front.jpg", nil)

	// default mirror decodes the bytes and fails on garbage
	p := f.pipeline("u1", stubLoader{"a": []byte("not a jpeg")})
	require.NoError(t, p.UploadScanImage(ctx, "a", models.SlotFront, true))
	p.Wait()

	img := f.cache.Image(ctx, models.SlotFront)
	assert.Equal(t, "https://cdn/u1/front.jpg", img.URI)
	assert.True(t, img.ShouldMirror)
}

func TestOldObjectsAreDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.expectRecord("u1")

	f.objects.EXPECT().List(gomock.Any(), remote.Bucket, "u1").Return([]string{"left_1.jpg", "front_2.jpg"}, nil)
	f.objects.EXPECT().Remove(gomock.Any(), remote.Bucket, []string{"u1/left_1.jpg"}).Return(errors.New("denied"))
	f.objects.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("https://cdn/u1/left.jpg", nil)

	p := f.pipeline("u1", stubLoader{"l": []byte("raw")})
	require.NoError(t, p.UploadScanImage(ctx, "l", models.SlotLeft, false))
	p.Wait()

	assert.Equal(t, "https://cdn/u1/left.jpg", f.cache.Image(ctx, models.SlotLeft).URI)
}

func TestGuardTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(nil, nil, nil, nil,
		WithGuardTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)

	first, ok := p.acquire(models.SlotFront)
	require.True(t, ok)
	_, ok = p.acquire(models.SlotFront)
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	second, ok := p.acquire(models.SlotFront)
	require.True(t, ok)

	// the stale run finishing must not free the new guard
	p.release(models.SlotFront, first)
	assert.True(t, p.IsUploading(models.SlotFront))
	p.release(models.SlotFront, second)
	assert.False(t, p.IsUploading(models.SlotFront))
}

func TestGuardWithoutTTLNeverExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New(nil, nil, nil, nil, WithClock(func() time.Time { return now }))

	_, ok := p.acquire(models.SlotRight)
	require.True(t, ok)
	now = now.Add(72 * time.Hour)
	_, ok = p.acquire(models.SlotRight)
	assert.False(t, ok)
}
