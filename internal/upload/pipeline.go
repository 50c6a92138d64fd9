// Package upload moves captured scan images to remote storage in the
// background while the local cache shows them right away.
package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/franckalain/glowscan/internal/auth"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/photo"
	"github.com/franckalain/glowscan/internal/scancache"
)

// Sessions yields the signed-in user
type Sessions interface {
	Current(ctx context.Context) (*auth.Session, error)
}

// Remote is the part of remote.Client the pipeline drives
type Remote interface {
	DeleteSlotObjects(ctx context.Context, userID string, slot models.Slot) error
	UploadImage(ctx context.Context, userID string, slot models.Slot, data []byte, at time.Time) (string, error)
	RecordImage(ctx context.Context, userID string, slot models.Slot, url string, mirror bool, at time.Time) error
}

// Loader reads the bytes behind an image URI
type Loader interface {
	Load(ctx context.Context, uri string) ([]byte, error)
}

// Observer is told whenever the displayed image of a slot changes
type Observer func(slot models.Slot, img *models.ScanImage)

type guard struct {
	id      uint64
	started time.Time
}

// Pipeline uploads scan images. At most one upload per slot runs at a time;
// extra requests for a busy slot are dropped.
type Pipeline struct {
	cache    *scancache.Cache
	sessions Sessions
	remote   Remote
	loader   Loader
	mirror   func([]byte) ([]byte, error)
	metrics  *metrics.Registry
	now      func() time.Time
	guardTTL time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	inflight  map[models.Slot]guard
	nextID    uint64
	observers []Observer

	wg sync.WaitGroup
}

// Option customizes a Pipeline
type Option func(*Pipeline)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithGuardTTL lets a new upload take over a slot whose upload has been
// running longer than ttl. Zero keeps the guard until the upload returns.
func WithGuardTTL(ttl time.Duration) Option {
	return func(p *Pipeline) { p.guardTTL = ttl }
}

// WithMirror replaces photo.MirrorJPEG
func WithMirror(fn func([]byte) ([]byte, error)) Option {
	return func(p *Pipeline) { p.mirror = fn }
}

func New(cache *scancache.Cache, sessions Sessions, remote Remote, loader Loader, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:    cache,
		sessions: sessions,
		remote:   remote,
		loader:   loader,
		mirror:   photo.MirrorJPEG,
		now:      time.Now,
		log:      zerolog.Nop(),
		inflight: make(map[models.Slot]guard),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers an observer of displayed image changes
func (p *Pipeline) Subscribe(fn Observer) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

func (p *Pipeline) notify(slot models.Slot, img *models.ScanImage) {
	p.mu.Lock()
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(slot, img)
	}
}

// UploadScanImage commits the image to the cache and, when a user is signed
// in, starts the background upload. It returns once the local commit is
// done. Only a failed local commit is reported.
func (p *Pipeline) UploadScanImage(ctx context.Context, uri string, slot models.Slot, shouldMirror bool) error {
	log := p.log.With().Str("slot", string(slot)).Logger()

	if err := p.cache.UpdateSession(ctx, slot, uri, shouldMirror); err != nil {
		log.Error().Err(err).Msg("failed to save image locally")
		return err
	}
	p.notify(slot, p.cache.Image(ctx, slot))

	id, ok := p.acquire(slot)
	if !ok {
		log.Info().Msg("upload already in progress, skipping")
		return nil
	}

	session, err := p.sessions.Current(ctx)
	if err != nil {
		p.release(slot, id)
		if errors.Is(err, auth.ErrNoSession) {
			log.Info().Msg("not signed in, keeping image local only")
		} else {
			log.Warn().Err(err).Msg("could not read session, keeping image local only")
		}
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(slot, id)
		// The upload outlives the screen that started it.
		p.run(context.WithoutCancel(ctx), session.UserID, uri, slot, shouldMirror)
	}()
	return nil
}

func (p *Pipeline) run(ctx context.Context, userID, uri string, slot models.Slot, shouldMirror bool) {
	log := p.log.With().Str("slot", string(slot)).Str("user_id", userID).Logger()
	result := "failed"
	defer func() {
		p.metrics.Inc(ctx, metrics.ScanUploads, map[string]string{"slot": string(slot), "result": result}, 1)
	}()

	if err := p.remote.DeleteSlotObjects(ctx, userID, slot); err != nil {
		log.Warn().Err(err).Msg("could not delete old images")
	}

	data, err := p.loader.Load(ctx, uri)
	if err != nil {
		log.Error().Err(err).Msg("failed to read image")
		return
	}
	if shouldMirror {
		mirrored, err := p.mirror(data)
		if err != nil {
			log.Warn().Err(err).Msg("mirror failed, uploading original")
		} else {
			data = mirrored
		}
	}

	at := p.now()
	url, err := p.remote.UploadImage(ctx, userID, slot, data, at)
	if err != nil {
		log.Error().Err(err).Msg("failed to upload image")
		return
	}
	if err := p.remote.RecordImage(ctx, userID, slot, url, shouldMirror, at); err != nil {
		log.Error().Err(err).Msg("failed to record image")
		return
	}

	promoted, err := p.cache.PromoteImage(ctx, slot, uri, url, shouldMirror)
	if err != nil {
		log.Error().Err(err).Msg("failed to store remote url locally")
		return
	}
	result = "ok"
	if promoted {
		p.notify(slot, p.cache.Image(ctx, slot))
	}
	log.Info().Str("url", url).Msg("upload complete")
}

func (p *Pipeline) acquire(slot models.Slot) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if g, busy := p.inflight[slot]; busy {
		if p.guardTTL <= 0 || now.Sub(g.started) < p.guardTTL {
			return 0, false
		}
		p.log.Warn().Str("slot", string(slot)).Dur("age", now.Sub(g.started)).Msg("upload guard expired, starting over")
	}

	p.nextID++
	p.inflight[slot] = guard{id: p.nextID, started: now}
	return p.nextID, true
}

// release only clears the guard it acquired, so a run that lost its guard
// to the TTL cannot free a newer one.
func (p *Pipeline) release(slot models.Slot, id uint64) {
	p.mu.Lock()
	if g, ok := p.inflight[slot]; ok && g.id == id {
		delete(p.inflight, slot)
	}
	p.mu.Unlock()
}

// IsUploading reports whether slot has an upload in flight
func (p *Pipeline) IsUploading(slot models.Slot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[slot]
	return ok
}

// Wait blocks until every started upload has finished
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
