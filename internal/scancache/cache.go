// Package scancache owns the current face scan session on the device.
//
// The session aggregate is persisted under SessionKey and only carries
// presence markers for its slots. Full images live in one record per slot
// (see models.Slot.StorageKey), so a large data URI never has to fit in the
// aggregate and each slot can be read back on its own.
package scancache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/franckalain/glowscan/internal/kv"
	"github.com/franckalain/glowscan/internal/models"
)

const (
	// SessionKey holds the lightweight session aggregate
	SessionKey = "scan_session"
	// DefaultTTL is how long a session stays usable after its last change
	DefaultTTL = 24 * time.Hour

	// storedMarker replaces the URI of a slot inside the aggregate record
	storedMarker = "stored"
)

// Cache is the single source of truth for in-progress scan images.
type Cache struct {
	store *kv.Store
	now   func() time.Time
	ttl   time.Duration
	log   zerolog.Logger

	// mu serializes read-modify-write cycles of the aggregate
	mu sync.Mutex
}

// Option customizes a Cache
type Option func(*Cache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithLogger sets the cache logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New creates a Cache persisting through store
func New(store *kv.Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		now:   time.Now,
		ttl:   DefaultTTL,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentSession rebuilds the session from the aggregate and the per-slot
// records. It returns nil when no session is persisted.
func (c *Cache) CurrentSession(ctx context.Context) *models.ScanSession {
	record, ok := kv.Get[models.ScanSession](ctx, c.store, SessionKey)
	if !ok {
		return nil
	}

	session := &models.ScanSession{ID: record.ID, Timestamp: record.Timestamp}
	for _, slot := range models.Slots() {
		marker := record.Image(slot)
		if marker == nil {
			continue
		}
		img := c.entry(ctx, slot).Resolve(slot, c.now())
		if img == nil && marker.URI != storedMarker {
			// older aggregates carried the full image inline
			img = marker
		}
		if img == nil {
			c.log.Warn().Str("slot", string(slot)).Msg("session marks slot as stored but its record is missing")
			continue
		}
		session.SetImage(slot, img)
	}
	session.RefreshCompleted()
	return session
}

// CreateSession persists and returns a fresh empty session.
func (c *Cache) CreateSession(ctx context.Context) (*models.ScanSession, error) {
	session := &models.ScanSession{
		ID:        uuid.NewString(),
		Timestamp: c.now().UnixMilli(),
	}
	if err := c.saveAggregate(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// UpdateSession overwrites slot with a new image stamped now, creating the
// session when none exists.
func (c *Cache) UpdateSession(ctx context.Context, slot models.Slot, uri string, shouldMirror bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.writeSlot(ctx, slot, models.NewScanImage(uri, shouldMirror, c.now()))
	return err
}

// PromoteImage swaps the URI of slot from localURI to remoteURI, keeping the
// mirror flag. Nothing is written when the slot no longer holds localURI,
// which happens when the user replaced or cleared it meanwhile.
func (c *Cache) PromoteImage(ctx context.Context, slot models.Slot, localURI, remoteURI string, shouldMirror bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.image(ctx, slot)
	if current == nil || current.URI != localURI {
		c.log.Info().Str("slot", string(slot)).Msg("slot changed during upload, keeping newer image")
		return false, nil
	}
	if _, err := c.writeSlot(ctx, slot, models.NewScanImage(remoteURI, shouldMirror, c.now())); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) writeSlot(ctx context.Context, slot models.Slot, img *models.ScanImage) (*models.ScanSession, error) {
	session, err := c.loadOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	if session.Image(slot) != nil {
		c.log.Info().Str("slot", string(slot)).Msg("replacing existing image")
	}
	session.SetImage(slot, img)
	session.Timestamp = c.now().UnixMilli()

	// The slot record goes first so the aggregate never points at an
	// image that was not written.
	if err := c.store.Set(ctx, slot.StorageKey(), img); err != nil {
		return nil, fmt.Errorf("save %s image: %w", slot, err)
	}
	if err := c.saveAggregate(ctx, session); err != nil {
		return nil, fmt.Errorf("save session after %s update: %w", slot, err)
	}
	c.log.Debug().Str("slot", string(slot)).Bool("completed", session.Completed).Msg("updated image")
	return session, nil
}

// loadOrCreate returns the live session, purging it first when expired.
func (c *Cache) loadOrCreate(ctx context.Context) (*models.ScanSession, error) {
	session := c.CurrentSession(ctx)
	if session != nil && c.expired(session) {
		c.log.Info().Str("session_id", session.ID).Msg("session expired, starting a new one")
		if err := c.clearAll(ctx); err != nil {
			return nil, err
		}
		session = nil
	}
	if session == nil {
		return c.CreateSession(ctx)
	}
	return session, nil
}

// Image returns the image in slot. It prefers the live session, then the
// slot record, then a legacy bare URI. It returns nil when nothing is found.
func (c *Cache) Image(ctx context.Context, slot models.Slot) *models.ScanImage {
	return c.image(ctx, slot)
}

func (c *Cache) image(ctx context.Context, slot models.Slot) *models.ScanImage {
	if session := c.CurrentSession(ctx); session != nil {
		if img := session.Image(slot); img != nil {
			return img
		}
	}
	return c.entry(ctx, slot).Resolve(slot, c.now())
}

func (c *Cache) entry(ctx context.Context, slot models.Slot) Entry {
	raw, ok := c.store.Raw(ctx, slot.StorageKey())
	if !ok {
		return Entry{Kind: EntryAbsent}
	}
	e := DecodeEntry(raw)
	if e.Kind == EntryLegacy {
		c.log.Debug().Str("slot", string(slot)).Msg("read legacy image entry")
	}
	return e
}

// ClearImage empties slot in the session and deletes its record.
func (c *Cache) ClearImage(ctx context.Context, slot models.Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if session := c.CurrentSession(ctx); session != nil {
		session.ClearImage(slot)
		session.Timestamp = c.now().UnixMilli()
		if err := c.saveAggregate(ctx, session); err != nil {
			return fmt.Errorf("clear %s image: %w", slot, err)
		}
	}
	if err := c.store.Remove(ctx, slot.StorageKey()); err != nil {
		return fmt.Errorf("clear %s image: %w", slot, err)
	}
	return nil
}

// ClearAllImages deletes the session and every slot record.
func (c *Cache) ClearAllImages(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearAll(ctx)
}

func (c *Cache) clearAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.store.Remove(gctx, SessionKey) })
	for _, slot := range models.Slots() {
		g.Go(func() error { return c.store.Remove(gctx, slot.StorageKey()) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("clear all images: %w", err)
	}
	return nil
}

// IsSessionExpired reports whether there is no session or it is older than
// the TTL.
func (c *Cache) IsSessionExpired(ctx context.Context) bool {
	session := c.CurrentSession(ctx)
	return session == nil || c.expired(session)
}

func (c *Cache) expired(session *models.ScanSession) bool {
	age := c.now().Sub(time.UnixMilli(session.Timestamp))
	return age > c.ttl
}

// CleanExpiredSessions purges everything when the session is expired.
// Callers run it before reads that assume a fresh session.
func (c *Cache) CleanExpiredSessions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session := c.CurrentSession(ctx)
	if session != nil && !c.expired(session) {
		return nil
	}
	if session != nil {
		c.log.Info().Str("session_id", session.ID).Msg("cleaning expired session")
	}
	return c.clearAll(ctx)
}

// AllScanResults returns all three slots, preferring the live session and
// falling back to per-slot reads.
func (c *Cache) AllScanResults(ctx context.Context) models.ScanResults {
	if session := c.CurrentSession(ctx); session != nil {
		return session.Results()
	}

	var (
		mu      sync.Mutex
		results models.ScanResults
		g       errgroup.Group
	)
	for _, slot := range models.Slots() {
		g.Go(func() error {
			img := c.entry(ctx, slot).Resolve(slot, c.now())
			mu.Lock()
			results.Set(slot, img)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HasScanImages reports whether any slot resolves to an image
func (c *Cache) HasScanImages(ctx context.Context) bool {
	return c.AllScanResults(ctx).Any()
}

// Merge applies remote images last-writer-wins: a slot is overwritten when
// it is empty locally or the remote timestamp is strictly newer. Slots the
// remote side lacks are left alone. It returns the slots that changed.
func (c *Cache) Merge(ctx context.Context, remote models.ScanResults) ([]models.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.loadOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	var (
		updated  []models.Slot
		repaired bool
	)
	for _, slot := range models.Slots() {
		incoming := remote.Get(slot)
		if incoming == nil {
			continue
		}
		local := session.Image(slot)
		if local == nil {
			// a slot record written without its aggregate marker still counts
			if e := c.entry(ctx, slot); e.Kind == EntryCurrent {
				local = e.Image
				session.SetImage(slot, local)
				repaired = true
			}
		}
		if local != nil && incoming.Timestamp <= local.Timestamp {
			continue
		}

		img := &models.ScanImage{
			URI:          incoming.URI,
			ShouldMirror: incoming.ShouldMirror,
			Timestamp:    incoming.Timestamp,
		}
		if err := c.store.Set(ctx, slot.StorageKey(), img); err != nil {
			return updated, fmt.Errorf("save synced %s image: %w", slot, err)
		}
		session.SetImage(slot, img)
		updated = append(updated, slot)
		c.log.Info().Str("slot", string(slot)).Int64("remote_ts", incoming.Timestamp).Msg("updated local image from remote")
	}

	if len(updated) == 0 && !repaired {
		return nil, nil
	}
	if len(updated) > 0 {
		session.Timestamp = c.now().UnixMilli()
	}
	if err := c.saveAggregate(ctx, session); err != nil {
		return updated, fmt.Errorf("save synced session: %w", err)
	}
	return updated, nil
}

// saveAggregate persists session with its slots reduced to markers.
func (c *Cache) saveAggregate(ctx context.Context, session *models.ScanSession) error {
	record := models.ScanSession{ID: session.ID, Timestamp: session.Timestamp}
	for _, slot := range models.Slots() {
		if img := session.Image(slot); img != nil {
			record.SetImage(slot, &models.ScanImage{
				URI:          storedMarker,
				ShouldMirror: img.ShouldMirror,
				Timestamp:    img.Timestamp,
			})
		}
	}
	record.RefreshCompleted()
	return c.store.Set(ctx, SessionKey, record)
}
