package scancache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/franckalain/glowscan/internal/models"
)

// ImageSource returns the remote image record of each slot for a user.
type ImageSource interface {
	ScanImages(ctx context.Context, userID string) (models.ScanResults, error)
}

// Reconciler pulls remote image records into the cache.
type Reconciler struct {
	cache  *Cache
	source ImageSource
	log    zerolog.Logger
}

func NewReconciler(cache *Cache, source ImageSource, log zerolog.Logger) *Reconciler {
	return &Reconciler{cache: cache, source: source, log: log}
}

// Sync merges the user's remote images into the local session. A failed
// fetch leaves local state untouched.
func (r *Reconciler) Sync(ctx context.Context, userID string) ([]models.Slot, error) {
	log := r.log.With().Str("user_id", userID).Logger()
	log.Debug().Msg("syncing images from remote")

	remote, err := r.source.ScanImages(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch remote images")
		return nil, fmt.Errorf("fetch remote images: %w", err)
	}

	updated, err := r.cache.Merge(ctx, remote)
	if err != nil {
		log.Error().Err(err).Msg("failed to apply remote images")
		return updated, err
	}
	if len(updated) == 0 {
		log.Debug().Msg("local cache is up to date")
	} else {
		log.Info().Int("slots", len(updated)).Msg("local cache updated from remote")
	}
	return updated, nil
}
