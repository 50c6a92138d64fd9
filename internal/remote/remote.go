// Package remote talks to the backend that durably keeps scan images: an
// object store for the JPEG bytes and a relational table of scan rows.
package remote

//go:generate mockgen -source=remote.go -destination=mocks/mock_remote.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/franckalain/glowscan/internal/models"
)

const (
	// Bucket holds every scan image, one folder per user
	Bucket = "scan-images"
	// ContentType of uploaded scan images
	ContentType = "image/jpeg"
)

// ErrNotFound is returned by ScanRows when the user has no row yet
var ErrNotFound = errors.New("not found")

// ObjectStore is the object storage contract
type ObjectStore interface {
	// Upload stores data at path and returns its public URL
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, bucket string, paths []string) error
	// List returns the names of the objects directly under prefix
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// RowImage is the image columns of one slot of a scan row
type RowImage struct {
	URL    string
	Mirror bool
	At     time.Time // zero when the row predates per-slot timestamps
}

// ScanRow is a row of the scan_sessions table
type ScanRow struct {
	ID             string
	UserID         string
	Front          *RowImage
	Right          *RowImage
	Left           *RowImage
	AnalysisResult json.RawMessage
	Completed      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Image returns the columns of slot, nil when the slot has no URL
func (r *ScanRow) Image(slot models.Slot) *RowImage {
	switch slot {
	case models.SlotFront:
		return r.Front
	case models.SlotRight:
		return r.Right
	case models.SlotLeft:
		return r.Left
	}
	return nil
}

// SetImage assigns the columns of slot
func (r *ScanRow) SetImage(slot models.Slot, img *RowImage) {
	switch slot {
	case models.SlotFront:
		r.Front = img
	case models.SlotRight:
		r.Right = img
	case models.SlotLeft:
		r.Left = img
	}
}

// ScanRows is the relational store of scan rows
type ScanRows interface {
	// Latest returns the most recently created row of a user or ErrNotFound
	Latest(ctx context.Context, userID string) (*ScanRow, error)
	Insert(ctx context.Context, row *ScanRow) error
	UpdateImage(ctx context.Context, rowID string, slot models.Slot, img RowImage) error
	UpdateAnalysis(ctx context.Context, rowID string, analysis json.RawMessage, completed bool) error
}

// ImagePath is the object path of a slot image uploaded at the given time
func ImagePath(userID string, slot models.Slot, at time.Time) string {
	return fmt.Sprintf("%s/%s_%d.jpg", userID, slot, at.UnixMilli())
}

// Client combines the object store and the scan rows into the operations
// the app needs.
type Client struct {
	objects ObjectStore
	rows    ScanRows
	now     func() time.Time
	log     zerolog.Logger
}

func NewClient(objects ObjectStore, rows ScanRows, log zerolog.Logger) *Client {
	return &Client{objects: objects, rows: rows, now: time.Now, log: log}
}

// ScanImages returns the images of the user's latest row. A slot without its
// own timestamp takes the row's updated_at.
func (c *Client) ScanImages(ctx context.Context, userID string) (models.ScanResults, error) {
	var results models.ScanResults

	row, err := c.rows.Latest(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return results, nil
	}
	if err != nil {
		return results, fmt.Errorf("get latest scan row: %w", err)
	}

	for _, slot := range models.Slots() {
		img := row.Image(slot)
		if img == nil || img.URL == "" {
			continue
		}
		at := img.At
		if at.IsZero() {
			at = row.UpdatedAt
		}
		results.Set(slot, &models.ScanImage{
			URI:          img.URL,
			ShouldMirror: img.Mirror,
			Timestamp:    at.UnixMilli(),
		})
	}
	return results, nil
}

// UploadImage stores JPEG bytes for slot and returns the public URL.
func (c *Client) UploadImage(ctx context.Context, userID string, slot models.Slot, data []byte, at time.Time) (string, error) {
	path := ImagePath(userID, slot, at)
	url, err := c.objects.Upload(ctx, Bucket, path, data, ContentType)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	c.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("uploaded scan image")
	return url, nil
}

// RecordImage stores the public URL of slot on the user's latest row,
// creating a row when the user has none.
func (c *Client) RecordImage(ctx context.Context, userID string, slot models.Slot, url string, mirror bool, at time.Time) error {
	img := RowImage{URL: url, Mirror: mirror, At: at}

	row, err := c.rows.Latest(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		now := c.now()
		row = &ScanRow{
			ID:        uuid.NewString(),
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		row.SetImage(slot, &img)
		if err := c.rows.Insert(ctx, row); err != nil {
			return fmt.Errorf("insert scan row: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("get latest scan row: %w", err)
	}

	if err := c.rows.UpdateImage(ctx, row.ID, slot, img); err != nil {
		return fmt.Errorf("update scan row %s: %w", row.ID, err)
	}
	return nil
}

// RecordAnalysis stores an analysis result on the user's latest row and
// marks it completed.
func (c *Client) RecordAnalysis(ctx context.Context, userID string, analysis any) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	row, err := c.rows.Latest(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		now := c.now()
		row = &ScanRow{
			ID:             uuid.NewString(),
			UserID:         userID,
			AnalysisResult: payload,
			Completed:      true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := c.rows.Insert(ctx, row); err != nil {
			return fmt.Errorf("insert scan row: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest scan row: %w", err)
	}
	if err := c.rows.UpdateAnalysis(ctx, row.ID, payload, true); err != nil {
		return fmt.Errorf("update scan row %s: %w", row.ID, err)
	}
	return nil
}

// DeleteSlotObjects removes every stored image of slot for the user.
func (c *Client) DeleteSlotObjects(ctx context.Context, userID string, slot models.Slot) error {
	names, err := c.objects.List(ctx, Bucket, userID)
	if err != nil {
		return fmt.Errorf("list %s objects: %w", userID, err)
	}

	var paths []string
	for _, name := range names {
		if strings.HasPrefix(name, string(slot)+"_") {
			paths = append(paths, userID+"/"+name)
		}
	}
	if len(paths) == 0 {
		return nil
	}

	c.log.Debug().Str("slot", string(slot)).Int("count", len(paths)).Msg("deleting old scan images")
	if err := c.objects.Remove(ctx, Bucket, paths); err != nil {
		return fmt.Errorf("remove old %s objects: %w", slot, err)
	}
	return nil
}
