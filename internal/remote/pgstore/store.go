// Package pgstore keeps scan rows in PostgreSQL.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/remote"
)

//go:embed schema.sql
var schema string

// Store implements remote.ScanRows over a pgx pool
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and makes sure the table exists
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Latest(ctx context.Context, userID string) (*remote.ScanRow, error) {
	query := `
		SELECT id, user_id,
			front_image_url, front_image_mirror, front_image_at,
			right_image_url, right_image_mirror, right_image_at,
			left_image_url, left_image_mirror, left_image_at,
			analysis_result, completed, created_at, updated_at
		FROM scan_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var (
		row      remote.ScanRow
		urls     [3]*string
		mirrors  [3]bool
		ats      [3]*time.Time
		analysis []byte
	)
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&row.ID, &row.UserID,
		&urls[0], &mirrors[0], &ats[0],
		&urls[1], &mirrors[1], &ats[1],
		&urls[2], &mirrors[2], &ats[2],
		&analysis, &row.Completed, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest scan row: %w", err)
	}

	for i, slot := range models.Slots() {
		if urls[i] == nil || *urls[i] == "" {
			continue
		}
		img := &remote.RowImage{URL: *urls[i], Mirror: mirrors[i]}
		if ats[i] != nil {
			img.At = *ats[i]
		}
		row.SetImage(slot, img)
	}
	if len(analysis) > 0 {
		row.AnalysisResult = json.RawMessage(analysis)
	}
	return &row, nil
}

func (s *Store) Insert(ctx context.Context, row *remote.ScanRow) error {
	query := `
		INSERT INTO scan_sessions (
			id, user_id,
			front_image_url, front_image_mirror, front_image_at,
			right_image_url, right_image_mirror, right_image_at,
			left_image_url, left_image_mirror, left_image_at,
			analysis_result, completed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	now := time.Now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}

	args := []any{row.ID, row.UserID}
	for _, slot := range models.Slots() {
		args = append(args, imageArgs(row.Image(slot))...)
	}
	args = append(args, nullJSON(row.AnalysisResult), row.Completed, row.CreatedAt, row.UpdatedAt)

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert scan row: %w", err)
	}
	return nil
}

func (s *Store) UpdateImage(ctx context.Context, rowID string, slot models.Slot, img remote.RowImage) error {
	if _, err := models.ParseSlot(string(slot)); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE scan_sessions
		SET %[1]s_image_url = $1, %[1]s_image_mirror = $2, %[1]s_image_at = $3, updated_at = now()
		WHERE id = $4
	`, slot)

	args := append(imageArgs(&img), rowID)
	return s.exec(ctx, query, args...)
}

func (s *Store) UpdateAnalysis(ctx context.Context, rowID string, analysis json.RawMessage, completed bool) error {
	query := `
		UPDATE scan_sessions
		SET analysis_result = $1, completed = $2, updated_at = now()
		WHERE id = $3
	`
	return s.exec(ctx, query, nullJSON(analysis), completed, rowID)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return remote.ErrNotFound
	}
	return nil
}

func imageArgs(img *remote.RowImage) []any {
	if img == nil {
		return []any{nil, false, nil}
	}
	var at *time.Time
	if !img.At.IsZero() {
		at = &img.At
	}
	return []any{img.URL, img.Mirror, at}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
