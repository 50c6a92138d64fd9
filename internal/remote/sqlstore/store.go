// Package sqlstore keeps scan rows in a SQLite database for self-hosted
// deployments.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/remote"
)

//go:embed schema.sql
var schemaFS embed.FS

const selectColumns = `
	id, user_id,
	front_image_url, front_image_mirror, front_image_at,
	right_image_url, right_image_mirror, right_image_at,
	left_image_url, left_image_mirror, left_image_at,
	analysis_result, completed, created_at, updated_at
`

// Store implements remote.ScanRows
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dbPath and applies the schema
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error reading schema file: %w", err)
	}
	if _, err := db.Exec(string(schemaBytes)); err != nil {
		db.Close()
		return nil, fmt.Errorf("error executing schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Latest returns the newest row of a user
func (s *Store) Latest(ctx context.Context, userID string) (*remote.ScanRow, error) {
	query := `SELECT ` + selectColumns + `
		FROM scan_sessions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`
	row, err := scanRow(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest scan row: %w", err)
	}
	return row, nil
}

// Insert adds a new row
func (s *Store) Insert(ctx context.Context, row *remote.ScanRow) error {
	query := `
		INSERT INTO scan_sessions (
			id, user_id,
			front_image_url, front_image_mirror, front_image_at,
			right_image_url, right_image_mirror, right_image_at,
			left_image_url, left_image_mirror, left_image_at,
			analysis_result, completed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := s.now()
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
	args = append(args,
		nullJSON(row.AnalysisResult), row.Completed,
		row.CreatedAt.UnixMilli(), row.UpdatedAt.UnixMilli(),
	)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert scan row: %w", err)
	}
	return nil
}

// UpdateImage sets the image columns of one slot
func (s *Store) UpdateImage(ctx context.Context, rowID string, slot models.Slot, img remote.RowImage) error {
	if _, err := models.ParseSlot(string(slot)); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE scan_sessions
		SET %[1]s_image_url = ?, %[1]s_image_mirror = ?, %[1]s_image_at = ?, updated_at = ?
		WHERE id = ?
	`, slot)

	args := append(imageArgs(&img), s.now().UnixMilli(), rowID)
	return s.exec(ctx, query, args...)
}

// UpdateAnalysis stores the analysis result and completion flag
func (s *Store) UpdateAnalysis(ctx context.Context, rowID string, analysis json.RawMessage, completed bool) error {
	query := `
		UPDATE scan_sessions
		SET analysis_result = ?, completed = ?, updated_at = ?
		WHERE id = ?
	`
	return s.exec(ctx, query, nullJSON(analysis), completed, s.now().UnixMilli(), rowID)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return remote.ErrNotFound
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(r rowScanner) (*remote.ScanRow, error) {
	var (
		row                  remote.ScanRow
		urls                 [3]sql.NullString
		mirrors              [3]bool
		ats                  [3]sql.NullInt64
		analysis             sql.NullString
		createdAt, updatedAt int64
	)
	err := r.Scan(
		&row.ID, &row.UserID,
		&urls[0], &mirrors[0], &ats[0],
		&urls[1], &mirrors[1], &ats[1],
		&urls[2], &mirrors[2], &ats[2],
		&analysis, &row.Completed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	for i, slot := range models.Slots() {
		if !urls[i].Valid || urls[i].String == "" {
			continue
		}
		img := &remote.RowImage{URL: urls[i].String, Mirror: mirrors[i]}
		if ats[i].Valid {
			img.At = time.UnixMilli(ats[i].Int64)
		}
		row.SetImage(slot, img)
	}
	if analysis.Valid {
		row.AnalysisResult = json.RawMessage(analysis.String)
	}
	row.CreatedAt = time.UnixMilli(createdAt)
	row.UpdatedAt = time.UnixMilli(updatedAt)
	return &row, nil
}

func imageArgs(img *remote.RowImage) []any {
	if img == nil {
		return []any{nil, false, nil}
	}
	var at any
	if !img.At.IsZero() {
		at = img.At.UnixMilli()
	}
	return []any{img.URL, img.Mirror, at}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
