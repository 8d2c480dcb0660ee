package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/cowatch/internal/models"
)

const fetchedAtKey = "fetched_at"

// CatalogRepository stores one catalog snapshot, replacing it on every save.
//
// It implements catalog.Snapshots.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a new CatalogRepository with the given database connection
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Save replaces the stored snapshot with entries, keeping their order.
func (r *CatalogRepository) Save(ctx context.Context, entries []models.VideoEntry, fetchedAt time.Time) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM catalog_entries"); err != nil {
			return fmt.Errorf("failed to clear catalog snapshot: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO catalog_entries (id, position, title, url, size, content_type, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.ID, i, e.Title, e.URL, e.Size, e.ContentType, e.UploadedAt); err != nil {
				return fmt.Errorf("failed to insert entry %d: %w", e.ID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO catalog_meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, fetchedAtKey, fetchedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to store fetch time: %w", err)
		}
		return nil
	})
}

// Load returns the stored snapshot. With nothing stored it returns an empty list and
// the zero time.
func (r *CatalogRepository) Load(ctx context.Context) ([]models.VideoEntry, time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, url, size, content_type, uploaded_at
		FROM catalog_entries
		ORDER BY position
	`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query catalog snapshot: %w", err)
	}
	defer rows.Close()

	entries := []models.VideoEntry{}
	for rows.Next() {
		var e models.VideoEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.URL, &e.Size, &e.ContentType, &e.UploadedAt); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("error iterating entries: %w", err)
	}

	var raw string
	err = r.db.QueryRowContext(ctx, "SELECT value FROM catalog_meta WHERE key = ?", fetchedAtKey).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return entries, time.Time{}, nil
	case err != nil:
		return nil, time.Time{}, fmt.Errorf("failed to read fetch time: %w", err)
	}

	fetchedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid stored fetch time %q: %w", raw, err)
	}
	return entries, fetchedAt, nil
}
