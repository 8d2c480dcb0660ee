package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samber/mo"

	"github.com/desertthunder/cowatch/internal/models"
)

// UploadHistoryRepository persists upload outcomes. It implements upload.Recorder.
type UploadHistoryRepository struct {
	db *sql.DB
}

// NewUploadHistoryRepository creates a new UploadHistoryRepository with the given database connection
func NewUploadHistoryRepository(db *sql.DB) *UploadHistoryRepository {
	return &UploadHistoryRepository{db: db}
}

// Record stores rec. A second record for the same job replaces the first.
func (r *UploadHistoryRepository) Record(ctx context.Context, rec models.UploadRecord) error {
	if rec.JobID == "" {
		return fmt.Errorf("validation failed: job id is required")
	}

	var videoID sql.NullInt64
	if id, ok := rec.VideoID.Get(); ok {
		videoID = sql.NullInt64{Int64: id, Valid: true}
	}

	query := `
		INSERT INTO upload_history (job_id, file_name, title, size, status, error, video_id, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			video_id = excluded.video_id,
			finished_at = excluded.finished_at
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.JobID,
		rec.FileName,
		rec.Title,
		rec.Size,
		string(rec.Status),
		rec.Error,
		videoID,
		rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload record: %w", err)
	}
	return nil
}

// List returns the most recent records first. A non-positive limit returns all of them.
func (r *UploadHistoryRepository) List(ctx context.Context, limit int) ([]models.UploadRecord, error) {
	query := `
		SELECT job_id, file_name, title, size, status, error, video_id, finished_at
		FROM upload_history
		ORDER BY finished_at DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload history: %w", err)
	}
	defer rows.Close()

	records := []models.UploadRecord{}
	for rows.Next() {
		var (
			rec     models.UploadRecord
			status  string
			videoID sql.NullInt64
		)
		if err := rows.Scan(&rec.JobID, &rec.FileName, &rec.Title, &rec.Size, &status, &rec.Error, &videoID, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload record: %w", err)
		}

		rec.Status = models.JobStatus(status)
		rec.VideoID = mo.TupleToOption(videoID.Int64, videoID.Valid)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload history: %w", err)
	}

	return records, nil
}

// Prune deletes all but the newest keep records and returns how many were removed.
func (r *UploadHistoryRepository) Prune(ctx context.Context, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM upload_history
		WHERE job_id NOT IN (
			SELECT job_id FROM upload_history ORDER BY finished_at DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune upload history: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}
