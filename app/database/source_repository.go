package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/aifeed/app/content"
)

type sourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) SourceRepository {
	return &sourceRepository{db: db}
}

type watermarkRow struct {
	SourceID            string         `db:"source_id"`
	LastSuccessfulFetch sql.NullString `db:"last_successful_fetch"`
	LastItemID          sql.NullString `db:"last_item_id"`
}

func (r watermarkRow) toWatermark() content.Watermark {
	w := content.Watermark{
		SourceID:   r.SourceID,
		LastItemID: r.LastItemID.String,
	}
	if t := parseTimestamp(r.LastSuccessfulFetch); !t.IsZero() {
		w.LastSuccessfulFetch = &t
	}
	return w
}

// GetWatermark returns nil when the source has never been processed.
func (r *sourceRepository) GetWatermark(ctx context.Context, sourceID string) (*content.Watermark, error) {
	var row watermarkRow
	err := r.db.GetContext(ctx, &row, `
		SELECT source_id, last_successful_fetch, last_item_id
		FROM source_metadata
		WHERE source_id = ?`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	w := row.toWatermark()
	return &w, nil
}

func (r *sourceRepository) PutWatermark(ctx context.Context, sourceID string, fetchedAt time.Time, lastItemID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO source_metadata (source_id, last_successful_fetch, last_item_id)
		VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			last_successful_fetch = EXCLUDED.last_successful_fetch,
			last_item_id = EXCLUDED.last_item_id`,
		sourceID, formatTimestamp(fetchedAt), nullString(lastItemID))
	if err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	return nil
}

func (r *sourceRepository) ListWatermarks(ctx context.Context) ([]content.Watermark, error) {
	var rows []watermarkRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT source_id, last_successful_fetch, last_item_id
		FROM source_metadata
		ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}

	watermarks := make([]content.Watermark, 0, len(rows))
	for _, row := range rows {
		watermarks = append(watermarks, row.toWatermark())
	}
	return watermarks, nil
}
