package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

// ReadingIndex implements store.ReadingIndex on PostgreSQL.
type ReadingIndex struct {
	db *DB
}

// NewReadingIndex creates a reading index on db.
func NewReadingIndex(db *DB) *ReadingIndex {
	return &ReadingIndex{db: db}
}

// Get returns the latest reading for an account.
func (i *ReadingIndex) Get(ctx context.Context, accountID string) (*models.Reading, error) {
	var r models.Reading
	err := i.db.pool.QueryRow(ctx, `
SELECT account_id, provider_id, cumulative_consumption, reading_at, is_manual_entry
FROM latest_readings
WHERE account_id = $1`, accountID).Scan(&r.AccountID, &r.ProviderID, &r.CumulativeConsumption, &r.Timestamp, &r.IsManualEntry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest reading: %w", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	return &r, nil
}

// CompareAndSet replaces the latest reading if it still matches expected.
func (i *ReadingIndex) CompareAndSet(ctx context.Context, accountID string, expected *models.Reading, next models.Reading) error {
	var (
		affected int64
		err      error
	)
	if expected == nil {
		tag, execErr := i.db.pool.Exec(ctx, `
INSERT INTO latest_readings (account_id, provider_id, cumulative_consumption, reading_at, is_manual_entry)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (account_id) DO NOTHING`,
			accountID, next.ProviderID, next.CumulativeConsumption, next.Timestamp.UTC(), next.IsManualEntry)
		affected, err = tag.RowsAffected(), execErr
	} else {
		tag, execErr := i.db.pool.Exec(ctx, `
UPDATE latest_readings
SET provider_id = $2,
    cumulative_consumption = $3,
    reading_at = $4,
    is_manual_entry = $5
WHERE account_id = $1 AND cumulative_consumption = $6 AND reading_at = $7`,
			accountID, next.ProviderID, next.CumulativeConsumption, next.Timestamp.UTC(), next.IsManualEntry,
			expected.CumulativeConsumption, expected.Timestamp.UTC())
		affected, err = tag.RowsAffected(), execErr
	}
	if err != nil {
		return fmt.Errorf("store latest reading: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: latest reading of account %s changed", models.ErrConflict, accountID)
	}
	return nil
}

// Ensure interface compliance.
var _ store.ReadingIndex = (*ReadingIndex)(nil)
