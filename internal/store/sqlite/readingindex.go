package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

// ReadingIndex implements store.ReadingIndex using SQLite.
type ReadingIndex struct {
	db *DB
}

// NewReadingIndex creates a new SQLite reading index.
func NewReadingIndex(db *DB) *ReadingIndex {
	return &ReadingIndex{db: db}
}

// Get returns the latest reading for an account.
func (i *ReadingIndex) Get(ctx context.Context, accountID string) (*models.Reading, error) {
	var (
		r         models.Reading
		readingAt string
	)
	err := i.db.QueryRowContext(ctx, `
		SELECT account_id, provider_id, cumulative_consumption, reading_at, is_manual_entry
		FROM latest_readings
		WHERE account_id = ?
	`, accountID).Scan(&r.AccountID, &r.ProviderID, &r.CumulativeConsumption, &readingAt, &r.IsManualEntry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest reading: %w", err)
	}
	if r.Timestamp, err = parseTime(readingAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CompareAndSet replaces the latest reading if it still matches expected.
func (i *ReadingIndex) CompareAndSet(ctx context.Context, accountID string, expected *models.Reading, next models.Reading) error {
	var (
		res sql.Result
		err error
	)
	if expected == nil {
		res, err = i.db.ExecContext(ctx, `
			INSERT INTO latest_readings (account_id, provider_id, cumulative_consumption, reading_at, is_manual_entry)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(account_id) DO NOTHING
		`, accountID, next.ProviderID, next.CumulativeConsumption, formatTime(next.Timestamp), next.IsManualEntry)
	} else {
		res, err = i.db.ExecContext(ctx, `
			UPDATE latest_readings SET
				provider_id = ?,
				cumulative_consumption = ?,
				reading_at = ?,
				is_manual_entry = ?
			WHERE account_id = ? AND cumulative_consumption = ? AND reading_at = ?
		`, next.ProviderID, next.CumulativeConsumption, formatTime(next.Timestamp), next.IsManualEntry,
			accountID, expected.CumulativeConsumption, formatTime(expected.Timestamp))
	}
	if err != nil {
		return fmt.Errorf("store latest reading: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store latest reading: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: latest reading of account %s changed", models.ErrConflict, accountID)
	}
	return nil
}

// Ensure interface compliance.
var _ store.ReadingIndex = (*ReadingIndex)(nil)
