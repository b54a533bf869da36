// Package store defines the persistence contracts for monthly summaries and the
// latest-reading index. Implementations live in the subpackages.
package store

import (
	"context"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// SummaryReader is the read side of the monthly summary table.
type SummaryReader interface {
	// LatestByAccount returns the most recent summary by period, or nil when none exists.
	LatestByAccount(ctx context.Context, accountID string) (*models.MonthlySummary, error)

	// FindByAccount returns every summary of an account, newest period first.
	FindByAccount(ctx context.Context, accountID string) ([]models.MonthlySummary, error)

	// FindByDateRange returns summaries observed within [start, end].
	FindByDateRange(ctx context.Context, start, end time.Time) ([]models.MonthlySummary, error)

	// AggregateByProvider sums and averages totals per provider within [start, end].
	AggregateByProvider(ctx context.Context, start, end time.Time) ([]models.ProviderConsumption, error)

	// AggregateForCity sums totals and per-row per-capita values within [start, end].
	AggregateForCity(ctx context.Context, start, end time.Time) (models.CityConsumption, error)

	// MonthlyAverageByProvider groups a calendar year by provider and month.
	MonthlyAverageByProvider(ctx context.Context, year int) ([]models.MonthlyProviderAverage, error)

	// MonthlyAverageForCity groups a calendar year by month.
	MonthlyAverageForCity(ctx context.Context, year int) ([]models.MonthlyCityAverage, error)
}

// SummaryStore persists monthly summaries.
type SummaryStore interface {
	SummaryReader

	// Upsert writes a summary conditionally. With a nil expected it inserts and
	// fails with models.ErrAlreadyExists when the (account, period) row exists.
	// Otherwise it replaces the row with the same ID only if the stored
	// LastUpdated equals *expected, failing with models.ErrConflict.
	Upsert(ctx context.Context, s models.MonthlySummary, expected *time.Time) error
}

// ReadingIndex keeps the last accepted reading per account.
type ReadingIndex interface {
	// Get returns the latest reading of an account, or nil when none exists.
	Get(ctx context.Context, accountID string) (*models.Reading, error)

	// CompareAndSet stores next only if the current value matches expected
	// (nil meaning absent). A mismatch fails with models.ErrConflict.
	CompareAndSet(ctx context.Context, accountID string, expected *models.Reading, next models.Reading) error
}

// SameReading reports whether two index entries are the same reading.
func SameReading(a, b *models.Reading) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.CumulativeConsumption == b.CumulativeConsumption && a.Timestamp.Equal(b.Timestamp)
}
