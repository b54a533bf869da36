// Package aggregate derives provider, city and monthly statistics from
// monthly summaries. It holds no state of its own.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/clock"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

// Symbolic time ranges accepted by ResolveRange
const (
	RangeLast24Hours = "LAST_24_HOURS"
	RangeLast7Days   = "LAST_7_DAYS"
	RangeLast30Days  = "LAST_30_DAYS"
)

var symbolicRanges = map[string]time.Duration{
	RangeLast24Hours: 24 * time.Hour,
	RangeLast7Days:   7 * 24 * time.Hour,
	RangeLast30Days:  30 * 24 * time.Hour,
}

// MinYear is the earliest calendar year accepted by the monthly queries
const MinYear = 1900

// Aggregator composes read-only views over a summary store
type Aggregator struct {
	store store.SummaryReader
	clock clock.Clock
}

// New creates an Aggregator
func New(r store.SummaryReader, c clock.Clock) *Aggregator {
	if c == nil {
		c = clock.Real{}
	}
	return &Aggregator{store: r, clock: c}
}

// ResolveRange maps a symbolic range to [now - duration, now]
func (a *Aggregator) ResolveRange(symbol string) (models.TimeRange, error) {
	d, ok := symbolicRanges[symbol]
	if !ok {
		return models.TimeRange{}, fmt.Errorf("%w: unknown range %q", models.ErrInvalidTimeRange, symbol)
	}
	now := a.clock.Now().UTC()
	return models.TimeRange{Start: now.Add(-d), End: now}, nil
}

// Between validates an explicit window
func Between(start, end time.Time) (models.TimeRange, error) {
	if start.IsZero() || end.IsZero() {
		return models.TimeRange{}, fmt.Errorf("%w: start and end are required", models.ErrInvalidTimeRange)
	}
	if end.Before(start) {
		return models.TimeRange{}, fmt.Errorf("%w: end %s before start %s", models.ErrInvalidTimeRange,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return models.TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}

// ValidateYear rejects years outside MinYear..current year
func (a *Aggregator) ValidateYear(year int) error {
	current := a.clock.Now().UTC().Year()
	if year < MinYear || year > current {
		return fmt.Errorf("%w: %d is outside %d..%d", models.ErrInvalidYear, year, MinYear, current)
	}
	return nil
}

// SummariesInRange returns the raw summaries observed within r
func (a *Aggregator) SummariesInRange(ctx context.Context, r models.TimeRange) ([]models.MonthlySummary, error) {
	rows, err := a.store.FindByDateRange(ctx, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("find summaries by date range: %w", err)
	}
	return rows, nil
}

// ByProvider returns per-provider totals and averages within r
func (a *Aggregator) ByProvider(ctx context.Context, r models.TimeRange) ([]models.ProviderConsumption, error) {
	out, err := a.store.AggregateByProvider(ctx, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("aggregate by provider: %w", err)
	}
	return out, nil
}

// ForCity returns the city-wide total and summed per-capita figure within r
func (a *Aggregator) ForCity(ctx context.Context, r models.TimeRange) (models.CityConsumption, error) {
	out, err := a.store.AggregateForCity(ctx, r.Start, r.End)
	if err != nil {
		return models.CityConsumption{}, fmt.Errorf("aggregate for city: %w", err)
	}
	return out, nil
}

// MonthlyByProvider returns per-provider monthly per-citizen averages for year
func (a *Aggregator) MonthlyByProvider(ctx context.Context, year int) ([]models.MonthlyProviderAverage, error) {
	if err := a.ValidateYear(year); err != nil {
		return nil, err
	}
	out, err := a.store.MonthlyAverageByProvider(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("monthly average by provider: %w", err)
	}
	return out, nil
}

// MonthlyForCity returns city monthly per-citizen averages for year
func (a *Aggregator) MonthlyForCity(ctx context.Context, year int) ([]models.MonthlyCityAverage, error) {
	if err := a.ValidateYear(year); err != nil {
		return nil, err
	}
	out, err := a.store.MonthlyAverageForCity(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("monthly average for city: %w", err)
	}
	return out, nil
}

// Latest returns the most recent summary of an account
func (a *Aggregator) Latest(ctx context.Context, accountID string) (models.MonthlySummary, error) {
	s, err := a.store.LatestByAccount(ctx, accountID)
	if err != nil {
		return models.MonthlySummary{}, fmt.Errorf("latest summary: %w", err)
	}
	if s == nil {
		return models.MonthlySummary{}, fmt.Errorf("%w: no summary for account %s", models.ErrNotFound, accountID)
	}
	return *s, nil
}

// History returns every summary of an account, newest first
func (a *Aggregator) History(ctx context.Context, accountID string) ([]models.MonthlySummary, error) {
	rows, err := a.store.FindByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account history: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no summaries for account %s", models.ErrNotFound, accountID)
	}
	return rows, nil
}

// ProviderSnapshot folds the current month's summaries of a provider's accounts
func (a *Aggregator) ProviderSnapshot(ctx context.Context, providerID string) (models.Snapshot, error) {
	now := a.clock.Now().UTC()
	rows, err := a.store.FindByDateRange(ctx, models.PeriodOf(now), now)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("provider snapshot: %w", err)
	}

	snap := ProviderSnapshot(rows, providerID, now)
	if snap.CitizenCount == nil || *snap.CitizenCount == 0 {
		return models.Snapshot{}, fmt.Errorf("%w: no current data for provider %s", models.ErrNotFound, providerID)
	}
	return snap, nil
}
