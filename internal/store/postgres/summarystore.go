package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

const summaryColumns = `id, account_id, provider_id, period_start, total_monthly_consumption,
    daily_average_consumption, average_consumption_per_citizen, peak_hourly_consumption,
    citizen_count, reading_count, has_manual_entry, observed_at, last_updated`

const insertSummarySQL = `
INSERT INTO monthly_summaries (` + summaryColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

const updateSummarySQL = `
UPDATE monthly_summaries
SET provider_id = $2,
    total_monthly_consumption = $3,
    daily_average_consumption = $4,
    average_consumption_per_citizen = $5,
    peak_hourly_consumption = $6,
    citizen_count = $7,
    reading_count = $8,
    has_manual_entry = $9,
    observed_at = $10,
    last_updated = $11
WHERE id = $1 AND last_updated = $12`

// SummaryStore implements store.SummaryStore on PostgreSQL.
type SummaryStore struct {
	db *DB
}

// NewSummaryStore creates a summary store on db.
func NewSummaryStore(db *DB) *SummaryStore {
	return &SummaryStore{db: db}
}

// Upsert inserts a new summary or conditionally replaces an existing one.
func (s *SummaryStore) Upsert(ctx context.Context, summary models.MonthlySummary, expected *time.Time) error {
	period := models.PeriodOf(summary.PeriodStart)

	if expected == nil {
		_, err := s.db.pool.Exec(ctx, insertSummarySQL,
			summary.ID, summary.AccountID, summary.ProviderID, period,
			summary.TotalMonthlyConsumption, summary.DailyAverageConsumption,
			summary.AverageConsumptionPerCitizen, summary.PeakHourlyConsumption,
			summary.CitizenCount, summary.ReadingCount, summary.HasManualEntry,
			summary.ObservedAt.UTC(), summary.LastUpdated.UTC())
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: summary for account %s period %s", models.ErrAlreadyExists,
				summary.AccountID, period.Format("2006-01"))
		}
		if err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		return nil
	}

	tag, err := s.db.pool.Exec(ctx, updateSummarySQL,
		summary.ID, summary.ProviderID, summary.TotalMonthlyConsumption, summary.DailyAverageConsumption,
		summary.AverageConsumptionPerCitizen, summary.PeakHourlyConsumption, summary.CitizenCount,
		summary.ReadingCount, summary.HasManualEntry, summary.ObservedAt.UTC(), summary.LastUpdated.UTC(),
		expected.UTC())
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM monthly_summaries WHERE id = $1)`, summary.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check summary: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: summary id %s", models.ErrNotFound, summary.ID)
	}
	return fmt.Errorf("%w: summary %s changed since %s", models.ErrConflict, summary.ID, expected.Format(time.RFC3339Nano))
}

// LatestByAccount returns the summary with the newest period for an account.
func (s *SummaryStore) LatestByAccount(ctx context.Context, accountID string) (*models.MonthlySummary, error) {
	rows, err := s.db.pool.Query(ctx, `
SELECT `+summaryColumns+`
FROM monthly_summaries
WHERE account_id = $1
ORDER BY period_start DESC
LIMIT 1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query latest summary: %w", err)
	}

	summary, err := pgx.CollectOneRow(rows, scanSummary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan latest summary: %w", err)
	}
	return &summary, nil
}

// FindByAccount returns an account's summaries, newest period first.
func (s *SummaryStore) FindByAccount(ctx context.Context, accountID string) ([]models.MonthlySummary, error) {
	rows, err := s.db.pool.Query(ctx, `
SELECT `+summaryColumns+`
FROM monthly_summaries
WHERE account_id = $1
ORDER BY period_start DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	return pgx.CollectRows(rows, scanSummary)
}

// FindByDateRange returns summaries observed within [start, end].
func (s *SummaryStore) FindByDateRange(ctx context.Context, start, end time.Time) ([]models.MonthlySummary, error) {
	rows, err := s.db.pool.Query(ctx, `
SELECT `+summaryColumns+`
FROM monthly_summaries
WHERE observed_at BETWEEN $1 AND $2
ORDER BY observed_at`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	return pgx.CollectRows(rows, scanSummary)
}

// AggregateByProvider sums and averages totals per provider within [start, end].
func (s *SummaryStore) AggregateByProvider(ctx context.Context, start, end time.Time) ([]models.ProviderConsumption, error) {
	rows, err := s.db.pool.Query(ctx, `
SELECT COALESCE(NULLIF(provider_id, ''), $3) COLLATE "C" AS provider,
       SUM(total_monthly_consumption),
       AVG(total_monthly_consumption)
FROM monthly_summaries
WHERE observed_at BETWEEN $1 AND $2
GROUP BY provider
ORDER BY provider`, start.UTC(), end.UTC(), models.UnknownProvider)
	if err != nil {
		return nil, fmt.Errorf("aggregate by provider: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ProviderConsumption, error) {
		var p models.ProviderConsumption
		err := row.Scan(&p.ProviderID, &p.TotalConsumption, &p.AverageConsumption)
		return p, err
	})
}

// AggregateForCity sums totals and per-row per-capita values within [start, end].
func (s *SummaryStore) AggregateForCity(ctx context.Context, start, end time.Time) (models.CityConsumption, error) {
	var city models.CityConsumption
	err := s.db.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(total_monthly_consumption), 0),
       COALESCE(SUM(total_monthly_consumption / NULLIF(citizen_count, 0)), 0)
FROM monthly_summaries
WHERE observed_at BETWEEN $1 AND $2`, start.UTC(), end.UTC()).Scan(&city.TotalConsumption, &city.AverageConsumption)
	if err != nil {
		return models.CityConsumption{}, fmt.Errorf("aggregate for city: %w", err)
	}
	return city, nil
}

const monthlyAverageSQL = `COALESCE(SUM(total_monthly_consumption) / NULLIF(SUM(citizen_count), 0), 0)`

// MonthlyAverageByProvider groups a calendar year by provider and month.
func (s *SummaryStore) MonthlyAverageByProvider(ctx context.Context, year int) ([]models.MonthlyProviderAverage, error) {
	rows, err := s.db.pool.Query(ctx, `
SELECT COALESCE(NULLIF(provider_id, ''), $2) COLLATE "C" AS provider,
       EXTRACT(MONTH FROM period_start)::int AS month,
       `+monthlyAverageSQL+`
FROM monthly_summaries
WHERE EXTRACT(YEAR FROM period_start)::int = $1
GROUP BY provider, month
ORDER BY provider, month`, year, models.UnknownProvider)
	if err != nil {
		return nil, fmt.Errorf("monthly average by provider: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MonthlyProviderAverage, error) {
		var m models.MonthlyProviderAverage
		err := row.Scan(&m.ProviderID, &m.Month, &m.AverageConsumption)
		return m, err
	})
}

// MonthlyAverageForCity groups a calendar year by month.
func (s *SummaryStore) MonthlyAverageForCity(ctx context.Context, year int) ([]models.MonthlyCityAverage, error) {
	rows, err := s.db.pool.Query(ctx, `
SELECT EXTRACT(MONTH FROM period_start)::int AS month,
       `+monthlyAverageSQL+`
FROM monthly_summaries
WHERE EXTRACT(YEAR FROM period_start)::int = $1
GROUP BY month
ORDER BY month`, year)
	if err != nil {
		return nil, fmt.Errorf("monthly average for city: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MonthlyCityAverage, error) {
		var m models.MonthlyCityAverage
		err := row.Scan(&m.Month, &m.AverageConsumption)
		return m, err
	})
}

func scanSummary(row pgx.CollectableRow) (models.MonthlySummary, error) {
	var s models.MonthlySummary
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.ProviderID,
		&s.PeriodStart,
		&s.TotalMonthlyConsumption,
		&s.DailyAverageConsumption,
		&s.AverageConsumptionPerCitizen,
		&s.PeakHourlyConsumption,
		&s.CitizenCount,
		&s.ReadingCount,
		&s.HasManualEntry,
		&s.ObservedAt,
		&s.LastUpdated,
	)
	if err != nil {
		return models.MonthlySummary{}, err
	}
	s.PeriodStart = models.PeriodOf(s.PeriodStart)
	s.ObservedAt = s.ObservedAt.UTC()
	s.LastUpdated = s.LastUpdated.UTC()
	return s, nil
}

// Ensure interface compliance.
var _ store.SummaryStore = (*SummaryStore)(nil)
