package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

const summaryColumns = `id, account_id, provider_id, period_start, total_monthly_consumption,
	daily_average_consumption, average_consumption_per_citizen, peak_hourly_consumption,
	citizen_count, reading_count, has_manual_entry, observed_at, last_updated`

// SummaryStore implements store.SummaryStore using SQLite.
type SummaryStore struct {
	db *DB
}

// NewSummaryStore creates a new SQLite summary store.
func NewSummaryStore(db *DB) *SummaryStore {
	return &SummaryStore{db: db}
}

// Upsert inserts a new summary or conditionally replaces an existing one.
func (s *SummaryStore) Upsert(ctx context.Context, summary models.MonthlySummary, expected *time.Time) error {
	period := models.PeriodOf(summary.PeriodStart)

	if expected == nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO monthly_summaries (`+summaryColumns+`, period_year, period_month)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, summary.ID, summary.AccountID, summary.ProviderID, period.Format(periodLayout),
			summary.TotalMonthlyConsumption, summary.DailyAverageConsumption,
			nullFloat(summary.AverageConsumptionPerCitizen), summary.PeakHourlyConsumption,
			nullInt(summary.CitizenCount), summary.ReadingCount, summary.HasManualEntry,
			formatTime(summary.ObservedAt), formatTime(summary.LastUpdated),
			period.Year(), int(period.Month()))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: summary for account %s period %s", models.ErrAlreadyExists,
				summary.AccountID, period.Format("2006-01"))
		}
		if err != nil {
			return fmt.Errorf("insert summary: %w", err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE monthly_summaries SET
			provider_id = ?,
			total_monthly_consumption = ?,
			daily_average_consumption = ?,
			average_consumption_per_citizen = ?,
			peak_hourly_consumption = ?,
			citizen_count = ?,
			reading_count = ?,
			has_manual_entry = ?,
			observed_at = ?,
			last_updated = ?
		WHERE id = ? AND last_updated = ?
	`, summary.ProviderID, summary.TotalMonthlyConsumption, summary.DailyAverageConsumption,
		nullFloat(summary.AverageConsumptionPerCitizen), summary.PeakHourlyConsumption,
		nullInt(summary.CitizenCount), summary.ReadingCount, summary.HasManualEntry,
		formatTime(summary.ObservedAt), formatTime(summary.LastUpdated),
		summary.ID, formatTime(*expected))
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}

	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM monthly_summaries WHERE id = ?", summary.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: summary id %s", models.ErrNotFound, summary.ID)
		}
		if err != nil {
			return fmt.Errorf("check summary: %w", err)
		}
		return fmt.Errorf("%w: summary %s changed since %s", models.ErrConflict, summary.ID, expected.Format(time.RFC3339Nano))
	}

	return tx.Commit()
}

// LatestByAccount returns the summary with the newest period for an account.
func (s *SummaryStore) LatestByAccount(ctx context.Context, accountID string) (*models.MonthlySummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+summaryColumns+`
		FROM monthly_summaries
		WHERE account_id = ?
		ORDER BY period_start DESC
		LIMIT 1
	`, accountID)

	summary, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// FindByAccount returns an account's summaries, newest period first.
func (s *SummaryStore) FindByAccount(ctx context.Context, accountID string) ([]models.MonthlySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM monthly_summaries
		WHERE account_id = ?
		ORDER BY period_start DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	return collectSummaries(rows)
}

// FindByDateRange returns summaries observed within [start, end].
func (s *SummaryStore) FindByDateRange(ctx context.Context, start, end time.Time) ([]models.MonthlySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM monthly_summaries
		WHERE observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at
	`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	return collectSummaries(rows)
}

// AggregateByProvider sums and averages totals per provider within [start, end].
func (s *SummaryStore) AggregateByProvider(ctx context.Context, start, end time.Time) ([]models.ProviderConsumption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			CASE WHEN provider_id = '' THEN ? ELSE provider_id END AS provider,
			SUM(total_monthly_consumption),
			AVG(total_monthly_consumption)
		FROM monthly_summaries
		WHERE observed_at >= ? AND observed_at <= ?
		GROUP BY provider
		ORDER BY provider
	`, models.UnknownProvider, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("aggregate by provider: %w", err)
	}
	defer rows.Close()

	out := []models.ProviderConsumption{}
	for rows.Next() {
		var p models.ProviderConsumption
		if err := rows.Scan(&p.ProviderID, &p.TotalConsumption, &p.AverageConsumption); err != nil {
			return nil, fmt.Errorf("scan provider aggregate: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AggregateForCity sums totals and per-row per-capita values within [start, end].
func (s *SummaryStore) AggregateForCity(ctx context.Context, start, end time.Time) (models.CityConsumption, error) {
	var city models.CityConsumption
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total_monthly_consumption), 0),
			COALESCE(SUM(CASE WHEN citizen_count > 0
				THEN total_monthly_consumption / citizen_count ELSE 0 END), 0)
		FROM monthly_summaries
		WHERE observed_at >= ? AND observed_at <= ?
	`, formatTime(start), formatTime(end)).Scan(&city.TotalConsumption, &city.AverageConsumption)
	if err != nil {
		return models.CityConsumption{}, fmt.Errorf("aggregate for city: %w", err)
	}
	return city, nil
}

const monthlyAverage = `CASE WHEN COALESCE(SUM(citizen_count), 0) = 0 THEN 0
	ELSE SUM(total_monthly_consumption) / SUM(citizen_count) END`

// MonthlyAverageByProvider groups a calendar year by provider and month.
func (s *SummaryStore) MonthlyAverageByProvider(ctx context.Context, year int) ([]models.MonthlyProviderAverage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			CASE WHEN provider_id = '' THEN ? ELSE provider_id END AS provider,
			period_month,
			`+monthlyAverage+`
		FROM monthly_summaries
		WHERE period_year = ?
		GROUP BY provider, period_month
		ORDER BY provider, period_month
	`, models.UnknownProvider, year)
	if err != nil {
		return nil, fmt.Errorf("monthly average by provider: %w", err)
	}
	defer rows.Close()

	out := []models.MonthlyProviderAverage{}
	for rows.Next() {
		var m models.MonthlyProviderAverage
		if err := rows.Scan(&m.ProviderID, &m.Month, &m.AverageConsumption); err != nil {
			return nil, fmt.Errorf("scan monthly average: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MonthlyAverageForCity groups a calendar year by month.
func (s *SummaryStore) MonthlyAverageForCity(ctx context.Context, year int) ([]models.MonthlyCityAverage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_month, `+monthlyAverage+`
		FROM monthly_summaries
		WHERE period_year = ?
		GROUP BY period_month
		ORDER BY period_month
	`, year)
	if err != nil {
		return nil, fmt.Errorf("monthly average for city: %w", err)
	}
	defer rows.Close()

	out := []models.MonthlyCityAverage{}
	for rows.Next() {
		var m models.MonthlyCityAverage
		if err := rows.Scan(&m.Month, &m.AverageConsumption); err != nil {
			return nil, fmt.Errorf("scan monthly average: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (models.MonthlySummary, error) {
	var (
		s                     models.MonthlySummary
		period                string
		observedAt, updatedAt string
		perCitizen            sql.NullFloat64
		citizens              sql.NullInt64
	)
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.ProviderID,
		&period,
		&s.TotalMonthlyConsumption,
		&s.DailyAverageConsumption,
		&perCitizen,
		&s.PeakHourlyConsumption,
		&citizens,
		&s.ReadingCount,
		&s.HasManualEntry,
		&observedAt,
		&updatedAt,
	)
	if err != nil {
		return models.MonthlySummary{}, err
	}

	if s.PeriodStart, err = time.Parse(periodLayout, period); err != nil {
		return models.MonthlySummary{}, fmt.Errorf("parse period %q: %w", period, err)
	}
	if s.ObservedAt, err = parseTime(observedAt); err != nil {
		return models.MonthlySummary{}, err
	}
	if s.LastUpdated, err = parseTime(updatedAt); err != nil {
		return models.MonthlySummary{}, err
	}
	if perCitizen.Valid {
		s.AverageConsumptionPerCitizen = models.Float64Ptr(perCitizen.Float64)
	}
	if citizens.Valid {
		s.CitizenCount = models.IntPtr(int(citizens.Int64))
	}
	return s, nil
}

func collectSummaries(rows *sql.Rows) ([]models.MonthlySummary, error) {
	defer rows.Close()

	out := []models.MonthlySummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// Ensure interface compliance.
var _ store.SummaryStore = (*SummaryStore)(nil)
