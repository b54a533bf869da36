// Package memory provides in-memory implementations of the store ports.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/aggregate"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

// SummaryStore is an in-memory implementation of store.SummaryStore.
type SummaryStore struct {
	mu   sync.RWMutex
	rows map[string]models.MonthlySummary // by id
}

// NewSummaryStore creates a new in-memory summary store.
func NewSummaryStore() *SummaryStore {
	return &SummaryStore{rows: make(map[string]models.MonthlySummary)}
}

// Upsert writes a summary conditionally.
func (s *SummaryStore) Upsert(ctx context.Context, summary models.MonthlySummary, expected *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary.PeriodStart = models.PeriodOf(summary.PeriodStart)

	if expected == nil {
		for _, row := range s.rows {
			if row.AccountID == summary.AccountID && row.PeriodStart.Equal(summary.PeriodStart) {
				return fmt.Errorf("%w: summary for account %s period %s", models.ErrAlreadyExists,
					summary.AccountID, summary.PeriodStart.Format("2006-01"))
			}
		}
		if _, ok := s.rows[summary.ID]; ok {
			return fmt.Errorf("%w: summary id %s", models.ErrAlreadyExists, summary.ID)
		}
		s.rows[summary.ID] = summary
		return nil
	}

	current, ok := s.rows[summary.ID]
	if !ok {
		return fmt.Errorf("%w: summary id %s", models.ErrNotFound, summary.ID)
	}
	if !current.LastUpdated.Equal(*expected) {
		return fmt.Errorf("%w: summary %s changed since %s", models.ErrConflict, summary.ID, expected.Format(time.RFC3339Nano))
	}
	s.rows[summary.ID] = summary
	return nil
}

// LatestByAccount returns the summary with the newest period for an account.
func (s *SummaryStore) LatestByAccount(ctx context.Context, accountID string) (*models.MonthlySummary, error) {
	rows, _ := s.FindByAccount(ctx, accountID)
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[0]
	return &latest, nil
}

// FindByAccount returns an account's summaries, newest period first.
func (s *SummaryStore) FindByAccount(ctx context.Context, accountID string) ([]models.MonthlySummary, error) {
	rows := lo.Filter(s.snapshot(), func(row models.MonthlySummary, _ int) bool {
		return row.AccountID == accountID
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].PeriodStart.After(rows[j].PeriodStart) })
	return rows, nil
}

// FindByDateRange returns summaries observed within [start, end].
func (s *SummaryStore) FindByDateRange(ctx context.Context, start, end time.Time) ([]models.MonthlySummary, error) {
	window := models.TimeRange{Start: start, End: end}
	rows := lo.Filter(s.snapshot(), func(row models.MonthlySummary, _ int) bool {
		return window.Contains(row.ObservedAt)
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].ObservedAt.Before(rows[j].ObservedAt) })
	return rows, nil
}

// AggregateByProvider folds the rows observed within [start, end] by provider.
func (s *SummaryStore) AggregateByProvider(ctx context.Context, start, end time.Time) ([]models.ProviderConsumption, error) {
	rows, _ := s.FindByDateRange(ctx, start, end)
	return aggregate.ByProvider(rows), nil
}

// AggregateForCity folds the rows observed within [start, end] city-wide.
func (s *SummaryStore) AggregateForCity(ctx context.Context, start, end time.Time) (models.CityConsumption, error) {
	rows, _ := s.FindByDateRange(ctx, start, end)
	return aggregate.ForCity(rows), nil
}

// MonthlyAverageByProvider folds a calendar year by provider and month.
func (s *SummaryStore) MonthlyAverageByProvider(ctx context.Context, year int) ([]models.MonthlyProviderAverage, error) {
	return aggregate.MonthlyByProvider(s.snapshot(), year), nil
}

// MonthlyAverageForCity folds a calendar year by month.
func (s *SummaryStore) MonthlyAverageForCity(ctx context.Context, year int) ([]models.MonthlyCityAverage, error) {
	return aggregate.MonthlyForCity(s.snapshot(), year), nil
}

// All returns every stored summary (for testing).
func (s *SummaryStore) All() []models.MonthlySummary {
	return s.snapshot()
}

func (s *SummaryStore) snapshot() []models.MonthlySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.rows)
}

// Ensure interface compliance.
var _ store.SummaryStore = (*SummaryStore)(nil)
