// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

var (
	march = time.Date(2024, 3, 12, 8, 30, 0, 0, time.UTC)
	april = time.Date(2024, 4, 3, 10, 0, 0, 0, time.UTC)
)

func summary(id, account, provider string, total float64, citizens *int, observed time.Time) models.MonthlySummary {
	return models.MonthlySummary{
		ID:                      id,
		AccountID:               account,
		ProviderID:              provider,
		PeriodStart:             models.PeriodOf(observed),
		TotalMonthlyConsumption: total,
		DailyAverageConsumption: total / float64(observed.Day()),
		PeakHourlyConsumption:   1.25,
		CitizenCount:            citizens,
		ReadingCount:            3,
		ObservedAt:              observed,
		LastUpdated:             observed,
	}
}

// RunSummaryStore exercises a SummaryStore created fresh by newStore for every subtest.
func RunSummaryStore(t *testing.T, newStore func(t *testing.T) store.SummaryStore) {
	t.Run("insert and read back", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		in := summary("s1", "a1", "P1", 42.5, models.IntPtr(3), march)
		in.AverageConsumptionPerCitizen = models.Float64Ptr(14.1)
		in.HasManualEntry = true

		if err := s.Upsert(ctx, in, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := s.LatestByAccount(ctx, "a1")
		if err != nil {
			t.Fatalf("LatestByAccount: %v", err)
		}
		if got == nil {
			t.Fatal("LatestByAccount returned nil")
		}
		if got.ID != "s1" || got.ProviderID != "P1" || got.TotalMonthlyConsumption != 42.5 {
			t.Errorf("got %+v", got)
		}
		if !got.PeriodStart.Equal(models.PeriodOf(march)) || !got.ObservedAt.Equal(march) || !got.LastUpdated.Equal(march) {
			t.Errorf("timestamps = %v/%v/%v", got.PeriodStart, got.ObservedAt, got.LastUpdated)
		}
		if got.CitizenCount == nil || *got.CitizenCount != 3 {
			t.Errorf("CitizenCount = %v, want 3", got.CitizenCount)
		}
		if got.AverageConsumptionPerCitizen == nil || *got.AverageConsumptionPerCitizen != 14.1 {
			t.Errorf("AverageConsumptionPerCitizen = %v, want 14.1", got.AverageConsumptionPerCitizen)
		}
		if !got.HasManualEntry || got.ReadingCount != 3 || got.PeakHourlyConsumption != 1.25 {
			t.Errorf("flags/counters = %+v", got)
		}
	})

	t.Run("missing account", func(t *testing.T) {
		s := newStore(t)
		got, err := s.LatestByAccount(context.Background(), "nobody")
		if err != nil || got != nil {
			t.Errorf("LatestByAccount = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("nullable fields stay null", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Upsert(ctx, summary("s1", "a1", "", 1, nil, march), nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, _ := s.LatestByAccount(ctx, "a1")
		if got.CitizenCount != nil || got.AverageConsumptionPerCitizen != nil {
			t.Errorf("nullable fields = %v/%v, want nil", got.CitizenCount, got.AverageConsumptionPerCitizen)
		}
	})

	t.Run("one row per account and month", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Upsert(ctx, summary("s1", "a1", "P1", 1, nil, march), nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		err := s.Upsert(ctx, summary("s2", "a1", "P1", 2, nil, march.Add(48*time.Hour)), nil)
		if !errors.Is(err, models.ErrAlreadyExists) {
			t.Fatalf("second insert error = %v, want ErrAlreadyExists", err)
		}
		if err := s.Upsert(ctx, summary("s3", "a1", "P1", 3, nil, april), nil); err != nil {
			t.Fatalf("next month insert: %v", err)
		}
	})

	t.Run("conditional update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		row := summary("s1", "a1", "P1", 10, nil, march)
		if err := s.Upsert(ctx, row, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		stale := march.Add(-time.Second)
		next := row
		next.TotalMonthlyConsumption = 20
		next.LastUpdated = march.Add(time.Minute)
		if err := s.Upsert(ctx, next, &stale); !errors.Is(err, models.ErrConflict) {
			t.Fatalf("stale update error = %v, want ErrConflict", err)
		}

		expected := row.LastUpdated
		if err := s.Upsert(ctx, next, &expected); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, _ := s.LatestByAccount(ctx, "a1")
		if got.TotalMonthlyConsumption != 20 || !got.LastUpdated.Equal(next.LastUpdated) {
			t.Errorf("after update = %+v", got)
		}

		missing := summary("nope", "a9", "P1", 1, nil, march)
		if err := s.Upsert(ctx, missing, &expected); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("update of missing id error = %v, want ErrNotFound", err)
		}
	})

	t.Run("history newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, row := range []models.MonthlySummary{
			summary("s1", "a1", "P1", 1, nil, march),
			summary("s2", "a1", "P1", 2, nil, april),
			summary("s3", "a2", "P1", 3, nil, april),
		} {
			if err := s.Upsert(ctx, row, nil); err != nil {
				t.Fatalf("Upsert %s: %v", row.ID, err)
			}
		}

		rows, err := s.FindByAccount(ctx, "a1")
		if err != nil {
			t.Fatalf("FindByAccount: %v", err)
		}
		if len(rows) != 2 || rows[0].ID != "s2" || rows[1].ID != "s1" {
			t.Errorf("FindByAccount = %+v, want s2, s1", rows)
		}
		latest, _ := s.LatestByAccount(ctx, "a1")
		if latest.ID != "s2" {
			t.Errorf("LatestByAccount = %s, want s2", latest.ID)
		}
	})

	t.Run("date range is inclusive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, row := range []models.MonthlySummary{
			summary("s1", "a1", "P1", 1, nil, march),
			summary("s2", "a2", "P1", 2, nil, march.Add(time.Hour)),
			summary("s3", "a3", "P1", 3, nil, april),
		} {
			if err := s.Upsert(ctx, row, nil); err != nil {
				t.Fatalf("Upsert %s: %v", row.ID, err)
			}
		}

		rows, err := s.FindByDateRange(ctx, march, march.Add(time.Hour))
		if err != nil {
			t.Fatalf("FindByDateRange: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("FindByDateRange returned %d rows, want 2", len(rows))
		}
	})

	t.Run("aggregates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, row := range []models.MonthlySummary{
			summary("s1", "a1", "P1", 100, models.IntPtr(10), march),
			summary("s2", "a2", "P1", 50, models.IntPtr(5), march.Add(time.Hour)),
			summary("s3", "a3", "P2", 200, models.IntPtr(20), march.Add(2*time.Hour)),
			summary("s4", "a4", "", 30, nil, march.Add(3*time.Hour)),
			summary("s5", "a5", "P1", 80, models.IntPtr(8), april),
		} {
			if err := s.Upsert(ctx, row, nil); err != nil {
				t.Fatalf("Upsert %s: %v", row.ID, err)
			}
		}
		start, end := models.PeriodOf(march), models.PeriodOf(april).Add(-time.Nanosecond)

		providers, err := s.AggregateByProvider(ctx, start, end)
		if err != nil {
			t.Fatalf("AggregateByProvider: %v", err)
		}
		wantProviders := map[string]models.ProviderConsumption{
			"P1":                   {ProviderID: "P1", TotalConsumption: 150, AverageConsumption: 75},
			"P2":                   {ProviderID: "P2", TotalConsumption: 200, AverageConsumption: 200},
			models.UnknownProvider: {ProviderID: models.UnknownProvider, TotalConsumption: 30, AverageConsumption: 30},
		}
		if len(providers) != len(wantProviders) {
			t.Fatalf("AggregateByProvider = %+v", providers)
		}
		for _, p := range providers {
			if !approx(p.TotalConsumption, wantProviders[p.ProviderID].TotalConsumption) ||
				!approx(p.AverageConsumption, wantProviders[p.ProviderID].AverageConsumption) {
				t.Errorf("provider %s = %+v, want %+v", p.ProviderID, p, wantProviders[p.ProviderID])
			}
		}

		city, err := s.AggregateForCity(ctx, start, end)
		if err != nil {
			t.Fatalf("AggregateForCity: %v", err)
		}
		if !approx(city.TotalConsumption, 380) || !approx(city.AverageConsumption, 30) {
			t.Errorf("AggregateForCity = %+v, want 380/30", city)
		}

		monthly, err := s.MonthlyAverageByProvider(ctx, 2024)
		if err != nil {
			t.Fatalf("MonthlyAverageByProvider: %v", err)
		}
		found := false
		for _, m := range monthly {
			if m.ProviderID == "P1" && m.Month == 3 {
				found = true
				if !approx(m.AverageConsumption, 10) {
					t.Errorf("P1 March average = %v, want 10", m.AverageConsumption)
				}
			}
			if m.ProviderID == models.UnknownProvider && m.AverageConsumption != 0 {
				t.Errorf("Unknown average = %v, want 0 without citizens", m.AverageConsumption)
			}
		}
		if !found || len(monthly) != 4 {
			t.Errorf("MonthlyAverageByProvider = %+v, want 4 entries including P1/3", monthly)
		}

		cityMonthly, err := s.MonthlyAverageForCity(ctx, 2024)
		if err != nil {
			t.Fatalf("MonthlyAverageForCity: %v", err)
		}
		if len(cityMonthly) != 2 || cityMonthly[0].Month != 3 || !approx(cityMonthly[0].AverageConsumption, 380.0/35) ||
			cityMonthly[1].Month != 4 || !approx(cityMonthly[1].AverageConsumption, 10) {
			t.Errorf("MonthlyAverageForCity = %+v", cityMonthly)
		}

		none, err := s.MonthlyAverageForCity(ctx, 2023)
		if err != nil || len(none) != 0 {
			t.Errorf("MonthlyAverageForCity(2023) = %+v, %v; want empty", none, err)
		}
	})
}

// RunReadingIndex exercises a ReadingIndex created fresh by newIndex for every subtest.
func RunReadingIndex(t *testing.T, newIndex func(t *testing.T) store.ReadingIndex) {
	t.Run("compare and set", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()

		got, err := idx.Get(ctx, "a1")
		if err != nil || got != nil {
			t.Fatalf("Get on empty index = %v, %v", got, err)
		}

		first := models.Reading{AccountID: "a1", ProviderID: "P1", CumulativeConsumption: 10, Timestamp: march}
		if err := idx.CompareAndSet(ctx, "a1", nil, first); err != nil {
			t.Fatalf("initial CompareAndSet: %v", err)
		}
		if err := idx.CompareAndSet(ctx, "a1", nil, first); !errors.Is(err, models.ErrConflict) {
			t.Fatalf("second nil CompareAndSet error = %v, want ErrConflict", err)
		}

		second := first
		second.CumulativeConsumption = 11
		second.Timestamp = march.Add(time.Hour)
		if err := idx.CompareAndSet(ctx, "a1", &first, second); err != nil {
			t.Fatalf("CompareAndSet: %v", err)
		}
		if err := idx.CompareAndSet(ctx, "a1", &first, second); !errors.Is(err, models.ErrConflict) {
			t.Fatalf("stale CompareAndSet error = %v, want ErrConflict", err)
		}

		got, err = idx.Get(ctx, "a1")
		if err != nil || got == nil {
			t.Fatalf("Get = %v, %v", got, err)
		}
		if got.CumulativeConsumption != 11 || !got.Timestamp.Equal(second.Timestamp) || got.ProviderID != "P1" {
			t.Errorf("Get = %+v, want %+v", got, second)
		}
	})
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
