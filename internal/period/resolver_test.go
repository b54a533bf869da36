package period_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/clock"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/period"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store/memory"
)

var march = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func snapshot(account string, total float64, observed time.Time) models.Snapshot {
	return models.Snapshot{
		AccountID:               account,
		ProviderID:              "P1",
		TotalMonthlyConsumption: total,
		DailyAverageConsumption: total / float64(observed.Day()),
		CitizenCount:            models.IntPtr(4),
		ObservedAt:              observed,
	}
}

func newResolver(t *testing.T) (*period.Resolver, *memory.SummaryStore, *clock.Fake) {
	t.Helper()
	st := memory.NewSummaryStore()
	clk := clock.NewFake(march)
	seq := 0
	r := period.NewResolver(st, clk, zerolog.Nop(), period.WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("sum-%d", seq)
	}))
	return r, st, clk
}

func TestClassify(t *testing.T) {
	latest := &models.MonthlySummary{AccountID: "a1", PeriodStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}

	tests := []struct {
		name    string
		latest  *models.MonthlySummary
		at      time.Time
		want    period.State
		wantErr error
	}{
		{"no record", nil, march, period.NoRecord, nil},
		{"same month", latest, march, period.SameMonth, nil},
		{"last instant of month", latest, time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC), period.SameMonth, nil},
		{"next month", latest, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), period.NewMonth, nil},
		{"next year", latest, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), period.NewMonth, nil},
		{"older month", latest, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), 0, models.ErrDuplicatePeriod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := period.Classify(tt.latest, tt.at)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Classify error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_IntentMatrix(t *testing.T) {
	april := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		seed       bool
		intent     period.Intent
		observed   time.Time
		wantAction period.Action
		wantErr    error
	}{
		{"create without record", false, period.IntentCreate, march, period.ActionCreated, nil},
		{"update without record", false, period.IntentUpdate, march, "", models.ErrNotFound},
		{"sync without record", false, period.IntentSync, march, period.ActionCreated, nil},
		{"create same month", true, period.IntentCreate, march, "", models.ErrAlreadyExists},
		{"update same month", true, period.IntentUpdate, march, period.ActionUpdated, nil},
		{"sync same month", true, period.IntentSync, march, period.ActionUpdated, nil},
		{"create new month", true, period.IntentCreate, april, period.ActionCreated, nil},
		{"update new month", true, period.IntentUpdate, april, "", models.ErrNotFound},
		{"sync new month", true, period.IntentSync, april, period.ActionCreated, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newResolver(t)
			ctx := context.Background()
			if tt.seed {
				if _, err := r.Resolve(ctx, period.IntentCreate, snapshot("a1", 10, march.Add(-time.Hour))); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			out, err := r.Resolve(ctx, tt.intent, snapshot("a1", 20, tt.observed))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if out.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", out.Action, tt.wantAction)
			}
			if out.Summary.TotalMonthlyConsumption != 20 {
				t.Errorf("Total = %v, want 20", out.Summary.TotalMonthlyConsumption)
			}
		})
	}
}

func TestResolve_SameMonthIsIdempotent(t *testing.T) {
	r, st, clk := newResolver(t)
	ctx := context.Background()
	snap := snapshot("a1", 120, march)

	first, err := r.Resolve(ctx, period.IntentSync, snap)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	clk.Advance(time.Minute)
	second, err := r.Resolve(ctx, period.IntentSync, snap)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if second.Summary.ID != first.Summary.ID {
		t.Errorf("ID changed from %s to %s", first.Summary.ID, second.Summary.ID)
	}
	if !second.Summary.LastUpdated.After(first.Summary.LastUpdated) {
		t.Errorf("LastUpdated = %v, want after %v", second.Summary.LastUpdated, first.Summary.LastUpdated)
	}
	if n := len(st.All()); n != 1 {
		t.Fatalf("stored rows = %d, want 1", n)
	}
	got := st.All()[0]
	if got.TotalMonthlyConsumption != 120 || *got.CitizenCount != 4 {
		t.Errorf("stored = %+v, statistics must match the snapshot", got)
	}
}

func TestResolve_NewMonthKeepsHistory(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, period.IntentSync, snapshot("a1", 300, march)); err != nil {
		t.Fatalf("march: %v", err)
	}
	out, err := r.Resolve(ctx, period.IntentSync, snapshot("a1", 12, time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("april: %v", err)
	}
	if out.State != period.NewMonth {
		t.Errorf("State = %v, want NewMonth", out.State)
	}

	rows, _ := st.FindByAccount(ctx, "a1")
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[1].TotalMonthlyConsumption != 300 {
		t.Errorf("march total = %v, want untouched 300", rows[1].TotalMonthlyConsumption)
	}
}

func TestResolve_OlderMonthRejected(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, period.IntentSync, snapshot("a1", 50, march)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, intent := range []period.Intent{period.IntentCreate, period.IntentUpdate, period.IntentSync} {
		_, err := r.Resolve(ctx, intent, snapshot("a1", 60, time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)))
		if !errors.Is(err, models.ErrDuplicatePeriod) {
			t.Errorf("%v: error = %v, want ErrDuplicatePeriod", intent, err)
		}
	}
	if n := len(st.All()); n != 1 {
		t.Errorf("stored rows = %d, want 1", n)
	}
}

func TestResolve_DecreasingTotalRejected(t *testing.T) {
	r, _, _ := newResolver(t)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, period.IntentSync, snapshot("a1", 50, march)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := r.Resolve(ctx, period.IntentUpdate, snapshot("a1", 40, march))
	if !errors.Is(err, models.ErrStaleReading) {
		t.Fatalf("error = %v, want ErrStaleReading", err)
	}
}

func TestResolve_Validation(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()

	tests := []struct {
		name string
		snap models.Snapshot
	}{
		{"missing account", snapshot("", 1, march)},
		{"missing date", snapshot("a1", 1, time.Time{})},
		{"negative total", snapshot("a1", -1, march)},
		{"NaN total", snapshot("a1", math.NaN(), march)},
		{"infinite total", snapshot("a1", math.Inf(1), march)},
		{"negative citizens", withSnapshot(snapshot("a1", 50, march), func(s *models.Snapshot) { s.CitizenCount = models.IntPtr(-10) })},
		{"negative daily average", withSnapshot(snapshot("a1", 50, march), func(s *models.Snapshot) { s.DailyAverageConsumption = -1 })},
		{"NaN peak", withSnapshot(snapshot("a1", 50, march), func(s *models.Snapshot) { s.PeakHourlyConsumption = math.NaN() })},
		{"negative per-citizen average", withSnapshot(snapshot("a1", 50, march), func(s *models.Snapshot) {
			s.AverageConsumptionPerCitizen = models.Float64Ptr(-5)
		})},
		{"negative reading count", withSnapshot(snapshot("a1", 50, march), func(s *models.Snapshot) { s.ReadingCount = -1 })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Resolve(ctx, period.IntentSync, tt.snap); !errors.Is(err, models.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
	if n := len(st.All()); n != 0 {
		t.Errorf("stored rows = %d, want none", n)
	}
}

func TestResolve_ZeroCitizensAccepted(t *testing.T) {
	r, _, _ := newResolver(t)
	snap := snapshot("a1", 50, march)
	snap.CitizenCount = models.IntPtr(0)

	if _, err := r.Resolve(context.Background(), period.IntentSync, snap); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestResolve_EarlierObservationRejected(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()
	latest := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	if _, err := r.Resolve(ctx, period.IntentSync, snapshot("a1", 80, latest)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for _, intent := range []period.Intent{period.IntentUpdate, period.IntentSync} {
		_, err := r.Resolve(ctx, intent, snapshot("a1", 80, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
		if !errors.Is(err, models.ErrStaleReading) {
			t.Errorf("%v: error = %v, want ErrStaleReading", intent, err)
		}
	}

	got, err := st.LatestByAccount(ctx, "a1")
	if err != nil || got == nil {
		t.Fatalf("LatestByAccount = %v, %v", got, err)
	}
	if !got.ObservedAt.Equal(latest) {
		t.Errorf("ObservedAt = %v, want unchanged %v", got.ObservedAt, latest)
	}

	if _, err := r.Resolve(ctx, period.IntentSync, snapshot("a1", 80, latest)); err != nil {
		t.Errorf("same observation again: %v", err)
	}
}

func withSnapshot(s models.Snapshot, mutate func(*models.Snapshot)) models.Snapshot {
	mutate(&s)
	return s
}

func TestResolveWith_BuildSeesLatest(t *testing.T) {
	r, _, _ := newResolver(t)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, period.IntentSync, snapshot("a1", 10, march)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := r.ResolveWith(ctx, period.IntentSync, "a1", func(latest *models.MonthlySummary) (models.Snapshot, error) {
		if latest == nil {
			return models.Snapshot{}, errors.New("latest not passed to build")
		}
		s := snapshot("a1", latest.TotalMonthlyConsumption+5, march.Add(time.Hour))
		return s, nil
	})
	if err != nil {
		t.Fatalf("ResolveWith: %v", err)
	}
	if out.Summary.TotalMonthlyConsumption != 15 {
		t.Errorf("Total = %v, want 15", out.Summary.TotalMonthlyConsumption)
	}
}

func TestResolveBatch_IsolatesFailures(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, period.IntentSync, snapshot("a2", 100, march)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	results := r.ResolveBatch(ctx, []models.Snapshot{
		snapshot("a1", 10, march),
		snapshot("a2", 20, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)),
		snapshot("", 5, march),
		snapshot("a3", 30, march),
	})

	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	wantErr := []error{nil, models.ErrDuplicatePeriod, models.ErrValidation, nil}
	for i, res := range results {
		if wantErr[i] == nil && res.Err != nil {
			t.Errorf("result %d: unexpected error %v", i, res.Err)
		}
		if wantErr[i] != nil && !errors.Is(res.Err, wantErr[i]) {
			t.Errorf("result %d: error = %v, want %v", i, res.Err, wantErr[i])
		}
	}
	if n := len(st.All()); n != 3 {
		t.Errorf("stored rows = %d, want 3", n)
	}
}

func TestResolve_ConcurrentSyncsKeepOneRowPerMonth(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Resolve(ctx, period.IntentSync, snapshot("a1", float64(i), march))
		}(i)
	}
	wg.Wait()

	if n := len(st.All()); n != 1 {
		t.Fatalf("stored rows = %d, want exactly 1", n)
	}
}

func TestResolve_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	r := period.NewResolver(memory.NewSummaryStore(), clock.NewFake(march), zerolog.Nop(), period.WithMetrics(m))
	ctx := context.Background()

	_, _ = r.Resolve(ctx, period.IntentCreate, snapshot("a1", 1, march))
	_, _ = r.Resolve(ctx, period.IntentCreate, snapshot("a1", 2, march))
	_, _ = r.Resolve(ctx, period.IntentUpdate, snapshot("a1", 3, march))

	if got := testutil.ToFloat64(m.SummaryWrites.WithLabelValues("created")); got != 1 {
		t.Errorf("created = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SummaryWrites.WithLabelValues("updated")); got != 1 {
		t.Errorf("updated = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReadingRejections.WithLabelValues("already_exists")); got != 1 {
		t.Errorf("already_exists = %v, want 1", got)
	}
}
