package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/aggregate"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/api"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/clock"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/ingest"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/period"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/processor"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store/memory"
)

var now = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	accounts  map[string]models.Snapshot
	providers map[string][]models.Snapshot
}

func (f *fakeFetcher) FetchSnapshot(_ context.Context, accountID string) (models.Snapshot, error) {
	snap, ok := f.accounts[accountID]
	if !ok {
		return models.Snapshot{}, fmt.Errorf("fetch snapshot for %s: %w", accountID, models.ErrNotFound)
	}
	snap.AccountID = accountID
	return snap, nil
}

func (f *fakeFetcher) FetchProviderSnapshots(_ context.Context, providerID string) ([]models.Snapshot, error) {
	return f.providers[providerID], nil
}

func newTestServer(t *testing.T, fetcher *fakeFetcher) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	clk := clock.NewFake(now)
	st := memory.NewSummaryStore()

	resolver := period.NewResolver(st, clk, zerolog.Nop(), period.WithMetrics(m))
	proc := processor.NewProcessor(
		ingest.NewIngestor(memory.NewReadingIndex(), zerolog.Nop()),
		resolver,
		config.ProcessorConfig{WorkerCount: 2, QueueSize: 16},
		zerolog.Nop(),
		processor.WithMetrics(m),
	)
	t.Cleanup(proc.Stop)

	deps := api.Deps{
		Processor:  proc,
		Resolver:   resolver,
		Aggregator: aggregate.New(st, clk),
		Metrics:    m,
		Gatherer:   reg,
	}
	if fetcher != nil {
		deps.Fetcher = fetcher
	}
	return api.NewServer(config.HTTPConfig{Addr: ":0"}, deps, zerolog.Nop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

func snapshot(total float64, day int) models.Snapshot {
	return models.Snapshot{
		ProviderID:                   "P1",
		TotalMonthlyConsumption:      total,
		DailyAverageConsumption:      total / float64(day),
		AverageConsumptionPerCitizen: models.Float64Ptr(total / 2),
		CitizenCount:                 models.IntPtr(2),
		ObservedAt:                   time.Date(2024, 3, day, 9, 0, 0, 0, time.UTC),
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, nil)

	expectStatus(t, do(t, h, http.MethodGet, "/healthz", nil), http.StatusOK)
	expectStatus(t, do(t, h, http.MethodGet, "/api/v1/accounts/a1/summary", nil), http.StatusNotFound)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `smartgrid_http_requests_total{method="GET",route="/api/v1/accounts/{accountID}/summary",status="4xx"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", rec.Body.String())
	}
}

func TestPostReadings_Single(t *testing.T) {
	h := newTestServer(t, nil)

	first := models.Reading{AccountID: "a1", ProviderID: "P1", CumulativeConsumption: 10, Timestamp: now.Add(-2 * time.Hour)}
	rec := do(t, h, http.MethodPost, "/api/v1/readings", first)
	expectStatus(t, rec, http.StatusOK)
	resp := decode[api.SummaryResponse](t, rec)
	if resp.Action != "created" || resp.State != period.NoRecord.String() {
		t.Errorf("response = %+v, want created from no record", resp)
	}

	second := first
	second.CumulativeConsumption = 12.5
	second.Timestamp = now.Add(-time.Hour)
	resp = decode[api.SummaryResponse](t, do(t, h, http.MethodPost, "/api/v1/readings", second))
	if resp.Action != "updated" || resp.Summary.TotalMonthlyConsumption != 2.5 {
		t.Errorf("response = %+v, want updated with total 2.5", resp)
	}

	stale := first
	stale.CumulativeConsumption = 11
	stale.Timestamp = now
	rec = do(t, h, http.MethodPost, "/api/v1/readings", stale)
	expectStatus(t, rec, http.StatusConflict)
	body := decode[api.ErrorResponse](t, rec)
	if body.Code != "stale_reading" || body.Last == nil || *body.Last != 12.5 || body.Provided == nil || *body.Provided != 11 {
		t.Errorf("error body = %+v", body)
	}
}

func TestPostReadings_Batch(t *testing.T) {
	h := newTestServer(t, nil)

	readings := []models.Reading{
		{AccountID: "a1", CumulativeConsumption: 10, Timestamp: now.Add(-2 * time.Hour)},
		{AccountID: "a1", CumulativeConsumption: 12, Timestamp: now.Add(-time.Hour)},
		{AccountID: "a2", CumulativeConsumption: -1, Timestamp: now},
	}
	rec := do(t, h, http.MethodPost, "/api/v1/readings", readings)
	expectStatus(t, rec, http.StatusOK)

	resp := decode[api.BatchResponse](t, rec)
	if resp.Created != 1 || resp.Updated != 1 || resp.Failed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/1", resp.Created, resp.Updated, resp.Failed)
	}
	if resp.Results[2].Error == nil || resp.Results[2].Error.Code != "validation" {
		t.Errorf("third result = %+v, want validation error", resp.Results[2])
	}
}

func TestPostReadings_BadBody(t *testing.T) {
	h := newTestServer(t, nil)

	for _, body := range []string{"", "{not json", "[1, 2]"} {
		rec := do(t, h, http.MethodPost, "/api/v1/readings", body)
		expectStatus(t, rec, http.StatusBadRequest)
	}
}

func TestResolveAccount(t *testing.T) {
	fetcher := &fakeFetcher{accounts: map[string]models.Snapshot{"a1": snapshot(100, 15)}}
	h := newTestServer(t, fetcher)

	rec := do(t, h, http.MethodPost, "/api/v1/accounts/a1/summary", nil)
	expectStatus(t, rec, http.StatusCreated)
	created := decode[api.SummaryResponse](t, rec)
	if created.Summary.TotalMonthlyConsumption != 100 || !created.Summary.PeriodStart.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("created summary = %+v", created.Summary)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/accounts/a1/summary", nil)
	expectStatus(t, rec, http.StatusConflict)
	if code := decode[api.ErrorResponse](t, rec).Code; code != "already_exists" {
		t.Errorf("code = %q, want already_exists", code)
	}

	fetcher.accounts["a1"] = snapshot(150, 18)
	rec = do(t, h, http.MethodPut, "/api/v1/accounts/a1/summary", nil)
	expectStatus(t, rec, http.StatusOK)
	updated := decode[api.SummaryResponse](t, rec)
	if updated.Summary.ID != created.Summary.ID || updated.Summary.TotalMonthlyConsumption != 150 {
		t.Errorf("updated summary = %+v, want same row with total 150", updated.Summary)
	}

	rec = do(t, h, http.MethodPut, "/api/v1/accounts/a1/summary", snapshot(50, 19))
	expectStatus(t, rec, http.StatusConflict)

	older := snapshot(10, 1)
	older.ObservedAt = time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	rec = do(t, h, http.MethodPut, "/api/v1/accounts/a1/summary", older)
	expectStatus(t, rec, http.StatusConflict)
	if code := decode[api.ErrorResponse](t, rec).Code; code != "duplicate_period" {
		t.Errorf("code = %q, want duplicate_period", code)
	}

	expectStatus(t, do(t, h, http.MethodPut, "/api/v1/accounts/zz/summary", nil), http.StatusNotFound)

	mismatched := snapshot(10, 1)
	mismatched.AccountID = "other"
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/accounts/a2/summary", mismatched), http.StatusBadRequest)
}

func TestResolveAccount_NoFetcher(t *testing.T) {
	h := newTestServer(t, nil)

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/accounts/a1/summary", nil), http.StatusServiceUnavailable)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/accounts/a1/summary", snapshot(5, 2)), http.StatusCreated)
	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/providers/P1/summaries/sync", nil), http.StatusServiceUnavailable)
}

func TestSyncProvider(t *testing.T) {
	good := snapshot(100, 15)
	good.AccountID = "a1"
	other := snapshot(40, 15)
	other.AccountID = "a2"
	other.CitizenCount = models.IntPtr(4)
	other.AverageConsumptionPerCitizen = models.Float64Ptr(10)
	broken := snapshot(10, 15)
	broken.AccountID = "a3"
	broken.ObservedAt = time.Time{}

	fetcher := &fakeFetcher{providers: map[string][]models.Snapshot{"P1": {good, other, broken}}}
	h := newTestServer(t, fetcher)

	rec := do(t, h, http.MethodPost, "/api/v1/providers/P1/summaries/sync", nil)
	expectStatus(t, rec, http.StatusOK)
	resp := decode[api.BatchResponse](t, rec)
	if resp.Created != 2 || resp.Updated != 0 || resp.Failed != 1 {
		t.Fatalf("first sync = %d/%d/%d, want 2/0/1", resp.Created, resp.Updated, resp.Failed)
	}

	resp = decode[api.BatchResponse](t, do(t, h, http.MethodPost, "/api/v1/providers/P1/summaries/sync", nil))
	if resp.Created != 0 || resp.Updated != 2 || resp.Failed != 1 {
		t.Errorf("second sync = %d/%d/%d, want 0/2/1", resp.Created, resp.Updated, resp.Failed)
	}

	expectStatus(t, do(t, h, http.MethodPost, "/api/v1/providers/P9/summaries/sync", nil), http.StatusNotFound)

	t.Run("queries", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/accounts/a1/summary", nil)
		expectStatus(t, rec, http.StatusOK)
		if s := decode[models.MonthlySummary](t, rec); s.TotalMonthlyConsumption != 100 {
			t.Errorf("latest = %+v", s)
		}

		rec = do(t, h, http.MethodGet, "/api/v1/accounts/a1/summaries", nil)
		expectStatus(t, rec, http.StatusOK)
		if rows := decode[[]models.MonthlySummary](t, rec); len(rows) != 1 {
			t.Errorf("history = %d rows, want 1", len(rows))
		}

		rec = do(t, h, http.MethodGet, "/api/v1/summaries?range=LAST_7_DAYS&provider=P1", nil)
		expectStatus(t, rec, http.StatusOK)
		if rows := decode[[]models.MonthlySummary](t, rec); len(rows) != 2 {
			t.Errorf("summaries = %d rows, want 2", len(rows))
		}

		rec = do(t, h, http.MethodGet, "/api/v1/aggregates/providers?start=2024-03-01T00:00:00Z&end=2024-03-20T00:00:00Z", nil)
		expectStatus(t, rec, http.StatusOK)
		providers := decode[[]models.ProviderConsumption](t, rec)
		if len(providers) != 1 || providers[0].TotalConsumption != 140 {
			t.Errorf("providers = %+v, want P1 total 140", providers)
		}

		rec = do(t, h, http.MethodGet, "/api/v1/aggregates/city?range=LAST_30_DAYS", nil)
		expectStatus(t, rec, http.StatusOK)
		if city := decode[models.CityConsumption](t, rec); city.TotalConsumption != 140 || city.AverageConsumption != 60 {
			t.Errorf("city = %+v, want total 140 average 60", city)
		}

		rec = do(t, h, http.MethodGet, "/api/v1/aggregates/city/monthly?year=2024", nil)
		expectStatus(t, rec, http.StatusOK)
		if months := decode[[]models.MonthlyCityAverage](t, rec); len(months) != 1 || months[0].Month != 3 {
			t.Errorf("city monthly = %+v", months)
		}

		rec = do(t, h, http.MethodGet, "/api/v1/aggregates/providers/monthly?year=2024", nil)
		expectStatus(t, rec, http.StatusOK)
		if months := decode[[]models.MonthlyProviderAverage](t, rec); len(months) != 1 || months[0].ProviderID != "P1" {
			t.Errorf("provider monthly = %+v", months)
		}

		rec = do(t, h, http.MethodGet, "/api/v1/providers/P1/snapshot", nil)
		expectStatus(t, rec, http.StatusOK)
		if snap := decode[models.Snapshot](t, rec); snap.CitizenCount == nil || *snap.CitizenCount != 2 || snap.TotalMonthlyConsumption != 140 {
			t.Errorf("provider snapshot = %+v", snap)
		}
	})
}

func TestQueryValidation(t *testing.T) {
	h := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		want int
		code string
	}{
		{"unknown range", "/api/v1/aggregates/providers?range=LAST_YEAR", http.StatusBadRequest, "invalid_time_range"},
		{"missing window", "/api/v1/aggregates/city", http.StatusBadRequest, "invalid_time_range"},
		{"missing end", "/api/v1/summaries?start=2024-03-01T00:00:00Z", http.StatusBadRequest, "invalid_time_range"},
		{"bad timestamp", "/api/v1/summaries?start=yesterday&end=2024-03-01T00:00:00Z", http.StatusBadRequest, "invalid_time_range"},
		{"inverted window", "/api/v1/aggregates/city?start=2024-03-10T00:00:00Z&end=2024-03-01T00:00:00Z", http.StatusBadRequest, "invalid_time_range"},
		{"year too early", "/api/v1/aggregates/city/monthly?year=1899", http.StatusBadRequest, "invalid_year"},
		{"future year", "/api/v1/aggregates/providers/monthly?year=2025", http.StatusBadRequest, "invalid_year"},
		{"non-numeric year", "/api/v1/aggregates/city/monthly?year=abc", http.StatusBadRequest, "invalid_year"},
		{"missing year", "/api/v1/aggregates/city/monthly", http.StatusBadRequest, "invalid_year"},
		{"unknown account", "/api/v1/accounts/nobody/summaries", http.StatusNotFound, "not_found"},
		{"empty provider", "/api/v1/providers/P1/snapshot", http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, nil)
			expectStatus(t, rec, tt.want)
			if code := decode[api.ErrorResponse](t, rec).Code; code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestEmptyResultsAreArrays(t *testing.T) {
	h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/aggregates/providers?range=LAST_24_HOURS", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}
