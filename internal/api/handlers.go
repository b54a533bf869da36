package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/period"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/processor"
)

const maxBodyBytes = 4 << 20

// ErrNoFetcher is returned by the fetch-backed endpoints when no provider API is configured
var ErrNoFetcher = errors.New("provider fetch is not configured")

// SummaryResponse reports the effect of a resolved snapshot or reading
type SummaryResponse struct {
	State   string                `json:"state"`
	Action  string                `json:"action"`
	Summary models.MonthlySummary `json:"summary"`
}

// ItemResult is one entry of a batch response
type ItemResult struct {
	AccountID string                 `json:"accountId"`
	Action    string                 `json:"action,omitempty"`
	Summary   *models.MonthlySummary `json:"summary,omitempty"`
	Error     *ErrorResponse         `json:"error,omitempty"`
}

// BatchResponse reports per-item outcomes of a batch
type BatchResponse struct {
	Created int          `json:"created"`
	Updated int          `json:"updated"`
	Failed  int          `json:"failed"`
	Results []ItemResult `json:"results"`
}

func (b *BatchResponse) add(accountID string, outcome period.Outcome, err error) {
	item := ItemResult{AccountID: accountID}
	switch {
	case err != nil:
		b.Failed++
		e := errorBody(err)
		item.Error = &e
	case outcome.Action == period.ActionCreated:
		b.Created++
	default:
		b.Updated++
	}
	if err == nil {
		item.Action = string(outcome.Action)
		summary := outcome.Summary
		item.Summary = &summary
	}
	b.Results = append(b.Results, item)
}

func newSummaryResponse(o period.Outcome) SummaryResponse {
	return SummaryResponse{State: o.State.String(), Action: string(o.Action), Summary: o.Summary}
}

// postReadings accepts a single reading object or an array of readings
func (s *Server) postReadings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, models.Validationf("read body: %v", err))
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		s.writeError(w, r, models.Validationf("request body is required"))
		return
	}

	if body[0] != '[' {
		var reading models.Reading
		if err := json.Unmarshal(body, &reading); err != nil {
			s.writeError(w, r, models.Validationf("invalid reading: %v", err))
			return
		}
		outcome, err := s.deps.Processor.Process(r.Context(), reading)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSummaryResponse(outcome))
		return
	}

	var readings []models.Reading
	if err := json.Unmarshal(body, &readings); err != nil {
		s.writeError(w, r, models.Validationf("invalid readings: %v", err))
		return
	}

	resp := BatchResponse{Results: make([]ItemResult, 0, len(readings))}
	for _, res := range s.deps.Processor.ProcessBatch(r.Context(), readings) {
		if errors.Is(res.Err, processor.ErrStopped) {
			s.writeError(w, r, res.Err)
			return
		}
		resp.add(res.Reading.AccountID, res.Outcome, res.Err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveAccount is the create or update entry point. The snapshot comes from
// the request body when one is sent, otherwise from the provider API.
func (s *Server) resolveAccount(intent period.Intent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "accountID")

		snap, err := s.snapshotFor(r, accountID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		outcome, err := s.deps.Resolver.Resolve(r.Context(), intent, snap)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		status := http.StatusOK
		if outcome.Action == period.ActionCreated {
			status = http.StatusCreated
		}
		writeJSON(w, status, newSummaryResponse(outcome))
	}
}

func (s *Server) snapshotFor(r *http.Request, accountID string) (models.Snapshot, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return models.Snapshot{}, models.Validationf("read body: %v", err)
	}

	if body = bytes.TrimSpace(body); len(body) > 0 {
		var snap models.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return models.Snapshot{}, models.Validationf("invalid snapshot: %v", err)
		}
		if snap.AccountID != "" && snap.AccountID != accountID {
			return models.Snapshot{}, models.Validationf("snapshot accountId %q does not match path %q", snap.AccountID, accountID)
		}
		snap.AccountID = accountID
		return snap, nil
	}

	if s.deps.Fetcher == nil {
		return models.Snapshot{}, ErrNoFetcher
	}
	return s.deps.Fetcher.FetchSnapshot(r.Context(), accountID)
}

// syncProvider fetches every account of a provider and applies each under sync intent
func (s *Server) syncProvider(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	if s.deps.Fetcher == nil {
		s.writeError(w, r, ErrNoFetcher)
		return
	}

	snaps, err := s.deps.Fetcher.FetchProviderSnapshots(r.Context(), providerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(snaps) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: provider %s returned no accounts", models.ErrNotFound, providerID))
		return
	}

	resp := BatchResponse{Results: make([]ItemResult, 0, len(snaps))}
	for _, res := range s.deps.Resolver.ResolveBatch(r.Context(), snaps) {
		resp.add(res.AccountID, res.Outcome, res.Err)
	}
	s.logger.Info().
		Str("provider_id", providerID).
		Int("created", resp.Created).
		Int("updated", resp.Updated).
		Int("failed", resp.Failed).
		Msg("provider sync finished")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLatestSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Aggregator.Latest(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) getAccountHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Aggregator.History(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getProviderSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Aggregator.ProviderSnapshot(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getSummaries(w http.ResponseWriter, r *http.Request) {
	tr, err := s.timeRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.deps.Aggregator.SummariesInRange(r.Context(), tr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if provider := r.URL.Query().Get("provider"); provider != "" {
		rows = lo.Filter(rows, func(m models.MonthlySummary, _ int) bool { return m.ProviderID == provider })
	}
	writeJSON(w, http.StatusOK, lo.Ternary(rows == nil, []models.MonthlySummary{}, rows))
}

func (s *Server) getProviderAggregates(w http.ResponseWriter, r *http.Request) {
	tr, err := s.timeRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Aggregator.ByProvider(r.Context(), tr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Ternary(out == nil, []models.ProviderConsumption{}, out))
}

func (s *Server) getCityAggregate(w http.ResponseWriter, r *http.Request) {
	tr, err := s.timeRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Aggregator.ForCity(r.Context(), tr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProviderMonthly(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Aggregator.MonthlyByProvider(r.Context(), year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Ternary(out == nil, []models.MonthlyProviderAverage{}, out))
}

func (s *Server) getCityMonthly(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Aggregator.MonthlyForCity(r.Context(), year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Ternary(out == nil, []models.MonthlyCityAverage{}, out))
}
