package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/aggregate"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Last     *float64 `json:"lastRecorded,omitempty"`
	Provided *float64 `json:"provided,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoFetcher):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidTimeRange),
		errors.Is(err, models.ErrInvalidYear):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists),
		errors.Is(err, models.ErrDuplicatePeriod),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrStaleReading):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorResponse {
	body := ErrorResponse{Error: err.Error(), Code: metrics.Reason(err)}
	if statusFor(err) == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	var stale *models.StaleReadingError
	if errors.As(err, &stale) {
		body.Last = models.Float64Ptr(stale.Last)
		body.Provided = models.Float64Ptr(stale.Provided)
	}
	return body
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody(err))
}

// timeRange reads either ?range=LAST_7_DAYS or ?start=&end= in RFC 3339
func (s *Server) timeRange(r *http.Request) (models.TimeRange, error) {
	q := r.URL.Query()
	if symbol := q.Get("range"); symbol != "" {
		return s.deps.Aggregator.ResolveRange(symbol)
	}

	startRaw, endRaw := q.Get("start"), q.Get("end")
	if startRaw == "" && endRaw == "" {
		return models.TimeRange{}, fmt.Errorf("%w: range or start and end are required", models.ErrInvalidTimeRange)
	}
	start, err := parseTime("start", startRaw)
	if err != nil {
		return models.TimeRange{}, err
	}
	end, err := parseTime("end", endRaw)
	if err != nil {
		return models.TimeRange{}, err
	}
	return aggregate.Between(start, end)
}

func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", models.ErrInvalidTimeRange, name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339, got %q", models.ErrInvalidTimeRange, name, raw)
	}
	return t, nil
}

func parseYear(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return 0, fmt.Errorf("%w: year is required", models.ErrInvalidYear)
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a year", models.ErrInvalidYear, raw)
	}
	return year, nil
}
