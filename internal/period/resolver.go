package period

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/clock"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/shard"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

// Action is the write a resolution performed
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Outcome describes a successful resolution
type Outcome struct {
	State   State                 `json:"state"`
	Action  Action                `json:"action"`
	Summary models.MonthlySummary `json:"summary"`
}

// BatchResult is the per-account result of ResolveBatch
type BatchResult struct {
	AccountID string
	Outcome   Outcome
	Err       error
}

// BuildFunc derives the incoming snapshot from the latest stored summary
type BuildFunc func(latest *models.MonthlySummary) (models.Snapshot, error)

const lockStripes = 256

// Resolver applies snapshots to the monthly summary store
type Resolver struct {
	store   store.SummaryStore
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector
	newID   func() string
	locks   *shard.Locks
}

// Option configures a Resolver
type Option func(*Resolver)

// WithIDGenerator overrides the summary id generator
func WithIDGenerator(fn func() string) Option {
	return func(r *Resolver) { r.newID = fn }
}

// WithMetrics records summary writes and rejections
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver
func NewResolver(s store.SummaryStore, c clock.Clock, logger zerolog.Logger, opts ...Option) *Resolver {
	if c == nil {
		c = clock.Real{}
	}
	r := &Resolver{
		store:  s,
		clock:  c,
		logger: logger,
		newID:  uuid.NewString,
		locks:  shard.NewLocks(lockStripes),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve applies a fetched snapshot under the given intent
func (r *Resolver) Resolve(ctx context.Context, intent Intent, snap models.Snapshot) (Outcome, error) {
	if err := validateSnapshot(snap); err != nil {
		return Outcome{}, err
	}
	return r.ResolveWith(ctx, intent, snap.AccountID, func(*models.MonthlySummary) (models.Snapshot, error) {
		return snap, nil
	})
}

// ResolveWith reads the account's latest summary, builds the snapshot from it
// and writes the result. The sequence is serialized per account and the write
// is conditional on the row read.
func (r *Resolver) ResolveWith(ctx context.Context, intent Intent, accountID string, build BuildFunc) (Outcome, error) {
	unlock := r.locks.Lock(accountID)
	defer unlock()

	outcome, err := r.resolveLocked(ctx, intent, accountID, build)
	r.record(outcome, err)
	if err != nil && metrics.Reason(err) == "internal" {
		r.logger.Error().Err(err).Str("account_id", accountID).Str("intent", intent.String()).Msg("summary resolution failed")
	}
	return outcome, err
}

func (r *Resolver) resolveLocked(ctx context.Context, intent Intent, accountID string, build BuildFunc) (Outcome, error) {
	latest, err := r.store.LatestByAccount(ctx, accountID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load latest summary: %w", err)
	}

	snap, err := build(latest)
	if err != nil {
		return Outcome{}, err
	}
	snap.AccountID = accountID
	if err := validateSnapshot(snap); err != nil {
		return Outcome{}, err
	}

	state, err := Classify(latest, snap.ObservedAt)
	if err != nil {
		return Outcome{}, err
	}

	switch {
	case state == SameMonth && intent == IntentCreate:
		return Outcome{State: state}, fmt.Errorf("%w: summary for account %s already exists for %s, update it instead",
			models.ErrAlreadyExists, accountID, latest.PeriodStart.Format("2006-01"))
	case state == NoRecord && intent == IntentUpdate:
		return Outcome{State: state}, fmt.Errorf("%w: no summary for account %s", models.ErrNotFound, accountID)
	case state == NewMonth && intent == IntentUpdate:
		return Outcome{State: state}, fmt.Errorf("%w: no summary for account %s in %s, create it instead",
			models.ErrNotFound, accountID, models.PeriodOf(snap.ObservedAt).Format("2006-01"))
	case state == SameMonth:
		return r.update(ctx, state, *latest, snap)
	default:
		return r.create(ctx, state, snap)
	}
}

func (r *Resolver) create(ctx context.Context, state State, snap models.Snapshot) (Outcome, error) {
	summary := models.MonthlySummary{
		ID:          r.newID(),
		AccountID:   snap.AccountID,
		PeriodStart: models.PeriodOf(snap.ObservedAt),
		LastUpdated: r.clock.Now().UTC(),
	}
	summary.Apply(snap)

	if err := r.store.Upsert(ctx, summary, nil); err != nil {
		return Outcome{State: state}, fmt.Errorf("create summary: %w", err)
	}

	r.logger.Info().
		Str("account_id", summary.AccountID).
		Str("period", summary.PeriodStart.Format("2006-01")).
		Str("state", state.String()).
		Msg("monthly summary created")

	return Outcome{State: state, Action: ActionCreated, Summary: summary}, nil
}

func (r *Resolver) update(ctx context.Context, state State, latest models.MonthlySummary, snap models.Snapshot) (Outcome, error) {
	if snap.TotalMonthlyConsumption < latest.TotalMonthlyConsumption {
		return Outcome{State: state}, &models.StaleReadingError{
			AccountID: latest.AccountID,
			Last:      latest.TotalMonthlyConsumption,
			Provided:  snap.TotalMonthlyConsumption,
			Reason:    "monthly total must not decrease within a period",
		}
	}
	if snap.ObservedAt.Before(latest.ObservedAt) {
		return Outcome{State: state}, &models.StaleReadingError{
			AccountID: latest.AccountID,
			Last:      latest.TotalMonthlyConsumption,
			Provided:  snap.TotalMonthlyConsumption,
			Reason: fmt.Sprintf("observation %s precedes stored observation %s",
				snap.ObservedAt.UTC().Format(time.RFC3339), latest.ObservedAt.UTC().Format(time.RFC3339)),
		}
	}

	expected := latest.LastUpdated
	updated := latest
	updated.Apply(snap)
	updated.LastUpdated = r.clock.Now().UTC()

	if err := r.store.Upsert(ctx, updated, &expected); err != nil {
		return Outcome{State: state}, fmt.Errorf("update summary: %w", err)
	}

	r.logger.Debug().
		Str("account_id", updated.AccountID).
		Str("period", updated.PeriodStart.Format("2006-01")).
		Float64("total_kwh", updated.TotalMonthlyConsumption).
		Msg("monthly summary updated")

	return Outcome{State: state, Action: ActionUpdated, Summary: updated}, nil
}

// ResolveBatch syncs many accounts; a failure for one account does not stop the others
func (r *Resolver) ResolveBatch(ctx context.Context, snaps []models.Snapshot) []BatchResult {
	results := make([]BatchResult, 0, len(snaps))
	for _, snap := range snaps {
		outcome, err := r.Resolve(ctx, IntentSync, snap)
		if err != nil {
			r.logger.Warn().Err(err).Str("account_id", snap.AccountID).Msg("batch entry rejected")
		}
		results = append(results, BatchResult{AccountID: snap.AccountID, Outcome: outcome, Err: err})
	}
	return results
}

func (r *Resolver) record(outcome Outcome, err error) {
	if r.metrics == nil {
		return
	}
	if err != nil {
		r.metrics.ReadingRejections.WithLabelValues(metrics.Reason(err)).Inc()
		return
	}
	r.metrics.SummaryWrites.WithLabelValues(string(outcome.Action)).Inc()
}

func validateSnapshot(snap models.Snapshot) error {
	switch {
	case snap.AccountID == "":
		return models.Validationf("snapshot accountId is required")
	case snap.ObservedAt.IsZero():
		return models.Validationf("snapshot observation date is required for account %s", snap.AccountID)
	case snap.CitizenCount != nil && *snap.CitizenCount < 0:
		return models.Validationf("snapshot citizenCount must be >= 0 for account %s, got %d", snap.AccountID, *snap.CitizenCount)
	case snap.ReadingCount < 0:
		return models.Validationf("snapshot readingCount must be >= 0 for account %s, got %d", snap.AccountID, snap.ReadingCount)
	}

	fields := []struct {
		name  string
		value *float64
	}{
		{"totalMonthlyConsumption", &snap.TotalMonthlyConsumption},
		{"dailyAverageConsumption", &snap.DailyAverageConsumption},
		{"peakHourlyConsumption", &snap.PeakHourlyConsumption},
		{"averageConsumptionPerCitizen", snap.AverageConsumptionPerCitizen},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if v := *f.value; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return models.Validationf("snapshot %s must be a finite value >= 0 for account %s, got %g", f.name, snap.AccountID, v)
		}
	}
	return nil
}
