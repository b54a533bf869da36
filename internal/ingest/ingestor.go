// Package ingest validates raw meter readings against the last accepted
// reading of their account.
package ingest

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

// Ingestor accepts readings whose cumulative counter strictly increases
type Ingestor struct {
	index  store.ReadingIndex
	logger zerolog.Logger
}

// NewIngestor creates an Ingestor backed by a latest-reading index
func NewIngestor(index store.ReadingIndex, logger zerolog.Logger) *Ingestor {
	return &Ingestor{index: index, logger: logger}
}

// Validate checks the fields a reading needs before any lookup
func Validate(r models.Reading) error {
	switch {
	case r.AccountID == "":
		return models.Validationf("accountId is required")
	case math.IsNaN(r.CumulativeConsumption) || math.IsInf(r.CumulativeConsumption, 0):
		return models.Validationf("cumulativeConsumption must be finite")
	case r.CumulativeConsumption < 0:
		return models.Validationf("cumulativeConsumption must be >= 0, got %g", r.CumulativeConsumption)
	case r.Timestamp.IsZero():
		return models.Validationf("timestamp is required")
	}
	return nil
}

// Ingest checks r and records it as the account's latest reading.
func (i *Ingestor) Ingest(ctx context.Context, r models.Reading) (models.AcceptedReading, error) {
	acc, err := i.Check(ctx, r)
	if err != nil {
		return models.AcceptedReading{}, err
	}
	if err := i.Commit(ctx, acc); err != nil {
		return models.AcceptedReading{}, err
	}
	return acc, nil
}

// Check validates r against the account's previous reading without recording it.
// The first reading of an account is accepted as the baseline with a zero delta.
func (i *Ingestor) Check(ctx context.Context, r models.Reading) (models.AcceptedReading, error) {
	if err := Validate(r); err != nil {
		return models.AcceptedReading{}, err
	}
	r.Timestamp = r.Timestamp.UTC()

	prior, err := i.index.Get(ctx, r.AccountID)
	if err != nil {
		return models.AcceptedReading{}, fmt.Errorf("load latest reading: %w", err)
	}

	accepted := models.AcceptedReading{Reading: r, Previous: prior}
	if prior != nil {
		if r.CumulativeConsumption <= prior.CumulativeConsumption {
			return models.AcceptedReading{}, &models.StaleReadingError{
				AccountID: r.AccountID,
				Last:      prior.CumulativeConsumption,
				Provided:  r.CumulativeConsumption,
				Reason:    "cumulativeConsumption must be greater than the last recorded value",
			}
		}
		if r.Timestamp.Before(prior.Timestamp) {
			return models.AcceptedReading{}, &models.StaleReadingError{
				AccountID: r.AccountID,
				Last:      prior.CumulativeConsumption,
				Provided:  r.CumulativeConsumption,
				Reason:    fmt.Sprintf("timestamp %s precedes last reading at %s", r.Timestamp.Format("2006-01-02T15:04:05Z"), prior.Timestamp.Format("2006-01-02T15:04:05Z")),
			}
		}
		accepted.Delta = r.CumulativeConsumption - prior.CumulativeConsumption
	}
	return accepted, nil
}

// Commit records a checked reading as latest. It fails with models.ErrConflict
// when another reading was recorded since the check.
func (i *Ingestor) Commit(ctx context.Context, acc models.AcceptedReading) error {
	if err := i.index.CompareAndSet(ctx, acc.AccountID, acc.Previous, acc.Reading); err != nil {
		return fmt.Errorf("store latest reading: %w", err)
	}

	i.logger.Debug().
		Str("account_id", acc.AccountID).
		Float64("cumulative_kwh", acc.CumulativeConsumption).
		Float64("delta_kwh", acc.Delta).
		Msg("reading accepted")

	return nil
}
