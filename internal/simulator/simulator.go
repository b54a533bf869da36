// Package simulator generates cumulative smart-meter readings for a fleet of
// accounts, each tick adding a random increment to every meter.
package simulator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

type meter struct {
	accountID  string
	providerID string
	cumulative float64
}

// Fleet is a set of simulated meters. It is not safe for concurrent use.
type Fleet struct {
	meters []meter
	min    float64
	max    float64
	rng    *rand.Rand
}

// NewFleet creates cfg.Accounts meters spread round-robin over cfg.Providers
func NewFleet(cfg config.SimulatorConfig, seed int64) (*Fleet, error) {
	if cfg.Accounts < 1 {
		return nil, fmt.Errorf("simulator needs at least one account, got %d", cfg.Accounts)
	}
	if cfg.MinIncrement <= 0 || cfg.MaxIncrement < cfg.MinIncrement {
		return nil, fmt.Errorf("simulator increments must satisfy 0 < min <= max, got %g..%g", cfg.MinIncrement, cfg.MaxIncrement)
	}

	f := &Fleet{
		meters: make([]meter, cfg.Accounts),
		min:    cfg.MinIncrement,
		max:    cfg.MaxIncrement,
		rng:    rand.New(rand.NewSource(seed)),
	}
	for i := range f.meters {
		f.meters[i].accountID = fmt.Sprintf("acct-%05d", i+1)
		if len(cfg.Providers) > 0 {
			f.meters[i].providerID = cfg.Providers[i%len(cfg.Providers)]
		}
	}
	return f, nil
}

// Size returns the number of meters
func (f *Fleet) Size() int {
	return len(f.meters)
}

// Tick advances every meter and returns one reading per account stamped at now
func (f *Fleet) Tick(now time.Time) []models.Reading {
	readings := make([]models.Reading, len(f.meters))
	for i := range f.meters {
		m := &f.meters[i]
		m.cumulative += f.min + (f.max-f.min)*f.rng.Float64()

		readings[i] = models.Reading{
			AccountID:             m.accountID,
			ProviderID:            m.providerID,
			CumulativeConsumption: m.cumulative,
			Timestamp:             now.UTC(),
		}
	}
	return readings
}
