package models

import (
	"time"
)

// Reading represents a single cumulative meter reading reported for an account
type Reading struct {
	AccountID             string    `json:"accountId"`
	ProviderID            string    `json:"providerId"`
	CumulativeConsumption float64   `json:"cumulativeConsumption"` // kWh, monotonically increasing
	Timestamp             time.Time `json:"timestamp"`
	IsManualEntry         bool      `json:"isManualEntry"`
}

// AcceptedReading is a reading that passed monotonicity checks.
// Delta is zero for the first reading of an account, which only sets the baseline.
type AcceptedReading struct {
	Reading
	Previous *Reading `json:"previous,omitempty"`
	Delta    float64  `json:"delta"`
}

// Elapsed returns the time since the previous accepted reading, or zero for a baseline
func (a AcceptedReading) Elapsed() time.Duration {
	if a.Previous == nil {
		return 0
	}
	return a.Timestamp.Sub(a.Previous.Timestamp)
}
