package models

import (
	"time"
)

// UnknownProvider is reported for summaries without a provider id
const UnknownProvider = "Unknown"

// ProviderConsumption represents consumption grouped by provider over a window
type ProviderConsumption struct {
	ProviderID         string  `json:"providerId"`
	TotalConsumption   float64 `json:"totalConsumption"`
	AverageConsumption float64 `json:"averageConsumption"`
}

// CityConsumption represents consumption across all providers over a window.
// AverageConsumption is the sum of per-row per-capita figures, not a weighted mean.
type CityConsumption struct {
	TotalConsumption   float64 `json:"totalConsumption"`
	AverageConsumption float64 `json:"averageConsumption"`
}

// MonthlyProviderAverage represents the per-citizen average of one provider in one month
type MonthlyProviderAverage struct {
	ProviderID         string  `json:"providerId"`
	Month              int     `json:"month"`
	AverageConsumption float64 `json:"averageConsumption"`
}

// MonthlyCityAverage represents the per-citizen average of the whole city in one month
type MonthlyCityAverage struct {
	Month              int     `json:"month"`
	AverageConsumption float64 `json:"averageConsumption"`
}

// TimeRange is an inclusive query window
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t is inside the window, bounds included
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// ProviderActivity is the consumption reported by one provider's meters during a flush window
type ProviderActivity struct {
	ProviderID   string
	DeltaKWh     float64
	AccountCount int
	MaxDeltaKWh  float64
	ReadingCount int
}
