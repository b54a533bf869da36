package models

import (
	"time"
)

// Snapshot carries the statistics needed to populate a MonthlySummary for one
// account at one observation date. It arrives either from the provider fetch
// path or from the rollup of an accepted reading.
type Snapshot struct {
	AccountID                    string    `json:"accountId"`
	ProviderID                   string    `json:"providerId"`
	TotalMonthlyConsumption      float64   `json:"totalMonthlyConsumption"`
	DailyAverageConsumption      float64   `json:"dailyAverageConsumption"`
	AverageConsumptionPerCitizen *float64  `json:"averageConsumptionPerCitizen,omitempty"`
	PeakHourlyConsumption        float64   `json:"peakHourlyConsumption"`
	CitizenCount                 *int      `json:"citizenCount,omitempty"`
	ReadingCount                 int       `json:"readingCount"`
	HasManualEntry               bool      `json:"hasManualEntry"`
	ObservedAt                   time.Time `json:"observedAt"`
}

// MonthlySummary is the durable per-account, per-month consumption record
type MonthlySummary struct {
	ID                           string    `json:"id"`
	AccountID                    string    `json:"accountId"`
	ProviderID                   string    `json:"providerId"`
	PeriodStart                  time.Time `json:"periodStart"`
	TotalMonthlyConsumption      float64   `json:"totalMonthlyConsumption"`
	DailyAverageConsumption      float64   `json:"dailyAverageConsumption"`
	AverageConsumptionPerCitizen *float64  `json:"averageConsumptionPerCitizen,omitempty"`
	PeakHourlyConsumption        float64   `json:"peakHourlyConsumption"`
	CitizenCount                 *int      `json:"citizenCount,omitempty"`
	ReadingCount                 int       `json:"readingCount"`
	HasManualEntry               bool      `json:"hasManualEntry"`
	ObservedAt                   time.Time `json:"observedAt"`
	LastUpdated                  time.Time `json:"lastUpdated"`
}

// Apply overwrites every statistic field of the summary with the snapshot's values
func (s *MonthlySummary) Apply(snap Snapshot) {
	if snap.ProviderID != "" {
		s.ProviderID = snap.ProviderID
	}
	s.TotalMonthlyConsumption = snap.TotalMonthlyConsumption
	s.DailyAverageConsumption = snap.DailyAverageConsumption
	s.AverageConsumptionPerCitizen = snap.AverageConsumptionPerCitizen
	s.PeakHourlyConsumption = snap.PeakHourlyConsumption
	s.CitizenCount = snap.CitizenCount
	s.ReadingCount = snap.ReadingCount
	s.HasManualEntry = snap.HasManualEntry
	s.ObservedAt = snap.ObservedAt.UTC()
}

// PeriodOf returns the first instant (UTC) of the calendar month containing t
func PeriodOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// SamePeriod reports whether a and b fall in the same calendar month
func SamePeriod(a, b time.Time) bool {
	return PeriodOf(a).Equal(PeriodOf(b))
}

// Float64Ptr and IntPtr are helpers for the nullable summary fields
func Float64Ptr(v float64) *float64 { return &v }

func IntPtr(v int) *int { return &v }
