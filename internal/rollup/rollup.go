// Package rollup turns an accepted reading into the statistics snapshot of its month.
package rollup

import (
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// minRateWindow is the shortest interval a delta is spread over when computing
// an hourly draw; readings closer together count as one hour of consumption.
const minRateWindow = time.Hour

// Apply folds an accepted reading into the account's latest summary.
// A latest summary from another month contributes nothing; the delta of a
// reading that crosses a month boundary is charged to the reading's month.
func Apply(latest *models.MonthlySummary, acc models.AcceptedReading) models.Snapshot {
	ts := acc.Timestamp.UTC()

	var base models.MonthlySummary
	if latest != nil && models.SamePeriod(latest.PeriodStart, ts) {
		base = *latest
	}

	snap := models.Snapshot{
		AccountID:               acc.AccountID,
		ProviderID:              acc.ProviderID,
		TotalMonthlyConsumption: base.TotalMonthlyConsumption + acc.Delta,
		PeakHourlyConsumption:   base.PeakHourlyConsumption,
		CitizenCount:            models.IntPtr(1),
		ReadingCount:            base.ReadingCount + 1,
		HasManualEntry:          base.HasManualEntry || acc.IsManualEntry,
		ObservedAt:              ts,
	}
	if snap.ProviderID == "" {
		snap.ProviderID = base.ProviderID
	}

	snap.DailyAverageConsumption = snap.TotalMonthlyConsumption / float64(ts.Day())

	if rate := HourlyRate(acc); rate > snap.PeakHourlyConsumption {
		snap.PeakHourlyConsumption = rate
	}

	return snap
}

// HourlyRate returns the reading's delta per hour since the previous reading
func HourlyRate(acc models.AcceptedReading) float64 {
	if acc.Previous == nil || acc.Delta <= 0 {
		return 0
	}
	window := acc.Elapsed()
	if window < minRateWindow {
		window = minRateWindow
	}
	return acc.Delta / window.Hours()
}
