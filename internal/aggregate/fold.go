package aggregate

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// The folds below are pure and operate on an immutable snapshot of rows.
// Store backends that cannot push aggregation down to the engine use them
// directly; the SQL backends reproduce the same arithmetic in queries.

// ByProvider groups rows by provider (empty id reported as "Unknown") and
// returns the sum and mean of TotalMonthlyConsumption per group.
func ByProvider(rows []models.MonthlySummary) []models.ProviderConsumption {
	groups := lo.GroupBy(rows, func(s models.MonthlySummary) string {
		return ProviderKey(s.ProviderID)
	})

	out := make([]models.ProviderConsumption, 0, len(groups))
	for providerID, group := range groups {
		total := decimal.Zero
		for _, s := range group {
			total = total.Add(decimal.NewFromFloat(s.TotalMonthlyConsumption))
		}
		avg := total.Div(decimal.NewFromInt(int64(len(group))))

		out = append(out, models.ProviderConsumption{
			ProviderID:         providerID,
			TotalConsumption:   total.InexactFloat64(),
			AverageConsumption: avg.InexactFloat64(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// ForCity sums totals across all rows and, separately, sums the per-row
// per-capita figure total/citizenCount. Rows without a positive citizen count
// contribute to the total only.
func ForCity(rows []models.MonthlySummary) models.CityConsumption {
	total := decimal.Zero
	perCapita := decimal.Zero

	for _, s := range rows {
		t := decimal.NewFromFloat(s.TotalMonthlyConsumption)
		total = total.Add(t)
		if s.CitizenCount != nil && *s.CitizenCount > 0 {
			perCapita = perCapita.Add(t.Div(decimal.NewFromInt(int64(*s.CitizenCount))))
		}
	}

	return models.CityConsumption{
		TotalConsumption:   total.InexactFloat64(),
		AverageConsumption: perCapita.InexactFloat64(),
	}
}

type monthKey struct {
	providerID string
	month      int
}

type monthAcc struct {
	total    decimal.Decimal
	citizens int64
}

func (a monthAcc) average() float64 {
	if a.citizens == 0 {
		return 0
	}
	return a.total.Div(decimal.NewFromInt(a.citizens)).InexactFloat64()
}

func foldMonths(rows []models.MonthlySummary, year int, byProvider bool) map[monthKey]monthAcc {
	acc := make(map[monthKey]monthAcc)
	for _, s := range rows {
		if s.PeriodStart.UTC().Year() != year {
			continue
		}
		key := monthKey{month: int(s.PeriodStart.UTC().Month())}
		if byProvider {
			key.providerID = ProviderKey(s.ProviderID)
		}

		a, ok := acc[key]
		if !ok {
			a.total = decimal.Zero
		}
		a.total = a.total.Add(decimal.NewFromFloat(s.TotalMonthlyConsumption))
		if s.CitizenCount != nil {
			a.citizens += int64(*s.CitizenCount)
		}
		acc[key] = a
	}
	return acc
}

// MonthlyByProvider groups the rows of a calendar year by provider and month of
// PeriodStart; each average is sum(total) / sum(citizenCount), or 0 without citizens.
func MonthlyByProvider(rows []models.MonthlySummary, year int) []models.MonthlyProviderAverage {
	acc := foldMonths(rows, year, true)

	out := make([]models.MonthlyProviderAverage, 0, len(acc))
	for key, a := range acc {
		out = append(out, models.MonthlyProviderAverage{
			ProviderID:         key.providerID,
			Month:              key.month,
			AverageConsumption: a.average(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].Month < out[j].Month
	})
	return out
}

// MonthlyForCity is MonthlyByProvider with the provider dimension collapsed.
func MonthlyForCity(rows []models.MonthlySummary, year int) []models.MonthlyCityAverage {
	acc := foldMonths(rows, year, false)

	out := make([]models.MonthlyCityAverage, 0, len(acc))
	for key, a := range acc {
		out = append(out, models.MonthlyCityAverage{
			Month:              key.month,
			AverageConsumption: a.average(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// ProviderSnapshot folds one provider's account summaries for the month of now
// into a provider-level snapshot: citizens are the distinct accounts, the
// per-citizen average is total/citizens and the peak is the highest account peak.
func ProviderSnapshot(rows []models.MonthlySummary, providerID string, now time.Time) models.Snapshot {
	period := models.PeriodOf(now)
	current := lo.Filter(rows, func(s models.MonthlySummary, _ int) bool {
		return ProviderKey(s.ProviderID) == ProviderKey(providerID) && s.PeriodStart.Equal(period)
	})

	snap := models.Snapshot{
		AccountID:  providerID,
		ProviderID: providerID,
		ObservedAt: now.UTC(),
	}

	total := decimal.Zero
	for _, s := range current {
		total = total.Add(decimal.NewFromFloat(s.TotalMonthlyConsumption))
		if s.PeakHourlyConsumption > snap.PeakHourlyConsumption {
			snap.PeakHourlyConsumption = s.PeakHourlyConsumption
		}
		snap.ReadingCount += s.ReadingCount
		snap.HasManualEntry = snap.HasManualEntry || s.HasManualEntry
	}

	citizens := len(lo.Uniq(lo.Map(current, func(s models.MonthlySummary, _ int) string { return s.AccountID })))
	snap.CitizenCount = models.IntPtr(citizens)
	snap.TotalMonthlyConsumption = total.InexactFloat64()
	snap.DailyAverageConsumption = total.Div(decimal.NewFromInt(int64(now.UTC().Day()))).InexactFloat64()
	if citizens > 0 {
		snap.AverageConsumptionPerCitizen = models.Float64Ptr(total.Div(decimal.NewFromInt(int64(citizens))).InexactFloat64())
	} else {
		snap.AverageConsumptionPerCitizen = models.Float64Ptr(0)
	}

	return snap
}

// ProviderKey maps an empty provider id to models.UnknownProvider.
func ProviderKey(providerID string) string {
	if providerID == "" {
		return models.UnknownProvider
	}
	return providerID
}
