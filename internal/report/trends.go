package report

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// DateLayout formats calendar days in trends and reports.
const DateLayout = "2006-01-02"

// DailyCount is the number of flagged transactions on one day.
type DailyCount struct {
	Date    string `json:"date"`
	Flagged int    `json:"flagged"`
}

// LocationCount is the number of flagged transactions at one location.
type LocationCount struct {
	Location string `json:"location"`
	Flagged  int    `json:"flagged"`
}

// FeatureImpact is the mean absolute contribution of a feature over flagged rows.
type FeatureImpact struct {
	Feature domain.Feature `json:"feature"`
	MeanAbs float64        `json:"meanAbs"`
}

// Trends summarises the flagged rows of a run.
type Trends struct {
	RunID      string          `json:"runId"`
	Flagged    int             `json:"flagged"`
	Daily      []DailyCount    `json:"daily"`
	ByLocation []LocationCount `json:"byLocation"`
	Importance []FeatureImpact `json:"importance"`
}

// ComputeTrends aggregates flagged rows: counts per day (ascending), counts
// per location (descending, ties by name) and mean |contribution| per
// feature (descending, ties in feature order).
func ComputeTrends(table *domain.ResultTable) *Trends {
	t := &Trends{
		RunID:      table.RunID,
		Daily:      []DailyCount{},
		ByLocation: []LocationCount{},
		Importance: []FeatureImpact{},
	}

	daily := make(map[string]int)
	locations := make(map[string]int)
	abs := make([][]float64, domain.NumFeatures)

	for i := range table.Records {
		r := &table.Records[i]
		if !r.IsFraud {
			continue
		}
		t.Flagged++
		if r.Has(domain.MissingTransactionDate) {
			daily[r.TransactionDate.Format(DateLayout)]++
		}
		locations[r.Location]++

		if r.Attribution == nil {
			continue
		}
		for _, c := range r.Attribution.Contributions {
			if c.Feature.Valid() {
				abs[c.Feature] = append(abs[c.Feature], c.Magnitude())
			}
		}
	}

	for d, n := range daily {
		t.Daily = append(t.Daily, DailyCount{Date: d, Flagged: n})
	}
	slices.SortFunc(t.Daily, func(a, b DailyCount) int { return cmp.Compare(a.Date, b.Date) })

	for loc, n := range locations {
		t.ByLocation = append(t.ByLocation, LocationCount{Location: loc, Flagged: n})
	}
	slices.SortFunc(t.ByLocation, func(a, b LocationCount) int {
		if c := cmp.Compare(b.Flagged, a.Flagged); c != 0 {
			return c
		}
		return cmp.Compare(a.Location, b.Location)
	})

	for f, values := range abs {
		if len(values) == 0 {
			continue
		}
		t.Importance = append(t.Importance, FeatureImpact{
			Feature: domain.Feature(f),
			MeanAbs: stat.Mean(values, nil),
		})
	}
	slices.SortStableFunc(t.Importance, func(a, b FeatureImpact) int {
		return cmp.Compare(b.MeanAbs, a.MeanAbs)
	})

	return t
}
