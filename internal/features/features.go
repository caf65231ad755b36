// Package features turns transaction records into the fixed-width numeric
// vectors consumed by the anomaly scorer and the attribution engine.
package features

import (
	"sort"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Feature is a column of the feature vector.
type Feature = domain.Feature

// All lists the features in vector order.
var All = domain.AllFeatures()

// MissingCode is the code given to an empty categorical value.
const MissingCode = -1

// Matrix is a dense row-major feature matrix.
type Matrix struct {
	data [][]float64
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return len(m.data) }

// Cols returns the vector width.
func (m *Matrix) Cols() int { return domain.NumFeatures }

// Row returns row i. Callers must not modify it.
func (m *Matrix) Row(i int) []float64 { return m.data[i] }

// At returns the value of feature f in row i.
func (m *Matrix) At(i int, f Feature) float64 { return m.data[i][f] }

// Values exposes the rows for the scorer. Callers must not modify them.
func (m *Matrix) Values() [][]float64 { return m.data }

// Subset selects rows by index, in the given order.
func (m *Matrix) Subset(rows []int) *Matrix {
	out := &Matrix{data: make([][]float64, len(rows))}
	for i, r := range rows {
		out.data[i] = m.data[r]
	}
	return out
}

// Build encodes records into an unscaled feature matrix.
// Categorical codes are relative to the batch: the sorted distinct non-empty
// values get codes 0..k-1 and empty values get MissingCode. Missing numeric
// values become 0.
func Build(records []domain.TransactionRecord) (*Matrix, error) {
	m := &Matrix{data: make([][]float64, len(records))}

	codes := make(map[Feature]map[string]int)
	for _, f := range All {
		if !f.Categorical() {
			continue
		}
		vocab := vocabulary(records, f)
		index := make(map[string]int, len(vocab))
		for i, v := range vocab {
			index[v] = i
		}
		codes[f] = index
	}

	for i := range records {
		r := &records[i]
		row := make([]float64, domain.NumFeatures)

		row[domain.FeatureAmount] = numeric(r, r.Amount, domain.MissingAmount)
		row[domain.FeatureCustomerAge] = numeric(r, r.CustomerAge, domain.MissingCustomerAge)
		row[domain.FeatureDuration] = numeric(r, r.Duration, domain.MissingDuration)
		row[domain.FeatureLoginAttempts] = numeric(r, r.LoginAttempts, domain.MissingLoginAttempts)
		row[domain.FeatureAccountBalance] = numeric(r, r.AccountBalance, domain.MissingAccountBalance)
		if diff, ok := r.TimeDiff(); ok {
			row[domain.FeatureTimeDiff] = diff
		}

		for f, index := range codes {
			v := categoryValue(r, f)
			if v == "" {
				row[f] = MissingCode
				continue
			}
			row[f] = float64(index[v])
		}

		m.data[i] = row
	}

	return m, nil
}

func numeric(r *domain.TransactionRecord, v float64, flag domain.MissingField) float64 {
	if !r.Has(flag) {
		return 0
	}
	return v
}

func categoryValue(r *domain.TransactionRecord, f Feature) string {
	switch f {
	case domain.FeatureType:
		return r.Type
	case domain.FeatureLocation:
		return r.Location
	case domain.FeatureChannel:
		return r.Channel
	case domain.FeatureDeviceID:
		return r.DeviceID
	case domain.FeatureMerchantID:
		return r.MerchantID
	case domain.FeatureCustomerOccupation:
		return r.CustomerOccupation
	}
	return ""
}

func vocabulary(records []domain.TransactionRecord, f Feature) []string {
	seen := make(map[string]struct{})
	for i := range records {
		if v := categoryValue(&records[i], f); v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
