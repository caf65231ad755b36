package features

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Scaler standardises columns with parameters fitted once per run.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-column population mean and standard deviation.
// Columns with zero variance get a scale of 1.
func FitScaler(m *Matrix) *Scaler {
	s := &Scaler{
		Mean:  make([]float64, domain.NumFeatures),
		Scale: make([]float64, domain.NumFeatures),
	}

	col := make([]float64, m.Rows())
	for j := 0; j < domain.NumFeatures; j++ {
		if m.Rows() == 0 {
			s.Scale[j] = 1
			continue
		}
		for i := range col {
			col[i] = m.data[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		if std == 0 {
			std = 1
		}
		s.Scale[j] = std
	}
	return s
}

// Transform returns a standardised copy of m using the retained parameters.
func (s *Scaler) Transform(m *Matrix) (*Matrix, error) {
	out := &Matrix{data: make([][]float64, m.Rows())}
	for i, row := range m.data {
		if len(row) != len(s.Mean) {
			return nil, &domain.ModelError{
				Op:  "features.Transform",
				Msg: fmt.Sprintf("row %d has %d columns, scaler expects %d", i, len(row), len(s.Mean)),
			}
		}
		scaled := make([]float64, len(row))
		floats.SubTo(scaled, row, s.Mean)
		floats.Div(scaled, s.Scale)
		out.data[i] = scaled
	}
	return out, nil
}
