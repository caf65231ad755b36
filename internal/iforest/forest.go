// Package iforest implements an isolation forest anomaly scorer.
//
// Scores follow the usual convention: ScoreSamples returns the negated
// anomaly score in [-1, 0), and DecisionFunction shifts it by the offset
// fitted from the contamination rate so that negative values are outliers.
package iforest

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Defaults applied by New.
const (
	DefaultTrees         = 100
	DefaultContamination = 0.05
	DefaultSeed          = 42
	MaxAutoSampleSize    = 256
)

// Forest is an isolation forest. It is not safe to Fit concurrently with scoring.
type Forest struct {
	trees         int
	sampleSize    int // 0 means auto
	contamination float64
	seed          int64
	workers       int

	fitted     []Tree
	psi        int
	width      int
	offset     float64
	normaliser float64
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of trees.
func WithTrees(n int) Option {
	return func(f *Forest) { f.trees = n }
}

// WithSampleSize sets rows drawn per tree. Zero selects min(256, rows).
func WithSampleSize(n int) Option {
	return func(f *Forest) { f.sampleSize = n }
}

// WithContamination sets the expected share of outliers, in (0, 0.5].
func WithContamination(c float64) Option {
	return func(f *Forest) { f.contamination = c }
}

// WithSeed sets the random seed.
func WithSeed(seed int64) Option {
	return func(f *Forest) { f.seed = seed }
}

// WithWorkers bounds parallel tree construction. Zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(f *Forest) { f.workers = n }
}

// New creates an unfitted forest.
func New(opts ...Option) *Forest {
	f := &Forest{
		trees:         DefaultTrees,
		contamination: DefaultContamination,
		seed:          DefaultSeed,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.workers <= 0 {
		f.workers = runtime.GOMAXPROCS(0)
	}
	return f
}

// Fit grows the trees on X and fits the decision offset.
func (f *Forest) Fit(X [][]float64) error {
	if err := f.validate(X); err != nil {
		return err
	}

	n := len(X)
	psi := f.sampleSize
	if psi == 0 {
		psi = min(MaxAutoSampleSize, n)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	// per-tree seeds come from one stream so results do not depend on scheduling
	master := rand.New(rand.NewSource(f.seed))
	seeds := make([]int64, f.trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]Tree, f.trees)
	var wg sync.WaitGroup
	sem := make(chan struct{}, f.workers)

	for i := range trees {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			rng := rand.New(rand.NewSource(seeds[idx]))
			sample := rng.Perm(n)[:psi]

			b := &builder{X: X, rng: rng, maxDepth: maxDepth, tree: &trees[idx]}
			b.tree.Nodes = make([]Node, 0, 2*psi)
			b.grow(sample, 0)
		}(i)
	}
	wg.Wait()

	f.fitted = trees
	f.psi = psi
	f.width = len(X[0])
	f.normaliser = AveragePathLength(psi)

	scores := make([]float64, n)
	for i, x := range X {
		scores[i] = f.ScoreFromPathLength(f.PathLength(x))
	}
	f.offset = percentile(scores, 100*f.contamination)

	return nil
}

func (f *Forest) validate(X [][]float64) error {
	const op = "iforest.Fit"
	if f.trees < 1 {
		return &domain.ModelError{Op: op, Msg: fmt.Sprintf("trees must be at least 1, got %d", f.trees)}
	}
	if !(f.contamination > 0 && f.contamination <= 0.5) {
		return &domain.ModelError{Op: op, Msg: fmt.Sprintf("contamination must be in (0, 0.5], got %g", f.contamination)}
	}
	if len(X) < 1 {
		return &domain.ModelError{Op: op, Msg: "at least one row is required"}
	}
	if f.sampleSize < 0 || f.sampleSize > len(X) {
		return &domain.ModelError{Op: op, Msg: fmt.Sprintf("sample size %d exceeds %d rows", f.sampleSize, len(X))}
	}
	width := len(X[0])
	if width == 0 {
		return &domain.ModelError{Op: op, Msg: "rows have no features"}
	}
	for i, row := range X {
		if len(row) != width {
			return &domain.ModelError{Op: op, Msg: fmt.Sprintf("row %d has %d features, expected %d", i, len(row), width)}
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &domain.ModelError{Op: op, Msg: fmt.Sprintf("non-finite value at row %d, feature %d", i, j)}
			}
		}
	}
	return nil
}

// Fitted reports whether Fit has succeeded.
func (f *Forest) Fitted() bool { return f.fitted != nil }

// Trees exposes the fitted trees. Callers must not modify them.
func (f *Forest) Trees() []Tree { return f.fitted }

// SampleSize returns ψ, the rows drawn per tree.
func (f *Forest) SampleSize() int { return f.psi }

// Width returns the number of features the forest was fitted on.
func (f *Forest) Width() int { return f.width }

// NumTrees returns the configured tree count.
func (f *Forest) NumTrees() int { return f.trees }

// Offset returns the fitted decision threshold.
func (f *Forest) Offset() float64 { return f.offset }

// Contamination returns the configured contamination rate.
func (f *Forest) Contamination() float64 { return f.contamination }

// Seed returns the configured seed.
func (f *Forest) Seed() int64 { return f.seed }

// PathLength returns the mean path length of x across all trees.
func (f *Forest) PathLength(x []float64) float64 {
	var sum float64
	for i := range f.fitted {
		sum += f.fitted[i].PathLength(x)
	}
	return sum / float64(len(f.fitted))
}

// ScoreFromPathLength maps a mean path length to -2^(-h/c(ψ)).
// When c(ψ) is 0 the exponent ratio is taken as 1.
func (f *Forest) ScoreFromPathLength(h float64) float64 {
	ratio := 1.0
	if f.normaliser > 0 {
		ratio = h / f.normaliser
	}
	return -math.Pow(2, -ratio)
}

// DecisionFromPathLength maps a mean path length to the decision function value.
func (f *Forest) DecisionFromPathLength(h float64) float64 {
	return f.ScoreFromPathLength(h) - f.offset
}

// ScoreSamples returns the negated anomaly score of each row. Lower is more anomalous.
func (f *Forest) ScoreSamples(X [][]float64) ([]float64, error) {
	if err := f.checkInput("iforest.ScoreSamples", X); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = f.ScoreFromPathLength(f.PathLength(x))
	}
	return out, nil
}

// DecisionFunction returns ScoreSamples shifted by the offset. Negative means outlier.
func (f *Forest) DecisionFunction(X [][]float64) ([]float64, error) {
	scores, err := f.ScoreSamples(X)
	if err != nil {
		return nil, err
	}
	for i := range scores {
		scores[i] -= f.offset
	}
	return scores, nil
}

// Predict reports whether each row is an outlier.
func (f *Forest) Predict(X [][]float64) ([]bool, error) {
	dec, err := f.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(dec))
	for i, d := range dec {
		out[i] = d < 0
	}
	return out, nil
}

func (f *Forest) checkInput(op string, X [][]float64) error {
	if !f.Fitted() {
		return &domain.ModelError{Op: op, Msg: "forest is not fitted"}
	}
	for i, row := range X {
		if len(row) != f.width {
			return &domain.ModelError{Op: op, Msg: fmt.Sprintf("row %d has %d features, expected %d", i, len(row), f.width)}
		}
	}
	return nil
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
