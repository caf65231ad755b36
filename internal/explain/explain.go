// Package explain attributes isolation forest outputs to individual features
// using interventional Tree SHAP against a background sample.
//
// The explained output of a row x is g(x) = -E[h(x)], the negated mean path
// length across trees, so a positive contribution pushes the row toward
// "anomalous". For every tree and every background reference r the exact
// Shapley values of the single-reference game v(S) = g(x_S, r_rest) are found
// by walking the leaves reachable when each split feature is taken either from
// x or from r. Averaging over trees and references preserves local accuracy:
// the contributions sum to g(x) - mean(g(r)).
package explain

import (
	"context"
	"fmt"
	"math/bits"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/iforest"
)

// Defaults applied by NewExplainer.
const (
	DefaultBackgroundSize = 100
	DefaultSeed           = 42
	DefaultTopN           = 3
)

// maxWidth is the widest feature vector a uint64 feature set can hold.
const maxWidth = 64

// Explainer computes attributions for one fitted forest.
type Explainer struct {
	model      *iforest.Forest
	background [][]float64
	base       float64
	workers    int
	size       int
	seed       int64

	// weights[a][b] = a! b! / (a+b+1)!
	weights [][]float64
}

// Option configures an Explainer.
type Option func(*Explainer)

// WithBackgroundSize caps the number of reference rows.
func WithBackgroundSize(n int) Option {
	return func(e *Explainer) { e.size = n }
}

// WithSeed sets the seed used to subsample the background.
func WithSeed(seed int64) Option {
	return func(e *Explainer) { e.seed = seed }
}

// WithWorkers bounds how many rows are explained in parallel. Zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Explainer) { e.workers = n }
}

// NewExplainer prepares an explainer over a fitted forest. The background is
// subsampled deterministically to at most the configured size.
func NewExplainer(model *iforest.Forest, background [][]float64, opts ...Option) *Explainer {
	e := &Explainer{
		model: model,
		size:  DefaultBackgroundSize,
		seed:  DefaultSeed,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	if e.size <= 0 {
		e.size = DefaultBackgroundSize
	}

	e.background = subsample(background, e.size, e.seed)

	if len(e.background) > 0 && model != nil && model.Fitted() {
		outputs := make([]float64, len(e.background))
		for i, r := range e.background {
			outputs[i] = -model.PathLength(r)
		}
		e.base = floats.Sum(outputs) / float64(len(outputs))
	}

	if model != nil {
		e.weights = shapleyWeights(model.Width())
	}
	return e
}

// Base returns the expected output over the background sample.
func (e *Explainer) Base() float64 { return e.base }

// BackgroundSize returns the number of reference rows in use.
func (e *Explainer) BackgroundSize() int { return len(e.background) }

// Explain attributes each row of X.
func (e *Explainer) Explain(X [][]float64) ([]domain.Attribution, error) {
	return e.ExplainContext(context.Background(), X)
}

// ExplainContext attributes each row of X, stopping early if ctx is cancelled.
func (e *Explainer) ExplainContext(ctx context.Context, X [][]float64) ([]domain.Attribution, error) {
	const op = "explain.Explain"

	switch {
	case len(X) == 0:
		return nil, &domain.AttributionError{Op: op, Msg: "no rows to explain"}
	case len(e.background) == 0:
		return nil, &domain.AttributionError{Op: op, Msg: "background sample is empty"}
	case e.model == nil || !e.model.Fitted():
		return nil, &domain.AttributionError{Op: op, Msg: "model is not fitted"}
	case e.model.Width() > maxWidth:
		return nil, &domain.AttributionError{Op: op, Msg: fmt.Sprintf("at most %d features are supported", maxWidth)}
	}
	for i, x := range X {
		if len(x) != e.model.Width() {
			return nil, &domain.AttributionError{
				Op:  op,
				Msg: fmt.Sprintf("row %d has %d features, expected %d", i, len(x), e.model.Width()),
			}
		}
	}

	results := make([]domain.Attribution, len(X))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)

	for i := range X {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				return
			}
			results[idx] = e.explainRow(X[idx])
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("attribution cancelled: %w", err)
	}
	return results, nil
}

// explainRow averages single-reference Shapley values over trees and references.
func (e *Explainer) explainRow(x []float64) domain.Attribution {
	width := e.model.Width()
	phi := make([]float64, width)
	trees := e.model.Trees()

	w := &walker{x: x, phi: phi, weights: e.weights}
	for t := range trees {
		w.tree = &trees[t]
		for _, r := range e.background {
			w.ref = r
			w.walk(0, 0, 0)
		}
	}
	floats.Scale(1/float64(len(trees)*len(e.background)), phi)

	contribs := make([]domain.Contribution, width)
	for i, v := range phi {
		contribs[i] = domain.Contribution{
			Feature:   domain.Feature(i),
			Value:     v,
			Direction: direction(v),
		}
	}

	return domain.Attribution{
		Base:          e.base,
		Output:        -e.model.PathLength(x),
		Contributions: contribs,
	}
}

func direction(v float64) domain.Direction {
	if v > 0 {
		return domain.DirectionIncreased
	}
	return domain.DirectionReduced
}

// walker enumerates the leaves of one tree reachable by mixing x and ref.
type walker struct {
	tree    *iforest.Tree
	x       []float64
	ref     []float64
	phi     []float64
	weights [][]float64
}

// walk visits node i with feature set fromX (A) and fromRef (B).
func (w *walker) walk(i int, fromX, fromRef uint64) {
	n := &w.tree.Nodes[i]
	if n.IsLeaf() {
		w.credit(-n.PathLength, fromX, fromRef)
		return
	}

	xChild := child(n, w.x)
	rChild := child(n, w.ref)
	if xChild == rChild {
		w.walk(xChild, fromX, fromRef)
		return
	}

	bit := uint64(1) << uint(n.Feature)
	switch {
	case fromX&bit != 0:
		w.walk(xChild, fromX, fromRef)
	case fromRef&bit != 0:
		w.walk(rChild, fromX, fromRef)
	default:
		w.walk(xChild, fromX|bit, fromRef)
		w.walk(rChild, fromX, fromRef|bit)
	}
}

// credit distributes a leaf value: features in A gain v·(|A|-1)!|B|!/(|A|+|B|)!,
// features in B lose v·|A|!(|B|-1)!/(|A|+|B|)!.
func (w *walker) credit(v float64, fromX, fromRef uint64) {
	a := bits.OnesCount64(fromX)
	b := bits.OnesCount64(fromRef)

	if a > 0 {
		gain := v * w.weights[a-1][b]
		for s := fromX; s != 0; s &= s - 1 {
			w.phi[bits.TrailingZeros64(s)] += gain
		}
	}
	if b > 0 {
		loss := v * w.weights[b-1][a]
		for s := fromRef; s != 0; s &= s - 1 {
			w.phi[bits.TrailingZeros64(s)] -= loss
		}
	}
}

func child(n *iforest.Node, x []float64) int {
	if x[n.Feature] <= n.Threshold {
		return n.Left
	}
	return n.Right
}

// shapleyWeights returns w[p][q] = p! q! / (p+q+1)! for p+q < width.
func shapleyWeights(width int) [][]float64 {
	fact := make([]float64, width+1)
	fact[0] = 1
	for i := 1; i <= width; i++ {
		fact[i] = fact[i-1] * float64(i)
	}
	w := make([][]float64, width)
	for p := range w {
		w[p] = make([]float64, width)
		for q := 0; p+q < width; q++ {
			w[p][q] = fact[p] * fact[q] / fact[p+q+1]
		}
	}
	return w
}

// subsample picks at most n rows with a seeded RNG, keeping their original order.
func subsample(rows [][]float64, n int, seed int64) [][]float64 {
	if len(rows) <= n {
		return rows
	}
	idx := rand.New(rand.NewSource(seed)).Perm(len(rows))[:n]
	sort.Ints(idx)
	out := make([][]float64, n)
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

// Score reconstructs the decision function value from an attribution.
func Score(a domain.Attribution, model *iforest.Forest) float64 {
	return model.DecisionFromPathLength(-(a.Base + a.Sum()))
}

// Rank drops zero contributions, orders the rest by descending magnitude
// (ties keep feature order) and keeps the first n. n <= 0 selects DefaultTopN.
func Rank(a domain.Attribution, n int) []domain.Contribution {
	if n <= 0 {
		n = DefaultTopN
	}
	out := make([]domain.Contribution, 0, len(a.Contributions))
	for _, c := range a.Contributions {
		if c.Value != 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Magnitude() > out[j].Magnitude()
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
