package iforest

import (
	"math"
	"math/rand"
)

// eulerGamma is the Euler-Mascheroni constant.
const eulerGamma = 0.5772156649015329

// Node is one node of an isolation tree. Leaves have Left == Right == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Depth     int

	// Size is the number of training samples that reached the node.
	Size int

	// PathLength is Depth + AveragePathLength(Size), set on leaves only.
	PathLength float64
}

// IsLeaf reports whether the node is terminal.
func (n *Node) IsLeaf() bool { return n.Left < 0 }

// Tree is an isolation tree stored as a flat node slice with the root at index 0.
type Tree struct {
	Nodes []Node
}

// PathLength returns the path length of x through the tree.
// x goes left when x[feature] <= threshold.
func (t *Tree) PathLength(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n.PathLength
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// AveragePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func AveragePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// builder grows one tree from a sample of row indices.
type builder struct {
	X        [][]float64
	rng      *rand.Rand
	maxDepth int
	tree     *Tree
}

func (b *builder) grow(rows []int, depth int) int {
	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{Left: -1, Right: -1, Depth: depth, Size: len(rows)})

	if depth >= b.maxDepth || len(rows) <= 1 {
		b.leaf(idx)
		return idx
	}

	feature, lo, hi, ok := b.pickFeature(rows)
	if !ok {
		// every row identical
		b.leaf(idx)
		return idx
	}

	threshold := lo + b.rng.Float64()*(hi-lo)
	if threshold >= hi {
		threshold = lo
	}

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if b.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)

	n := &b.tree.Nodes[idx]
	n.Feature = feature
	n.Threshold = threshold
	n.Left = l
	n.Right = r
	return idx
}

func (b *builder) leaf(idx int) {
	n := &b.tree.Nodes[idx]
	n.PathLength = float64(n.Depth) + AveragePathLength(n.Size)
}

// pickFeature draws features in random order until one is not constant over rows.
func (b *builder) pickFeature(rows []int) (feature int, lo, hi float64, ok bool) {
	width := len(b.X[rows[0]])
	for _, f := range b.rng.Perm(width) {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, r := range rows {
			v := b.X[r][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return f, lo, hi, true
		}
	}
	return 0, 0, 0, false
}
