package forest

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// Leaf marks a node without children.
const Leaf = -1

// Node is one entry of a flattened decision tree. Split nodes send a sample
// left when x[Feature] <= Threshold. Value holds the class distribution of the
// training samples that reached the node.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value"`
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.Feature == Leaf
}

// Tree is a decision tree stored depth-first with the root at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(x []float64) *Node {
	n := &t.Nodes[0]
	for !n.IsLeaf() {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n
}

// Children always sit after their parent, which also rules out cycles.
func (t *Tree) validate(nFeatures, nClasses int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: tree has no nodes", ErrShape)
	}
	for id := range t.Nodes {
		n := &t.Nodes[id]
		if len(n.Value) != nClasses {
			return fmt.Errorf("%w: node %d has %d values, want %d", ErrShape, id, len(n.Value), nClasses)
		}
		if n.IsLeaf() {
			continue
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return fmt.Errorf("%w: node %d splits on feature %d of %d", ErrShape, id, n.Feature, nFeatures)
		}
		for _, child := range [2]int{n.Left, n.Right} {
			if child <= id || child >= len(t.Nodes) {
				return fmt.Errorf("%w: node %d has child %d outside (%d, %d)", ErrShape, id, child, id, len(t.Nodes))
			}
		}
	}
	return nil
}

// PredictProba returns the class distribution of the leaf x falls into.
func (t *Tree) PredictProba(x []float64) []float64 {
	return t.leaf(x).Value
}

// Depth returns the number of split levels on the longest path.
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// treeBuilder grows one CART tree with Gini impurity.
type treeBuilder struct {
	x        [][]float64
	y        []int
	nClasses int
	params   Params
	nFeat    int
	rng      *rand.Rand
	nodes    []Node
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		sum += p * p
	}
	return 1 - sum
}

func (b *treeBuilder) counts(idx []int) []int {
	c := make([]int, b.nClasses)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

func (b *treeBuilder) leafValue(counts []int, total int) []float64 {
	v := make([]float64, b.nClasses)
	for i, c := range counts {
		v[i] = float64(c) / float64(total)
	}
	return v
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
	pos       int // left side is sorted[:pos]
	sorted    []int
}

// bestSplitOn scans the sorted values of one feature for the lowest weighted
// child impurity. ok is false when the feature is constant over idx or no cut
// respects MinSamplesLeaf.
func (b *treeBuilder) bestSplitOn(idx []int, feature int, total []int) (best split, ok bool) {
	sorted := slices.Clone(idx)
	slices.SortStableFunc(sorted, func(i, j int) int {
		xi, xj := b.x[i][feature], b.x[j][feature]
		switch {
		case xi < xj:
			return -1
		case xi > xj:
			return 1
		}
		return 0
	})

	n := len(sorted)
	left := make([]int, b.nClasses)
	right := slices.Clone(total)
	minLeaf := max(b.params.MinSamplesLeaf, 1)

	for pos := 1; pos < n; pos++ {
		cls := b.y[sorted[pos-1]]
		left[cls]++
		right[cls]--

		lo, hi := b.x[sorted[pos-1]][feature], b.x[sorted[pos]][feature]
		if lo >= hi || pos < minLeaf || n-pos < minLeaf {
			continue
		}

		imp := (float64(pos)*gini(left, pos) + float64(n-pos)*gini(right, n-pos)) / float64(n)
		if !ok || imp < best.impurity {
			threshold := lo + (hi-lo)/2
			if threshold >= hi {
				threshold = lo
			}
			best = split{feature: feature, threshold: threshold, impurity: imp, pos: pos}
			ok = true
		}
	}
	if ok {
		best.sorted = sorted
	}
	return best, ok
}

// findSplit draws candidate features in random order and stops once at least
// MaxFeatures have been examined and a valid split was found.
func (b *treeBuilder) findSplit(idx []int, total []int) (split, bool) {
	var (
		best  split
		found bool
	)
	maxFeatures := b.params.maxFeatures(b.nFeat)
	for visited, f := range b.rng.Perm(b.nFeat) {
		if visited >= maxFeatures && found {
			break
		}
		s, ok := b.bestSplitOn(idx, f, total)
		if ok && (!found || s.impurity < best.impurity) {
			best, found = s, true
		}
	}
	return best, found
}

func (b *treeBuilder) build(idx []int, depth int) int {
	total := b.counts(idx)
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature: Leaf,
		Left:    Leaf,
		Right:   Leaf,
		Value:   b.leafValue(total, len(idx)),
	})

	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return id
	}
	if len(idx) < max(b.params.MinSamplesSplit, 2) || gini(total, len(idx)) == 0 {
		return id
	}

	s, ok := b.findSplit(idx, total)
	if !ok {
		return id
	}

	left := b.build(s.sorted[:s.pos], depth+1)
	right := b.build(s.sorted[s.pos:], depth+1)

	n := &b.nodes[id]
	n.Feature = s.feature
	n.Threshold = s.threshold
	n.Left = left
	n.Right = right
	return id
}
