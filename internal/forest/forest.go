// Package forest implements the random forest classifier used to separate
// normal background noise from fault tones. Trees are CART trees grown on
// bootstrap resamples with a random feature subset per split; the forest
// predicts by averaging the leaf class distributions of its trees.
//
// Trees are stored as flat node arrays so that they can be serialized to JSON
// and emitted as inline C code without any further conversion.
package forest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotFitted = errors.New("forest: model is not fitted")
	ErrShape     = errors.New("forest: input shape mismatch")
)

// Params configures the forest.
type Params struct {
	NEstimators     int    `json:"n_estimators"`
	MaxDepth        int    `json:"max_depth"` // <= 0 means unlimited
	MinSamplesSplit int    `json:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf"`
	MaxFeatures     int    `json:"max_features"` // <= 0 means floor(sqrt(n_features))
	Bootstrap       bool   `json:"bootstrap"`
	RandomState     uint64 `json:"random_state"`
	Jobs            int    `json:"-"` // <= 0 means GOMAXPROCS
}

// DefaultParams returns 30 trees of depth at most 7 seeded with 42.
func DefaultParams() Params {
	return Params{
		NEstimators:     30,
		MaxDepth:        7,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		RandomState:     42,
	}
}

func (p Params) maxFeatures(nFeatures int) int {
	if p.MaxFeatures > 0 {
		return min(p.MaxFeatures, nFeatures)
	}
	return max(1, int(math.Sqrt(float64(nFeatures))))
}

// Forest is a fitted (or not yet fitted) random forest.
type Forest struct {
	Params    Params `json:"params"`
	NClasses  int    `json:"n_classes"`
	NFeatures int    `json:"n_features"`
	Trees     []Tree `json:"trees"`
}

// New returns an unfitted forest.
func New(p Params) *Forest {
	return &Forest{Params: p}
}

// Fitted reports whether Fit has completed.
func (f *Forest) Fitted() bool {
	return len(f.Trees) > 0
}

// Validate checks that a forest read from outside Fit can be walked: every
// tree is non-empty, splits use a known feature and point forward to nodes of
// the same tree, and every node holds NClasses probabilities.
func (f *Forest) Validate() error {
	if !f.Fitted() {
		return ErrNotFitted
	}
	if f.NFeatures < 1 || f.NClasses < 1 {
		return fmt.Errorf("%w: %d features, %d classes", ErrShape, f.NFeatures, f.NClasses)
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(f.NFeatures, f.NClasses); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func rows(x mat.Matrix) [][]float64 {
	r, _ := x.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, x)
	}
	return out
}

// Fit grows the trees on x (samples by features) and labels y. Labels must be
// 0..k-1. Every tree gets a seed drawn up front from RandomState, so the fitted
// forest does not depend on Jobs.
func (f *Forest) Fit(x mat.Matrix, y []int) error {
	r, c := x.Dims()
	if r == 0 || c == 0 {
		return fmt.Errorf("%w: empty training matrix", ErrShape)
	}
	if len(y) != r {
		return fmt.Errorf("%w: %d rows but %d labels", ErrShape, r, len(y))
	}
	if f.Params.NEstimators <= 0 {
		return fmt.Errorf("n_estimators must be positive, got %d", f.Params.NEstimators)
	}

	nClasses := 2
	for i, label := range y {
		if label < 0 {
			return fmt.Errorf("label %d at row %d is negative", label, i)
		}
		nClasses = max(nClasses, label+1)
	}

	data := rows(x)
	for i, row := range data {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite value %v at row %d, column %d", v, i, j)
			}
		}
	}

	seeder := rand.New(rand.NewPCG(f.Params.RandomState, f.Params.RandomState+1))
	seeds := make([]uint64, f.Params.NEstimators)
	for i := range seeds {
		seeds[i] = seeder.Uint64()
	}

	jobs := f.Params.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	trees := make([]Tree, f.Params.NEstimators)
	var g errgroup.Group
	g.SetLimit(jobs)
	for i := range trees {
		g.Go(func() error {
			trees[i] = f.growTree(data, y, nClasses, seeds[i])
			return nil
		})
	}
	_ = g.Wait() // growTree never fails once the input is validated

	f.Trees = trees
	f.NClasses = nClasses
	f.NFeatures = c
	return nil
}

func (f *Forest) growTree(x [][]float64, y []int, nClasses int, seed uint64) Tree {
	rng := rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))

	idx := make([]int, len(x))
	if f.Params.Bootstrap {
		for i := range idx {
			idx[i] = rng.IntN(len(x))
		}
	} else {
		for i := range idx {
			idx[i] = i
		}
	}

	b := &treeBuilder{
		x:        x,
		y:        y,
		nClasses: nClasses,
		params:   f.Params,
		nFeat:    len(x[0]),
		rng:      rng,
	}
	b.build(idx, 0)
	return Tree{Nodes: b.nodes}
}

// PredictProba averages the leaf distributions of all trees.
func (f *Forest) PredictProba(x []float64) ([]float64, error) {
	if !f.Fitted() {
		return nil, ErrNotFitted
	}
	if len(x) != f.NFeatures {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrShape, len(x), f.NFeatures)
	}

	proba := make([]float64, f.NClasses)
	for i := range f.Trees {
		floats.Add(proba, f.Trees[i].PredictProba(x))
	}
	floats.Scale(1/float64(len(f.Trees)), proba)
	return proba, nil
}

// Predict returns the most probable class; ties go to the lower class.
func (f *Forest) Predict(x []float64) (int, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return floats.MaxIdx(proba), nil
}

// PredictAll predicts every row of x.
func (f *Forest) PredictAll(x mat.Matrix) ([]int, error) {
	r, _ := x.Dims()
	out := make([]int, r)
	for i := range out {
		label, err := f.Predict(mat.Row(nil, i, x))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = label
	}
	return out, nil
}

// Score returns the fraction of rows of x whose prediction matches y.
func (f *Forest) Score(x mat.Matrix, y []int) (float64, error) {
	pred, err := f.PredictAll(x)
	if err != nil {
		return 0, err
	}
	if len(pred) != len(y) {
		return 0, fmt.Errorf("%w: %d rows but %d labels", ErrShape, len(pred), len(y))
	}
	if len(y) == 0 {
		return 0, nil
	}

	hits := 0
	for i := range y {
		if pred[i] == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(y)), nil
}

// NodeCount returns the total number of nodes over all trees.
func (f *Forest) NodeCount() int {
	n := 0
	for i := range f.Trees {
		n += len(f.Trees[i].Nodes)
	}
	return n
}
