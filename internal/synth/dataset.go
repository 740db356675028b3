package synth

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"iot-anomaly/internal/features"
)

// Label is the class of an example.
type Label int

const (
	Normal Label = 0
	Fault  Label = 1
)

func (l Label) String() string {
	switch l {
	case Normal:
		return "normal"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Example is one labeled feature vector.
type Example struct {
	Features features.Vector
	Label    Label
}

// Dataset keeps examples in generation order.
type Dataset struct {
	Examples []Example
}

// NewDataset returns an empty dataset with room for n examples.
func NewDataset(n int) *Dataset {
	return &Dataset{Examples: make([]Example, 0, n)}
}

// Append adds one example.
func (d *Dataset) Append(v features.Vector, label Label) {
	d.Examples = append(d.Examples, Example{Features: v, Label: label})
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Examples)
}

// ClassCounts returns the number of examples per label.
func (d *Dataset) ClassCounts() map[Label]int {
	counts := make(map[Label]int, 2)
	for _, ex := range d.Examples {
		counts[ex.Label]++
	}
	return counts
}

// Matrix returns the features as a Len x features.Count matrix.
func (d *Dataset) Matrix() *mat.Dense {
	if d.Len() == 0 {
		return &mat.Dense{}
	}
	data := make([]float64, 0, d.Len()*features.Count)
	for _, ex := range d.Examples {
		data = append(data, ex.Features[:]...)
	}
	return mat.NewDense(d.Len(), features.Count, data)
}

// Labels returns the labels as ints, aligned with Matrix rows.
func (d *Dataset) Labels() []int {
	out := make([]int, d.Len())
	for i, ex := range d.Examples {
		out[i] = int(ex.Label)
	}
	return out
}

// ClassSummary holds per-feature mean and standard deviation for one label.
type ClassSummary struct {
	Label  Label
	Count  int
	Mean   features.Vector
	StdDev features.Vector
}

// Summary describes each label present in the dataset, normal first.
func (d *Dataset) Summary() []ClassSummary {
	var out []ClassSummary
	for _, label := range []Label{Normal, Fault} {
		var cols [features.Count][]float64
		for _, ex := range d.Examples {
			if ex.Label != label {
				continue
			}
			for i, x := range ex.Features {
				cols[i] = append(cols[i], x)
			}
		}
		if len(cols[0]) == 0 {
			continue
		}

		s := ClassSummary{Label: label, Count: len(cols[0])}
		for i := range cols {
			s.Mean[i], s.StdDev[i] = stat.MeanStdDev(cols[i], nil)
		}
		out = append(out, s)
	}
	return out
}
