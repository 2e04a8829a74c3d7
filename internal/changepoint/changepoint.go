// Package changepoint segments a sequence of multivariate observations
// into contiguous regimes using pluggable search strategies.
package changepoint

import (
	"fmt"
	"math"
)

// Detector defines the interface for change-point search strategies.
// Implementations can use energy statistics, kernel costs, or other methods.
type Detector interface {
	// Detect returns the 0-based index at which each regime starts. The
	// first start is always 0. An empty input yields no regimes.
	Detect(rows [][]float64) []int
}

// Method identifies the search strategy
type Method string

const (
	// MethodEAgglo uses agglomerative energy-statistics segmentation
	MethodEAgglo Method = "eagglo"

	// MethodPELT uses pruned exact linear time search with an RBF kernel cost
	MethodPELT Method = "pelt"
)

const (
	// DefaultSigLevel is the permutation-test level a split must reach
	DefaultSigLevel = 0.05

	// DefaultPermutations is the number of permutations per split test
	DefaultPermutations = 199
)

// Options parameterise a Detector. Alpha, SigLevel, Permutations and Seed
// apply to MethodEAgglo, MinSize to MethodPELT; Penalty is charged per
// change point by both. A zero SigLevel or Permutations takes the default.
type Options struct {
	Alpha        float64
	Penalty      float64
	MinSize      int
	SigLevel     float64
	Permutations int
	Seed         uint64
}

// New creates a Detector for the given method
func New(method Method, opts Options) (Detector, error) {
	if opts.Penalty < 0 || math.IsNaN(opts.Penalty) {
		return nil, fmt.Errorf("penalty must be non-negative, got %v", opts.Penalty)
	}

	switch method {
	case MethodEAgglo:
		if !(opts.Alpha > 0 && opts.Alpha < 2) {
			return nil, fmt.Errorf("alpha must be in (0,2), got %v", opts.Alpha)
		}
		sig := Significance{Level: opts.SigLevel, Permutations: opts.Permutations, Seed: opts.Seed}
		if sig.Level == 0 {
			sig.Level = DefaultSigLevel
		}
		if sig.Permutations == 0 {
			sig.Permutations = DefaultPermutations
		}
		if !(sig.Level > 0 && sig.Level <= 1) {
			return nil, fmt.Errorf("significance level must be in (0,1], got %v", sig.Level)
		}
		if sig.Permutations < 0 {
			return nil, fmt.Errorf("permutation count must not be negative, got %d", sig.Permutations)
		}
		return NewEAgglo(opts.Alpha, opts.Penalty, sig), nil
	case MethodPELT:
		if opts.MinSize < 1 {
			return nil, fmt.Errorf("minimum segment size must be at least 1, got %d", opts.MinSize)
		}
		return NewPeltDetector(opts.MinSize, opts.Penalty), nil
	default:
		return nil, fmt.Errorf("unknown change-point method %q", method)
	}
}

// squaredDistance returns the squared Euclidean distance between two rows
func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for k := range a {
		d := a[k] - b[k]
		sum += d * d
	}
	return sum
}

// blockSums holds two-dimensional prefix sums of a square matrix so that
// the sum over any rectangular block costs O(1).
type blockSums [][]float64

func newBlockSums(m [][]float64) blockSums {
	n := len(m)
	p := make(blockSums, n+1)
	for i := range p {
		p[i] = make([]float64, n+1)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p[i+1][j+1] = m[i][j] + p[i][j+1] + p[i+1][j] - p[i][j]
		}
	}
	return p
}

// sum returns the total of m[r0:r1][c0:c1]
func (p blockSums) sum(r0, r1, c0, c1 int) float64 {
	return p[r1][c1] - p[r0][c1] - p[r1][c0] + p[r0][c0]
}
