package changepoint

import (
	"math"
	"sort"
)

// RBFCost implements the Radial Basis Function kernel cost over
// multivariate observations. The Gram matrix is reduced to prefix sums,
// so Error runs in constant time.
type RBFCost struct {
	gamma    float64
	sums     blockSums
	nSamples int
}

// medianGamma calculates gamma using the median heuristic:
// gamma = 1 / median(positive pairwise squared distances)
func medianGamma(rows [][]float64) float64 {
	var distances []float64
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			if d := squaredDistance(rows[i], rows[j]); d > 0 {
				distances = append(distances, d)
			}
		}
	}
	if len(distances) == 0 {
		return 1.0
	}

	sort.Float64s(distances)
	median := distances[len(distances)/2]
	if median == 0 {
		return 1.0
	}
	return 1.0 / median
}

// FitRBF computes the Gram matrix of the rows and its prefix sums.
// gram[i][j] = exp(-gamma * |x_i - x_j|^2). The returned cost is read-only.
func FitRBF(rows [][]float64) *RBFCost {
	r := &RBFCost{
		nSamples: len(rows),
		gamma:    medianGamma(rows),
	}

	gram := make([][]float64, r.nSamples)
	for i := range gram {
		gram[i] = make([]float64, r.nSamples)
		for j := range gram[i] {
			gram[i][j] = math.Exp(-r.gamma * squaredDistance(rows[i], rows[j]))
		}
	}
	r.sums = newBlockSums(gram)
	return r
}

// Error computes the kernel cost of the segment [start, end):
// sum(diagonal) - sum(all) / length. The diagonal of an RBF Gram matrix
// is all ones.
func (r *RBFCost) Error(start, end int) float64 {
	if start >= end || start < 0 || end > r.nSamples {
		return math.Inf(1)
	}
	length := float64(end - start)
	return length - r.sums.sum(start, end, start, end)/length
}
