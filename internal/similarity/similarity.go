// Package similarity builds the site-by-site similarity and distance
// matrices for one time slice.
package similarity

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Percentages converts each row of counts into a composition summing to
// 100. A row with no counts is an error: it has no composition.
func Percentages(counts [][]float64) ([][]float64, error) {
	out := make([][]float64, len(counts))
	for i, row := range counts {
		total := floats.Sum(row)
		if total <= 0 {
			return nil, fmt.Errorf("row %d has no counts", i)
		}
		out[i] = make([]float64, len(row))
		floats.ScaleTo(out[i], 100/total, row)
	}
	return out, nil
}

// BrainerdRobinson returns the proportional similarity between every pair
// of rows: (200 - sum |p_i - p_j|) / 200 over percentage compositions,
// rounded to three decimals. Scores lie in [0, 1] and a row scores 1
// against itself.
func BrainerdRobinson(counts [][]float64) (*mat.SymDense, error) {
	n := len(counts)
	if n == 0 {
		return nil, fmt.Errorf("no rows")
	}
	width := len(counts[0])
	for i, row := range counts {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), width)
		}
	}

	pct, err := Percentages(counts)
	if err != nil {
		return nil, err
	}

	sim := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			d := floats.Distance(pct[i], pct[j], 1)
			sim.SetSym(i, j, round3((200-d)/200))
		}
	}
	return sim, nil
}

// Point is a site location in a projected coordinate system
type Point struct {
	X float64
	Y float64
}

// Distances returns the Euclidean distance between every pair of points
func Distances(points []Point) *mat.SymDense {
	n := len(points)
	if n == 0 {
		return &mat.SymDense{}
	}
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist.SetSym(i, j, math.Hypot(points[i].X-points[j].X, points[i].Y-points[j].Y))
		}
	}
	return dist
}

// Pairwise returns the strict upper triangle of a symmetric matrix
func Pairwise(m mat.Symmetric) []float64 {
	n := m.SymmetricDim()
	out := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
