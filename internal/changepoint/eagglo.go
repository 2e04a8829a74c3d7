package changepoint

import (
	"math"
	"math/rand/v2"
	"slices"
)

// fitTolerance absorbs rounding noise when comparing goodness-of-fit values
const fitTolerance = 1e-9

// Significance configures the permutation test that bounds how many change
// points E-Agglo may report. A split is significant when the share of
// within-cluster permutations whose best split is at least as strong as
// the observed one, counting the observation itself, is at most Level.
// Zero Permutations accepts every split.
type Significance struct {
	Level        float64
	Permutations int
	Seed         uint64
}

// EAgglo implements agglomerative energy-statistics segmentation. Every
// observation starts as its own cluster; adjacent clusters are merged one
// pair at a time, always choosing the merge that leaves the largest total
// divergence between neighbours. Read backwards, the merge path is a
// sequence of splits; only the leading run of significant splits is
// admitted, and the segmentation with the best penalised fit among those
// is returned.
type EAgglo struct {
	alpha   float64
	penalty float64
	sig     Significance
}

// NewEAgglo creates an E-Agglo detector. alpha is the distance exponent,
// in (0,2); penalty is charged per change point.
func NewEAgglo(alpha, penalty float64, sig Significance) *EAgglo {
	return &EAgglo{alpha: alpha, penalty: penalty, sig: sig}
}

// Detect returns the regime starts of the best segmentation. Ties on
// penalised fit go to the segmentation with fewer change points. Detect
// keeps no state between calls.
func (e *EAgglo) Detect(rows [][]float64) []int {
	n := len(rows)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Pow(math.Sqrt(squaredDistance(rows[i], rows[j])), e.alpha)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	sums := newBlockSums(dist)

	// Clusters are contiguous: starts[k] is where cluster k begins, and
	// cluster k ends where cluster k+1 begins (or at n).
	starts := make([]int, n)
	for i := range starts {
		starts[i] = i
	}
	end := func(k int) int {
		if k+1 < len(starts) {
			return starts[k+1]
		}
		return n
	}

	// divergence between adjacent clusters [a0,a1) and [a1,b1)
	divergence := func(a0, a1, b1 int) float64 {
		return energy(sums, a0, a1, b1)
	}

	fit := 0.0
	for k := 0; k+1 < len(starts); k++ {
		fit += divergence(starts[k], end(k), end(k+1))
	}

	// states[c] is the segmentation with c change points on the merge path
	states := make([][]int, n)
	fits := make([]float64, n)
	states[n-1], fits[n-1] = slices.Clone(starts), fit

	for len(starts) > 1 {
		mergeAt, mergeFit := -1, math.Inf(-1)
		for k := 0; k+1 < len(starts); k++ {
			lo, mid, hi := starts[k], end(k), end(k+1)

			next := fit - divergence(lo, mid, hi)
			if k > 0 {
				prev := starts[k-1]
				next += divergence(prev, lo, hi) - divergence(prev, lo, mid)
			}
			if k+2 < len(starts) {
				far := end(k + 2)
				next += divergence(lo, hi, far) - divergence(mid, hi, far)
			}

			if next > mergeFit+fitTolerance {
				mergeAt, mergeFit = k, next
			}
		}

		starts = append(starts[:mergeAt+1], starts[mergeAt+2:]...)
		fit = mergeFit

		c := len(starts) - 1
		states[c], fits[c] = slices.Clone(starts), fit
	}
	// A single cluster has no neighbours
	fits[0] = 0

	limit := e.significantSplits(dist, states)
	best, bestScore := 0, fits[0]
	for c := 1; c <= limit; c++ {
		if score := fits[c] - e.penalty*float64(c); score > bestScore+fitTolerance {
			best, bestScore = c, score
		}
	}
	return states[best]
}

// significantSplits walks the merge path from a single regime upwards and
// returns the number of leading splits that pass the permutation test.
func (e *EAgglo) significantSplits(dist [][]float64, states [][]int) int {
	if e.sig.Permutations <= 0 {
		return len(states) - 1
	}
	n := len(dist)
	rng := rand.New(rand.NewPCG(e.sig.Seed, uint64(n)))
	for c := 0; c+1 < len(states); c++ {
		lo, hi := splitCluster(states[c], states[c+1], n)
		if !e.significant(dist, lo, hi, rng) {
			return c
		}
	}
	return len(states) - 1
}

// significant tests whether the cluster [lo,hi) holds a change point. The
// statistic is the strongest single split of the cluster; permutations
// shuffle the cluster's rows and repeat the search.
func (e *EAgglo) significant(dist [][]float64, lo, hi int, rng *rand.Rand) bool {
	m := hi - lo
	order := make([]int, m)
	for i := range order {
		order[i] = lo + i
	}
	sub := make([][]float64, m)
	for i := range sub {
		sub[i] = make([]float64, m)
	}

	observed := strongestSplit(dist, order, sub)
	exceed := 0
	for r := 0; r < e.sig.Permutations; r++ {
		rng.Shuffle(m, func(i, j int) { order[i], order[j] = order[j], order[i] })
		if strongestSplit(dist, order, sub) >= observed-fitTolerance {
			exceed++
		}
	}

	p := float64(1+exceed) / float64(1+e.sig.Permutations)
	return p <= e.sig.Level
}

// strongestSplit returns the largest energy between the two sides of any
// split of the rows listed in order. sub is scratch space of matching size.
func strongestSplit(dist [][]float64, order []int, sub [][]float64) float64 {
	m := len(order)
	for i, oi := range order {
		for j, oj := range order {
			sub[i][j] = dist[oi][oj]
		}
	}
	sums := newBlockSums(sub)

	best := math.Inf(-1)
	for t := 1; t < m; t++ {
		best = math.Max(best, energy(sums, 0, t, m))
	}
	return best
}

// splitCluster returns the cluster of prev that next divides. next is
// prev with one more start.
func splitCluster(prev, next []int, n int) (int, int) {
	k := 0
	for k < len(prev) && prev[k] == next[k] {
		k++
	}
	hi := n
	if k < len(prev) {
		hi = prev[k]
	}
	return prev[k-1], hi
}

// energy returns the scaled energy distance between the adjacent blocks
// [a0,a1) and [a1,b1):
//
//	mn/(m+n) * (2/(mn) * between - within_A/(m(m-1)) - within_B/(n(n-1)))
//
// where within sums cover ordered pairs. A block of one observation has no
// within term.
func energy(sums blockSums, a0, a1, b1 int) float64 {
	m := float64(a1 - a0)
	n := float64(b1 - a1)

	q := 2 / (m * n) * sums.sum(a0, a1, a1, b1)
	if m > 1 {
		q -= sums.sum(a0, a1, a0, a1) / (m * (m - 1))
	}
	if n > 1 {
		q -= sums.sum(a1, b1, a1, b1) / (n * (n - 1))
	}
	return m * n / (m + n) * q
}
