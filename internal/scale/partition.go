// Package scale finds the spatial scales at which site communities are
// stable: it partitions a similarity graph at a ladder of distance
// thresholds and locates regimes of mutually agreeing partitions.
package scale

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"slices"
	"sort"

	"github.com/chrissnell/occuscale/internal/community"
	"github.com/chrissnell/occuscale/internal/similarity"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultThresholds is the number of distance percentiles partitioned
const DefaultThresholds = 100

// Partitioner runs community detection once per distance threshold
type Partitioner struct {
	Thresholds int
	Seed       uint64
	Resolution float64
	Workers    int
}

// Partitions holds one membership vector per threshold. Index p-1 holds
// threshold p.
type Partitions struct {
	Radii       []float64 `json:"radii"`
	Memberships [][]int   `json:"memberships"`
}

// Partition masks the similarity graph to pairs within each threshold
// radius and partitions the result. Threshold p admits pairs no farther
// apart than the p/T quantile of all pairwise distances. Thresholds that
// admit the same number of pairs see the same graph and share one
// partition, seeded by that count, so the result does not depend on
// scheduling and an unchanged graph never changes partition.
func (p *Partitioner) Partition(ctx context.Context, sim, dist mat.Symmetric) (*Partitions, error) {
	n := sim.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("no sites to partition")
	}
	if dist.SymmetricDim() != n {
		return nil, fmt.Errorf("similarity covers %d sites but distance covers %d", n, dist.SymmetricDim())
	}
	if p.Thresholds < 1 {
		return nil, fmt.Errorf("threshold count must be positive, got %d", p.Thresholds)
	}

	quantile := NewQuantileFunc(dist, p.Thresholds)
	out := &Partitions{
		Radii:       make([]float64, p.Thresholds),
		Memberships: make([][]int, p.Thresholds),
	}

	// Radii are non-decreasing, so equal admitted counts form runs
	admitted := make([]int, p.Thresholds)
	var firsts []int
	for t := 1; t <= p.Thresholds; t++ {
		out.Radii[t-1] = quantile.At(t)
		admitted[t-1] = quantile.Admitted(out.Radii[t-1])
		if t == 1 || admitted[t-1] != admitted[t-2] {
			firsts = append(firsts, t-1)
		}
	}

	workers := p.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, first := range firsts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			adj := mask(sim, dist, out.Radii[first])
			src := rand.NewPCG(p.Seed, uint64(admitted[first]))

			// Each goroutine owns its own slot
			out.Memberships[first] = community.Louvain(adj, p.Resolution, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range out.Memberships {
		if out.Memberships[i] == nil {
			out.Memberships[i] = slices.Clone(out.Memberships[i-1])
		}
	}
	return out, nil
}

// mask keeps the similarity of pairs no farther apart than radius. The
// diagonal is copied through unchanged.
func mask(sim, dist mat.Symmetric, radius float64) *mat.SymDense {
	n := sim.SymmetricDim()
	adj := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		adj.SetSym(i, i, sim.At(i, i))
		for j := i + 1; j < n; j++ {
			if dist.At(i, j) <= radius {
				adj.SetSym(i, j, sim.At(i, j))
			}
		}
	}
	return adj
}

// QuantileFunc maps threshold indices 1..T to distances: index p is the
// p/T empirical quantile of the pairwise distances, linearly interpolated.
type QuantileFunc struct {
	sorted     []float64
	thresholds int
}

// NewQuantileFunc builds the quantile function of a distance matrix
func NewQuantileFunc(dist mat.Symmetric, thresholds int) QuantileFunc {
	pairs := similarity.Pairwise(dist)
	sort.Float64s(pairs)
	return QuantileFunc{sorted: pairs, thresholds: thresholds}
}

// At returns the distance of threshold index p. With no pairs every
// threshold is at distance 0.
func (q QuantileFunc) At(p int) float64 {
	if len(q.sorted) == 0 {
		return 0
	}
	f := float64(p) / float64(q.thresholds)
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return stat.Quantile(f, stat.LinInterp, q.sorted, nil)
}

// Admitted returns the number of site pairs no farther apart than radius
func (q QuantileFunc) Admitted(radius float64) int {
	return sort.Search(len(q.sorted), func(i int) bool { return q.sorted[i] > radius })
}
