package scale

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/chrissnell/occuscale/internal/changepoint"
	"github.com/chrissnell/occuscale/internal/community"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Regime is a contiguous run of thresholds whose partitions agree.
// Start and End are inclusive 1-based threshold indices.
type Regime struct {
	Start             int     `json:"start"`
	End               int     `json:"end"`
	Prototype         int     `json:"prototype"`
	PrototypeDistance float64 `json:"prototype_distance"`
}

// Result is the critical-scale analysis of one time slice
type Result struct {
	Agreement         *mat.SymDense `json:"-"`
	Boundaries        []int         `json:"boundaries"`
	BoundaryDistances []float64     `json:"boundary_distances"`
	Regimes           []Regime      `json:"regimes"`
}

// Detector locates scale regimes from the agreement between partitions.
// Global searches the whole threshold axis; Fine, when set, searches the
// lowest-distance quartile again to resolve change points at small radii.
type Detector struct {
	Global  changepoint.Detector
	Fine    changepoint.Detector
	Workers int
}

// Detect scores every pair of partitions, segments the agreement matrix
// and summarises each regime. Boundaries are regime starts, strictly
// increasing, and always begin at threshold 1.
func (d *Detector) Detect(ctx context.Context, parts *Partitions, dist mat.Symmetric) (*Result, error) {
	thresholds := len(parts.Memberships)
	if thresholds == 0 {
		return nil, fmt.Errorf("no partitions to compare")
	}
	if d.Global == nil {
		return nil, fmt.Errorf("no change-point detector configured")
	}

	agreement, err := d.agreement(ctx, parts.Memberships)
	if err != nil {
		return nil, err
	}

	rows := make([][]float64, thresholds)
	for i := range rows {
		rows[i] = mat.Row(nil, i, agreement)
	}

	starts := d.Global.Detect(rows)
	if quartile := thresholds / 4; d.Fine != nil && quartile >= 2 {
		fine := make([][]float64, quartile)
		for i := range fine {
			fine[i] = rows[i][:quartile]
		}
		starts = append(starts, d.Fine.Detect(fine)...)
	}
	boundaries := mergeBoundaries(starts)

	quantile := NewQuantileFunc(dist, thresholds)
	res := &Result{
		Agreement:         agreement,
		Boundaries:        boundaries,
		BoundaryDistances: make([]float64, len(boundaries)),
		Regimes:           make([]Regime, len(boundaries)),
	}
	for k, b := range boundaries {
		end := thresholds
		if k+1 < len(boundaries) {
			end = boundaries[k+1] - 1
		}
		proto := prototype(agreement, b, end)
		res.BoundaryDistances[k] = quantile.At(b)
		res.Regimes[k] = Regime{
			Start:             b,
			End:               end,
			Prototype:         proto,
			PrototypeDistance: quantile.At(proto),
		}
	}
	return res, nil
}

// agreement builds the symmetric matrix of adjusted Rand indices between
// every pair of partitions, one row per goroutine.
func (d *Detector) agreement(ctx context.Context, memberships [][]int) (*mat.SymDense, error) {
	n := len(memberships)
	cells := make([][]float64, n)

	workers := d.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := make([]float64, n)
			for j := i; j < n; j++ {
				ari, err := community.AdjustedRand(memberships[i], memberships[j])
				if err != nil {
					return fmt.Errorf("comparing thresholds %d and %d: %w", i+1, j+1, err)
				}
				row[j] = ari
			}
			cells[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	agreement := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			agreement.SetSym(i, j, cells[i][j])
		}
	}
	return agreement, nil
}

// mergeBoundaries converts 0-based regime starts into sorted, distinct
// 1-based threshold indices beginning at 1.
func mergeBoundaries(starts []int) []int {
	seen := map[int]bool{1: true}
	out := []int{1}
	for _, s := range starts {
		if b := s + 1; !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Ints(out)
	return out
}

// prototype returns the threshold in [start, end] (1-based, inclusive)
// with the largest total agreement with the rest of the block. The lowest
// index wins ties.
func prototype(agreement mat.Symmetric, start, end int) int {
	best, bestSum := start, math.Inf(-1)
	for i := start; i <= end; i++ {
		sum := 0.0
		for j := start; j <= end; j++ {
			sum += agreement.At(i-1, j-1)
		}
		if sum > bestSum {
			best, bestSum = i, sum
		}
	}
	return best
}
