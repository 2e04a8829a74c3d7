// Package pipeline runs the per-site and per-slice stages of an analysis
// concurrently. A failing unit is recorded and skipped; it never stops its
// siblings.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/chrissnell/occuscale/internal/community"
	"github.com/chrissnell/occuscale/internal/diag"
	"github.com/chrissnell/occuscale/internal/scale"
	"github.com/chrissnell/occuscale/internal/similarity"
	"github.com/chrissnell/occuscale/internal/upda"
	"github.com/chrissnell/occuscale/internal/ware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Settings parameterise a Pipeline
type Settings struct {
	UPDA         upda.Params
	MinSiteTotal float64
	Mode         ware.Mode
	Partitioner  *scale.Partitioner
	Detector     *scale.Detector
	Workers      int
}

// SliceResult is everything computed for one time slice. Matrix rows and
// columns follow Sites.
type SliceResult struct {
	Slice      ware.Slice        `json:"slice"`
	Sites      []string          `json:"sites"`
	Wares      []string          `json:"wares"`
	Counts     [][]float64       `json:"counts"`
	Similarity [][]float64       `json:"similarity"`
	Distances  [][]float64       `json:"distances"`
	Partitions *scale.Partitions `json:"partitions"`
	Agreement  [][]float64       `json:"agreement"`
	Scale      *scale.Result     `json:"scale"`
}

// Pipeline runs the analysis stages
type Pipeline struct {
	settings Settings
	logger   *zap.SugaredLogger
	report   *diag.Report
}

// New creates a Pipeline that records skips and fallbacks in report
func New(settings Settings, logger *zap.SugaredLogger, report *diag.Report) *Pipeline {
	if settings.Workers < 1 {
		settings.Workers = runtime.NumCPU()
	}
	return &Pipeline{
		settings: settings,
		logger:   logger,
		report:   report,
	}
}

// EstimateSites estimates every site's occupation concurrently. Sites
// that fail are recorded and left out of the result.
func (p *Pipeline) EstimateSites(ctx context.Context, observations map[string][]upda.Observation) map[string]*upda.Estimate {
	var (
		mu        sync.Mutex
		estimates = make(map[string]*upda.Estimate, len(observations))
	)

	var g errgroup.Group
	g.SetLimit(p.settings.Workers)
	for site, obs := range observations {
		g.Go(func() error {
			if ctx.Err() != nil {
				p.report.AddError(site, ctx.Err())
				return nil
			}

			est, err := p.estimate(site, obs)
			if err != nil {
				if diag.IsDataError(err) {
					p.logger.Warnf("skipping site %s: %v", site, err)
				} else {
					p.logger.Errorf("site %s failed: %v", site, err)
				}
				p.report.AddError(site, err)
				return nil // never fail the group - errors reported per site
			}

			for _, reason := range est.Fallbacks {
				p.report.Add(site, diag.KindFallback, reason)
			}
			if est.Multimodal {
				p.report.Add(site, diag.KindMultimodal,
					fmt.Sprintf("posterior dips below the cutoff inside window %d-%d", est.Window.Lower, est.Window.Upper))
			}

			mu.Lock()
			estimates[site] = est
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Infof("estimated %d of %d sites", len(estimates), len(observations))
	return estimates
}

func (p *Pipeline) estimate(site string, obs []upda.Observation) (est *upda.Estimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("estimator panic recovered: %v", r)
		}
	}()
	return upda.Run(site, obs, p.settings.UPDA)
}

// AnalyzeSlices pools the estimates into time slices and runs the
// critical-scale analysis on each slice concurrently. Results keep the
// order of slices; skipped slices are left out.
func (p *Pipeline) AnalyzeSlices(ctx context.Context, estimates map[string]*upda.Estimate, coords map[string]similarity.Point, lookup ware.Lookup, slices []ware.Slice) ([]*SliceResult, error) {
	tables, err := ware.Pool(estimates, lookup, slices, p.settings.Mode, p.report)
	if err != nil {
		return nil, err
	}

	results := make([]*SliceResult, len(tables))

	var g errgroup.Group
	g.SetLimit(p.settings.Workers)
	for i, table := range tables {
		g.Go(func() error {
			unit := "slice " + table.Slice.Label

			res, err := p.analyzeSlice(ctx, table, coords)
			if err != nil {
				if diag.IsDataError(err) {
					p.logger.Warnf("skipping %s: %v", unit, err)
				} else {
					p.logger.Errorf("%s failed: %v", unit, err)
				}
				p.report.AddError(unit, err)
				return nil // never fail the group - errors reported per slice
			}

			p.logger.Infof("%s: %d sites, %d scale regimes", unit, len(res.Sites), len(res.Scale.Regimes))
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*SliceResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *Pipeline) analyzeSlice(ctx context.Context, table *ware.Table, coords map[string]similarity.Point) (res *SliceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("slice analysis panic recovered: %v", r)
		}
	}()

	unit := "slice " + table.Slice.Label

	kept, dropped := table.Filter(p.settings.MinSiteTotal)
	for _, site := range dropped {
		p.report.Add(unit, diag.KindData,
			fmt.Sprintf("site %s has fewer than %v sherds; excluded", site, p.settings.MinSiteTotal))
	}

	var (
		sites  []string
		counts [][]float64
		points []similarity.Point
	)
	for i, site := range kept.Sites {
		pt, ok := coords[site]
		if !ok {
			p.report.Add(unit, diag.KindData, fmt.Sprintf("site %s has no coordinates; excluded", site))
			continue
		}
		sites = append(sites, site)
		counts = append(counts, kept.Counts[i])
		points = append(points, pt)
	}
	if len(sites) < 2 {
		return nil, diag.NewDataError(unit, "%d usable sites, need at least 2", len(sites))
	}

	sim, err := similarity.BrainerdRobinson(counts)
	if err != nil {
		return nil, fmt.Errorf("similarity: %w", err)
	}
	dist := similarity.Distances(points)

	parts, err := p.settings.Partitioner.Partition(ctx, sim, dist)
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	if n := degeneratePartitions(parts.Memberships); n > 0 {
		p.report.Add(unit, diag.KindFallback,
			fmt.Sprintf("%d thresholds give a trivial partition; undefined agreement scored 0", n))
	}

	result, err := p.settings.Detector.Detect(ctx, parts, dist)
	if err != nil {
		return nil, fmt.Errorf("critical scales: %w", err)
	}

	return &SliceResult{
		Slice:      table.Slice,
		Sites:      sites,
		Wares:      kept.Wares,
		Counts:     counts,
		Similarity: rows(sim),
		Distances:  rows(dist),
		Partitions: parts,
		Agreement:  rows(result.Agreement),
		Scale:      result,
	}, nil
}

// degeneratePartitions counts partitions that put every site in one
// community or every site alone, when not all partitions are alike. Their
// agreement with other partitions can be undefined.
func degeneratePartitions(memberships [][]int) int {
	counts := make(map[int]bool)
	trivial := 0
	for _, m := range memberships {
		k := community.Count(m)
		counts[k] = true
		if k == 1 || k == len(m) {
			trivial++
		}
	}
	if len(counts) == 1 {
		return 0
	}
	return trivial
}

func rows(m mat.Symmetric) [][]float64 {
	n := m.SymmetricDim()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// SortedSites returns the site ids of a result map in order
func SortedSites(estimates map[string]*upda.Estimate) []string {
	ids := make([]string, 0, len(estimates))
	for id := range estimates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
