// Package upda implements Uniform Probability Density Analysis: it turns
// artifact type date ranges and counts into per-period occupation
// probabilities for a site and apportions the counts across those periods.
package upda

import (
	"fmt"
	"math"

	"github.com/chrissnell/occuscale/internal/diag"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// degenerateDensity stands in for the likelihood of a period that a type
// covers completely (uij = 1, sd = 0): the N(1, 1) density at 1.
var degenerateDensity = distuv.Normal{Mu: 1, Sigma: 1}.Prob(1)

// Validate checks estimator parameters
func (p Params) Validate() error {
	if p.Interval <= 0 {
		return &diag.ConfigError{Field: "interval", Reason: fmt.Sprintf("must be positive, got %d", p.Interval)}
	}
	if p.MinPeriod <= 0 {
		return &diag.ConfigError{Field: "min-period", Reason: fmt.Sprintf("must be positive, got %d", p.MinPeriod)}
	}
	if !(p.Cutoff > 0 && p.Cutoff <= 1) {
		return &diag.ConfigError{Field: "cutoff", Reason: fmt.Sprintf("must be in (0,1], got %v", p.Cutoff)}
	}
	return nil
}

// Run computes the occupation estimate for one site. It never touches
// shared state, so sites can be estimated concurrently.
func Run(site string, observations []Observation, params Params) (*Estimate, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	retained := make([]Observation, 0, len(observations))
	trusted := 0
	for _, o := range observations {
		if o.Count <= 0 {
			continue
		}
		start, end := RoundTo(o.Start, params.Interval), RoundTo(o.End, params.Interval)
		if start > end {
			return nil, diag.NewDataError(site, "type %s ends (%d) before it starts (%d)", o.Type, o.End, o.Start)
		}
		o.Start, o.End = start, end
		retained = append(retained, o)
		if o.Trusted {
			trusted++
		}
	}
	if len(retained) < 2 {
		return nil, diag.NewDataError(site, "%d retained observations, need at least 2", len(retained))
	}
	if trusted == 0 {
		return nil, diag.NewDataError(site, "no retained observation belongs to the trusted chronology")
	}

	ranges := make([]Range, len(retained))
	for i, o := range retained {
		ranges[i] = Range{Start: o.Start, End: o.End}
	}
	periods := BuildPeriods(ranges, params.MinPeriod)
	if len(periods) == 0 {
		return nil, diag.NewDataError(site, "observations span no datable interval")
	}

	est := &Estimate{
		Site:         site,
		Observations: retained,
		Periods:      periods,
	}

	nObs, nPer := len(retained), len(periods)

	// Overlap scores and the uniform apportionment
	overlap := newTable(nObs, nPer)
	est.Uniform = newTable(nObs, nPer)
	for a, o := range retained {
		if o.End == o.Start {
			est.Fallbacks = append(est.Fallbacks, fmt.Sprintf("type %s spans a single year; overlap scored 0", o.Type))
		}
		for b, p := range periods {
			overlap[a][b] = overlapScore(o, p)
			est.Uniform[a][b] = overlap[a][b] * float64(o.Count)
		}
	}

	// Prior from the trusted subset
	est.Prior = make([]float64, nPer)
	for a, o := range retained {
		if !o.Trusted {
			continue
		}
		floats.Add(est.Prior, est.Uniform[a])
	}
	if !normalize(est.Prior) {
		return nil, diag.NewDataError(site, "trusted observations carry no datable mass")
	}

	est.Conditional = conditional(est.Uniform, overlap)

	est.Posterior = make([]float64, nPer)
	switch {
	case floats.Sum(est.Conditional) == 0:
		copy(est.Posterior, est.Prior)
		est.Fallbacks = append(est.Fallbacks, "no conditional evidence; posterior equals prior")
	case floats.EqualApprox(est.Conditional, est.Prior, 1e-12):
		copy(est.Posterior, est.Prior)
		est.Fallbacks = append(est.Fallbacks, "conditional identical to prior; posterior equals prior")
	default:
		floats.MulTo(est.Posterior, est.Prior, est.Conditional)
		if !normalize(est.Posterior) {
			copy(est.Posterior, est.Prior)
			est.Fallbacks = append(est.Fallbacks, "posterior sums to 0; posterior equals prior")
		}
	}

	first, last, multimodal := occupationWindow(est.Posterior, params.Cutoff)
	est.Window = Window{Lower: periods[first].Start, Upper: periods[last].End}
	est.Multimodal = multimodal

	est.Apportioned = newTable(nObs, nPer)
	for a, o := range retained {
		if !apportionRow(est.Apportioned[a], est.Uniform[a], est.Posterior, first, last) {
			est.Fallbacks = append(est.Fallbacks,
				fmt.Sprintf("type %s has no posterior mass inside the occupation window", o.Type))
		}
	}

	return est, nil
}

// overlapScore is the share of a type's possible years that fall in a
// period. Year spans are inclusive, so adjacent periods share a boundary
// year; the -1 terms keep a type's scores summing to 1 across periods.
func overlapScore(o Observation, p Period) float64 {
	years := o.End - o.Start + 1
	shared := min(o.End, p.End) - max(o.Start, p.Start) + 1
	if shared < 0 {
		shared = 0
	}
	u := float64(shared-1) / float64(years-1)
	if math.IsNaN(u) || math.IsInf(u, 0) || u < 0 {
		return 0
	}
	return u
}

// conditional derives one likelihood per period from how far the observed
// column shares (pij) sit from the uniform-deposition shares (uij).
func conditional(uniform, overlap [][]float64) []float64 {
	nObs, nPer := len(uniform), len(uniform[0])

	sums := make([]float64, nPer)
	counts := make([]int, nPer)
	for b := 0; b < nPer; b++ {
		colCount, colOverlap := 0.0, 0.0
		for a := 0; a < nObs; a++ {
			colCount += uniform[a][b]
			colOverlap += overlap[a][b]
		}
		n := math.Ceil(colCount)

		for a := 0; a < nObs; a++ {
			pij := ratio(uniform[a][b], colCount)
			uij := ratio(overlap[a][b], colOverlap)
			sd := math.Sqrt(uij * (1 - uij) / n)

			var v float64
			switch {
			case uij-sd == 1:
				v = degenerateDensity
			case sd == 0 || math.IsNaN(sd) || math.IsInf(sd, 0):
				continue
			default:
				v = distuv.Normal{Mu: uij, Sigma: sd}.Prob(pij)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sums[b] += v
			counts[b]++
		}
	}

	cond := make([]float64, nPer)
	for b := range cond {
		if counts[b] > 0 {
			cond[b] = sums[b] / float64(counts[b])
		}
	}
	if !normalize(cond) {
		return make([]float64, nPer)
	}
	return cond
}

// occupationWindow returns the first and last period whose posterior
// exceeds cutoff times the peak, and whether any period between them falls
// at or below that threshold.
func occupationWindow(posterior []float64, cutoff float64) (first, last int, multimodal bool) {
	threshold := cutoff * floats.Max(posterior)
	first, last = -1, -1
	for b, v := range posterior {
		if v > threshold {
			if first < 0 {
				first = b
			}
			last = b
		}
	}
	if first < 0 {
		// Only reachable with cutoff 1 and a flat posterior: keep the peak
		first = floats.MaxIdx(posterior)
		last = first
	}
	for b := first + 1; b < last; b++ {
		if posterior[b] <= threshold {
			multimodal = true
			break
		}
	}
	return first, last, multimodal
}

// apportionRow spreads one observation's uniform counts by the posterior,
// then folds the mass outside periods [first, last] back into the window
// in proportion to each in-window period's share. It reports false when the
// row has no in-window mass to receive the reallocation.
func apportionRow(dst, uniform, posterior []float64, first, last int) bool {
	total := floats.Sum(uniform)
	floats.MulTo(dst, uniform, posterior)
	weight := floats.Sum(dst)
	if weight == 0 || total == 0 {
		zero(dst)
		return total == 0
	}
	floats.Scale(total/weight, dst)

	inside := floats.Sum(dst[first : last+1])
	if inside == 0 {
		zero(dst)
		return false
	}
	extra := total - inside
	for b := range dst {
		if b < first || b > last {
			dst[b] = 0
			continue
		}
		dst[b] += extra * dst[b] / inside
	}
	return true
}

// normalize scales v to sum to 1 in place. It zeroes v and reports false
// when the sum is zero or not finite.
func normalize(v []float64) bool {
	s := floats.Sum(v)
	if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		zero(v)
		return false
	}
	floats.Scale(1/s, v)
	return true
}

func ratio(num, den float64) float64 {
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

func zero(v []float64) {
	for i := range v {
		v[i] = 0
	}
}

func newTable(rows, cols int) [][]float64 {
	t := make([][]float64, rows)
	for i := range t {
		t[i] = make([]float64, cols)
	}
	return t
}
