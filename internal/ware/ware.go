// Package ware rolls per-type apportionments up to ware categories and
// pools them into analysis time slices.
package ware

import (
	"fmt"
	"sort"

	"github.com/chrissnell/occuscale/internal/diag"
	"github.com/chrissnell/occuscale/internal/upda"
	"gonum.org/v1/gonum/floats"
)

// Lookup maps artifact type labels to ware categories. It is read-only
// once loaded and safe to share between goroutines.
type Lookup map[string]string

// Ware returns the ware category of a type
func (l Lookup) Ware(typ string) (string, bool) {
	w, ok := l[typ]
	return w, ok
}

// Slice is an analysis time slice covering years [Start, End)
type Slice struct {
	Label string `json:"label" yaml:"label"`
	Start int    `json:"start" yaml:"start"`
	End   int    `json:"end" yaml:"end"`
}

// Validate checks that a slice is non-empty
func (s Slice) Validate() error {
	if s.Label == "" {
		return fmt.Errorf("time slice has no label")
	}
	if s.Start >= s.End {
		return fmt.Errorf("time slice %s starts at %d, not before its end %d", s.Label, s.Start, s.End)
	}
	return nil
}

// Overlap returns the fraction of period p that falls inside the slice
func (s Slice) Overlap(p upda.Period) float64 {
	width := p.Width()
	if width <= 0 {
		return 0
	}
	shared := min(p.End, s.End) - max(p.Start, s.Start)
	if shared <= 0 {
		return 0
	}
	return float64(shared) / float64(width)
}

// Mode selects which apportionment of an estimate is pooled
type Mode string

const (
	// ModePosterior pools the posterior apportionment
	ModePosterior Mode = "posterior"

	// ModeUniform pools the uniform apportionment
	ModeUniform Mode = "uniform"
)

// Table is a site by ware count matrix for one time slice. Sites and
// Wares are sorted; Counts[i][k] is the count of ware k at site i.
type Table struct {
	Slice  Slice       `json:"slice"`
	Sites  []string    `json:"sites"`
	Wares  []string    `json:"wares"`
	Counts [][]float64 `json:"counts"`
}

// Pool builds one Table per slice. Every period's apportioned count goes
// to each slice in proportion to the share of the period inside it. Types
// missing from the lookup are dropped and recorded once per site and type.
// Sites with no mass in a slice are left out of that slice's table.
func Pool(estimates map[string]*upda.Estimate, lookup Lookup, slices []Slice, mode Mode, report *diag.Report) ([]*Table, error) {
	if mode != ModePosterior && mode != ModeUniform {
		return nil, fmt.Errorf("unknown apportionment mode %q", mode)
	}

	siteIDs := make([]string, 0, len(estimates))
	for id := range estimates {
		siteIDs = append(siteIDs, id)
	}
	sort.Strings(siteIDs)

	// per slice: site -> ware -> count
	pooled := make([]map[string]map[string]float64, len(slices))
	for i := range pooled {
		pooled[i] = make(map[string]map[string]float64)
	}
	wareSet := make(map[string]bool)

	for _, id := range siteIDs {
		est := estimates[id]
		rows := est.Apportioned
		if mode == ModeUniform {
			rows = est.Uniform
		}

		unknown := make(map[string]bool)
		for a, o := range est.Observations {
			w, ok := lookup.Ware(o.Type)
			if !ok {
				if !unknown[o.Type] && report != nil {
					report.Add(id, diag.KindData, fmt.Sprintf("type %s has no ware; dropped", o.Type))
				}
				unknown[o.Type] = true
				continue
			}
			for b, p := range est.Periods {
				count := rows[a][b]
				if count == 0 {
					continue
				}
				for i, s := range slices {
					share := s.Overlap(p) * count
					if share == 0 {
						continue
					}
					if pooled[i][id] == nil {
						pooled[i][id] = make(map[string]float64)
					}
					pooled[i][id][w] += share
					wareSet[w] = true
				}
			}
		}
	}

	wares := make([]string, 0, len(wareSet))
	for w := range wareSet {
		wares = append(wares, w)
	}
	sort.Strings(wares)

	tables := make([]*Table, len(slices))
	for i, s := range slices {
		t := &Table{Slice: s, Wares: wares}
		for _, id := range siteIDs {
			counts, ok := pooled[i][id]
			if !ok {
				continue
			}
			row := make([]float64, len(wares))
			for k, w := range wares {
				row[k] = counts[w]
			}
			t.Sites = append(t.Sites, id)
			t.Counts = append(t.Counts, row)
		}
		tables[i] = t
	}
	return tables, nil
}

// Filter returns a copy of the table without sites whose total count is
// below minTotal, and the sites it dropped.
func (t *Table) Filter(minTotal float64) (*Table, []string) {
	out := &Table{Slice: t.Slice, Wares: t.Wares}
	var dropped []string
	for i, id := range t.Sites {
		if floats.Sum(t.Counts[i]) < minTotal {
			dropped = append(dropped, id)
			continue
		}
		out.Sites = append(out.Sites, id)
		out.Counts = append(out.Counts, t.Counts[i])
	}
	return out, dropped
}
