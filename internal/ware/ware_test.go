package ware

import (
	"testing"

	"github.com/chrissnell/occuscale/internal/diag"
	"github.com/chrissnell/occuscale/internal/upda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEstimates() map[string]*upda.Estimate {
	periods := []upda.Period{{Start: 500, End: 550}, {Start: 550, End: 600}}
	return map[string]*upda.Estimate{
		"site-b": {
			Site: "site-b",
			Observations: []upda.Observation{
				{Type: "t1", Count: 10},
				{Type: "t2", Count: 6},
				{Type: "t9", Count: 2},
				{Type: "t9", Count: 1},
			},
			Periods:     periods,
			Apportioned: [][]float64{{10, 0}, {2, 4}, {1, 1}, {0, 1}},
			Uniform:     [][]float64{{5, 5}, {3, 3}, {1, 1}, {0.5, 0.5}},
		},
		"site-a": {
			Site:         "site-a",
			Observations: []upda.Observation{{Type: "t2", Count: 8}},
			Periods:      periods,
			Apportioned:  [][]float64{{0, 8}},
			Uniform:      [][]float64{{4, 4}},
		},
	}
}

func testSlices() []Slice {
	return []Slice{
		{Label: "early", Start: 500, End: 550},
		{Label: "mid", Start: 525, End: 575},
		{Label: "late", Start: 550, End: 600},
	}
}

func TestPoolPosterior(t *testing.T) {
	lookup := Lookup{"t1": "red", "t2": "grey"}
	report := diag.NewReport()

	tables, err := Pool(testEstimates(), lookup, testSlices(), ModePosterior, report)
	require.NoError(t, err)
	require.Len(t, tables, 3)

	early, mid, late := tables[0], tables[1], tables[2]
	assert.Equal(t, []string{"grey", "red"}, early.Wares)

	// site-a has no mass before 550
	assert.Equal(t, []string{"site-b"}, early.Sites)
	assert.Equal(t, [][]float64{{2, 10}}, early.Counts)

	assert.Equal(t, []string{"site-a", "site-b"}, mid.Sites)
	assert.Equal(t, [][]float64{{4, 0}, {3, 5}}, mid.Counts)

	assert.Equal(t, []string{"site-a", "site-b"}, late.Sites)
	assert.Equal(t, [][]float64{{8, 0}, {4, 0}}, late.Counts)

	// The unknown type is reported once for its site
	records := report.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "site-b", records[0].Unit)
	assert.Equal(t, diag.KindData, records[0].Kind)
}

func TestPoolUniform(t *testing.T) {
	lookup := Lookup{"t1": "red", "t2": "grey"}
	tables, err := Pool(testEstimates(), lookup, testSlices()[:1], ModeUniform, nil)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	assert.Equal(t, []string{"site-a", "site-b"}, tables[0].Sites)
	assert.Equal(t, [][]float64{{4, 0}, {3, 5}}, tables[0].Counts)
}

func TestPoolRejectsUnknownMode(t *testing.T) {
	_, err := Pool(testEstimates(), Lookup{}, testSlices(), Mode("median"), nil)
	assert.Error(t, err)
}

func TestPoolConservesMassOverTilingSlices(t *testing.T) {
	lookup := Lookup{"t1": "red", "t2": "grey"}
	slices := []Slice{
		{Label: "first", Start: 400, End: 530},
		{Label: "second", Start: 530, End: 590},
		{Label: "third", Start: 590, End: 700},
	}
	tables, err := Pool(testEstimates(), lookup, slices, ModePosterior, nil)
	require.NoError(t, err)

	total := 0.0
	for _, tbl := range tables {
		for _, row := range tbl.Counts {
			for _, v := range row {
				total += v
			}
		}
	}
	// site-a 8, site-b 10 + 6 with the unmapped type dropped
	assert.InDelta(t, 24.0, total, 1e-9)
}

func TestSliceOverlap(t *testing.T) {
	s := Slice{Label: "s", Start: 525, End: 575}
	tests := []struct {
		period   upda.Period
		expected float64
	}{
		{upda.Period{Start: 500, End: 550}, 0.5},
		{upda.Period{Start: 530, End: 570}, 1},
		{upda.Period{Start: 575, End: 600}, 0},
		{upda.Period{Start: 400, End: 500}, 0},
		{upda.Period{Start: 500, End: 600}, 0.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, s.Overlap(tt.period), "period %v", tt.period)
	}
}

func TestSliceValidate(t *testing.T) {
	assert.NoError(t, Slice{Label: "ok", Start: 1, End: 2}.Validate())
	assert.Error(t, Slice{Label: "", Start: 1, End: 2}.Validate())
	assert.Error(t, Slice{Label: "empty", Start: 2, End: 2}.Validate())
}

func TestTableFilter(t *testing.T) {
	tbl := &Table{
		Slice:  Slice{Label: "s", Start: 0, End: 10},
		Sites:  []string{"a", "b", "c"},
		Wares:  []string{"grey", "red"},
		Counts: [][]float64{{5, 5}, {4, 5}, {20, 0}},
	}
	kept, dropped := tbl.Filter(10)
	assert.Equal(t, []string{"a", "c"}, kept.Sites)
	assert.Equal(t, [][]float64{{5, 5}, {20, 0}}, kept.Counts)
	assert.Equal(t, []string{"b"}, dropped)
	assert.Len(t, tbl.Sites, 3)
}
