package changepoint

import (
	"math"
	"math/rand/v2"
	"reflect"
	"sync"
	"testing"
)

// twoRegimes returns n rows of width w where the first split rows equal
// a and the rest equal b
func twoRegimes(n, split, w int, a, b float64) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, w)
		v := a
		if i >= split {
			v = b
		}
		for k := range rows[i] {
			rows[i][k] = v
		}
	}
	return rows
}

func constantRows(n, w int) [][]float64 {
	return twoRegimes(n, n, w, 1, 1)
}

// noisyRegimes returns consecutive regimes of the given sizes, each row
// its regime's level plus Gaussian noise
func noisyRegimes(seed uint64, w int, sd float64, sizes []int, levels []float64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, 1))
	var rows [][]float64
	for k, size := range sizes {
		for range size {
			row := make([]float64, w)
			for i := range row {
				row[i] = levels[k] + sd*rng.NormFloat64()
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func TestDetectors(t *testing.T) {
	tests := []struct {
		name     string
		method   Method
		opts     Options
		rows     [][]float64
		expected []int
	}{
		{
			name:     "eagglo two regimes",
			method:   MethodEAgglo,
			opts:     Options{Alpha: 1},
			rows:     twoRegimes(20, 10, 20, 1, 0.2),
			expected: []int{0, 10},
		},
		{
			name:     "eagglo uneven regimes",
			method:   MethodEAgglo,
			opts:     Options{Alpha: 1.5},
			rows:     twoRegimes(25, 7, 25, 0.9, 0.1),
			expected: []int{0, 7},
		},
		{
			name:     "eagglo constant rows",
			method:   MethodEAgglo,
			opts:     Options{Alpha: 1},
			rows:     constantRows(10, 10),
			expected: []int{0},
		},
		{
			name:     "eagglo single row",
			method:   MethodEAgglo,
			opts:     Options{Alpha: 1},
			rows:     constantRows(1, 1),
			expected: []int{0},
		},
		{
			name:     "pelt two regimes",
			method:   MethodPELT,
			opts:     Options{MinSize: 2, Penalty: 1},
			rows:     twoRegimes(20, 10, 20, 1, 0.2),
			expected: []int{0, 10},
		},
		{
			name:     "pelt constant rows",
			method:   MethodPELT,
			opts:     Options{MinSize: 2, Penalty: 1},
			rows:     constantRows(10, 10),
			expected: []int{0},
		},
		{
			name:     "pelt shorter than two segments",
			method:   MethodPELT,
			opts:     Options{MinSize: 3, Penalty: 1},
			rows:     twoRegimes(5, 2, 5, 1, 0),
			expected: []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.method, tt.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := d.Detect(tt.rows)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected starts %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDetectEmpty(t *testing.T) {
	for _, d := range []Detector{NewEAgglo(1, 0, Significance{}), NewPeltDetector(2, 1)} {
		if got := d.Detect(nil); got != nil {
			t.Errorf("%T: expected no regimes, got %v", d, got)
		}
	}
}

func TestEAggloPenaltySuppressesSplits(t *testing.T) {
	rows := twoRegimes(20, 10, 20, 1, 0.2)
	// The two-regime fit is 10 * |a - b| * sqrt(20) ~= 35.8
	got := NewEAgglo(1, 100, Significance{}).Detect(rows)
	if !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("expected a single regime under a heavy penalty, got %v", got)
	}
}

func TestEAggloNoisyRegimes(t *testing.T) {
	tests := []struct {
		name     string
		alpha    float64
		rows     [][]float64
		expected []int
	}{
		{
			name:     "single regime",
			alpha:    1,
			rows:     noisyRegimes(11, 10, 0.02, []int{100}, []float64{0.9}),
			expected: []int{0},
		},
		{
			name:     "three regimes",
			alpha:    1,
			rows:     noisyRegimes(12, 10, 0.02, []int{30, 40, 30}, []float64{0.9, 0.5, 0.1}),
			expected: []int{0, 30, 70},
		},
		{
			name:     "lowest quartile",
			alpha:    1.5,
			rows:     noisyRegimes(12, 10, 0.02, []int{30, 40, 30}, []float64{0.9, 0.5, 0.1})[:25],
			expected: []int{0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(MethodEAgglo, Options{Alpha: tt.alpha, Seed: 42})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := d.Detect(tt.rows); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected starts %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestEAggloWithoutPermutationsKeepsEverySplit(t *testing.T) {
	rows := noisyRegimes(11, 10, 0.02, []int{12}, []float64{0.9})
	got := NewEAgglo(1, 0, Significance{}).Detect(rows)
	if len(got) < 2 {
		t.Errorf("expected noise to be split without a significance test, got %v", got)
	}
}

func TestEAggloDeterministicForSeed(t *testing.T) {
	rows := noisyRegimes(5, 6, 0.05, []int{15, 15}, []float64{0.8, 0.6})
	d, err := New(MethodEAgglo, Options{Alpha: 1, Seed: 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := d.Detect(rows)
	for range 3 {
		if got := d.Detect(rows); !reflect.DeepEqual(got, first) {
			t.Errorf("expected %v on every call, got %v", first, got)
		}
	}
}

func TestDetectorsConcurrentCallers(t *testing.T) {
	inputs := []struct {
		rows     [][]float64
		expected []int
	}{
		{twoRegimes(40, 16, 40, 1, 0.2), []int{0, 16}},
		{twoRegimes(12, 6, 12, 1, 0.2), []int{0, 6}},
	}

	detectors := map[string]Options{
		"pelt":   {MinSize: 2, Penalty: 1},
		"eagglo": {Alpha: 1},
	}
	for name, opts := range detectors {
		t.Run(name, func(t *testing.T) {
			method := MethodPELT
			if name == "eagglo" {
				method = MethodEAgglo
			}
			d, err := New(method, opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var mu sync.Mutex
			wrong := 0
			var wg sync.WaitGroup
			for i := 0; i < 64; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					in := inputs[i%len(inputs)]
					if got := d.Detect(in.rows); !reflect.DeepEqual(got, in.expected) {
						mu.Lock()
						wrong++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if wrong > 0 {
				t.Errorf("%d of 64 concurrent detections were wrong", wrong)
			}
		})
	}
}

func TestSplitCluster(t *testing.T) {
	lo, hi := splitCluster([]int{0, 10}, []int{0, 4, 10}, 20)
	if lo != 0 || hi != 10 {
		t.Errorf("expected [0,10), got [%d,%d)", lo, hi)
	}
	lo, hi = splitCluster([]int{0, 10}, []int{0, 10, 15}, 20)
	if lo != 10 || hi != 20 {
		t.Errorf("expected [10,20), got [%d,%d)", lo, hi)
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		opts   Options
	}{
		{"alpha zero", MethodEAgglo, Options{Alpha: 0}},
		{"alpha two", MethodEAgglo, Options{Alpha: 2}},
		{"negative penalty", MethodEAgglo, Options{Alpha: 1, Penalty: -1}},
		{"nan penalty", MethodPELT, Options{MinSize: 2, Penalty: math.NaN()}},
		{"min size zero", MethodPELT, Options{MinSize: 0}},
		{"significance above one", MethodEAgglo, Options{Alpha: 1, SigLevel: 1.5}},
		{"negative significance", MethodEAgglo, Options{Alpha: 1, SigLevel: -0.1}},
		{"negative permutations", MethodEAgglo, Options{Alpha: 1, Permutations: -1}},
		{"unknown method", Method("binseg"), Options{Alpha: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.method, tt.opts); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestEnergyOfIdenticalBlocksIsZero(t *testing.T) {
	rows := constantRows(6, 3)
	dist := make([][]float64, len(rows))
	for i := range dist {
		dist[i] = make([]float64, len(rows))
		for j := range dist[i] {
			dist[i][j] = math.Sqrt(squaredDistance(rows[i], rows[j]))
		}
	}
	if e := energy(newBlockSums(dist), 0, 3, 6); e != 0 {
		t.Errorf("expected zero energy, got %v", e)
	}
}

func TestRBFCost(t *testing.T) {
	cost := FitRBF(twoRegimes(4, 2, 2, 0, 1))

	// Pure segments cost nothing
	if e := cost.Error(0, 2); math.Abs(e) > 1e-12 {
		t.Errorf("expected zero cost for a pure segment, got %v", e)
	}
	// Mixed segment: gamma = 1/2, cross terms exp(-1)
	expected := 4 - (8+8*math.Exp(-1))/4
	if e := cost.Error(0, 4); math.Abs(e-expected) > 1e-12 {
		t.Errorf("expected %v, got %v", expected, e)
	}
	if e := cost.Error(2, 2); !math.IsInf(e, 1) {
		t.Errorf("expected +Inf for an empty segment, got %v", e)
	}
}
