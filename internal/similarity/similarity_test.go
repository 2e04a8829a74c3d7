package similarity

import (
	"math"
	"testing"
)

func TestBrainerdRobinson(t *testing.T) {
	counts := [][]float64{
		{10, 20, 70},
		{1, 2, 7},   // same composition as row 0, different total
		{50, 50, 0}, // partial overlap
		{0, 0, 30},  // single ware
		{30, 0, 0},  // disjoint from row 3
	}

	sim, err := BrainerdRobinson(counts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := len(counts)
	for i := 0; i < n; i++ {
		if sim.At(i, i) != 1 {
			t.Errorf("self similarity of row %d is %v", i, sim.At(i, i))
		}
		for j := 0; j < n; j++ {
			v := sim.At(i, j)
			if v != sim.At(j, i) {
				t.Errorf("sim(%d,%d)=%v differs from sim(%d,%d)=%v", i, j, v, j, i, sim.At(j, i))
			}
			if v < 0 || v > 1 {
				t.Errorf("sim(%d,%d)=%v out of [0,1]", i, j, v)
			}
		}
	}

	tests := []struct {
		i, j     int
		expected float64
	}{
		{0, 1, 1.0},
		{3, 4, 0.0},
		// |10-50| + |20-50| + |70-0| = 140 -> (200-140)/200
		{0, 2, 0.3},
		// |10-0| + |20-0| + |70-100| = 60 -> 0.7
		{0, 3, 0.7},
	}
	for _, tt := range tests {
		if got := sim.At(tt.i, tt.j); got != tt.expected {
			t.Errorf("sim(%d,%d): expected %v, got %v", tt.i, tt.j, tt.expected, got)
		}
	}
}

func TestBrainerdRobinsonRounding(t *testing.T) {
	// Compositions 1/3 vs 1/2 of the first ware: distance 33.33 -> 0.83333
	sim, err := BrainerdRobinson([][]float64{{1, 2}, {1, 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sim.At(0, 1); got != 0.833 {
		t.Errorf("expected 0.833, got %v", got)
	}
}

func TestBrainerdRobinsonErrors(t *testing.T) {
	if _, err := BrainerdRobinson(nil); err == nil {
		t.Error("expected an error for no rows")
	}
	if _, err := BrainerdRobinson([][]float64{{1, 2}, {0, 0}}); err == nil {
		t.Error("expected an error for an empty row")
	}
	if _, err := BrainerdRobinson([][]float64{{1, 2}, {1}}); err == nil {
		t.Error("expected an error for ragged rows")
	}
}

func TestDistances(t *testing.T) {
	points := []Point{{0, 0}, {3, 4}, {0, 8}}
	dist := Distances(points)

	expected := [][]float64{
		{0, 5, 8},
		{5, 0, 5},
		{8, 5, 0},
	}
	for i := range expected {
		for j := range expected[i] {
			if math.Abs(dist.At(i, j)-expected[i][j]) > 1e-12 {
				t.Errorf("dist(%d,%d): expected %v, got %v", i, j, expected[i][j], dist.At(i, j))
			}
		}
	}

	pairs := Pairwise(dist)
	if len(pairs) != 3 || pairs[0] != 5 || pairs[1] != 8 || pairs[2] != 5 {
		t.Errorf("unexpected pairwise distances %v", pairs)
	}
}
