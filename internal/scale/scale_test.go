package scale

import (
	"context"
	"testing"

	"github.com/chrissnell/occuscale/internal/changepoint"
	"github.com/chrissnell/occuscale/internal/community"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newDetector(t *testing.T) *Detector {
	t.Helper()
	global, err := changepoint.New(changepoint.MethodEAgglo, changepoint.Options{Alpha: 1})
	require.NoError(t, err)
	fine, err := changepoint.New(changepoint.MethodEAgglo, changepoint.Options{Alpha: 1.5})
	require.NoError(t, err)
	return &Detector{Global: global, Fine: fine, Workers: 4}
}

// twoNeighbourhoods places two triangles of sites: sites within a
// triangle are 1 apart, sites in different triangles 10 apart. Every pair
// of distinct sites has similarity 0.5.
func twoNeighbourhoods() (*mat.SymDense, *mat.SymDense) {
	const n = 6
	sim := mat.NewSymDense(n, nil)
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sim.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			sim.SetSym(i, j, 0.5)
			if i/3 == j/3 {
				dist.SetSym(i, j, 1)
			} else {
				dist.SetSym(i, j, 10)
			}
		}
	}
	return sim, dist
}

func TestCloseSitesFormOneRegime(t *testing.T) {
	// Three sites with identical assemblages, all 0.5 apart
	sim := mat.NewSymDense(3, []float64{
		1, 1, 1,
		1, 1, 1,
		1, 1, 1,
	})
	dist := mat.NewSymDense(3, []float64{
		0, 0.5, 0.5,
		0.5, 0, 0.5,
		0.5, 0.5, 0,
	})

	p := &Partitioner{Thresholds: DefaultThresholds, Seed: 42, Resolution: 1, Workers: 4}
	parts, err := p.Partition(context.Background(), sim, dist)
	require.NoError(t, err)
	require.Len(t, parts.Memberships, DefaultThresholds)
	for i, m := range parts.Memberships {
		assert.Equal(t, []int{0, 0, 0}, m, "threshold %d", i+1)
	}

	res, err := newDetector(t).Detect(context.Background(), parts, dist)
	require.NoError(t, err)

	for i := 0; i < DefaultThresholds; i++ {
		for j := 0; j < DefaultThresholds; j++ {
			require.Equal(t, 1.0, res.Agreement.At(i, j))
		}
	}
	assert.Equal(t, []int{1}, res.Boundaries)
	require.Len(t, res.Regimes, 1)
	assert.Equal(t, Regime{Start: 1, End: 100, Prototype: 1, PrototypeDistance: 0.5}, res.Regimes[0])
	assert.Equal(t, []float64{0.5}, res.BoundaryDistances)
}

func TestNeighbourhoodsSplitIntoTwoRegimes(t *testing.T) {
	sim, dist := twoNeighbourhoods()
	p := &Partitioner{Thresholds: DefaultThresholds, Seed: 42, Resolution: 1, Workers: 4}
	parts, err := p.Partition(context.Background(), sim, dist)
	require.NoError(t, err)

	// The first threshold whose radius bridges the neighbourhoods
	bridge := 0
	for i, r := range parts.Radii {
		if r >= 10 {
			bridge = i + 1
			break
		}
	}
	require.Greater(t, bridge, 1)

	// Below the bridge each triangle is a community; above it the complete
	// uniform graph is one community
	for i, m := range parts.Memberships {
		if i+1 < bridge {
			assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, m, "threshold %d", i+1)
		} else {
			assert.Equal(t, []int{0, 0, 0, 0, 0, 0}, m, "threshold %d", i+1)
		}
	}

	res, err := newDetector(t).Detect(context.Background(), parts, dist)
	require.NoError(t, err)
	assert.Equal(t, []int{1, bridge}, res.Boundaries)
	require.Len(t, res.Regimes, 2)
	assert.Equal(t, 1, res.Regimes[0].Start)
	assert.Equal(t, bridge-1, res.Regimes[0].End)
	assert.Equal(t, bridge, res.Regimes[1].Start)
	assert.Equal(t, DefaultThresholds, res.Regimes[1].End)
	assert.Equal(t, 1, res.Regimes[0].Prototype)
	assert.Equal(t, bridge, res.Regimes[1].Prototype)
	assert.InDelta(t, 1.0, res.Regimes[0].PrototypeDistance, 1e-9)
	assert.InDelta(t, 10.0, res.Regimes[1].PrototypeDistance, 1e-9)
}

func TestUnchangedGraphKeepsPartition(t *testing.T) {
	// Three identical sites at unequal distances: the graph is the pair
	// A-B, then the path A-B-C, then the triangle
	sim := mat.NewSymDense(3, []float64{
		1, 1, 1,
		1, 1, 1,
		1, 1, 1,
	})
	dist := mat.NewSymDense(3, []float64{
		0, 0.3, 0.9,
		0.3, 0, 0.5,
		0.9, 0.5, 0,
	})

	p := &Partitioner{Thresholds: DefaultThresholds, Seed: 42, Resolution: 1, Workers: 4}
	parts, err := p.Partition(context.Background(), sim, dist)
	require.NoError(t, err)

	q := NewQuantileFunc(dist, DefaultThresholds)
	path := 0
	for i := 1; i < DefaultThresholds; i++ {
		if q.Admitted(parts.Radii[i]) == q.Admitted(parts.Radii[i-1]) {
			assert.Equal(t, parts.Memberships[i-1], parts.Memberships[i], "threshold %d", i+1)
		}
		if path == 0 && q.Admitted(parts.Radii[i]) == 2 {
			path = i + 1
		}
	}
	require.Greater(t, path, 1)
	assert.Equal(t, []int{0, 0, 1}, parts.Memberships[0])
	assert.Equal(t, []int{0, 0, 0}, parts.Memberships[path-1])

	res, err := newDetector(t).Detect(context.Background(), parts, dist)
	require.NoError(t, err)
	assert.Equal(t, []int{1, path}, res.Boundaries)
}

func TestEqualGraphsShareSeed(t *testing.T) {
	// A square of identical sites: sides 1, diagonals 2. Every threshold
	// below the diagonals sees the same 4-cycle.
	sim := mat.NewSymDense(4, nil)
	dist := mat.NewSymDense(4, nil)
	for i := 0; i < 4; i++ {
		sim.SetSym(i, i, 1)
		for j := i + 1; j < 4; j++ {
			sim.SetSym(i, j, 1)
			if j-i == 2 {
				dist.SetSym(i, j, 2)
			} else {
				dist.SetSym(i, j, 1)
			}
		}
	}

	for _, seed := range []uint64{1, 2, 3} {
		p := &Partitioner{Thresholds: 50, Seed: seed, Resolution: 1, Workers: 3}
		parts, err := p.Partition(context.Background(), sim, dist)
		require.NoError(t, err)

		cycle := parts.Memberships[0]
		for i, r := range parts.Radii {
			if r < 2 {
				assert.Equal(t, cycle, parts.Memberships[i], "seed %d threshold %d", seed, i+1)
			}
		}
	}
}

func TestAgreementMatrixProperties(t *testing.T) {
	sim, dist := twoNeighbourhoods()
	p := &Partitioner{Thresholds: 20, Seed: 7, Resolution: 1, Workers: 2}
	parts, err := p.Partition(context.Background(), sim, dist)
	require.NoError(t, err)

	res, err := newDetector(t).Detect(context.Background(), parts, dist)
	require.NoError(t, err)

	n := res.Agreement.SymmetricDim()
	require.Equal(t, 20, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, 1.0, res.Agreement.At(i, i))
		for j := 0; j < n; j++ {
			assert.Equal(t, res.Agreement.At(i, j), res.Agreement.At(j, i))
		}
	}

	for k, b := range res.Boundaries {
		assert.GreaterOrEqual(t, b, 1)
		assert.LessOrEqual(t, b, 20)
		if k > 0 {
			assert.Greater(t, b, res.Boundaries[k-1])
		}
	}
	assert.Equal(t, 1, res.Boundaries[0])
}

func TestPartitionIndependentOfWorkers(t *testing.T) {
	sim, dist := twoNeighbourhoods()
	serial := &Partitioner{Thresholds: 30, Seed: 3, Resolution: 1, Workers: 1}
	parallel := &Partitioner{Thresholds: 30, Seed: 3, Resolution: 1, Workers: 8}

	a, err := serial.Partition(context.Background(), sim, dist)
	require.NoError(t, err)
	b, err := parallel.Partition(context.Background(), sim, dist)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for _, m := range a.Memberships {
		assert.LessOrEqual(t, community.Count(m), 6)
	}
}

func TestPartitionErrors(t *testing.T) {
	sim, dist := twoNeighbourhoods()
	p := &Partitioner{Thresholds: 10, Seed: 1, Resolution: 1}

	_, err := p.Partition(context.Background(), &mat.SymDense{}, &mat.SymDense{})
	assert.Error(t, err)

	_, err = p.Partition(context.Background(), sim, mat.NewSymDense(2, nil))
	assert.Error(t, err)

	bad := &Partitioner{Thresholds: 0, Resolution: 1}
	_, err = bad.Partition(context.Background(), sim, dist)
	assert.Error(t, err)
}

func TestQuantileFunc(t *testing.T) {
	_, dist := twoNeighbourhoods()
	q := NewQuantileFunc(dist, 100)
	assert.InDelta(t, 1.0, q.At(1), 1e-9)
	assert.InDelta(t, 10.0, q.At(100), 1e-9)
	for p := 2; p <= 100; p++ {
		assert.GreaterOrEqual(t, q.At(p), q.At(p-1))
	}

	assert.Equal(t, 0, q.Admitted(0.5))
	assert.Equal(t, 6, q.Admitted(1))
	assert.Equal(t, 6, q.Admitted(9.99))
	assert.Equal(t, 15, q.Admitted(10))

	empty := NewQuantileFunc(&mat.SymDense{}, 100)
	assert.Equal(t, 0.0, empty.At(50))
	assert.Equal(t, 0, empty.Admitted(1))
}

func TestMergeBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		starts   []int
		expected []int
	}{
		{"empty", nil, []int{1}},
		{"origin only", []int{0}, []int{1}},
		{"union of two runs", []int{0, 40, 0, 10, 40}, []int{1, 11, 41}},
		{"unsorted", []int{30, 0, 5}, []int{1, 6, 31}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mergeBoundaries(tt.starts))
		})
	}
}

func TestPrototype(t *testing.T) {
	agreement := mat.NewSymDense(4, []float64{
		1, 0.2, 0.1, 0,
		0.2, 1, 0.9, 0,
		0.1, 0.9, 1, 0,
		0, 0, 0, 1,
	})
	assert.Equal(t, 2, prototype(agreement, 1, 3))
	assert.Equal(t, 4, prototype(agreement, 4, 4))
	// equal sums: lowest index
	assert.Equal(t, 2, prototype(agreement, 2, 3))
}
