// Package community partitions weighted site graphs by modularity and
// scores the agreement between partitions.
package community

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"
)

// DefaultResolution is the standard modularity null-model weight
const DefaultResolution = 1.0

// Louvain runs multi-level modularity optimisation over a weighted,
// undirected graph given as a symmetric adjacency matrix. Zero entries are
// absent edges and the diagonal is ignored. Node visiting order comes from
// src, so a fixed seed gives a fixed partition. Labels are numbered 0..k-1
// in order of first appearance.
func Louvain(adj mat.Symmetric, resolution float64, src rand.Source) []int {
	n := adj.SymmetricDim()
	if n == 0 {
		return nil
	}

	g := simple.NewUndirectedMatrix(n, 0, 0, 0)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if w := adj.At(i, j); w > 0 {
				g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(i), T: simple.Node(j), W: w})
			}
		}
	}

	membership := make([]int, n)
	for c, nodes := range community.Modularize(g, resolution, src).Communities() {
		for _, node := range nodes {
			membership[node.ID()] = c
		}
	}

	labels, _ := relabel(membership)
	return labels
}

// relabel renumbers labels 0..k-1 in order of first appearance
func relabel(labels []int) ([]int, int) {
	ids := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := ids[l]
		if !ok {
			id = len(ids)
			ids[l] = id
		}
		out[i] = id
	}
	return out, len(ids)
}

// Count returns the number of distinct communities in a labelling
func Count(labels []int) int {
	_, k := relabel(labels)
	return k
}
