package community

import "fmt"

// AdjustedRand returns the chance-corrected Rand index between two
// labellings of the same items. Identical partitions (up to relabelling)
// score 1. When the index is undefined because the expected and maximum
// index coincide, the comparison scores 0.
func AdjustedRand(a, b []int) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("labellings cover %d and %d items", len(a), len(b))
	}
	type cell struct{ x, y int }
	table := make(map[cell]int)
	rows := make(map[int]int)
	cols := make(map[int]int)
	for i := range a {
		table[cell{a[i], b[i]}]++
		rows[a[i]]++
		cols[b[i]]++
	}

	// A bijection between labels means one cell per row and per column
	if len(table) == len(rows) && len(table) == len(cols) {
		return 1, nil
	}

	var index, sumRows, sumCols float64
	for _, n := range table {
		index += choose2(n)
	}
	for _, n := range rows {
		sumRows += choose2(n)
	}
	for _, n := range cols {
		sumCols += choose2(n)
	}

	expected := sumRows * sumCols / choose2(len(a))
	maxIndex := (sumRows + sumCols) / 2
	if maxIndex == expected {
		return 0, nil
	}
	return (index - expected) / (maxIndex - expected), nil
}

func choose2(n int) float64 {
	return float64(n) * float64(n-1) / 2
}
