package upda

import (
	"math"
	"sort"
)

// RoundTo rounds a year to the nearest multiple of interval, ties to even
func RoundTo(year, interval int) int {
	if interval <= 1 {
		return year
	}
	return int(math.RoundToEven(float64(year)/float64(interval))) * interval
}

// BuildPeriods derives the ordered, contiguous periods covering all ranges.
// Every distinct boundary opens a candidate period; a candidate narrower
// than minPeriod is absorbed by its predecessor. The first period has no
// predecessor and may stay narrower than minPeriod.
func BuildPeriods(ranges []Range, minPeriod int) []Period {
	seen := make(map[int]struct{}, 2*len(ranges))
	bounds := make([]int, 0, 2*len(ranges))
	for _, r := range ranges {
		for _, b := range [2]int{r.Start, r.End} {
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			bounds = append(bounds, b)
		}
	}
	if len(bounds) < 2 {
		return nil
	}
	sort.Ints(bounds)

	periods := make([]Period, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		periods = append(periods, Period{Start: bounds[i], End: bounds[i+1]})
	}

	// A single candidate has nothing to merge with
	if len(bounds) == 2 {
		return periods
	}

	for i := 1; i < len(periods); {
		if periods[i].Width() < minPeriod {
			periods[i-1].End = periods[i].End
			periods = append(periods[:i], periods[i+1:]...)
			continue
		}
		i++
	}

	return periods
}
