package changepoint

// PeltDetector implements the PELT algorithm over an RBF kernel cost. The
// cost is fitted per call, so one detector can serve concurrent callers.
type PeltDetector struct {
	minSize int
	penalty float64
}

// NewPeltDetector creates a new PELT detector
func NewPeltDetector(minSize int, penalty float64) *PeltDetector {
	return &PeltDetector{
		minSize: minSize,
		penalty: penalty,
	}
}

// breakpoints returns the exclusive end of every optimal segment, the last
// being len(rows).
func (p *PeltDetector) breakpoints(rows [][]float64) []int {
	nSamples := len(rows)
	cost := FitRBF(rows)

	// best[t] is the optimal penalised cost of rows[0:t]; last[t] is where
	// the final segment of that optimum starts. -1 marks no partition.
	best := make([]float64, nSamples+1)
	last := make([]int, nSamples+1)
	for t := range last {
		last[t] = -1
	}
	last[0] = 0

	// Candidate breakpoints
	ind := []int{}
	for k := p.minSize; k < nSamples; k++ {
		ind = append(ind, k)
	}
	ind = append(ind, nSamples)

	admissible := []int{}
	for _, bkp := range ind {
		// Add new admissible point from previous loop
		admissible = append(admissible, bkp-p.minSize)

		type candidate struct {
			start int
			cost  float64
		}
		subproblems := make([]candidate, 0, len(admissible))
		for _, t := range admissible {
			if last[t] < 0 {
				continue // no partition of 0:t exists
			}
			subproblems = append(subproblems, candidate{t, best[t] + cost.Error(t, bkp) + p.penalty})
		}
		if len(subproblems) == 0 {
			continue
		}

		// Find optimal partition (minimum total cost, earliest start on ties)
		opt := subproblems[0]
		for _, c := range subproblems[1:] {
			if c.cost < opt.cost {
				opt = c
			}
		}
		best[bkp], last[bkp] = opt.cost, opt.start

		// Prune admissible set
		// Keep only points whose cost is within penalty of optimal
		pruned := admissible[:0]
		for _, c := range subproblems {
			if c.cost <= opt.cost+p.penalty {
				pruned = append(pruned, c.start)
			}
		}
		admissible = pruned
	}

	var bkps []int
	for t := nSamples; t > 0; t = last[t] {
		bkps = append([]int{t}, bkps...)
	}
	return bkps
}

// Detect returns regime starts. Inputs shorter than two minimum-size
// segments form a single regime.
func (p *PeltDetector) Detect(rows [][]float64) []int {
	n := len(rows)
	if n == 0 {
		return nil
	}
	if n < 2*p.minSize {
		return []int{0}
	}

	bkps := p.breakpoints(rows)
	starts := make([]int, 0, len(bkps))
	starts = append(starts, 0)
	for _, b := range bkps[:len(bkps)-1] {
		starts = append(starts, b)
	}
	return starts
}
