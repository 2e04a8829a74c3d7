package upda

// Observation is one artifact type counted at a site
type Observation struct {
	Type    string
	Count   int
	Start   int
	End     int
	Trusted bool // member of the high-confidence chronology subset
}

// Range is a closed calendar span in years
type Range struct {
	Start int
	End   int
}

// Period is one derived interval of a site's temporal binning
type Period struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Width returns the length of the period in years
func (p Period) Width() int {
	return p.End - p.Start
}

// Params holds the estimator settings
type Params struct {
	Interval  int     // rounding granularity for type dates, in years
	MinPeriod int     // minimum derived period length, in years
	Cutoff    float64 // occupation window threshold as a fraction of the peak posterior
}

// Window is the estimated occupation span of a site
type Window struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// Estimate is the occupation estimate for one site. Rows of Uniform and
// Apportioned follow Observations; columns follow Periods.
type Estimate struct {
	Site         string        `json:"site"`
	Observations []Observation `json:"observations"`
	Periods      []Period      `json:"periods"`

	// Uniform apportionment: counts spread by temporal overlap only
	Uniform [][]float64 `json:"uniform"`

	// Apportioned is the posterior apportionment after extra-mass reallocation
	Apportioned [][]float64 `json:"apportioned"`

	Prior       []float64 `json:"prior"`
	Conditional []float64 `json:"conditional"`
	Posterior   []float64 `json:"posterior"`

	Window Window `json:"window"`

	// Multimodal is set when a period inside the window falls below the cutoff
	Multimodal bool `json:"multimodal"`

	// Fallbacks lists degenerate computations that were resolved locally
	Fallbacks []string `json:"fallbacks,omitempty"`
}
