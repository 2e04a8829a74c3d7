package config

import (
	"fmt"
	"runtime"

	"github.com/chrissnell/occuscale/internal/diag"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetTimeSlices() ([]TimeSliceData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration of an analysis run
type ConfigData struct {
	Input       InputData       `json:"input"`
	Output      OutputData      `json:"output"`
	UPDA        UPDAData        `json:"upda"`
	Similarity  SimilarityData  `json:"similarity"`
	Partition   PartitionData   `json:"partition"`
	ChangePoint ChangePointData `json:"changepoint"`
	TimeSlices  []TimeSliceData `json:"time_slices"`
	Workers     int             `json:"workers"`
}

// InputData names the artifact data backend
type InputData struct {
	Backend  string `json:"backend"`
	Location string `json:"location"`
}

// OutputData controls where and how results are written
type OutputData struct {
	Directory     string `json:"directory"`
	Format        string `json:"format"`
	Apportionment string `json:"apportionment"`
}

// UPDAData holds the occupation estimator settings
type UPDAData struct {
	Interval  int     `json:"interval"`
	MinPeriod int     `json:"min_period"`
	Cutoff    float64 `json:"cutoff"`
}

// SimilarityData holds the similarity matrix settings
type SimilarityData struct {
	MinSiteTotal float64 `json:"min_site_total"`
}

// PartitionData holds the community detection settings
type PartitionData struct {
	Thresholds int     `json:"thresholds"`
	Seed       uint64  `json:"seed"`
	Resolution float64 `json:"resolution"`
}

// ChangePointData holds the regime search settings
type ChangePointData struct {
	Method       string  `json:"method"`
	Alpha        float64 `json:"alpha"`
	FineAlpha    float64 `json:"fine_alpha"`
	Penalty      float64 `json:"penalty"`
	PeltPenalty  float64 `json:"pelt_penalty"`
	PeltMinSize  int     `json:"pelt_min_size"`
	SigLevel     float64 `json:"sig_level"`
	Permutations int     `json:"permutations"`
}

// TimeSliceData is one analysis time slice covering years [Start, End)
type TimeSliceData struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Defaults returns a configuration holding every default value. Providers
// overlay what their source sets onto it.
func Defaults() *ConfigData {
	return &ConfigData{
		Input: InputData{Backend: "csv"},
		Output: OutputData{
			Directory:     "results",
			Format:        "json",
			Apportionment: "posterior",
		},
		UPDA:       UPDAData{Interval: 5, MinPeriod: 25, Cutoff: 0.5},
		Similarity: SimilarityData{MinSiteTotal: 10},
		Partition:  PartitionData{Thresholds: 100, Seed: 42, Resolution: 1.0},
		ChangePoint: ChangePointData{
			Method:       "eagglo",
			Alpha:        1.0,
			FineAlpha:    1.5,
			Penalty:      0,
			PeltPenalty:  1.0,
			PeltMinSize:  2,
			SigLevel:     0.05,
			Permutations: 199,
		},
		Workers: runtime.NumCPU(),
	}
}

// Validate checks every setting before any work starts. The first
// violation is returned as a *diag.ConfigError.
func (c *ConfigData) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &diag.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	switch c.Input.Backend {
	case "csv", "sqlite":
	default:
		return invalid("input.backend", "unknown backend %q", c.Input.Backend)
	}
	if c.Input.Location == "" {
		return invalid("input.location", "must be set")
	}

	if c.Output.Directory == "" {
		return invalid("output.directory", "must be set")
	}
	switch c.Output.Format {
	case "json", "msgpack":
	default:
		return invalid("output.format", "must be json or msgpack, got %q", c.Output.Format)
	}
	switch c.Output.Apportionment {
	case "posterior", "uniform":
	default:
		return invalid("output.apportionment", "must be posterior or uniform, got %q", c.Output.Apportionment)
	}

	if c.UPDA.Interval <= 0 {
		return invalid("upda.interval", "must be positive, got %d", c.UPDA.Interval)
	}
	if c.UPDA.MinPeriod <= 0 {
		return invalid("upda.min-period", "must be positive, got %d", c.UPDA.MinPeriod)
	}
	if !(c.UPDA.Cutoff > 0 && c.UPDA.Cutoff <= 1) {
		return invalid("upda.cutoff", "must be in (0,1], got %v", c.UPDA.Cutoff)
	}

	if c.Similarity.MinSiteTotal < 0 {
		return invalid("similarity.min-site-total", "must not be negative, got %v", c.Similarity.MinSiteTotal)
	}

	if c.Partition.Thresholds < 4 {
		return invalid("partition.thresholds", "must be at least 4, got %d", c.Partition.Thresholds)
	}
	if !(c.Partition.Resolution > 0) {
		return invalid("partition.resolution", "must be positive, got %v", c.Partition.Resolution)
	}

	cp := c.ChangePoint
	switch cp.Method {
	case "eagglo", "pelt":
	default:
		return invalid("changepoint.method", "must be eagglo or pelt, got %q", cp.Method)
	}
	if !(cp.Alpha > 0 && cp.Alpha < 2) {
		return invalid("changepoint.alpha", "must be in (0,2), got %v", cp.Alpha)
	}
	if !(cp.FineAlpha > 0 && cp.FineAlpha < 2) {
		return invalid("changepoint.fine-alpha", "must be in (0,2), got %v", cp.FineAlpha)
	}
	if !(cp.Penalty >= 0) {
		return invalid("changepoint.penalty", "must not be negative, got %v", cp.Penalty)
	}
	if !(cp.PeltPenalty >= 0) {
		return invalid("changepoint.pelt-penalty", "must not be negative, got %v", cp.PeltPenalty)
	}
	if cp.PeltMinSize < 1 {
		return invalid("changepoint.pelt-min-size", "must be at least 1, got %d", cp.PeltMinSize)
	}
	if !(cp.SigLevel > 0 && cp.SigLevel <= 1) {
		return invalid("changepoint.sig-level", "must be in (0,1], got %v", cp.SigLevel)
	}
	if cp.Permutations < 1 {
		return invalid("changepoint.permutations", "must be at least 1, got %d", cp.Permutations)
	}

	if len(c.TimeSlices) == 0 {
		return invalid("time-slices", "at least one time slice is required")
	}
	labels := make(map[string]bool)
	for i, s := range c.TimeSlices {
		if s.Label == "" {
			return invalid("time-slices", "slice %d has no label", i+1)
		}
		if labels[s.Label] {
			return invalid("time-slices", "label %q is used twice", s.Label)
		}
		labels[s.Label] = true
		if s.Start >= s.End {
			return invalid("time-slices", "slice %q starts at %d, not before its end %d", s.Label, s.Start, s.End)
		}
	}

	if c.Workers < 0 {
		return invalid("workers", "must not be negative, got %d", c.Workers)
	}
	return nil
}
