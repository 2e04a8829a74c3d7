package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file. Settings the
// file leaves out keep their defaults.
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Input       InputYAML       `yaml:"input"`
		Output      OutputYAML      `yaml:"output"`
		UPDA        UPDAYAML        `yaml:"upda"`
		Similarity  SimilarityYAML  `yaml:"similarity"`
		Partition   PartitionYAML   `yaml:"partition"`
		ChangePoint ChangePointYAML `yaml:"changepoint"`
		TimeSlices  []TimeSliceYAML `yaml:"time-slices"`
		Workers     *int            `yaml:"workers,omitempty"`
	}

	err = yaml.UnmarshalStrict(cfgFile, &yamlConfig)
	if err != nil {
		return nil, err
	}

	// Convert to our internal format
	config := Defaults()

	setString(&config.Input.Backend, yamlConfig.Input.Backend)
	setString(&config.Input.Location, yamlConfig.Input.Location)

	setString(&config.Output.Directory, yamlConfig.Output.Directory)
	setString(&config.Output.Format, yamlConfig.Output.Format)
	setString(&config.Output.Apportionment, yamlConfig.Output.Apportionment)

	set(&config.UPDA.Interval, yamlConfig.UPDA.Interval)
	set(&config.UPDA.MinPeriod, yamlConfig.UPDA.MinPeriod)
	set(&config.UPDA.Cutoff, yamlConfig.UPDA.Cutoff)

	set(&config.Similarity.MinSiteTotal, yamlConfig.Similarity.MinSiteTotal)

	set(&config.Partition.Thresholds, yamlConfig.Partition.Thresholds)
	set(&config.Partition.Seed, yamlConfig.Partition.Seed)
	set(&config.Partition.Resolution, yamlConfig.Partition.Resolution)

	setString(&config.ChangePoint.Method, yamlConfig.ChangePoint.Method)
	set(&config.ChangePoint.Alpha, yamlConfig.ChangePoint.Alpha)
	set(&config.ChangePoint.FineAlpha, yamlConfig.ChangePoint.FineAlpha)
	set(&config.ChangePoint.Penalty, yamlConfig.ChangePoint.Penalty)
	set(&config.ChangePoint.PeltPenalty, yamlConfig.ChangePoint.PeltPenalty)
	set(&config.ChangePoint.PeltMinSize, yamlConfig.ChangePoint.PeltMinSize)
	set(&config.ChangePoint.SigLevel, yamlConfig.ChangePoint.SigLevel)
	set(&config.ChangePoint.Permutations, yamlConfig.ChangePoint.Permutations)

	// Convert time slices
	config.TimeSlices = make([]TimeSliceData, len(yamlConfig.TimeSlices))
	for i, s := range yamlConfig.TimeSlices {
		config.TimeSlices[i] = TimeSliceData{
			Label: s.Label,
			Start: s.Start,
			End:   s.End,
		}
	}

	set(&config.Workers, yamlConfig.Workers)

	y.config = config
	return config, nil
}

// GetTimeSlices returns time slice configurations
func (y *YAMLProvider) GetTimeSlices() ([]TimeSliceData, error) {
	if y.config == nil {
		_, err := y.LoadConfig()
		if err != nil {
			return nil, err
		}
	}
	return y.config.TimeSlices, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// YAML-specific structs. Pointers tell an explicit zero from an absent key.
type InputYAML struct {
	Backend  string `yaml:"backend,omitempty"`
	Location string `yaml:"location,omitempty"`
}

type OutputYAML struct {
	Directory     string `yaml:"directory,omitempty"`
	Format        string `yaml:"format,omitempty"`
	Apportionment string `yaml:"apportionment,omitempty"`
}

type UPDAYAML struct {
	Interval  *int     `yaml:"interval,omitempty"`
	MinPeriod *int     `yaml:"min-period,omitempty"`
	Cutoff    *float64 `yaml:"cutoff,omitempty"`
}

type SimilarityYAML struct {
	MinSiteTotal *float64 `yaml:"min-site-total,omitempty"`
}

type PartitionYAML struct {
	Thresholds *int     `yaml:"thresholds,omitempty"`
	Seed       *uint64  `yaml:"seed,omitempty"`
	Resolution *float64 `yaml:"resolution,omitempty"`
}

type ChangePointYAML struct {
	Method       string   `yaml:"method,omitempty"`
	Alpha        *float64 `yaml:"alpha,omitempty"`
	FineAlpha    *float64 `yaml:"fine-alpha,omitempty"`
	Penalty      *float64 `yaml:"penalty,omitempty"`
	PeltPenalty  *float64 `yaml:"pelt-penalty,omitempty"`
	PeltMinSize  *int     `yaml:"pelt-min-size,omitempty"`
	SigLevel     *float64 `yaml:"sig-level,omitempty"`
	Permutations *int     `yaml:"permutations,omitempty"`
}

type TimeSliceYAML struct {
	Label string `yaml:"label"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}
