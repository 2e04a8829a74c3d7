package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrissnell/occuscale/internal/changepoint"
	"github.com/chrissnell/occuscale/internal/diag"
	"github.com/chrissnell/occuscale/internal/dump"
	"github.com/chrissnell/occuscale/internal/ingest"
	"github.com/chrissnell/occuscale/internal/pipeline"
	"github.com/chrissnell/occuscale/internal/scale"
	"github.com/chrissnell/occuscale/internal/upda"
	"github.com/chrissnell/occuscale/internal/ware"
	"github.com/chrissnell/occuscale/pkg/config"
	"github.com/chrissnell/occuscale/pkg/responseformat"
	"go.uber.org/zap"
)

// App represents one analysis run
type App struct {
	cfg    *config.ConfigData
	logger *zap.SugaredLogger
}

// Summary reports what a run produced
type Summary struct {
	RunID       string
	Directory   string
	Sites       int
	Slices      int
	Diagnostics []diag.Record
}

// New creates a new application instance
func New(cfg *config.ConfigData, logger *zap.SugaredLogger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run loads the input, runs the analysis and writes the results. It returns
// early with a *diag.ConfigError when the configuration is invalid. A
// SIGINT or SIGTERM cancels the run between units of work.
func (a *App) Run(ctx context.Context) (*Summary, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := a.settings()
	if err != nil {
		return nil, err
	}
	slices := a.slices()

	format, err := responseformat.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	src, err := ingest.Open(ingest.Backend(a.cfg.Input.Backend), a.cfg.Input.Location)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	started := time.Now()
	data, err := ingest.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	a.logger.Infof("loaded %d sites, %d located, %d ware mappings from %s",
		len(data.Observations), len(data.Coordinates), len(data.Lookup), a.cfg.Input.Location)

	report := diag.NewReport()
	for _, de := range data.Rejected {
		a.logger.Warnf("%v", de)
		report.AddError(de.Unit, de)
	}
	p := pipeline.New(settings, a.logger.Named("pipeline"), report)

	estimates := p.EstimateSites(ctx, data.Observations)
	results, err := p.AnalyzeSlices(ctx, estimates, data.Coordinates, data.Lookup, slices)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run interrupted: %w", err)
	}

	w, err := dump.NewWriter(a.cfg.Output.Directory, format, a.cfg, a.logger.Named("dump"))
	if err != nil {
		return nil, err
	}

	ordered := make([]*upda.Estimate, 0, len(estimates))
	for _, id := range pipeline.SortedSites(estimates) {
		ordered = append(ordered, estimates[id])
	}
	if err := w.WriteEstimates(ordered); err != nil {
		return nil, err
	}
	for _, res := range results {
		if _, err := w.WriteSlice(res.Slice.Label, res); err != nil {
			return nil, err
		}
	}

	records := report.Records()
	if err := w.Close(records); err != nil {
		return nil, err
	}

	a.logger.Infof("run %s: %d of %d sites estimated, %d of %d slices analysed, %d skipped units, %d fallbacks, %d multimodal, %d failures in %v",
		w.RunID(), len(estimates), len(data.Observations), len(results), len(slices),
		report.Count(diag.KindData), report.Count(diag.KindFallback),
		report.Count(diag.KindMultimodal), report.Count(diag.KindFailure),
		time.Since(started).Round(time.Millisecond))

	return &Summary{
		RunID:       w.RunID(),
		Directory:   a.cfg.Output.Directory,
		Sites:       len(estimates),
		Slices:      len(results),
		Diagnostics: records,
	}, nil
}

func (a *App) settings() (pipeline.Settings, error) {
	cp := a.cfg.ChangePoint

	var global, fine changepoint.Detector
	var err error
	switch changepoint.Method(cp.Method) {
	case changepoint.MethodPELT:
		global, err = changepoint.New(changepoint.MethodPELT, changepoint.Options{Penalty: cp.PeltPenalty, MinSize: cp.PeltMinSize})
		if err != nil {
			return pipeline.Settings{}, err
		}
		// PELT fits its cost per call, so one detector serves both searches
		fine = global
	default:
		opts := changepoint.Options{
			Alpha:        cp.Alpha,
			Penalty:      cp.Penalty,
			SigLevel:     cp.SigLevel,
			Permutations: cp.Permutations,
			Seed:         a.cfg.Partition.Seed,
		}
		global, err = changepoint.New(changepoint.MethodEAgglo, opts)
		if err != nil {
			return pipeline.Settings{}, err
		}
		opts.Alpha = cp.FineAlpha
		fine, err = changepoint.New(changepoint.MethodEAgglo, opts)
		if err != nil {
			return pipeline.Settings{}, err
		}
	}

	return pipeline.Settings{
		UPDA: upda.Params{
			Interval:  a.cfg.UPDA.Interval,
			MinPeriod: a.cfg.UPDA.MinPeriod,
			Cutoff:    a.cfg.UPDA.Cutoff,
		},
		MinSiteTotal: a.cfg.Similarity.MinSiteTotal,
		Mode:         ware.Mode(a.cfg.Output.Apportionment),
		Partitioner: &scale.Partitioner{
			Thresholds: a.cfg.Partition.Thresholds,
			Seed:       a.cfg.Partition.Seed,
			Resolution: a.cfg.Partition.Resolution,
			Workers:    a.cfg.Workers,
		},
		Detector: &scale.Detector{Global: global, Fine: fine, Workers: a.cfg.Workers},
		Workers:  a.cfg.Workers,
	}, nil
}

func (a *App) slices() []ware.Slice {
	out := make([]ware.Slice, len(a.cfg.TimeSlices))
	for i, s := range a.cfg.TimeSlices {
		out[i] = ware.Slice{Label: s.Label, Start: s.Start, End: s.End}
	}
	return out
}

// Exit codes returned by the command line tools
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 2
)

// ExitCode maps a Run error to a process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case diag.IsConfigError(err):
		return ExitConfig
	default:
		return ExitError
	}
}
