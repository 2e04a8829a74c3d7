// Package ingest loads artifact observations, site coordinates and the
// type to ware lookup from CSV files or a SQLite database.
package ingest

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chrissnell/occuscale/internal/diag"
	"github.com/chrissnell/occuscale/internal/similarity"
	"github.com/chrissnell/occuscale/internal/upda"
	"github.com/chrissnell/occuscale/internal/ware"
)

// Source defines the interface for artifact data backends
type Source interface {
	// Observations returns every site's observations keyed by site id. A
	// site with an unreadable row is left out and returned as a rejection.
	Observations(ctx context.Context) (map[string][]upda.Observation, []*diag.DataError, error)

	// Coordinates returns every site's projected location keyed by site id,
	// rejecting sites whose location cannot be read
	Coordinates(ctx context.Context) (map[string]similarity.Point, []*diag.DataError, error)

	// WareLookup returns the type to ware mapping
	WareLookup(ctx context.Context) (ware.Lookup, error)

	io.Closer
}

// Backend identifies a Source implementation
type Backend string

const (
	// BackendCSV reads observations.csv, sites.csv and wares.csv from a directory
	BackendCSV Backend = "csv"

	// BackendSQLite reads the observations, sites and wares tables of a database
	BackendSQLite Backend = "sqlite"
)

// Open creates a Source for the given backend and location
func Open(backend Backend, location string) (Source, error) {
	switch backend {
	case BackendCSV:
		return NewCSVSource(location)
	case BackendSQLite:
		return NewSQLiteSource(location)
	default:
		return nil, fmt.Errorf("unknown input backend %q", backend)
	}
}

// Dataset is everything a run reads from its Source
type Dataset struct {
	Observations map[string][]upda.Observation
	Coordinates  map[string]similarity.Point
	Lookup       ware.Lookup
	Rejected     []*diag.DataError
}

// Load reads a complete Dataset from src
func Load(ctx context.Context, src Source) (*Dataset, error) {
	obs, rejected, err := src.Observations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}
	coords, badCoords, err := src.Coordinates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load site coordinates: %w", err)
	}
	lookup, err := src.WareLookup(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ware lookup: %w", err)
	}
	return &Dataset{
		Observations: obs,
		Coordinates:  coords,
		Lookup:       lookup,
		Rejected:     append(rejected, badCoords...),
	}, nil
}

// rejections collects the sites left out of a table because one of their
// rows could not be read
type rejections struct {
	sites map[string]bool
	errs  []*diag.DataError
}

func newRejections() *rejections {
	return &rejections{sites: make(map[string]bool)}
}

func (r *rejections) has(site string) bool {
	return r.sites[site]
}

func (r *rejections) add(site string, err error) {
	r.sites[site] = true
	r.errs = append(r.errs, diag.NewDataError(site, "%v; site skipped", err))
}

// parseObservation reads the type, count, start, end and trusted columns
func parseObservation(fields []string) (upda.Observation, error) {
	o := upda.Observation{Type: strings.TrimSpace(fields[0])}
	var err error
	if o.Count, err = strconv.Atoi(strings.TrimSpace(fields[1])); err != nil {
		return o, fieldError("count", err)
	}
	if o.Start, err = strconv.Atoi(strings.TrimSpace(fields[2])); err != nil {
		return o, fieldError("start", err)
	}
	if o.End, err = strconv.Atoi(strings.TrimSpace(fields[3])); err != nil {
		return o, fieldError("end", err)
	}
	if o.Trusted, err = strconv.ParseBool(strings.TrimSpace(fields[4])); err != nil {
		return o, fieldError("trusted", err)
	}
	return o, nil
}

func parsePoint(x, y string) (similarity.Point, error) {
	var p similarity.Point
	var err error
	if p.X, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
		return p, fieldError("x", err)
	}
	if p.Y, err = strconv.ParseFloat(strings.TrimSpace(y), 64); err != nil {
		return p, fieldError("y", err)
	}
	return p, nil
}

func fieldError(field string, err error) error {
	return fmt.Errorf("invalid %s: %w", field, err)
}
