package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chrissnell/occuscale/internal/diag"
	"github.com/chrissnell/occuscale/internal/similarity"
	"github.com/chrissnell/occuscale/internal/upda"
	"github.com/chrissnell/occuscale/internal/ware"
)

// File names read by CSVSource
const (
	ObservationsFile = "observations.csv"
	SitesFile        = "sites.csv"
	WaresFile        = "wares.csv"
)

var (
	observationHeader = []string{"site", "type", "count", "start", "end", "trusted"}
	siteHeader        = []string{"site", "x", "y"}
	wareHeader        = []string{"type", "ware"}
)

// CSVSource reads input tables from CSV files in one directory
type CSVSource struct {
	dir string
}

// NewCSVSource creates a CSV source rooted at dir
func NewCSVSource(dir string) (*CSVSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input location %s is not a directory", dir)
	}
	return &CSVSource{dir: dir}, nil
}

// Close implements io.Closer
func (c *CSVSource) Close() error {
	return nil
}

// Observations reads observations.csv. A row that does not parse rejects
// its whole site.
func (c *CSVSource) Observations(ctx context.Context) (map[string][]upda.Observation, []*diag.DataError, error) {
	out := make(map[string][]upda.Observation)
	rejected := newRejections()
	err := c.each(ctx, ObservationsFile, observationHeader, func(line int, rec []string) error {
		site := strings.TrimSpace(rec[0])
		if site == "" {
			return fmt.Errorf("%s line %d: missing site", ObservationsFile, line)
		}
		if rejected.has(site) {
			return nil
		}

		o, err := parseObservation(rec[1:])
		if err != nil {
			delete(out, site)
			rejected.add(site, fmt.Errorf("%s line %d: %w", ObservationsFile, line, err))
			return nil
		}
		out[site] = append(out[site], o)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, rejected.errs, nil
}

// Coordinates reads sites.csv. A site listed twice is an error.
func (c *CSVSource) Coordinates(ctx context.Context) (map[string]similarity.Point, []*diag.DataError, error) {
	out := make(map[string]similarity.Point)
	rejected := newRejections()
	err := c.each(ctx, SitesFile, siteHeader, func(line int, rec []string) error {
		site := strings.TrimSpace(rec[0])
		if _, dup := out[site]; dup || rejected.has(site) {
			return fmt.Errorf("%s line %d: duplicate site %s", SitesFile, line, site)
		}

		p, err := parsePoint(rec[1], rec[2])
		if err != nil {
			rejected.add(site, fmt.Errorf("%s line %d: %w", SitesFile, line, err))
			return nil
		}
		out[site] = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, rejected.errs, nil
}

// WareLookup reads wares.csv
func (c *CSVSource) WareLookup(ctx context.Context) (ware.Lookup, error) {
	out := make(ware.Lookup)
	err := c.each(ctx, WaresFile, wareHeader, func(line int, rec []string) error {
		typ := strings.TrimSpace(rec[0])
		if prev, dup := out[typ]; dup && prev != strings.TrimSpace(rec[1]) {
			return fmt.Errorf("%s line %d: type %s maps to both %s and %s", WaresFile, line, typ, prev, rec[1])
		}
		out[typ] = strings.TrimSpace(rec[1])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// each checks the header of a CSV file and calls fn for every data record.
// Line numbers are the record's line in the file.
func (c *CSVSource) each(ctx context.Context, name string, header []string, fn func(line int, rec []string) error) error {
	file, err := os.Open(filepath.Join(c.dir, name))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(header)
	reader.Comment = '#'

	got, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read %s header: %w", name, err)
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(got[i]), col) {
			return fmt.Errorf("%s: expected column %d to be %q, got %q", name, i+1, col, got[i])
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		line, _ := reader.FieldPos(0)
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}

