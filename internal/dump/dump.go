// Package dump writes the results of a run to a directory, one file per
// document, plus a manifest tying them together.
package dump

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chrissnell/occuscale/internal/diag"
	"github.com/chrissnell/occuscale/pkg/responseformat"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manifest describes one run's output directory
type Manifest struct {
	RunID       string        `json:"run_id"`
	CreatedAt   time.Time     `json:"created_at"`
	Config      any           `json:"config"`
	Estimates   string        `json:"estimates"`
	Slices      []SliceFile   `json:"slices"`
	Diagnostics []diag.Record `json:"diagnostics"`
}

// SliceFile names the result file of one time slice
type SliceFile struct {
	Label string `json:"label"`
	File  string `json:"file"`
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Writer writes run documents into one directory
type Writer struct {
	dir       string
	formatter *responseformat.Formatter
	logger    *zap.SugaredLogger
	manifest  Manifest
	used      map[string]bool
}

// NewWriter creates the output directory and starts a manifest with a
// fresh run id
func NewWriter(dir string, format responseformat.Format, config any, logger *zap.SugaredLogger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{
		dir:       dir,
		formatter: responseformat.NewFormatter(format),
		logger:    logger,
		manifest: Manifest{
			RunID:     uuid.NewString(),
			CreatedAt: time.Now().UTC(),
			Config:    config,
		},
		used: make(map[string]bool),
	}, nil
}

// RunID returns the id recorded in the manifest
func (w *Writer) RunID() string {
	return w.manifest.RunID
}

// WriteEstimates writes the per-site occupation estimates
func (w *Writer) WriteEstimates(estimates any) error {
	name := "estimates." + w.formatter.Extension()
	if err := w.write(name, estimates); err != nil {
		return err
	}
	w.manifest.Estimates = name
	return nil
}

// WriteSlice writes one time slice's results and returns the file name.
// Labels that sanitise to a name already written get a numeric suffix.
func (w *Writer) WriteSlice(label string, result any) (string, error) {
	stem := "slice-" + unsafeChars.ReplaceAllString(label, "_")
	name := stem + "." + w.formatter.Extension()
	for i := 2; w.used[name]; i++ {
		name = fmt.Sprintf("%s-%d.%s", stem, i, w.formatter.Extension())
	}
	if err := w.write(name, result); err != nil {
		return "", err
	}
	w.used[name] = true
	w.manifest.Slices = append(w.manifest.Slices, SliceFile{Label: label, File: name})
	return name, nil
}

// Close writes the manifest with the final diagnostics
func (w *Writer) Close(records []diag.Record) error {
	w.manifest.Diagnostics = records
	return w.write("manifest."+w.formatter.Extension(), w.manifest)
}

func (w *Writer) write(name string, data any) error {
	path := filepath.Join(w.dir, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	if err := w.formatter.Write(file, data); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	w.logger.Debugf("wrote %s", path)
	return nil
}
