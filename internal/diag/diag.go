// Package diag defines the error taxonomy of an analysis run and the report
// that collects per-unit skip and fallback records.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind classifies a diagnostic record
type Kind string

const (
	// KindData marks a unit skipped because its input was malformed or empty
	KindData Kind = "data"

	// KindFallback marks a degenerate computation resolved by a documented fallback
	KindFallback Kind = "fallback"

	// KindMultimodal marks a posterior whose occupation window is not contiguous
	KindMultimodal Kind = "multimodal"

	// KindFailure marks a unit that failed unexpectedly (recovered panic, I/O)
	KindFailure Kind = "failure"
)

// DataError reports malformed or empty input for one unit of work. The unit
// is skipped and the batch continues.
type DataError struct {
	Unit   string
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error in %s: %s", e.Unit, e.Reason)
}

// NewDataError builds a DataError with a formatted reason
func NewDataError(unit, format string, args ...any) *DataError {
	return &DataError{Unit: unit, Reason: fmt.Sprintf(format, args...)}
}

// ConfigError reports an invalid run parameter. It is fatal and raised
// before any computation begins.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// IsDataError reports whether err wraps a DataError
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

// IsConfigError reports whether err wraps a ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Record is one skip or fallback entry
type Record struct {
	Unit   string `json:"unit"`
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

// Report collects records from concurrent units of work
type Report struct {
	mu      sync.Mutex
	records []Record
}

// NewReport creates an empty report
func NewReport() *Report {
	return &Report{}
}

// Add appends a record
func (r *Report) Add(unit string, kind Kind, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Unit: unit, Kind: kind, Reason: reason})
}

// AddError records err against unit, classifying DataErrors as data skips
// and everything else as failures.
func (r *Report) AddError(unit string, err error) {
	if IsDataError(err) {
		var de *DataError
		errors.As(err, &de)
		r.Add(unit, KindData, de.Reason)
		return
	}
	r.Add(unit, KindFailure, err.Error())
}

// Records returns a copy of all records sorted by unit then kind. Records
// for the same unit and kind keep their insertion order.
func (r *Report) Records() []Record {
	r.mu.Lock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Unit != out[j].Unit {
			return out[i].Unit < out[j].Unit
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Count returns the number of records of the given kind
func (r *Report) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}
