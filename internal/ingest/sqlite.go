package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chrissnell/occuscale/internal/diag"
	"github.com/chrissnell/occuscale/internal/similarity"
	"github.com/chrissnell/occuscale/internal/upda"
	"github.com/chrissnell/occuscale/internal/ware"
	_ "modernc.org/sqlite"
)

// Schema creates the tables SQLiteSource reads
const Schema = `
CREATE TABLE IF NOT EXISTS observations (
	site    TEXT    NOT NULL,
	type    TEXT    NOT NULL,
	count   INTEGER NOT NULL,
	start   INTEGER NOT NULL,
	"end"   INTEGER NOT NULL,
	trusted BOOLEAN NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS sites (
	site TEXT PRIMARY KEY,
	x    REAL NOT NULL,
	y    REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS wares (
	type TEXT PRIMARY KEY,
	ware TEXT NOT NULL
);
`

// SQLiteSource reads input tables from a SQLite database
type SQLiteSource struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteSource opens the database at dbPath
func NewSQLiteSource(dbPath string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &SQLiteSource{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// Observations reads the observations table. Values are parsed as they
// are in CSV input, and a row that does not parse rejects its whole site.
func (s *SQLiteSource) Observations(ctx context.Context) (map[string][]upda.Observation, []*diag.DataError, error) {
	query := `
		SELECT site, type, count, start, "end", trusted
		FROM observations
		ORDER BY site, rowid
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]upda.Observation)
	rejected := newRejections()
	for rows.Next() {
		var site string
		var fields [5]string
		if err := rows.Scan(&site, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4]); err != nil {
			return nil, nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		if rejected.has(site) {
			continue
		}

		o, err := parseObservation(fields[:])
		if err != nil {
			delete(out, site)
			rejected.add(site, fmt.Errorf("observations table: %w", err))
			continue
		}
		out[site] = append(out[site], o)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read observations: %w", err)
	}
	return out, rejected.errs, nil
}

// Coordinates reads the sites table
func (s *SQLiteSource) Coordinates(ctx context.Context) (map[string]similarity.Point, []*diag.DataError, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT site, x, y FROM sites ORDER BY site`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer rows.Close()

	out := make(map[string]similarity.Point)
	rejected := newRejections()
	for rows.Next() {
		var site, x, y string
		if err := rows.Scan(&site, &x, &y); err != nil {
			return nil, nil, fmt.Errorf("failed to scan site: %w", err)
		}
		p, err := parsePoint(x, y)
		if err != nil {
			rejected.add(site, fmt.Errorf("sites table: %w", err))
			continue
		}
		out[site] = p
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read sites: %w", err)
	}
	return out, rejected.errs, nil
}

// WareLookup reads the wares table
func (s *SQLiteSource) WareLookup(ctx context.Context) (ware.Lookup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, ware FROM wares`)
	if err != nil {
		return nil, fmt.Errorf("failed to query wares: %w", err)
	}
	defer rows.Close()

	out := make(ware.Lookup)
	for rows.Next() {
		var typ, w string
		if err := rows.Scan(&typ, &w); err != nil {
			return nil, fmt.Errorf("failed to scan ware: %w", err)
		}
		out[typ] = w
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wares: %w", err)
	}
	return out, nil
}
