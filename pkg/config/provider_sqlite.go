package config

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"
)

// SQLiteSchema creates the configuration tables. They can live in the same
// database as the artifact tables.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS analysis_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS time_slices (
	position INTEGER PRIMARY KEY,
	label    TEXT    NOT NULL UNIQUE,
	start    INTEGER NOT NULL,
	"end"    INTEGER NOT NULL
);
`

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider creates a new SQLite configuration provider
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// setting binds one analysis_config key to a ConfigData field
type setting struct {
	key string
	get func(c *ConfigData) string
	set func(c *ConfigData, v string) error
}

func stringSetting(key string, field func(c *ConfigData) *string) setting {
	return setting{
		key: key,
		get: func(c *ConfigData) string { return *field(c) },
		set: func(c *ConfigData, v string) error { *field(c) = v; return nil },
	}
}

func intSetting(key string, field func(c *ConfigData) *int) setting {
	return setting{
		key: key,
		get: func(c *ConfigData) string { return strconv.Itoa(*field(c)) },
		set: func(c *ConfigData, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*field(c) = n
			return nil
		},
	}
}

func floatSetting(key string, field func(c *ConfigData) *float64) setting {
	return setting{
		key: key,
		get: func(c *ConfigData) string { return strconv.FormatFloat(*field(c), 'g', -1, 64) },
		set: func(c *ConfigData, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*field(c) = f
			return nil
		},
	}
}

var settings = []setting{
	stringSetting("input.backend", func(c *ConfigData) *string { return &c.Input.Backend }),
	stringSetting("input.location", func(c *ConfigData) *string { return &c.Input.Location }),
	stringSetting("output.directory", func(c *ConfigData) *string { return &c.Output.Directory }),
	stringSetting("output.format", func(c *ConfigData) *string { return &c.Output.Format }),
	stringSetting("output.apportionment", func(c *ConfigData) *string { return &c.Output.Apportionment }),
	intSetting("upda.interval", func(c *ConfigData) *int { return &c.UPDA.Interval }),
	intSetting("upda.min-period", func(c *ConfigData) *int { return &c.UPDA.MinPeriod }),
	floatSetting("upda.cutoff", func(c *ConfigData) *float64 { return &c.UPDA.Cutoff }),
	floatSetting("similarity.min-site-total", func(c *ConfigData) *float64 { return &c.Similarity.MinSiteTotal }),
	intSetting("partition.thresholds", func(c *ConfigData) *int { return &c.Partition.Thresholds }),
	{
		key: "partition.seed",
		get: func(c *ConfigData) string { return strconv.FormatUint(c.Partition.Seed, 10) },
		set: func(c *ConfigData, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return err
			}
			c.Partition.Seed = n
			return nil
		},
	},
	floatSetting("partition.resolution", func(c *ConfigData) *float64 { return &c.Partition.Resolution }),
	stringSetting("changepoint.method", func(c *ConfigData) *string { return &c.ChangePoint.Method }),
	floatSetting("changepoint.alpha", func(c *ConfigData) *float64 { return &c.ChangePoint.Alpha }),
	floatSetting("changepoint.fine-alpha", func(c *ConfigData) *float64 { return &c.ChangePoint.FineAlpha }),
	floatSetting("changepoint.penalty", func(c *ConfigData) *float64 { return &c.ChangePoint.Penalty }),
	floatSetting("changepoint.pelt-penalty", func(c *ConfigData) *float64 { return &c.ChangePoint.PeltPenalty }),
	intSetting("changepoint.pelt-min-size", func(c *ConfigData) *int { return &c.ChangePoint.PeltMinSize }),
	floatSetting("changepoint.sig-level", func(c *ConfigData) *float64 { return &c.ChangePoint.SigLevel }),
	intSetting("changepoint.permutations", func(c *ConfigData) *int { return &c.ChangePoint.Permutations }),
	intSetting("workers", func(c *ConfigData) *int { return &c.Workers }),
}

// LoadConfig loads the complete configuration from SQLite database. Keys
// missing from analysis_config keep their defaults; with no input location
// the artifact tables are read from this same database.
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := Defaults()
	config.Input = InputData{Backend: "sqlite", Location: s.dbPath}

	rows, err := s.db.Query(`SELECT key, value FROM analysis_config`)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis config: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan analysis config: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read analysis config: %w", err)
	}

	known := make(map[string]bool, len(settings))
	for _, st := range settings {
		known[st.key] = true
		v, ok := values[st.key]
		if !ok {
			continue
		}
		if err := st.set(config, v); err != nil {
			return nil, fmt.Errorf("invalid value %q for %s: %w", v, st.key, err)
		}
	}
	for key := range values {
		if !known[key] {
			return nil, fmt.Errorf("unknown configuration key %q", key)
		}
	}

	// Load time slices
	slices, err := s.GetTimeSlices()
	if err != nil {
		return nil, fmt.Errorf("failed to load time slices: %w", err)
	}
	config.TimeSlices = slices

	return config, nil
}

// GetTimeSlices returns time slice configurations in their stored order
func (s *SQLiteProvider) GetTimeSlices() ([]TimeSliceData, error) {
	rows, err := s.db.Query(`SELECT label, start, "end" FROM time_slices ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query time slices: %w", err)
	}
	defer rows.Close()

	var slices []TimeSliceData
	for rows.Next() {
		var ts TimeSliceData
		if err := rows.Scan(&ts.Label, &ts.Start, &ts.End); err != nil {
			return nil, fmt.Errorf("failed to scan time slice: %w", err)
		}
		slices = append(slices, ts)
	}
	return slices, rows.Err()
}

// IsReadOnly returns false since SQLite supports writes
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Write methods for configuration management

// SaveConfig replaces the stored configuration with configData
func (s *SQLiteProvider) SaveConfig(configData *ConfigData) error {
	// Start transaction
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(SQLiteSchema); err != nil {
		return fmt.Errorf("failed to create configuration tables: %w", err)
	}

	// Clear existing data
	for _, query := range []string{"DELETE FROM analysis_config", "DELETE FROM time_slices"} {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to clear existing config: %w", err)
		}
	}

	for _, st := range settings {
		if _, err := tx.Exec(`INSERT INTO analysis_config (key, value) VALUES (?, ?)`, st.key, st.get(configData)); err != nil {
			return fmt.Errorf("failed to insert %s: %w", st.key, err)
		}
	}

	for i, ts := range configData.TimeSlices {
		_, err := tx.Exec(`INSERT INTO time_slices (position, label, start, "end") VALUES (?, ?, ?, ?)`,
			i, ts.Label, ts.Start, ts.End)
		if err != nil {
			return fmt.Errorf("failed to insert time slice %s: %w", ts.Label, err)
		}
	}

	// Commit transaction
	return tx.Commit()
}
