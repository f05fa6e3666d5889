package main

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed metrics_schema.sql
var metricsSchema string

const metricsSchemaVersion = 1

// MetricsDB is a SQLite-backed scalar sink, one row per (tag, step, value).
type MetricsDB struct {
	sqlDB *sql.DB
	path  string
}

// Scalar is one recorded point.
type Scalar struct {
	Tag      string
	Step     int
	Value    float64
	WallTime time.Time
}

// OpenMetrics opens or creates the metrics database at path.
func OpenMetrics(path string) (*MetricsDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("metrics: failed to create directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("metrics: failed to open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("metrics: failed to ping database: %w", err)
	}

	db := &MetricsDB{sqlDB: sqlDB, path: path}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("metrics: failed to migrate database: %w", err)
	}
	return db, nil
}

func (db *MetricsDB) migrate() error {
	tx, err := db.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(metricsSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		metricsSchemaVersion,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return tx.Commit()
}

// Path returns the database file.
func (db *MetricsDB) Path() string { return db.path }

// Close closes the database connection.
func (db *MetricsDB) Close() error {
	return db.sqlDB.Close()
}

// AddScalar appends one point to the tag's series.
func (db *MetricsDB) AddScalar(tag string, value float64, step int) error {
	_, err := db.sqlDB.Exec(
		"INSERT INTO scalars (tag, step, value, wall_time) VALUES (?, ?, ?, ?)",
		tag, step, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("metrics: failed to insert %s@%d: %w", tag, step, err)
	}
	return nil
}

// Scalars returns a tag's series ordered by step.
func (db *MetricsDB) Scalars(tag string) ([]Scalar, error) {
	rows, err := db.sqlDB.Query(
		"SELECT tag, step, value, wall_time FROM scalars WHERE tag = ? ORDER BY step, id", tag)
	if err != nil {
		return nil, fmt.Errorf("metrics: failed to query %s: %w", tag, err)
	}
	defer rows.Close()

	var out []Scalar
	for rows.Next() {
		var (
			s    Scalar
			wall string
		)
		if err := rows.Scan(&s.Tag, &s.Step, &s.Value, &wall); err != nil {
			return nil, fmt.Errorf("metrics: failed to scan row: %w", err)
		}
		s.WallTime, _ = time.Parse(time.RFC3339Nano, wall)
		out = append(out, s)
	}
	return out, rows.Err()
}
