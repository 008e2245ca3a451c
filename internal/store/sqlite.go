package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/twweather/tempmap/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS temperatures (
	id INTEGER PRIMARY KEY,
	location TEXT NOT NULL,
	element_type TEXT NOT NULL,
	temperature REAL NOT NULL,
	latitude REAL NOT NULL DEFAULT 0,
	longitude REAL NOT NULL DEFAULT 0,
	observed_at TIMESTAMP NOT NULL
)`

// Store persists temperature readings in a single SQLite table.
// Each refresh replaces the whole table, matching the
// overwrite-on-refresh lifecycle of the dataset.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// between the refresh writer and dashboard readers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create temperatures table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceReadings atomically replaces the table contents with the given
// readings. Re-running with the same input is idempotent: the row count
// afterwards always equals len(readings).
func (s *Store) ReplaceReadings(ctx context.Context, readings []models.TemperatureReading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM temperatures"); err != nil {
		return fmt.Errorf("clear temperatures table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO temperatures (location, element_type, temperature, latitude, longitude, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, r.Location, r.ElementType, r.Temperature, r.Latitude, r.Longitude, r.ObservedAt.UTC()); err != nil {
			return fmt.Errorf("insert reading %s/%s: %w", r.Location, r.ElementType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListReadings returns all readings ordered by location then element type.
func (s *Store) ListReadings(ctx context.Context) ([]models.TemperatureReading, error) {
	return s.queryReadings(ctx, `
		SELECT location, element_type, temperature, latitude, longitude, observed_at
		FROM temperatures ORDER BY location, element_type`)
}

// ListByLocation returns the readings for one location ordered by element type.
func (s *Store) ListByLocation(ctx context.Context, location string) ([]models.TemperatureReading, error) {
	return s.queryReadings(ctx, `
		SELECT location, element_type, temperature, latitude, longitude, observed_at
		FROM temperatures WHERE location = ? ORDER BY element_type`, location)
}

func (s *Store) queryReadings(ctx context.Context, query string, args ...any) ([]models.TemperatureReading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query temperatures: %w", err)
	}
	defer rows.Close()

	var out []models.TemperatureReading
	for rows.Next() {
		var r models.TemperatureReading
		if err := rows.Scan(&r.Location, &r.ElementType, &r.Temperature, &r.Latitude, &r.Longitude, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	return out, nil
}

// Locations returns the distinct location names in alphabetical order.
func (s *Store) Locations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT location FROM temperatures ORDER BY location")
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return out, nil
}

// Count returns the number of stored readings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM temperatures").Scan(&n); err != nil {
		return 0, fmt.Errorf("count temperatures: %w", err)
	}
	return n, nil
}
