package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
	_ "modernc.org/sqlite"
)

// fixed width so that text ordering matches time ordering
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository stores flights in a single SQLite file. Updates are kept as
// a JSON array column. Listing follows creation time.
type SQLiteRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSQLiteRepository opens (and creates if needed) the database at dbPath
func NewSQLiteRepository(dbPath string, log *logger.Logger) (*SQLiteRepository, error) {
	storeLogger := log.Named("sqlite")
	storeLogger.Info("Initializing SQLite storage", logger.String("path", dbPath))

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db, logger: storeLogger}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS active_flights (
			flight_id   TEXT PRIMARY KEY,
			airline     TEXT NOT NULL,
			origin      TEXT NOT NULL,
			destination TEXT NOT NULL,
			status      TEXT NOT NULL,
			last_update TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updates     TEXT NOT NULL DEFAULT '[]'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create active_flights table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS flight_logs (
			flight_id       TEXT PRIMARY KEY,
			airline         TEXT NOT NULL,
			origin          TEXT NOT NULL,
			destination     TEXT NOT NULL,
			status          TEXT NOT NULL,
			last_update     TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updates         TEXT NOT NULL DEFAULT '[]',
			completed_at    TEXT NOT NULL,
			total_updates   INTEGER NOT NULL,
			flight_duration REAL NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flight_logs table: %w", err)
	}
	return nil
}

const sqliteActiveColumns = `flight_id, airline, origin, destination, status, last_update, created_at, updates`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteActive(row rowScanner) (*models.Flight, error) {
	var (
		f                     models.Flight
		status                string
		lastUpdate, createdAt string
		updates               string
	)
	if err := row.Scan(&f.FlightID, &f.Airline, &f.Origin, &f.Destination, &status, &lastUpdate, &createdAt, &updates); err != nil {
		return nil, err
	}
	f.Status = models.FlightStatus(status)

	var err error
	if f.LastUpdate, err = time.Parse(sqliteTimeLayout, lastUpdate); err != nil {
		return nil, fmt.Errorf("failed to parse last_update: %w", err)
	}
	if f.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(updates), &f.Updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	return &f, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func (r *SQLiteRepository) AppendUpdate(ctx context.Context, seed *models.Flight, update models.LocationUpdate) (bool, error) {
	if seed == nil || seed.FlightID == "" {
		return false, ErrInvalidUpdate
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+sqliteActiveColumns+` FROM active_flights WHERE flight_id = ?`, seed.FlightID)
	existing, err := scanSQLiteActive(row)
	created := false

	switch {
	case errors.Is(err, sql.ErrNoRows):
		f := newActive(seed, update)
		payload, err := json.Marshal(f.Updates)
		if err != nil {
			return false, fmt.Errorf("failed to encode updates: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO active_flights (`+sqliteActiveColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, f.FlightID, f.Airline, f.Origin, f.Destination, string(f.Status),
			formatSQLiteTime(f.LastUpdate), formatSQLiteTime(f.CreatedAt), string(payload))
		if err != nil {
			return false, fmt.Errorf("failed to insert flight: %w", err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("failed to get flight: %w", err)
	default:
		appendTo(existing, update)
		payload, err := json.Marshal(existing.Updates)
		if err != nil {
			return false, fmt.Errorf("failed to encode updates: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE active_flights
			SET updates = ?, last_update = ?, status = ?
			WHERE flight_id = ?
		`, string(payload), formatSQLiteTime(existing.LastUpdate), string(existing.Status), existing.FlightID)
		if err != nil {
			return false, fmt.Errorf("failed to append update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit update: %w", err)
	}
	return created, nil
}

func (r *SQLiteRepository) GetActive(ctx context.Context, flightID string) (*models.Flight, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteActiveColumns+` FROM active_flights WHERE flight_id = ?`, flightID)
	f, err := scanSQLiteActive(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) ListActive(ctx context.Context) ([]*models.Flight, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteActiveColumns+` FROM active_flights ORDER BY created_at, flight_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	flights := []*models.Flight{}
	for rows.Next() {
		f, err := scanSQLiteActive(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flight: %w", err)
		}
		flights = append(flights, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flights: %w", err)
	}
	return flights, nil
}

func (r *SQLiteRepository) GetLog(ctx context.Context, flightID string) (*models.Flight, error) {
	var (
		completedAt  string
		totalUpdates int
		duration     float64
	)
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sqliteActiveColumns+`, completed_at, total_updates, flight_duration
		FROM flight_logs WHERE flight_id = ?
	`, flightID)

	f, err := scanSQLiteActive(scanWithExtra{row: row, extra: []any{&completedAt, &totalUpdates, &duration}})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flight log: %w", err)
	}

	t, err := time.Parse(sqliteTimeLayout, completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	f.CompletedAt = &t
	f.TotalUpdates = &totalUpdates
	f.FlightDuration = &duration
	return f, nil
}

// scanWithExtra appends extra destinations after the shared active columns
type scanWithExtra struct {
	row   rowScanner
	extra []any
}

func (s scanWithExtra) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.extra...)...)
}

func (r *SQLiteRepository) CompleteFlight(ctx context.Context, flightID string, finalize FinalizeFunc) (*models.Flight, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+sqliteActiveColumns+` FROM active_flights WHERE flight_id = ?`, flightID)
	f, err := scanSQLiteActive(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}

	if finalize != nil {
		finalize(f)
	}
	completedAt, total, duration := logSummary(f)

	payload, err := json.Marshal(f.Updates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode updates: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flight_logs (`+sqliteActiveColumns+`, completed_at, total_updates, flight_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (flight_id) DO UPDATE SET
			airline = excluded.airline,
			origin = excluded.origin,
			destination = excluded.destination,
			status = excluded.status,
			last_update = excluded.last_update,
			created_at = excluded.created_at,
			updates = excluded.updates,
			completed_at = excluded.completed_at,
			total_updates = excluded.total_updates,
			flight_duration = excluded.flight_duration
	`, f.FlightID, f.Airline, f.Origin, f.Destination, string(f.Status),
		formatSQLiteTime(f.LastUpdate), formatSQLiteTime(f.CreatedAt), string(payload),
		formatSQLiteTime(completedAt), total, duration)
	if err != nil {
		return nil, fmt.Errorf("failed to write flight log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_flights WHERE flight_id = ?`, flightID); err != nil {
		return nil, fmt.Errorf("failed to remove active flight: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) DeleteActive(ctx context.Context, flightID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM active_flights WHERE flight_id = ?`, flightID)
	if err != nil {
		return fmt.Errorf("failed to delete flight: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete flight: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
