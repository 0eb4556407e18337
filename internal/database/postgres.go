package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

// PostgresRepository stores flights in PostgreSQL with updates in a JSONB column
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgresRepository connects to databaseURL and makes sure the schema exists
func NewPostgresRepository(ctx context.Context, databaseURL string, log *logger.Logger) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, logger: log.Named("postgres")}
	if err := r.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	r.logger.Info("Connected to PostgreSQL")
	return r, nil
}

// NewPostgresRepositoryFromPool wraps an existing pool; the schema must already exist
func NewPostgresRepositoryFromPool(pool *pgxpool.Pool, log *logger.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: log.Named("postgres")}
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS active_flights (
			flight_id   TEXT PRIMARY KEY,
			airline     TEXT NOT NULL,
			origin      TEXT NOT NULL,
			destination TEXT NOT NULL,
			status      TEXT NOT NULL,
			last_update TIMESTAMPTZ NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updates     JSONB NOT NULL DEFAULT '[]'::jsonb
		);

		CREATE TABLE IF NOT EXISTS flight_logs (
			flight_id       TEXT PRIMARY KEY,
			airline         TEXT NOT NULL,
			origin          TEXT NOT NULL,
			destination     TEXT NOT NULL,
			status          TEXT NOT NULL,
			last_update     TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			updates         JSONB NOT NULL DEFAULT '[]'::jsonb,
			completed_at    TIMESTAMPTZ NOT NULL,
			total_updates   INTEGER NOT NULL,
			flight_duration DOUBLE PRECISION NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const pgActiveColumns = `flight_id, airline, origin, destination, status, last_update, created_at, updates`

func scanPgFlight(row pgx.Row, extra ...any) (*models.Flight, error) {
	var (
		f       models.Flight
		status  string
		updates []byte
	)
	dest := append([]any{
		&f.FlightID, &f.Airline, &f.Origin, &f.Destination,
		&status, &f.LastUpdate, &f.CreatedAt, &updates,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	f.Status = models.FlightStatus(status)
	f.LastUpdate = f.LastUpdate.UTC()
	f.CreatedAt = f.CreatedAt.UTC()
	if err := json.Unmarshal(updates, &f.Updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	return &f, nil
}

// AppendUpdate uses a single upsert so concurrent first reports can't create duplicates
func (r *PostgresRepository) AppendUpdate(ctx context.Context, seed *models.Flight, update models.LocationUpdate) (bool, error) {
	if seed == nil || seed.FlightID == "" {
		return false, ErrInvalidUpdate
	}

	f := newActive(seed, update)
	payload, err := json.Marshal(f.Updates)
	if err != nil {
		return false, fmt.Errorf("failed to encode updates: %w", err)
	}

	query := `
		INSERT INTO active_flights (` + pgActiveColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (flight_id) DO UPDATE SET
			updates = active_flights.updates || EXCLUDED.updates,
			last_update = EXCLUDED.last_update,
			status = EXCLUDED.status
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err = r.pool.QueryRow(ctx, query,
		f.FlightID, f.Airline, f.Origin, f.Destination, string(f.Status),
		f.LastUpdate, f.CreatedAt, string(payload),
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to append update: %w", err)
	}
	return inserted, nil
}

// GetActive returns an active flight by ID
func (r *PostgresRepository) GetActive(ctx context.Context, flightID string) (*models.Flight, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pgActiveColumns+` FROM active_flights WHERE flight_id = $1`, flightID)
	f, err := scanPgFlight(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}
	return f, nil
}

// ListActive returns all active flights ordered by creation time
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*models.Flight, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pgActiveColumns+` FROM active_flights ORDER BY created_at, flight_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	flights := []*models.Flight{}
	for rows.Next() {
		f, err := scanPgFlight(rows)
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

// GetLog returns a completed flight by ID
func (r *PostgresRepository) GetLog(ctx context.Context, flightID string) (*models.Flight, error) {
	var (
		completedAt time.Time
		total       int
		duration    float64
	)
	row := r.pool.QueryRow(ctx, `
		SELECT `+pgActiveColumns+`, completed_at, total_updates, flight_duration
		FROM flight_logs
		WHERE flight_id = $1
	`, flightID)

	f, err := scanPgFlight(row, &completedAt, &total, &duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flight log: %w", err)
	}

	completedAt = completedAt.UTC()
	f.CompletedAt = &completedAt
	f.TotalUpdates = &total
	f.FlightDuration = &duration
	return f, nil
}

// CompleteFlight moves the flight to flight_logs in one transaction
func (r *PostgresRepository) CompleteFlight(ctx context.Context, flightID string, finalize FinalizeFunc) (*models.Flight, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+pgActiveColumns+`
		FROM active_flights
		WHERE flight_id = $1
		FOR UPDATE
	`, flightID)
	f, err := scanPgFlight(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock flight: %w", err)
	}

	if finalize != nil {
		finalize(f)
	}
	completedAt, total, duration := logSummary(f)

	payload, err := json.Marshal(f.Updates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode updates: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO flight_logs (`+pgActiveColumns+`, completed_at, total_updates, flight_duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11)
		ON CONFLICT (flight_id) DO UPDATE SET
			airline = EXCLUDED.airline,
			origin = EXCLUDED.origin,
			destination = EXCLUDED.destination,
			status = EXCLUDED.status,
			last_update = EXCLUDED.last_update,
			created_at = EXCLUDED.created_at,
			updates = EXCLUDED.updates,
			completed_at = EXCLUDED.completed_at,
			total_updates = EXCLUDED.total_updates,
			flight_duration = EXCLUDED.flight_duration
	`, f.FlightID, f.Airline, f.Origin, f.Destination, string(f.Status),
		f.LastUpdate, f.CreatedAt, string(payload), completedAt, total, duration)
	if err != nil {
		return nil, fmt.Errorf("failed to write flight log: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM active_flights WHERE flight_id = $1`, flightID); err != nil {
		return nil, fmt.Errorf("failed to remove active flight: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}
	return f, nil
}

// DeleteActive deletes an active flight without archiving it
func (r *PostgresRepository) DeleteActive(ctx context.Context, flightID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM active_flights WHERE flight_id = $1`, flightID)
	if err != nil {
		return fmt.Errorf("failed to delete flight: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
