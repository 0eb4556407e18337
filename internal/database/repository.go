package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-tracker/internal/config"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidUpdate = errors.New("flight must carry an id")
)

// FinalizeFunc turns an active flight into its logged form in place.
// It runs inside the relocation, after the read and before the writes.
type FinalizeFunc func(*models.Flight)

// Repository stores active flights and flight logs, both keyed by flight_id
type Repository interface {
	// AppendUpdate adds update to the active flight with seed.FlightID, creating
	// it from seed when it doesn't exist. Appending also sets last_update to the
	// update's timestamp and resets status to in_air. The whole operation is atomic.
	AppendUpdate(ctx context.Context, seed *models.Flight, update models.LocationUpdate) (created bool, err error)

	GetActive(ctx context.Context, flightID string) (*models.Flight, error)
	ListActive(ctx context.Context) ([]*models.Flight, error)
	GetLog(ctx context.Context, flightID string) (*models.Flight, error)

	// CompleteFlight atomically moves an active flight to the logs after
	// applying finalize. An existing log entry for the same id is replaced.
	CompleteFlight(ctx context.Context, flightID string, finalize FinalizeFunc) (*models.Flight, error)

	// DeleteActive removes an active flight, returning ErrNotFound when nothing was deleted
	DeleteActive(ctx context.Context, flightID string) error

	Ping(ctx context.Context) error
	Close() error
}

// Open creates the repository selected by cfg.Backend
func Open(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (Repository, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return NewSQLiteRepository(cfg.SQLitePath, log)
	case config.BackendPostgres:
		return NewPostgresRepository(ctx, cfg.PostgresURL, log)
	case config.BackendMongo:
		return NewMongoRepository(ctx, MongoOptions{
			URI:              cfg.MongoURI,
			Database:         cfg.MongoDatabase,
			ActiveCollection: cfg.ActiveCollection,
			LogsCollection:   cfg.LogsCollection,
		}, log)
	case config.BackendPebble:
		return NewPebbleRepository(cfg.PebbleDir, log)
	case config.BackendMemory:
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}

// newActive builds the document inserted for the first update of a flight
func newActive(seed *models.Flight, update models.LocationUpdate) *models.Flight {
	return models.NewFlight(seed.FlightID, seed.Airline, seed.Origin, seed.Destination, update, seed.CreatedAt)
}

// appendTo applies an update to an existing active flight
func appendTo(f *models.Flight, update models.LocationUpdate) {
	f.Updates = append(f.Updates, update)
	f.LastUpdate = update.Timestamp
	f.Status = models.FlightStatusInAir
}

// logSummary fills in completion fields that finalize left unset so that
// every log row carries them
func logSummary(f *models.Flight) (time.Time, int, float64) {
	if f.CompletedAt == nil {
		now := time.Now().UTC()
		f.CompletedAt = &now
	}
	if f.TotalUpdates == nil {
		n := len(f.Updates)
		f.TotalUpdates = &n
	}
	if f.FlightDuration == nil {
		h := f.Duration().Hours()
		f.FlightDuration = &h
	}
	return *f.CompletedAt, *f.TotalUpdates, *f.FlightDuration
}
