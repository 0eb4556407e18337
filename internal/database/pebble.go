package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

const (
	pebbleActivePrefix = "active/"
	pebbleLogPrefix    = "log/"
)

// PebbleRepository stores flights as JSON values in an embedded Pebble database.
// Listing follows key order, i.e. flight_id.
type PebbleRepository struct {
	db     *pebble.DB
	logger *logger.Logger

	// serializes read-modify-write cycles; Pebble has no row locks
	mu sync.Mutex
}

// NewPebbleRepository opens (or creates) the database in dir
func NewPebbleRepository(dir string, log *logger.Logger) (*PebbleRepository, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}

	storeLogger := log.Named("pebble")
	storeLogger.Info("Opened Pebble storage", logger.String("dir", dir))
	return &PebbleRepository{db: d, logger: storeLogger}, nil
}

func activeKey(flightID string) []byte { return []byte(pebbleActivePrefix + flightID) }
func logKey(flightID string) []byte    { return []byte(pebbleLogPrefix + flightID) }

func (p *PebbleRepository) get(key []byte) (*models.Flight, error) {
	v, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var f models.Flight
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, fmt.Errorf("failed to decode flight: %w", err)
	}
	return &f, nil
}

func (p *PebbleRepository) AppendUpdate(ctx context.Context, seed *models.Flight, update models.LocationUpdate) (bool, error) {
	if seed == nil || seed.FlightID == "" {
		return false, ErrInvalidUpdate
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := activeKey(seed.FlightID)
	f, err := p.get(key)
	created := false
	switch {
	case errors.Is(err, ErrNotFound):
		f = newActive(seed, update)
		created = true
	case err != nil:
		return false, fmt.Errorf("failed to get flight: %w", err)
	default:
		appendTo(f, update)
	}

	value, err := json.Marshal(f)
	if err != nil {
		return false, fmt.Errorf("failed to encode flight: %w", err)
	}
	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return false, fmt.Errorf("failed to write flight: %w", err)
	}
	return created, nil
}

func (p *PebbleRepository) GetActive(ctx context.Context, flightID string) (*models.Flight, error) {
	f, err := p.get(activeKey(flightID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}
	return f, err
}

func (p *PebbleRepository) ListActive(ctx context.Context) ([]*models.Flight, error) {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleActivePrefix),
		UpperBound: prefixUpperBound([]byte(pebbleActivePrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer it.Close()

	flights := []*models.Flight{}
	for it.First(); it.Valid(); it.Next() {
		var f models.Flight
		if err := json.Unmarshal(it.Value(), &f); err != nil {
			return nil, fmt.Errorf("failed to decode flight %q: %w", it.Key(), err)
		}
		flights = append(flights, &f)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate flights: %w", err)
	}
	return flights, nil
}

func (p *PebbleRepository) GetLog(ctx context.Context, flightID string) (*models.Flight, error) {
	f, err := p.get(logKey(flightID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get flight log: %w", err)
	}
	return f, err
}

// CompleteFlight writes the log entry and removes the active key in one batch
func (p *PebbleRepository) CompleteFlight(ctx context.Context, flightID string, finalize FinalizeFunc) (*models.Flight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.get(activeKey(flightID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}

	if finalize != nil {
		finalize(f)
	}
	logSummary(f)

	value, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flight: %w", err)
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(logKey(flightID), value, nil); err != nil {
		return nil, fmt.Errorf("failed to stage flight log: %w", err)
	}
	if err := batch.Delete(activeKey(flightID), nil); err != nil {
		return nil, fmt.Errorf("failed to stage active delete: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}
	return f, nil
}

func (p *PebbleRepository) DeleteActive(ctx context.Context, flightID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := activeKey(flightID)
	if _, err := p.get(key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get flight: %w", err)
	}
	if err := p.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete flight: %w", err)
	}
	return nil
}

func (p *PebbleRepository) Ping(ctx context.Context) error { return nil }

func (p *PebbleRepository) Close() error { return p.db.Close() }

// prefixUpperBound returns the smallest key greater than every key with prefix
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
