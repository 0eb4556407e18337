package database

import (
	"context"
	"sync"

	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

// MemoryRepository keeps flights in process memory. Listing follows insertion order.
type MemoryRepository struct {
	mu     sync.RWMutex
	active map[string]*models.Flight
	order  []string
	logs   map[string]*models.Flight
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		active: make(map[string]*models.Flight),
		logs:   make(map[string]*models.Flight),
	}
}

func (r *MemoryRepository) AppendUpdate(ctx context.Context, seed *models.Flight, update models.LocationUpdate) (bool, error) {
	if seed == nil || seed.FlightID == "" {
		return false, ErrInvalidUpdate
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.active[seed.FlightID]; ok {
		appendTo(f, update)
		return false, nil
	}

	r.active[seed.FlightID] = newActive(seed, update)
	r.order = append(r.order, seed.FlightID)
	return true, nil
}

func (r *MemoryRepository) GetActive(ctx context.Context, flightID string) (*models.Flight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.active[flightID]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]*models.Flight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flights := make([]*models.Flight, 0, len(r.order))
	for _, id := range r.order {
		flights = append(flights, r.active[id].Clone())
	}
	return flights, nil
}

func (r *MemoryRepository) GetLog(ctx context.Context, flightID string) (*models.Flight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.logs[flightID]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (r *MemoryRepository) CompleteFlight(ctx context.Context, flightID string, finalize FinalizeFunc) (*models.Flight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.active[flightID]
	if !ok {
		return nil, ErrNotFound
	}

	logged := f.Clone()
	if finalize != nil {
		finalize(logged)
	}
	logSummary(logged)
	r.logs[flightID] = logged
	r.removeActive(flightID)

	return logged.Clone(), nil
}

func (r *MemoryRepository) DeleteActive(ctx context.Context, flightID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[flightID]; !ok {
		return ErrNotFound
	}
	r.removeActive(flightID)
	return nil
}

// removeActive must be called with the write lock held
func (r *MemoryRepository) removeActive(flightID string) {
	delete(r.active, flightID)
	for i, id := range r.order {
		if id == flightID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }
