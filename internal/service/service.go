package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-tracker/internal/database"
	"github.com/cx-tal-miterani/flight-tracker/internal/events"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

// FlightService defines the flight tracking operations exposed over HTTP
type FlightService interface {
	UpdateFlight(ctx context.Context, raw map[string]json.RawMessage) (*models.UpdateFlightResponse, error)
	ListFlights(ctx context.Context) (*models.FlightListResponse, error)
	GetLatestLocation(ctx context.Context, flightID string) (*models.LatestLocationResponse, error)
	GetClosestLocation(ctx context.Context, flightID, timestamp string) (*models.ClosestLocationResponse, error)
	GetFlightLog(ctx context.Context, flightID string) (*models.FlightLogResponse, error)
	CompleteFlight(ctx context.Context, flightID string) (*models.CompleteFlightResponse, error)
	DeleteFlight(ctx context.Context, flightID string) (*models.MessageResponse, error)
}

// Option customizes the service
type Option func(*flightServiceImpl)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *flightServiceImpl) { s.now = now }
}

// flightServiceImpl implements FlightService
type flightServiceImpl struct {
	repo      database.Repository
	publisher events.Publisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewFlightService creates a new FlightService
func NewFlightService(repo database.Repository, publisher events.Publisher, log *logger.Logger, opts ...Option) FlightService {
	s := &flightServiceImpl{
		repo:      repo,
		publisher: publisher,
		logger:    log.Named("flight-service"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *flightServiceImpl) UpdateFlight(ctx context.Context, raw map[string]json.RawMessage) (*models.UpdateFlightResponse, error) {
	in, err := parseUpdate(raw)
	if err != nil {
		return nil, err
	}

	now := s.now()
	seed := &models.Flight{
		FlightID:    in.flightID,
		Airline:     in.airline,
		Origin:      in.origin,
		Destination: in.destination,
		CreatedAt:   now.UTC(),
	}

	created, err := s.repo.AppendUpdate(ctx, seed, in.update)
	if err != nil {
		return nil, fmt.Errorf("failed to store update for %s: %w", in.flightID, err)
	}

	message := "Flight update added successfully"
	eventType := events.FlightUpdated
	if created {
		message = "New flight created and update added successfully"
		eventType = events.FlightCreated
		s.logger.Info("Flight created", logger.String("flight_id", in.flightID))
	}
	s.publish(ctx, events.New(eventType, in.flightID, now).WithLocation(in.update))

	var timestamp string
	_ = json.Unmarshal(raw["timestamp"], &timestamp)

	return &models.UpdateFlightResponse{
		Success:   true,
		Message:   message,
		FlightID:  in.flightID,
		Timestamp: timestamp,
		Location: models.UpdateLocationEcho{
			Latitude:  raw["latitude"],
			Longitude: raw["longitude"],
			Altitude:  raw["altitude"],
		},
	}, nil
}

func (s *flightServiceImpl) ListFlights(ctx context.Context) (*models.FlightListResponse, error) {
	flights, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}

	views := make([]models.FlightView, 0, len(flights))
	for _, f := range flights {
		views = append(views, models.NewFlightView(f))
	}
	return &models.FlightListResponse{
		Success: true,
		Count:   len(views),
		Flights: views,
	}, nil
}

// trackedFlight loads an active flight that has at least one update
func (s *flightServiceImpl) trackedFlight(ctx context.Context, flightID string) (*models.Flight, error) {
	f, err := s.repo.GetActive(ctx, flightID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound("Flight %s not found", flightID)
		}
		return nil, fmt.Errorf("failed to get flight %s: %w", flightID, err)
	}
	if !f.HasUpdates() {
		return nil, notFound("No location updates available for flight %s", flightID)
	}
	return f, nil
}

func (s *flightServiceImpl) GetLatestLocation(ctx context.Context, flightID string) (*models.LatestLocationResponse, error) {
	f, err := s.trackedFlight(ctx, flightID)
	if err != nil {
		return nil, err
	}

	first, _ := f.First()
	latest, _ := f.Latest()
	return &models.LatestLocationResponse{
		Success:        true,
		FlightID:       f.FlightID,
		Airline:        f.Airline,
		Route:          f.Route(),
		Status:         f.Status,
		LatestLocation: models.NewLocationView(latest),
		TotalUpdates:   len(f.Updates),
		TrackingDuration: models.TrackingDuration{
			Start: models.FormatTimestamp(first.Timestamp),
			End:   models.FormatTimestamp(latest.Timestamp),
		},
	}, nil
}

func (s *flightServiceImpl) GetClosestLocation(ctx context.Context, flightID, timestamp string) (*models.ClosestLocationResponse, error) {
	f, err := s.trackedFlight(ctx, flightID)
	if err != nil {
		return nil, err
	}

	target, err := models.ParseTimestamp(timestamp)
	if err != nil {
		return nil, invalid(invalidTimestampMessage)
	}

	closest, diff, _ := f.ClosestUpdate(target)
	return &models.ClosestLocationResponse{
		Success:               true,
		FlightID:              f.FlightID,
		Airline:               f.Airline,
		Route:                 f.Route(),
		RequestedTime:         timestamp,
		Location:              models.NewLocationView(closest),
		TimeDifferenceSeconds: diff.Seconds(),
	}, nil
}

func (s *flightServiceImpl) GetFlightLog(ctx context.Context, flightID string) (*models.FlightLogResponse, error) {
	f, err := s.repo.GetLog(ctx, flightID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound("Flight %s not found in logs", flightID)
		}
		return nil, fmt.Errorf("failed to get flight log %s: %w", flightID, err)
	}
	return &models.FlightLogResponse{
		Success: true,
		Flight:  models.NewFlightView(f),
	}, nil
}

func (s *flightServiceImpl) CompleteFlight(ctx context.Context, flightID string) (*models.CompleteFlightResponse, error) {
	now := s.now()
	logged, err := s.repo.CompleteFlight(ctx, flightID, func(f *models.Flight) {
		f.Complete(now)
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound("Flight %s not found", flightID)
		}
		return nil, fmt.Errorf("failed to complete flight %s: %w", flightID, err)
	}

	s.logger.Info("Flight completed",
		logger.String("flight_id", flightID),
		logger.Int("total_updates", *logged.TotalUpdates),
		logger.Float("flight_duration_hours", *logged.FlightDuration))
	s.publish(ctx, events.New(events.FlightCompleted, flightID, now))

	return &models.CompleteFlightResponse{
		Success:             true,
		Message:             fmt.Sprintf("Flight %s marked as completed and moved to logs", flightID),
		TotalUpdates:        *logged.TotalUpdates,
		FlightDurationHours: *logged.FlightDuration,
		CompletedAt:         models.FormatTimestamp(*logged.CompletedAt),
	}, nil
}

func (s *flightServiceImpl) DeleteFlight(ctx context.Context, flightID string) (*models.MessageResponse, error) {
	if err := s.repo.DeleteActive(ctx, flightID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFound("Flight %s not found", flightID)
		}
		return nil, fmt.Errorf("failed to delete flight %s: %w", flightID, err)
	}

	s.logger.Info("Flight deleted", logger.String("flight_id", flightID))
	s.publish(ctx, events.New(events.FlightDeleted, flightID, s.now()))

	return &models.MessageResponse{
		Success: true,
		Message: fmt.Sprintf("Flight %s deleted successfully", flightID),
	}, nil
}

func (s *flightServiceImpl) publish(ctx context.Context, e events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, e)
	}
}
