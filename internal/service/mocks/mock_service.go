package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

// MockFlightService is a mock implementation of FlightService
type MockFlightService struct {
	mock.Mock
}

func (m *MockFlightService) UpdateFlight(ctx context.Context, raw map[string]json.RawMessage) (*models.UpdateFlightResponse, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UpdateFlightResponse), args.Error(1)
}

func (m *MockFlightService) ListFlights(ctx context.Context) (*models.FlightListResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FlightListResponse), args.Error(1)
}

func (m *MockFlightService) GetLatestLocation(ctx context.Context, flightID string) (*models.LatestLocationResponse, error) {
	args := m.Called(ctx, flightID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LatestLocationResponse), args.Error(1)
}

func (m *MockFlightService) GetClosestLocation(ctx context.Context, flightID, timestamp string) (*models.ClosestLocationResponse, error) {
	args := m.Called(ctx, flightID, timestamp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ClosestLocationResponse), args.Error(1)
}

func (m *MockFlightService) GetFlightLog(ctx context.Context, flightID string) (*models.FlightLogResponse, error) {
	args := m.Called(ctx, flightID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FlightLogResponse), args.Error(1)
}

func (m *MockFlightService) CompleteFlight(ctx context.Context, flightID string) (*models.CompleteFlightResponse, error) {
	args := m.Called(ctx, flightID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CompleteFlightResponse), args.Error(1)
}

func (m *MockFlightService) DeleteFlight(ctx context.Context, flightID string) (*models.MessageResponse, error) {
	args := m.Called(ctx, flightID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MessageResponse), args.Error(1)
}
