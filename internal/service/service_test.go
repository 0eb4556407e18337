package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cx-tal-miterani/flight-tracker/internal/database"
	"github.com/cx-tal-miterani/flight-tracker/internal/events"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var fixedNow = time.Date(2025, 10, 17, 15, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (FlightService, *database.MemoryRepository, *recordingPublisher) {
	t.Helper()
	repo := database.NewMemoryRepository()
	pub := &recordingPublisher{}
	svc := NewFlightService(repo, pub, logger.Nop(), WithClock(func() time.Time { return fixedNow }))
	return svc, repo, pub
}

func report(t *testing.T, body string) map[string]json.RawMessage {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	return raw
}

func post(t *testing.T, svc FlightService, body string) *models.UpdateFlightResponse {
	t.Helper()
	resp, err := svc.UpdateFlight(context.Background(), report(t, body))
	require.NoError(t, err)
	return resp
}

func TestUpdateFlight_CreateThenAppend(t *testing.T) {
	svc, repo, pub := newTestService(t)

	resp := post(t, svc, `{"flight_id":"PK-301","timestamp":"2025-10-17T12:00:00Z","latitude":24.86,"longitude":67.0,"altitude":1000,"speed":250,"airline":"PIA","origin":"KHI","destination":"ISB"}`)
	assert.True(t, resp.Success)
	assert.Equal(t, "New flight created and update added successfully", resp.Message)
	assert.Equal(t, "2025-10-17T12:00:00Z", resp.Timestamp)
	assert.JSONEq(t, `24.86`, string(resp.Location.Latitude))

	resp = post(t, svc, `{"flight_id":"PK-301","timestamp":"2025-10-17T12:05:00","latitude":"25.5","longitude":"67.5","altitude":"20000","speed":"400","airline":"ignored"}`)
	assert.Equal(t, "Flight update added successfully", resp.Message)
	assert.JSONEq(t, `"25.5"`, string(resp.Location.Latitude), "raw input is echoed back")

	f, err := repo.GetActive(context.Background(), "PK-301")
	require.NoError(t, err)
	require.Len(t, f.Updates, 2)
	assert.Equal(t, 24.86, f.Updates[0].Latitude)
	assert.Equal(t, 25.5, f.Updates[1].Latitude)
	assert.Equal(t, "PIA", f.Airline, "identity fields are set on creation only")
	assert.Equal(t, fixedNow, f.CreatedAt)

	assert.Equal(t, []events.Type{events.FlightCreated, events.FlightUpdated}, pub.types())
	require.NotNil(t, pub.events[1].Location)
	assert.Equal(t, 25.5, pub.events[1].Location.Latitude)
}

func TestUpdateFlight_DefaultsUnknown(t *testing.T) {
	svc, repo, _ := newTestService(t)
	post(t, svc, `{"flight_id":"X1","timestamp":"2025-10-17T12:00:00","latitude":1,"longitude":2,"altitude":3,"speed":4,"airline":null,"origin":""}`)

	f, err := repo.GetActive(context.Background(), "X1")
	require.NoError(t, err)
	assert.Equal(t, models.UnknownValue, f.Airline)
	assert.Equal(t, models.UnknownValue, f.Origin)
	assert.Equal(t, models.UnknownValue, f.Destination)
	assert.Equal(t, "Unknown → Unknown", f.Route())
}

func TestUpdateFlight_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing id", `{"timestamp":"2025-10-17T12:00:00","latitude":1,"longitude":1,"altitude":1,"speed":1}`, "Flight ID is required"},
		{"empty id", `{"flight_id":"","timestamp":"2025-10-17T12:00:00","latitude":1,"longitude":1,"altitude":1,"speed":1}`, "Flight ID is required"},
		{"null id", `{"flight_id":null}`, "Flight ID is required"},
		{"missing fields", `{"flight_id":"A","latitude":1,"speed":1}`, "Missing required fields: timestamp, longitude, altitude"},
		{"bad latitude", `{"flight_id":"A","timestamp":"2025-10-17T12:00:00","latitude":"north","longitude":1,"altitude":1,"speed":1}`, "Invalid latitude or longitude format"},
		{"null longitude", `{"flight_id":"A","timestamp":"2025-10-17T12:00:00","latitude":1,"longitude":null,"altitude":1,"speed":1}`, "Invalid latitude or longitude format"},
		{"latitude 91", `{"flight_id":"A","timestamp":"2025-10-17T12:00:00","latitude":91,"longitude":1,"altitude":1,"speed":1}`, "Latitude must be between -90 and 90"},
		{"latitude -91", `{"flight_id":"A","timestamp":"2025-10-17T12:00:00","latitude":-91,"longitude":1,"altitude":1,"speed":1}`, "Latitude must be between -90 and 90"},
		{"latitude nan", `{"flight_id":"A","timestamp":"2025-10-17T12:00:00","latitude":"nan","longitude":1,"altitude":1,"speed":1}`, "Latitude must be between -90 and 90"},
		{"longitude 181", `{"flight_id":"A","timestamp":"2025-10-17T12:00:00","latitude":1,"longitude":181,"altitude":1,"speed":1}`, "Longitude must be between -180 and 180"},
		{"bad timestamp", `{"flight_id":"A","timestamp":"yesterday","latitude":1,"longitude":1,"altitude":1,"speed":1}`, invalidTimestampMessage},
		{"numeric timestamp", `{"flight_id":"A","timestamp":1760702400,"latitude":1,"longitude":1,"altitude":1,"speed":1}`, invalidTimestampMessage},
		{"bad altitude", `{"flight_id":"A","timestamp":"2025-10-17T12:00:00","latitude":1,"longitude":1,"altitude":"high","speed":1}`, "Invalid altitude or speed format"},
		{"infinite speed", `{"flight_id":"A","timestamp":"2025-10-17T12:00:00","latitude":1,"longitude":1,"altitude":1,"speed":"inf"}`, "Invalid altitude or speed format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, pub := newTestService(t)

			_, err := svc.UpdateFlight(context.Background(), report(t, tt.body))
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Equal(t, tt.want, err.Error())

			flights, err := repo.ListActive(context.Background())
			require.NoError(t, err)
			assert.Empty(t, flights, "rejected reports never reach the store")
			assert.Empty(t, pub.types())
		})
	}
}

func TestUpdateFlight_NumericFlightID(t *testing.T) {
	svc, _, _ := newTestService(t)
	resp := post(t, svc, `{"flight_id":301,"timestamp":"2025-10-17T12:00:00","latitude":1,"longitude":1,"altitude":1,"speed":1}`)
	assert.Equal(t, "301", resp.FlightID)
}

func TestGetLatestLocation(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, ts := range []string{"2025-10-17T12:00:00Z", "2025-10-17T12:10:00Z", "2025-10-17T12:20:00Z"} {
		post(t, svc, `{"flight_id":"PK-301","timestamp":"`+ts+`","latitude":1,"longitude":1,"altitude":1,"speed":1,"origin":"KHI","destination":"ISB"}`)
	}

	resp, err := svc.GetLatestLocation(context.Background(), "PK-301")
	require.NoError(t, err)
	assert.Equal(t, "2025-10-17T12:20:00+00:00", resp.LatestLocation.Timestamp)
	assert.Equal(t, 3, resp.TotalUpdates)
	assert.Equal(t, "KHI → ISB", resp.Route)
	assert.Equal(t, models.FlightStatusInAir, resp.Status)
	assert.Equal(t, "2025-10-17T12:00:00+00:00", resp.TrackingDuration.Start)
	assert.Equal(t, "2025-10-17T12:20:00+00:00", resp.TrackingDuration.End)
}

func TestGetLatestLocation_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetLatestLocation(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Equal(t, "Flight nope not found", err.Error())
}

func TestGetLatestLocation_NoUpdates(t *testing.T) {
	repo := &stubRepo{Repository: database.NewMemoryRepository(), active: &models.Flight{FlightID: "EMPTY"}}
	svc := NewFlightService(repo, nil, logger.Nop())

	_, err := svc.GetLatestLocation(context.Background(), "EMPTY")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "No location updates available for flight EMPTY", err.Error())
}

func TestGetClosestLocation(t *testing.T) {
	svc, _, _ := newTestService(t)
	post(t, svc, `{"flight_id":"A","timestamp":"2025-10-17T12:00:00Z","latitude":10,"longitude":1,"altitude":1,"speed":1}`)
	post(t, svc, `{"flight_id":"A","timestamp":"2025-10-17T12:10:00Z","latitude":20,"longitude":1,"altitude":1,"speed":1}`)

	tests := []struct {
		name     string
		ts       string
		wantLat  float64
		wantDiff float64
	}{
		{"exact match", "2025-10-17T12:10:00Z", 20, 0},
		{"exact match with offset", "2025-10-17T17:10:00+05:00", 20, 0},
		{"closer to first", "2025-10-17T12:04:00", 10, 240},
		{"closer to second", "2025-10-17T12:06:00", 20, 240},
		{"midpoint tie keeps first", "2025-10-17T12:05:00", 10, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.GetClosestLocation(context.Background(), "A", tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLat, resp.Location.Latitude)
			assert.Equal(t, tt.wantDiff, resp.TimeDifferenceSeconds)
			assert.Equal(t, tt.ts, resp.RequestedTime)
		})
	}
}

func TestGetClosestLocation_InvalidTimestamp(t *testing.T) {
	svc, _, _ := newTestService(t)
	post(t, svc, `{"flight_id":"A","timestamp":"2025-10-17T12:00:00Z","latitude":10,"longitude":1,"altitude":1,"speed":1}`)

	_, err := svc.GetClosestLocation(context.Background(), "A", "noon")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, invalidTimestampMessage, err.Error())

	_, err = svc.GetClosestLocation(context.Background(), "missing", "noon")
	assert.True(t, IsNotFound(err), "existence is checked before the timestamp")
}

func TestCompleteFlight(t *testing.T) {
	svc, _, pub := newTestService(t)
	post(t, svc, `{"flight_id":"PK-301","timestamp":"2025-10-17T12:00:00Z","latitude":1,"longitude":1,"altitude":1,"speed":1}`)
	post(t, svc, `{"flight_id":"PK-301","timestamp":"2025-10-17T13:30:00Z","latitude":2,"longitude":2,"altitude":1,"speed":1}`)

	resp, err := svc.CompleteFlight(context.Background(), "PK-301")
	require.NoError(t, err)
	assert.Equal(t, "Flight PK-301 marked as completed and moved to logs", resp.Message)
	assert.Equal(t, 2, resp.TotalUpdates)
	assert.InDelta(t, 1.5, resp.FlightDurationHours, 1e-9)
	assert.Equal(t, "2025-10-17T15:00:00+00:00", resp.CompletedAt)

	list, err := svc.ListFlights(context.Background())
	require.NoError(t, err)
	assert.Zero(t, list.Count)

	logged, err := svc.GetFlightLog(context.Background(), "PK-301")
	require.NoError(t, err)
	assert.Equal(t, models.FlightStatusLanded, logged.Flight.Status)
	assert.Equal(t, "2025-10-17T15:00:00+00:00", logged.Flight.CompletedAt)
	require.NotNil(t, logged.Flight.TotalUpdates)
	assert.Equal(t, 2, *logged.Flight.TotalUpdates)

	assert.Equal(t, events.FlightCompleted, pub.types()[len(pub.types())-1])
}

func TestCompleteFlight_NoUpdates(t *testing.T) {
	mem := database.NewMemoryRepository()
	repo := &stubRepo{Repository: mem, complete: &models.Flight{FlightID: "EMPTY"}}
	svc := NewFlightService(repo, nil, logger.Nop(), WithClock(func() time.Time { return fixedNow }))

	resp, err := svc.CompleteFlight(context.Background(), "EMPTY")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalUpdates)
	assert.Equal(t, 0.0, resp.FlightDurationHours)
}

func TestCompleteFlight_NotFound(t *testing.T) {
	svc, _, pub := newTestService(t)

	_, err := svc.CompleteFlight(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "Flight ghost not found", err.Error())
	assert.Empty(t, pub.types())

	_, err = svc.GetFlightLog(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "Flight ghost not found in logs", err.Error())
}

func TestDeleteFlight(t *testing.T) {
	svc, _, pub := newTestService(t)
	post(t, svc, `{"flight_id":"KEEP","timestamp":"2025-10-17T12:00:00Z","latitude":1,"longitude":1,"altitude":1,"speed":1}`)
	post(t, svc, `{"flight_id":"DROP","timestamp":"2025-10-17T12:00:00Z","latitude":1,"longitude":1,"altitude":1,"speed":1}`)

	resp, err := svc.DeleteFlight(context.Background(), "DROP")
	require.NoError(t, err)
	assert.Equal(t, "Flight DROP deleted successfully", resp.Message)

	published := len(pub.types())
	_, err = svc.DeleteFlight(context.Background(), "nonexistent")
	assert.True(t, IsNotFound(err))
	assert.Len(t, pub.types(), published, "a failed delete publishes nothing")

	list, err := svc.ListFlights(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "KEEP", list.Flights[0].FlightID)

	_, err = svc.GetFlightLog(context.Background(), "DROP")
	assert.True(t, IsNotFound(err))
}

func TestListFlights_FormatsTimestamps(t *testing.T) {
	svc, _, _ := newTestService(t)
	post(t, svc, `{"flight_id":"A","timestamp":"2025-10-17T12:30:45.123456Z","latitude":1,"longitude":1,"altitude":1,"speed":1}`)

	list, err := svc.ListFlights(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Flights, 1)
	assert.Equal(t, "2025-10-17T12:30:45.123456+00:00", list.Flights[0].Updates[0].Timestamp)
	assert.Equal(t, "2025-10-17T12:30:45.123456+00:00", list.Flights[0].LastUpdate)
	assert.Equal(t, "2025-10-17T15:00:00+00:00", list.Flights[0].CreatedAt)
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	repo := &stubRepo{Repository: database.NewMemoryRepository(), err: boom}
	svc := NewFlightService(repo, nil, logger.Nop())

	_, err := svc.UpdateFlight(context.Background(), report(t, `{"flight_id":"A","timestamp":"2025-10-17T12:00:00Z","latitude":1,"longitude":1,"altitude":1,"speed":1}`))
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsValidation(err))

	_, err = svc.ListFlights(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = svc.DeleteFlight(context.Background(), "A")
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsNotFound(err))
}

// stubRepo overrides selected Repository methods
type stubRepo struct {
	database.Repository
	active   *models.Flight
	complete *models.Flight
	err      error
}

func (s *stubRepo) AppendUpdate(ctx context.Context, seed *models.Flight, u models.LocationUpdate) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.Repository.AppendUpdate(ctx, seed, u)
}

func (s *stubRepo) GetActive(ctx context.Context, id string) (*models.Flight, error) {
	if s.active != nil {
		return s.active.Clone(), nil
	}
	return s.Repository.GetActive(ctx, id)
}

func (s *stubRepo) ListActive(ctx context.Context) ([]*models.Flight, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.Repository.ListActive(ctx)
}

func (s *stubRepo) CompleteFlight(ctx context.Context, id string, finalize database.FinalizeFunc) (*models.Flight, error) {
	if s.complete != nil {
		f := s.complete.Clone()
		finalize(f)
		return f, nil
	}
	return s.Repository.CompleteFlight(ctx, id, finalize)
}

func (s *stubRepo) DeleteActive(ctx context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	return s.Repository.DeleteActive(ctx, id)
}
