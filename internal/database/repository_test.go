package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/cx-tal-miterani/flight-tracker/internal/config"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

// RepositorySuite runs the same behaviour checks against every backend
type RepositorySuite struct {
	suite.Suite
	open func(t *testing.T) Repository
	repo Repository
	ctx  context.Context
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = s.open(s.T())
}

func (s *RepositorySuite) TearDownTest() {
	if s.repo != nil {
		s.NoError(s.repo.Close())
	}
}

var base = time.Date(2025, 10, 17, 12, 0, 0, 0, time.UTC)

func seedFor(id string, created time.Time) *models.Flight {
	return &models.Flight{FlightID: id, Airline: "PIA", Origin: "KHI", Destination: "ISB", CreatedAt: created}
}

func updateAt(minute int, lat float64) models.LocationUpdate {
	return models.LocationUpdate{
		Timestamp: base.Add(time.Duration(minute) * time.Minute),
		Latitude:  lat,
		Longitude: 67.0,
		Altitude:  35000,
		Speed:     450,
	}
}

func (s *RepositorySuite) TestAppendUpdate_CreatesThenAppends() {
	created, err := s.repo.AppendUpdate(s.ctx, seedFor("PK-301", base), updateAt(0, 24.9))
	s.Require().NoError(err)
	s.True(created)

	created, err = s.repo.AppendUpdate(s.ctx, seedFor("PK-301", base.Add(time.Hour)), updateAt(5, 25.5))
	s.Require().NoError(err)
	s.False(created)

	f, err := s.repo.GetActive(s.ctx, "PK-301")
	s.Require().NoError(err)
	s.Require().Len(f.Updates, 2)
	s.Equal(24.9, f.Updates[0].Latitude)
	s.Equal(25.5, f.Updates[1].Latitude)
	s.True(base.Add(5*time.Minute).Equal(f.LastUpdate))
	s.True(base.Equal(f.CreatedAt), "created_at comes from the first report")
	s.Equal(models.FlightStatusInAir, f.Status)
	s.Equal("PIA", f.Airline)
	s.Equal("KHI → ISB", f.Route())
}

func (s *RepositorySuite) TestAppendUpdate_DefaultsUnknownFields() {
	_, err := s.repo.AppendUpdate(s.ctx, &models.Flight{FlightID: "X1", CreatedAt: base}, updateAt(0, 10))
	s.Require().NoError(err)

	f, err := s.repo.GetActive(s.ctx, "X1")
	s.Require().NoError(err)
	s.Equal(models.UnknownValue, f.Airline)
	s.Equal(models.UnknownValue, f.Origin)
	s.Equal(models.UnknownValue, f.Destination)
}

func (s *RepositorySuite) TestAppendUpdate_OutOfOrderKeepsInsertionOrder() {
	_, err := s.repo.AppendUpdate(s.ctx, seedFor("PK-1", base), updateAt(10, 1))
	s.Require().NoError(err)
	_, err = s.repo.AppendUpdate(s.ctx, seedFor("PK-1", base), updateAt(2, 2))
	s.Require().NoError(err)

	f, err := s.repo.GetActive(s.ctx, "PK-1")
	s.Require().NoError(err)
	s.Require().Len(f.Updates, 2)
	s.Equal(1.0, f.Updates[0].Latitude)
	s.Equal(2.0, f.Updates[1].Latitude)
	s.True(base.Add(2*time.Minute).Equal(f.LastUpdate), "last_update follows the latest report, not the max timestamp")
}

func (s *RepositorySuite) TestAppendUpdate_RejectsEmptyID() {
	_, err := s.repo.AppendUpdate(s.ctx, &models.Flight{}, updateAt(0, 1))
	s.ErrorIs(err, ErrInvalidUpdate)
}

func (s *RepositorySuite) TestAppendUpdate_Concurrent() {
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.repo.AppendUpdate(s.ctx, seedFor("RACE", base), updateAt(i, float64(i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	f, err := s.repo.GetActive(s.ctx, "RACE")
	s.Require().NoError(err)
	s.Len(f.Updates, writers)

	flights, err := s.repo.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Len(flights, 1)
}

func (s *RepositorySuite) TestGetActive_NotFound() {
	_, err := s.repo.GetActive(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *RepositorySuite) TestListActive() {
	flights, err := s.repo.ListActive(s.ctx)
	s.Require().NoError(err)
	s.NotNil(flights)
	s.Empty(flights)

	_, err = s.repo.AppendUpdate(s.ctx, seedFor("A100", base), updateAt(0, 1))
	s.Require().NoError(err)
	_, err = s.repo.AppendUpdate(s.ctx, seedFor("B200", base.Add(time.Minute)), updateAt(1, 2))
	s.Require().NoError(err)

	flights, err = s.repo.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(flights, 2)
	s.Equal("A100", flights[0].FlightID)
	s.Equal("B200", flights[1].FlightID)
}

func (s *RepositorySuite) TestCompleteFlight_Relocates() {
	_, err := s.repo.AppendUpdate(s.ctx, seedFor("PK-301", base), updateAt(0, 24.9))
	s.Require().NoError(err)
	_, err = s.repo.AppendUpdate(s.ctx, seedFor("PK-301", base), updateAt(90, 33.6))
	s.Require().NoError(err)

	completedAt := base.Add(2 * time.Hour)
	logged, err := s.repo.CompleteFlight(s.ctx, "PK-301", func(f *models.Flight) { f.Complete(completedAt) })
	s.Require().NoError(err)
	s.Equal(models.FlightStatusLanded, logged.Status)
	s.Require().NotNil(logged.TotalUpdates)
	s.Equal(2, *logged.TotalUpdates)

	_, err = s.repo.GetActive(s.ctx, "PK-301")
	s.ErrorIs(err, ErrNotFound)

	stored, err := s.repo.GetLog(s.ctx, "PK-301")
	s.Require().NoError(err)
	s.Equal(models.FlightStatusLanded, stored.Status)
	s.Len(stored.Updates, 2)
	s.Require().NotNil(stored.CompletedAt)
	s.True(completedAt.Equal(*stored.CompletedAt))
	s.Require().NotNil(stored.FlightDuration)
	s.InDelta(1.5, *stored.FlightDuration, 1e-9)
	s.Equal(2, *stored.TotalUpdates)
}

func (s *RepositorySuite) TestCompleteFlight_ReplacesExistingLog() {
	for _, lat := range []float64{1, 2} {
		_, err := s.repo.AppendUpdate(s.ctx, seedFor("AGAIN", base), updateAt(0, lat))
		s.Require().NoError(err)
		_, err = s.repo.CompleteFlight(s.ctx, "AGAIN", func(f *models.Flight) { f.Complete(base) })
		s.Require().NoError(err)
	}

	stored, err := s.repo.GetLog(s.ctx, "AGAIN")
	s.Require().NoError(err)
	s.Require().Len(stored.Updates, 1)
	s.Equal(2.0, stored.Updates[0].Latitude)
}

func (s *RepositorySuite) TestCompleteFlight_NotFound() {
	called := false
	_, err := s.repo.CompleteFlight(s.ctx, "missing", func(*models.Flight) { called = true })
	s.ErrorIs(err, ErrNotFound)
	s.False(called)

	_, err = s.repo.GetLog(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *RepositorySuite) TestDeleteActive() {
	_, err := s.repo.AppendUpdate(s.ctx, seedFor("KEEP", base), updateAt(0, 1))
	s.Require().NoError(err)
	_, err = s.repo.AppendUpdate(s.ctx, seedFor("DROP", base), updateAt(0, 2))
	s.Require().NoError(err)

	s.Require().NoError(s.repo.DeleteActive(s.ctx, "DROP"))
	s.ErrorIs(s.repo.DeleteActive(s.ctx, "DROP"), ErrNotFound)
	s.ErrorIs(s.repo.DeleteActive(s.ctx, "never-existed"), ErrNotFound)

	flights, err := s.repo.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(flights, 1)
	s.Equal("KEEP", flights[0].FlightID)

	_, err = s.repo.GetLog(s.ctx, "DROP")
	s.ErrorIs(err, ErrNotFound, "deletion doesn't archive")
}

func (s *RepositorySuite) TestPing() {
	s.NoError(s.repo.Ping(s.ctx))
}

func TestMemoryRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{open: func(t *testing.T) Repository {
		return NewMemoryRepository()
	}})
}

func TestSQLiteRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{open: func(t *testing.T) Repository {
		repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "db", "flights.db"), logger.Nop())
		require.NoError(t, err)
		return repo
	}})
}

func TestPebbleRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{open: func(t *testing.T) Repository {
		repo, err := NewPebbleRepository(filepath.Join(t.TempDir(), "pebble"), logger.Nop())
		require.NoError(t, err)
		return repo
	}})
}

func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	suite.Run(t, &RepositorySuite{open: func(t *testing.T) Repository {
		ctx := context.Background()
		repo, err := NewPostgresRepository(ctx, url, logger.Nop())
		require.NoError(t, err)
		_, err = repo.pool.Exec(ctx, "TRUNCATE active_flights, flight_logs")
		require.NoError(t, err)
		return repo
	}})
}

func TestMongoRepository(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	suite.Run(t, &RepositorySuite{open: func(t *testing.T) Repository {
		ctx := context.Background()
		repo, err := NewMongoRepository(ctx, MongoOptions{
			URI:              uri,
			Database:         fmt.Sprintf("flight_tracker_test_%d", time.Now().UnixNano()),
			ActiveCollection: "flights",
			LogsCollection:   "flight_logs",
		}, logger.Nop())
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = repo.active.Database().Drop(context.Background())
		})
		_, err = repo.active.DeleteMany(ctx, bson.M{})
		require.NoError(t, err)
		return repo
	}})
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_, err := repo.AppendUpdate(ctx, seedFor("COPY", base), updateAt(0, 1))
	require.NoError(t, err)

	f, err := repo.GetActive(ctx, "COPY")
	require.NoError(t, err)
	f.Updates[0].Latitude = 99
	f.Airline = "changed"

	again, err := repo.GetActive(ctx, "COPY")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Updates[0].Latitude)
	assert.Equal(t, "PIA", again.Airline)
}

func TestSQLiteRepository_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flights.db")
	ctx := context.Background()

	repo, err := NewSQLiteRepository(path, logger.Nop())
	require.NoError(t, err)
	_, err = repo.AppendUpdate(ctx, seedFor("DUR", base), updateAt(0, 1))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteRepository(path, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	f, err := repo.GetActive(ctx, "DUR")
	require.NoError(t, err)
	assert.Len(t, f.Updates, 1)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "redis"}, logger.Nop())
	assert.Error(t, err)

	repo, err := Open(context.Background(), config.StorageConfig{Backend: config.BackendMemory}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("active0"), prefixUpperBound([]byte("active/")))
	assert.Nil(t, prefixUpperBound([]byte{0xff}))
}
