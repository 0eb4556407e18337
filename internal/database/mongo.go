package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

// MongoOptions names the database and the two collections
type MongoOptions struct {
	URI              string
	Database         string
	ActiveCollection string
	LogsCollection   string
}

// MongoRepository stores each flight as one document. Completion uses a
// multi-document transaction, so the server must run as a replica set.
// BSON dates keep millisecond precision.
type MongoRepository struct {
	client *mongo.Client
	active *mongo.Collection
	logs   *mongo.Collection
	logger *logger.Logger
}

// NewMongoRepository connects and creates the unique flight_id indexes
func NewMongoRepository(ctx context.Context, opts MongoOptions, log *logger.Logger) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(opts.Database)
	r := &MongoRepository{
		client: client,
		active: db.Collection(opts.ActiveCollection),
		logs:   db.Collection(opts.LogsCollection),
		logger: log.Named("mongo"),
	}

	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "flight_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	for _, coll := range []*mongo.Collection{r.active, r.logs} {
		if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to create index on %s: %w", coll.Name(), err)
		}
	}

	r.logger.Info("Connected to MongoDB",
		logger.String("database", opts.Database),
		logger.String("active_collection", opts.ActiveCollection),
		logger.String("logs_collection", opts.LogsCollection))
	return r, nil
}

func (r *MongoRepository) AppendUpdate(ctx context.Context, seed *models.Flight, update models.LocationUpdate) (bool, error) {
	if seed == nil || seed.FlightID == "" {
		return false, ErrInvalidUpdate
	}

	f := newActive(seed, update)
	filter := bson.M{"flight_id": f.FlightID}
	change := bson.M{
		"$push": bson.M{"updates": update},
		"$set": bson.M{
			"last_update": update.Timestamp,
			"status":      models.FlightStatusInAir,
		},
		"$setOnInsert": bson.M{
			"airline":     f.Airline,
			"origin":      f.Origin,
			"destination": f.Destination,
			"created_at":  f.CreatedAt,
		},
	}
	opts := options.Update().SetUpsert(true)

	result, err := r.active.UpdateOne(ctx, filter, change, opts)
	if mongo.IsDuplicateKeyError(err) {
		// lost a concurrent upsert race; the document exists now
		result, err = r.active.UpdateOne(ctx, filter, change, opts)
	}
	if err != nil {
		return false, fmt.Errorf("failed to append update: %w", err)
	}
	return result.UpsertedCount > 0, nil
}

func (r *MongoRepository) findOne(ctx context.Context, coll *mongo.Collection, flightID string) (*models.Flight, error) {
	var f models.Flight
	err := coll.FindOne(ctx, bson.M{"flight_id": flightID}).Decode(&f)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	normalizeMongoTimes(&f)
	return &f, nil
}

func (r *MongoRepository) GetActive(ctx context.Context, flightID string) (*models.Flight, error) {
	f, err := r.findOne(ctx, r.active, flightID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}
	return f, err
}

func (r *MongoRepository) ListActive(ctx context.Context) ([]*models.Flight, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "flight_id", Value: 1}})
	cursor, err := r.active.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer cursor.Close(ctx)

	flights := []*models.Flight{}
	for cursor.Next(ctx) {
		var f models.Flight
		if err := cursor.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to decode flight: %w", err)
		}
		normalizeMongoTimes(&f)
		flights = append(flights, &f)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flights: %w", err)
	}
	return flights, nil
}

func (r *MongoRepository) GetLog(ctx context.Context, flightID string) (*models.Flight, error) {
	f, err := r.findOne(ctx, r.logs, flightID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get flight log: %w", err)
	}
	return f, err
}

func (r *MongoRepository) CompleteFlight(ctx context.Context, flightID string, finalize FinalizeFunc) (*models.Flight, error) {
	session, err := r.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		f, err := r.findOne(sc, r.active, flightID)
		if err != nil {
			return nil, err
		}

		if finalize != nil {
			finalize(f)
		}
		logSummary(f)

		_, err = r.logs.ReplaceOne(sc, bson.M{"flight_id": flightID}, f, options.Replace().SetUpsert(true))
		if err != nil {
			return nil, fmt.Errorf("failed to write flight log: %w", err)
		}
		if _, err := r.active.DeleteOne(sc, bson.M{"flight_id": flightID}); err != nil {
			return nil, fmt.Errorf("failed to remove active flight: %w", err)
		}
		return f, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to complete flight: %w", err)
	}
	return result.(*models.Flight), nil
}

func (r *MongoRepository) DeleteActive(ctx context.Context, flightID string) error {
	result, err := r.active.DeleteOne(ctx, bson.M{"flight_id": flightID})
	if err != nil {
		return fmt.Errorf("failed to delete flight: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func normalizeMongoTimes(f *models.Flight) {
	f.LastUpdate = f.LastUpdate.UTC()
	f.CreatedAt = f.CreatedAt.UTC()
	for i := range f.Updates {
		f.Updates[i].Timestamp = f.Updates[i].Timestamp.UTC()
	}
	if f.CompletedAt != nil {
		t := f.CompletedAt.UTC()
		f.CompletedAt = &t
	}
}
