package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/model"
)

const (
	racetrackCollection = "racetracks"
	entryCollection     = "time_entries"
)

// Mongo implements Repository with one collection per entity
type Mongo struct {
	client     *mongo.Client
	racetracks *mongo.Collection
	entries    *mongo.Collection
	logger     *logger.Logger
}

// MongoConfig holds connection settings
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// NewMongo connects to MongoDB and verifies the connection
func NewMongo(ctx context.Context, cfg MongoConfig, l *logger.Logger) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	l.Info("connected to mongodb", zap.String("database", cfg.Database))

	db := client.Database(cfg.Database)
	return &Mongo{
		client:     client,
		racetracks: db.Collection(racetrackCollection),
		entries:    db.Collection(entryCollection),
		logger:     l,
	}, nil
}

func (m *Mongo) SaveRacetrack(ctx context.Context, r model.Racetrack) error {
	_, err := m.racetracks.ReplaceOne(ctx, bson.M{"_id": r.ID}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert racetrack %s: %w", r.ID, err)
	}
	return nil
}

func (m *Mongo) SaveTimeEntry(ctx context.Context, e model.TimeEntry) error {
	if _, err := m.entries.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("failed to insert time entry %s: %w", e.ID, err)
	}
	return nil
}

func (m *Mongo) LoadRacetracks(ctx context.Context) ([]model.Racetrack, error) {
	cursor, err := m.racetracks.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query racetracks: %w", err)
	}
	var list []model.Racetrack
	if err := cursor.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("failed to decode racetracks: %w", err)
	}
	return list, nil
}

func (m *Mongo) LoadTimeEntries(ctx context.Context) ([]model.TimeEntry, error) {
	sort := bson.D{{Key: "submitted_at", Value: 1}, {Key: "_id", Value: 1}}
	cursor, err := m.entries.Find(ctx, bson.D{}, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("failed to query time entries: %w", err)
	}
	var list []model.TimeEntry
	if err := cursor.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("failed to decode time entries: %w", err)
	}
	return list, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}
