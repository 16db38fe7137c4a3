package catalog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/frostline/updated/internal/logger"
)

// Collection names inside the updates database.
const (
	collVersions = "versions"
	collUploads  = "uploads"
	collChunks   = "chunks"
	collFiles    = "files"
	collServers  = "servers"
	collCounters = "counters"
)

// Store wraps the MongoDB client and exposes the catalog operations the
// core depends on. It is safe for concurrent use; the process owns a
// single long-lived instance.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	versions *mongo.Collection
	uploads  *mongo.Collection
	chunks   *mongo.Collection
	files    *mongo.Collection
	servers  *mongo.Collection
	counters *mongo.Collection
}

// Connect opens the MongoDB connection, verifies it with a ping and
// ensures the catalog indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		db:       db,
		versions: db.Collection(collVersions),
		uploads:  db.Collection(collUploads),
		chunks:   db.Collection(collChunks),
		files:    db.Collection(collFiles),
		servers:  db.Collection(collServers),
		counters: db.Collection(collCounters),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	logger.Info("catalog connected", "component", "catalog", "database", database)
	return s, nil
}

// ensureIndexes creates the unique indexes backing the catalog invariants.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.versions, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "major", Value: 1}, {Key: "minor", Value: 1}, {Key: "revision", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}}},
		}},
		{s.uploads, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "version_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
		{s.chunks, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "upload_id", Value: 1}, {Key: "concurrent_id", Value: 1}, {Key: "offset", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
		{s.files, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "version_id", Value: 1}, {Key: "local_path", Value: 1}, {Key: "category", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "version_id", Value: 1}, {Key: "category", Value: 1}}},
		}},
	}

	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateMany(ctx, ix.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from the database.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
