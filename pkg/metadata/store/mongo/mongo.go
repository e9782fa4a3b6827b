// Package mongo provides the MongoDB-backed metadata store.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/marmos91/nebulaftp/internal/logger"
)

// Config holds the MongoDB connection settings.
type Config struct {
	// URL is the mongodb:// connection string.
	URL string

	// Database is the database name (default "ftp").
	Database string
}

// Store is a MongoDB implementation of store.Store and
// store.CredentialStore. Documents live in the "files" and "users"
// collections of the configured database.
type Store struct {
	client *mongo.Client
	files  *mongo.Collection
	users  *mongo.Collection
}

// Connect dials MongoDB with majority write concern and returns the store.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Database == "" {
		cfg.Database = "ftp"
	}

	opts := options.Client().ApplyURI(cfg.URL)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	return &Store{
		client: client,
		files:  db.Collection("files"),
		users:  db.Collection("users"),
	}, nil
}

// EnsureIndexes asserts the indexes the VFS depends on. The unique compound
// (parent, name) index is load-bearing: its violation on insert is the only
// "already exists" signal. Failures are logged but non-fatal, matching the
// behavior of a startup against a read-only replica.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	fileIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "parent", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "parent", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if _, err := s.files.Indexes().CreateMany(ctx, fileIndexes); err != nil {
		logger.Warn("failed to ensure file indexes", "error", err)
		return fmt.Errorf("ensure file indexes: %w", err)
	}

	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "login", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		logger.Warn("failed to ensure user indexes", "error", err)
		return fmt.Errorf("ensure user indexes: %w", err)
	}

	return nil
}

// HealthCheck verifies the primary is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb ping: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
