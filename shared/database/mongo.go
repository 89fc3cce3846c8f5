package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const connectTimeout = 10 * time.Second

// MongoDB owns a client and the database handle used by the repositories.
// Call Close when shutting down.
type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zerolog.Logger
}

// ConnectMongo opens a client for uri and pings the primary before returning.
func ConnectMongo(ctx context.Context, logger *zerolog.Logger, uri, database string) (*MongoDB, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info().Str("database", database).Msg("connected to MongoDB")

	return &MongoDB{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}, nil
}

// Database returns the database handle.
func (m *MongoDB) Database() *mongo.Database {
	return m.db
}

// Close disconnects the client.
func (m *MongoDB) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return err
	}

	m.logger.Info().Msg("disconnected from MongoDB")
	return nil
}
