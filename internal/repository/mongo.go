package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

const (
	opTimeout    = 5 * time.Second
	writeTimeout = 3 * time.Second
)

// ConnectMongo dials and pings the cluster before handing out the database.
func ConnectMongo(ctx context.Context, uri, dbName string, log *zap.SugaredLogger) (*mongo.Database, *mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Errorf("MongoDB connection failed: %v", err)
		return nil, nil, errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Errorf("MongoDB ping failed: %v", err)
		_ = client.Disconnect(context.Background())
		return nil, nil, errors.Wrap(err, "mongo ping")
	}
	log.Infow("MongoDB connected", "db", dbName)
	return client.Database(dbName), client, nil
}

// storeErr converts driver errors into the component-level error kinds.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFound(op + ": not found")
	}
	return apperr.Unavailable(op+" failed", errors.Wrap(err, op))
}
