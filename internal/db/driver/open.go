package driver

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/config"
	"github.com/iamwavecut/ngwarden/internal/db"
	"github.com/iamwavecut/ngwarden/internal/db/memory"
	"github.com/iamwavecut/ngwarden/internal/db/mongo"
	"github.com/iamwavecut/ngwarden/internal/db/redis"
	"github.com/iamwavecut/ngwarden/internal/db/sqlite"
)

// Open returns the record store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Store, dataDir string) (db.Store, error) {
	entry := log.WithField("object", "driver").WithField("driver", cfg.Driver)
	switch cfg.Driver {
	case "sqlite", "":
		client, err := sqlite.NewSQLiteClient(ctx, dataDir, cfg.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		entry.Info("using sqlite record store")
		return client, nil
	case "mongo":
		client, err := mongo.NewMongoClient(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		entry.Info("using mongo record store")
		return client, nil
	case "redis":
		client, err := redis.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		entry.Info("using redis record store")
		return client, nil
	case "memory":
		entry.Warn("using in-memory record store, nothing will be persisted")
		return memory.NewStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
