package cmd

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/openfaktur/einvoice/internal/queue"
	"github.com/openfaktur/einvoice/internal/store"
)

// openDatabase connects to Postgres and migrates the schema.
func openDatabase(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	log.Debug().Msg("database connected")
	return db, nil
}

// openQueue connects to Redis and wraps the task queue.
func openQueue(log zerolog.Logger) (*queue.Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return queue.New(rdb, cfg.QueueKey, log), nil
}

// openBlobStore selects GCS when a bucket is configured, otherwise the
// in-memory store for local runs.
func openBlobStore(ctx context.Context, log zerolog.Logger) (store.BlobStore, error) {
	if cfg.StorageBucket == "" {
		log.Warn().Msg("no STORAGE_BUCKET configured, using in-memory blob store")
		return store.NewMemoryStore(), nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client failed: %w", err)
	}
	return store.NewGCSStore(client, cfg.StorageBucket), nil
}
