// Package config loads the process configuration from the environment once
// at startup. A .env file is honored when present, real environment
// variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/validate"
)

// Config is the full process configuration.
type Config struct {
	// ListenAddr is the HTTP bind address of the intake API.
	ListenAddr string

	// DatabaseDSN is the Postgres connection string for the transaction
	// store.
	DatabaseDSN string

	// ERPDatabaseDSN is the read-only connection to the ERP views. Falls
	// back to DatabaseDSN when unset, which suits local setups where the
	// ERP views live in the same database.
	ERPDatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueKey      string

	// StorageBucket is the GCS bucket raw submissions and extracted XML
	// land in. Empty selects the in-memory store (local runs only).
	StorageBucket string

	Assets validate.AssetConfig

	WorkerMaxAttempts int
	WorkerTaskTimeout time.Duration
	RetryCap          int

	LogLevel zerolog.Level
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	// Missing .env is fine; containers set real env vars.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		ERPDatabaseDSN: os.Getenv("ERP_DATABASE_DSN"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		StorageBucket:  os.Getenv("STORAGE_BUCKET"),
		QueueKey:       os.Getenv("QUEUE_KEY"),
		Assets: validate.AssetConfig{
			CIISchemaPath:           os.Getenv("SCHEMA_CII"),
			UBLInvoiceSchemaPath:    os.Getenv("SCHEMA_UBL_INVOICE"),
			UBLCreditNoteSchemaPath: os.Getenv("SCHEMA_UBL_CREDITNOTE"),
			RuleToolJarPath:         os.Getenv("RULE_TOOL_JAR"),
			RuleScenariosPath:       os.Getenv("RULE_SCENARIOS"),
			JavaBinary:              os.Getenv("JAVA_BINARY"),
		},
	}

	if cfg.ERPDatabaseDSN == "" {
		cfg.ERPDatabaseDSN = cfg.DatabaseDSN
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.WorkerMaxAttempts, err = getEnvInt("WORKER_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.RetryCap, err = getEnvInt("RETRY_CAP", 3); err != nil {
		return nil, err
	}
	if cfg.WorkerTaskTimeout, err = getEnvDuration("WORKER_TASK_TIMEOUT", time.Minute); err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

// Validate checks the parts every long-running process needs.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
