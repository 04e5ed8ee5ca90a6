package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	KeyDownloadLink = "ADDRESS_DOWNLOAD_LINK"

	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Reader resolves a single configuration value at the moment it is needed.
type Reader interface {
	Get(key string) string
}

// EnvReader reads the process environment.
type EnvReader struct{}

func (EnvReader) Get(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

type Config struct {
	DownloadLink         string
	StoreDriver          string
	DatabaseURL          string
	SQLitePath           string
	RedisURL             string
	SyncCron             string
	RunOnStart           bool
	HTTPAddr             string
	FetchTimeout         time.Duration
	FetchRetries         int
	DecodeWorkers        int
	TempDir              string
	SourceEncoding       string
	SkipUnchangedArchive bool
	LockTTL              time.Duration
	LogLevel             string
	LogFormat            string
}

func New() (*Config, error) {
	downloadLink := os.Getenv(KeyDownloadLink)
	if downloadLink == "" {
		return nil, fmt.Errorf("%s environment variable is not set", KeyDownloadLink)
	}

	cfg := &Config{
		DownloadLink:   downloadLink,
		StoreDriver:    getEnv("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getEnv("SQLITE_PATH", "data/address.db"),
		RedisURL:       os.Getenv("REDIS_URL"),
		SyncCron:       getEnv("SYNC_CRON", "5 20 * * *"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		TempDir:        getEnv("TEMP_DIR", os.TempDir()),
		SourceEncoding: getEnv("SOURCE_ENCODING", "windows-1257"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	case StoreDriverSQLite, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("invalid value for STORE_DRIVER: expected postgres, sqlite or memory, got '%s'", cfg.StoreDriver)
	}

	var err error
	cfg.RunOnStart, err = getEnvAsBool("RUN_ON_START", false)
	if err != nil {
		return nil, err
	}

	cfg.FetchTimeout, err = getEnvAsDuration("FETCH_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.FetchRetries, err = getEnvAsInt("FETCH_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	cfg.DecodeWorkers, err = getEnvAsInt("DECODE_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	if cfg.DecodeWorkers < 1 {
		return nil, fmt.Errorf("invalid value for DECODE_WORKERS: must be at least 1, got %d", cfg.DecodeWorkers)
	}

	cfg.SkipUnchangedArchive, err = getEnvAsBool("SKIP_UNCHANGED_ARCHIVE", false)
	if err != nil {
		return nil, err
	}

	cfg.LockTTL, err = getEnvAsDuration("LOCK_TTL", 2*time.Hour)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: expected a boolean, got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected a duration, got '%s'", key, valueStr)
	}

	return value, nil
}
