package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/NAGH654/exam-submissions/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Archive  ArchiveConfig
	Ingest   IngestConfig
	Storage  StorageConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Watch    WatchConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// ArchiveConfig holds extraction-related configuration
type ArchiveConfig struct {
	WorkRoot             string
	RarTool              string
	MaxDirectBytes       int64
	MaxBulkBytes         int64
	MaxEntryBytes        int64
	SecondaryArchiveName string
	ToolTimeout          time.Duration
}

// IngestConfig holds batch pipeline configuration
type IngestConfig struct {
	BatchSize         int
	ProhibitedPattern string
	JobStatusTTL      time.Duration
	Workers           int
	QueueSize         int
	JobTimeout        time.Duration
}

// StorageConfig selects and configures object storage. An empty MinioEndpoint
// means documents and images are written under LocalRoot.
type StorageConfig struct {
	LocalRoot      string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// RedisConfig configures the job-status store; empty Addr keeps statuses in memory.
type RedisConfig struct {
	Addr string
	DB   int
}

// RabbitMQConfig configures notification publishing; empty URL logs events instead.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// WatchConfig configures the drop-folder watcher of the daemon.
type WatchConfig struct {
	Dir         string
	InitialScan bool
	Debounce    time.Duration
}

// LoadConfig loads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func LoadConfig() *Config {
	// .env is optional; variables already set in the environment win
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		Archive: ArchiveConfig{
			WorkRoot:             getEnv("WORK_ROOT", "./tmp/jobs"),
			RarTool:              getEnv("RAR_TOOL", "unrar"),
			MaxDirectBytes:       getEnvAsInt64("MAX_DIRECT_UPLOAD_BYTES", constants.MaxDirectUploadBytes),
			MaxBulkBytes:         getEnvAsInt64("MAX_BULK_ARCHIVE_BYTES", constants.MaxBulkArchiveBytes),
			MaxEntryBytes:        getEnvAsInt64("MAX_ARCHIVE_ENTRY_BYTES", 512<<20),
			SecondaryArchiveName: getEnv("SECONDARY_ARCHIVE_NAME", constants.DefaultSecondaryArchiveName),
			ToolTimeout:          getEnvAsDuration("RAR_TOOL_TIMEOUT", 10*time.Minute),
		},
		Ingest: IngestConfig{
			BatchSize:         getEnvAsInt("INGEST_BATCH_SIZE", constants.DefaultBatchSize),
			ProhibitedPattern: getEnv("PROHIBITED_PATTERN", constants.DefaultProhibitedPattern),
			JobStatusTTL:      getEnvAsDuration("JOB_STATUS_TTL", 24*time.Hour),
			Workers:           getEnvAsInt("INGEST_WORKERS", 1),
			QueueSize:         getEnvAsInt("INGEST_QUEUE_SIZE", 64),
			JobTimeout:        getEnvAsDuration("INGEST_JOB_TIMEOUT", time.Hour),
		},
		Storage: StorageConfig{
			LocalRoot:      getEnv("STORAGE_ROOT", "./storage"),
			MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
			MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
			MinioBucket:    getEnv("MINIO_BUCKET", "submissions"),
			MinioUseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", ""),
			DB:   getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "submissions.events"),
		},
		Watch: WatchConfig{
			Dir:         getEnv("WATCH_DIR", ""),
			InitialScan: getEnvAsBool("WATCH_INITIAL_SCAN", true),
			Debounce:    getEnvAsDuration("WATCH_DEBOUNCE", 2*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration. requireDB is false for in-memory runs.
func (c *Config) Validate(requireDB bool) error {
	if requireDB && c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrInvalidInput)
	}
	if c.Archive.WorkRoot == "" {
		return NewAppError(CodeConfig, "WORK_ROOT is required", ErrInvalidInput)
	}
	if c.Archive.MaxDirectBytes <= 0 || c.Archive.MaxBulkBytes < c.Archive.MaxDirectBytes {
		return NewAppError(CodeConfig, "archive size limits are inconsistent", ErrInvalidInput)
	}
	if c.Ingest.BatchSize <= 0 {
		return NewAppError(CodeConfig, "INGEST_BATCH_SIZE must be positive", ErrInvalidInput)
	}
	if c.Storage.MinioEndpoint == "" && c.Storage.LocalRoot == "" {
		return NewAppError(CodeConfig, "STORAGE_ROOT or MINIO_ENDPOINT is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError(CodeConfig, "GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}
