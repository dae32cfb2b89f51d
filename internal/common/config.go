package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Documents DocumentConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	Redis     RedisConfig
	LogLevel  string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
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
	HTTPAddr        string
	GRPCAddr        string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// DocumentConfig holds upload storage and pagination settings
type DocumentConfig struct {
	StorageDir   string
	InboxDir     string // optional; watched for dropped invoices when set
	InboxTenant  string
	Pdftotext    string
	MaxTextChars int
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Strategy    string // auto | live | synthetic
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// PipelineConfig holds processing job settings
type PipelineConfig struct {
	Workers         int
	QueueSize       int
	ProcessTimeout  time.Duration
	PageConcurrency int
	LeaseTTL        time.Duration
}

// RedisConfig is optional; an empty URL selects in-process locking.
type RedisConfig struct {
	URL string
}

// LoadConfig loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment values win.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":8081"),
			MaxUploadBytes:  int64(getEnvAsInt("MAX_UPLOAD_MB", 25)) << 20,
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Documents: DocumentConfig{
			StorageDir:   getEnv("DOCUMENT_DIR", "./data/documents"),
			InboxDir:     getEnv("INBOX_DIR", ""),
			InboxTenant:  getEnv("INBOX_TENANT", ""),
			Pdftotext:    getEnv("PDFTOTEXT_BIN", "pdftotext"),
			MaxTextChars: getEnvAsInt("MAX_PAGE_TEXT_CHARS", 15000),
		},
		LLM: LLMConfig{
			Strategy:    strings.ToLower(getEnv("EXTRACTOR", "auto")),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			MaxTokens:   getEnvAsInt("OPENAI_MAX_TOKENS", 3000),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:         getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:       getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			ProcessTimeout:  getEnvAsDuration("PIPELINE_PROCESS_TIMEOUT", 5*time.Minute),
			PageConcurrency: getEnvAsInt("PAGE_CONCURRENCY", 3),
			LeaseTTL:        getEnvAsDuration("PIPELINE_LEASE_TTL", 2*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
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

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
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

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	switch c.LLM.Strategy {
	case "auto", "synthetic":
	case "live":
		if c.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required when EXTRACTOR=live", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "EXTRACTOR must be auto, live or synthetic", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.PageConcurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_WORKERS and PAGE_CONCURRENCY must be positive", ErrInvalidInput)
	}
	if c.Documents.InboxDir != "" && c.Documents.InboxTenant == "" {
		return NewAppError("CONFIG_ERROR", "INBOX_TENANT is required when INBOX_DIR is set", ErrInvalidInput)
	}
	return nil
}
