// Package config reads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting the ingest binaries read from the environment.
type Config struct {
	VectorStore string // "qdrant" or "memory".

	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantUseTLS     bool
	QdrantCollection string

	OpenAIAPIKey   string
	EmbeddingModel string

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr     string
	RedisPassword string
	RedisQueue    string

	PartitionURL        string
	PartitionAPIKey     string
	DocumentAIProject   string
	DocumentAILocation  string
	DocumentAIProcessor string

	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	BatchDelay   time.Duration

	RetryAttempts  int
	RetryDelay     time.Duration
	ExtractTimeout time.Duration
	EmbedTimeout   time.Duration
	UpsertTimeout  time.Duration
	LeaseTTL       time.Duration

	Workers int

	LogLevel  string
	LogFormat string

	Port       int
	ServerMode bool
}

// Load reads the environment, applying defaults for anything unset or unparseable.
func Load() Config {
	return Config{
		VectorStore: strings.ToLower(getEnv("VECTOR_STORE", "qdrant")),

		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantUseTLS:     getEnvBool("QDRANT_USE_TLS", false),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "document_chunks"),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
		DatabaseDSN:    getEnv("DATABASE_DSN", "file:ingest.db"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisQueue:    getEnv("REDIS_QUEUE", "ingest:jobs"),

		PartitionURL:        getEnv("PARTITION_URL", ""),
		PartitionAPIKey:     getEnv("PARTITION_API_KEY", ""),
		DocumentAIProject:   getEnv("DOCUMENTAI_PROJECT", ""),
		DocumentAILocation:  getEnv("DOCUMENTAI_LOCATION", "us"),
		DocumentAIProcessor: getEnv("DOCUMENTAI_PROCESSOR", ""),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),
		BatchSize:    getEnvInt("BATCH_SIZE", 5),
		BatchDelay:   time.Duration(getEnvInt("BATCH_DELAY_MS", 1000)) * time.Millisecond,

		RetryAttempts:  getEnvInt("RETRY_ATTEMPTS", 3),
		RetryDelay:     time.Duration(getEnvInt("RETRY_DELAY_MS", 1000)) * time.Millisecond,
		ExtractTimeout: time.Duration(getEnvInt("EXTRACT_TIMEOUT_S", 120)) * time.Second,
		EmbedTimeout:   time.Duration(getEnvInt("EMBED_TIMEOUT_S", 30)) * time.Second,
		UpsertTimeout:  time.Duration(getEnvInt("UPSERT_TIMEOUT_S", 30)) * time.Second,
		LeaseTTL:       time.Duration(getEnvInt("LEASE_TTL_S", 600)) * time.Second,

		Workers: getEnvInt("WORKERS", 2),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		Port:       getEnvInt("PORT", 8080),
		ServerMode: getEnvBool("SERVER_MODE", false),
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.VectorStore != "qdrant" && c.VectorStore != "memory" {
		errs = append(errs, fmt.Errorf("VECTOR_STORE must be qdrant or memory, got %q", c.VectorStore))
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("WORKERS must be positive, got %d", c.Workers))
	}
	if c.QdrantPort <= 0 {
		errs = append(errs, fmt.Errorf("QDRANT_PORT must be positive, got %d", c.QdrantPort))
	}
	return errors.Join(errs...)
}

// ValidatePipeline additionally checks what a processing run needs.
func (c Config) ValidatePipeline() error {
	err := c.Validate()
	if c.OpenAIAPIKey == "" {
		err = errors.Join(err, errors.New("OPENAI_API_KEY is required"))
	}
	return err
}

// RedisEnabled reports whether leases and the job queue are available.
func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// DocumentAIEnabled reports whether gs:// sources can be extracted.
func (c Config) DocumentAIEnabled() bool {
	return c.DocumentAIProject != "" && c.DocumentAIProcessor != ""
}

func getEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
