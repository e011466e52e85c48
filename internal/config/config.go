// Package config provides centralized configuration management for the
// manifest services. Everything is read from environment variables once per
// process, with defaults applied and validated on startup so misconfiguration
// fails before any batch is touched.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Record store backends.
const (
	RecordStoreDynamo   = "dynamodb"
	RecordStorePostgres = "postgres"
	RecordStoreMemory   = "memory"
)

// Blob store backends.
const (
	BlobStoreS3    = "s3"
	BlobStoreLocal = "local"
)

// Status sink backends.
const (
	StatusSinkLog  = "log"
	StatusSinkNATS = "nats"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Stores      StoresConfig
	Backend     BackendConfig
	AWS         AWSConfig
	ObjectStore ObjectStoreConfig
	Database    DatabaseConfig
	Pipeline    PipelineConfig
	Status      StatusConfig
	Queue       QueueConfig
	Security    SecurityConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP trigger settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds how long shutdown waits for running batches.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// StoresConfig names the tables, indexes and bucket the pipeline works on.
type StoresConfig struct {
	// ManifestTableARN is the manifest table ARN, or a bare table name.
	ManifestTableARN string `env:"DDB_MANIFEST_TABLE_ARN" required:"true"`

	// CuratedRecordsTableARN is the curated-records table ARN, or a bare table name.
	CuratedRecordsTableARN string `env:"DDB_CURATED_RECORDS_TABLE_ARN" required:"true"`

	CuratedRecordsIndex string `env:"DDB_CURATED_RECORDS_INDEX_NAME" required:"true"`
	ManifestIndex       string `env:"DDB_MANIFEST_INDEX_NAME" required:"true"`

	// CuratedBucket holds curated objects and receives manifest artifacts.
	CuratedBucket string `env:"CURATED_BUCKET_NAME" required:"true"`
}

// ManifestTable returns the manifest table name.
func (s StoresConfig) ManifestTable() string {
	return TableNameFromARN(s.ManifestTableARN)
}

// CuratedRecordsTable returns the curated-records table name.
func (s StoresConfig) CuratedRecordsTable() string {
	return TableNameFromARN(s.CuratedRecordsTableARN)
}

// TableNameFromARN extracts the table name from a DynamoDB table ARN
// ("arn:aws:dynamodb:region:acct:table/<name>"). A value without '/' is
// returned unchanged.
func TableNameFromARN(arn string) string {
	parts := strings.Split(arn, "/")
	if len(parts) < 2 {
		return arn
	}
	return parts[1]
}

// BackendConfig selects the capability implementations.
type BackendConfig struct {
	RecordStore string `env:"RECORD_STORE" default:"dynamodb"`
	BlobStore   string `env:"BLOB_STORE" default:"s3"`
	StatusSink  string `env:"STATUS_SINK" default:"log"`
}

// AWSConfig holds SDK settings for the DynamoDB record store.
type AWSConfig struct {
	Region string `env:"AWS_REGION" envAlt:"AWS_DEFAULT_REGION" default:"us-east-1"`

	// DynamoEndpoint overrides the DynamoDB endpoint (DynamoDB Local, LocalStack).
	DynamoEndpoint string `env:"DYNAMODB_ENDPOINT"`
}

// ObjectStoreConfig holds blob store settings.
type ObjectStoreConfig struct {
	// Endpoint is an S3-compatible endpoint; empty means AWS S3.
	Endpoint        string `env:"S3_ENDPOINT"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	UseSSL          bool   `env:"S3_USE_SSL" default:"true"`

	// LocalRoot is the directory used when BLOB_STORE=local.
	LocalRoot string `env:"BLOB_LOCAL_ROOT"`
}

// DatabaseConfig holds PostgreSQL settings, used when RECORD_STORE=postgres.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// PageSize bounds rows returned per index query page.
	PageSize int `env:"RECORD_PAGE_SIZE" default:"500"`
}

// PipelineConfig holds table processing settings.
type PipelineConfig struct {
	// StagingRoot is where per-table scratch directories are created
	// (default: OS temp dir).
	StagingRoot string `env:"STAGING_ROOT"`

	// MaxWorkers bounds concurrently running table jobs (default: 15).
	MaxWorkers int `env:"MANIFEST_MAX_WORKERS" default:"15"`

	// BatchTimeout bounds one batch invocation (default: 15m).
	BatchTimeout time.Duration `env:"MANIFEST_BATCH_TIMEOUT" default:"15m"`
}

// StatusConfig holds status sink settings.
type StatusConfig struct {
	NATSURL string `env:"NATS_URL" default:"nats://127.0.0.1:4222"`
	Subject string `env:"STATUS_SUBJECT" default:"batch.status"`
}

// QueueConfig holds the AMQP trigger settings. The consumer is started only
// when URL is set.
type QueueConfig struct {
	URL      string `env:"AMQP_URL"`
	Queue    string `env:"MANIFEST_QUEUE" default:"manifest-events"`
	Prefetch int    `env:"AMQP_PREFETCH" default:"1"`
}

// SecurityConfig holds API authentication settings.
type SecurityConfig struct {
	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
