package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/manifestgen/internal/errs"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result. Every
// missing or invalid setting is reported in a single E_CONFIG error.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), &missing); err != nil {
		return nil, errs.Wrap(errs.CodeConfig, fmt.Errorf("config load: %w", err))
	}

	problems := cfg.problems()
	for _, name := range missing {
		if msg := name + " is required"; !slices.Contains(problems, msg) {
			problems = append(problems, msg)
		}
	}
	if len(problems) > 0 {
		return nil, errs.Wrap(errs.CodeConfig, fmt.Errorf("config validation: %w", joinProblems(problems)))
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
// Unset required variables are appended to missing.
func loadStruct(v reflect.Value, missing *[]string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, missing); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		if value == "" {
			if required {
				*missing = append(*missing, envName)
				continue
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	if p := c.problems(); len(p) > 0 {
		return errs.Wrap(errs.CodeConfig, joinProblems(p))
	}
	return nil
}

func joinProblems(p []string) error {
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
}

func (c *Config) problems() []string {
	var failures []string

	// Stores
	required := []struct{ name, value string }{
		{"DDB_MANIFEST_TABLE_ARN", c.Stores.ManifestTableARN},
		{"DDB_CURATED_RECORDS_TABLE_ARN", c.Stores.CuratedRecordsTableARN},
		{"DDB_CURATED_RECORDS_INDEX_NAME", c.Stores.CuratedRecordsIndex},
		{"DDB_MANIFEST_INDEX_NAME", c.Stores.ManifestIndex},
		{"CURATED_BUCKET_NAME", c.Stores.CuratedBucket},
	}
	for _, r := range required {
		if r.value == "" {
			failures = append(failures, r.name+" is required")
		}
	}
	if c.Stores.ManifestTableARN != "" && c.Stores.ManifestTable() == "" {
		failures = append(failures, fmt.Sprintf("DDB_MANIFEST_TABLE_ARN (%q) has no table name", c.Stores.ManifestTableARN))
	}
	if c.Stores.CuratedRecordsTableARN != "" && c.Stores.CuratedRecordsTable() == "" {
		failures = append(failures, fmt.Sprintf("DDB_CURATED_RECORDS_TABLE_ARN (%q) has no table name", c.Stores.CuratedRecordsTableARN))
	}

	// Backends
	switch c.Backend.RecordStore {
	case RecordStoreDynamo, RecordStoreMemory:
	case RecordStorePostgres:
		if c.Database.URL == "" {
			failures = append(failures, "DATABASE_URL is required when RECORD_STORE=postgres")
		}
		if c.Database.MaxConns <= 0 {
			failures = append(failures, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			failures = append(failures, "DB_MIN_CONNS must be non-negative")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			failures = append(failures, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
	default:
		failures = append(failures, fmt.Sprintf("RECORD_STORE (%q) must be one of: dynamodb, postgres, memory", c.Backend.RecordStore))
	}

	switch c.Backend.BlobStore {
	case BlobStoreS3, BlobStoreLocal:
	default:
		failures = append(failures, fmt.Sprintf("BLOB_STORE (%q) must be one of: s3, local", c.Backend.BlobStore))
	}
	if (c.ObjectStore.AccessKeyID == "") != (c.ObjectStore.SecretAccessKey == "") {
		failures = append(failures, "S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	switch c.Backend.StatusSink {
	case StatusSinkLog:
	case StatusSinkNATS:
		if c.Status.NATSURL == "" {
			failures = append(failures, "NATS_URL is required when STATUS_SINK=nats")
		}
	default:
		failures = append(failures, fmt.Sprintf("STATUS_SINK (%q) must be one of: log, nats", c.Backend.StatusSink))
	}

	// Pipeline
	if c.Pipeline.MaxWorkers <= 0 {
		failures = append(failures, "MANIFEST_MAX_WORKERS must be positive")
	}
	if c.Pipeline.BatchTimeout <= 0 {
		failures = append(failures, "MANIFEST_BATCH_TIMEOUT must be positive")
	}

	// Queue
	if c.Queue.URL != "" {
		if c.Queue.Queue == "" {
			failures = append(failures, "MANIFEST_QUEUE is required when AMQP_URL is set")
		}
		if c.Queue.Prefetch <= 0 {
			failures = append(failures, "AMQP_PREFETCH must be positive")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		failures = append(failures, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		failures = append(failures, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		failures = append(failures, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Security
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		failures = append(failures, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		failures = append(failures, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		failures = append(failures, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	return failures
}

// String returns a safe string representation of the config for logging.
// Credentials and connection strings are masked.
func (c *Config) String() string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Stores: {ManifestTable: %q, CuratedRecordsTable: %q, Bucket: %q}, ",
		c.Stores.ManifestTable(), c.Stores.CuratedRecordsTable(), c.Stores.CuratedBucket)
	fmt.Fprintf(&b, "Backend: {RecordStore: %q, BlobStore: %q, StatusSink: %q}, ",
		c.Backend.RecordStore, c.Backend.BlobStore, c.Backend.StatusSink)
	fmt.Fprintf(&b, "ObjectStore: {Endpoint: %q, AccessKeyID: %q, SecretAccessKey: %q}, ",
		c.ObjectStore.Endpoint, mask(c.ObjectStore.AccessKeyID), mask(c.ObjectStore.SecretAccessKey))
	fmt.Fprintf(&b, "Database: {URL: %q, MaxConns: %d}, ", mask(c.Database.URL), c.Database.MaxConns)
	fmt.Fprintf(&b, "Pipeline: {MaxWorkers: %d, StagingRoot: %q}, ", c.Pipeline.MaxWorkers, c.Pipeline.StagingRoot)
	fmt.Fprintf(&b, "Queue: {URL: %q, Queue: %q}, ", mask(c.Queue.URL), c.Queue.Queue)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
