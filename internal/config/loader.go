// Package config loads the bridge configuration from YAML and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jittakal/kafbridge/internal/config/dto"
	"github.com/jittakal/kafbridge/internal/encoder"
	pkgencoder "github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/spf13/viper"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Only expand values containing a ${...} pattern
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "kafbridge")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Kafka defaults
	l.v.SetDefault("kafka.client", "sarama")
	l.v.SetDefault("kafka.client_id", "kafbridge")
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.dlq.enabled", false)
	l.v.SetDefault("kafka.dlq.topic_suffix", ".dlq")
	l.v.SetDefault("kafka.dlq.max_retries", 3)

	// Offsets defaults
	l.v.SetDefault("offsets.partition_change_policy", "strict")
	l.v.SetDefault("offsets.allow_empty_segments", false)
	l.v.SetDefault("offsets.skip_expired", false)
	l.v.SetDefault("offsets.max_messages_per_partition", 0)

	// Materialize defaults
	l.v.SetDefault("materialize.max_rejection_ratio", 1.0)
	l.v.SetDefault("materialize.read_timeout_seconds", 300)

	// Metastore defaults
	l.v.SetDefault("metastore.backend", "file")
	l.v.SetDefault("metastore.file.dir", "./data/metastore")
	l.v.SetDefault("metastore.etcd.prefix", "/kafbridge")
	l.v.SetDefault("metastore.etcd.dial_timeout_seconds", 5)
	l.v.SetDefault("metastore.etcd.lease_ttl_seconds", 30)

	// Storage defaults
	l.v.SetDefault("storage.backend", "file")
	l.v.SetDefault("storage.format", "delimited")
	l.v.SetDefault("storage.delimiter", ",")
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", true)

	// Chunk defaults
	l.v.SetDefault("file_rotation.max_records_per_file", 100000)

	// Parquet defaults
	l.v.SetDefault("parquet.compression", "snappy")

	// Processing defaults
	l.v.SetDefault("processing.buffer_size_mb", 64)
	l.v.SetDefault("processing.worker_pool_size", 4)

	// Retry defaults
	l.v.SetDefault("retry.enabled", true)
	l.v.SetDefault("retry.max_attempts", 5)
	l.v.SetDefault("retry.initial_backoff_ms", 100)
	l.v.SetDefault("retry.max_backoff_ms", 30000)
	l.v.SetDefault("retry.backoff_multiplier", 2.0)
	l.v.SetDefault("retry.jitter", true)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	// Kafka validation
	if len(config.Kafka.BootstrapServers) == 0 {
		return errors.New("kafka.bootstrap_servers is required")
	}
	switch config.Kafka.Client {
	case "sarama", "kafka-go":
	default:
		return fmt.Errorf("unsupported kafka client: %s", config.Kafka.Client)
	}

	// Table validation
	if len(config.Tables) == 0 {
		return errors.New("tables is required")
	}
	names := make(map[string]struct{}, len(config.Tables))
	for i := range config.Tables {
		table := &config.Tables[i]
		if err := table.Validate(); err != nil {
			return err
		}
		if _, dup := names[table.Name]; dup {
			return fmt.Errorf("duplicate table: %s", table.Name)
		}
		names[table.Name] = struct{}{}
	}

	// Offsets validation
	switch config.Offsets.PartitionChangePolicy {
	case "strict", "allow-added":
	default:
		return fmt.Errorf("unsupported partition change policy: %s", config.Offsets.PartitionChangePolicy)
	}
	if config.Offsets.MaxMessagesPerPartition < 0 {
		return errors.New("offsets.max_messages_per_partition must not be negative")
	}

	// Materialize validation
	if r := config.Materialize.MaxRejectionRatio; r < 0 || r > 1 {
		return fmt.Errorf("materialize.max_rejection_ratio must be within [0,1], got %v", r)
	}

	// Metastore validation
	switch config.Metastore.Backend {
	case "memory":
	case "file":
		if config.Metastore.File.Dir == "" {
			return errors.New("metastore.file.dir is required for file backend")
		}
	case "etcd":
		if err := config.Metastore.Etcd.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported metastore backend: %s", config.Metastore.Backend)
	}

	// Storage validation
	switch config.Storage.Backend {
	case "s3":
		if config.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for S3 backend")
		}
		if config.Storage.S3.Region == "" {
			return errors.New("storage.s3.region is required for S3 backend")
		}
	case "azure":
		if config.Storage.Azure.AccountName == "" {
			return errors.New("storage.azure.account_name is required for Azure backend")
		}
		if config.Storage.Azure.Container == "" {
			return errors.New("storage.azure.container is required for Azure backend")
		}
	case "gcs":
		if config.Storage.GCS.Bucket == "" {
			return errors.New("storage.gcs.bucket is required for GCS backend")
		}
	case "file":
		if config.Storage.File.BasePath == "" {
			return errors.New("storage.file.base_path is required for file backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}

	// Format validation
	format := pkgencoder.FileFormat(config.Storage.Format)
	if !slices.Contains(encoder.SupportedFormats(), format) {
		return fmt.Errorf("unsupported storage format: %s", config.Storage.Format)
	}
	compression := config.Storage.Compression
	if compression == "" && format == pkgencoder.FormatParquet {
		compression = config.Parquet.Compression
	}
	if compression != "" && !slices.Contains(encoder.SupportedCompressions(format), compression) {
		return fmt.Errorf("unsupported %s compression: %s", format, compression)
	}

	if config.FileRotation.MaxRecordsPerFile <= 0 {
		return fmt.Errorf("invalid file_rotation.max_records_per_file: %d", config.FileRotation.MaxRecordsPerFile)
	}
	if config.Processing.WorkerPoolSize <= 0 {
		return fmt.Errorf("invalid processing.worker_pool_size: %d", config.Processing.WorkerPoolSize)
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}
