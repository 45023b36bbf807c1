package dto

import (
	"fmt"
	"time"

	"github.com/jittakal/kafbridge/pkg/segment"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tables        []TableConfig       `mapstructure:"tables"`
	Offsets       OffsetsConfig       `mapstructure:"offsets"`
	Materialize   MaterializeConfig   `mapstructure:"materialize"`
	Metastore     MetastoreConfig     `mapstructure:"metastore"`
	Storage       StorageConfig       `mapstructure:"storage"`
	FileRotation  FileRotationConfig  `mapstructure:"file_rotation"`
	Parquet       ParquetConfig       `mapstructure:"parquet"`
	Processing    ProcessingConfig    `mapstructure:"processing"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string  `mapstructure:"bootstrap_servers"`
	Client           string    `mapstructure:"client"`
	ClientID         string    `mapstructure:"client_id"`
	SecurityProtocol string    `mapstructure:"security_protocol"`
	SASLMechanism    string    `mapstructure:"sasl_mechanism"`
	SASLUsername     string    `mapstructure:"sasl_username"`
	SASLPassword     string    `mapstructure:"sasl_password"`
	AWSRegion        string    `mapstructure:"aws_region"`
	TLS              TLSConfig `mapstructure:"tls"`
	DLQ              DLQConfig `mapstructure:"dlq"`
}

// TLSConfig contains broker TLS settings
type TLSConfig struct {
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// TableConfig describes one flat table fed by a topic
type TableConfig struct {
	Name    string         `mapstructure:"name"`
	Cube    string         `mapstructure:"cube"`
	Topic   string         `mapstructure:"topic"`
	Parser  ParserConfig   `mapstructure:"parser"`
	Columns []ColumnConfig `mapstructure:"columns"`
}

// ParserConfig selects the record parser of a table
type ParserConfig struct {
	Name       string            `mapstructure:"name"`
	Properties map[string]string `mapstructure:"properties"`
}

// ColumnConfig is one flat table column
type ColumnConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

// Schema returns the table columns as a segment schema.
func (t *TableConfig) Schema() segment.Schema {
	schema := make(segment.Schema, len(t.Columns))
	for i, c := range t.Columns {
		schema[i] = segment.ColumnRef{Name: c.Name, Type: c.Type}
	}
	return schema
}

// CubeName returns the cube of the table, defaulting to the table name.
func (t *TableConfig) CubeName() string {
	if t.Cube != "" {
		return t.Cube
	}
	return t.Name
}

// OffsetsConfig contains offset seeking settings
type OffsetsConfig struct {
	PartitionChangePolicy   string `mapstructure:"partition_change_policy"`
	AllowEmptySegments      bool   `mapstructure:"allow_empty_segments"`
	SkipExpired             bool   `mapstructure:"skip_expired"`
	MaxMessagesPerPartition int64  `mapstructure:"max_messages_per_partition"`
}

// MaterializeConfig contains flat table materialization settings
type MaterializeConfig struct {
	MaxRejectionRatio  float64 `mapstructure:"max_rejection_ratio"`
	ReadTimeoutSeconds int     `mapstructure:"read_timeout_seconds"`
}

// ReadTimeout returns the per-partition read timeout.
func (c *MaterializeConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// MetastoreConfig contains segment metadata store settings
type MetastoreConfig struct {
	Backend string              `mapstructure:"backend"`
	File    FileMetastoreConfig `mapstructure:"file"`
	Etcd    EtcdConfig          `mapstructure:"etcd"`
}

// FileMetastoreConfig contains local metadata store settings
type FileMetastoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// EtcdConfig contains etcd metadata store settings
type EtcdConfig struct {
	Endpoints          []string `mapstructure:"endpoints"`
	Prefix             string   `mapstructure:"prefix"`
	Username           string   `mapstructure:"username"`
	Password           string   `mapstructure:"password"`
	DialTimeoutSeconds int      `mapstructure:"dial_timeout_seconds"`
	LeaseTTLSeconds    int      `mapstructure:"lease_ttl_seconds"`
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend     string      `mapstructure:"backend"`
	Format      string      `mapstructure:"format"`
	Compression string      `mapstructure:"compression"`
	Delimiter   string      `mapstructure:"delimiter"`
	S3          S3Config    `mapstructure:"s3"`
	Azure       AzureConfig `mapstructure:"azure"`
	GCS         GCSConfig   `mapstructure:"gcs"`
	File        FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName        string `mapstructure:"account_name"`
	Container          string `mapstructure:"container"`
	BasePath           string `mapstructure:"base_path"`
	UseManagedIdentity bool   `mapstructure:"use_managed_identity"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// FileRotationConfig contains staged chunk settings
type FileRotationConfig struct {
	MaxRecordsPerFile int `mapstructure:"max_records_per_file"`
}

// ParquetConfig contains Parquet format settings
type ParquetConfig struct {
	Compression string `mapstructure:"compression"`
}

// ProcessingConfig contains processing settings
type ProcessingConfig struct {
	BufferSizeMB   int `mapstructure:"buffer_size_mb"`
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
}

// RetryConfig contains retry settings
type RetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialBackoffMS  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	Jitter            bool    `mapstructure:"jitter"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// Table returns the table configuration with name.
func (c *ApplicationConfig) Table(name string) (*TableConfig, error) {
	for i := range c.Tables {
		if c.Tables[i].Name == name {
			return &c.Tables[i], nil
		}
	}
	return nil, fmt.Errorf("table %q is not configured", name)
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}
	for i := range c.Tables {
		if err := c.Tables[i].Validate(); err != nil {
			return err
		}
	}
	if c.Storage.Backend == "" {
		return fmt.Errorf("storage backend is required")
	}
	return nil
}

// Validate validates a table configuration.
func (t *TableConfig) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if t.Topic == "" {
		return fmt.Errorf("table %s: topic is required", t.Name)
	}
	if t.Parser.Name == "" {
		return fmt.Errorf("table %s: parser name is required", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: at least one column is required", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, col := range t.Columns {
		if col.Name == "" {
			return fmt.Errorf("table %s: column name is required", t.Name)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}

// Validate validates etcd configuration.
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd endpoints are required")
	}
	return nil
}
