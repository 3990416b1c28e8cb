package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "migration-guard/internal/errors"
)

// Config is the complete migration-guard configuration
type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Backup        BackupConfig        `mapstructure:"backup" yaml:"backup"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint" yaml:"checkpoint"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Identity      IdentityConfig      `mapstructure:"identity" yaml:"identity"`
	ObjectStorage ObjectStorageConfig `mapstructure:"object_storage" yaml:"object_storage"`
	Store         StoreConfig         `mapstructure:"store" yaml:"store"`
	Monitor       MonitorConfig       `mapstructure:"monitor" yaml:"monitor"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
}

// LoggingConfig controls the logrus logger and the structured log sink
type LoggingConfig struct {
	Level        string `mapstructure:"level" yaml:"level"`   // quiet, normal, verbose, debug
	Format       string `mapstructure:"format" yaml:"format"` // text or json
	File         string `mapstructure:"file" yaml:"file"`
	SinkPath     string `mapstructure:"sink_path" yaml:"sink_path"` // empty keeps the sink in memory
	SinkCapacity int    `mapstructure:"sink_capacity" yaml:"sink_capacity"`
}

// BackupConfig controls where and how backup artifacts are written
type BackupConfig struct {
	RootDir             string            `mapstructure:"root_dir" yaml:"root_dir"`
	Compression         CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Encryption          EncryptionConfig  `mapstructure:"encryption" yaml:"encryption"`
	MaxItemFailureRatio float64           `mapstructure:"max_item_failure_ratio" yaml:"max_item_failure_ratio"`
	DownloadConcurrency int               `mapstructure:"download_concurrency" yaml:"download_concurrency"`
	ProfileTable        string            `mapstructure:"profile_table" yaml:"profile_table"`
}

// CompressionConfig selects the artifact compression algorithm
type CompressionConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"` // none, gzip, lz4, zstd
	Level     int    `mapstructure:"level" yaml:"level"`
}

// EncryptionConfig enables AES-GCM artifact encryption
type EncryptionConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	KeyEnvVar string `mapstructure:"key_env_var" yaml:"key_env_var"`
}

// Key reads the encryption passphrase from the configured environment variable
func (ec *EncryptionConfig) Key() []byte {
	if ec.KeyEnvVar == "" {
		return nil
	}
	return []byte(os.Getenv(ec.KeyEnvVar))
}

// CheckpointConfig controls checkpoint persistence and drift checks
type CheckpointConfig struct {
	Dir            string   `mapstructure:"dir" yaml:"dir"`
	CriticalTables []string `mapstructure:"critical_tables" yaml:"critical_tables"`
}

// DatabaseConfig holds the relational source connection
type DatabaseConfig struct {
	Driver     string        `mapstructure:"driver" yaml:"driver"` // mysql or memory
	Host       string        `mapstructure:"host" yaml:"host"`
	Port       int           `mapstructure:"port" yaml:"port"`
	Username   string        `mapstructure:"username" yaml:"username"`
	Password   string        `mapstructure:"password" yaml:"password"`
	Database   string        `mapstructure:"database" yaml:"database"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TableOrder []string      `mapstructure:"table_order" yaml:"table_order"`
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size"`
}

// DSN returns the Data Source Name for MySQL connection
func (dc *DatabaseConfig) DSN() string {
	timeout := dc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s&parseTime=true&multiStatements=false",
		dc.Username, dc.Password, dc.Host, dc.Port, dc.Database, timeout)
}

// IdentityConfig points at the identity provider admin API
type IdentityConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider"` // http or memory
	URL        string        `mapstructure:"url" yaml:"url"`
	ServiceKey string        `mapstructure:"service_key" yaml:"service_key"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PageSize   int           `mapstructure:"page_size" yaml:"page_size"`
}

// ObjectStorageConfig selects the live object storage provider
type ObjectStorageConfig struct {
	Provider string       `mapstructure:"provider" yaml:"provider"` // local, s3, azure, gcs, memory
	Local    *LocalConfig `mapstructure:"local,omitempty" yaml:"local,omitempty"`
	S3       *S3Config    `mapstructure:"s3,omitempty" yaml:"s3,omitempty"`
	Azure    *AzureConfig `mapstructure:"azure,omitempty" yaml:"azure,omitempty"`
	GCS      *GCSConfig   `mapstructure:"gcs,omitempty" yaml:"gcs,omitempty"`
}

// LocalConfig treats each subdirectory of BasePath as a bucket
type LocalConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
}

// AzureConfig for Azure Blob Storage; containers are buckets
type AzureConfig struct {
	AccountName string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey  string `mapstructure:"account_key" yaml:"account_key"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// StoreConfig controls the badger record store
type StoreConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`
}

// MonitorConfig controls metrics sampling and alert evaluation
type MonitorConfig struct {
	SnapshotInterval   time.Duration  `mapstructure:"snapshot_interval" yaml:"snapshot_interval"`
	EvaluationInterval time.Duration  `mapstructure:"evaluation_interval" yaml:"evaluation_interval"`
	HistorySize        int            `mapstructure:"history_size" yaml:"history_size"`
	MetricsAddr        string         `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Thresholds         RuleThresholds `mapstructure:"thresholds" yaml:"thresholds"`
}

// RuleThresholds parameterize the built-in alert rules
type RuleThresholds struct {
	ErrorCount           int64         `mapstructure:"error_count" yaml:"error_count"`
	ErrorRatio           float64       `mapstructure:"error_ratio" yaml:"error_ratio"`
	LowThroughput        float64       `mapstructure:"low_throughput" yaml:"low_throughput"`
	LowThroughputRecords int64         `mapstructure:"low_throughput_records" yaml:"low_throughput_records"`
	StallAfter           time.Duration `mapstructure:"stall_after" yaml:"stall_after"`
	HeapBytes            uint64        `mapstructure:"heap_bytes" yaml:"heap_bytes"`
	LongPhase            time.Duration `mapstructure:"long_phase" yaml:"long_phase"`
	WarningCount         int64         `mapstructure:"warning_count" yaml:"warning_count"`
}

// NotificationsConfig configures alert delivery channels
type NotificationsConfig struct {
	Console ChannelConfig        `mapstructure:"console" yaml:"console"`
	File    FileChannelConfig    `mapstructure:"file" yaml:"file"`
	Email   EmailChannelConfig   `mapstructure:"email" yaml:"email"`
	Webhook WebhookChannelConfig `mapstructure:"webhook" yaml:"webhook"`
	Slack   SlackChannelConfig   `mapstructure:"slack" yaml:"slack"`
}

// ChannelConfig is shared by every notification channel
type ChannelConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	Severities []string `mapstructure:"severities" yaml:"severities"`
}

// FileChannelConfig appends alerts to a file
type FileChannelConfig struct {
	ChannelConfig `mapstructure:",squash" yaml:",inline"`
	Path          string `mapstructure:"path" yaml:"path"`
}

// EmailChannelConfig sends alerts through SMTP
type EmailChannelConfig struct {
	ChannelConfig `mapstructure:",squash" yaml:",inline"`
	SMTPHost      string   `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort      int      `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username      string   `mapstructure:"username" yaml:"username"`
	Password      string   `mapstructure:"password" yaml:"password"`
	From          string   `mapstructure:"from" yaml:"from"`
	To            []string `mapstructure:"to" yaml:"to"`
}

// WebhookChannelConfig posts alerts as JSON
type WebhookChannelConfig struct {
	ChannelConfig `mapstructure:",squash" yaml:",inline"`
	URL           string            `mapstructure:"url" yaml:"url"`
	Headers       map[string]string `mapstructure:"headers" yaml:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// SlackChannelConfig posts alerts to a Slack incoming webhook
type SlackChannelConfig struct {
	ChannelConfig `mapstructure:",squash" yaml:",inline"`
	WebhookURL    string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel       string `mapstructure:"channel" yaml:"channel"`
	Username      string `mapstructure:"username" yaml:"username"`
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "normal"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.SinkCapacity == 0 {
		c.Logging.SinkCapacity = 5000
	}

	c.Backup.SetDefaults()

	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "./migration-data/checkpoints"
	}

	c.Database.SetDefaults()
	c.Identity.SetDefaults()
	c.ObjectStorage.SetDefaults()

	if c.Store.Path == "" && !c.Store.InMemory {
		c.Store.Path = "./migration-data/store"
	}

	c.Monitor.SetDefaults()

	if len(c.Notifications.Console.Severities) == 0 {
		c.Notifications.Console.Severities = []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}
	}
	if c.Notifications.File.Path == "" {
		c.Notifications.File.Path = "./migration-data/alerts.log"
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}
	if c.Notifications.Webhook.Timeout == 0 {
		c.Notifications.Webhook.Timeout = 10 * time.Second
	}
}

// SetDefaults sets default values for backup configuration
func (bc *BackupConfig) SetDefaults() {
	if bc.RootDir == "" {
		bc.RootDir = "./migration-data/backups"
	}
	if bc.Compression.Algorithm == "" {
		bc.Compression.Algorithm = "none"
	}
	if bc.Compression.Level == 0 {
		switch bc.Compression.Algorithm {
		case "gzip":
			bc.Compression.Level = 6
		case "lz4":
			bc.Compression.Level = 1
		case "zstd":
			bc.Compression.Level = 3
		}
	}
	if bc.Encryption.Enabled && bc.Encryption.KeyEnvVar == "" {
		bc.Encryption.KeyEnvVar = "MIGRATION_GUARD_ENCRYPTION_KEY"
	}
	if bc.MaxItemFailureRatio == 0 {
		bc.MaxItemFailureRatio = 0.1
	}
	if bc.DownloadConcurrency == 0 {
		bc.DownloadConcurrency = 4
	}
}

// SetDefaults sets default values for the database connection
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Driver == "" {
		dc.Driver = "mysql"
	}
	if dc.Port == 0 {
		dc.Port = 3306
	}
	if dc.Timeout == 0 {
		dc.Timeout = 30 * time.Second
	}
	if dc.BatchSize == 0 {
		dc.BatchSize = 100
	}
}

// SetDefaults sets default values for the identity provider
func (ic *IdentityConfig) SetDefaults() {
	if ic.Provider == "" {
		ic.Provider = "http"
	}
	if ic.Timeout == 0 {
		ic.Timeout = 30 * time.Second
	}
	if ic.PageSize == 0 {
		ic.PageSize = 1000
	}
}

// SetDefaults sets default values for object storage configuration
func (sc *ObjectStorageConfig) SetDefaults() {
	if sc.Provider == "" {
		sc.Provider = "local"
	}

	switch sc.Provider {
	case "local":
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		if sc.Local.BasePath == "" {
			sc.Local.BasePath = "./storage"
		}
	case "s3":
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		if sc.S3.Region == "" {
			sc.S3.Region = "us-east-1"
		}
	case "azure":
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
	case "gcs":
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		if sc.GCS.CredentialsPath == "" {
			sc.GCS.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}
	}
}

// SetDefaults sets default values for monitoring
func (mc *MonitorConfig) SetDefaults() {
	if mc.SnapshotInterval == 0 {
		mc.SnapshotInterval = 5 * time.Second
	}
	if mc.EvaluationInterval == 0 {
		mc.EvaluationInterval = 30 * time.Second
	}
	if mc.HistorySize == 0 {
		mc.HistorySize = 720
	}

	t := &mc.Thresholds
	if t.ErrorCount == 0 {
		t.ErrorCount = 10
	}
	if t.ErrorRatio == 0 {
		t.ErrorRatio = 0.05
	}
	if t.LowThroughput == 0 {
		t.LowThroughput = 10
	}
	if t.LowThroughputRecords == 0 {
		t.LowThroughputRecords = 1000
	}
	if t.StallAfter == 0 {
		t.StallAfter = 5 * time.Minute
	}
	if t.HeapBytes == 0 {
		t.HeapBytes = 1 << 30
	}
	if t.LongPhase == 0 {
		t.LongPhase = 2 * time.Hour
	}
	if t.WarningCount == 0 {
		t.WarningCount = 50
	}
}

// Validate collects every missing credential or invalid value into one
// configuration error
func (c *Config) Validate() error {
	var failures []string

	switch c.Logging.Level {
	case "quiet", "normal", "verbose", "debug":
	default:
		failures = append(failures, fmt.Sprintf("logging.level: invalid value %q", c.Logging.Level))
	}

	failures = append(failures, c.Backup.validate()...)
	failures = append(failures, c.Database.validate()...)
	failures = append(failures, c.Identity.validate()...)
	failures = append(failures, c.ObjectStorage.validate()...)
	failures = append(failures, c.Notifications.validate()...)

	if c.Store.Path == "" && !c.Store.InMemory {
		failures = append(failures, "store.path is required unless store.in_memory is set")
	}

	if len(failures) > 0 {
		return apperrors.NewConfigurationError("invalid configuration", failures...)
	}
	return nil
}

func (bc *BackupConfig) validate() []string {
	var failures []string

	if bc.RootDir == "" {
		failures = append(failures, "backup.root_dir is required")
	}

	switch bc.Compression.Algorithm {
	case "none":
	case "gzip":
		if bc.Compression.Level < 1 || bc.Compression.Level > 9 {
			failures = append(failures, "backup.compression.level: gzip level must be between 1 and 9")
		}
	case "lz4":
		if bc.Compression.Level < 1 || bc.Compression.Level > 12 {
			failures = append(failures, "backup.compression.level: lz4 level must be between 1 and 12")
		}
	case "zstd":
		if bc.Compression.Level < 1 || bc.Compression.Level > 22 {
			failures = append(failures, "backup.compression.level: zstd level must be between 1 and 22")
		}
	default:
		failures = append(failures, fmt.Sprintf("backup.compression.algorithm: invalid value %q", bc.Compression.Algorithm))
	}

	if bc.Encryption.Enabled && len(bc.Encryption.Key()) == 0 {
		failures = append(failures, fmt.Sprintf("backup.encryption: environment variable %s is empty", bc.Encryption.KeyEnvVar))
	}

	if bc.MaxItemFailureRatio < 0 || bc.MaxItemFailureRatio > 1 {
		failures = append(failures, "backup.max_item_failure_ratio must be between 0 and 1")
	}
	if bc.DownloadConcurrency < 1 {
		failures = append(failures, "backup.download_concurrency must be positive")
	}
	return failures
}

func (dc *DatabaseConfig) validate() []string {
	var failures []string

	switch dc.Driver {
	case "memory":
		return nil
	case "mysql":
	default:
		return []string{fmt.Sprintf("database.driver: invalid value %q", dc.Driver)}
	}

	if dc.Host == "" {
		failures = append(failures, "database.host is required")
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		failures = append(failures, "database.port must be between 1 and 65535")
	}
	if dc.Username == "" {
		failures = append(failures, "database.username is required")
	}
	if dc.Database == "" {
		failures = append(failures, "database.database is required")
	}
	if dc.BatchSize < 1 {
		failures = append(failures, "database.batch_size must be positive")
	}
	return failures
}

func (ic *IdentityConfig) validate() []string {
	var failures []string

	switch ic.Provider {
	case "memory":
		return nil
	case "http":
	default:
		return []string{fmt.Sprintf("identity.provider: invalid value %q", ic.Provider)}
	}

	if ic.URL == "" {
		failures = append(failures, "identity.url is required")
	}
	if ic.ServiceKey == "" {
		failures = append(failures, "identity.service_key is required")
	}
	return failures
}

func (sc *ObjectStorageConfig) validate() []string {
	switch sc.Provider {
	case "memory":
		return nil
	case "local":
		if sc.Local == nil || sc.Local.BasePath == "" {
			return []string{"object_storage.local.base_path is required"}
		}
	case "s3":
		if sc.S3 == nil {
			return []string{"object_storage.s3 configuration is required when provider is 's3'"}
		}
		var failures []string
		if sc.S3.Region == "" {
			failures = append(failures, "object_storage.s3.region is required")
		}
		if sc.S3.AccessKey == "" {
			failures = append(failures, "object_storage.s3.access_key is required")
		}
		if sc.S3.SecretKey == "" {
			failures = append(failures, "object_storage.s3.secret_key is required")
		}
		return failures
	case "azure":
		if sc.Azure == nil {
			return []string{"object_storage.azure configuration is required when provider is 'azure'"}
		}
		var failures []string
		if sc.Azure.AccountName == "" {
			failures = append(failures, "object_storage.azure.account_name is required")
		}
		if sc.Azure.AccountKey == "" {
			failures = append(failures, "object_storage.azure.account_key is required")
		}
		return failures
	case "gcs":
		if sc.GCS == nil || sc.GCS.ProjectID == "" {
			return []string{"object_storage.gcs.project_id is required"}
		}
	default:
		return []string{fmt.Sprintf("object_storage.provider: invalid value %q", sc.Provider)}
	}
	return nil
}

func (nc *NotificationsConfig) validate() []string {
	var failures []string

	check := func(name string, ch ChannelConfig) {
		for _, s := range ch.Severities {
			switch strings.ToUpper(s) {
			case "LOW", "MEDIUM", "HIGH", "CRITICAL":
			default:
				failures = append(failures, fmt.Sprintf("notifications.%s.severities: invalid severity %q", name, s))
			}
		}
	}

	check("console", nc.Console)
	check("file", nc.File.ChannelConfig)
	check("email", nc.Email.ChannelConfig)
	check("webhook", nc.Webhook.ChannelConfig)
	check("slack", nc.Slack.ChannelConfig)

	if nc.File.Enabled && nc.File.Path == "" {
		failures = append(failures, "notifications.file.path is required")
	}
	if nc.Email.Enabled {
		if nc.Email.SMTPHost == "" {
			failures = append(failures, "notifications.email.smtp_host is required")
		}
		if nc.Email.From == "" || len(nc.Email.To) == 0 {
			failures = append(failures, "notifications.email.from and notifications.email.to are required")
		}
	}
	if nc.Webhook.Enabled && nc.Webhook.URL == "" {
		failures = append(failures, "notifications.webhook.url is required")
	}
	if nc.Slack.Enabled && nc.Slack.WebhookURL == "" {
		failures = append(failures, "notifications.slack.webhook_url is required")
	}
	return failures
}
