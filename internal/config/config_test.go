package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "migration-guard/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "normal", cfg.Logging.Level)
	assert.Equal(t, "none", cfg.Backup.Compression.Algorithm)
	assert.Equal(t, 0.1, cfg.Backup.MaxItemFailureRatio)
	assert.Equal(t, 4, cfg.Backup.DownloadConcurrency)
	assert.Equal(t, 100, cfg.Database.BatchSize)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "local", cfg.ObjectStorage.Provider)
	require.NotNil(t, cfg.ObjectStorage.Local)
	assert.Equal(t, 5*time.Second, cfg.Monitor.SnapshotInterval)
	assert.Equal(t, int64(10), cfg.Monitor.Thresholds.ErrorCount)
	assert.Equal(t, 0.05, cfg.Monitor.Thresholds.ErrorRatio)
}

func TestValidate_MissingCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ObjectStorage = ObjectStorageConfig{Provider: "s3"}
	cfg.ObjectStorage.SetDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Failures, "database.host is required")
	assert.Contains(t, appErr.Failures, "identity.url is required")
	assert.Contains(t, appErr.Failures, "identity.service_key is required")
	assert.Contains(t, appErr.Failures, "object_storage.s3.access_key is required")
	assert.Contains(t, appErr.Failures, "object_storage.s3.secret_key is required")
}

func TestValidate_MemoryCollaborators(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Driver = "memory"
	cfg.Identity.Provider = "memory"
	cfg.ObjectStorage.Provider = "memory"

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		failure string
	}{
		{
			name:    "unknown compression",
			mutate:  func(c *Config) { c.Backup.Compression.Algorithm = "brotli" },
			failure: `backup.compression.algorithm: invalid value "brotli"`,
		},
		{
			name: "zstd level out of range",
			mutate: func(c *Config) {
				c.Backup.Compression = CompressionConfig{Algorithm: "zstd", Level: 30}
			},
			failure: "backup.compression.level: zstd level must be between 1 and 22",
		},
		{
			name:    "failure ratio above one",
			mutate:  func(c *Config) { c.Backup.MaxItemFailureRatio = 1.5 },
			failure: "backup.max_item_failure_ratio must be between 0 and 1",
		},
		{
			name:    "bad severity",
			mutate:  func(c *Config) { c.Notifications.Console.Severities = []string{"URGENT"} },
			failure: `notifications.console.severities: invalid severity "URGENT"`,
		},
		{
			name: "webhook without url",
			mutate: func(c *Config) {
				c.Notifications.Webhook.Enabled = true
			},
			failure: "notifications.webhook.url is required",
		},
		{
			name: "encryption without key",
			mutate: func(c *Config) {
				c.Backup.Encryption = EncryptionConfig{Enabled: true, KeyEnvVar: "MIGRATION_GUARD_TEST_UNSET_KEY"}
			},
			failure: "backup.encryption: environment variable MIGRATION_GUARD_TEST_UNSET_KEY is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Database.Driver = "memory"
			cfg.Identity.Provider = "memory"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Contains(t, appErr.Failures, tt.failure)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	dc := DatabaseConfig{Host: "db", Port: 3307, Username: "app", Password: "pw", Database: "prod", Timeout: 10 * time.Second}
	assert.Equal(t, "app:pw@tcp(db:3307)/prod?timeout=10s&parseTime=true&multiStatements=false", dc.DSN())
}

func TestLoader_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "migration-guard.yaml")

	content := `
database:
  driver: mysql
  host: db.internal
  username: migrator
  database: app
  table_order: [users, orders, order_items]
identity:
  provider: memory
object_storage:
  provider: memory
backup:
  compression:
    algorithm: zstd
checkpoint:
  critical_tables: [orders]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("MIGRATION_GUARD_DATABASE_PORT", "3310")
	t.Setenv("MIGRATION_GUARD_MONITOR_SNAPSHOT_INTERVAL", "2s")

	loader := NewLoader()
	cfg, err := loader.Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, loader.ConfigFileUsed())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3310, cfg.Database.Port)
	assert.Equal(t, []string{"users", "orders", "order_items"}, cfg.Database.TableOrder)
	assert.Equal(t, "zstd", cfg.Backup.Compression.Algorithm)
	assert.Equal(t, 3, cfg.Backup.Compression.Level)
	assert.Equal(t, []string{"orders"}, cfg.Checkpoint.CriticalTables)
	assert.Equal(t, 2*time.Second, cfg.Monitor.SnapshotInterval)
}

func TestLoader_ValidationErrorStillReturnsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: verbose\n"), 0600))

	cfg, err := NewLoader().Load(path)
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "verbose", cfg.Logging.Level)
	assert.True(t, apperrors.GetErrorType(err) == apperrors.ErrorTypeConfiguration)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Database.Driver = "memory"
	cfg.Identity.Provider = "memory"
	cfg.Checkpoint.CriticalTables = []string{"orders", "payments"}
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Checkpoint.CriticalTables, loaded.Checkpoint.CriticalTables)
	assert.Equal(t, cfg.Monitor.Thresholds, loaded.Monitor.Thresholds)
}
