package source

import (
	"context"
	"fmt"

	"migration-guard/internal/config"
	"migration-guard/internal/logging"
)

// NewDataSource builds the configured relational data source
func NewDataSource(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (DataSource, error) {
	switch cfg.Driver {
	case "", "mysql":
		return NewMySQLDataSource(ctx, cfg, logger)
	case "memory":
		return NewMemoryDataSource(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// NewIdentityProvider builds the configured identity provider
func NewIdentityProvider(cfg config.IdentityConfig, logger *logging.Logger) (IdentityProvider, error) {
	switch cfg.Provider {
	case "", "http":
		return NewHTTPIdentityProvider(cfg, logger)
	case "memory":
		return NewMemoryIdentityProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported identity provider: %s", cfg.Provider)
	}
}

// NewObjectStore builds the configured object storage provider
func NewObjectStore(ctx context.Context, cfg config.ObjectStorageConfig) (ObjectStore, error) {
	switch cfg.Provider {
	case "", "local":
		if cfg.Local == nil {
			return nil, fmt.Errorf("local object storage configuration is required")
		}
		return NewLocalObjectStore(cfg.Local.BasePath)
	case "s3":
		return NewS3ObjectStore(cfg.S3)
	case "azure":
		return NewAzureObjectStore(cfg.Azure)
	case "gcs":
		return NewGCSObjectStore(ctx, cfg.GCS)
	case "memory":
		return NewMemoryObjectStore(), nil
	default:
		return nil, fmt.Errorf("unsupported object storage provider: %s", cfg.Provider)
	}
}
