// Package backup produces three-part snapshots of a migration source: the
// relational tables, the identity provider users and every object storage
// bucket. Each part is checksummed and described by a metadata document.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/integrity"
	"migration-guard/internal/keylock"
	"migration-guard/internal/logging"
	"migration-guard/internal/source"
)

var backupIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Options configure an Engine
type Options struct {
	RootDir             string
	Codec               CodecInfo
	Passphrase          []byte
	MaxItemFailureRatio float64
	DownloadConcurrency int
	// ProfileTable is copied into the users artifact when the table exists
	ProfileTable string
	// TableOrder is the fallback dependency order
	TableOrder []string
	Locks      *keylock.Locker
	Observer   Observer
	Retry      *apperrors.RetryHandler
}

// OptionsFromConfig maps the application configuration onto engine options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RootDir: cfg.Backup.RootDir,
		Codec: CodecInfo{
			Compression: CompressionType(cfg.Backup.Compression.Algorithm),
			Level:       cfg.Backup.Compression.Level,
			Encrypted:   cfg.Backup.Encryption.Enabled,
		},
		Passphrase:          cfg.Backup.Encryption.Key(),
		MaxItemFailureRatio: cfg.Backup.MaxItemFailureRatio,
		DownloadConcurrency: cfg.Backup.DownloadConcurrency,
		ProfileTable:        cfg.Backup.ProfileTable,
		TableOrder:          cfg.Database.TableOrder,
	}
}

// Engine creates, lists, validates and deletes backups under a root directory
type Engine struct {
	opts     Options
	codec    *Codec
	ds       source.DataSource
	identity source.IdentityProvider
	objects  source.ObjectStore
	logger   *logging.Logger
	locks    *keylock.Locker
	observer Observer
	retry    *apperrors.RetryHandler
	now      func() time.Time
}

// NewEngine validates collaborators and prepares the backup root
func NewEngine(opts Options, ds source.DataSource, identity source.IdentityProvider, objects source.ObjectStore, logger *logging.Logger) (*Engine, error) {
	var missing []string
	if ds == nil {
		missing = append(missing, "data source")
	}
	if identity == nil {
		missing = append(missing, "identity provider")
	}
	if objects == nil {
		missing = append(missing, "object store")
	}
	if opts.RootDir == "" {
		missing = append(missing, "backup.root_dir")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewConfigurationError("backup engine cannot initialize", missing...)
	}

	codec, err := NewCodec(opts.Codec, opts.Passphrase)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "invalid backup codec", err)
	}

	if err := os.MkdirAll(opts.RootDir, 0750); err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to create backup root %s", opts.RootDir), err)
	}

	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if opts.DownloadConcurrency <= 0 {
		opts.DownloadConcurrency = 4
	}
	if opts.MaxItemFailureRatio < 0 {
		opts.MaxItemFailureRatio = 0
	}

	e := &Engine{
		opts:     opts,
		codec:    codec,
		ds:       ds,
		identity: identity,
		objects:  objects,
		logger:   logger,
		locks:    opts.Locks,
		observer: opts.Observer,
		retry:    opts.Retry,
		now:      time.Now,
	}
	if e.locks == nil {
		e.locks = keylock.New()
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.retry == nil {
		e.retry = apperrors.NewRetryHandler(apperrors.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Multiplier:  2.0,
		})
	}
	return e, nil
}

// RootDir returns the directory holding one subdirectory per backup
func (e *Engine) RootDir() string {
	return e.opts.RootDir
}

// Locks returns the per-backup locker shared with the rollback engine
func (e *Engine) Locks() *keylock.Locker {
	return e.locks
}

// SetObserver replaces the progress observer
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.observer = o
}

// Dir returns the directory of a backup id, rejecting ids that would escape the root
func (e *Engine) Dir(backupID string) (string, error) {
	if !backupIDPattern.MatchString(backupID) || strings.Contains(backupID, "..") || backupID == RollbacksDir {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation, fmt.Sprintf("invalid backup id %q", backupID), nil)
	}
	return filepath.Join(e.opts.RootDir, backupID), nil
}

// GenerateBackupID returns a sortable unique id
func GenerateBackupID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	shortUUID := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("backup-%s-%s", timestamp, shortUUID)
}

// CreateCompleteBackup runs the database, identity and storage phases in
// order, validates the written artifacts and persists metadata. Item-level
// failures are skipped and counted. A failed component or failed validation
// yields a FAILED backup whose metadata is still written, and a *BackupError.
func (e *Engine) CreateCompleteBackup(ctx context.Context, description string) (*CompleteBackupResult, error) {
	start := e.now()
	backupID := GenerateBackupID()
	dir, err := e.Dir(backupID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(dir, StorageDir), 0750); err != nil {
		return nil, NewStorageError("failed to create backup directory", err).WithContext("backup_id", backupID)
	}

	result := &CompleteBackupResult{
		BackupID:    backupID,
		Timestamp:   start.UTC(),
		Version:     FormatVersion,
		Description: description,
		Status:      StatusInProgress,
		Codec:       e.codec.Info(),
		Path:        dir,
	}

	e.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"backup_id":   backupID,
		"description": description,
	}).Info("Starting complete backup")

	phaseStart := e.now()
	result.Database = e.backupDatabase(ctx, backupID, dir)
	e.logPhase(backupID, "database", result.Database.ComponentResult, phaseStart)

	phaseStart = e.now()
	result.Identity = e.backupIdentity(ctx, backupID, dir)
	e.logPhase(backupID, "identity", result.Identity.ComponentResult, phaseStart)

	phaseStart = e.now()
	result.Storage = e.backupStorage(ctx, backupID, dir)
	e.logPhase(backupID, "storage", result.Storage.ComponentResult, phaseStart)

	var failures []string
	for _, c := range []struct {
		name string
		res  ComponentResult
	}{
		{"database", result.Database.ComponentResult},
		{"identity", result.Identity.ComponentResult},
		{"storage", result.Storage.ComponentResult},
	} {
		if c.res.Failed() {
			failures = append(failures, fmt.Sprintf("%s component failed: %s", c.name, c.res.Error))
		}
	}

	var backupErr *BackupError
	if len(failures) > 0 {
		backupErr = NewComponentError(backupID, failures)
	} else if validationErrs := e.checkArtifacts(dir, e.codec, nil); len(validationErrs) > 0 {
		result.ValidationErrs = validationErrs
		backupErr = NewValidationError(backupID, validationErrs)
	}

	result.TotalSize = result.Database.Size + result.Identity.Size + result.Storage.Size
	result.OverallChecksum = integrity.Combine([]string{
		result.Database.Checksum,
		result.Identity.Checksum,
		result.Storage.Checksum,
	})
	result.Duration = e.now().Sub(start)
	if backupErr != nil {
		result.Status = StatusFailed
	} else {
		result.Status = StatusCompleted
	}

	if err := e.writeMetadata(dir, result); err != nil {
		return result, NewStorageError("failed to persist backup metadata", err).WithContext("backup_id", backupID)
	}

	var logErr error
	if backupErr != nil {
		logErr = backupErr
	}
	e.logger.LogBackupPhase(backupID, "complete", string(result.Status), result.TotalSize, result.Duration, logErr)

	if backupErr != nil {
		return result, backupErr
	}
	return result, nil
}

func (e *Engine) logPhase(backupID, phase string, res ComponentResult, start time.Time) {
	var err error
	if res.Failed() {
		err = fmt.Errorf("%s", res.Error)
	}
	e.logger.LogBackupPhase(backupID, phase, string(res.Status), res.Size, e.now().Sub(start), err)
}

func (e *Engine) writeMetadata(dir string, result *CompleteBackupResult) error {
	meta := Metadata{
		BackupID:        result.BackupID,
		Timestamp:       result.Timestamp,
		Version:         result.Version,
		Description:     result.Description,
		Status:          result.Status,
		TotalSize:       result.TotalSize,
		OverallChecksum: result.OverallChecksum,
		Codec:           result.Codec,
		Database:        result.Database,
		Identity:        result.Identity,
		Storage:         result.Storage,
		Duration:        result.Duration,
	}
	return writeJSON(filepath.Join(dir, MetadataFile), meta)
}

// exceedsFailureRatio reports whether skipped items are above the tolerated share
func (e *Engine) exceedsFailureRatio(res ComponentResult) bool {
	if res.SkippedCount == 0 || res.AttemptedItems == 0 {
		return false
	}
	return float64(res.SkippedCount)/float64(res.AttemptedItems) > e.opts.MaxItemFailureRatio
}

func (e *Engine) skip(res *ComponentResult, component, item string, err error) {
	res.SkippedCount++
	res.SkippedItems = append(res.SkippedItems, item)

	e.logger.WithFields(map[string]interface{}{
		logging.FieldOperation:   component + "_backup",
		logging.FieldRemediation: []string{"inspect the source item and re-run the backup"},
		"item":                   item,
		"error":                  err.Error(),
	}).Warn("Skipping item that could not be backed up")
	e.observer.ItemFailed(component, item, err)
}

func fail(res *ComponentResult, err error) {
	res.Status = StatusFailed
	res.Error = err.Error()
}
