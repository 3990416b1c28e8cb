// Package rollback restores the live systems from a backup: tables are
// cleared in reverse dependency order and re-inserted forward, identity
// records are counted for manual restoration and storage objects are
// re-uploaded with overwrite semantics.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"migration-guard/internal/backup"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
	"migration-guard/internal/source"
)

const (
	// DefaultBatchSize bounds the rows sent in one insert request
	DefaultBatchSize = 100

	identityNote = "identity records cannot be written back through the admin API; " +
		"recreate the listed users manually or with the provider's import tooling"
)

// Options configure an Engine
type Options struct {
	BatchSize    int
	TableOrder   []string
	HistoryDir   string
	UploadRetry  *apperrors.RetryHandler
	SkipIdentity bool
}

// Engine restores backups produced by backup.Engine
type Engine struct {
	backups    *backup.Engine
	ds         source.DataSource
	objects    source.ObjectStore
	logger     *logging.Logger
	opts       Options
	historyDir string
	retry      *apperrors.RetryHandler
	now        func() time.Time
}

// NewEngine creates a rollback engine. Rollback records are written below
// the backup root unless opts.HistoryDir is set.
func NewEngine(backups *backup.Engine, ds source.DataSource, objects source.ObjectStore, logger *logging.Logger, opts Options) (*Engine, error) {
	var missing []string
	if backups == nil {
		missing = append(missing, "backup engine")
	}
	if ds == nil {
		missing = append(missing, "data source")
	}
	if objects == nil {
		missing = append(missing, "object store")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewConfigurationError("rollback engine cannot initialize", missing...)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	historyDir := opts.HistoryDir
	if historyDir == "" {
		historyDir = filepath.Join(backups.RootDir(), backup.RollbacksDir)
	}
	if err := os.MkdirAll(historyDir, 0750); err != nil {
		return nil, backup.NewStorageError("failed to create rollback history directory", err)
	}

	retry := opts.UploadRetry
	if retry == nil {
		retry = apperrors.NewRetryHandler(apperrors.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Multiplier:  2.0,
		})
	}

	return &Engine{
		backups:    backups,
		ds:         ds,
		objects:    objects,
		logger:     logger,
		opts:       opts,
		historyDir: historyDir,
		retry:      retry,
		now:        time.Now,
	}, nil
}

// GenerateRollbackID returns a sortable unique id
func GenerateRollbackID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	shortUUID := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("rollback-%s-%s", timestamp, shortUUID)
}

// ValidateBackupIntegrity delegates to the backup engine
func (e *Engine) ValidateBackupIntegrity(ctx context.Context, backupID string) (*backup.ValidationResult, error) {
	return e.backups.ValidateBackupIntegrity(ctx, backupID)
}

// RollbackToBackup restores every component of a backup. The backup is
// validated first and nothing live is touched when validation fails. The
// result is persisted whether or not the rollback succeeds. Database and
// storage phase failures, cancellation included, are returned as an error
// after persisting; single objects that fail to upload only make it partial.
func (e *Engine) RollbackToBackup(ctx context.Context, backupID string) (*Result, error) {
	unlock, err := e.backups.Locks().Lock(ctx, backupID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := e.now()
	result := &Result{
		RollbackID:    GenerateRollbackID(),
		BackupID:      backupID,
		Timestamp:     start.UTC(),
		OverallStatus: StatusInProgress,
		Database:      DatabaseRestore{ComponentResult: ComponentResult{Status: StatusPending}},
		Identity:      IdentityRestore{ComponentResult: ComponentResult{Status: StatusPending}},
		Storage:       StorageRestore{ComponentResult: ComponentResult{Status: StatusPending}},
	}

	e.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"rollback_id": result.RollbackID,
		"backup_id":   backupID,
	}).Info("Starting rollback")

	validation, err := e.backups.ValidateBackupIntegrity(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		corruption := backup.NewCorruptionError(backupID, validation.Errors)
		e.finish(result, start, corruption)
		return result, corruption
	}

	meta, err := e.backups.ReadMetadata(ctx, backupID)
	if err != nil {
		e.finish(result, start, err)
		return result, err
	}

	dbArtifact, err := e.backups.ReadDatabaseArtifact(meta)
	if err != nil {
		e.finish(result, start, err)
		return result, err
	}

	plan, err := e.planFor(ctx, backupID, dbArtifact)
	if err != nil {
		e.finish(result, start, err)
		return result, err
	}

	if err := e.restoreDatabase(ctx, result, plan, dbArtifact); err != nil {
		e.finish(result, start, err)
		return result, err
	}

	e.restoreIdentity(ctx, result, meta)
	if err := e.restoreStorage(ctx, result, backupID); err != nil {
		e.finish(result, start, err)
		return result, err
	}
	result.Validation = e.postValidate(ctx, dbArtifact)

	e.finish(result, start, nil)
	return result, nil
}

// PlanRollback resolves the clear and insert order for a backup without
// touching live data
func (e *Engine) PlanRollback(ctx context.Context, backupID string) (*Plan, error) {
	meta, err := e.backups.ReadMetadata(ctx, backupID)
	if err != nil {
		return nil, err
	}
	artifact, err := e.backups.ReadDatabaseArtifact(meta)
	if err != nil {
		return nil, err
	}
	return e.planFor(ctx, backupID, artifact)
}

func (e *Engine) planFor(ctx context.Context, backupID string, artifact *backup.DatabaseArtifact) (*Plan, error) {
	order, err := source.ResolveTableOrder(ctx, e.ds, e.opts.TableOrder, e.logger)
	if err != nil {
		return nil, err
	}

	plan := &Plan{BackupID: backupID, OrderSource: order.DerivedFrom}
	seen := make(map[string]bool, len(artifact.Tables))
	for _, table := range order.Tables {
		if _, ok := artifact.Tables[table]; ok {
			plan.InsertOrder = append(plan.InsertOrder, table)
			seen[table] = true
		}
	}
	// tables that no longer exist live keep their backed-up relative order
	for _, table := range artifact.TableOrder {
		if !seen[table] {
			plan.InsertOrder = append(plan.InsertOrder, table)
			seen[table] = true
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("table %s is not present in the live schema", table))
		}
	}

	// every live table is cleared, including ones created after the backup
	clearing := plan.InsertOrder
	if order.Live {
		clearing = make([]string, 0, len(order.Tables)+len(plan.InsertOrder))
		live := make(map[string]bool, len(order.Tables))
		for _, table := range order.Tables {
			live[table] = true
			clearing = append(clearing, table)
			if _, ok := artifact.Tables[table]; !ok {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("table %s is not in the backup and will be left empty", table))
			}
		}
		for _, table := range plan.InsertOrder {
			if !live[table] {
				clearing = append(clearing, table)
			}
		}
	}

	plan.ClearOrder = make([]string, len(clearing))
	for i, table := range clearing {
		plan.ClearOrder[len(clearing)-1-i] = table
	}
	return plan, nil
}

func (e *Engine) restoreDatabase(ctx context.Context, result *Result, plan *Plan, artifact *backup.DatabaseArtifact) error {
	start := e.now()
	res := &result.Database
	res.Status = StatusInProgress
	res.Warnings = append(res.Warnings, plan.Warnings...)

	for _, table := range plan.ClearOrder {
		if err := ctx.Err(); err != nil {
			return e.failDatabase(result, start, fmt.Errorf("database rollback interrupted: %w", err))
		}
		if err := e.ds.DeleteAll(ctx, table); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("failed to clear %s: %v", table, err))
			e.logger.WithFields(map[string]interface{}{
				logging.FieldOperation: "database_rollback",
				"rollback_id":          result.RollbackID,
				"table":                table,
				"error":                err.Error(),
			}).Warn("Table could not be cleared before restore")
			continue
		}
		res.TablesCleared++
	}

	for _, table := range plan.InsertOrder {
		rows := artifact.Tables[table]
		for offset := 0; offset < len(rows); offset += e.opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return e.failDatabase(result, start, fmt.Errorf("database rollback interrupted: %w", err))
			}
			end := offset + e.opts.BatchSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := e.ds.InsertMany(ctx, table, rows[offset:end]); err != nil {
				return e.failDatabase(result, start, fmt.Errorf("failed to restore table %s: %w", table, err))
			}
			res.RecordsRestored += end - offset
		}
		res.TablesRestored++
	}

	res.Status = StatusCompleted
	res.Duration = e.now().Sub(start)
	e.logger.LogRollbackStep(result.RollbackID, result.BackupID, "database", res.RecordsRestored, res.Duration, nil)
	return nil
}

func (e *Engine) failDatabase(result *Result, start time.Time, err error) error {
	res := &result.Database
	res.Status = StatusFailed
	res.Error = err.Error()
	res.Duration = e.now().Sub(start)
	e.logger.LogRollbackStep(result.RollbackID, result.BackupID, "database", res.RecordsRestored, res.Duration, err)
	return err
}

func (e *Engine) restoreIdentity(ctx context.Context, result *Result, meta *backup.Metadata) {
	start := e.now()
	res := &result.Identity

	if e.opts.SkipIdentity {
		res.Status = StatusCompleted
		res.Note = "identity restore skipped by configuration"
		return
	}
	if err := ctx.Err(); err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return
	}

	users, err := e.backups.ReadUsersArtifact(meta)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Duration = e.now().Sub(start)
		e.logger.LogRollbackStep(result.RollbackID, result.BackupID, "identity", 0, res.Duration, err)
		return
	}

	res.EligibleUsers = len(users.Users)
	res.EligibleProfiles = len(users.Profiles)
	res.Note = identityNote
	res.Status = StatusCompleted
	res.Duration = e.now().Sub(start)

	e.logger.WithFields(map[string]interface{}{
		logging.FieldOperation:   "identity_rollback",
		logging.FieldRemediation: []string{identityNote},
		"rollback_id":            result.RollbackID,
		"eligible_users":         res.EligibleUsers,
	}).Warn("Identity records require manual restoration")
	e.logger.LogRollbackStep(result.RollbackID, result.BackupID, "identity", res.EligibleUsers, res.Duration, nil)
}

// restoreStorage re-uploads every backed up bucket. Objects that cannot be
// uploaded are listed and leave the phase partial; anything that stops the
// phase itself fails it and is returned.
func (e *Engine) restoreStorage(ctx context.Context, result *Result, backupID string) error {
	start := e.now()
	res := &result.Storage
	res.Status = StatusInProgress

	if err := ctx.Err(); err != nil {
		return e.failStorage(result, start, fmt.Errorf("storage rollback interrupted: %w", err))
	}
	manifest, err := e.backups.ReadManifest(backupID)
	if err != nil {
		return e.failStorage(result, start, err)
	}

	for _, bucket := range manifest.Buckets {
		if err := ctx.Err(); err != nil {
			return e.failStorage(result, start, fmt.Errorf("storage rollback interrupted: %w", err))
		}

		dir, err := e.backups.BucketDir(backupID, bucket.Name)
		if err == nil {
			_, err = os.Stat(dir)
		}
		if err != nil {
			res.SkippedBuckets = append(res.SkippedBuckets, bucket.Name)
			res.Warnings = append(res.Warnings, fmt.Sprintf("bucket %s has no local copy", bucket.Name))
			e.logger.WithFields(map[string]interface{}{
				logging.FieldOperation: "storage_rollback",
				"bucket":               bucket.Name,
			}).Warn("Skipping bucket without a local copy")
			continue
		}

		if err := e.uploadBucket(ctx, bucket.Name, dir, res); err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("storage rollback interrupted: %w", err)
			} else {
				err = fmt.Errorf("failed to restore bucket %s: %w", bucket.Name, err)
			}
			return e.failStorage(result, start, err)
		}
		res.BucketsRestored++
	}

	if len(res.FailedFiles) > 0 {
		res.Status = StatusPartial
	} else {
		res.Status = StatusCompleted
	}
	res.Duration = e.now().Sub(start)
	e.logger.LogRollbackStep(result.RollbackID, result.BackupID, "storage", res.FilesRestored, res.Duration, nil)
	return nil
}

func (e *Engine) failStorage(result *Result, start time.Time, err error) error {
	res := &result.Storage
	res.Status = StatusFailed
	res.Error = err.Error()
	res.Duration = e.now().Sub(start)
	e.logger.LogRollbackStep(result.RollbackID, result.BackupID, "storage", res.FilesRestored, res.Duration, err)
	return err
}

func (e *Engine) uploadBucket(ctx context.Context, bucket, dir string, res *StorageRestore) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		objectPath := filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		err = e.retry.Retry(ctx, func() error {
			return e.objects.UploadObject(ctx, bucket, objectPath, data, source.UploadOptions{Overwrite: true})
		})
		if err != nil {
			res.FailedFiles = append(res.FailedFiles, bucket+"/"+objectPath)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			e.logger.WithFields(map[string]interface{}{
				logging.FieldOperation: "storage_rollback",
				"bucket":               bucket,
				"path":                 objectPath,
				"error":                err.Error(),
			}).Warn("Object could not be re-uploaded")
			return nil
		}

		res.FilesRestored++
		res.BytesRestored += int64(len(data))
		return nil
	})
}

// postValidate compares live row counts with the restored rows. Sources that
// cannot count produce a warning instead of a failed check.
func (e *Engine) postValidate(ctx context.Context, artifact *backup.DatabaseArtifact) PostValidation {
	v := PostValidation{IsValid: true}

	tables := make([]string, 0, len(artifact.Tables))
	for table := range artifact.Tables {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		expected := len(artifact.Tables[table])
		actual, err := e.ds.CountRows(ctx, table)
		if err != nil {
			if errors.Is(err, source.ErrNotSupported) {
				v.Warnings = append(v.Warnings, fmt.Sprintf("row count of %s cannot be verified", table))
				continue
			}
			v.IsValid = false
			v.Errors = append(v.Errors, fmt.Sprintf("failed to count %s: %v", table, err))
			continue
		}

		check := TableCheck{Table: table, Expected: expected, Actual: actual, Passed: actual == int64(expected)}
		v.Checks = append(v.Checks, check)
		if !check.Passed {
			v.IsValid = false
			v.Errors = append(v.Errors, fmt.Sprintf("table %s has %d rows, expected %d", table, actual, expected))
		}
	}
	return v
}

// finish derives the overall status and persists the record. Persistence
// failures are logged; they never mask the rollback outcome.
func (e *Engine) finish(result *Result, start time.Time, cause error) {
	result.Duration = e.now().Sub(start)
	result.OverallStatus = overallStatus(result, cause)

	if cause != nil {
		result.Errors = append(result.Errors, cause.Error())
	}
	for _, c := range []ComponentResult{result.Database.ComponentResult, result.Identity.ComponentResult, result.Storage.ComponentResult} {
		if c.Error != "" && (cause == nil || c.Error != cause.Error()) {
			result.Errors = append(result.Errors, c.Error)
		}
	}
	result.Errors = append(result.Errors, result.Validation.Errors...)

	if err := e.save(result); err != nil {
		e.logger.WithFields(map[string]interface{}{
			"rollback_id": result.RollbackID,
			"error":       err.Error(),
		}).Error("Failed to persist rollback record")
	}

	entry := e.logger.WithFields(map[string]interface{}{
		"rollback_id": result.RollbackID,
		"backup_id":   result.BackupID,
		"status":      string(result.OverallStatus),
		"duration_ms": result.Duration.Milliseconds(),
	})
	if result.OverallStatus == StatusCompleted {
		entry.Info("Rollback completed")
	} else {
		entry.Error("Rollback did not complete")
	}
}

// overallStatus fails the rollback on any failed phase except identity,
// which is advisory
func overallStatus(result *Result, cause error) Status {
	if cause != nil || result.Database.Status == StatusFailed || result.Storage.Status == StatusFailed {
		return StatusFailed
	}
	components := []Status{result.Database.Status, result.Identity.Status, result.Storage.Status}
	allCompleted := true
	for _, s := range components {
		if s != StatusCompleted {
			allCompleted = false
		}
	}
	if allCompleted && result.Validation.IsValid {
		return StatusCompleted
	}
	return StatusPartial
}
