package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"migration-guard/internal/backup"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/keylock"
	"migration-guard/internal/logging"
	"migration-guard/internal/rollback"
	"migration-guard/internal/source"
	"migration-guard/internal/store"
)

// BackupCreator is the part of backup.Engine a checkpoint needs
type BackupCreator interface {
	CreateCompleteBackup(ctx context.Context, description string) (*backup.CompleteBackupResult, error)
}

// BackupRestorer is the part of rollback.Engine a checkpoint needs
type BackupRestorer interface {
	RollbackToBackup(ctx context.Context, backupID string) (*rollback.Result, error)
}

// Dependencies are the collaborators of an Engine
type Dependencies struct {
	Backups  BackupCreator
	Restorer BackupRestorer
	Source   source.DataSource
	Identity source.IdentityProvider
	Objects  source.ObjectStore
	Store    store.Store
	Logger   *logging.Logger
}

// Options configure an Engine
type Options struct {
	// Dir receives one mirror file per checkpoint
	Dir            string
	CriticalTables []string
	Locks          *keylock.Locker
}

// Engine creates, validates and rolls back to checkpoints
type Engine struct {
	backups   BackupCreator
	restorer  BackupRestorer
	collector *collector
	repo      *repository
	logger    *logging.Logger
	locks     *keylock.Locker
	now       func() time.Time
}

// NewEngine checks the dependencies and prepares the mirror directory
func NewEngine(deps Dependencies, opts Options) (*Engine, error) {
	var missing []string
	if deps.Backups == nil {
		missing = append(missing, "backup engine")
	}
	if deps.Restorer == nil {
		missing = append(missing, "rollback engine")
	}
	if deps.Source == nil {
		missing = append(missing, "data source")
	}
	if deps.Identity == nil {
		missing = append(missing, "identity provider")
	}
	if deps.Objects == nil {
		missing = append(missing, "object store")
	}
	if deps.Store == nil {
		missing = append(missing, "record store")
	}
	if opts.Dir == "" {
		missing = append(missing, "checkpoint.dir")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewConfigurationError("checkpoint engine cannot initialize", missing...)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	repo, err := newRepository(deps.Store, filepath.Clean(opts.Dir), logger)
	if err != nil {
		return nil, err
	}
	locks := opts.Locks
	if locks == nil {
		locks = keylock.New()
	}

	col := &collector{
		ds:             deps.Source,
		identity:       deps.Identity,
		objects:        deps.Objects,
		criticalTables: opts.CriticalTables,
	}

	return &Engine{
		backups:   deps.Backups,
		restorer:  deps.Restorer,
		collector: col,
		repo:      repo,
		logger:    logger,
		locks:     locks,
		now:       time.Now,
	}, nil
}

func phaseLockKey(p Phase) string {
	return "checkpoint-phase:" + string(p)
}

// CreateCheckpoint backs up the system, records live-state metadata and,
// once the new checkpoint validates, supersedes older ones of the same phase
func (e *Engine) CreateCheckpoint(ctx context.Context, name string, phase Phase, description string) (*Info, error) {
	if !phase.Valid() {
		return nil, apperrors.NewValidationError("invalid checkpoint request", []string{fmt.Sprintf("unknown phase %q", phase)})
	}
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("invalid checkpoint request", []string{"name is required"})
	}

	unlock, err := e.locks.Lock(ctx, phaseLockKey(phase))
	if err != nil {
		return nil, err
	}
	defer unlock()

	backupDescription := description
	if backupDescription == "" {
		backupDescription = fmt.Sprintf("checkpoint %s (%s)", name, phase)
	}
	result, err := e.backups.CreateCompleteBackup(ctx, backupDescription)
	if err != nil {
		return nil, &CreationError{Cause: err}
	}

	meta, err := e.collector.collect(ctx)
	if err != nil {
		return nil, &CreationError{Cause: err}
	}
	meta.Users.Migrated = int64(result.Identity.UserCount)
	meta.Files.Migrated = int64(result.Storage.TotalFiles)
	meta.Bytes.Migrated = result.Storage.TotalBytes
	meta.CollectedAt = e.now().UTC()

	now := e.now().UTC()
	info := &Info{
		ID:          "checkpoint-" + uuid.New().String(),
		Name:        name,
		Phase:       phase,
		Description: description,
		Status:      StatusCreated,
		BackupID:    result.BackupID,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.save(ctx, info); err != nil {
		return nil, &CreationError{Cause: err}
	}
	e.logger.LogCheckpointTransition(info.ID, string(phase), "", string(StatusCreated))

	info.Checks = compare(meta, meta)
	if failed := FailedChecks(info.Checks); len(failed) > 0 {
		info.FailureReason = describe(failed)
		if err := e.transition(ctx, info, StatusFailed); err != nil {
			return nil, err
		}
		return info, apperrors.NewValidationError("checkpoint failed validation", messages(failed))
	}

	validatedAt := e.now().UTC()
	info.ValidatedAt = &validatedAt
	if err := e.transition(ctx, info, StatusValidated); err != nil {
		return nil, err
	}
	if err := e.supersede(ctx, info); err != nil {
		return info, err
	}
	return info, nil
}

// supersede retires every other authoritative checkpoint of info's phase
func (e *Engine) supersede(ctx context.Context, info *Info) error {
	older, err := e.repo.list(ctx, func(c *Info) bool {
		return c.Phase == info.Phase && c.ID != info.ID && c.Status.Authoritative()
	})
	if err != nil {
		return err
	}
	for _, c := range older {
		c.SupersededBy = info.ID
		if err := e.transition(ctx, c, StatusSuperseded); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) transition(ctx context.Context, info *Info, to Status) error {
	from := info.Status
	info.Status = to
	info.UpdatedAt = e.now().UTC()
	if err := e.repo.save(ctx, info); err != nil {
		info.Status = from
		return err
	}
	e.logger.LogCheckpointTransition(info.ID, string(info.Phase), string(from), string(to))
	return nil
}

// ValidateCheckpointBeforeProgression re-checks the newest authoritative
// checkpoint of phase against current live state. It returns false when
// no such checkpoint exists or when any blocking check fails, in which case
// the checkpoint becomes FAILED.
func (e *Engine) ValidateCheckpointBeforeProgression(ctx context.Context, phase Phase) (bool, error) {
	if !phase.Valid() {
		return false, apperrors.NewValidationError("invalid phase", []string{fmt.Sprintf("unknown phase %q", phase)})
	}
	unlock, err := e.locks.Lock(ctx, phaseLockKey(phase))
	if err != nil {
		return false, err
	}
	defer unlock()

	candidates, err := e.repo.list(ctx, func(c *Info) bool {
		return c.Phase == phase && c.Status.Authoritative()
	})
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		e.logger.WithField("phase", string(phase)).Warn("No validated checkpoint exists for phase")
		return false, nil
	}
	cp := candidates[0]

	current, err := e.collector.collect(ctx)
	if err != nil {
		return false, err
	}
	cp.Checks = compare(cp.Metadata, current)

	if failed := FailedChecks(cp.Checks); len(failed) > 0 {
		cp.FailureReason = describe(failed)
		if err := e.transition(ctx, cp, StatusFailed); err != nil {
			return false, err
		}
		e.logger.WithFields(map[string]interface{}{
			logging.FieldPhase:       string(phase),
			logging.FieldOperation:   "checkpoint_validation",
			logging.FieldRemediation: []string{"investigate the drifted tables", "create a new checkpoint before progressing"},
			"checkpoint_id":          cp.ID,
			"failed_checks":          messages(failed),
		}).Error("Checkpoint drift detected, data integrity check failed")
		return false, nil
	}

	if cp.Status != StatusActive {
		activatedAt := e.now().UTC()
		cp.ActivatedAt = &activatedAt
		if err := e.transition(ctx, cp, StatusActive); err != nil {
			return false, err
		}
	} else if err := e.repo.save(ctx, cp); err != nil {
		return false, err
	}
	return true, nil
}

// RollbackToCheckpoint restores the checkpoint's backup and re-validates
// live state against the recorded metadata. Failures are reported in the
// result, never returned as errors.
func (e *Engine) RollbackToCheckpoint(ctx context.Context, checkpointID string) *RollbackResult {
	start := e.now()
	result := &RollbackResult{CheckpointID: checkpointID, ComponentsRolledBack: []string{}}
	defer func() { result.Duration = e.now().Sub(start) }()

	cp, err := e.repo.get(ctx, checkpointID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			result.Errors = append(result.Errors, "Checkpoint not found: "+checkpointID)
		} else {
			result.Errors = append(result.Errors, err.Error())
		}
		return result
	}
	result.BackupID = cp.BackupID

	rb, err := e.restorer.RollbackToBackup(ctx, cp.BackupID)
	if rb != nil {
		result.RollbackID = rb.RollbackID
		result.ComponentsRolledBack = rolledBack(rb)
		if err == nil && rb.OverallStatus != rollback.StatusCompleted {
			result.Errors = append(result.Errors, fmt.Sprintf("rollback %s finished with status %s", rb.RollbackID, rb.OverallStatus))
			result.Errors = append(result.Errors, rb.Errors...)
		}
	}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	current, err := e.collector.collect(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("post-rollback validation failed: %v", err))
		return result
	}
	result.Checks = compare(cp.Metadata, current)
	result.Success = len(result.Errors) == 0 && len(FailedChecks(result.Checks)) == 0

	e.logger.WithFields(map[string]interface{}{
		"checkpoint_id": checkpointID,
		"backup_id":     cp.BackupID,
		"success":       result.Success,
		"components":    result.ComponentsRolledBack,
	}).Info("Rollback to checkpoint finished")
	return result
}

// rolledBack names the components a rollback restored. The identity step
// stands for the auth configuration of the target.
func rolledBack(rb *rollback.Result) []string {
	components := []string{}
	if rb.Database.Status == rollback.StatusCompleted {
		components = append(components, "database")
	}
	if rb.Storage.Status == rollback.StatusCompleted {
		components = append(components, "storage")
	}
	if rb.Identity.Status == rollback.StatusCompleted {
		components = append(components, "configuration")
	}
	return components
}

// ListCheckpoints returns checkpoints newest first; an empty phase lists all
func (e *Engine) ListCheckpoints(ctx context.Context, phase Phase) ([]*Info, error) {
	if phase != "" && !phase.Valid() {
		return nil, apperrors.NewValidationError("invalid phase", []string{fmt.Sprintf("unknown phase %q", phase)})
	}
	return e.repo.list(ctx, func(c *Info) bool {
		return phase == "" || c.Phase == phase
	})
}

// GetActiveCheckpointForPhase returns the checkpoint that currently stands
// for phase (ACTIVE, or VALIDATED when none was activated yet)
func (e *Engine) GetActiveCheckpointForPhase(ctx context.Context, phase Phase) (*Info, error) {
	candidates, err := e.repo.list(ctx, func(c *Info) bool {
		return c.Phase == phase && c.Status.Authoritative()
	})
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.Status == StatusActive {
			return c, nil
		}
	}
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return nil, apperrors.NewNotFoundError("active checkpoint for phase", string(phase))
}

// GetCheckpoint loads a checkpoint by id
func (e *Engine) GetCheckpoint(ctx context.Context, id string) (*Info, error) {
	return e.repo.get(ctx, id)
}

// Reindex copies mirror files that are missing from the record store back
// into it, returning how many were restored
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	return e.repo.reindex(ctx)
}

func messages(checks []Check) []string {
	out := make([]string, 0, len(checks))
	for _, c := range checks {
		out = append(out, c.Message)
	}
	return out
}

func describe(checks []Check) string {
	return strings.Join(messages(checks), "; ")
}
