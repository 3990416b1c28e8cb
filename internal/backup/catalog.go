package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	apperrors "migration-guard/internal/errors"
)

// ListBackups returns the metadata of every readable backup, newest first.
// Unreadable entries are logged and skipped.
func (e *Engine) ListBackups(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(e.opts.RootDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Metadata{}, nil
		}
		return nil, NewStorageError("failed to read backup root", err)
	}

	backups := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || entry.Name() == RollbacksDir || !backupIDPattern.MatchString(entry.Name()) {
			continue
		}
		var meta Metadata
		if err := readJSON(filepath.Join(e.opts.RootDir, entry.Name(), MetadataFile), &meta); err != nil {
			e.logger.WithFields(map[string]interface{}{
				"backup_id": entry.Name(),
				"error":     err.Error(),
			}).Warn("Skipping backup with unreadable metadata")
			continue
		}
		backups = append(backups, meta)
	}

	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// GetBackupDetails returns the persisted result of a backup. A component
// whose artifact is gone from disk is reported as CORRUPTED.
func (e *Engine) GetBackupDetails(ctx context.Context, backupID string) (*CompleteBackupResult, error) {
	meta, err := e.ReadMetadata(ctx, backupID)
	if err != nil {
		return nil, err
	}
	dir, _ := e.Dir(backupID)

	result := &CompleteBackupResult{
		BackupID:        meta.BackupID,
		Timestamp:       meta.Timestamp,
		Version:         meta.Version,
		Description:     meta.Description,
		Status:          meta.Status,
		Database:        meta.Database,
		Identity:        meta.Identity,
		Storage:         meta.Storage,
		TotalSize:       meta.TotalSize,
		OverallChecksum: meta.OverallChecksum,
		Codec:           meta.Codec,
		Duration:        meta.Duration,
		Path:            dir,
	}

	if result.Database.Status == StatusCompleted && !exists(filepath.Join(dir, DatabaseFile)) {
		result.Database.Status = StatusCorrupted
	}
	if result.Identity.Status == StatusCompleted && !exists(filepath.Join(dir, UsersFile)) {
		result.Identity.Status = StatusCorrupted
	}
	if result.Storage.Status == StatusCompleted && !exists(filepath.Join(dir, StorageDir, ManifestFile)) {
		result.Storage.Status = StatusCorrupted
	}
	return result, nil
}

// DeleteBackup removes a backup directory. It reports false when the backup
// does not exist.
func (e *Engine) DeleteBackup(ctx context.Context, backupID string) (bool, error) {
	dir, err := e.Dir(backupID)
	if err != nil {
		return false, err
	}
	unlock, err := e.locks.Lock(ctx, backupID)
	if err != nil {
		return false, err
	}
	defer unlock()

	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, NewStorageError("failed to stat backup directory", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, NewStorageError(fmt.Sprintf("failed to delete backup %s", backupID), err)
	}

	e.logger.WithField("backup_id", backupID).Info("Backup deleted")
	return true, nil
}

// ReadMetadata loads metadata.json of a backup
func (e *Engine) ReadMetadata(ctx context.Context, backupID string) (*Metadata, error) {
	dir, err := e.Dir(backupID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var meta Metadata
	if err := readJSON(filepath.Join(dir, MetadataFile), &meta); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("backup", backupID)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to read metadata of %s", backupID), err)
	}
	return &meta, nil
}

// ReadDatabaseArtifact decodes database.json using the codec recorded in meta
func (e *Engine) ReadDatabaseArtifact(meta *Metadata) (*DatabaseArtifact, error) {
	var artifact DatabaseArtifact
	if err := e.readComponent(meta, DatabaseFile, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// ReadUsersArtifact decodes users.json using the codec recorded in meta
func (e *Engine) ReadUsersArtifact(meta *Metadata) (*UsersArtifact, error) {
	var artifact UsersArtifact
	if err := e.readComponent(meta, UsersFile, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// ReadManifest loads the storage manifest of a backup
func (e *Engine) ReadManifest(backupID string) (*StorageManifest, error) {
	dir, err := e.Dir(backupID)
	if err != nil {
		return nil, err
	}
	var manifest StorageManifest
	if err := readJSON(filepath.Join(dir, StorageDir, ManifestFile), &manifest); err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to read storage manifest of %s", backupID), err)
	}
	return &manifest, nil
}

// BucketDir returns where the files of a bucket were copied to
func (e *Engine) BucketDir(backupID, bucket string) (string, error) {
	dir, err := e.Dir(backupID)
	if err != nil {
		return "", err
	}
	return safeJoin(filepath.Join(dir, StorageDir), bucket)
}

func (e *Engine) readComponent(meta *Metadata, file string, v interface{}) error {
	dir, err := e.Dir(meta.BackupID)
	if err != nil {
		return err
	}
	codec, err := NewCodec(meta.Codec, e.opts.Passphrase)
	if err != nil {
		return err
	}
	if _, err := e.readArtifact(filepath.Join(dir, file), codec, v); err != nil {
		return NewCorruptionError(meta.BackupID, []string{fmt.Sprintf("%s: %v", file, err)})
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
