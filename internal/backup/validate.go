package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/integrity"
)

// ValidateBackupIntegrity checks a persisted backup: metadata readable and
// COMPLETED, every artifact present and parseable, stored checksums matching
// and every file listed in the storage manifest present with its recorded hash.
func (e *Engine) ValidateBackupIntegrity(ctx context.Context, backupID string) (*ValidationResult, error) {
	dir, err := e.Dir(backupID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("backup", backupID)
		}
		return nil, NewStorageError("failed to stat backup directory", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ValidationResult{
		BackupID:  backupID,
		Errors:    []string{},
		CheckedAt: e.now().UTC(),
	}

	var meta Metadata
	metaOK := false
	if err := readJSON(filepath.Join(dir, MetadataFile), &meta); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, "metadata.json is missing")
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("metadata.json is unreadable: %v", err))
		}
	} else {
		metaOK = true
		if meta.Status != StatusCompleted {
			result.Errors = append(result.Errors, fmt.Sprintf("backup status is %s, expected %s", meta.Status, StatusCompleted))
		}
	}

	codec := e.codec
	var metaRef *Metadata
	if metaOK {
		metaRef = &meta
		c, err := NewCodec(meta.Codec, e.opts.Passphrase)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("backup codec cannot be used: %v", err))
		} else {
			codec = c
		}
	}

	result.Errors = append(result.Errors, e.checkArtifacts(dir, codec, metaRef)...)
	result.IsValid = len(result.Errors) == 0

	e.logger.WithFields(map[string]interface{}{
		"backup_id": backupID,
		"valid":     result.IsValid,
		"errors":    len(result.Errors),
	}).Info("Backup integrity validated")
	return result, nil
}

// checkArtifacts returns one message per problem found. Without metadata only
// structure is checked, which is what runs right after a backup is written.
func (e *Engine) checkArtifacts(dir string, codec *Codec, meta *Metadata) []string {
	var problems []string

	var db map[string]json.RawMessage
	stored, err := e.readArtifact(filepath.Join(dir, DatabaseFile), codec, &db)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		problems = append(problems, "database.json is missing")
	case err != nil:
		problems = append(problems, fmt.Sprintf("database.json is unreadable: %v", err))
	default:
		problems = append(problems, requireKeys("database.json", db, "tables", "table_order")...)
		if meta != nil && !integrity.Equal(integrity.Hash(stored), meta.Database.Checksum) {
			problems = append(problems, "database.json checksum mismatch")
		}
	}

	var users map[string]json.RawMessage
	stored, err = e.readArtifact(filepath.Join(dir, UsersFile), codec, &users)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		problems = append(problems, "users.json is missing")
	case err != nil:
		problems = append(problems, fmt.Sprintf("users.json is unreadable: %v", err))
	default:
		problems = append(problems, requireKeys("users.json", users, "users", "summary")...)
		if meta != nil && !integrity.Equal(integrity.Hash(stored), meta.Identity.Checksum) {
			problems = append(problems, "users.json checksum mismatch")
		}
	}

	storageRoot := filepath.Join(dir, StorageDir)
	var manifest StorageManifest
	if err := readJSON(filepath.Join(storageRoot, ManifestFile), &manifest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			problems = append(problems, "storage manifest is missing")
		} else {
			problems = append(problems, fmt.Sprintf("storage manifest is unreadable: %v", err))
		}
		return problems
	}
	if manifest.Buckets == nil {
		problems = append(problems, "storage manifest has no buckets list")
	}
	if meta == nil {
		return problems
	}

	bucketChecksums := make([]string, 0, len(manifest.Buckets))
	for _, bucket := range manifest.Buckets {
		bucketChecksums = append(bucketChecksums, bucket.Checksum)
		problems = append(problems, checkBucketFiles(storageRoot, bucket)...)
	}
	if !integrity.Equal(integrity.Combine(bucketChecksums), meta.Storage.Checksum) {
		problems = append(problems, "storage checksum mismatch")
	}
	return problems
}

func checkBucketFiles(storageRoot string, bucket BucketManifest) []string {
	var problems []string
	bucketDir, err := safeJoin(storageRoot, bucket.Name)
	if err != nil {
		return []string{err.Error()}
	}
	for _, f := range bucket.Files {
		target, err := safeJoin(bucketDir, f.Path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		data, err := os.ReadFile(target)
		if err != nil {
			problems = append(problems, fmt.Sprintf("storage file %s/%s is missing", bucket.Name, f.Path))
			continue
		}
		if !integrity.Equal(integrity.Hash(data), f.Checksum) {
			problems = append(problems, fmt.Sprintf("storage file %s/%s checksum mismatch", bucket.Name, f.Path))
		}
	}
	return problems
}

func requireKeys(name string, doc map[string]json.RawMessage, keys ...string) []string {
	var problems []string
	for _, k := range keys {
		if _, ok := doc[k]; !ok {
			problems = append(problems, fmt.Sprintf("%s has no %q section", name, k))
		}
	}
	return problems
}
