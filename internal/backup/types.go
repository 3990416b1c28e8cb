package backup

import (
	"time"

	"migration-guard/internal/source"
)

// Status is the lifecycle state of a backup or one of its components
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCorrupted  Status = "CORRUPTED"
)

// FormatVersion tags the on-disk layout written by this package
const FormatVersion = "1"

// Artifact file names inside a backup directory
const (
	MetadataFile = "metadata.json"
	DatabaseFile = "database.json"
	UsersFile    = "users.json"
	StorageDir   = "storage"
	ManifestFile = "manifest.json"
	// RollbacksDir holds rollback records next to the backups; it is never a backup id
	RollbacksDir = "rollbacks"
)

// ComponentResult is shared by the three backup components
type ComponentResult struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	Error     string    `json:"error,omitempty"`
	// AttemptedItems counts tables or files the phase tried to copy
	AttemptedItems int      `json:"attempted_items"`
	SkippedCount   int      `json:"skipped_count"`
	SkippedItems   []string `json:"skipped_items,omitempty"`
}

// Failed reports whether the component did not complete
func (c ComponentResult) Failed() bool {
	return c.Status != StatusCompleted
}

// DatabaseBackup describes the database artifact
type DatabaseBackup struct {
	ComponentResult
	TableCount  int            `json:"table_count"`
	RecordCount int            `json:"record_count"`
	TableCounts map[string]int `json:"table_counts,omitempty"`
	TableOrder  []string       `json:"table_order,omitempty"`
	OrderSource string         `json:"order_source,omitempty"`
}

// IdentityBackup describes the users artifact
type IdentityBackup struct {
	ComponentResult
	UserCount    int    `json:"user_count"`
	ProfileCount int    `json:"profile_count"`
	ProfileTable string `json:"profile_table,omitempty"`
}

// BucketSummary is the per-bucket part of the storage component
type BucketSummary struct {
	Name         string `json:"name"`
	Public       bool   `json:"public"`
	FileCount    int    `json:"file_count"`
	TotalBytes   int64  `json:"total_bytes"`
	Checksum     string `json:"checksum"`
	SkippedCount int    `json:"skipped_count,omitempty"`
}

// StorageBackup describes the storage subtree
type StorageBackup struct {
	ComponentResult
	Buckets    []BucketSummary `json:"buckets"`
	TotalFiles int             `json:"total_files"`
	TotalBytes int64           `json:"total_bytes"`
}

// CompleteBackupResult is the outcome of one backup run
type CompleteBackupResult struct {
	BackupID        string         `json:"backup_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Version         string         `json:"version"`
	Description     string         `json:"description,omitempty"`
	Status          Status         `json:"status"`
	Database        DatabaseBackup `json:"database"`
	Identity        IdentityBackup `json:"identity"`
	Storage         StorageBackup  `json:"storage"`
	TotalSize       int64          `json:"total_size"`
	OverallChecksum string         `json:"overall_checksum"`
	Codec           CodecInfo      `json:"codec"`
	Duration        time.Duration  `json:"duration"`
	Path            string         `json:"path,omitempty"`
	ValidationErrs  []string       `json:"validation_errors,omitempty"`
}

// Metadata is the document persisted as metadata.json. It carries the
// component summaries so a backup can be described without reading artifacts.
type Metadata struct {
	BackupID        string         `json:"backup_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Version         string         `json:"version"`
	Description     string         `json:"description,omitempty"`
	Status          Status         `json:"status"`
	TotalSize       int64          `json:"total_size"`
	OverallChecksum string         `json:"overall_checksum"`
	Codec           CodecInfo      `json:"codec"`
	Database        DatabaseBackup `json:"database"`
	Identity        IdentityBackup `json:"identity"`
	Storage         StorageBackup  `json:"storage"`
	Duration        time.Duration  `json:"duration"`
}

// FileEntry is one copied object
type FileEntry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// BucketManifest lists the files copied from a bucket
type BucketManifest struct {
	BucketSummary
	Files []FileEntry `json:"files"`
}

// StorageManifest is persisted as storage/manifest.json
type StorageManifest struct {
	BackupID   string           `json:"backup_id"`
	CreatedAt  time.Time        `json:"created_at"`
	Buckets    []BucketManifest `json:"buckets"`
	TotalFiles int              `json:"total_files"`
	TotalBytes int64            `json:"total_bytes"`
	Checksum   string           `json:"checksum"`
}

// DatabaseArtifact is the decoded content of database.json
type DatabaseArtifact struct {
	BackupID   string                     `json:"backup_id"`
	CreatedAt  time.Time                  `json:"created_at"`
	TableOrder []string                   `json:"table_order"`
	Tables     map[string][]source.Record `json:"tables"`
}

// UsersSummary is the summary block of users.json
type UsersSummary struct {
	UserCount    int    `json:"user_count"`
	ProfileCount int    `json:"profile_count"`
	ProfileTable string `json:"profile_table,omitempty"`
}

// UsersArtifact is the decoded content of users.json
type UsersArtifact struct {
	BackupID  string          `json:"backup_id"`
	CreatedAt time.Time       `json:"created_at"`
	Users     []source.User   `json:"users"`
	Profiles  []source.Record `json:"profiles,omitempty"`
	Summary   UsersSummary    `json:"summary"`
}

// ValidationResult is returned by ValidateBackupIntegrity
type ValidationResult struct {
	BackupID  string    `json:"backup_id"`
	IsValid   bool      `json:"is_valid"`
	Errors    []string  `json:"errors"`
	Warnings  []string  `json:"warnings,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Observer receives progress while a backup runs. Implementations must be
// safe for concurrent use because files are copied in parallel.
type Observer interface {
	TableCopied(table string, rows int)
	FileCopied(bucket, path string, size int64)
	ItemFailed(component, item string, err error)
}

type nopObserver struct{}

func (nopObserver) TableCopied(string, int)          {}
func (nopObserver) FileCopied(string, string, int64) {}
func (nopObserver) ItemFailed(string, string, error) {}
