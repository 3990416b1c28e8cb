package rollback

import "time"

// Status is the state of a rollback or one of its components
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusPartial    Status = "PARTIAL"
)

// ComponentResult is shared by the three restore steps
type ComponentResult struct {
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DatabaseRestore reports the database step
type DatabaseRestore struct {
	ComponentResult
	TablesCleared   int `json:"tables_cleared"`
	TablesRestored  int `json:"tables_restored"`
	RecordsRestored int `json:"records_restored"`
}

// IdentityRestore reports the identity step. Users are counted, not written back.
type IdentityRestore struct {
	ComponentResult
	EligibleUsers    int    `json:"eligible_users"`
	EligibleProfiles int    `json:"eligible_profiles"`
	Note             string `json:"note,omitempty"`
}

// StorageRestore reports the storage step
type StorageRestore struct {
	ComponentResult
	BucketsRestored int      `json:"buckets_restored"`
	FilesRestored   int      `json:"files_restored"`
	BytesRestored   int64    `json:"bytes_restored"`
	SkippedBuckets  []string `json:"skipped_buckets,omitempty"`
	FailedFiles     []string `json:"failed_files,omitempty"`
}

// TableCheck compares a restored table with the backup
type TableCheck struct {
	Table    string `json:"table"`
	Expected int    `json:"expected"`
	Actual   int64  `json:"actual"`
	Passed   bool   `json:"passed"`
}

// PostValidation is the state check run after restoring
type PostValidation struct {
	IsValid  bool         `json:"is_valid"`
	Checks   []TableCheck `json:"checks,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Result is one persisted rollback record
type Result struct {
	RollbackID    string          `json:"rollback_id"`
	BackupID      string          `json:"backup_id"`
	Timestamp     time.Time       `json:"timestamp"`
	OverallStatus Status          `json:"overall_status"`
	Database      DatabaseRestore `json:"database"`
	Identity      IdentityRestore `json:"identity"`
	Storage       StorageRestore  `json:"storage"`
	Validation    PostValidation  `json:"validation"`
	Errors        []string        `json:"errors,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// Plan describes the table order a rollback will use
type Plan struct {
	BackupID string `json:"backup_id"`
	// ClearOrder deletes dependents before the tables they reference. It
	// covers every live table, not only the backed up ones.
	ClearOrder []string `json:"clear_order"`
	// InsertOrder restores the backed up tables, parents first
	InsertOrder []string `json:"insert_order"`
	OrderSource string   `json:"order_source"`
	Warnings    []string `json:"warnings,omitempty"`
}
