// Package checkpoint gates migration progression on phase-tagged backups.
// Each checkpoint records live-state metadata at creation time so later
// validation can detect drift before the orchestrator moves on.
package checkpoint

import (
	"fmt"
	"strings"
	"time"
)

// Phase is one step of the fixed migration sequence
type Phase string

const (
	PhaseInitial            Phase = "INITIAL"
	PhaseSchemaExtracted    Phase = "SCHEMA_EXTRACTED"
	PhaseDataMigrated       Phase = "DATA_MIGRATED"
	PhaseUsersMigrated      Phase = "USERS_MIGRATED"
	PhaseFilesMigrated      Phase = "FILES_MIGRATED"
	PhaseValidationComplete Phase = "VALIDATION_COMPLETE"
	PhaseProductionReady    Phase = "PRODUCTION_READY"
)

var phaseOrder = []Phase{
	PhaseInitial,
	PhaseSchemaExtracted,
	PhaseDataMigrated,
	PhaseUsersMigrated,
	PhaseFilesMigrated,
	PhaseValidationComplete,
	PhaseProductionReady,
}

// Phases returns the migration sequence in order
func Phases() []Phase {
	return append([]Phase(nil), phaseOrder...)
}

// ParsePhase accepts the canonical name in any case, with '-' or '_'
func ParsePhase(s string) (Phase, error) {
	normalized := Phase(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	for _, p := range phaseOrder {
		if p == normalized {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown migration phase %q", s)
}

// Index returns the position of p in the sequence, or -1
func (p Phase) Index() int {
	for i, q := range phaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is part of the sequence
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the following phase; ok is false for the last one
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// Status is the lifecycle state of a checkpoint
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusValidated  Status = "VALIDATED"
	StatusActive     Status = "ACTIVE"
	StatusSuperseded Status = "SUPERSEDED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s == StatusSuperseded || s == StatusFailed
}

// Authoritative reports whether the checkpoint currently stands for its phase
func (s Status) Authoritative() bool {
	return s == StatusValidated || s == StatusActive
}

// Counts pairs a live total with the amount captured by the backup
type Counts struct {
	Total    int64 `json:"total"`
	Migrated int64 `json:"migrated"`
}

// Metadata is the live state captured with a checkpoint
type Metadata struct {
	TableCounts map[string]int64 `json:"table_counts"`
	// TableChecksums covers the configured critical tables only
	TableChecksums map[string]string `json:"table_checksums,omitempty"`
	Users          Counts            `json:"users"`
	Files          Counts            `json:"files"`
	Bytes          Counts            `json:"bytes"`
	CollectedAt    time.Time         `json:"collected_at"`
}

// CheckKind classifies a validation check
type CheckKind string

const (
	CheckRecordCount CheckKind = "record_count"
	CheckUserCount   CheckKind = "user_count"
	CheckFileCount   CheckKind = "file_count"
	CheckChecksum    CheckKind = "checksum"
)

// Check is one comparison between recorded and current state. Non-blocking
// checks are reported but never fail a checkpoint.
type Check struct {
	Name     string    `json:"name"`
	Kind     CheckKind `json:"kind"`
	Expected string    `json:"expected"`
	Actual   string    `json:"actual"`
	Passed   bool      `json:"passed"`
	Blocking bool      `json:"blocking"`
	Message  string    `json:"message,omitempty"`
}

// Info describes a checkpoint
type Info struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Phase         Phase      `json:"phase"`
	Description   string     `json:"description,omitempty"`
	Status        Status     `json:"status"`
	BackupID      string     `json:"backup_id"`
	Metadata      Metadata   `json:"metadata"`
	Checks        []Check    `json:"checks,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	SupersededBy  string     `json:"superseded_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
}

// FailedChecks returns the blocking checks that did not pass
func FailedChecks(checks []Check) []Check {
	var failed []Check
	for _, c := range checks {
		if c.Blocking && !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// RollbackResult is always returned by RollbackToCheckpoint, success or not
type RollbackResult struct {
	CheckpointID         string        `json:"checkpoint_id"`
	BackupID             string        `json:"backup_id,omitempty"`
	RollbackID           string        `json:"rollback_id,omitempty"`
	Success              bool          `json:"success"`
	ComponentsRolledBack []string      `json:"components_rolled_back"`
	Checks               []Check       `json:"checks,omitempty"`
	Errors               []string      `json:"errors,omitempty"`
	Duration             time.Duration `json:"duration"`
}

// CreationError wraps the cause of a failed CreateCheckpoint
type CreationError struct {
	Cause error
}

func (e *CreationError) Error() string {
	return "Checkpoint creation failed: " + e.Cause.Error()
}

func (e *CreationError) Unwrap() error {
	return e.Cause
}
