package backup

import (
	"fmt"
	"strings"
)

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	BackupErrorTypeStorage     BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeValidation  BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeCompression BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption  BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeCorruption  BackupErrorType = "CORRUPTION_ERROR"
	BackupErrorTypeComponent   BackupErrorType = "COMPONENT_ERROR"
	BackupErrorTypeCancelled   BackupErrorType = "CANCELLED"
)

// BackupError represents errors that occur during backup operations
type BackupError struct {
	Type     BackupErrorType        `json:"type"`
	BackupID string                 `json:"backup_id,omitempty"`
	Message  string                 `json:"message"`
	Failures []string               `json:"failures,omitempty"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	msg := e.Message
	if e.BackupID != "" {
		msg = fmt.Sprintf("Backup %s %s", e.BackupID, e.Message)
	}
	if len(e.Failures) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Failures, ", "))
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

// NewCorruptionError reports a backup whose artifacts failed integrity checks.
// The message reads "Backup <id> is corrupted: <reason1>, <reason2>".
func NewCorruptionError(backupID string, failures []string) *BackupError {
	err := NewBackupError(BackupErrorTypeCorruption, "is corrupted", nil)
	err.BackupID = backupID
	err.Failures = append([]string(nil), failures...)
	return err
}

// NewComponentError reports that one or more backup components failed
func NewComponentError(backupID string, failures []string) *BackupError {
	err := NewBackupError(BackupErrorTypeComponent, "failed", nil)
	err.BackupID = backupID
	err.Failures = append([]string(nil), failures...)
	return err
}

// NewValidationError reports artifacts that failed the post-write structural check
func NewValidationError(backupID string, failures []string) *BackupError {
	err := NewBackupError(BackupErrorTypeValidation, "failed validation", nil)
	err.BackupID = backupID
	err.Failures = append([]string(nil), failures...)
	return err
}
