// Package monitor tracks the live progress of a migration run and raises
// alerts when the run misbehaves.
//
// A Tracker hands out one Session per running migration. Sessions keep
// additive counters, per-phase deltas and a bounded history of snapshots
// used for ETA confidence. The AlertEngine evaluates rules against the
// active session and recent structured log entries, persists every alert
// it raises and fans it out to notification channels.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"migration-guard/internal/config"
)

// Progress holds the live counters of a migration. It doubles as the delta
// passed to UpdateProgress.
type Progress struct {
	Records  int64 `json:"records"`
	Tables   int64 `json:"tables"`
	Files    int64 `json:"files"`
	Bytes    int64 `json:"bytes"`
	Errors   int64 `json:"errors"`
	Warnings int64 `json:"warnings"`
}

func (p Progress) add(d Progress) Progress {
	return Progress{
		Records:  p.Records + d.Records,
		Tables:   p.Tables + d.Tables,
		Files:    p.Files + d.Files,
		Bytes:    p.Bytes + d.Bytes,
		Errors:   p.Errors + d.Errors,
		Warnings: p.Warnings + d.Warnings,
	}
}

func (p Progress) sub(o Progress) Progress {
	return Progress{
		Records:  p.Records - o.Records,
		Tables:   p.Tables - o.Tables,
		Files:    p.Files - o.Files,
		Bytes:    p.Bytes - o.Bytes,
		Errors:   p.Errors - o.Errors,
		Warnings: p.Warnings - o.Warnings,
	}
}

func (p Progress) negative() bool {
	return p.Records < 0 || p.Tables < 0 || p.Files < 0 || p.Bytes < 0 || p.Errors < 0 || p.Warnings < 0
}

// Totals is the expected volume of a migration
type Totals struct {
	Records int64 `json:"records"`
	Tables  int64 `json:"tables"`
	Files   int64 `json:"files"`
	Bytes   int64 `json:"bytes"`
}

// Metrics is a consistent view of a session. Derived fields are computed
// when the view is taken.
type Metrics struct {
	MigrationID  string    `json:"migration_id"`
	Sequence     int       `json:"sequence,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	StartTime    time.Time `json:"start_time"`
	CurrentPhase string    `json:"current_phase,omitempty"`
	Totals       Totals    `json:"totals"`
	Processed    Progress  `json:"processed"`

	Elapsed            time.Duration `json:"elapsed"`
	ProgressPercentage float64       `json:"progress_percentage"`
	RecordsPerSecond   float64       `json:"records_per_second"`
	// EstimatedRemaining is nil while throughput is zero or the run is done
	EstimatedRemaining *time.Duration `json:"estimated_remaining,omitempty"`
	HeapBytes          uint64         `json:"heap_bytes"`
}

// ErrorRatio is errors per processed record. With nothing processed any
// error counts as a full failure.
func (m Metrics) ErrorRatio() float64 {
	if m.Processed.Errors == 0 {
		return 0
	}
	if m.Processed.Records == 0 {
		return 1
	}
	return float64(m.Processed.Errors) / float64(m.Processed.Records)
}

// PhaseStatus is the state of one migration phase
type PhaseStatus string

const (
	PhaseInProgress PhaseStatus = "IN_PROGRESS"
	PhaseCompleted  PhaseStatus = "COMPLETED"
	PhaseFailed     PhaseStatus = "FAILED"
)

// PhaseMetrics records when a phase ran and what it processed
type PhaseMetrics struct {
	Name      string        `json:"name"`
	Status    PhaseStatus   `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Processed Progress      `json:"processed"`
}

// ETA is the projected completion of the running migration
type ETA struct {
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	Remaining           *time.Duration `json:"remaining,omitempty"`
	// Confidence is 0-100 and stays 0 until three snapshots exist
	Confidence float64 `json:"confidence"`
}

// StatusReport bundles everything an operator needs to judge a run
type StatusReport struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Metrics         Metrics        `json:"metrics"`
	Phases          []PhaseMetrics `json:"phases"`
	ETA             ETA            `json:"eta"`
	Alerts          []string       `json:"alerts"`
	Recommendations []string       `json:"recommendations"`
}

// EventKind identifies a tracker event
type EventKind string

const (
	EventMigrationStarted EventKind = "migration_started"
	EventMigrationEnded   EventKind = "migration_ended"
	EventPhaseStarted     EventKind = "phase_started"
	EventPhaseEnded       EventKind = "phase_ended"
	EventProgress         EventKind = "progress"
)

// Event is emitted by a Tracker to its subscribers
type Event struct {
	Kind        EventKind
	MigrationID string
	Phase       string
	Metrics     Metrics
}

// Severity of an alert
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity accepts any letter case
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// AlertType classifies what an alert is about
type AlertType string

const (
	AlertTypeError         AlertType = "ERROR"
	AlertTypePerformance   AlertType = "PERFORMANCE"
	AlertTypeResource      AlertType = "RESOURCE"
	AlertTypeProgress      AlertType = "PROGRESS"
	AlertTypeSecurity      AlertType = "SECURITY"
	AlertTypeDataIntegrity AlertType = "DATA_INTEGRITY"
)

// AlertStatus is derived from the acknowledgement and resolution flags
type AlertStatus string

const (
	AlertTriggered    AlertStatus = "TRIGGERED"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
)

// Alert is one triggered rule instance
type Alert struct {
	ID             string                 `json:"id"`
	RuleID         string                 `json:"rule_id"`
	Type           AlertType              `json:"type"`
	Severity       Severity               `json:"severity"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	MigrationID    string                 `json:"migration_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	Acknowledged   bool                   `json:"acknowledged"`
	AcknowledgedBy string                 `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
	Resolved       bool                   `json:"resolved"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
}

// Status reports where the alert is in its lifecycle
func (a Alert) Status() AlertStatus {
	switch {
	case a.Resolved:
		return AlertResolved
	case a.Acknowledged:
		return AlertAcknowledged
	default:
		return AlertTriggered
	}
}

// Thresholds parameterize the built-in rules and the status report
type Thresholds struct {
	ErrorCount           int64
	ErrorRatio           float64
	LowThroughput        float64
	LowThroughputRecords int64
	StallAfter           time.Duration
	HeapBytes            uint64
	LongPhase            time.Duration
	WarningCount         int64
}

// DefaultThresholds mirror the configuration defaults
func DefaultThresholds() Thresholds {
	mc := config.MonitorConfig{}
	mc.SetDefaults()
	return ThresholdsFromConfig(mc.Thresholds)
}

// ThresholdsFromConfig converts the configuration section
func ThresholdsFromConfig(t config.RuleThresholds) Thresholds {
	return Thresholds{
		ErrorCount:           t.ErrorCount,
		ErrorRatio:           t.ErrorRatio,
		LowThroughput:        t.LowThroughput,
		LowThroughputRecords: t.LowThroughputRecords,
		StallAfter:           t.StallAfter,
		HeapBytes:            t.HeapBytes,
		LongPhase:            t.LongPhase,
		WarningCount:         t.WarningCount,
	}
}
