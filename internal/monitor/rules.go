package monitor

import (
	"fmt"
	"strings"
	"time"

	"migration-guard/internal/logging"
)

// Built-in rule ids
const (
	RuleHighErrorRate     = "high_error_rate"
	RuleCriticalLog       = "critical_log_entry"
	RuleLowThroughput     = "low_throughput"
	RuleProgressStall     = "progress_stall"
	RuleHighMemory        = "high_memory_usage"
	RuleDataIntegrity     = "data_integrity_violation"
	RuleLongPhase         = "long_running_phase"
	RuleExcessiveWarnings = "excessive_warnings"
)

var integrityKeywords = []string{"integrity", "constraint", "foreign key", "checksum mismatch", "corrupt"}

// DefaultRules returns the shipped rule set
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       RuleHighErrorRate,
			Title:    "High error rate",
			Type:     AlertTypeError,
			Severity: SeverityHigh,
			Cooldown: 15 * time.Minute,
			Condition: func(ec EvalContext) bool {
				return ec.Metrics != nil &&
					ec.Metrics.Processed.Errors > ec.Thresholds.ErrorCount &&
					ec.Metrics.ErrorRatio() > ec.Thresholds.ErrorRatio
			},
			Message: func(ec EvalContext) string {
				return fmt.Sprintf("%d errors for %d records processed (%.1f%%)",
					ec.Metrics.Processed.Errors, ec.Metrics.Processed.Records, ec.Metrics.ErrorRatio()*100)
			},
		},
		{
			ID:       RuleCriticalLog,
			Title:    "Critical log entry",
			Type:     AlertTypeError,
			Severity: SeverityCritical,
			Condition: func(ec EvalContext) bool {
				return len(logsAt(ec.RecentLogs, logging.EntryLevelCritical)) > 0
			},
			Message: func(ec EvalContext) string {
				entries := logsAt(ec.RecentLogs, logging.EntryLevelCritical)
				return fmt.Sprintf("%d critical log entries, latest: %s", len(entries), entries[0].Message)
			},
		},
		{
			ID:       RuleLowThroughput,
			Title:    "Low throughput",
			Type:     AlertTypePerformance,
			Severity: SeverityMedium,
			Cooldown: 10 * time.Minute,
			Condition: func(ec EvalContext) bool {
				return ec.Metrics != nil &&
					ec.Metrics.Processed.Records >= ec.Thresholds.LowThroughputRecords &&
					ec.Metrics.RecordsPerSecond < ec.Thresholds.LowThroughput
			},
			Message: func(ec EvalContext) string {
				return fmt.Sprintf("throughput is %.1f records/sec after %d records, expected at least %.1f",
					ec.Metrics.RecordsPerSecond, ec.Metrics.Processed.Records, ec.Thresholds.LowThroughput)
			},
		},
		{
			ID:       RuleProgressStall,
			Title:    "Migration stalled",
			Type:     AlertTypeProgress,
			Severity: SeverityHigh,
			Cooldown: 10 * time.Minute,
			Condition: func(ec EvalContext) bool {
				return ec.Metrics != nil &&
					ec.Metrics.Processed.Records == 0 &&
					ec.Metrics.Elapsed > ec.Thresholds.StallAfter
			},
			Message: func(ec EvalContext) string {
				return fmt.Sprintf("no records processed after %s", ec.Metrics.Elapsed.Truncate(time.Second))
			},
		},
		{
			ID:       RuleHighMemory,
			Title:    "High memory usage",
			Type:     AlertTypeResource,
			Severity: SeverityHigh,
			Cooldown: 5 * time.Minute,
			Condition: func(ec EvalContext) bool {
				return ec.Metrics != nil && ec.Thresholds.HeapBytes > 0 && ec.Metrics.HeapBytes > ec.Thresholds.HeapBytes
			},
			Message: func(ec EvalContext) string {
				return fmt.Sprintf("heap usage is %d MB, limit %d MB",
					ec.Metrics.HeapBytes/(1024*1024), ec.Thresholds.HeapBytes/(1024*1024))
			},
		},
		{
			ID:       RuleDataIntegrity,
			Title:    "Data integrity violation",
			Type:     AlertTypeDataIntegrity,
			Severity: SeverityCritical,
			Condition: func(ec EvalContext) bool {
				return len(integrityLogs(ec.RecentLogs)) > 0
			},
			Message: func(ec EvalContext) string {
				entries := integrityLogs(ec.RecentLogs)
				return fmt.Sprintf("%d log entries report integrity problems, latest: %s", len(entries), entries[0].Message)
			},
		},
		{
			ID:       RuleLongPhase,
			Title:    "Long running phase",
			Type:     AlertTypePerformance,
			Severity: SeverityMedium,
			Cooldown: 30 * time.Minute,
			Condition: func(ec EvalContext) bool {
				return ec.CurrentPhase != nil && ec.CurrentPhase.Duration > ec.Thresholds.LongPhase
			},
			Message: func(ec EvalContext) string {
				return fmt.Sprintf("phase %s has been running for %s",
					ec.CurrentPhase.Name, ec.CurrentPhase.Duration.Truncate(time.Second))
			},
		},
		{
			ID:       RuleExcessiveWarnings,
			Title:    "Excessive warnings",
			Type:     AlertTypeError,
			Severity: SeverityLow,
			Cooldown: 30 * time.Minute,
			Condition: func(ec EvalContext) bool {
				return ec.Metrics != nil && ec.Metrics.Processed.Warnings > ec.Thresholds.WarningCount
			},
			Message: func(ec EvalContext) string {
				return fmt.Sprintf("%d warnings recorded, threshold %d", ec.Metrics.Processed.Warnings, ec.Thresholds.WarningCount)
			},
		},
	}
}

// logsAt returns entries of the given level; input order (newest first) is kept
func logsAt(entries []logging.Entry, level logging.EntryLevel) []logging.Entry {
	var out []logging.Entry
	for _, e := range entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func integrityLogs(entries []logging.Entry) []logging.Entry {
	var out []logging.Entry
	for _, e := range entries {
		if e.Level != logging.EntryLevelError && e.Level != logging.EntryLevelCritical {
			continue
		}
		msg := strings.ToLower(e.Message)
		for _, kw := range integrityKeywords {
			if strings.Contains(msg, kw) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
