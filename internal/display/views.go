package display

import (
	"fmt"
	"strconv"
	"time"

	"migration-guard/internal/backup"
	"migration-guard/internal/checkpoint"
	"migration-guard/internal/monitor"
	"migration-guard/internal/rollback"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func itoa(n int) string { return strconv.Itoa(n) }

func (p *Printer) statusText(status string) string {
	theme := p.colors.Theme()
	switch status {
	case "COMPLETED", "VALIDATED", "ACTIVE", "RESOLVED":
		return p.colors.Colorize(status, theme.Success)
	case "FAILED", "CORRUPTED", "CRITICAL", "HIGH":
		return p.colors.Colorize(status, theme.Error)
	case "PARTIAL", "SUPERSEDED", "MEDIUM", "ACKNOWLEDGED":
		return p.colors.Colorize(status, theme.Warning)
	default:
		return status
	}
}

// BackupList renders the backup catalog, newest first as returned by the engine
func (p *Printer) BackupList(backups []backup.Metadata) error {
	if ok, err := p.Emit(backups); ok {
		return err
	}
	if len(backups) == 0 {
		p.Info("No backups found")
		return nil
	}

	t := p.NewTable("BACKUP ID", "CREATED", "STATUS", "SIZE", "TABLES", "RECORDS", "USERS", "FILES", "DESCRIPTION")
	for _, col := range []int{3, 4, 5, 6, 7} {
		t.SetColumnAlignment(col, AlignRight)
	}
	for _, m := range backups {
		t.AddRow(
			m.BackupID,
			formatTime(m.Timestamp),
			string(m.Status),
			FormatBytes(m.TotalSize),
			itoa(m.Database.TableCount),
			itoa(m.Database.RecordCount),
			itoa(m.Identity.UserCount),
			itoa(m.Storage.TotalFiles),
			dash(m.Description),
		)
	}
	p.Table(t)
	p.Info(fmt.Sprintf("%d backup(s)", len(backups)))
	return nil
}

// BackupDetails renders one backup with its three components
func (p *Printer) BackupDetails(result *backup.CompleteBackupResult) error {
	if ok, err := p.Emit(result); ok {
		return err
	}

	p.Header("Backup " + result.BackupID)
	p.KeyValues([][2]string{
		{"Status", p.statusText(string(result.Status))},
		{"Created", formatTime(result.Timestamp)},
		{"Description", dash(result.Description)},
		{"Total size", FormatBytes(result.TotalSize)},
		{"Checksum", result.OverallChecksum},
		{"Codec", codecText(result.Codec)},
		{"Duration", result.Duration.Round(time.Millisecond).String()},
		{"Location", dash(result.Path)},
	})

	t := p.NewTable("COMPONENT", "STATUS", "ITEMS", "SKIPPED", "SIZE", "CHECKSUM")
	t.SetColumnAlignment(2, AlignRight).SetColumnAlignment(3, AlignRight).SetColumnAlignment(4, AlignRight)
	t.AddRow("database", string(result.Database.Status),
		fmt.Sprintf("%d tables / %d records", result.Database.TableCount, result.Database.RecordCount),
		itoa(result.Database.SkippedCount), FormatBytes(result.Database.Size), result.Database.Checksum)
	t.AddRow("identity", string(result.Identity.Status),
		fmt.Sprintf("%d users / %d profiles", result.Identity.UserCount, result.Identity.ProfileCount),
		itoa(result.Identity.SkippedCount), FormatBytes(result.Identity.Size), result.Identity.Checksum)
	t.AddRow("storage", string(result.Storage.Status),
		fmt.Sprintf("%d buckets / %d files", len(result.Storage.Buckets), result.Storage.TotalFiles),
		itoa(result.Storage.SkippedCount), FormatBytes(result.Storage.TotalBytes), result.Storage.Checksum)
	p.Section("Components")
	p.Table(t)

	if len(result.Storage.Buckets) > 0 {
		bt := p.NewTable("BUCKET", "PUBLIC", "FILES", "SIZE", "SKIPPED")
		for _, b := range result.Storage.Buckets {
			bt.AddRow(b.Name, strconv.FormatBool(b.Public), itoa(b.FileCount), FormatBytes(b.TotalBytes), itoa(b.SkippedCount))
		}
		p.Section("Buckets")
		p.Table(bt)
	}

	var problems []string
	for _, c := range []struct {
		name string
		res  backup.ComponentResult
	}{
		{"database", result.Database.ComponentResult},
		{"identity", result.Identity.ComponentResult},
		{"storage", result.Storage.ComponentResult},
	} {
		if c.res.Error != "" {
			problems = append(problems, fmt.Sprintf("%s: %s", c.name, c.res.Error))
		}
		for _, item := range c.res.SkippedItems {
			problems = append(problems, fmt.Sprintf("%s skipped %s", c.name, item))
		}
	}
	problems = append(problems, result.ValidationErrs...)
	if len(problems) > 0 {
		p.Section("Problems")
		p.List(problems)
	}
	return nil
}

func codecText(c backup.CodecInfo) string {
	s := string(c.Compression)
	if s == "" {
		s = "none"
	}
	if c.Encrypted {
		s += " + aes-gcm"
	}
	return s
}

// BackupValidation renders an integrity check
func (p *Printer) BackupValidation(result *backup.ValidationResult) error {
	if ok, err := p.Emit(result); ok {
		return err
	}
	if result.IsValid {
		p.Success(fmt.Sprintf("Backup %s is valid", result.BackupID))
	} else {
		p.Error(fmt.Sprintf("Backup %s failed validation", result.BackupID))
	}
	if len(result.Errors) > 0 {
		p.Section("Errors")
		p.List(result.Errors)
	}
	if len(result.Warnings) > 0 {
		p.Section("Warnings")
		p.List(result.Warnings)
	}
	return nil
}

// RollbackPlan renders the table order a rollback will use
func (p *Printer) RollbackPlan(plan *rollback.Plan) error {
	if ok, err := p.Emit(plan); ok {
		return err
	}
	p.Header("Rollback plan for " + plan.BackupID)
	p.KeyValues([][2]string{
		{"Order source", plan.OrderSource},
		{"Tables cleared", itoa(len(plan.ClearOrder))},
		{"Tables restored", itoa(len(plan.InsertOrder))},
	})
	t := p.NewTable("STEP", "CLEAR", "INSERT")
	t.SetColumnAlignment(0, AlignRight)
	steps := len(plan.ClearOrder)
	if len(plan.InsertOrder) > steps {
		steps = len(plan.InsertOrder)
	}
	for i := 0; i < steps; i++ {
		var clearing, insert string
		if i < len(plan.ClearOrder) {
			clearing = plan.ClearOrder[i]
		}
		if i < len(plan.InsertOrder) {
			insert = plan.InsertOrder[i]
		}
		t.AddRow(itoa(i+1), clearing, insert)
	}
	p.Table(t)
	for _, w := range plan.Warnings {
		p.Warning(w)
	}
	return nil
}

// RollbackResult renders a finished rollback
func (p *Printer) RollbackResult(result *rollback.Result) error {
	if ok, err := p.Emit(result); ok {
		return err
	}

	p.Header("Rollback " + result.RollbackID)
	p.KeyValues([][2]string{
		{"Backup", result.BackupID},
		{"Status", p.statusText(string(result.OverallStatus))},
		{"Started", formatTime(result.Timestamp)},
		{"Duration", result.Duration.Round(time.Millisecond).String()},
	})

	t := p.NewTable("COMPONENT", "STATUS", "RESULT", "DURATION")
	t.AddRow("database", string(result.Database.Status),
		fmt.Sprintf("%d tables / %d records restored", result.Database.TablesRestored, result.Database.RecordsRestored),
		result.Database.Duration.Round(time.Millisecond).String())
	t.AddRow("identity", string(result.Identity.Status),
		fmt.Sprintf("%d users / %d profiles eligible", result.Identity.EligibleUsers, result.Identity.EligibleProfiles),
		result.Identity.Duration.Round(time.Millisecond).String())
	t.AddRow("storage", string(result.Storage.Status),
		fmt.Sprintf("%d buckets / %d files restored", result.Storage.BucketsRestored, result.Storage.FilesRestored),
		result.Storage.Duration.Round(time.Millisecond).String())
	p.Section("Components")
	p.Table(t)

	if len(result.Validation.Checks) > 0 {
		ct := p.NewTable("TABLE", "EXPECTED", "ACTUAL", "PASSED")
		ct.SetColumnAlignment(1, AlignRight).SetColumnAlignment(2, AlignRight)
		for _, c := range result.Validation.Checks {
			ct.AddRow(c.Table, itoa(c.Expected), strconv.FormatInt(c.Actual, 10), strconv.FormatBool(c.Passed))
		}
		p.Section("Post-rollback validation")
		p.Table(ct)
	}

	if result.Identity.Note != "" {
		p.Warning(result.Identity.Note)
	}
	for _, w := range append(append([]string{}, result.Storage.SkippedBuckets...), result.Validation.Warnings...) {
		p.Warning(w)
	}
	if len(result.Errors) > 0 {
		p.Section("Errors")
		p.List(result.Errors)
	}
	return nil
}

// RollbackHistory renders past rollbacks
func (p *Printer) RollbackHistory(results []rollback.Result) error {
	if ok, err := p.Emit(results); ok {
		return err
	}
	if len(results) == 0 {
		p.Info("No rollbacks recorded")
		return nil
	}
	t := p.NewTable("ROLLBACK ID", "BACKUP ID", "STARTED", "STATUS", "RECORDS", "FILES", "DURATION")
	t.SetColumnAlignment(4, AlignRight).SetColumnAlignment(5, AlignRight)
	for _, r := range results {
		t.AddRow(r.RollbackID, r.BackupID, formatTime(r.Timestamp), string(r.OverallStatus),
			itoa(r.Database.RecordsRestored), itoa(r.Storage.FilesRestored),
			r.Duration.Round(time.Millisecond).String())
	}
	p.Table(t)
	return nil
}

// Checkpoints renders a checkpoint list
func (p *Printer) Checkpoints(infos []*checkpoint.Info) error {
	if ok, err := p.Emit(infos); ok {
		return err
	}
	if len(infos) == 0 {
		p.Info("No checkpoints found")
		return nil
	}
	t := p.NewTable("ID", "NAME", "PHASE", "STATUS", "BACKUP ID", "CREATED")
	for _, c := range infos {
		t.AddRow(c.ID, c.Name, string(c.Phase), string(c.Status), c.BackupID, formatTime(c.CreatedAt))
	}
	p.Table(t)
	return nil
}

// Checkpoint renders one checkpoint with its recorded state and checks
func (p *Printer) Checkpoint(info *checkpoint.Info) error {
	if ok, err := p.Emit(info); ok {
		return err
	}
	p.Header(fmt.Sprintf("Checkpoint %s (%s)", info.Name, info.Phase))
	pairs := [][2]string{
		{"ID", info.ID},
		{"Status", p.statusText(string(info.Status))},
		{"Backup", info.BackupID},
		{"Created", formatTime(info.CreatedAt)},
		{"Tables", itoa(len(info.Metadata.TableCounts))},
		{"Users", fmt.Sprintf("%d of %d", info.Metadata.Users.Migrated, info.Metadata.Users.Total)},
		{"Files", fmt.Sprintf("%d of %d", info.Metadata.Files.Migrated, info.Metadata.Files.Total)},
	}
	if info.Description != "" {
		pairs = append(pairs, [2]string{"Description", info.Description})
	}
	if info.SupersededBy != "" {
		pairs = append(pairs, [2]string{"Superseded by", info.SupersededBy})
	}
	if info.FailureReason != "" {
		pairs = append(pairs, [2]string{"Failure", info.FailureReason})
	}
	p.KeyValues(pairs)
	p.checks(info.Checks)
	return nil
}

func (p *Printer) checks(checks []checkpoint.Check) {
	if len(checks) == 0 {
		return
	}
	t := p.NewTable("CHECK", "KIND", "EXPECTED", "ACTUAL", "RESULT")
	for _, c := range checks {
		result := "pass"
		switch {
		case !c.Passed && c.Blocking:
			result = p.colors.Colorize("FAIL", p.colors.Theme().Error)
		case !c.Passed:
			result = p.colors.Colorize("warn", p.colors.Theme().Warning)
		}
		t.AddRow(c.Name, string(c.Kind), c.Expected, c.Actual, result)
	}
	p.Section("Checks")
	p.Table(t)
}

// CheckpointRollback renders the outcome of rolling back to a checkpoint
func (p *Printer) CheckpointRollback(result *checkpoint.RollbackResult) error {
	if ok, err := p.Emit(result); ok {
		return err
	}
	if result.Success {
		p.Success(fmt.Sprintf("Rolled back to checkpoint %s (backup %s)", result.CheckpointID, result.BackupID))
	} else {
		p.Error(fmt.Sprintf("Rollback to checkpoint %s failed", result.CheckpointID))
	}
	p.KeyValues([][2]string{
		{"Rollback", dash(result.RollbackID)},
		{"Components", fmt.Sprintf("%v", result.ComponentsRolledBack)},
		{"Duration", result.Duration.Round(time.Millisecond).String()},
	})
	p.checks(result.Checks)
	if len(result.Errors) > 0 {
		p.Section("Errors")
		p.List(result.Errors)
	}
	return nil
}

// Alerts renders alerts newest first
func (p *Printer) Alerts(alerts []monitor.Alert) error {
	if ok, err := p.Emit(alerts); ok {
		return err
	}
	if len(alerts) == 0 {
		p.Info("No alerts")
		return nil
	}
	t := p.NewTable("ID", "CREATED", "SEVERITY", "TYPE", "STATUS", "TITLE", "MESSAGE")
	for _, a := range alerts {
		t.AddRow(a.ID, formatTime(a.CreatedAt), string(a.Severity), string(a.Type), string(a.Status()), a.Title, a.Message)
	}
	p.Table(t)
	return nil
}

// StatusReport renders a migration status report
func (p *Printer) StatusReport(report *monitor.StatusReport) error {
	if ok, err := p.Emit(report); ok {
		return err
	}
	m := report.Metrics
	p.Header("Migration " + m.MigrationID)

	remaining := "unknown"
	if report.ETA.Remaining != nil {
		remaining = report.ETA.Remaining.Round(time.Second).String()
	}
	p.KeyValues([][2]string{
		{"Phase", dash(m.CurrentPhase)},
		{"Progress", fmt.Sprintf("%.1f%% (%d of %d records)", m.ProgressPercentage, m.Processed.Records, m.Totals.Records)},
		{"Throughput", fmt.Sprintf("%.1f records/sec", m.RecordsPerSecond)},
		{"Elapsed", m.Elapsed.Round(time.Second).String()},
		{"Remaining", fmt.Sprintf("%s (confidence %.0f%%)", remaining, report.ETA.Confidence)},
		{"Errors", strconv.FormatInt(m.Processed.Errors, 10)},
		{"Warnings", strconv.FormatInt(m.Processed.Warnings, 10)},
		{"Heap", FormatBytes(int64(m.HeapBytes))},
	})

	if len(report.Phases) > 0 {
		t := p.NewTable("PHASE", "STATUS", "DURATION", "RECORDS", "FILES")
		t.SetColumnAlignment(3, AlignRight).SetColumnAlignment(4, AlignRight)
		for _, ph := range report.Phases {
			t.AddRow(ph.Name, string(ph.Status), ph.Duration.Round(time.Second).String(),
				strconv.FormatInt(ph.Processed.Records, 10), strconv.FormatInt(ph.Processed.Files, 10))
		}
		p.Section("Phases")
		p.Table(t)
	}
	for _, a := range report.Alerts {
		p.Warning(a)
	}
	if len(report.Recommendations) > 0 {
		p.Section("Recommendations")
		p.List(report.Recommendations)
	}
	return nil
}

// MetricsHistory renders persisted snapshots in sequence order
func (p *Printer) MetricsHistory(history []monitor.Metrics) error {
	if ok, err := p.Emit(history); ok {
		return err
	}
	if len(history) == 0 {
		p.Info("No metrics recorded")
		return nil
	}
	t := p.NewTable("SEQ", "TIME", "PHASE", "RECORDS", "PROGRESS", "RATE", "ERRORS")
	for _, col := range []int{0, 3, 4, 5, 6} {
		t.SetColumnAlignment(col, AlignRight)
	}
	for _, m := range history {
		t.AddRow(itoa(m.Sequence), formatTime(m.Timestamp), dash(m.CurrentPhase),
			strconv.FormatInt(m.Processed.Records, 10),
			fmt.Sprintf("%.1f%%", m.ProgressPercentage),
			fmt.Sprintf("%.1f/s", m.RecordsPerSecond),
			strconv.FormatInt(m.Processed.Errors, 10))
	}
	p.Table(t)
	return nil
}
