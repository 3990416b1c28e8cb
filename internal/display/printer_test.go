package display

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"migration-guard/internal/backup"
	"migration-guard/internal/checkpoint"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/monitor"
)

func newTestPrinter(format string) (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	p := NewPrinter(&DisplayConfig{
		ColorEnabled: true,
		OutputFormat: format,
		Writer:       &buf,
		Reader:       strings.NewReader(""),
	})
	return p, &buf
}

func TestPrinterStatusLines(t *testing.T) {
	p, buf := newTestPrinter("table")
	p.Success("backup created")
	p.Warning("2 files skipped")
	p.Error("bucket unreachable")
	p.Info("done")

	assert.Equal(t, "[SUCCESS] backup created\n[WARNING] 2 files skipped\n[ERROR] bucket unreachable\n[INFO] done\n", buf.String())
}

func TestPrinterQuietDropsInfo(t *testing.T) {
	p, buf := newTestPrinter("table")
	p.Config().QuietMode = true
	p.Info("hidden")
	p.Header("hidden too")
	p.Error("shown")

	assert.Equal(t, "[ERROR] shown\n", buf.String())
}

func TestPrinterKeyValues(t *testing.T) {
	p, buf := newTestPrinter("table")
	p.KeyValues([][2]string{{"Status", "COMPLETED"}, {"Size", "1.0 KB"}})

	assert.Equal(t, "  Status: COMPLETED\n  Size:   1.0 KB\n", buf.String())
}

func TestPrinterEmit(t *testing.T) {
	doc := map[string]interface{}{"backup_id": "b-1", "total_size": 42}

	t.Run("json", func(t *testing.T) {
		p, buf := newTestPrinter("json")
		p.Info("never printed in structured mode")
		handled, err := p.Emit(doc)
		require.NoError(t, err)
		assert.True(t, handled)

		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, "b-1", out["backup_id"])
	})

	t.Run("yaml uses json field names", func(t *testing.T) {
		p, buf := newTestPrinter("yaml")
		handled, err := p.Emit(backup.ValidationResult{BackupID: "b-1", IsValid: true, Errors: []string{}})
		require.NoError(t, err)
		assert.True(t, handled)

		var out map[string]interface{}
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, "b-1", out["backup_id"])
		assert.Equal(t, true, out["is_valid"])
	})

	t.Run("table is not handled", func(t *testing.T) {
		p, buf := newTestPrinter("table")
		handled, err := p.Emit(doc)
		require.NoError(t, err)
		assert.False(t, handled)
		assert.Empty(t, buf.String())
	})
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "3.0 GB", FormatBytes(3<<30))
}

func TestBackupListView(t *testing.T) {
	p, buf := newTestPrinter("table")
	meta := backup.Metadata{
		BackupID:    "backup-20260301-090000-abcd1234",
		Timestamp:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:      backup.StatusCompleted,
		TotalSize:   2048,
		Description: "pre-cutover",
	}
	meta.Database.TableCount = 3
	meta.Database.RecordCount = 120

	require.NoError(t, p.BackupList([]backup.Metadata{meta}))
	out := buf.String()
	assert.Contains(t, out, "backup-20260301-090000-abcd1234")
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "pre-cutover")
	assert.Contains(t, out, "[INFO] 1 backup(s)")

	buf.Reset()
	require.NoError(t, p.BackupList(nil))
	assert.Equal(t, "[INFO] No backups found\n", buf.String())
}

func TestCheckpointViewMarksFailedChecks(t *testing.T) {
	p, buf := newTestPrinter("table")
	info := &checkpoint.Info{
		ID:       "cp-1",
		Name:     "after data",
		Phase:    checkpoint.PhaseDataMigrated,
		Status:   checkpoint.StatusFailed,
		BackupID: "b-1",
		Checks: []checkpoint.Check{
			{Name: "users", Kind: checkpoint.CheckRecordCount, Expected: "10", Actual: "9", Blocking: true},
			{Name: "users checksum", Kind: checkpoint.CheckChecksum, Expected: "aa", Actual: "bb"},
			{Name: "files", Kind: checkpoint.CheckFileCount, Expected: "4", Actual: "4", Passed: true, Blocking: true},
		},
		FailureReason: "users: expected 10, got 9",
	}

	require.NoError(t, p.Checkpoint(info))
	out := buf.String()
	assert.Contains(t, out, "Checkpoint after data (DATA_MIGRATED)")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "warn")
	assert.Contains(t, out, "pass")
	assert.Contains(t, out, "Failure:")
}

func TestStatusReportView(t *testing.T) {
	p, buf := newTestPrinter("table")
	remaining := 90 * time.Second
	report := &monitor.StatusReport{
		Metrics: monitor.Metrics{
			MigrationID:        "mig-1",
			CurrentPhase:       "data",
			Totals:             monitor.Totals{Records: 1000},
			Processed:          monitor.Progress{Records: 100, Errors: 2},
			ProgressPercentage: 10,
			RecordsPerSecond:   10,
			Elapsed:            10 * time.Second,
		},
		ETA:             monitor.ETA{Remaining: &remaining, Confidence: 80},
		Alerts:          []string{"2 errors encountered during migration"},
		Recommendations: []string{"Review the error log"},
	}

	require.NoError(t, p.StatusReport(report))
	out := buf.String()
	assert.Contains(t, out, "10.0% (100 of 1000 records)")
	assert.Contains(t, out, "1m30s (confidence 80%)")
	assert.Contains(t, out, "[WARNING] 2 errors encountered during migration")
	assert.Contains(t, out, "  - Review the error log")
}

func TestConfirmationDialog(t *testing.T) {
	t.Run("assume yes", func(t *testing.T) {
		p, buf := newTestPrinter("table")
		p.Config().AssumeYes = true
		ok, err := p.NewConfirmationDialog("Delete backup", "b-1").Show()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, buf.String())
	})

	t.Run("non interactive refuses", func(t *testing.T) {
		p, _ := newTestPrinter("table")
		_, err := p.NewConfirmationDialog("Delete backup", "b-1").Show()
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	for answer, want := range map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false} {
		p, buf := newTestPrinter("table")
		p.Config().Reader = strings.NewReader(answer)
		dialog := p.NewConfirmationDialog("Roll back", "Restore backup b-1").
			AddDetail("3 tables will be cleared").
			SetDestructive(true)
		dialog.interactive = func() bool { return true }

		ok, err := dialog.Show()
		require.NoError(t, err)
		assert.Equal(t, want, ok, "answer %q", answer)
		assert.Contains(t, buf.String(), "  - 3 tables will be cleared")
		assert.Contains(t, buf.String(), "Proceed? [y/N]: ")
	}
}

func TestDisplayConfigValidate(t *testing.T) {
	cfg := DefaultDisplayConfig()
	require.NoError(t, cfg.Validate())

	cfg.Theme = "neon"
	cfg.OutputFormat = "xml"
	cfg.TableStyle = "fancy"
	cfg.MaxTableWidth = 10
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	for _, want := range []string{"neon", "xml", "fancy", "got 10"} {
		assert.Contains(t, err.Error(), want)
	}
}
