package application

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/backup"
	"migration-guard/internal/checkpoint"
	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/monitor"
	"migration-guard/internal/rollback"
	"migration-guard/internal/source"
)

type testEnv struct {
	app     *Application
	ds      *source.MemoryDataSource
	objects *source.MemoryObjectStore
	logs    *bytes.Buffer
	alerts  *bytes.Buffer
}

func seedRows(table string, n int) []source.Record {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]source.Record, n)
	for i := range out {
		out[i] = source.Record{
			"id":         fmt.Sprintf("%s-%d", table, i),
			"created_at": base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		}
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Backup.RootDir = filepath.Join(dir, "backups")
	cfg.Checkpoint.Dir = filepath.Join(dir, "checkpoints")
	cfg.Store.InMemory = true
	cfg.Store.Path = ""
	cfg.Notifications.Console.Enabled = true
	return cfg
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	ds := source.NewMemoryDataSource()
	ds.CreateTable("accounts", seedRows("accounts", 4)...)
	ds.CreateTable("invoices", seedRows("invoices", 16)...)
	ds.SetForeignKeys([]source.ForeignKey{
		{Table: "invoices", Column: "account_id", ReferencedTable: "accounts", ReferencedColumn: "id"},
	})

	objects := source.NewMemoryObjectStore()
	objects.CreateBucket(source.Bucket{Name: "receipts"})
	objects.PutObject("receipts", "2026/01/a.pdf", []byte("receipt-a"))
	objects.PutObject("receipts", "2026/01/b.pdf", []byte("receipt-b"))

	env := &testEnv{ds: ds, objects: objects, logs: &bytes.Buffer{}, alerts: &bytes.Buffer{}}
	app, err := New(context.Background(), cfg, Options{
		LogOutput:   env.logs,
		AlertOutput: env.alerts,
		Source:      ds,
		Identity:    source.NewMemoryIdentityProvider(source.User{ID: "u1", Email: "ops@example.com"}),
		Objects:     objects,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	env.app = app
	return env
}

func TestNewWiresEveryEngine(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	app := env.app

	assert.NotNil(t, app.Logger)
	assert.NotNil(t, app.Sink)
	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Backups)
	assert.NotNil(t, app.Rollbacks)
	assert.NotNil(t, app.Checkpoints)
	assert.NotNil(t, app.Tracker)
	assert.NotNil(t, app.Exporter)
	assert.Len(t, app.Alerts.Rules(), len(monitor.DefaultRules()))

	families, err := app.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewReportsConfigurationErrors(t *testing.T) {
	t.Run("missing backup root", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Backup.RootDir = ""
		_, err := New(context.Background(), cfg, Options{
			LogOutput: &bytes.Buffer{},
			Source:    source.NewMemoryDataSource(),
			Identity:  source.NewMemoryIdentityProvider(),
			Objects:   source.NewMemoryObjectStore(),
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
		assert.Contains(t, err.Error(), "backup.root_dir")
	})

	t.Run("unknown channel severity", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Notifications.Console.Severities = []string{"URGENT"}
		_, err := New(context.Background(), cfg, Options{
			LogOutput: &bytes.Buffer{},
			Source:    source.NewMemoryDataSource(),
			Identity:  source.NewMemoryIdentityProvider(),
			Objects:   source.NewMemoryObjectStore(),
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
	})
}

func TestCreateBackupIsMonitored(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()

	result, outcome, err := env.app.CreateBackup(ctx, "before cutover")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, backup.StatusCompleted, result.Status)

	require.NotNil(t, outcome)
	m := outcome.Report.Metrics
	assert.Equal(t, int64(20), m.Totals.Records)
	assert.Equal(t, int64(2), m.Totals.Tables)
	assert.Equal(t, int64(20), m.Processed.Records)
	assert.Equal(t, int64(2), m.Processed.Tables)
	assert.Equal(t, int64(2), m.Processed.Files)
	assert.Equal(t, 100.0, m.ProgressPercentage)

	require.Len(t, outcome.Report.Phases, 1)
	assert.Equal(t, "backup", outcome.Report.Phases[0].Name)
	assert.Equal(t, monitor.PhaseCompleted, outcome.Report.Phases[0].Status)

	history, err := env.app.Tracker.GetHistoricalMetrics(ctx, outcome.MigrationID)
	require.NoError(t, err)
	assert.NotEmpty(t, history)

	assert.Nil(t, env.app.Tracker.Active(), "session must be closed after the run")
}

func TestAbortedRunClosesSession(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, env.app.Alerts.StartMonitoring(ctx))
	defer env.app.Alerts.StopMonitoring()

	_, outcome, err := env.app.CreateBackup(ctx, "while monitoring runs elsewhere")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Nil(t, outcome)
	assert.Nil(t, env.app.Tracker.Active(), "an aborted run must not leave its session open")

	backups, err := env.app.Backups.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRollbackRestoresThroughApplication(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()

	created, _, err := env.app.CreateBackup(ctx, "baseline")
	require.NoError(t, err)

	env.ds.DeleteRows("invoices", 10)
	env.objects.PutObject("receipts", "2026/01/a.pdf", []byte("clobbered"))

	result, outcome, err := env.app.RollbackToBackup(ctx, created.BackupID)
	require.NoError(t, err)
	assert.Equal(t, rollback.StatusCompleted, result.OverallStatus)
	assert.Len(t, env.ds.Rows("invoices"), 16)

	data, ok := env.objects.Object("receipts", "2026/01/a.pdf")
	require.True(t, ok)
	assert.Equal(t, "receipt-a", string(data))

	assert.Equal(t, int64(20), outcome.Report.Metrics.Processed.Records)
	assert.Equal(t, int64(20), outcome.Report.Metrics.Totals.Records)
}

func TestRollbackOfUnknownBackupFails(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	_, outcome, err := env.app.RollbackToBackup(context.Background(), "backup-missing")
	require.Error(t, err)
	require.NotNil(t, outcome)
	require.Len(t, outcome.Report.Phases, 1)
	assert.Equal(t, monitor.PhaseFailed, outcome.Report.Phases[0].Status)
}

func TestCheckpointEngineSharesStore(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	ctx := context.Background()

	info, err := env.app.Checkpoints.CreateCheckpoint(ctx, "initial", checkpoint.PhaseInitial, "")
	require.NoError(t, err)

	got, err := env.app.Checkpoints.GetCheckpoint(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.BackupID, got.BackupID)
	assert.True(t, got.Status.Authoritative())
}
