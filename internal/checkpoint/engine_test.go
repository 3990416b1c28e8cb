package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/backup"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
	"migration-guard/internal/rollback"
	"migration-guard/internal/source"
	"migration-guard/internal/store"
)

type env struct {
	ds      *source.MemoryDataSource
	idp     *source.MemoryIdentityProvider
	objects *source.MemoryObjectStore
	store   *store.BadgerStore
	sink    *logging.MemorySink
	engine  *Engine
	dir     string
}

func seedRows(table string, n int) []source.Record {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]source.Record, n)
	for i := range out {
		out[i] = source.Record{
			"id":         fmt.Sprintf("%s-%03d", table, i),
			"created_at": base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		}
	}
	return out
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ds := source.NewMemoryDataSource()
	ds.CreateTable("customers", seedRows("customers", 20)...)
	ds.CreateTable("orders", seedRows("orders", 100)...)

	idp := source.NewMemoryIdentityProvider(
		source.User{ID: "u1", Email: "one@example.com"},
		source.User{ID: "u2", Email: "two@example.com"},
	)

	objects := source.NewMemoryObjectStore()
	objects.CreateBucket(source.Bucket{Name: "uploads"})
	objects.PutObject("uploads", "2024/a.csv", []byte("a,b,c"))

	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelNormal, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	sink := logging.NewMemorySink(100)
	logger.AddHook(logging.NewSinkHook(sink))

	root := t.TempDir()
	backups, err := backup.NewEngine(backup.Options{RootDir: filepath.Join(root, "backups")}, ds, idp, objects, logger)
	require.NoError(t, err)
	rollbacks, err := rollback.NewEngine(backups, ds, objects, logger, rollback.Options{})
	require.NoError(t, err)

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := filepath.Join(root, "checkpoints")
	engine, err := NewEngine(Dependencies{
		Backups:  backups,
		Restorer: rollbacks,
		Source:   ds,
		Identity: idp,
		Objects:  objects,
		Store:    st,
		Logger:   logger,
	}, Options{Dir: dir, CriticalTables: []string{"orders"}})
	require.NoError(t, err)

	return &env{ds: ds, idp: idp, objects: objects, store: st, sink: sink, engine: engine, dir: dir}
}

func TestCreateCheckpoint_Validated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	info, err := e.engine.CreateCheckpoint(ctx, "after data copy", PhaseDataMigrated, "")
	require.NoError(t, err)

	assert.Equal(t, StatusValidated, info.Status)
	assert.NotNil(t, info.ValidatedAt)
	assert.NotEmpty(t, info.BackupID)
	assert.Equal(t, int64(100), info.Metadata.TableCounts["orders"])
	assert.Equal(t, int64(20), info.Metadata.TableCounts["customers"])
	assert.Contains(t, info.Metadata.TableChecksums, "orders")
	assert.NotContains(t, info.Metadata.TableChecksums, "customers")
	assert.Equal(t, Counts{Total: 2, Migrated: 2}, info.Metadata.Users)
	assert.Equal(t, Counts{Total: 1, Migrated: 1}, info.Metadata.Files)
	assert.Empty(t, FailedChecks(info.Checks))

	assert.FileExists(t, filepath.Join(e.dir, info.ID+".json"))

	stored, err := e.engine.GetCheckpoint(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, stored.Status)
	assert.Equal(t, PhaseDataMigrated, stored.Phase)
}

func TestCreateCheckpoint_SupersedesSamePhase(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.engine.CreateCheckpoint(ctx, "first", PhaseDataMigrated, "")
	require.NoError(t, err)
	ok, err := e.engine.ValidateCheckpointBeforeProgression(ctx, PhaseDataMigrated)
	require.NoError(t, err)
	require.True(t, ok)

	other, err := e.engine.CreateCheckpoint(ctx, "schema", PhaseSchemaExtracted, "")
	require.NoError(t, err)

	second, err := e.engine.CreateCheckpoint(ctx, "second", PhaseDataMigrated, "")
	require.NoError(t, err)

	reloaded, err := e.engine.GetCheckpoint(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, reloaded.Status)
	assert.Equal(t, second.ID, reloaded.SupersededBy)

	untouched, err := e.engine.GetCheckpoint(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, untouched.Status)

	all, err := e.engine.ListCheckpoints(ctx, PhaseDataMigrated)
	require.NoError(t, err)
	require.Len(t, all, 2)
	authoritative := 0
	for _, c := range all {
		if c.Status.Authoritative() {
			authoritative++
		}
	}
	assert.Equal(t, 1, authoritative)

	active, err := e.engine.GetActiveCheckpointForPhase(ctx, PhaseDataMigrated)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestValidateCheckpointBeforeProgression_DriftDetected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	info, err := e.engine.CreateCheckpoint(ctx, "data", PhaseDataMigrated, "")
	require.NoError(t, err)

	e.ds.DeleteRows("orders", 10)

	ok, err := e.engine.ValidateCheckpointBeforeProgression(ctx, PhaseDataMigrated)
	require.NoError(t, err)
	assert.False(t, ok)

	reloaded, err := e.engine.GetCheckpoint(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.FailureReason, "table orders has 90 records, 100 recorded")

	entries, err := e.sink.Query(ctx, logging.Filter{Phase: string(PhaseDataMigrated)})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, logging.EntryLevelError, entries[0].Level)

	_, err = e.engine.GetActiveCheckpointForPhase(ctx, PhaseDataMigrated)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestValidateCheckpointBeforeProgression_Activates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	info, err := e.engine.CreateCheckpoint(ctx, "users", PhaseUsersMigrated, "")
	require.NoError(t, err)

	ok, err := e.engine.ValidateCheckpointBeforeProgression(ctx, PhaseUsersMigrated)
	require.NoError(t, err)
	assert.True(t, ok)

	reloaded, err := e.engine.GetCheckpoint(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, reloaded.Status)
	assert.NotNil(t, reloaded.ActivatedAt)

	// validating an active checkpoint again keeps it active
	ok, err = e.engine.ValidateCheckpointBeforeProgression(ctx, PhaseUsersMigrated)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidateCheckpointBeforeProgression_ChecksumDriftIsNotBlocking(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.engine.CreateCheckpoint(ctx, "data", PhaseDataMigrated, "")
	require.NoError(t, err)

	e.ds.DeleteRows("orders", 1)
	require.NoError(t, e.ds.InsertMany(ctx, "orders", []source.Record{{"id": "replacement", "created_at": "2030-01-01T00:00:00Z"}}))

	ok, err := e.engine.ValidateCheckpointBeforeProgression(ctx, PhaseDataMigrated)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := e.engine.GetActiveCheckpointForPhase(ctx, PhaseDataMigrated)
	require.NoError(t, err)
	var checksum *Check
	for i := range active.Checks {
		if active.Checks[i].Kind == CheckChecksum {
			checksum = &active.Checks[i]
		}
	}
	require.NotNil(t, checksum)
	assert.False(t, checksum.Passed)
	assert.False(t, checksum.Blocking)
}

func TestValidateCheckpointBeforeProgression_NoCheckpoint(t *testing.T) {
	e := newEnv(t)

	ok, err := e.engine.ValidateCheckpointBeforeProgression(context.Background(), PhaseFilesMigrated)
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingBackups struct {
	mock.Mock
}

func (m *failingBackups) CreateCompleteBackup(ctx context.Context, description string) (*backup.CompleteBackupResult, error) {
	args := m.Called(ctx, description)
	result, _ := args.Get(0).(*backup.CompleteBackupResult)
	return result, args.Error(1)
}

func TestCreateCheckpoint_BackupFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	backups := &failingBackups{}
	backups.On("CreateCompleteBackup", mock.Anything, "checkpoint initial (INITIAL)").
		Return(nil, errors.New("disk full"))
	e.engine.backups = backups

	_, err := e.engine.CreateCheckpoint(ctx, "initial", PhaseInitial, "")
	require.Error(t, err)
	assert.Equal(t, "Checkpoint creation failed: disk full", err.Error())

	var creationErr *CreationError
	assert.True(t, errors.As(err, &creationErr))

	all, err := e.engine.ListCheckpoints(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
	backups.AssertExpectations(t)
}

func TestCreateCheckpoint_InvalidRequest(t *testing.T) {
	e := newEnv(t)

	_, err := e.engine.CreateCheckpoint(context.Background(), "x", Phase("NOPE"), "")
	assert.True(t, apperrors.IsValidation(err))

	_, err = e.engine.CreateCheckpoint(context.Background(), " ", PhaseInitial, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestRollbackToCheckpoint_RestoresState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	info, err := e.engine.CreateCheckpoint(ctx, "data", PhaseDataMigrated, "")
	require.NoError(t, err)

	e.ds.DeleteRows("orders", 30)
	e.objects.PutObject("uploads", "2024/a.csv", []byte("changed"))

	result := e.engine.RollbackToCheckpoint(ctx, info.ID)
	require.NotNil(t, result)
	assert.True(t, result.Success, result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"database", "storage", "configuration"}, result.ComponentsRolledBack)
	assert.Equal(t, info.BackupID, result.BackupID)
	assert.NotEmpty(t, result.RollbackID)
	assert.Len(t, e.ds.Rows("orders"), 100)
}

func TestRollbackToCheckpoint_NotFound(t *testing.T) {
	e := newEnv(t)

	result := e.engine.RollbackToCheckpoint(context.Background(), "checkpoint-missing")
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Checkpoint not found: checkpoint-missing"}, result.Errors)
	assert.Empty(t, result.ComponentsRolledBack)
}

func TestRollbackToCheckpoint_RestoreFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	info, err := e.engine.CreateCheckpoint(ctx, "data", PhaseDataMigrated, "")
	require.NoError(t, err)
	e.ds.FailInsert["orders"] = errors.New("lock wait timeout exceeded")

	result := e.engine.RollbackToCheckpoint(ctx, info.ID)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	assert.NotContains(t, result.ComponentsRolledBack, "database")
}

func TestListCheckpoints_FilterAndOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	e.engine.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}

	a, err := e.engine.CreateCheckpoint(ctx, "a", PhaseInitial, "")
	require.NoError(t, err)
	b, err := e.engine.CreateCheckpoint(ctx, "b", PhaseSchemaExtracted, "")
	require.NoError(t, err)

	all, err := e.engine.ListCheckpoints(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)
	assert.Equal(t, a.ID, all[1].ID)

	initial, err := e.engine.ListCheckpoints(ctx, PhaseInitial)
	require.NoError(t, err)
	require.Len(t, initial, 1)
	assert.Equal(t, a.ID, initial[0].ID)

	_, err = e.engine.ListCheckpoints(ctx, Phase("bogus"))
	assert.True(t, apperrors.IsValidation(err))
}

func TestReindex_RestoresFromMirror(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	info, err := e.engine.CreateCheckpoint(ctx, "a", PhaseInitial, "")
	require.NoError(t, err)
	require.NoError(t, e.store.Delete(ctx, store.CollectionCheckpoints, info.ID))

	_, err = e.engine.GetCheckpoint(ctx, info.ID)
	require.True(t, apperrors.IsNotFound(err))

	restored, err := e.engine.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	reloaded, err := e.engine.GetCheckpoint(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, reloaded.Status)
}
