package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_QueryNewestFirst(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(10)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Append(ctx, Entry{Level: EntryLevelInfo, Message: "first", Timestamp: base}))
	require.NoError(t, sink.Append(ctx, Entry{Level: EntryLevelError, Message: "second", Phase: "DATA_MIGRATED", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, sink.Append(ctx, Entry{Level: EntryLevelCritical, Message: "third", Timestamp: base.Add(2 * time.Minute)}))

	all, err := sink.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Message)
	assert.Equal(t, "first", all[2].Message)

	critical, err := sink.Query(ctx, Filter{Levels: []EntryLevel{EntryLevelCritical}})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "third", critical[0].Message)

	byPhase, err := sink.Query(ctx, Filter{Phase: "DATA_MIGRATED"})
	require.NoError(t, err)
	require.Len(t, byPhase, 1)

	recent, err := sink.Query(ctx, Filter{Since: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "third", recent[0].Message)
}

func TestMemorySink_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(2)

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Append(ctx, Entry{Level: EntryLevelInfo, Message: msg}))
	}

	entries, err := sink.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEqual(t, "a", e.Message)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestFileSink_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs", "migration.jsonl")

	sink, err := NewFileSink(path)
	require.NoError(t, err)

	empty, err := sink.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, sink.Append(ctx, Entry{
		Level:       EntryLevelError,
		Phase:       "FILES_MIGRATED",
		Operation:   "storage_backup",
		Message:     "download failed",
		Context:     map[string]interface{}{"bucket": "avatars"},
		Remediation: []string{"check bucket permissions"},
	}))

	// a torn line must not break queries
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := sink.Query(ctx, Filter{Levels: []EntryLevel{EntryLevelError}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "storage_backup", entries[0].Operation)
	assert.Equal(t, "avatars", entries[0].Context["bucket"])
	assert.Equal(t, []string{"check bucket permissions"}, entries[0].Remediation)
}

func TestSinkHook_MirrorsWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "text"})
	require.NoError(t, err)

	sink := NewMemorySink(10)
	logger.AddHook(NewSinkHook(sink))

	logger.Info("not mirrored")
	logger.WithFields(map[string]interface{}{
		FieldPhase:       "DATA_MIGRATED",
		FieldOperation:   "database_backup",
		FieldRemediation: []string{"re-run backup"},
		"table":          "orders",
	}).Warn("table skipped")
	logger.Error("storage phase failed")

	entries, err := sink.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var warning Entry
	for _, e := range entries {
		if e.Level == EntryLevelWarning {
			warning = e
		}
	}
	assert.Equal(t, "table skipped", warning.Message)
	assert.Equal(t, "DATA_MIGRATED", warning.Phase)
	assert.Equal(t, "database_backup", warning.Operation)
	assert.Equal(t, []string{"re-run backup"}, warning.Remediation)
	assert.Equal(t, "orders", warning.Context["table"])
}
