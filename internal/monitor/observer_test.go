package monitor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/logging"
)

func TestProgressObserverFeedsActiveSession(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(t, clock, nil)
	observer := NewProgressObserver(tracker)

	// nothing is active yet, the event is dropped
	observer.TableCopied("orders", 10)

	s, err := tracker.StartMigration("mig-observer", Totals{Records: 20, Tables: 2, Files: 1})
	require.NoError(t, err)
	defer s.EndMigration(context.Background())

	observer.TableCopied("orders", 12)
	observer.FileCopied("documents", "readme.txt", 64)
	observer.ItemFailed("database", "audit_logs", assert.AnError)

	m := s.GetCurrentMetrics()
	assert.Equal(t, int64(12), m.Processed.Records)
	assert.Equal(t, int64(1), m.Processed.Tables)
	assert.Equal(t, int64(1), m.Processed.Files)
	assert.Equal(t, int64(64), m.Processed.Bytes)
	assert.Equal(t, int64(1), m.Processed.Warnings)
}

func TestProgressObserverLogsRejectedUpdates(t *testing.T) {
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelNormal, Output: &bytes.Buffer{}})
	require.NoError(t, err)
	sink := logging.NewMemorySink(10)
	logger.AddHook(logging.NewSinkHook(sink))

	clock := newFakeClock()
	tracker := NewTracker(TrackerOptions{
		SnapshotInterval: time.Hour,
		Clock:            clock.Now,
		HeapReader:       func() uint64 { return 0 },
	}, nil, logger)

	s, err := tracker.StartMigration("mig-rejected", Totals{Records: 5})
	require.NoError(t, err)
	defer s.EndMigration(context.Background())

	NewProgressObserver(tracker).TableCopied("orders", -3)

	entries, err := sink.Query(context.Background(), logging.Filter{Levels: []logging.EntryLevel{logging.EntryLevelWarning}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Failed to record backup progress", entries[0].Message)
	assert.Equal(t, "mig-rejected", entries[0].Context["migration_id"])
	assert.Equal(t, int64(0), s.GetCurrentMetrics().Processed.Records)
}
