package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
	"migration-guard/internal/store"
)

type recordingChannel struct {
	SeverityFilter
	kind string
	err  error

	mu     sync.Mutex
	alerts []Alert
}

func (c *recordingChannel) Send(_ context.Context, alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return c.err
}

func (c *recordingChannel) GetType() string { return c.kind }
func (c *recordingChannel) IsEnabled() bool { return true }

func (c *recordingChannel) received() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

type failingPutStore struct {
	store.Store
}

func (failingPutStore) Put(context.Context, string, string, interface{}) error {
	return errors.New("disk full")
}

type alertEnv struct {
	clock   *fakeClock
	tracker *Tracker
	sink    *logging.MemorySink
	store   *store.BadgerStore
	engine  *AlertEngine
}

func newAlertEnv(t *testing.T) *alertEnv {
	t.Helper()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := newFakeClock()
	tracker := newTestTracker(t, clock, st)
	sink := logging.NewMemorySink(100)

	engine, err := NewAlertEngine(AlertOptions{
		EvaluationInterval: time.Hour,
		Clock:              clock.Now,
	}, tracker, sink, st, quietLogger(t))
	require.NoError(t, err)
	for _, rule := range DefaultRules() {
		require.NoError(t, engine.AddRule(rule))
	}

	return &alertEnv{clock: clock, tracker: tracker, sink: sink, store: st, engine: engine}
}

func ruleIDs(alerts []Alert) []string {
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.RuleID)
	}
	return ids
}

func TestHighErrorRateCooldown(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	s, err := env.tracker.StartMigration("mig-1", Totals{Records: 10000})
	require.NoError(t, err)
	defer s.EndMigration(ctx)

	env.clock.Advance(time.Second)
	require.NoError(t, s.UpdateProgress(Progress{Records: 100, Errors: 20}))

	fired, err := env.engine.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{RuleHighErrorRate}, ruleIDs(fired))
	first := fired[0]
	assert.Equal(t, SeverityHigh, first.Severity)
	assert.Equal(t, AlertTypeError, first.Type)
	assert.Equal(t, "mig-1", first.MigrationID)
	assert.Equal(t, AlertTriggered, first.Status())

	fired, err = env.engine.Evaluate(ctx)
	require.NoError(t, err)
	assert.Empty(t, fired)

	env.clock.Advance(14 * time.Minute)
	fired, err = env.engine.Evaluate(ctx)
	require.NoError(t, err)
	assert.Empty(t, fired)

	env.clock.Advance(time.Minute)
	fired, err = env.engine.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{RuleHighErrorRate}, ruleIDs(fired))
	assert.NotEqual(t, first.ID, fired[0].ID)

	assert.Len(t, env.engine.GetActiveAlerts(), 2)
}

func TestErrorRateNeedsBothThresholds(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	s, err := env.tracker.StartMigration("mig-1", Totals{Records: 10000})
	require.NoError(t, err)
	defer s.EndMigration(ctx)

	env.clock.Advance(time.Second)
	// 11 errors over 900 records is above the count but below 5%
	require.NoError(t, s.UpdateProgress(Progress{Records: 900, Errors: 11}))

	fired, err := env.engine.Evaluate(ctx)
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestZeroCooldownRulesFireEveryPass(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	require.NoError(t, env.sink.Append(ctx, logging.Entry{
		Level:     logging.EntryLevelCritical,
		Message:   "worker crashed",
		Timestamp: env.clock.Now(),
	}))

	for i := 0; i < 2; i++ {
		fired, err := env.engine.Evaluate(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{RuleCriticalLog}, ruleIDs(fired))
		assert.Contains(t, fired[0].Message, "worker crashed")
		assert.Empty(t, fired[0].MigrationID)
	}

	// the entry ages out of the log window
	env.clock.Advance(6 * time.Minute)
	fired, err := env.engine.Evaluate(ctx)
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestIntegrityLogEntriesRaiseCriticalAlert(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	require.NoError(t, env.sink.Append(ctx, logging.Entry{
		Level:     logging.EntryLevelWarning,
		Message:   "constraint check skipped",
		Timestamp: env.clock.Now(),
	}))
	fired, err := env.engine.Evaluate(ctx)
	require.NoError(t, err)
	assert.Empty(t, fired)

	require.NoError(t, env.sink.Append(ctx, logging.Entry{
		Level:     logging.EntryLevelError,
		Phase:     "DATA_MIGRATED",
		Message:   "Cannot add row: a Foreign Key constraint fails",
		Timestamp: env.clock.Now(),
	}))
	fired, err = env.engine.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{RuleDataIntegrity}, ruleIDs(fired))
	assert.Equal(t, SeverityCritical, fired[0].Severity)
	assert.Equal(t, AlertTypeDataIntegrity, fired[0].Type)
}

func TestLongPhaseAndStallRules(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	s, err := env.tracker.StartMigration("mig-1", Totals{Records: 10})
	require.NoError(t, err)
	defer s.EndMigration(ctx)
	require.NoError(t, s.StartPhase("FILES_MIGRATED"))

	env.clock.Advance(3 * time.Hour)
	fired, err := env.engine.Evaluate(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{RuleProgressStall, RuleLongPhase}, ruleIDs(fired))
	for _, a := range fired {
		assert.Equal(t, "FILES_MIGRATED", a.Metadata["phase"])
	}
}

func TestAlertLifecycle(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	var mu sync.Mutex
	var events []AlertEventKind
	env.engine.Subscribe(func(ev AlertEvent) {
		mu.Lock()
		events = append(events, ev.Kind)
		mu.Unlock()
	})

	require.NoError(t, env.sink.Append(ctx, logging.Entry{
		Level:     logging.EntryLevelCritical,
		Message:   "worker crashed",
		Timestamp: env.clock.Now(),
	}))
	fired, err := env.engine.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	id := fired[0].ID

	env.clock.Advance(time.Minute)
	acked, err := env.engine.Acknowledge(ctx, id, "oncall@example.com")
	require.NoError(t, err)
	assert.Equal(t, AlertAcknowledged, acked.Status())
	assert.Equal(t, "oncall@example.com", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, env.clock.Now(), *acked.AcknowledgedAt)

	active := env.engine.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.True(t, active[0].Acknowledged)

	var stored Alert
	require.NoError(t, env.store.Get(ctx, store.CollectionAlerts, id, &stored))
	assert.True(t, stored.Acknowledged)

	resolved, err := env.engine.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, AlertResolved, resolved.Status())
	assert.Empty(t, env.engine.GetActiveAlerts())

	_, err = env.engine.Resolve(ctx, id)
	assert.True(t, apperrors.IsValidation(err))
	_, err = env.engine.Acknowledge(ctx, id, "someone")
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.engine.Acknowledge(ctx, "missing", "someone")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = env.engine.Acknowledge(ctx, id, "")
	assert.True(t, apperrors.IsValidation(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []AlertEventKind{AlertEventTriggered, AlertEventAcknowledged, AlertEventResolved}, events)
}

func TestAlertHistoryNewestFirst(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		require.NoError(t, env.sink.Append(ctx, logging.Entry{
			Level:     logging.EntryLevelCritical,
			Message:   "worker crashed",
			Timestamp: env.clock.Now(),
		}))
		fired, err := env.engine.Evaluate(ctx)
		require.NoError(t, err)
		require.Len(t, fired, 1)
		ids = append(ids, fired[0].ID)
		env.clock.Advance(time.Minute)
	}
	_, err := env.engine.Resolve(ctx, ids[0])
	require.NoError(t, err)

	history, err := env.engine.GetAlertHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{history[0].ID, history[1].ID, history[2].ID})
	assert.True(t, history[2].Resolved)

	limited, err := env.engine.GetAlertHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[2], limited[0].ID)
}

func TestNotificationFailuresAreIsolated(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	broken := &recordingChannel{kind: "broken", err: errors.New("connection refused")}
	all := &recordingChannel{kind: "all"}
	criticalOnly, err := NewSeverityFilter([]string{"critical"})
	require.NoError(t, err)
	pager := &recordingChannel{kind: "pager", SeverityFilter: criticalOnly}

	env.engine.AddChannel(broken)
	env.engine.AddChannel(all)
	env.engine.AddChannel(pager)

	s, err := env.tracker.StartMigration("mig-1", Totals{Records: 10000})
	require.NoError(t, err)
	defer s.EndMigration(ctx)
	env.clock.Advance(time.Second)
	require.NoError(t, s.UpdateProgress(Progress{Records: 100, Errors: 20}))

	fired, err := env.engine.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	env.engine.Flush()

	assert.Len(t, broken.received(), 1)
	require.Len(t, all.received(), 1)
	assert.Equal(t, fired[0].ID, all.received()[0].ID)
	assert.Empty(t, pager.received())
}

func TestPersistenceFailureFailsEvaluation(t *testing.T) {
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := newFakeClock()
	tracker := newTestTracker(t, clock, nil)
	sink := logging.NewMemorySink(10)
	engine, err := NewAlertEngine(AlertOptions{Clock: clock.Now}, tracker, sink, failingPutStore{Store: st}, quietLogger(t))
	require.NoError(t, err)
	for _, rule := range DefaultRules() {
		require.NoError(t, engine.AddRule(rule))
	}

	ch := &recordingChannel{kind: "console"}
	engine.AddChannel(ch)

	require.NoError(t, sink.Append(context.Background(), logging.Entry{
		Level:     logging.EntryLevelCritical,
		Message:   "worker crashed",
		Timestamp: clock.Now(),
	}))

	_, err = engine.Evaluate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, engine.GetActiveAlerts())
	engine.Flush()
	assert.Empty(t, ch.received())
}

func TestAddRuleValidation(t *testing.T) {
	env := newAlertEnv(t)

	err := env.engine.AddRule(DefaultRules()[0])
	assert.True(t, apperrors.IsConflict(err))

	err = env.engine.AddRule(Rule{ID: "custom", Severity: "URGENT"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "rule condition is required")
	assert.Contains(t, err.Error(), "unknown severity")

	require.NoError(t, env.engine.AddRule(Rule{
		ID:        "custom",
		Severity:  SeverityLow,
		Type:      AlertTypeSecurity,
		Condition: func(EvalContext) bool { return true },
	}))
	assert.Len(t, env.engine.Rules(), len(DefaultRules())+1)

	fired, err := env.engine.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, "custom", fired[0].Title)
	assert.Equal(t, "custom", fired[0].Message)
}

func TestMissingCollaborators(t *testing.T) {
	_, err := NewAlertEngine(AlertOptions{}, nil, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
	assert.Contains(t, err.Error(), "metrics tracker")
	assert.Contains(t, err.Error(), "record store")
}

func TestMonitoringEvaluatesOnProgress(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.StartMonitoring(ctx))
	assert.True(t, apperrors.IsConflict(env.engine.StartMonitoring(ctx)))

	s, err := env.tracker.StartMigration("mig-1", Totals{Records: 10000})
	require.NoError(t, err)
	defer s.EndMigration(ctx)

	env.clock.Advance(time.Second)
	require.NoError(t, s.UpdateProgress(Progress{Records: 100, Errors: 20}))

	assert.Eventually(t, func() bool {
		return len(env.engine.GetActiveAlerts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.engine.StopMonitoring()
	env.engine.StopMonitoring()

	require.NoError(t, s.UpdateProgress(Progress{Errors: 50}))
	assert.Len(t, env.engine.GetActiveAlerts(), 1)
}
