package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/logging"
)

// gaugeValue finds the metric of family name whose labels include want
func gaugeValue(t *testing.T, families []*dto.MetricFamily, name string, want map[string]string) float64 {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, want)
	return 0
}

func TestExporterIdle(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(t, clock, nil)
	exporter := NewExporter(tracker, nil)

	assert.Equal(t, 0, testutil.CollectAndCount(exporter, "migration_guard_migration_running"))
}

func TestExporterReportsLiveSession(t *testing.T) {
	env := newAlertEnv(t)
	ctx := context.Background()
	exporter := NewExporter(env.tracker, env.engine)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(exporter))

	s, err := env.tracker.StartMigration("mig-1", Totals{Records: 1000, Files: 4})
	require.NoError(t, err)
	defer s.EndMigration(ctx)

	env.clock.Advance(10 * time.Second)
	require.NoError(t, s.UpdateProgress(Progress{Records: 100, Errors: 20, Files: 1}))
	require.NoError(t, env.sink.Append(ctx, logging.Entry{
		Level:     logging.EntryLevelCritical,
		Message:   "worker crashed",
		Timestamp: env.clock.Now(),
	}))
	fired, err := env.engine.Evaluate(ctx)
	require.NoError(t, err)
	require.Len(t, fired, 2)

	families, err := reg.Gather()
	require.NoError(t, err)

	id := map[string]string{"migration_id": "mig-1"}
	assert.Equal(t, 1.0, gaugeValue(t, families, "migration_guard_migration_running", id))
	assert.Equal(t, 100.0, gaugeValue(t, families, "migration_guard_migration_processed_total",
		map[string]string{"migration_id": "mig-1", "kind": "records"}))
	assert.Equal(t, 20.0, gaugeValue(t, families, "migration_guard_migration_processed_total",
		map[string]string{"migration_id": "mig-1", "kind": "errors"}))
	assert.Equal(t, 4.0, gaugeValue(t, families, "migration_guard_migration_expected",
		map[string]string{"migration_id": "mig-1", "kind": "files"}))
	assert.Equal(t, 10.0, gaugeValue(t, families, "migration_guard_migration_progress_percent", id))
	assert.InDelta(t, 10.0, gaugeValue(t, families, "migration_guard_migration_records_per_second", id), 0.0001)
	assert.InDelta(t, 90.0, gaugeValue(t, families, "migration_guard_migration_remaining_seconds", id), 0.0001)

	assert.Equal(t, 1.0, gaugeValue(t, families, "migration_guard_alerts_active", map[string]string{"severity": "HIGH"}))
	assert.Equal(t, 1.0, gaugeValue(t, families, "migration_guard_alerts_active", map[string]string{"severity": "CRITICAL"}))
	assert.Equal(t, 0.0, gaugeValue(t, families, "migration_guard_alerts_active", map[string]string{"severity": "LOW"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.alertsTriggered.WithLabelValues(RuleCriticalLog, "CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.alertsTriggered.WithLabelValues(RuleHighErrorRate, "HIGH")))
}
