package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"migration-guard/internal/logging"
)

const namespace = "migration_guard"

// Exporter is a prometheus.Collector reading the running session and the
// active alert set at scrape time
type Exporter struct {
	tracker *Tracker
	alerts  *AlertEngine

	running         *prometheus.Desc
	processed       *prometheus.Desc
	total           *prometheus.Desc
	progress        *prometheus.Desc
	throughput      *prometheus.Desc
	remaining       *prometheus.Desc
	elapsed         *prometheus.Desc
	activeAlerts    *prometheus.Desc
	alertsTriggered *prometheus.CounterVec
}

// NewExporter creates the collector. alerts may be nil.
func NewExporter(tracker *Tracker, alerts *AlertEngine) *Exporter {
	e := &Exporter{
		tracker: tracker,
		alerts:  alerts,
		running: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "migration", "running"),
			"Whether a migration is currently running (1) or not (0).",
			[]string{"migration_id"}, nil,
		),
		processed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "migration", "processed_total"),
			"Items processed by the running migration.",
			[]string{"migration_id", "kind"}, nil,
		),
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "migration", "expected"),
			"Expected items of the running migration.",
			[]string{"migration_id", "kind"}, nil,
		),
		progress: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "migration", "progress_percent"),
			"Record progress of the running migration, 0-100.",
			[]string{"migration_id"}, nil,
		),
		throughput: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "migration", "records_per_second"),
			"Average record throughput since the migration started.",
			[]string{"migration_id"}, nil,
		),
		remaining: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "migration", "remaining_seconds"),
			"Estimated seconds until the migration completes.",
			[]string{"migration_id"}, nil,
		),
		elapsed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "migration", "elapsed_seconds"),
			"Seconds since the migration started.",
			[]string{"migration_id"}, nil,
		),
		activeAlerts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "alerts", "active"),
			"Unresolved alerts by severity.",
			[]string{"severity"}, nil,
		),
		alertsTriggered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "triggered_total",
				Help:      "Alerts triggered by rule and severity.",
			},
			[]string{"rule", "severity"},
		),
	}

	if alerts != nil {
		alerts.Subscribe(func(ev AlertEvent) {
			if ev.Kind == AlertEventTriggered {
				e.alertsTriggered.WithLabelValues(ev.Alert.RuleID, string(ev.Alert.Severity)).Inc()
			}
		})
	}
	return e
}

// Describe implements prometheus.Collector
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.running
	ch <- e.processed
	ch <- e.total
	ch <- e.progress
	ch <- e.throughput
	ch <- e.remaining
	ch <- e.elapsed
	ch <- e.activeAlerts
	e.alertsTriggered.Describe(ch)
}

// Collect implements prometheus.Collector
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if s := e.tracker.Active(); s != nil {
		m := s.GetCurrentMetrics()
		id := m.MigrationID

		ch <- prometheus.MustNewConstMetric(e.running, prometheus.GaugeValue, 1, id)

		for kind, v := range map[string]int64{
			"records":  m.Processed.Records,
			"tables":   m.Processed.Tables,
			"files":    m.Processed.Files,
			"bytes":    m.Processed.Bytes,
			"errors":   m.Processed.Errors,
			"warnings": m.Processed.Warnings,
		} {
			ch <- prometheus.MustNewConstMetric(e.processed, prometheus.CounterValue, float64(v), id, kind)
		}
		for kind, v := range map[string]int64{
			"records": m.Totals.Records,
			"tables":  m.Totals.Tables,
			"files":   m.Totals.Files,
			"bytes":   m.Totals.Bytes,
		} {
			ch <- prometheus.MustNewConstMetric(e.total, prometheus.GaugeValue, float64(v), id, kind)
		}

		ch <- prometheus.MustNewConstMetric(e.progress, prometheus.GaugeValue, m.ProgressPercentage, id)
		ch <- prometheus.MustNewConstMetric(e.throughput, prometheus.GaugeValue, m.RecordsPerSecond, id)
		ch <- prometheus.MustNewConstMetric(e.elapsed, prometheus.GaugeValue, m.Elapsed.Seconds(), id)
		if m.EstimatedRemaining != nil {
			ch <- prometheus.MustNewConstMetric(e.remaining, prometheus.GaugeValue, m.EstimatedRemaining.Seconds(), id)
		}
	}

	if e.alerts != nil {
		counts := map[Severity]int{
			SeverityLow:      0,
			SeverityMedium:   0,
			SeverityHigh:     0,
			SeverityCritical: 0,
		}
		for _, a := range e.alerts.GetActiveAlerts() {
			counts[a.Severity]++
		}
		for sev, n := range counts {
			ch <- prometheus.MustNewConstMetric(e.activeAlerts, prometheus.GaugeValue, float64(n), string(sev))
		}
	}

	e.alertsTriggered.Collect(ch)
}

// Serve exposes reg on addr at /metrics until ctx is done
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.WithField("addr", addr).Info("Serving Prometheus metrics")
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
