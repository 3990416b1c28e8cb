package cmd

import (
	"fmt"
	"os"
	"time"

	"migration-guard/internal/monitor"

	"github.com/spf13/cobra"
)

var (
	alertLimit     int
	acknowledgedBy string
	serveAddr      string
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Inspect alerts and recorded migration metrics",
	Long: `Inspect alerts and recorded migration metrics.

Every backup and rollback runs inside a monitored session. Progress snapshots
are persisted while it runs and the alert rules are evaluated against them
and against the structured log. Alerts stay open until they are resolved.

Examples:
  # Show open alerts
  migration-guard monitor alerts

  # Acknowledge an alert
  migration-guard monitor ack alert-1234 --by oncall

  # Show the snapshots of a run
  migration-guard monitor metrics backup-20260301-090000-abcd1234`,
}

var monitorAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List unresolved alerts",
	Args:  cobra.NoArgs,
	RunE:  runMonitorAlerts,
}

var monitorHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List every recorded alert, newest first",
	Args:  cobra.NoArgs,
	RunE:  runMonitorHistory,
}

var monitorAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorAck,
}

var monitorResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorResolve,
}

var monitorMetricsCmd = &cobra.Command{
	Use:   "metrics <migration-id>",
	Short: "Show the persisted progress snapshots of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorMetrics,
}

var monitorServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Prometheus metrics until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runMonitorServe,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.AddCommand(monitorAlertsCmd)
	monitorCmd.AddCommand(monitorHistoryCmd)
	monitorCmd.AddCommand(monitorAckCmd)
	monitorCmd.AddCommand(monitorResolveCmd)
	monitorCmd.AddCommand(monitorMetricsCmd)
	monitorCmd.AddCommand(monitorServeCmd)

	monitorHistoryCmd.Flags().IntVar(&alertLimit, "limit", 50, "maximum number of alerts to list (0 lists all)")
	monitorAckCmd.Flags().StringVar(&acknowledgedBy, "by", "", "who acknowledges the alert (default is $USER)")
	monitorServeCmd.Flags().StringVar(&serveAddr, "addr", ":9108", "listen address")
}

func runMonitorAlerts(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		history, err := s.app.Alerts.GetAlertHistory(s.ctx, 0)
		if err != nil {
			return err
		}
		open := make([]monitor.Alert, 0, len(history))
		for _, a := range history {
			if !a.Resolved {
				open = append(open, a)
			}
		}
		return s.printer.Alerts(open)
	})
}

func runMonitorHistory(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		history, err := s.app.Alerts.GetAlertHistory(s.ctx, alertLimit)
		if err != nil {
			return err
		}
		return s.printer.Alerts(history)
	})
}

func runMonitorAck(cmd *cobra.Command, args []string) error {
	by := acknowledgedBy
	if by == "" {
		by = os.Getenv("USER")
	}
	return withApp(cmd, func(s *session) error {
		alert, err := s.app.Alerts.Acknowledge(s.ctx, args[0], by)
		if err != nil {
			return err
		}
		if err := s.printer.Alerts([]monitor.Alert{*alert}); err != nil {
			return err
		}
		s.printer.Success(fmt.Sprintf("Alert %s acknowledged", alert.ID))
		return nil
	})
}

func runMonitorResolve(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		alert, err := s.app.Alerts.Resolve(s.ctx, args[0])
		if err != nil {
			return err
		}
		if err := s.printer.Alerts([]monitor.Alert{*alert}); err != nil {
			return err
		}
		s.printer.Success(fmt.Sprintf("Alert %s resolved", alert.ID))
		return nil
	})
}

func runMonitorMetrics(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		history, err := s.app.Tracker.GetHistoricalMetrics(s.ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.MetricsHistory(history)
	})
}

func runMonitorServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(s *session) error {
		s.printer.Info(fmt.Sprintf("Serving metrics on %s/metrics", serveAddr))
		start := time.Now()
		if err := monitor.Serve(s.ctx, serveAddr, s.app.Registry, s.app.Logger); err != nil {
			return err
		}
		s.printer.Info(fmt.Sprintf("Stopped after %s", time.Since(start).Round(time.Second)))
		return nil
	})
}
