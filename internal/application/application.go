// Package application assembles the engines from configuration and runs
// backups and rollbacks under the monitoring stack.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"migration-guard/internal/backup"
	"migration-guard/internal/checkpoint"
	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
	"migration-guard/internal/monitor"
	"migration-guard/internal/rollback"
	"migration-guard/internal/source"
	"migration-guard/internal/store"
)

// Options override parts of the assembly. Zero values build everything
// from the configuration.
type Options struct {
	// LogOutput receives logrus output; stderr when nil
	LogOutput io.Writer
	// AlertOutput receives console channel notifications; stderr when nil
	AlertOutput io.Writer

	Source   source.DataSource
	Identity source.IdentityProvider
	Objects  source.ObjectStore
	Store    store.Store
}

// Application holds the wired engines for one command invocation
type Application struct {
	Config *config.Config
	Logger *logging.Logger
	Sink   logging.Sink
	Store  store.Store

	Source   source.DataSource
	Identity source.IdentityProvider
	Objects  source.ObjectStore

	Backups     *backup.Engine
	Rollbacks   *rollback.Engine
	Checkpoints *checkpoint.Engine

	Tracker  *monitor.Tracker
	Alerts   *monitor.AlertEngine
	Exporter *monitor.Exporter
	Registry *prometheus.Registry

	shutdownHandler *apperrors.GracefulShutdownHandler
	handlingSignals bool
	closers         []func() error
}

// New builds every engine. On error anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (app *Application, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	app = &Application{
		Config:          cfg,
		shutdownHandler: apperrors.NewGracefulShutdownHandler(),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	if err = app.initLogging(opts.LogOutput); err != nil {
		return nil, err
	}
	if err = app.initStore(opts.Store); err != nil {
		return nil, err
	}
	if err = app.initSources(ctx, opts); err != nil {
		return nil, err
	}
	if err = app.initEngines(); err != nil {
		return nil, err
	}
	if err = app.initMonitoring(opts.AlertOutput); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *Application) initLogging(out io.Writer) error {
	cfg := app.Config.Logging
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.NewLogger(logging.Config{
		Level:   logging.LogLevel(cfg.Level),
		Output:  out,
		Format:  cfg.Format,
		LogFile: cfg.File,
	})
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to initialize logger", err)
	}

	var sink logging.Sink
	if cfg.SinkPath != "" {
		fileSink, err := logging.NewFileSink(cfg.SinkPath)
		if err != nil {
			return apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to open log sink", err)
		}
		sink = fileSink
	} else {
		sink = logging.NewMemorySink(cfg.SinkCapacity)
	}
	logger.AddHook(logging.NewSinkHook(sink))

	app.Logger = logger
	app.Sink = sink
	return nil
}

func (app *Application) initStore(override store.Store) error {
	if override != nil {
		app.Store = override
		return nil
	}
	st, err := store.Open(store.Config{
		Path:     app.Config.Store.Path,
		InMemory: app.Config.Store.InMemory,
	})
	if err != nil {
		return err
	}
	app.Store = st
	app.closers = append(app.closers, st.Close)
	return nil
}

func (app *Application) initSources(ctx context.Context, opts Options) error {
	var err error

	app.Source = opts.Source
	if app.Source == nil {
		if app.Source, err = source.NewDataSource(ctx, app.Config.Database, app.Logger); err != nil {
			return apperrors.WrapError(err, "failed to connect to the database")
		}
		if c, ok := app.Source.(io.Closer); ok {
			app.closers = append(app.closers, c.Close)
		}
	}

	app.Identity = opts.Identity
	if app.Identity == nil {
		if app.Identity, err = source.NewIdentityProvider(app.Config.Identity, app.Logger); err != nil {
			return apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to create identity provider", err)
		}
	}

	app.Objects = opts.Objects
	if app.Objects == nil {
		if app.Objects, err = source.NewObjectStore(ctx, app.Config.ObjectStorage); err != nil {
			return apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "failed to create object store", err)
		}
	}
	return nil
}

func (app *Application) initEngines() error {
	backupOpts := backup.OptionsFromConfig(app.Config)
	backups, err := backup.NewEngine(backupOpts, app.Source, app.Identity, app.Objects, app.Logger)
	if err != nil {
		return err
	}

	rollbacks, err := rollback.NewEngine(backups, app.Source, app.Objects, app.Logger, rollback.Options{
		BatchSize:  app.Config.Database.BatchSize,
		TableOrder: app.Config.Database.TableOrder,
	})
	if err != nil {
		return err
	}

	checkpoints, err := checkpoint.NewEngine(checkpoint.Dependencies{
		Backups:  backups,
		Restorer: rollbacks,
		Source:   app.Source,
		Identity: app.Identity,
		Objects:  app.Objects,
		Store:    app.Store,
		Logger:   app.Logger,
	}, checkpoint.Options{
		Dir:            app.Config.Checkpoint.Dir,
		CriticalTables: app.Config.Checkpoint.CriticalTables,
		Locks:          backups.Locks(),
	})
	if err != nil {
		return err
	}

	app.Backups = backups
	app.Rollbacks = rollbacks
	app.Checkpoints = checkpoints
	return nil
}

func (app *Application) initMonitoring(alertOut io.Writer) error {
	if alertOut == nil {
		alertOut = os.Stderr
	}

	app.Tracker = monitor.NewTracker(monitor.TrackerOptionsFromConfig(app.Config), app.Store, app.Logger)

	alerts, err := monitor.NewAlertEngine(monitor.AlertOptionsFromConfig(app.Config), app.Tracker, app.Sink, app.Store, app.Logger)
	if err != nil {
		return err
	}
	for _, rule := range monitor.DefaultRules() {
		if err := alerts.AddRule(rule); err != nil {
			return err
		}
	}
	channels, err := monitor.ChannelsFromConfig(app.Config.Notifications, alertOut, app.Logger)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "invalid notification channel", err)
	}
	for _, ch := range channels {
		alerts.AddChannel(ch)
	}
	app.Alerts = alerts

	app.Exporter = monitor.NewExporter(app.Tracker, alerts)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		app.Exporter,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Registry = reg

	app.Backups.SetObserver(monitor.NewProgressObserver(app.Tracker))
	return nil
}

// RunOutcome pairs an operation result with the monitoring view of it
type RunOutcome struct {
	MigrationID string                `json:"migration_id"`
	Report      *monitor.StatusReport `json:"report"`
	Alerts      []monitor.Alert       `json:"alerts,omitempty"`
}

// CreateBackup runs a complete backup inside a monitored session
func (app *Application) CreateBackup(ctx context.Context, description string) (*backup.CompleteBackupResult, *RunOutcome, error) {
	totals := app.estimateTotals(ctx)

	var result *backup.CompleteBackupResult
	outcome, err := app.monitored(ctx, "backup", totals, func(ctx context.Context, s *monitor.Session) error {
		var runErr error
		result, runErr = app.Backups.CreateCompleteBackup(ctx, description)
		return runErr
	})
	return result, outcome, err
}

// RollbackToBackup restores a backup inside a monitored session
func (app *Application) RollbackToBackup(ctx context.Context, backupID string) (*rollback.Result, *RunOutcome, error) {
	var totals monitor.Totals
	if meta, err := app.Backups.ReadMetadata(ctx, backupID); err == nil {
		totals = monitor.Totals{
			Records: int64(meta.Database.RecordCount),
			Tables:  int64(meta.Database.TableCount),
			Files:   int64(meta.Storage.TotalFiles),
			Bytes:   meta.Storage.TotalBytes,
		}
	}

	var result *rollback.Result
	outcome, err := app.monitored(ctx, "rollback", totals, func(ctx context.Context, s *monitor.Session) error {
		var runErr error
		result, runErr = app.Rollbacks.RollbackToBackup(ctx, backupID)
		if result != nil {
			err := s.UpdateProgress(monitor.Progress{
				Records:  int64(result.Database.RecordsRestored),
				Tables:   int64(result.Database.TablesRestored),
				Files:    int64(result.Storage.FilesRestored),
				Bytes:    result.Storage.BytesRestored,
				Errors:   int64(len(result.Errors)),
				Warnings: int64(len(result.Storage.FailedFiles) + len(result.Validation.Warnings)),
			})
			if err != nil {
				app.Logger.WithFields(map[string]interface{}{
					"rollback_id": result.RollbackID,
					"error":       err.Error(),
				}).Warn("Failed to record rollback progress")
			}
		}
		return runErr
	})
	return result, outcome, err
}

// endAborted closes a session that never ran its operation
func (app *Application) endAborted(ctx context.Context, session *monitor.Session) {
	if err := session.EndMigration(ctx); err != nil {
		app.Logger.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Warn("Failed to end aborted monitoring session")
	}
}

// monitored wraps fn in a tracker session with alert evaluation running.
// The metrics endpoint is served for the duration when configured.
func (app *Application) monitored(ctx context.Context, phase string, totals monitor.Totals, fn func(context.Context, *monitor.Session) error) (*RunOutcome, error) {
	migrationID := fmt.Sprintf("%s-%s-%s", phase, time.Now().UTC().Format("20060102-150405"), uuid.New().String()[:8])
	session, err := app.Tracker.StartMigration(migrationID, totals)
	if err != nil {
		return nil, err
	}
	runCtx := logging.ContextWithMigrationID(ctx, migrationID)

	monitorCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	if addr := app.Config.Monitor.MetricsAddr; addr != "" {
		go func() {
			if err := monitor.Serve(monitorCtx, addr, app.Registry, app.Logger); err != nil {
				app.Logger.WithField("error", err.Error()).Warn("Metrics endpoint stopped")
			}
		}()
	}
	if err := app.Alerts.StartMonitoring(monitorCtx); err != nil {
		app.endAborted(ctx, session)
		return nil, err
	}
	defer app.Alerts.StopMonitoring()

	if err := session.StartPhase(phase); err != nil {
		app.endAborted(ctx, session)
		return nil, err
	}
	runErr := fn(runCtx, session)

	status := monitor.PhaseCompleted
	if runErr != nil {
		status = monitor.PhaseFailed
	}
	if err := session.EndPhase(phase, status); err != nil {
		app.Logger.WithField("error", err.Error()).Warn("Failed to close monitoring phase")
	}
	if _, err := app.Alerts.Evaluate(ctx); err != nil {
		app.Logger.WithField("error", err.Error()).Warn("Final alert evaluation failed")
	}

	report := session.GenerateStatusReport()
	if err := session.EndMigration(ctx); err != nil {
		app.Logger.WithField("error", err.Error()).Warn("Failed to end monitoring session")
	}

	return &RunOutcome{
		MigrationID: migrationID,
		Report:      &report,
		Alerts:      app.Alerts.GetActiveAlerts(),
	}, runErr
}

// estimateTotals counts live rows so progress can be expressed as a
// percentage. Failures leave the totals at zero.
func (app *Application) estimateTotals(ctx context.Context) monitor.Totals {
	var totals monitor.Totals
	tables, err := app.Source.ListTables(ctx)
	if err != nil {
		app.Logger.WithField("error", err.Error()).Debug("Could not list tables for progress estimate")
		return totals
	}
	totals.Tables = int64(len(tables))
	for _, table := range tables {
		n, err := app.Source.CountRows(ctx, table)
		if err != nil {
			continue
		}
		totals.Records += n
	}
	return totals
}

// HandleSignals cancels the returned context on SIGINT or SIGTERM
func (app *Application) HandleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	app.shutdownHandler.RegisterShutdownFunc(func() error {
		app.Logger.Info("Received shutdown signal, cancelling in-flight work")
		cancel()
		return nil
	})
	app.shutdownHandler.Start()
	app.handlingSignals = true
	return ctx, cancel
}

// Close releases the store and database connections
func (app *Application) Close() error {
	if app.handlingSignals {
		app.shutdownHandler.Stop()
		app.handlingSignals = false
	}
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
