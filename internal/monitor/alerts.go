package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
	"migration-guard/internal/store"
)

// EvalContext is what a rule sees on one evaluation pass
type EvalContext struct {
	Now time.Time
	// Metrics is nil when no migration is running
	Metrics      *Metrics
	CurrentPhase *PhaseMetrics
	RecentLogs   []logging.Entry
	Thresholds   Thresholds
}

// Rule turns a condition over metrics and recent logs into an alert
type Rule struct {
	ID       string
	Title    string
	Type     AlertType
	Severity Severity
	// Cooldown suppresses re-triggering after the rule fired. Zero lets the
	// rule fire on every pass while its condition holds.
	Cooldown  time.Duration
	Condition func(EvalContext) bool
	Message   func(EvalContext) string
}

func (r Rule) validate() error {
	var failures []string
	if r.ID == "" {
		failures = append(failures, "rule id is required")
	}
	if r.Condition == nil {
		failures = append(failures, "rule condition is required")
	}
	if _, err := ParseSeverity(string(r.Severity)); err != nil {
		failures = append(failures, err.Error())
	}
	if r.Cooldown < 0 {
		failures = append(failures, "rule cooldown must not be negative")
	}
	if len(failures) > 0 {
		return apperrors.NewValidationError("invalid alert rule", failures)
	}
	return nil
}

// AlertEventKind identifies an alert lifecycle change
type AlertEventKind string

const (
	AlertEventTriggered    AlertEventKind = "triggered"
	AlertEventAcknowledged AlertEventKind = "acknowledged"
	AlertEventResolved     AlertEventKind = "resolved"
)

// AlertEvent is emitted to AlertEngine subscribers
type AlertEvent struct {
	Kind  AlertEventKind
	Alert Alert
}

// AlertOptions configure the alert engine
type AlertOptions struct {
	EvaluationInterval time.Duration
	// LogWindow bounds how far back log-based rules look
	LogWindow           time.Duration
	Thresholds          Thresholds
	NotificationTimeout time.Duration
	Clock               func() time.Time
}

// AlertOptionsFromConfig maps the monitor section onto alert options
func AlertOptionsFromConfig(cfg *config.Config) AlertOptions {
	return AlertOptions{
		EvaluationInterval: cfg.Monitor.EvaluationInterval,
		Thresholds:         ThresholdsFromConfig(cfg.Monitor.Thresholds),
	}
}

// AlertEngine evaluates rules, keeps the active alert set and dispatches
// notifications
type AlertEngine struct {
	opts    AlertOptions
	tracker *Tracker
	sink    logging.Sink
	store   store.Store
	logger  *logging.Logger

	mu        sync.Mutex
	rules     []Rule
	lastFired map[string]time.Time
	active    map[string]*Alert
	channels  []NotificationChannel
	listeners []func(AlertEvent)

	evalMu   sync.Mutex
	inflight sync.WaitGroup

	runMu   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	unsub   func()
	trigger chan struct{}
}

// NewAlertEngine creates an engine with no rules. The store is the
// must-succeed persistence target for every alert.
func NewAlertEngine(opts AlertOptions, tracker *Tracker, sink logging.Sink, st store.Store, logger *logging.Logger) (*AlertEngine, error) {
	var missing []string
	if tracker == nil {
		missing = append(missing, "metrics tracker")
	}
	if st == nil {
		missing = append(missing, "record store")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewConfigurationError("alert engine is missing collaborators", missing...)
	}

	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if opts.EvaluationInterval <= 0 {
		opts.EvaluationInterval = 30 * time.Second
	}
	if opts.LogWindow <= 0 {
		opts.LogWindow = 5 * time.Minute
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.NotificationTimeout <= 0 {
		opts.NotificationTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &AlertEngine{
		opts:      opts,
		tracker:   tracker,
		sink:      sink,
		store:     st,
		logger:    logger,
		lastFired: make(map[string]time.Time),
		active:    make(map[string]*Alert),
	}, nil
}

// AddRule registers a rule. Rule ids are unique.
func (e *AlertEngine) AddRule(rule Rule) error {
	if err := rule.validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.ID == rule.ID {
			return apperrors.NewConflictError(fmt.Sprintf("alert rule %s already exists", rule.ID))
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

// Rules returns the registered rules in registration order
func (e *AlertEngine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// AddChannel registers a notification channel
func (e *AlertEngine) AddChannel(ch NotificationChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels = append(e.channels, ch)
}

// Subscribe registers fn for alert lifecycle events
func (e *AlertEngine) Subscribe(fn func(AlertEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *AlertEngine) emit(ev AlertEvent) {
	e.mu.Lock()
	listeners := make([]func(AlertEvent), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Evaluate runs every rule once and returns the alerts it raised
func (e *AlertEngine) Evaluate(ctx context.Context) ([]Alert, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	ec, err := e.evalContext(ctx)
	if err != nil {
		return nil, err
	}

	rules := e.Rules()
	fired := make([]Alert, 0)

	for _, rule := range rules {
		if e.coolingDown(rule, ec.Now) {
			continue
		}
		if !rule.Condition(ec) {
			continue
		}

		alert := e.newAlert(rule, ec)
		if err := e.store.Put(ctx, store.CollectionAlerts, alert.ID, alert); err != nil {
			return fired, fmt.Errorf("failed to persist alert %s: %w", alert.ID, err)
		}

		e.mu.Lock()
		e.lastFired[rule.ID] = ec.Now
		stored := alert
		e.active[alert.ID] = &stored
		e.mu.Unlock()

		e.logger.WithFields(map[string]interface{}{
			"alert_id":   alert.ID,
			"rule_id":    rule.ID,
			"alert_type": string(alert.Type),
			"severity":   string(alert.Severity),
			"title":      alert.Title,
		}).Info("Migration alert generated")

		e.dispatch(ctx, alert)
		e.emit(AlertEvent{Kind: AlertEventTriggered, Alert: alert})
		fired = append(fired, alert)
	}

	return fired, nil
}

func (e *AlertEngine) coolingDown(rule Rule, now time.Time) bool {
	if rule.Cooldown == 0 {
		return false
	}

	e.mu.Lock()
	last, ok := e.lastFired[rule.ID]
	e.mu.Unlock()

	return ok && now.Sub(last) < rule.Cooldown
}

func (e *AlertEngine) evalContext(ctx context.Context) (EvalContext, error) {
	ec := EvalContext{
		Now:        e.opts.Clock(),
		Thresholds: e.opts.Thresholds,
	}

	if s := e.tracker.Active(); s != nil {
		m := s.GetCurrentMetrics()
		ec.Metrics = &m
		if pm, ok := s.currentPhase(); ok {
			ec.CurrentPhase = &pm
		}
	}

	if e.sink != nil {
		entries, err := e.sink.Query(ctx, logging.Filter{
			Levels: []logging.EntryLevel{logging.EntryLevelWarning, logging.EntryLevelError, logging.EntryLevelCritical},
			Since:  ec.Now.Add(-e.opts.LogWindow),
			Limit:  500,
		})
		if err != nil {
			return ec, fmt.Errorf("failed to query recent log entries: %w", err)
		}
		ec.RecentLogs = entries
	}

	return ec, nil
}

func (e *AlertEngine) newAlert(rule Rule, ec EvalContext) Alert {
	title := rule.Title
	if title == "" {
		title = rule.ID
	}
	message := title
	if rule.Message != nil {
		message = rule.Message(ec)
	}

	alert := Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Type:      rule.Type,
		Severity:  rule.Severity,
		Title:     title,
		Message:   message,
		CreatedAt: ec.Now,
		Metadata:  map[string]interface{}{},
	}
	if ec.Metrics != nil {
		alert.MigrationID = ec.Metrics.MigrationID
		alert.Metadata["records_processed"] = ec.Metrics.Processed.Records
		alert.Metadata["errors"] = ec.Metrics.Processed.Errors
		alert.Metadata["progress_percentage"] = ec.Metrics.ProgressPercentage
	}
	if ec.CurrentPhase != nil {
		alert.Metadata["phase"] = ec.CurrentPhase.Name
	}
	return alert
}

// dispatch hands the alert to every matching channel without waiting.
// Channel failures are logged and never reach the caller.
func (e *AlertEngine) dispatch(ctx context.Context, alert Alert) {
	e.mu.Lock()
	channels := make([]NotificationChannel, len(e.channels))
	copy(channels, e.channels)
	e.mu.Unlock()

	for _, ch := range channels {
		if !ch.IsEnabled() || !ch.Accepts(alert.Severity) {
			continue
		}

		e.inflight.Add(1)
		go func(ch NotificationChannel) {
			defer e.inflight.Done()

			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NotificationTimeout)
			defer cancel()

			defer func() {
				if r := recover(); r != nil {
					e.logger.WithFields(map[string]interface{}{
						"channel":  ch.GetType(),
						"alert_id": alert.ID,
						"panic":    fmt.Sprint(r),
					}).Error("Notification channel panicked")
				}
			}()

			if err := ch.Send(sendCtx, alert); err != nil {
				e.logger.WithFields(map[string]interface{}{
					"channel":  ch.GetType(),
					"alert_id": alert.ID,
					"error":    err.Error(),
				}).Error("Failed to send notification")
				return
			}
			e.logger.WithFields(map[string]interface{}{
				"channel":  ch.GetType(),
				"alert_id": alert.ID,
			}).Debug("Notification sent successfully")
		}(ch)
	}
}

// Flush waits for notifications already handed to channels
func (e *AlertEngine) Flush() {
	e.inflight.Wait()
}

// Acknowledge marks an active alert as seen by an operator
func (e *AlertEngine) Acknowledge(ctx context.Context, alertID, by string) (*Alert, error) {
	if by == "" {
		return nil, apperrors.NewValidationError("invalid acknowledgement", []string{"acknowledging actor is required"})
	}

	return e.update(ctx, alertID, AlertEventAcknowledged, func(a *Alert, now time.Time) {
		a.Acknowledged = true
		a.AcknowledgedBy = by
		a.AcknowledgedAt = &now
	})
}

// Resolve closes an alert and removes it from the active set
func (e *AlertEngine) Resolve(ctx context.Context, alertID string) (*Alert, error) {
	return e.update(ctx, alertID, AlertEventResolved, func(a *Alert, now time.Time) {
		a.Resolved = true
		a.ResolvedAt = &now
	})
}

func (e *AlertEngine) update(ctx context.Context, alertID string, kind AlertEventKind, apply func(*Alert, time.Time)) (*Alert, error) {
	e.mu.Lock()
	current, ok := e.active[alertID]
	var alert Alert
	if ok {
		alert = *current
	}
	e.mu.Unlock()

	if !ok {
		// alerts raised by an earlier process are only in the store
		if err := e.store.Get(ctx, store.CollectionAlerts, alertID, &alert); err != nil {
			return nil, err
		}
	}
	if alert.Resolved {
		return nil, apperrors.NewValidationError("alert is closed", []string{fmt.Sprintf("alert %s is already resolved", alertID)})
	}

	apply(&alert, e.opts.Clock())
	if err := e.store.Put(ctx, store.CollectionAlerts, alert.ID, alert); err != nil {
		return nil, fmt.Errorf("failed to persist alert %s: %w", alert.ID, err)
	}

	e.mu.Lock()
	if alert.Resolved {
		delete(e.active, alert.ID)
	} else if ok {
		updated := alert
		e.active[alert.ID] = &updated
	}
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"alert_id": alert.ID,
		"status":   string(alert.Status()),
	}).Info("Alert updated")
	e.emit(AlertEvent{Kind: kind, Alert: alert})

	return &alert, nil
}

// GetActiveAlerts returns unresolved alerts of this process, newest first
func (e *AlertEngine) GetActiveAlerts() []Alert {
	e.mu.Lock()
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	e.mu.Unlock()

	sortNewestFirst(out)
	return out
}

// GetAlertHistory returns persisted alerts newest first. A limit of zero
// or less returns everything.
func (e *AlertEngine) GetAlertHistory(ctx context.Context, limit int) ([]Alert, error) {
	alerts, err := store.ListAs[Alert](ctx, e.store, store.CollectionAlerts, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	sortNewestFirst(alerts)
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

func sortNewestFirst(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID > alerts[j].ID
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}

// StartMonitoring evaluates rules on a timer and after every tracker
// event until StopMonitoring is called or ctx is done
func (e *AlertEngine) StartMonitoring(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.stop != nil {
		return apperrors.NewConflictError("alert monitoring is already running")
	}

	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.trigger = make(chan struct{}, 1)

	trigger := e.trigger
	e.unsub = e.tracker.Subscribe(func(Event) {
		// coalesce bursts of progress updates into one pending pass
		select {
		case trigger <- struct{}{}:
		default:
		}
	})

	go e.run(ctx, e.stop, e.done, trigger)

	e.logger.WithField("interval", e.opts.EvaluationInterval.String()).Info("Alert monitoring started")
	return nil
}

func (e *AlertEngine) run(ctx context.Context, stop, done chan struct{}, trigger <-chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.opts.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		case <-trigger:
		}

		if _, err := e.Evaluate(ctx); err != nil {
			e.logger.WithField("error", err.Error()).Error("Alert evaluation failed")
		}
	}
}

// StopMonitoring stops the evaluation loop and waits for pending
// notifications
func (e *AlertEngine) StopMonitoring() {
	e.runMu.Lock()
	stop, done, unsub := e.stop, e.done, e.unsub
	e.stop, e.done, e.unsub, e.trigger = nil, nil, nil, nil
	e.runMu.Unlock()

	if stop == nil {
		return
	}

	unsub()
	close(stop)
	<-done
	e.Flush()

	e.logger.Info("Alert monitoring stopped")
}
