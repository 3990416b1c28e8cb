package monitor

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"migration-guard/internal/config"
	apperrors "migration-guard/internal/errors"
	"migration-guard/internal/logging"
	"migration-guard/internal/store"
)

// TrackerOptions configure sampling of running migrations
type TrackerOptions struct {
	SnapshotInterval time.Duration
	HistorySize      int
	Thresholds       Thresholds
	// Clock and HeapReader are replaced in tests
	Clock      func() time.Time
	HeapReader func() uint64
}

// TrackerOptionsFromConfig maps the monitor section onto tracker options
func TrackerOptionsFromConfig(cfg *config.Config) TrackerOptions {
	return TrackerOptions{
		SnapshotInterval: cfg.Monitor.SnapshotInterval,
		HistorySize:      cfg.Monitor.HistorySize,
		Thresholds:       ThresholdsFromConfig(cfg.Monitor.Thresholds),
	}
}

// Tracker owns the single active migration session
type Tracker struct {
	opts   TrackerOptions
	store  store.Store
	logger *logging.Logger

	mu          sync.Mutex
	active      *Session
	subscribers map[int]func(Event)
	nextSub     int
}

// NewTracker creates a tracker. The store may be nil, in which case
// snapshots only live in memory.
func NewTracker(opts TrackerOptions, st store.Store, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 5 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 720
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.HeapReader == nil {
		opts.HeapReader = readHeap
	}

	return &Tracker{
		opts:        opts,
		store:       st,
		logger:      logger,
		subscribers: make(map[int]func(Event)),
	}
}

func readHeap() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Subscribe registers fn for every tracker event. Callbacks run on the
// goroutine that caused the event and must not block.
func (t *Tracker) Subscribe(fn func(Event)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	t.subscribers[id] = fn

	return func() {
		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) emit(ev Event) {
	t.mu.Lock()
	fns := make([]func(Event), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// StartMigration opens a session for migrationID. Only one session may run
// at a time; a second call while one is active is rejected.
func (t *Tracker) StartMigration(migrationID string, totals Totals) (*Session, error) {
	if migrationID == "" {
		return nil, apperrors.NewValidationError("invalid migration", []string{"migration id is required"})
	}

	t.mu.Lock()
	if t.active != nil {
		running := t.active.id
		t.mu.Unlock()
		return nil, apperrors.NewConflictError(fmt.Sprintf("migration %s is already running", running))
	}

	s := &Session{
		tracker: t,
		id:      migrationID,
		start:   t.opts.Clock(),
		totals:  totals,
		phases:  make(map[string]*phaseState),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	t.active = s
	t.mu.Unlock()

	go s.sample(t.opts.SnapshotInterval)

	t.logger.WithFields(map[string]interface{}{
		"migration_id":  migrationID,
		"total_records": totals.Records,
		"total_files":   totals.Files,
	}).Info("Migration started")
	t.emit(Event{Kind: EventMigrationStarted, MigrationID: migrationID, Metrics: s.GetCurrentMetrics()})

	return s, nil
}

// Active returns the running session, or nil
func (t *Tracker) Active() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// GetHistoricalMetrics returns the persisted snapshots of a migration,
// oldest first
func (t *Tracker) GetHistoricalMetrics(ctx context.Context, migrationID string) ([]Metrics, error) {
	if t.store == nil {
		return nil, apperrors.NewConfigurationError("metrics history requires a record store", "store")
	}

	snapshots, err := store.ListAs(ctx, t.store, store.CollectionMetrics, func(m Metrics) bool {
		return m.MigrationID == migrationID
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, apperrors.NewNotFoundError("migration metrics", migrationID)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Sequence < snapshots[j].Sequence
	})
	return snapshots, nil
}

type phaseState struct {
	metrics PhaseMetrics
	base    Progress
}

// Session is the live state of one migration run
type Session struct {
	tracker *Tracker
	id      string
	start   time.Time
	totals  Totals

	mu         sync.RWMutex
	counters   Progress
	phases     map[string]*phaseState
	phaseOrder []string
	current    string
	history    []Metrics
	seq        int
	ended      bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// ID returns the migration id
func (s *Session) ID() string {
	return s.id
}

func (s *Session) sample(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Snapshot(context.Background()); err != nil {
				s.tracker.logger.WithFields(map[string]interface{}{
					"migration_id": s.id,
					"error":        err.Error(),
				}).Warn("Failed to persist metrics snapshot")
			}
		}
	}
}

// StartPhase marks phase as the one in progress
func (s *Session) StartPhase(phase string) error {
	if phase == "" {
		return apperrors.NewValidationError("invalid phase", []string{"phase name is required"})
	}

	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.current != "" {
		current := s.current
		s.mu.Unlock()
		return apperrors.NewConflictError(fmt.Sprintf("phase %s is still in progress", current))
	}

	if _, seen := s.phases[phase]; !seen {
		s.phaseOrder = append(s.phaseOrder, phase)
	}
	s.phases[phase] = &phaseState{
		metrics: PhaseMetrics{
			Name:      phase,
			Status:    PhaseInProgress,
			StartTime: s.tracker.opts.Clock(),
		},
		base: s.counters,
	}
	s.current = phase
	s.mu.Unlock()

	s.tracker.logger.WithFields(map[string]interface{}{
		"migration_id":    s.id,
		logging.FieldPhase: phase,
	}).Info("Phase started")
	s.tracker.emit(Event{Kind: EventPhaseStarted, MigrationID: s.id, Phase: phase, Metrics: s.progressView()})
	return nil
}

// EndPhase closes the phase in progress with a final status
func (s *Session) EndPhase(phase string, status PhaseStatus) error {
	if status != PhaseCompleted && status != PhaseFailed {
		return apperrors.NewValidationError("invalid phase status", []string{fmt.Sprintf("status %q cannot end a phase", status)})
	}

	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.current != phase {
		s.mu.Unlock()
		return apperrors.NewValidationError("invalid phase", []string{fmt.Sprintf("phase %s is not in progress", phase)})
	}

	st := s.phases[phase]
	end := s.tracker.opts.Clock()
	st.metrics.Status = status
	st.metrics.EndTime = &end
	st.metrics.Duration = end.Sub(st.metrics.StartTime)
	st.metrics.Processed = s.counters.sub(st.base)
	s.current = ""
	result := st.metrics
	s.mu.Unlock()

	entry := s.tracker.logger.WithFields(map[string]interface{}{
		"migration_id":    s.id,
		logging.FieldPhase: phase,
		"status":          string(status),
		"duration":        result.Duration.String(),
		"records":         result.Processed.Records,
	})
	if status == PhaseFailed {
		entry.Error("Phase failed")
	} else {
		entry.Info("Phase completed")
	}
	s.tracker.emit(Event{Kind: EventPhaseEnded, MigrationID: s.id, Phase: phase, Metrics: s.progressView()})
	return nil
}

// UpdateProgress adds delta to the live counters. Deltas must not be
// negative.
func (s *Session) UpdateProgress(delta Progress) error {
	if delta.negative() {
		return apperrors.NewValidationError("invalid progress update", []string{"progress deltas must not be negative"})
	}

	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.counters = s.counters.add(delta)
	s.mu.Unlock()

	s.tracker.emit(Event{Kind: EventProgress, MigrationID: s.id, Metrics: s.progressView()})
	return nil
}

func (s *Session) checkOpen() error {
	if s.ended {
		return apperrors.NewValidationError("migration ended", []string{fmt.Sprintf("migration %s has already ended", s.id)})
	}
	return nil
}

// GetCurrentMetrics returns a consistent view with derived fields
func (s *Session) GetCurrentMetrics() Metrics {
	s.mu.RLock()
	counters := s.counters
	current := s.current
	s.mu.RUnlock()

	m := s.derive(counters, current, s.tracker.opts.Clock())
	m.HeapBytes = s.tracker.opts.HeapReader()
	return m
}

// progressView is GetCurrentMetrics without the heap sample, for events
func (s *Session) progressView() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.derive(s.counters, s.current, s.tracker.opts.Clock())
}

func (s *Session) derive(counters Progress, current string, now time.Time) Metrics {
	m := Metrics{
		MigrationID:  s.id,
		Timestamp:    now,
		StartTime:    s.start,
		CurrentPhase: current,
		Totals:       s.totals,
		Processed:    counters,
		Elapsed:      now.Sub(s.start),
	}

	if s.totals.Records > 0 {
		pct := math.Round(float64(counters.Records) / float64(s.totals.Records) * 100)
		m.ProgressPercentage = math.Min(100, math.Max(0, pct))
	}

	if seconds := m.Elapsed.Seconds(); seconds > 0 {
		m.RecordsPerSecond = float64(counters.Records) / seconds
	}

	if m.RecordsPerSecond > 0 && s.totals.Records > counters.Records {
		remaining := time.Duration(float64(s.totals.Records-counters.Records) / m.RecordsPerSecond * float64(time.Second))
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		m.EstimatedRemaining = &remaining
	}

	return m
}

// Snapshot appends the current metrics to the bounded history and
// persists them
func (s *Session) Snapshot(ctx context.Context) error {
	s.mu.Lock()
	s.seq++
	m := s.derive(s.counters, s.current, s.tracker.opts.Clock())
	m.Sequence = s.seq
	m.HeapBytes = s.tracker.opts.HeapReader()
	s.history = append(s.history, m)
	if over := len(s.history) - s.tracker.opts.HistorySize; over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()

	if s.tracker.store == nil {
		return nil
	}
	id := fmt.Sprintf("%s:%010d", s.id, m.Sequence)
	return s.tracker.store.Put(ctx, store.CollectionMetrics, id, m)
}

// GetMetricsHistory returns the retained snapshots, oldest first
func (s *Session) GetMetricsHistory() []Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Metrics, len(s.history))
	copy(out, s.history)
	return out
}

// GetPhaseMetrics returns every phase in start order. The phase in
// progress reports its running totals.
func (s *Session) GetPhaseMetrics() []PhaseMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.tracker.opts.Clock()
	out := make([]PhaseMetrics, 0, len(s.phaseOrder))
	for _, name := range s.phaseOrder {
		st := s.phases[name]
		pm := st.metrics
		if pm.Status == PhaseInProgress {
			pm.Duration = now.Sub(pm.StartTime)
			pm.Processed = s.counters.sub(st.base)
		}
		out = append(out, pm)
	}
	return out
}

// currentPhase returns the phase in progress, if any
func (s *Session) currentPhase() (PhaseMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == "" {
		return PhaseMetrics{}, false
	}
	pm := s.phases[s.current].metrics
	pm.Duration = s.tracker.opts.Clock().Sub(pm.StartTime)
	return pm, true
}

// GetETA projects the completion time from current throughput. Confidence
// falls as the last three sampled throughputs diverge.
func (s *Session) GetETA() ETA {
	m := s.GetCurrentMetrics()

	var eta ETA
	if m.EstimatedRemaining != nil {
		remaining := *m.EstimatedRemaining
		completion := m.Timestamp.Add(remaining)
		eta.Remaining = &remaining
		eta.EstimatedCompletion = &completion
	}

	s.mu.RLock()
	history := s.history
	if len(history) >= 3 {
		eta.Confidence = confidence(history[len(history)-3:])
	}
	s.mu.RUnlock()

	return eta
}

func confidence(samples []Metrics) float64 {
	var sum float64
	for _, m := range samples {
		sum += m.RecordsPerSecond
	}
	mean := sum / float64(len(samples))
	if mean <= 0 {
		return 0
	}

	var variance float64
	for _, m := range samples {
		d := m.RecordsPerSecond - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(samples)))

	return math.Max(0, math.Min(100, 100-stddev/mean*100))
}

// GenerateStatusReport bundles metrics, phases and the ETA with alert
// strings and recommendations derived from them
func (s *Session) GenerateStatusReport() StatusReport {
	m := s.GetCurrentMetrics()
	report := StatusReport{
		GeneratedAt: m.Timestamp,
		Metrics:     m,
		Phases:      s.GetPhaseMetrics(),
		ETA:         s.GetETA(),
	}
	report.Alerts, report.Recommendations = assess(m, s.tracker.opts.Thresholds)
	return report
}

func assess(m Metrics, th Thresholds) (alerts, recommendations []string) {
	alerts = make([]string, 0)
	recommendations = make([]string, 0)

	if m.Processed.Errors > 0 {
		alerts = append(alerts, fmt.Sprintf("%d errors encountered during migration", m.Processed.Errors))
		recommendations = append(recommendations,
			"Review the error entries in the migration log and fix the failing records before progressing")
	}

	if m.Processed.Records >= th.LowThroughputRecords && m.RecordsPerSecond < th.LowThroughput {
		alerts = append(alerts, fmt.Sprintf("Low throughput: %.1f records/sec", m.RecordsPerSecond))
		recommendations = append(recommendations,
			"Consider increasing the batch size or checking load on the source and target databases")
	}

	if m.Processed.Records == 0 && m.Elapsed > th.StallAfter {
		alerts = append(alerts, fmt.Sprintf("No progress after %s", m.Elapsed.Truncate(time.Second)))
		recommendations = append(recommendations,
			"Verify connectivity to the source and target systems")
	}

	if th.HeapBytes > 0 && m.HeapBytes > th.HeapBytes {
		alerts = append(alerts, fmt.Sprintf("High memory usage: %d MB", m.HeapBytes/(1024*1024)))
		recommendations = append(recommendations,
			"Reduce the batch size to lower memory pressure")
	}

	if th.WarningCount > 0 && m.Processed.Warnings > th.WarningCount {
		recommendations = append(recommendations,
			fmt.Sprintf("Investigate %d warnings before the final validation phase", m.Processed.Warnings))
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations, "Migration is progressing normally")
	}
	return alerts, recommendations
}

// EndMigration stops sampling, records a final snapshot and releases the
// tracker for the next run
func (s *Session) EndMigration(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.ended = true
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	snapErr := s.Snapshot(ctx)

	t := s.tracker
	t.mu.Lock()
	if t.active == s {
		t.active = nil
	}
	t.mu.Unlock()

	m := s.GetCurrentMetrics()
	t.logger.WithFields(map[string]interface{}{
		"migration_id": s.id,
		"records":      m.Processed.Records,
		"errors":       m.Processed.Errors,
		"duration":     m.Elapsed.String(),
	}).Info("Migration ended")
	t.emit(Event{Kind: EventMigrationEnded, MigrationID: s.id, Metrics: m})

	if snapErr != nil {
		return fmt.Errorf("failed to persist final metrics snapshot: %w", snapErr)
	}
	return nil
}
