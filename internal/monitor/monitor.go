// Package monitor drives the watch loop: poll fresh query-log records,
// classify each one, alert on dangerous ones, and advance a persistent
// checkpoint so restarts neither lose nor re-alert records.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sqlsentry/internal/checkpoint"
	"sqlsentry/internal/detect"
	"sqlsentry/internal/logstore"
	"sqlsentry/internal/notify"
	"sqlsentry/internal/redact"
)

// State is the monitor lifecycle phase, reported via /status.
type State string

const (
	StateInitializing   State = "initializing"
	StateHealthChecking State = "health-checking"
	StateTraining       State = "training"
	StateRunning        State = "running"
	StateDegraded       State = "degraded"
	StateShuttingDown   State = "shutting-down"
)

// Reader supplies query-log records. *logstore.Reader implements it.
type Reader interface {
	Poll(ctx context.Context, cursor *time.Time) ([]logstore.Record, *time.Time, error)
	Recent(ctx context.Context, limit int) ([]logstore.Record, error)
	Ping(ctx context.Context) error
}

// Notifier delivers alert text. *notify.TelegramNotifier implements it.
type Notifier interface {
	Send(ctx context.Context, text string) error
	Check(ctx context.Context) error
}

// CheckpointStore persists the poll cursor across restarts.
type CheckpointStore interface {
	Load(ctx context.Context) (time.Time, bool, error)
	Save(ctx context.Context, t time.Time) error
}

// Config holds monitor loop settings.
type Config struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	RetrainInterval time.Duration `yaml:"retrain_interval"`
	TrainSampleSize int           `yaml:"train_sample_size"`
	TrainAttempts   int           `yaml:"train_attempts"`
	TrainBackoff    time.Duration `yaml:"train_backoff"`
	AlertQueryLimit int           `yaml:"alert_query_limit"`
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		RetrainInterval: time.Hour,
		TrainSampleSize: 1000,
		TrainAttempts:   3,
		TrainBackoff:    5 * time.Second,
		AlertQueryLimit: notify.DefaultQueryLimit,
	}
}

// Monitor owns the poll/classify/alert cycle.
type Monitor struct {
	config      Config
	reader      Reader
	notifier    Notifier
	checkpoints CheckpointStore
	classifier  *detect.Classifier
	logger      *slog.Logger
	scheduler   *Scheduler
	startedAt   time.Time

	mu        sync.Mutex
	state     State
	cursor    *time.Time
	lastSaved *time.Time

	metrics monitorMetrics
}

type monitorMetrics struct {
	cycles           atomic.Uint64
	cycleFailures    atomic.Uint64
	recordsChecked   atomic.Uint64
	alertsSent       atomic.Uint64
	deliveryFailures atomic.Uint64
	trains           atomic.Uint64
}

// New builds a monitor. Zero config fields fall back to defaults.
func New(cfg Config, reader Reader, notifier Notifier, checkpoints CheckpointStore, classifier *detect.Classifier, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetrainInterval <= 0 {
		cfg.RetrainInterval = def.RetrainInterval
	}
	if cfg.TrainSampleSize <= 0 {
		cfg.TrainSampleSize = def.TrainSampleSize
	}
	if cfg.TrainAttempts <= 0 {
		cfg.TrainAttempts = def.TrainAttempts
	}
	if cfg.TrainBackoff <= 0 {
		cfg.TrainBackoff = def.TrainBackoff
	}
	if cfg.AlertQueryLimit <= 0 {
		cfg.AlertQueryLimit = def.AlertQueryLimit
	}

	return &Monitor{
		config:      cfg,
		reader:      reader,
		notifier:    notifier,
		checkpoints: checkpoints,
		classifier:  classifier,
		logger:      logger,
		scheduler:   NewScheduler(cfg.PollInterval, logger),
		startedAt:   time.Now(),
		state:       StateInitializing,
	}
}

// Run blocks until ctx is cancelled. It returns an error only when
// startup fails; once the loop is running, cycle failures degrade the
// monitor instead of stopping it.
func (m *Monitor) Run(ctx context.Context) error {
	m.setState(StateHealthChecking)
	if err := m.healthCheck(ctx); err != nil {
		return err
	}

	if err := m.loadCheckpoint(ctx); err != nil {
		return err
	}

	m.setState(StateTraining)
	m.trainWithRetry(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.retrainLoop(ctx)
	}()

	m.setState(StateRunning)
	m.scheduler.Run(ctx, m.runCycle)

	m.setState(StateShuttingDown)
	wg.Wait()
	m.persistBestEffort()

	s := m.Status()
	m.logger.Info("monitor stopped",
		"cycles", s.Cycles,
		"records_checked", s.RecordsChecked,
		"alerts_sent", s.AlertsSent,
		"model_trains", s.ModelTrains,
	)
	return nil
}

// healthCheck probes the notifier first: if alerts cannot be delivered
// there is no point watching. A dead log store is reported through the
// working notifier before the monitor gives up.
func (m *Monitor) healthCheck(ctx context.Context) error {
	if err := m.notifier.Check(ctx); err != nil {
		return fmt.Errorf("monitor: notifier health check: %w", err)
	}
	if err := m.reader.Ping(ctx); err != nil {
		m.alertFailure(ctx, "log-store", err)
		return fmt.Errorf("monitor: log store health check: %w", err)
	}
	m.logger.Info("health check passed")
	return nil
}

func (m *Monitor) loadCheckpoint(ctx context.Context) error {
	cp, ok, err := m.checkpoints.Load(ctx)
	if err != nil {
		if errors.Is(err, checkpoint.ErrCorrupt) {
			// Self-healing: the next save overwrites the bad value and
			// the lookback window bounds what gets re-read.
			m.logger.Warn("checkpoint unreadable, starting from lookback window",
				"error", redact.Error(err))
			return nil
		}
		return fmt.Errorf("monitor: load checkpoint: %w", err)
	}
	if !ok {
		m.logger.Info("no checkpoint found, starting from lookback window")
		return nil
	}

	m.mu.Lock()
	cur, saved := cp, cp
	m.cursor = &cur
	m.lastSaved = &saved
	m.mu.Unlock()
	m.logger.Info("checkpoint loaded", "cursor", cp)
	return nil
}

func (m *Monitor) train(ctx context.Context) error {
	records, err := m.reader.Recent(ctx, m.config.TrainSampleSize)
	if err != nil {
		return fmt.Errorf("fetch training sample: %w", err)
	}

	samples := make([]detect.FeatureVector, 0, len(records))
	for _, rec := range records {
		samples = append(samples, detect.Extract(rec.Query))
	}

	forest, err := detect.TrainForest(samples)
	if err != nil {
		return fmt.Errorf("train model: %w", err)
	}

	m.classifier.SetModel(forest)
	m.metrics.trains.Add(1)
	m.logger.Info("model trained", "samples", forest.Samples())
	return nil
}

// trainWithRetry tries the initial training a few times and then lets
// the monitor run on rules alone. Dropping dangerous queries on the
// floor while waiting for training data would be worse than reduced
// coverage.
func (m *Monitor) trainWithRetry(ctx context.Context) {
	var lastErr error
	for attempt := 1; attempt <= m.config.TrainAttempts; attempt++ {
		lastErr = m.train(ctx)
		if lastErr == nil {
			return
		}
		m.logger.Warn("model training failed",
			"attempt", attempt,
			"max_attempts", m.config.TrainAttempts,
			"error", redact.Error(lastErr),
		)
		if attempt < m.config.TrainAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.config.TrainBackoff):
			}
		}
	}

	m.logger.Error("model training exhausted retries, running on rules only",
		"error", redact.Error(lastErr))
	m.alertFailure(ctx, "model-training", lastErr)
}

func (m *Monitor) retrainLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.RetrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.train(ctx); err != nil {
				// Keep scoring with the model we have.
				m.logger.Warn("periodic retrain failed, keeping current model",
					"error", redact.Error(err))
			}
		}
	}
}

// runCycle is the scheduler task. It never returns an error: failures
// are logged, counted, and flip the monitor into StateDegraded until a
// cycle succeeds again.
func (m *Monitor) runCycle(ctx context.Context) {
	m.metrics.cycles.Add(1)

	err := m.safeCycle(ctx)
	if err == nil {
		if m.currentState() == StateDegraded {
			m.setState(StateRunning)
		}
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		m.logger.Debug("cycle aborted by shutdown")
		return
	}

	m.metrics.cycleFailures.Add(1)

	var cerr *CycleError
	if !errors.As(err, &cerr) {
		cerr = newCycleError(KindModel, "cycle", err)
	}
	m.logger.Error("cycle failed",
		"kind", string(cerr.Kind),
		"op", cerr.Op,
		"error", redact.Error(cerr.Err),
	)

	if cerr.Op != "checkpoint-save" {
		m.persistBestEffort()
	}

	if m.currentState() != StateDegraded {
		m.setState(StateDegraded)
		if cerr.Kind != KindDelivery {
			m.alertFailure(ctx, cerr.Op, cerr.Err)
		}
	}
}

func (m *Monitor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic recovered in cycle", "panic", r)
			err = newCycleError(KindModel, "cycle-panic", fmt.Errorf("%v", r))
		}
	}()
	return m.cycle(ctx)
}

func (m *Monitor) cycle(ctx context.Context) error {
	records, next, err := m.reader.Poll(ctx, m.cursorCopy())
	if err != nil {
		return newCycleError(classifyPollError(err), "poll", err)
	}

	for _, rec := range records {
		if err := m.handleRecord(ctx, rec); err != nil {
			return newCycleError(KindDelivery, "alert", err)
		}
	}

	// The poll cursor covers rows that were skipped as unusable, so a
	// bad row cannot wedge the loop on one page forever.
	if next != nil {
		m.advanceCursor(*next)
	}

	return m.persistCursor(ctx)
}

// handleRecord classifies one record and alerts when it is dangerous.
// Delivery failures are counted and swallowed so one flaky send does
// not re-run the whole batch; only cancellation stops processing.
func (m *Monitor) handleRecord(ctx context.Context, rec logstore.Record) error {
	verdict := m.classifier.Evaluate(rec.Query)
	m.metrics.recordsChecked.Add(1)

	if verdict.Dangerous {
		text := notify.FormatAlert(notify.Alert{
			Time:     rec.Timestamp,
			User:     rec.User,
			Database: rec.Database,
			Reason:   verdict.Reason,
			Query:    rec.Query,
		}, m.config.AlertQueryLimit)

		if err := m.notifier.Send(ctx, text); err != nil {
			m.metrics.deliveryFailures.Add(1)
			if ctx.Err() != nil {
				return err
			}
			m.logger.Error("alert delivery failed",
				"reason", verdict.Reason,
				"record_id", rec.ID,
				"error", redact.Error(err),
			)
		} else {
			m.metrics.alertsSent.Add(1)
			m.logger.Info("alert sent",
				"reason", verdict.Reason,
				"record_id", rec.ID,
				"user", rec.User,
			)
		}
	}

	m.advanceCursor(rec.Timestamp)
	return ctx.Err()
}

func (m *Monitor) cursorCopy() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor == nil {
		return nil
	}
	c := *m.cursor
	return &c
}

// advanceCursor moves the cursor forward, never back.
func (m *Monitor) advanceCursor(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor == nil || t.After(*m.cursor) {
		m.cursor = &t
	}
}

// persistCursor saves the cursor when it moved since the last save. An
// empty poll therefore leaves the stored checkpoint untouched.
func (m *Monitor) persistCursor(ctx context.Context) error {
	m.mu.Lock()
	cursor := m.cursor
	saved := m.lastSaved
	m.mu.Unlock()

	if cursor == nil {
		return nil
	}
	if saved != nil && !cursor.After(*saved) {
		return nil
	}

	if err := m.checkpoints.Save(ctx, *cursor); err != nil {
		// The in-memory cursor stays advanced: this process will not
		// re-alert, only a restart replays the unsaved window.
		return newCycleError(KindConnectivity, "checkpoint-save", err)
	}

	m.mu.Lock()
	c := *cursor
	m.lastSaved = &c
	m.mu.Unlock()
	return nil
}

// persistBestEffort saves the cursor on a fresh context, for paths
// where the loop context is already cancelled or the cycle failed.
func (m *Monitor) persistBestEffort() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.persistCursor(ctx); err != nil {
		m.logger.Warn("best-effort cursor persist failed", "error", redact.Error(err))
	}
}

func (m *Monitor) alertFailure(ctx context.Context, component string, cause error) {
	if err := m.notifier.Send(ctx, notify.FormatFailure(component, cause)); err != nil {
		m.metrics.deliveryFailures.Add(1)
		m.logger.Error("failed to deliver failure notice",
			"component", component,
			"error", redact.Error(err),
		)
	}
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Info("state changed", "from", string(prev), "to", string(s))
	}
}

func (m *Monitor) currentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	State            State
	Uptime           time.Duration
	Cursor           time.Time
	HasCursor        bool
	ModelTrainedAt   time.Time
	ModelSamples     int
	Cycles           uint64
	CycleFailures    uint64
	TicksSkipped     uint64
	RecordsChecked   uint64
	AlertsSent       uint64
	DeliveryFailures uint64
	ModelTrains      uint64
}

// Status returns current counters and state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	st := m.state
	var cursor time.Time
	hasCursor := false
	if m.cursor != nil {
		cursor = *m.cursor
		hasCursor = true
	}
	m.mu.Unlock()

	s := Status{
		State:            st,
		Uptime:           time.Since(m.startedAt),
		Cursor:           cursor,
		HasCursor:        hasCursor,
		Cycles:           m.metrics.cycles.Load(),
		CycleFailures:    m.metrics.cycleFailures.Load(),
		TicksSkipped:     m.scheduler.Skipped(),
		RecordsChecked:   m.metrics.recordsChecked.Load(),
		AlertsSent:       m.metrics.alertsSent.Load(),
		DeliveryFailures: m.metrics.deliveryFailures.Load(),
		ModelTrains:      m.metrics.trains.Load(),
	}
	if model := m.classifier.Model(); model != nil {
		s.ModelTrainedAt = model.TrainedAt()
		s.ModelSamples = model.Samples()
	}
	return s
}

// StatusText renders the snapshot for the /status command.
func (m *Monitor) StatusText() string {
	s := m.Status()

	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", s.State)
	fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime.Truncate(time.Second))
	if s.HasCursor {
		fmt.Fprintf(&b, "Cursor: %s\n", s.Cursor.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("Cursor: none\n")
	}
	if s.ModelSamples > 0 {
		fmt.Fprintf(&b, "Model: trained on %d samples at %s\n",
			s.ModelSamples, s.ModelTrainedAt.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("Model: untrained (rules only)\n")
	}
	fmt.Fprintf(&b, "Cycles: %d (%d failed, %d ticks skipped)\n",
		s.Cycles, s.CycleFailures, s.TicksSkipped)
	fmt.Fprintf(&b, "Records checked: %d\n", s.RecordsChecked)
	fmt.Fprintf(&b, "Alerts sent: %d (%d delivery failures)",
		s.AlertsSent, s.DeliveryFailures)
	return b.String()
}
