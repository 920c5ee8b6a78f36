// CLAUDE:SUMMARY Engine facade: owns registry, scheduler, browser session, snapshot store and change log; exposes lifecycle and operator operations.
// Package pagewatch is a web page change-monitoring engine. It loads pages
// in a controlled browser on a schedule, extracts comparable text, detects
// changes against a persisted baseline and writes self-contained diff
// reports.
//
//	eng, err := pagewatch.New(ctx, pagewatch.Config{MaxConcurrency: 2})
//	eng.SetTasks(descriptors)
//	eng.Start(ctx)
//	defer eng.Stop()
package pagewatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/pagewatch/audit"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/browser"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/changelog"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/detect"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/extract"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/fetcher"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/legacy"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/registry"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/runner"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/scheduler"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/snapshot"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// Config holds the runtime settings of an Engine.
type Config struct {
	Mode            browser.Mode
	RemoteURL       string
	Headless        bool
	ProfileDir      string
	XvfbDisplay     string
	BlockResources  []string
	RecycleInterval time.Duration

	// MaxConcurrency bounds checks in flight. Attached mode forces 1.
	MaxConcurrency int
	UserAgent      string
	AcceptLanguage string
	StartDelay     time.Duration

	// LegacyScript is the path of the external task script, if any.
	LegacyScript string
	// OutputRoot holds default output directories of external tasks.
	OutputRoot string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = browser.ModeManaged
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	if c.Mode == browser.ModeAttached {
		c.MaxConcurrency = 1
	}
	if c.OutputRoot == "" {
		c.OutputRoot = "output"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c Config) browserConfig() browser.Config {
	return browser.Config{
		Mode:            c.Mode,
		RemoteURL:       c.RemoteURL,
		Headless:        c.Headless,
		ProfileDir:      c.ProfileDir,
		XvfbDisplay:     c.XvfbDisplay,
		RecycleInterval: c.RecycleInterval,
		BlockResources:  c.BlockResources,
		MaxPages:        c.MaxConcurrency,
		UserAgent:       c.UserAgent,
		AcceptLanguage:  c.AcceptLanguage,
		Logger:          c.Logger,
	}
}

// Option customises New.
type Option func(*Engine)

// WithPool replaces the browser-backed page pool.
func WithPool(p runner.Pool) Option { return func(e *Engine) { e.customPool = p } }

// WithSchedulerClock drives timers from c instead of the wall clock.
func WithSchedulerClock(c scheduler.Clock) Option { return func(e *Engine) { e.clock = c } }

// Engine is the monitoring engine. All methods are safe for concurrent use.
type Engine struct {
	logger    *slog.Logger
	store     *snapshot.Store
	changes   *changelog.Log
	extractor *extract.Extractor
	detector  *detect.Detector
	sched     *scheduler.Scheduler
	metrics   *Metrics

	customPool runner.Pool
	clock      scheduler.Clock
	changeDB   *sql.DB
	auditDB    *sql.DB
	audit      *audit.SQLiteLogger
	base       context.Context

	mu        sync.Mutex
	cfg       Config
	http      *fetcher.Fetcher
	mgr       *browser.Manager
	runner    *runner.Runner
	running   bool
	stopWatch context.CancelFunc
	watchDone chan struct{}
	legacyErr string
	lastErr   string
	external  int

	fileTasks   []TaskConfig
	dbTasks     []TaskConfig
	taskRoot    string
	taskTimeout time.Duration
}

// New builds a stopped engine.
func New(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	cfg.defaults()
	e := &Engine{
		logger:    cfg.Logger,
		cfg:       cfg,
		extractor: extract.New(),
		base:      context.WithoutCancel(ctx),
	}
	for _, o := range opts {
		o(e)
	}
	e.store = snapshot.New(snapshot.WithLogger(e.logger))
	copts := []changelog.Option{changelog.WithLogger(e.logger)}
	if e.changeDB != nil {
		copts = append(copts, changelog.WithDB(e.changeDB))
	}
	changes, err := changelog.New(ctx, copts...)
	if err != nil {
		return nil, err
	}
	e.changes = changes
	if e.auditDB != nil {
		e.audit = audit.NewSQLiteLogger(e.auditDB, audit.WithLogger(e.logger))
		if err := e.audit.Init(); err != nil {
			e.audit.Close()
			return nil, err
		}
	}
	e.detector = detect.New(e.store, e.changes, detect.WithLogger(e.logger))
	e.metrics = newMetrics()
	e.rebuildBrowserLocked()

	e.sched = scheduler.New(registry.New(), scheduler.ExecutorFunc(e.execute), scheduler.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		StartDelay:     cfg.StartDelay,
		Clock:          e.clock,
		Logger:         e.logger,
		OnOutcome:      e.onOutcome,
	})
	e.metrics.watchTasks(e.sched)
	return e, nil
}

// rebuildBrowserLocked replaces the browser manager and runner from cfg.
func (e *Engine) rebuildBrowserLocked() {
	e.http = fetcher.New(
		fetcher.WithUserAgent(e.cfg.UserAgent),
		fetcher.WithAcceptLanguage(e.cfg.AcceptLanguage),
		fetcher.WithLogger(e.logger),
	)
	pool := e.customPool
	if pool == nil {
		e.mgr = browser.NewManager(e.cfg.browserConfig())
		pool = runner.FromManager(e.mgr)
	}
	e.runner = runner.New(pool, e.extractor, e.detector, e.store, e.logger)
}

func (e *Engine) execute(ctx context.Context, d task.Descriptor, prev task.Baseline, hydrated bool) task.Outcome {
	e.mu.Lock()
	r := e.runner
	e.mu.Unlock()
	return r.Execute(ctx, d, prev, hydrated)
}

func (e *Engine) onOutcome(st scheduler.Status, out task.Outcome) {
	e.metrics.observe(out)
	if out.Kind == task.KindFailed && out.Err != nil && !errors.Is(out.Err, context.Canceled) {
		e.recordError(fmt.Errorf("%s: %w", st.Key, out.Err))
	}
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}

// Start begins scheduling. The legacy script, when configured, is loaded
// and watched for changes.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	script := e.cfg.LegacyScript
	e.mu.Unlock()

	if script != "" {
		if _, err := e.RefreshExternalTasks(ctx); err != nil {
			e.logger.Warn("pagewatch: legacy tasks unavailable", "error", err)
		}
		wctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		e.mu.Lock()
		e.stopWatch, e.watchDone = cancel, done
		e.mu.Unlock()
		go func() {
			defer close(done)
			w := legacy.NewWatcher(script, 0, e.logger)
			if err := w.Run(wctx, func(ctx context.Context) { e.RefreshExternalTasks(ctx) }); err != nil {
				e.logger.Warn("pagewatch: legacy watcher stopped", "error", err)
			}
		}()
	}

	e.sched.Start(ctx)
	e.logger.Info("pagewatch: started", "mode", e.cfg.Mode, "max_concurrency", e.sched.MaxConcurrency())
	return nil
}

// Stop cancels all timers, empties the queue, waits for checks in flight
// and tears down the browser session.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopWatch, done := e.stopWatch, e.watchDone
	e.stopWatch, e.watchDone = nil, nil
	e.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
		<-done
	}
	e.sched.Stop()

	e.mu.Lock()
	if e.mgr != nil {
		e.mgr.Shutdown()
	}
	// A shut down manager is terminal; the next Start gets a fresh one.
	e.rebuildBrowserLocked()
	e.mu.Unlock()
	e.logger.Info("pagewatch: stopped")
}

// Close stops the engine and flushes the audit trail.
func (e *Engine) Close() error {
	e.Stop()
	if e.audit != nil {
		return e.audit.Close()
	}
	return nil
}

// Running reports whether the engine is started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SetTasks replaces the built-in task set.
func (e *Engine) SetTasks(ds []task.Descriptor) {
	diff := e.sched.SetBuiltin(ds)
	e.logger.Info("pagewatch: tasks set", "count", len(ds), "added", len(diff.Added), "removed", len(diff.Removed))
}

// RefreshExternalTasks reloads the legacy script. A script that fails to
// load yields an empty external set and the error, which is also kept as
// the engine's legacy error.
func (e *Engine) RefreshExternalTasks(ctx context.Context) (int, error) {
	e.mu.Lock()
	script, root, http := e.cfg.LegacyScript, e.cfg.OutputRoot, e.http
	e.mu.Unlock()

	var ds []task.Descriptor
	var err error
	if script != "" {
		ds, err = legacy.LoadFile(ctx, script, legacy.Options{OutputRoot: root, HTTP: http})
	}
	if err != nil {
		ds = nil
		err = fmt.Errorf("%w: %w", ErrLegacyScript, err)
		e.logger.Warn("pagewatch: legacy script failed", "path", script, "error", err)
	}
	e.sched.SetExternal(ds)

	e.mu.Lock()
	e.external = len(ds)
	e.legacyErr = ""
	if err != nil {
		e.legacyErr = err.Error()
		e.lastErr = e.legacyErr
	}
	e.mu.Unlock()
	return len(ds), err
}

// Snapshot is the engine-level status.
type Snapshot struct {
	Running        bool             `json:"running"`
	Connected      bool             `json:"connected"`
	Mode           browser.Mode     `json:"mode"`
	MaxConcurrency int              `json:"max_concurrency"`
	Tasks          scheduler.Counts `json:"tasks"`
	ExternalTasks  int              `json:"external_tasks"`
	LegacyError    string           `json:"legacy_error,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
}

// Snapshot returns the current engine status.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	s := Snapshot{
		Running:       e.running,
		Mode:          e.cfg.Mode,
		ExternalTasks: e.external,
		LegacyError:   e.legacyErr,
		LastError:     e.lastErr,
	}
	mgr := e.mgr
	e.mu.Unlock()

	if mgr != nil {
		s.Connected = mgr.Connected()
		if err := mgr.LastError(); err != "" {
			s.LastError = err
		}
	} else {
		s.Connected = s.Running
	}
	s.MaxConcurrency = e.sched.MaxConcurrency()
	s.Tasks = e.sched.Counts()
	return s
}

// TaskStatuses returns every task's status.
func (e *Engine) TaskStatuses() []scheduler.Status {
	return e.sched.Statuses()
}

// TaskStatus returns one task's status. id may be a full key or a
// built-in task id.
func (e *Engine) TaskStatus(id string) (scheduler.Status, error) {
	st, ok := e.sched.Status(e.resolve(id))
	if !ok {
		return st, ErrUnknownTask
	}
	return st, nil
}

// Changes returns up to limit recent Change Records, newest first.
func (e *Engine) Changes(limit int) []changelog.Record {
	return e.changes.Recent(limit)
}

// UnblockTask clears a blocked task's suspension and re-arms it.
func (e *Engine) UnblockTask(id string) error {
	return translate(e.sched.Unblock(e.resolve(id)))
}

// CheckNow queues an immediate check of a task.
func (e *Engine) CheckNow(id string) error {
	if !e.Running() {
		return ErrNotRunning
	}
	return translate(e.sched.Trigger(e.resolve(id)))
}

// Reconfigure applies new runtime settings. The browser session is rebuilt,
// which stops and restarts a running engine.
func (e *Engine) Reconfigure(ctx context.Context, cfg Config) error {
	cfg.defaults()
	wasRunning := e.Running()
	if wasRunning {
		e.Stop()
	}

	e.mu.Lock()
	if e.mgr != nil {
		e.mgr.Shutdown()
	}
	e.cfg = cfg
	e.rebuildBrowserLocked()
	e.mu.Unlock()
	e.sched.SetMaxConcurrency(cfg.MaxConcurrency)

	if wasRunning {
		return e.Start(ctx)
	}
	return nil
}

// baseContext is the context of New without its cancellation, for starts
// requested by short-lived callers.
func (e *Engine) baseContext() context.Context { return e.base }

// Metrics returns the engine's Prometheus collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

func (e *Engine) resolve(id string) string {
	if strings.HasPrefix(id, registry.BuiltinPrefix) || strings.HasPrefix(id, registry.ExternalPrefix) {
		return id
	}
	if _, ok := e.sched.Status(registry.BuiltinPrefix + id); ok {
		return registry.BuiltinPrefix + id
	}
	return id
}

func (s Snapshot) String() string {
	return fmt.Sprintf("running=%v mode=%s tasks=%d active=%d blocked=%d", s.Running, s.Mode, s.Tasks.Total, s.Tasks.Active, s.Tasks.Blocked)
}
