// CLAUDE:SUMMARY Per-task timers, FIFO run queue bounded by max concurrency, backoff on failure, blocked-task suspension.
// Package scheduler drives task checks: one timer per idle task, a FIFO
// queue of tasks waiting for an execution slot, and at most MaxConcurrency
// executions in flight.
//
// Per task the cycle is idle → armed → queued → active → idle. A check that
// detects an anti-bot challenge moves the task to blocked, which only
// Unblock leaves. A task is in at most one of armed, queued, active at any
// instant.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/registry"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

var (
	ErrUnknownTask = errors.New("scheduler: unknown task")
	ErrNotBlocked  = errors.New("scheduler: task is not blocked")
	ErrNotRunning  = errors.New("scheduler: not running")

	// ErrNotSchedulable is returned by Trigger for a blocked or disabled task.
	ErrNotSchedulable = errors.New("scheduler: task is blocked or disabled")
)

// Executor runs one check. prev is the runtime baseline; hydrated tells
// whether it was already loaded from the snapshot store.
type Executor interface {
	Execute(ctx context.Context, d task.Descriptor, prev task.Baseline, hydrated bool) task.Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, d task.Descriptor, prev task.Baseline, hydrated bool) task.Outcome

func (f ExecutorFunc) Execute(ctx context.Context, d task.Descriptor, prev task.Baseline, hydrated bool) task.Outcome {
	return f(ctx, d, prev, hydrated)
}

// Config configures a Scheduler.
type Config struct {
	// MaxConcurrency bounds executions in flight. Default: 2.
	MaxConcurrency int
	// StartDelay is the delay before the first check of a task on Start,
	// on registration, and after Unblock. Default: 2s.
	StartDelay time.Duration
	// StartStagger spaces first checks on Start: task i waits
	// StartDelay + i·StartStagger. Default: 500ms.
	StartStagger time.Duration

	Clock Clock
	// Jitter returns a value in [0, 1) stretching backoff delays.
	Jitter func() float64
	Logger *slog.Logger

	// OnOutcome is called after every completed check that still applies
	// to a registered task, outside the scheduler lock.
	OnOutcome func(Status, task.Outcome)
}

func (c *Config) defaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	if c.StartDelay <= 0 {
		c.StartDelay = 2 * time.Second
	}
	if c.StartStagger <= 0 {
		c.StartStagger = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = RealClock
	}
	if c.Jitter == nil {
		c.Jitter = rand.Float64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type armed struct {
	timer Timer
	gen   uint64
}

// Scheduler owns the registry and every timer.
type Scheduler struct {
	cfg    Config
	exec   Executor
	logger *slog.Logger

	mu       sync.Mutex
	reg      *registry.Registry
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	timers   map[string]armed
	gen      uint64
	queue    []string
	inflight map[string]*task.State
	active   int
	wg       sync.WaitGroup
}

// New returns a stopped scheduler over reg.
func New(reg *registry.Registry, exec Executor, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:      cfg,
		exec:     exec,
		logger:   cfg.Logger,
		reg:      reg,
		timers:   make(map[string]armed),
		inflight: make(map[string]*task.State),
	}
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// MaxConcurrency returns the current execution limit.
func (s *Scheduler) MaxConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxConcurrency
}

// SetMaxConcurrency changes the execution limit. Running executions are not
// interrupted when the limit shrinks.
func (s *Scheduler) SetMaxConcurrency(n int) {
	if n <= 0 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxConcurrency = n
	s.drainLocked()
}

// Start arms every enabled, non-blocked task with a staggered delay.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	i := 0
	for _, e := range s.reg.Entries() {
		if !schedulable(e) || s.busyLocked(e) {
			continue
		}
		s.armLocked(e, s.cfg.StartDelay+time.Duration(i)*s.cfg.StartStagger)
		i++
	}
	s.logger.Info("scheduler: started", "tasks", s.reg.Len(), "armed", i, "max_concurrency", s.cfg.MaxConcurrency)
}

// Stop cancels all timers, empties the queue, cancels in-flight checks and
// waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for key := range s.timers {
		s.disarmLocked(key)
	}
	for _, key := range s.queue {
		if e, ok := s.reg.Get(key); ok {
			e.State.Queued = false
		}
	}
	s.queue = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler: stopped")
}

// SetBuiltin replaces the built-in tasks.
func (s *Scheduler) SetBuiltin(ds []task.Descriptor) registry.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()
	diff := s.reg.SetBuiltin(ds)
	s.applyLocked(diff)
	return diff
}

// SetExternal replaces the external tasks.
func (s *Scheduler) SetExternal(ds []task.Descriptor) registry.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()
	diff := s.reg.SetExternal(ds)
	s.applyLocked(diff)
	return diff
}

func (s *Scheduler) applyLocked(diff registry.Diff) {
	for _, key := range diff.Removed {
		s.disarmLocked(key)
		s.dequeueLocked(key)
	}
	for _, key := range diff.Reset {
		s.disarmLocked(key)
		s.dequeueLocked(key)
	}

	for _, e := range s.reg.Entries() {
		if !schedulable(e) {
			s.disarmLocked(e.Key)
			if e.State.Queued {
				s.dequeueLocked(e.Key)
				e.State.Queued = false
			}
			continue
		}
		if s.running && !s.busyLocked(e) {
			s.armLocked(e, s.cfg.StartDelay)
		}
	}
	s.logger.Debug("scheduler: tasks updated",
		"added", len(diff.Added), "removed", len(diff.Removed),
		"reset", len(diff.Reset), "updated", len(diff.Updated))
}

// Unblock clears a blocked task and re-arms it.
func (s *Scheduler) Unblock(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reg.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, key)
	}
	if !e.State.Blocked {
		return fmt.Errorf("%w: %s", ErrNotBlocked, key)
	}
	e.State.Blocked = false
	e.State.BlockedReason = ""
	e.State.BlockedAt = time.Time{}
	s.logger.Info("scheduler: task unblocked", "task", key)
	if s.running && schedulable(e) && !s.busyLocked(e) {
		s.armLocked(e, s.cfg.StartDelay)
	}
	return nil
}

// Trigger queues a task for an immediate check, bypassing its timer.
func (s *Scheduler) Trigger(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reg.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, key)
	}
	switch {
	case !s.running:
		return ErrNotRunning
	case !schedulable(e):
		return fmt.Errorf("%w: %s", ErrNotSchedulable, key)
	case e.State.Active || e.State.Queued || s.inflight[key] != nil:
		// Already on its way.
		return nil
	}
	s.disarmLocked(key)
	s.enqueueLocked(e)
	return nil
}

func schedulable(e *registry.Entry) bool {
	return e.Desc.Enabled && !e.State.Blocked
}

// busyLocked reports whether the task already has a timer, a queue slot or
// an execution in flight.
func (s *Scheduler) busyLocked(e *registry.Entry) bool {
	if _, ok := s.timers[e.Key]; ok {
		return true
	}
	return e.State.Active || e.State.Queued || s.inflight[e.Key] != nil
}

func (s *Scheduler) armLocked(e *registry.Entry, delay time.Duration) {
	s.disarmLocked(e.Key)
	s.gen++
	gen, key := s.gen, e.Key
	t := s.cfg.Clock.AfterFunc(delay, func() { s.fire(key, gen) })
	s.timers[key] = armed{timer: t, gen: gen}
	e.State.NextCheck = s.cfg.Clock.Now().Add(delay)
	s.logger.Debug("scheduler: task armed", "task", key, "delay", delay)
}

func (s *Scheduler) disarmLocked(key string) {
	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
		delete(s.timers, key)
	}
	if e, ok := s.reg.Get(key); ok {
		e.State.NextCheck = time.Time{}
	}
}

func (s *Scheduler) dequeueLocked(key string) {
	for i, k := range s.queue {
		if k == key {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.timers[key]
	if !ok || a.gen != gen {
		return
	}
	delete(s.timers, key)
	if !s.running {
		return
	}
	e, ok := s.reg.Get(key)
	if !ok || !schedulable(e) {
		return
	}
	e.State.NextCheck = time.Time{}
	if e.State.Active || e.State.Queued || s.inflight[key] != nil {
		return
	}
	s.enqueueLocked(e)
}

func (s *Scheduler) enqueueLocked(e *registry.Entry) {
	e.State.Queued = true
	s.queue = append(s.queue, e.Key)
	s.drainLocked()
}

func (s *Scheduler) drainLocked() {
	for s.running && s.active < s.cfg.MaxConcurrency && len(s.queue) > 0 {
		key := s.queue[0]
		s.queue = s.queue[1:]
		e, ok := s.reg.Get(key)
		if !ok || !e.State.Queued {
			continue
		}
		e.State.Queued = false
		if !schedulable(e) {
			continue
		}
		e.State.Active = true
		s.active++
		s.inflight[key] = e.State
		s.wg.Add(1)
		go s.run(s.ctx, key, e.Desc, e.State, e.State.Baseline, e.State.Hydrated)
	}
}

func (s *Scheduler) run(ctx context.Context, key string, d task.Descriptor, st *task.State, prev task.Baseline, hydrated bool) {
	defer s.wg.Done()
	start := s.cfg.Clock.Now()
	out := s.execute(ctx, key, d, prev, hydrated)
	if out.Duration == 0 {
		out.Duration = s.cfg.Clock.Now().Sub(start)
	}
	s.complete(key, st, out)
}

func (s *Scheduler) execute(ctx context.Context, key string, d task.Descriptor, prev task.Baseline, hydrated bool) (out task.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: check panicked", "task", key, "panic", r)
			out = task.Outcome{Kind: task.KindFailed, Err: fmt.Errorf("scheduler: check panicked: %v", r)}
		}
	}()
	out = s.exec.Execute(ctx, d, prev, hydrated)
	if out.Err != nil {
		out.Kind = task.KindFailed
	}
	return out
}

func (s *Scheduler) complete(key string, st *task.State, out task.Outcome) {
	s.mu.Lock()

	s.active--
	delete(s.inflight, key)
	st.Active = false
	st.LastCheck = s.cfg.Clock.Now()

	e, ok := s.reg.Get(key)
	if !ok || e.State != st {
		// The task was removed or restarted with fresh state while the
		// check ran; drop the result.
		if ok && s.running && schedulable(e) && !s.busyLocked(e) {
			s.armLocked(e, s.cfg.StartDelay)
		}
		s.drainLocked()
		s.mu.Unlock()
		return
	}

	if out.Baseline != nil {
		st.Baseline = *out.Baseline
		st.Hydrated = true
	}

	log := s.logger.With("task", key, "result", out.Kind.String())
	var delay time.Duration
	rearm := true
	switch out.Kind {
	case task.KindBlocked:
		st.Blocked = true
		st.BlockedReason = out.BlockedReason
		st.BlockedAt = st.LastCheck
		st.LastError = "blocked: " + out.BlockedReason
		rearm = false
		log.Warn("scheduler: task blocked", "reason", out.BlockedReason)
	case task.KindFailed:
		if !s.running && errors.Is(out.Err, context.Canceled) {
			// Interrupted by Stop; not a failure of the page.
			log.Debug("scheduler: check cancelled by stop")
			s.drainLocked()
			s.mu.Unlock()
			return
		}
		if st.FailureCount < MaxFailureCount {
			st.FailureCount++
		}
		if out.Err != nil {
			st.LastError = out.Err.Error()
		}
		delay = Backoff(e.Desc.IntervalSeconds(), st.FailureCount, s.cfg.Jitter())
		log.Warn("scheduler: check failed", "error", st.LastError, "failures", st.FailureCount, "retry_in", delay)
	default:
		st.FailureCount = 0
		st.LastError = ""
		if out.SavedPath != "" {
			st.LastSavedPath = out.SavedPath
		}
		delay = time.Duration(e.Desc.IntervalSeconds()) * time.Second
		log.Debug("scheduler: check done", "next_in", delay)
	}

	if rearm && s.running && schedulable(e) && !s.busyLocked(e) {
		s.armLocked(e, delay)
	}
	status := s.statusLocked(e)
	s.drainLocked()
	hook := s.cfg.OnOutcome
	s.mu.Unlock()

	if hook != nil {
		hook(status, out)
	}
}
