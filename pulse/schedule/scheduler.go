package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/grove/db"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/internal/clock"
	"github.com/teranos/grove/logger"
	id "github.com/teranos/vanity-id"
)

// Alignment selects how the next run time is derived after a tick.
type Alignment string

const (
	// AlignInterval re-arms each job one cadence period after the tick.
	// Runs drift by the time spent between ticks.
	AlignInterval Alignment = "interval"
	// AlignCalendar re-arms each job at the next boundary of its cron schedule.
	AlignCalendar Alignment = "calendar"
)

// ParseAlignment validates an alignment name. Empty means interval.
func ParseAlignment(s string) (Alignment, error) {
	switch Alignment(s) {
	case "", AlignInterval:
		return AlignInterval, nil
	case AlignCalendar:
		return AlignCalendar, nil
	}
	return "", errors.NewInvalidRequestError("unknown alignment %q (want interval or calendar)", s)
}

// DefaultExecutionTimeout bounds a single handler run.
const DefaultExecutionTimeout = 10 * time.Minute

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	Clock            clock.Clock
	Logger           *zap.SugaredLogger
	Metrics          *Metrics
	ExecutionTimeout time.Duration
	Alignment        Alignment

	// OnDisabled is called after a job is disabled by its failure limit.
	OnDisabled func(ctx context.Context, job *Job)
}

// Scheduler arms one timer per enabled job and runs handlers on their cadence.
type Scheduler struct {
	jobs     JobStore
	execs    ExecutionLog
	registry *Registry

	clock      clock.Clock
	logger     *zap.SugaredLogger
	pulseLog   *zap.SugaredLogger // Logger with Pulse symbol pre-attached
	metrics    *Metrics
	timeout    time.Duration
	alignment  Alignment
	onDisabled func(ctx context.Context, job *Job)

	mu      sync.Mutex
	active  bool
	ctx     context.Context
	cancel  context.CancelFunc
	armed   map[string]context.CancelFunc
	next    map[string]time.Time
	running map[string]bool
	wg      sync.WaitGroup
}

// SchedulerStatus summarises the scheduler for operators.
type SchedulerStatus struct {
	Active     bool `json:"active"`
	Armed      int  `json:"armed"`
	Registered int  `json:"registered"`
	Running    int  `json:"running"`
	Jobs       int  `json:"jobs"`
	Disabled   int  `json:"disabled"`
	Attention  int  `json:"attention"` // disabled by failure limit
}

// New creates a scheduler. Nothing runs until Start.
func New(jobs JobStore, execs ExecutionLog, registry *Registry, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.ComponentLogger("pulse")
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = DefaultExecutionTimeout
	}
	if opts.Alignment == "" {
		opts.Alignment = AlignInterval
	}

	return &Scheduler{
		jobs:       jobs,
		execs:      execs,
		registry:   registry,
		clock:      opts.Clock,
		logger:     opts.Logger,
		pulseLog:   logger.AddPulseSymbol(opts.Logger),
		metrics:    opts.Metrics,
		timeout:    opts.ExecutionTimeout,
		alignment:  opts.Alignment,
		onDisabled: opts.OnDisabled,
		armed:      make(map[string]context.CancelFunc),
		next:       make(map[string]time.Time),
		running:    make(map[string]bool),
	}
}

// Bootstrap validates job definitions against the registry and saves them.
// A definition without a registered handler fails the whole call with
// ErrUnknownHandler before anything is written.
func (s *Scheduler) Bootstrap(ctx context.Context, defs []Definition) error {
	now := s.clock.Now()
	jobs := make([]*Job, 0, len(defs))

	for _, def := range defs {
		if _, ok := s.registry.Lookup(def.ID); !ok {
			return errors.WithHintf(
				errors.Wrapf(ErrUnknownHandler, "job %s", def.ID),
				"registered handlers: %v", s.registry.Names())
		}
		if _, err := ParseCadence(string(def.Cadence)); err != nil {
			return errors.Wrapf(err, "job %s", def.ID)
		}
		job := def.job(now)
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return errors.Wrapf(errors.ErrInvalidRequest, "job %s: invalid schedule %q: %v", def.ID, job.Schedule, err)
		}
		jobs = append(jobs, job)
	}

	for _, job := range jobs {
		if err := s.jobs.SaveDefinition(ctx, job); err != nil {
			return err
		}
	}

	s.pulseLog.Infow("Jobs bootstrapped", logger.FieldCount, len(jobs))
	return nil
}

// Start arms every enabled job. It returns immediately; timers run until Stop
// or until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.active = true
	s.mu.Unlock()

	if n, err := s.jobs.ReleaseClaims(ctx); err != nil {
		s.pulseLog.Warnw("Failed to release abandoned job claims", logger.FieldError, err)
	} else if n > 0 {
		s.pulseLog.Warnw("Released jobs left running by an earlier process", logger.FieldCount, n)
	}

	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		s.Stop()
		return errors.Wrap(err, "failed to load jobs")
	}

	attention := 0
	for _, job := range jobs {
		if !job.Enabled {
			if job.NeedsAttention() {
				attention++
				s.pulseLog.Warnw("Job disabled after repeated failures, not arming",
					logger.FieldJobID, job.ID,
					logger.FieldErrorCount, job.ErrorCount)
			}
			continue
		}
		if _, ok := s.registry.Lookup(job.ID); !ok {
			s.pulseLog.Warnw("Stored job has no registered handler, not arming", logger.FieldJobID, job.ID)
			continue
		}
		s.arm(ctx, job)
	}
	s.metrics.setDisabled(attention)

	s.pulseLog.Infow("Scheduler started",
		"armed", s.armedCount(),
		"registered", s.registry.Len(),
		"alignment", string(s.alignment))
	return nil
}

// Stop disarms every timer, cancels in-flight handlers and waits for them
// to record their executions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.cancel()
	s.armed = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	s.wg.Wait()
	s.metrics.setArmed(0)
	s.pulseLog.Infow("Scheduler stopped")
}

// arm starts the timer goroutine for job. Persisted NextRunAt values in the
// future are honoured so a restart does not shift the schedule.
func (s *Scheduler) arm(ctx context.Context, job *Job) {
	now := s.clock.Now()
	next := s.nextRun(job, now)
	if job.NextRunAt != nil && job.NextRunAt.After(now) {
		next = *job.NextRunAt
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	if _, armed := s.armed[job.ID]; armed {
		s.mu.Unlock()
		return
	}
	timerCtx, cancel := context.WithCancel(s.ctx)
	s.armed[job.ID] = cancel
	s.next[job.ID] = next
	s.metrics.setArmed(len(s.armed))
	s.wg.Add(1)
	s.mu.Unlock()

	if job.NextRunAt == nil || !job.NextRunAt.Equal(next) {
		job.NextRunAt = &next
		if err := s.jobs.SetNextRun(ctx, job.ID, next); err != nil {
			s.pulseLog.Warnw("Failed to persist next run", logger.FieldJobID, job.ID, logger.FieldError, err)
		}
	}

	template := *job
	go s.loop(timerCtx, &template, next)

	s.pulseLog.Debugw("Job armed",
		logger.FieldJobID, job.ID,
		logger.FieldCadence, string(job.Cadence),
		logger.FieldNextRunAt, next.Format(time.RFC3339))
}

func (s *Scheduler) disarm(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.armed[jobID]; ok {
		cancel()
		delete(s.armed, jobID)
		delete(s.next, jobID)
		s.metrics.setArmed(len(s.armed))
	}
}

// loop waits for each due time of one job and dispatches it. The handler runs
// in its own goroutine, so a tick that arrives while it is still busy hits the
// running guard and is dropped.
func (s *Scheduler) loop(ctx context.Context, template *Job, next time.Time) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(next.Sub(s.clock.Now())):
		}
		if ctx.Err() != nil {
			return
		}

		now := s.clock.Now()
		next = s.nextRun(template, now)
		s.mu.Lock()
		s.next[template.ID] = next
		s.mu.Unlock()

		s.dispatch(template.ID)
	}
}

func (s *Scheduler) dispatch(jobID string) {
	s.mu.Lock()
	runCtx := s.ctx
	s.mu.Unlock()

	job, err := s.claim(runCtx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrJobRunning):
			s.metrics.recordSkip(jobID, SkipRunning)
			s.pulseLog.Debugw("Tick dropped, job still running", logger.FieldJobID, jobID)
		case errors.Is(err, ErrJobDisabled):
			s.metrics.recordSkip(jobID, SkipDisabled)
		default:
			s.pulseLog.Warnw("Tick failed to start", logger.FieldJobID, jobID, logger.FieldError, err)
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(runCtx, job, TriggerSchedule)
	}()
}

// claim takes the one-permit lock of a job and loads it. The in-process map
// catches overlapping ticks cheaply; the stored claim catches other processes
// sharing the database, such as a CLI trigger next to the daemon.
func (s *Scheduler) claim(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	if s.running[jobID] {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrJobRunning, "job %s", jobID)
	}
	s.running[jobID] = true
	s.mu.Unlock()

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		s.release(jobID)
		return nil, err
	}
	if !job.Enabled {
		s.release(jobID)
		return nil, errors.Wrapf(ErrJobDisabled, "job %s", jobID)
	}
	if _, ok := s.registry.Lookup(jobID); !ok {
		s.release(jobID)
		return nil, errors.Wrapf(ErrUnknownHandler, "job %s", jobID)
	}

	start := s.clock.Now()
	claimed, err := s.jobs.ClaimJob(ctx, jobID, start, start.Add(-s.staleAfter()))
	if err != nil {
		s.release(jobID)
		return nil, err
	}
	if !claimed {
		s.release(jobID)
		if fresh, err := s.jobs.GetJob(ctx, jobID); err == nil && !fresh.Enabled {
			return nil, errors.Wrapf(ErrJobDisabled, "job %s", jobID)
		}
		return nil, errors.Wrapf(ErrJobRunning, "job %s is claimed by another process", jobID)
	}
	job.Status = StatusRunning
	job.LastRunAt = &start
	return job, nil
}

// staleAfter is how old a stored running claim must be before another
// process may take it over.
func (s *Scheduler) staleAfter() time.Duration {
	return 2 * s.timeout
}

func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
}

// execute runs a claimed job and records the outcome. Storage writes use a
// context detached from cancellation so shutdown still records the run.
func (s *Scheduler) execute(ctx context.Context, job *Job, trigger Trigger) *Execution {
	defer s.release(job.ID)

	executionID := id.GenerateExecutionID()
	runCtx := logger.WithExecutionID(logger.WithJobID(logger.WithComponent(ctx, "pulse"), job.ID), executionID)
	storeCtx := context.WithoutCancel(runCtx)
	log := logger.FromContext(runCtx, s.pulseLog)

	start := *job.LastRunAt
	result, runErr := s.invoke(runCtx, job)
	end := s.clock.Now()

	exec := &Execution{
		ID:          executionID,
		JobID:       job.ID,
		Trigger:     trigger,
		StartedAt:   start,
		CompletedAt: end,
		Duration:    end.Sub(start),
		Result:      result,
	}

	disabled := false
	if runErr != nil {
		exec.Status = ExecutionStatusFailed
		exec.ErrorMessage = runErr.Error()
		job.Status = StatusFailed
		job.ErrorCount++
		if job.ErrorCount >= job.maxRetries() {
			job.Enabled = false
			disabled = true
		}
	} else {
		exec.Status = ExecutionStatusCompleted
		job.Status = StatusCompleted
		job.ErrorCount = 0
	}

	if job.Enabled {
		next := s.upcoming(job, end)
		job.NextRunAt = &next
	} else {
		job.NextRunAt = nil
	}

	if err := s.execs.CreateExecution(storeCtx, exec); err != nil {
		if db.IsDatabaseClosed(err) {
			log.Warnw("Database closed during shutdown, execution not recorded", logger.FieldError, err)
		} else {
			log.Errorw("Failed to record execution", logger.FieldError, err)
		}
	}
	if err := s.jobs.FinishJob(storeCtx, job); err != nil {
		log.Errorw("Failed to update job after execution", logger.FieldError, err)
	} else if stored, err := s.jobs.GetJob(storeCtx, job.ID); err == nil && !stored.Enabled && job.Enabled {
		log.Infow("Job was disabled while running, leaving it disabled")
		job.Enabled = false
		job.NextRunAt = nil
		s.disarm(job.ID)
	}
	s.metrics.recordExecution(job.ID, exec.Status, exec.Duration)

	if runErr != nil {
		log.Warnw("Job FAILED",
			logger.FieldTrigger, string(trigger),
			logger.FieldDurationMS, exec.DurationMs(),
			logger.FieldErrorCount, job.ErrorCount,
			logger.FieldMaxRetries, job.maxRetries(),
			logger.FieldError, runErr)
	} else {
		log.Infow("Job OK",
			logger.FieldTrigger, string(trigger),
			logger.FieldDurationMS, exec.DurationMs(),
			"result", result)
	}

	if disabled {
		s.disarm(job.ID)
		s.refreshDisabled(storeCtx)
		log.Errorw("Job DISABLED after consecutive failures; re-enable with `grove jobs toggle "+job.ID+" on`",
			logger.FieldErrorCount, job.ErrorCount,
			logger.FieldMaxRetries, job.maxRetries(),
			logger.FieldError, runErr)
		if s.onDisabled != nil {
			s.onDisabled(storeCtx, job)
		}
	}

	return exec
}

// invoke calls the handler under the execution deadline and converts a
// panic into a failure.
func (s *Scheduler) invoke(ctx context.Context, job *Job) (result string, err error) {
	handler, ok := s.registry.Lookup(job.ID)
	if !ok {
		return "", errors.Wrapf(ErrUnknownHandler, "job %s", job.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job %s panicked: %v", job.ID, r)
		}
	}()

	view := *job
	result, err = handler(ctx, &view)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.Wrapf(errors.ErrTimeout, "job %s exceeded %s", job.ID, s.timeout)
	}
	return result, err
}

// upcoming returns the armed next run of a job, or computes one when the
// job has no live timer (manual trigger on a stopped scheduler).
func (s *Scheduler) upcoming(job *Job, now time.Time) time.Time {
	s.mu.Lock()
	next, ok := s.next[job.ID]
	s.mu.Unlock()
	if ok && next.After(now) {
		return next
	}
	return s.nextRun(job, now)
}

func (s *Scheduler) nextRun(job *Job, now time.Time) time.Time {
	if s.alignment == AlignCalendar {
		sched, err := cron.ParseStandard(job.schedule())
		if err == nil {
			return sched.Next(now)
		}
		s.pulseLog.Warnw("Invalid schedule, using interval alignment",
			logger.FieldJobID, job.ID, "schedule", job.schedule(), logger.FieldError, err)
	}
	return now.Add(job.Cadence.Period())
}

// TriggerJob runs a job immediately, outside its cadence, and returns the
// recorded execution. A job that is already running yields ErrJobRunning and
// no execution; a disabled job yields ErrJobDisabled.
func (s *Scheduler) TriggerJob(ctx context.Context, jobID string) (*Execution, error) {
	job, err := s.claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobRunning) {
			s.metrics.recordSkip(jobID, SkipRunning)
		}
		return nil, err
	}
	return s.execute(ctx, job, TriggerManual), nil
}

// ToggleJob enables or disables a job and arms or disarms its timer.
// Enabling clears the error count so a job disabled by failures gets a
// fresh set of retries.
func (s *Scheduler) ToggleJob(ctx context.Context, jobID string, enabled bool) (*Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var next *time.Time
	if enabled {
		at := s.nextRun(job, s.clock.Now())
		next = &at
	}
	if err := s.jobs.SetEnabled(ctx, jobID, enabled, next); err != nil {
		return nil, err
	}
	if job, err = s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	if enabled {
		if _, ok := s.registry.Lookup(jobID); ok {
			s.arm(ctx, job)
		}
	} else {
		s.disarm(jobID)
	}
	s.refreshDisabled(ctx)

	s.pulseLog.Infow("Job toggled", logger.FieldJobID, jobID, "enabled", enabled)
	return job, nil
}

// Status reports whether the scheduler is active and how many jobs are armed
// versus registered.
func (s *Scheduler) Status(ctx context.Context) (SchedulerStatus, error) {
	s.mu.Lock()
	st := SchedulerStatus{
		Active:  s.active,
		Armed:   len(s.armed),
		Running: len(s.running),
	}
	s.mu.Unlock()
	st.Registered = s.registry.Len()

	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return st, err
	}
	st.Jobs = len(jobs)
	for _, job := range jobs {
		if !job.Enabled {
			st.Disabled++
		}
		if job.NeedsAttention() {
			st.Attention++
		}
	}
	return st, nil
}

// ListJobs returns every stored job.
func (s *Scheduler) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.jobs.ListJobs(ctx)
}

// GetJob returns one job.
func (s *Scheduler) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// ListExecutions returns recent executions, optionally filtered by job.
func (s *Scheduler) ListExecutions(ctx context.Context, jobID string, limit int) ([]*Execution, error) {
	return s.execs.ListExecutions(ctx, jobID, limit)
}

// IsRunning reports whether a job's handler is in flight.
func (s *Scheduler) IsRunning(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[jobID]
}

// IsArmed reports whether a job has a live timer.
func (s *Scheduler) IsArmed(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.armed[jobID]
	return ok
}

func (s *Scheduler) armedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

func (s *Scheduler) refreshDisabled(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return
	}
	n := 0
	for _, job := range jobs {
		if job.NeedsAttention() {
			n++
		}
	}
	s.metrics.setDisabled(n)
}
