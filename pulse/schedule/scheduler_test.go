package schedule

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/internal/clock"
)

var epoch = time.Date(2026, time.March, 10, 10, 17, 30, 0, time.UTC)

type harness struct {
	sched    *Scheduler
	store    *Store
	execs    *ExecutionStore
	registry *Registry
	clock    *clock.Fake
	metrics  *Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db := createTestDB(t)

	h := &harness{
		store:    NewStore(db),
		execs:    NewExecutionStore(db),
		registry: NewRegistry(),
		clock:    clock.NewFake(epoch),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	h.store.clock = h.clock.Now

	opts.Clock = h.clock
	opts.Metrics = h.metrics
	opts.Logger = zaptest.NewLogger(t).Sugar()
	h.sched = New(h.store, h.execs, h.registry, opts)

	t.Cleanup(h.sched.Stop)
	return h
}

func (h *harness) register(t *testing.T, def Definition, handler Handler) {
	t.Helper()
	require.NoError(t, h.registry.Register(def.ID, handler))
	require.NoError(t, h.sched.Bootstrap(context.Background(), []Definition{def}))
}

func (h *harness) executions(t *testing.T, jobID string) []*Execution {
	t.Helper()
	list, err := h.execs.ListExecutions(context.Background(), jobID, 100)
	require.NoError(t, err)
	return list
}

// count is safe to call from require.Eventually conditions.
func (h *harness) count(jobID string) int {
	list, err := h.execs.ListExecutions(context.Background(), jobID, 100)
	if err != nil {
		return -1
	}
	return len(list)
}

func (h *harness) waitForTimers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.clock.Waiters() == n }, 2*time.Second, time.Millisecond)
}

func TestTriggerJobWhileRunningIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.register(t, Definition{ID: "hourly.process_due_tasks", Cadence: CadenceHourly}, func(ctx context.Context, job *Job) (string, error) {
		close(started)
		<-release
		return "done", nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var first *Execution
	var firstErr error
	go func() {
		defer wg.Done()
		first, firstErr = h.sched.TriggerJob(ctx, "hourly.process_due_tasks")
	}()

	<-started
	assert.True(t, h.sched.IsRunning("hourly.process_due_tasks"))

	second, err := h.sched.TriggerJob(ctx, "hourly.process_due_tasks")
	assert.Nil(t, second)
	assert.True(t, errors.Is(err, ErrJobRunning))

	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, ExecutionStatusCompleted, first.Status)
	assert.Equal(t, TriggerManual, first.Trigger)
	assert.Equal(t, "done", first.Result)

	execs := h.executions(t, "hourly.process_due_tasks")
	assert.Len(t, execs, 1, "exactly one execution after two overlapping triggers")
	assert.False(t, h.sched.IsRunning("hourly.process_due_tasks"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TicksSkipped.WithLabelValues("hourly.process_due_tasks", SkipRunning)))
}

func TestJobDisabledAfterMaxRetries(t *testing.T) {
	var disabledCalls int32
	h := newHarness(t, Options{
		OnDisabled: func(ctx context.Context, job *Job) {
			atomic.AddInt32(&disabledCalls, 1)
		},
	})
	ctx := context.Background()

	h.register(t, Definition{ID: "daily.rollup", Cadence: CadenceDaily, MaxRetries: 3}, func(context.Context, *Job) (string, error) {
		return "", errors.New("rollup store unavailable")
	})

	for i := 1; i <= 3; i++ {
		exec, err := h.sched.TriggerJob(ctx, "daily.rollup")
		require.NoError(t, err)
		assert.Equal(t, ExecutionStatusFailed, exec.Status)
		assert.Contains(t, exec.ErrorMessage, "rollup store unavailable")

		job, err := h.sched.GetJob(ctx, "daily.rollup")
		require.NoError(t, err)
		assert.Equal(t, i, job.ErrorCount)
		assert.Equal(t, i < 3, job.Enabled, "after failure %d", i)
	}

	job, err := h.sched.GetJob(ctx, "daily.rollup")
	require.NoError(t, err)
	assert.False(t, job.Enabled)
	assert.True(t, job.NeedsAttention())
	assert.Equal(t, StatusFailed, job.Status)
	assert.Nil(t, job.NextRunAt)

	execs := h.executions(t, "daily.rollup")
	require.Len(t, execs, 3)
	for _, e := range execs {
		assert.Equal(t, ExecutionStatusFailed, e.Status)
	}

	_, err = h.sched.TriggerJob(ctx, "daily.rollup")
	assert.True(t, errors.Is(err, ErrJobDisabled))
	assert.Len(t, h.executions(t, "daily.rollup"), 3, "disabled job records nothing")

	assert.Equal(t, int32(1), atomic.LoadInt32(&disabledCalls))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.ExecutionsTotal.WithLabelValues("daily.rollup", ExecutionStatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JobsDisabled))
}

func TestSuccessResetsErrorCount(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	var calls int32
	h.register(t, Definition{ID: "hourly.schedule_reminders", Cadence: CadenceHourly}, func(context.Context, *Job) (string, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return "", errors.New("dispatcher down")
		}
		return "4 reminders", nil
	})

	for i := 0; i < 3; i++ {
		_, err := h.sched.TriggerJob(ctx, "hourly.schedule_reminders")
		require.NoError(t, err)
	}

	job, err := h.sched.GetJob(ctx, "hourly.schedule_reminders")
	require.NoError(t, err)
	assert.True(t, job.Enabled)
	assert.Equal(t, 0, job.ErrorCount)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestReenableResetsErrorCount(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.register(t, Definition{ID: "daily.archive", Cadence: CadenceDaily, MaxRetries: 1}, func(context.Context, *Job) (string, error) {
		return "", errors.New("boom")
	})

	_, err := h.sched.TriggerJob(ctx, "daily.archive")
	require.NoError(t, err)

	job, err := h.sched.ToggleJob(ctx, "daily.archive", true)
	require.NoError(t, err)
	assert.True(t, job.Enabled)
	assert.Equal(t, 0, job.ErrorCount)
	assert.Equal(t, StatusIdle, job.Status)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, epoch.Add(24*time.Hour), *job.NextRunAt)
}

func TestBootstrapUnknownHandler(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.registry.Register("daily.rollup", noop))

	err := h.sched.Bootstrap(ctx, []Definition{
		{ID: "daily.rollup", Cadence: CadenceDaily},
		{ID: "daily.rolup", Cadence: CadenceDaily},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownHandler))
	assert.Contains(t, err.Error(), "daily.rolup")

	jobs, err := h.sched.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs, "nothing is saved when any definition is invalid")
}

func TestBootstrapRejectsBadSchedule(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.registry.Register("daily.rollup", noop))

	err := h.sched.Bootstrap(context.Background(), []Definition{
		{ID: "daily.rollup", Cadence: CadenceDaily, Schedule: "every night"},
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestScheduledTick(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	var runs int32
	h.register(t, Definition{ID: "minutely.advance_sessions", Cadence: CadenceMinutely}, func(ctx context.Context, job *Job) (string, error) {
		atomic.AddInt32(&runs, 1)
		return "advanced", nil
	})

	require.NoError(t, h.sched.Start(ctx))
	assert.True(t, h.sched.IsArmed("minutely.advance_sessions"))

	job, err := h.sched.GetJob(ctx, "minutely.advance_sessions")
	require.NoError(t, err)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, epoch.Add(time.Minute), *job.NextRunAt)

	h.waitForTimers(t, 1)
	h.clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		return h.count("minutely.advance_sessions") == 1
	}, 2*time.Second, 5*time.Millisecond)

	exec := h.executions(t, "minutely.advance_sessions")[0]
	assert.Equal(t, TriggerSchedule, exec.Trigger)
	assert.Equal(t, ExecutionStatusCompleted, exec.Status)
	assert.True(t, epoch.Add(time.Minute).Equal(exec.StartedAt))

	require.Eventually(t, func() bool {
		job, err := h.sched.GetJob(ctx, "minutely.advance_sessions")
		return err == nil && job.NextRunAt != nil && job.NextRunAt.Equal(epoch.Add(2*time.Minute))
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return !h.sched.IsRunning("minutely.advance_sessions")
	}, 2*time.Second, 5*time.Millisecond)

	h.waitForTimers(t, 1)
	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestTickDroppedWhileRunning(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.register(t, Definition{ID: "hourly.purge_sessions", Cadence: CadenceHourly}, func(ctx context.Context, job *Job) (string, error) {
		started <- struct{}{}
		<-release
		return "", nil
	})

	require.NoError(t, h.sched.Start(ctx))

	h.waitForTimers(t, 1)
	h.clock.Advance(time.Hour)
	<-started

	// The next tick arrives while the first run is still busy.
	h.waitForTimers(t, 1)
	h.clock.Advance(time.Hour)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.TicksSkipped.WithLabelValues("hourly.purge_sessions", SkipRunning)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return !h.sched.IsRunning("hourly.purge_sessions")
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, h.executions(t, "hourly.purge_sessions"), 1, "dropped ticks are not queued")
}

func TestOneJobFailureDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.register(t, Definition{ID: "minutely.broken", Cadence: CadenceMinutely}, func(context.Context, *Job) (string, error) {
		panic("nil session")
	})
	h.register(t, Definition{ID: "minutely.healthy", Cadence: CadenceMinutely}, func(context.Context, *Job) (string, error) {
		return "ok", nil
	})

	require.NoError(t, h.sched.Start(ctx))
	h.waitForTimers(t, 2)
	h.clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		return h.count("minutely.broken") == 1 && h.count("minutely.healthy") == 1
	}, 2*time.Second, 5*time.Millisecond)

	broken := h.executions(t, "minutely.broken")[0]
	assert.Equal(t, ExecutionStatusFailed, broken.Status)
	assert.Contains(t, broken.ErrorMessage, "panicked")
	assert.Equal(t, ExecutionStatusCompleted, h.executions(t, "minutely.healthy")[0].Status)
}

func TestExecutionTimeout(t *testing.T) {
	h := newHarness(t, Options{ExecutionTimeout: 20 * time.Millisecond})

	h.register(t, Definition{ID: "daily.update_streaks", Cadence: CadenceDaily}, func(ctx context.Context, job *Job) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	exec, err := h.sched.TriggerJob(context.Background(), "daily.update_streaks")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "deadline exceeded")
}

func TestCalendarAlignment(t *testing.T) {
	h := newHarness(t, Options{Alignment: AlignCalendar})
	ctx := context.Background()

	h.register(t, Definition{ID: "hourly.schedule_reminders", Cadence: CadenceHourly}, noop)
	h.register(t, Definition{ID: "daily.rollup", Cadence: CadenceDaily}, noop)
	h.register(t, Definition{ID: "daily.reset_counters", Cadence: CadenceDaily, Schedule: "30 2 * * *"}, noop)

	require.NoError(t, h.sched.Start(ctx))

	want := map[string]time.Time{
		"hourly.schedule_reminders": time.Date(2026, time.March, 10, 11, 0, 0, 0, time.UTC),
		"daily.rollup":              time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC),
		"daily.reset_counters":      time.Date(2026, time.March, 11, 2, 30, 0, 0, time.UTC),
	}
	for id, at := range want {
		job, err := h.sched.GetJob(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, job.NextRunAt, id)
		assert.Equal(t, at, *job.NextRunAt, id)
	}
}

func TestIntervalAlignment(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.register(t, Definition{ID: "hourly.schedule_reminders", Cadence: CadenceHourly}, noop)
	require.NoError(t, h.sched.Start(ctx))

	job, err := h.sched.GetJob(ctx, "hourly.schedule_reminders")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Hour), *job.NextRunAt)
}

func TestStartHonoursPersistedNextRun(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.register(t, Definition{ID: "daily.rollup", Cadence: CadenceDaily}, noop)
	job, err := h.sched.GetJob(ctx, "daily.rollup")
	require.NoError(t, err)

	persisted := epoch.Add(3 * time.Hour)
	job.NextRunAt = &persisted
	require.NoError(t, h.store.UpdateJob(ctx, job))

	require.NoError(t, h.sched.Start(ctx))
	job, err = h.sched.GetJob(ctx, "daily.rollup")
	require.NoError(t, err)
	assert.Equal(t, persisted, *job.NextRunAt)
}

func TestToggleJob(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.register(t, Definition{ID: "hourly.purge_sessions", Cadence: CadenceHourly}, noop)
	require.NoError(t, h.sched.Start(ctx))
	require.True(t, h.sched.IsArmed("hourly.purge_sessions"))

	job, err := h.sched.ToggleJob(ctx, "hourly.purge_sessions", false)
	require.NoError(t, err)
	assert.False(t, job.Enabled)
	assert.False(t, h.sched.IsArmed("hourly.purge_sessions"))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.JobsArmed))

	_, err = h.sched.TriggerJob(ctx, "hourly.purge_sessions")
	assert.True(t, errors.Is(err, ErrJobDisabled))

	job, err = h.sched.ToggleJob(ctx, "hourly.purge_sessions", true)
	require.NoError(t, err)
	assert.True(t, job.Enabled)
	assert.True(t, h.sched.IsArmed("hourly.purge_sessions"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JobsArmed))

	_, err = h.sched.ToggleJob(ctx, "ghost", true)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestStatus(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.register(t, Definition{ID: "hourly.a", Cadence: CadenceHourly}, noop)
	h.register(t, Definition{ID: "hourly.b", Cadence: CadenceHourly, Disabled: true}, noop)
	require.NoError(t, h.registry.Register("hourly.unused", noop))

	st, err := h.sched.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Equal(t, 0, st.Armed)

	require.NoError(t, h.sched.Start(ctx))
	st, err = h.sched.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, 1, st.Armed)
	assert.Equal(t, 3, st.Registered)
	assert.Equal(t, 2, st.Jobs)
	assert.Equal(t, 1, st.Disabled)
	assert.Equal(t, 0, st.Attention)

	h.sched.Stop()
	st, err = h.sched.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Equal(t, 0, st.Armed)
}

func TestStopCancelsRunningHandler(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	started := make(chan struct{})
	h.register(t, Definition{ID: "minutely.slow", Cadence: CadenceMinutely}, func(ctx context.Context, job *Job) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	require.NoError(t, h.sched.Start(ctx))
	h.waitForTimers(t, 1)
	h.clock.Advance(time.Minute)
	<-started

	h.sched.Stop()

	execs := h.executions(t, "minutely.slow")
	require.Len(t, execs, 1, "the interrupted run is still recorded")
	assert.True(t, strings.Contains(execs[0].ErrorMessage, "canceled"))
}

func TestParseAlignment(t *testing.T) {
	a, err := ParseAlignment("")
	require.NoError(t, err)
	assert.Equal(t, AlignInterval, a)

	a, err = ParseAlignment("calendar")
	require.NoError(t, err)
	assert.Equal(t, AlignCalendar, a)

	_, err = ParseAlignment("lunar")
	assert.Error(t, err)
}

func TestToggleOffWhileRunningStaysDisabled(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.register(t, Definition{ID: "hourly.process_due_tasks", Cadence: CadenceHourly}, func(ctx context.Context, job *Job) (string, error) {
		close(started)
		<-release
		return "3 occurrences created", nil
	})
	require.NoError(t, h.sched.Start(ctx))

	done := make(chan *Execution, 1)
	go func() {
		exec, err := h.sched.TriggerJob(ctx, "hourly.process_due_tasks")
		assert.NoError(t, err)
		done <- exec
	}()
	<-started

	_, err := h.sched.ToggleJob(ctx, "hourly.process_due_tasks", false)
	require.NoError(t, err)
	close(release)

	exec := <-done
	require.NotNil(t, exec)
	assert.Equal(t, ExecutionStatusCompleted, exec.Status)

	stored, err := h.sched.GetJob(ctx, "hourly.process_due_tasks")
	require.NoError(t, err)
	assert.False(t, stored.Enabled, "the run must not undo the toggle")
	assert.Nil(t, stored.NextRunAt)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.False(t, h.sched.IsArmed("hourly.process_due_tasks"))
}

func TestClaimIsSharedAcrossSchedulers(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	// A second scheduler on the same database stands in for a CLI process
	// triggering a job while the daemon runs it.
	other := New(h.store, h.execs, h.registry, Options{
		Clock:  h.clock,
		Logger: zaptest.NewLogger(t).Sugar(),
	})

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	h.register(t, Definition{ID: "daily.rollup", Cadence: CadenceDaily}, func(ctx context.Context, job *Job) (string, error) {
		started <- struct{}{}
		<-release
		return "rolled up", nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.sched.TriggerJob(ctx, "daily.rollup")
		done <- err
	}()
	<-started

	exec, err := other.TriggerJob(ctx, "daily.rollup")
	assert.Nil(t, exec)
	assert.True(t, errors.Is(err, ErrJobRunning), "got %v", err)

	close(release)
	require.NoError(t, <-done)

	exec, err = other.TriggerJob(ctx, "daily.rollup")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, exec.Status)
	assert.Len(t, h.executions(t, "daily.rollup"), 2)
}

func TestStartReleasesAbandonedClaim(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.register(t, Definition{ID: "daily.archive", Cadence: CadenceDaily}, noop)

	// A process claimed the job and exited before finishing it.
	claimed, err := h.store.ClaimJob(ctx, "daily.archive", epoch, epoch.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = h.sched.TriggerJob(ctx, "daily.archive")
	assert.True(t, errors.Is(err, ErrJobRunning))

	require.NoError(t, h.sched.Start(ctx))
	job, err := h.sched.GetJob(ctx, "daily.archive")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)

	exec, err := h.sched.TriggerJob(ctx, "daily.archive")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, exec.Status)
}
