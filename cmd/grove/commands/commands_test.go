package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/grove/am"
	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/pulse/jobs"
	"github.com/teranos/grove/pulse/schedule"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

// sandbox points HOME and the working directory at temp dirs and returns a
// database path inside them.
func sandbox(t *testing.T) (home, dbPath string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	am.Reset()
	t.Cleanup(am.Reset)
	return home, filepath.Join(t.TempDir(), "grove.db")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestJobsListShowsBuiltins(t *testing.T) {
	_, dbPath := sandbox(t)

	out, err := run(t, "jobs", "ls", "--db", dbPath)
	require.NoError(t, err)
	for _, id := range []string{
		"minutely.advance_sessions",
		"hourly.schedule_reminders",
		"hourly.process_due_tasks",
		"hourly.purge_sessions",
		"daily.update_streaks",
		"daily.rollup",
		"daily.reset_counters",
		"daily.archive",
	} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "enabled")
}

func TestJobsTriggerRecordsExecution(t *testing.T) {
	_, dbPath := sandbox(t)

	out, err := run(t, "jobs", "trigger", "daily.reset_counters", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "daily.reset_counters completed")
	assert.Contains(t, out, "Result: 0 users reset")

	out, err = run(t, "executions", "ls", "--job", "daily.reset_counters", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "daily.reset_counters")
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "completed")

	out, err = run(t, "jobs", "show", "daily.reset_counters", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Reset counters")
	assert.Contains(t, out, "0 users reset")
}

func TestJobsTriggerUnknownJob(t *testing.T) {
	_, dbPath := sandbox(t)

	_, err := run(t, "jobs", "trigger", "daily.nope", "--db", dbPath)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestJobsToggle(t *testing.T) {
	_, dbPath := sandbox(t)

	out, err := run(t, "jobs", "toggle", "daily.archive", "off", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "daily.archive is now disabled")

	_, err = run(t, "jobs", "trigger", "daily.archive", "--db", dbPath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schedule.ErrJobDisabled))

	out, err = run(t, "jobs", "toggle", "daily.archive", "on", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "daily.archive is now enabled")

	_, err = run(t, "jobs", "toggle", "daily.archive", "maybe", "--db", dbPath)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestJobsTogglePersistSurvivesReload(t *testing.T) {
	home, dbPath := sandbox(t)

	out, err := run(t, "jobs", "toggle", "daily.rollup", "off", "--persist", "--db", dbPath)
	require.NoError(t, err)
	overrides := filepath.Join(home, ".grove", am.OverridesFile)
	assert.Contains(t, out, overrides)

	data, err := os.ReadFile(overrides)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rollup")

	// Re-enable in the database only; the persisted override wins on the
	// next load.
	_, err = run(t, "jobs", "toggle", "daily.rollup", "on", "--db", dbPath)
	require.NoError(t, err)
	am.Reset()

	out, err = run(t, "jobs", "show", "daily.rollup", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "State:       disabled")
}

func TestSchedulerStatus(t *testing.T) {
	_, dbPath := sandbox(t)

	out, err := run(t, "scheduler", "status", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Jobs:       8")
	assert.Contains(t, out, "Registered: 8")
	assert.Contains(t, out, "Disabled:   0")
}

func TestSchedulerStartRejectsUnknownManifestJob(t *testing.T) {
	_, dbPath := sandbox(t)
	manifest := filepath.Join(t.TempDir(), "jobs.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("[[job]]\nid = \"daily.nope\"\ncadence = \"daily\"\n"), 0o644))

	// scheduler start is the only command taking --jobs; an unknown handler
	// fails before anything is armed.
	_, err := run(t, "scheduler", "start", "--jobs", manifest, "--db", dbPath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schedule.ErrUnknownHandler))
}

func TestDbCommands(t *testing.T) {
	_, dbPath := sandbox(t)

	out, err := run(t, "db", "migrate", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "at schema version 004")

	out, err = run(t, "db", "stats", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "scheduled_jobs")
	assert.Contains(t, out, "notifications")
}

func TestScorePoints(t *testing.T) {
	sandbox(t)

	out, err := run(t, "score", "points", "45", "--streak", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "35 points")
	assert.Contains(t, out, "23 base (45 min / 2) x 1.5 streak multiplier = 35 points")
	assert.Contains(t, out, "Trees grown: 1")

	out, err = run(t, "score", "points", "60")
	require.NoError(t, err)
	assert.Contains(t, out, "Trees grown: 2")

	_, err = run(t, "score", "points", "-3")
	assert.Error(t, err)
}

func TestScoreStreak(t *testing.T) {
	sandbox(t)

	out, err := run(t, "score", "streak", "5", "--last", "2026-03-08", "--today", "2026-03-10")
	require.NoError(t, err)
	assert.Contains(t, out, "5 -> 0 (reset) on 2026-03-10")

	out, err = run(t, "score", "streak", "5", "--last", "2026-03-09", "--today", "2026-03-10")
	require.NoError(t, err)
	assert.Contains(t, out, "5 -> 5 (maintained)")

	_, err = run(t, "score", "streak", "5", "--today", "10/03/2026")
	assert.Error(t, err)
}

func TestScoreMilestones(t *testing.T) {
	sandbox(t)

	out, err := run(t, "score", "milestones", "--points", "420", "--streak", "400")
	require.NoError(t, err)
	assert.Contains(t, out, "Next points milestone after 420: 500")
	assert.Contains(t, out, "Next streak milestone after 400: none (all reached)")
}

func TestRecurExpand(t *testing.T) {
	sandbox(t)

	out, err := run(t, "recur", "expand", "FREQ=WEEKLY;BYDAY=MO,WE;DTSTART=2026-03-02", "--count", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "2026-03-02  Mon")
	assert.Contains(t, out, "2026-03-04  Wed")
	assert.Contains(t, out, "2026-03-09  Mon")
	assert.NotContains(t, out, "2026-03-11")
}

func TestRecurNext(t *testing.T) {
	sandbox(t)

	out, err := run(t, "recur", "next", "FREQ=MONTHLY;DTSTART=2026-01-31", "--from", "2026-02-01")
	require.NoError(t, err)
	assert.Contains(t, out, "2026-03-31")

	out, err = run(t, "recur", "next", "FREQ=DAILY;COUNT=2;DTSTART=2026-01-01", "--from", "2026-06-01")
	require.NoError(t, err)
	assert.Contains(t, out, "No occurrence after 2026-06-01")

	_, err = run(t, "recur", "next", "INTERVAL=2")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestAmCommands(t *testing.T) {
	sandbox(t)
	t.Setenv("GROVE_INTEGRITY_SECRET", "hunter2")

	out, err := run(t, "am", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	out, err = run(t, "am", "get", "scheduler.alignment")
	require.NoError(t, err)
	assert.Equal(t, "interval\n", out)

	_, err = run(t, "am", "get", "scheduler.nope")
	assert.True(t, errors.IsNotFoundError(err))

	for _, format := range []string{"toml", "json", "yaml"} {
		out, err = run(t, "am", "show", "--format", format)
		require.NoError(t, err, format)
		assert.NotContains(t, out, "hunter2", format)
		assert.Contains(t, out, "********", format)
	}
	_, err = run(t, "am", "show", "--format", "xml")
	assert.Error(t, err)

	out, err = run(t, "am", "where")
	require.NoError(t, err)
	assert.Contains(t, out, "/etc/grove/am.toml")
	assert.Contains(t, out, "GROVE_INTEGRITY_SECRET")
}

func TestAmValidateRejectsBadFile(t *testing.T) {
	sandbox(t)
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nalignment = \"sideways\"\n"), 0o644))

	_, err := run(t, "am", "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.alignment")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "grove ")
}

func TestJobsHelpNamesBuiltinJobs(t *testing.T) {
	known := make(map[string]bool)
	for _, def := range jobs.DefaultDefinitions() {
		known[def.ID] = true
	}

	for _, line := range strings.Split(newJobsCmd().Long, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != "grove" || fields[1] != "jobs" {
			continue
		}
		assert.True(t, known[fields[3]], "help example names unknown job %q", fields[3])
	}
}
