package schedule

import (
	"context"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateExecution(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	job := seedJob(t, NewStore(db), Definition{ID: "daily.rollup", Cadence: CadenceDaily})
	execStore := NewExecutionStore(db)

	startedAt := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	exec := &Execution{
		ID:          "PX_test456",
		JobID:       job.ID,
		Status:      ExecutionStatusCompleted,
		Trigger:     TriggerManual,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(1500 * time.Millisecond),
		Duration:    1500 * time.Millisecond,
		Result:      "3 rollups written",
	}
	require.NoError(t, execStore.CreateExecution(ctx, exec))

	list, err := execStore.ListExecutions(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got := list[0]
	assert.Equal(t, exec.ID, got.ID)
	assert.Equal(t, job.ID, got.JobID)
	assert.Equal(t, ExecutionStatusCompleted, got.Status)
	assert.Equal(t, TriggerManual, got.Trigger)
	assert.True(t, startedAt.Equal(got.StartedAt))
	assert.True(t, exec.CompletedAt.Equal(got.CompletedAt))
	assert.Equal(t, int64(1500), got.DurationMs())
	assert.Equal(t, "3 rollups written", got.Result)
	assert.Empty(t, got.ErrorMessage)
}

func TestCreateExecutionRequiresJob(t *testing.T) {
	db := createTestDB(t)

	err := NewExecutionStore(db).CreateExecution(context.Background(), &Execution{
		ID:     "PX_orphan",
		JobID:  "missing",
		Status: ExecutionStatusFailed,
	})
	assert.Error(t, err, "foreign key to scheduled_jobs must hold")
}

func TestListExecutionsOrderAndFilter(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()
	store := NewStore(db)
	execStore := NewExecutionStore(db)

	seedJob(t, store, Definition{ID: "hourly.a", Cadence: CadenceHourly})
	seedJob(t, store, Definition{ID: "hourly.b", Cadence: CadenceHourly})

	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		jobID := "hourly.a"
		if i%2 == 1 {
			jobID = "hourly.b"
		}
		require.NoError(t, execStore.CreateExecution(ctx, &Execution{
			ID:          fmt.Sprintf("PX_%d", i),
			JobID:       jobID,
			Status:      ExecutionStatusCompleted,
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			CompletedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := execStore.ListExecutions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "PX_4", all[0].ID, "newest first")
	assert.Equal(t, TriggerSchedule, all[0].Trigger, "trigger defaults to schedule")

	onlyA, err := execStore.ListExecutions(ctx, "hourly.a", 0)
	require.NoError(t, err)
	assert.Len(t, onlyA, 3)

	limited, err := execStore.ListExecutions(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCleanupOldExecutions(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()
	seedJob(t, NewStore(db), Definition{ID: "daily.archive", Cadence: CadenceDaily})
	execStore := NewExecutionStore(db)

	now := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	for i, age := range []int{200, 120, 30, 1} {
		started := now.AddDate(0, 0, -age)
		require.NoError(t, execStore.CreateExecution(ctx, &Execution{
			ID:          fmt.Sprintf("PX_%d", i),
			JobID:       "daily.archive",
			Status:      ExecutionStatusCompleted,
			StartedAt:   started,
			CompletedAt: started,
		}))
	}

	deleted, err := execStore.CleanupOldExecutions(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := execStore.ListExecutions(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
