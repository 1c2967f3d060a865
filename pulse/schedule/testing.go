package schedule

import (
	"context"
	"database/sql"
	"testing"

	grovetest "github.com/teranos/grove/internal/testing"
)

// createTestDB creates an in-memory test database.
func createTestDB(t *testing.T) *sql.DB {
	return grovetest.CreateTestDB(t)
}

// seedJob saves a definition directly, bypassing handler validation.
func seedJob(t *testing.T, store *Store, def Definition) *Job {
	t.Helper()
	job := def.job(store.clock())
	if err := store.SaveDefinition(context.Background(), job); err != nil {
		t.Fatalf("seed job %s: %v", def.ID, err)
	}
	return job
}
