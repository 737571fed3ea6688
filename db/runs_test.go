package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomci/loom/engine"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Make(filepath.Join(t.TempDir(), "loom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.CreateRun("run-1", "ci.yml", nil))
	run, err := db.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunPending, run.Status)
	assert.Equal(t, "ci.yml", run.Name)

	require.NoError(t, db.MarkRunRunning("run-1", nil))
	run, err = db.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)

	require.NoError(t, db.FinishRun("run-1", RunSuccess, nil))
	run, err = db.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, run.Status)
	assert.NotEmpty(t, run.Finished)
}

func TestRecordReport(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.CreateRun("run-1", "ci.yml", nil))

	now := time.Now()
	report := &engine.Report{
		Results: []*engine.InstanceResult{
			{
				ID:         "build (linux)",
				State:      engine.StateSucceeded,
				StartedAt:  now,
				FinishedAt: now.Add(time.Second),
				Steps: []engine.StepOutcome{
					{Name: "compile", ExitCode: 0, Output: "ok"},
					{Name: "archive", ExitCode: 0, CacheHit: true},
				},
			},
			{
				ID:    "test",
				State: engine.StateFailed,
				Err:   errors.New("step \"run\" exited with code 2"),
				Steps: []engine.StepOutcome{{Name: "run", ExitCode: 2}},
			},
			{
				ID:    "release",
				State: engine.StateSkipped,
				Cause: `dependency "test" failed`,
			},
		},
	}

	require.NoError(t, db.RecordReport("run-1", report))

	summary, err := db.RunSummary("run-1")
	require.NoError(t, err)
	require.Len(t, summary, 3)

	assert.Equal(t, "build (linux)", summary[0].Instance)
	assert.Equal(t, "succeeded", summary[0].Status)
	assert.NotEmpty(t, summary[0].StartedAt)

	assert.Equal(t, "failed", summary[1].Status)
	assert.Contains(t, summary[1].Error, "exited with code 2")

	assert.Equal(t, "skipped", summary[2].Status)
	assert.Contains(t, summary[2].Cause, `"test"`)
}
