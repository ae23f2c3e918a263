package jobstate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

func newTestMachine(t *testing.T) (*Machine, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, 3), st
}

func TestActiveStage_StartsAtClassify(t *testing.T) {
	m, _ := newTestMachine(t)

	job, done, err := m.ActiveStage(context.Background(), model.WorkerEnrichment)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, model.StageClassify, job.Stage)
	assert.Equal(t, model.JobRunning, job.Status)
	assert.Empty(t, job.Cursor)
}

func TestAdvance_PausedKeepsStage(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	job, _, err := m.ActiveStage(ctx, model.WorkerEnrichment)
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, job, Outcome{Processed: 10, Errors: 1, NextCursor: "b10", BatchSize: 10}))

	job, _, err = m.ActiveStage(ctx, model.WorkerEnrichment)
	require.NoError(t, err)
	assert.Equal(t, model.StageClassify, job.Stage)
	assert.Equal(t, model.JobPaused, job.Status)
	assert.Equal(t, "b10", job.Cursor)
	assert.Equal(t, 10, job.TotalProcessed)
	assert.Equal(t, 1, job.TotalErrors)
	assert.NotNil(t, job.LastRunAt)
	assert.Nil(t, job.CompletedAt)
}

func TestAdvance_ExhaustedMovesToNextStage(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	job, _, err := m.ActiveStage(ctx, model.WorkerEnrichment)
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, job, Outcome{Processed: 3, NextCursor: "b3", Exhausted: true}))

	next, done, err := m.ActiveStage(ctx, model.WorkerEnrichment)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, model.StageWebsiteDiscovery, next.Stage)
}

func TestActiveStage_AllComplete(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	for {
		job, done, err := m.ActiveStage(ctx, model.WorkerSpendIngest)
		require.NoError(t, err)
		if done {
			assert.Nil(t, job)
			break
		}
		require.NoError(t, m.Advance(ctx, job, Outcome{Exhausted: true}))
	}
}

func TestAdvance_ErrorLogBounded(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	job, _, err := m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, job, Outcome{Messages: []string{"a", "b", "c", "d", "e"}}))

	job, _, err = m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, job.ErrorLog)
}

func TestAdvance_StaleJobConflicts(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	a, _, err := m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	b, _, err := m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)

	require.NoError(t, m.Advance(ctx, a, Outcome{Processed: 1, NextCursor: "x"}))
	err = m.Advance(ctx, b, Outcome{Processed: 5, NextCursor: "y"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrVersionConflict))

	cur, _, err := m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	assert.Equal(t, "x", cur.Cursor)
	assert.Equal(t, 1, cur.TotalProcessed)
}

func TestFail_KeepsCursor(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	job, _, err := m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, job, Outcome{NextCursor: "b5"}))
	job, _, err = m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)

	require.NoError(t, m.Fail(ctx, job, errors.New("missing key")))

	job, _, err = m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Equal(t, "b5", job.Cursor)
	assert.Equal(t, []string{"missing key"}, job.ErrorLog)
}

func TestResetAll(t *testing.T) {
	m, st := newTestMachine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job, _, err := m.ActiveStage(ctx, model.WorkerEnrichment)
		require.NoError(t, err)
		require.NoError(t, m.Advance(ctx, job, Outcome{Processed: 2, NextCursor: "z", Exhausted: true}))
	}

	require.NoError(t, m.ResetAll(ctx, model.WorkerEnrichment))

	jobs, err := st.ListJobs(ctx, model.WorkerEnrichment)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, model.JobRunning, j.Status, j.Stage)
		assert.Empty(t, j.Cursor)
		assert.Zero(t, j.TotalProcessed)
	}
	job, _, err := m.ActiveStage(ctx, model.WorkerEnrichment)
	require.NoError(t, err)
	assert.Equal(t, model.StageClassify, job.Stage)
}

func TestRescan_ResetsOnlyOldCompletions(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	job, _, err := m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, job, Outcome{Exhausted: true}))

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	n, err := m.Rescan(ctx, model.WorkerSpendIngest, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	m.now = func() time.Time { return base.Add(48 * time.Hour) }
	n, err = m.Rescan(ctx, model.WorkerSpendIngest, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, done, err := m.ActiveStage(ctx, model.WorkerSpendIngest)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, model.JobRunning, job.Status)
}

func TestRescan_DisabledIsNoop(t *testing.T) {
	m, _ := newTestMachine(t)
	n, err := m.Rescan(context.Background(), model.WorkerEnrichment, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestActiveStage_UnknownWorker(t *testing.T) {
	m, _ := newTestMachine(t)
	_, _, err := m.ActiveStage(context.Background(), model.WorkerBoardMinutes)
	assert.Error(t, err)
}
