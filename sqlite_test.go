package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Sqlite {
	t.Helper()
	store, err := NewSqlite(filepath.Join(t.TempDir(), "frameup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.RunMigrations())
	return store
}

func newTestJob(path string) Job {
	return Job{
		RunID: uuid.NewString(),
		Path:  path,
		Exp:   2,
		Ext:   "mp4",
	}
}

func TestSqliteMigrationsAreIdempotent(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.RunMigrations())
}

func TestSqliteInsertAndGet(t *testing.T) {
	store := newTestStore(t)

	job := newTestJob("/videos/a.mp4")
	id, err := store.InsertJob(&job)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobQueued, job.Status)

	got, err := store.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, job.RunID, got.RunID)
	assert.Equal(t, "/videos/a.mp4", got.Path)
	assert.Equal(t, 2, got.Exp)
	assert.Equal(t, JobQueued, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.GetJob(id + 100)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSqliteJobLifecycle(t *testing.T) {
	store := newTestStore(t)

	job := newTestJob("/videos/a.mp4")
	_, err := store.InsertJob(&job)
	require.NoError(t, err)

	require.NoError(t, store.MarkRunning(&job))
	assert.Equal(t, JobRunning, job.Status)

	result := RunResult{OutputPath: "/videos/a_4X_96fps.mp4", FramesWritten: 400, StaticSkipped: 3, Substituted: 2}
	require.NoError(t, store.MarkDone(&job, result))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobDone, got.Status)
	assert.Equal(t, "/videos/a_4X_96fps.mp4", got.OutputPath)
	assert.Equal(t, int64(400), got.FramesWritten)
	assert.Equal(t, int64(3), got.StaticSkipped)
	assert.Equal(t, int64(2), got.Substituted)
}

func TestSqliteRetriesAndFailure(t *testing.T) {
	store := newTestStore(t)

	job := newTestJob("/videos/a.mp4")
	_, err := store.InsertJob(&job)
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(&job))

	require.NoError(t, store.UpdateRetries(&job, 1, "ffmpeg exited"))
	retries, err := store.GetJobRetries(&job)
	require.NoError(t, err)
	assert.Equal(t, 1, retries)
	assert.Equal(t, JobQueued, job.Status)

	require.NoError(t, store.FailJob(&job, "model crashed"))
	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "model crashed", got.Error)
	assert.Equal(t, 1, got.Retries)

	missing := Job{ID: 999}
	_, err = store.GetJobRetries(&missing)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, store.MarkRunning(&missing), ErrJobNotFound)
}

func TestSqliteGetQueuedJobs(t *testing.T) {
	store := newTestStore(t)

	queued := newTestJob("/videos/queued.mp4")
	running := newTestJob("/videos/running.mp4")
	done := newTestJob("/videos/done.mp4")
	for _, job := range []*Job{&queued, &running, &done} {
		_, err := store.InsertJob(job)
		require.NoError(t, err)
	}

	require.NoError(t, store.MarkRunning(&running))
	require.NoError(t, store.MarkDone(&done, RunResult{}))

	jobs, err := store.GetQueuedJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, queued.ID, jobs[0].ID)
	assert.Equal(t, running.ID, jobs[1].ID)

	all, err := store.GetJobs()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSqliteRecordRunIsNeverQueued(t *testing.T) {
	store := newTestStore(t)

	done := newTestJob("/videos/done.mp4")
	require.NoError(t, store.RecordRun(&done, RunResult{OutputPath: "/out/done.mp4", FramesWritten: 12}, nil))
	failed := newTestJob("/videos/failed.mp4")
	require.NoError(t, store.RecordRun(&failed, RunResult{}, errors.New("ffmpeg exited with status 1")))

	jobs, err := store.GetQueuedJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)

	got, err := store.GetJob(done.ID)
	require.NoError(t, err)
	assert.Equal(t, JobDone, got.Status)
	assert.Equal(t, "/out/done.mp4", got.OutputPath)
	assert.Equal(t, int64(12), got.FramesWritten)

	got, err = store.GetJob(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "ffmpeg exited with status 1", got.Error)
}

func TestSqliteDeleteJob(t *testing.T) {
	store := newTestStore(t)

	job := newTestJob("/videos/a.mp4")
	_, err := store.InsertJob(&job)
	require.NoError(t, err)

	require.NoError(t, store.DeleteJob(job.ID))
	assert.ErrorIs(t, store.DeleteJob(job.ID), ErrJobNotFound)

	jobs, err := store.GetJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
