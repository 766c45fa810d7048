package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/common"
	"github.com/ternarybob/quaero-crawl/internal/models"
)

func newTestJobStorage(t *testing.T) *JobStorage {
	t.Helper()
	logger := arbor.NewLogger()
	mr := miniredis.RunT(t)
	db, err := NewRedisDB(logger, &common.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewJobStorage(db, logger)
}

func TestJobStorage_SaveAndGet(t *testing.T) {
	store := newTestJobStorage(t)
	ctx := context.Background()

	job := &models.Job{
		ID:        "job-1",
		TargetURL: "https://example.com",
		SeedURLs:  []string{"https://example.com"},
		Config:    models.CrawlConfig{MaxPages: 10},
		Status:    models.JobStatusQueued,
		CreatedAt: time.Now(),
	}

	require.NoError(t, store.SaveJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.TargetURL, got.TargetURL)
	assert.Equal(t, models.JobStatusQueued, got.Status)
}

func TestJobStorage_GetJob_Unknown(t *testing.T) {
	store := newTestJobStorage(t)
	_, err := store.GetJob(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrUnknownJob))
}

func TestJobStorage_ListJobs_FilterByStatus(t *testing.T) {
	store := newTestJobStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "a", Status: models.JobStatusQueued, CreatedAt: time.Now()}))
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "b", Status: models.JobStatusCompleted, CreatedAt: time.Now()}))

	queued, err := store.ListJobs(ctx, models.JobStatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "a", queued[0].ID)
}

// TestJobStorage_ListJobs_StatusTransitionMovesIndex guards the
// secondary-index maintenance SaveJob does on every status change: a
// naive "always SAdd, never SRem" index would leave "a" visible under
// both its old and new status forever.
func TestJobStorage_ListJobs_StatusTransitionMovesIndex(t *testing.T) {
	store := newTestJobStorage(t)
	ctx := context.Background()

	job := &models.Job{ID: "a", Status: models.JobStatusQueued, CreatedAt: time.Now()}
	require.NoError(t, store.SaveJob(ctx, job))

	job.Status = models.JobStatusInProgress
	require.NoError(t, store.SaveJob(ctx, job))

	queued, err := store.ListJobs(ctx, models.JobStatusQueued)
	require.NoError(t, err)
	assert.Empty(t, queued)

	inProgress, err := store.ListJobs(ctx, models.JobStatusInProgress)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, "a", inProgress[0].ID)
}

func TestJobStorage_CountByStatus(t *testing.T) {
	store := newTestJobStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "a", Status: models.JobStatusQueued, CreatedAt: time.Now()}))
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "b", Status: models.JobStatusQueued, CreatedAt: time.Now()}))
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "c", Status: models.JobStatusCompleted, CreatedAt: time.Now()}))

	n, err := store.CountByStatus(ctx, models.JobStatusQueued)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJobStorage_DeleteJob_Idempotent(t *testing.T) {
	store := newTestJobStorage(t)
	ctx := context.Background()
	require.NoError(t, store.SaveJob(ctx, &models.Job{ID: "x", Status: models.JobStatusQueued, CreatedAt: time.Now()}))
	require.NoError(t, store.DeleteJob(ctx, "x"))
	require.NoError(t, store.DeleteJob(ctx, "x"))

	n, err := store.CountByStatus(ctx, models.JobStatusQueued)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
