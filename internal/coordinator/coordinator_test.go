package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/broadcaster"
	"github.com/ternarybob/quaero-crawl/internal/broker"
	"github.com/ternarybob/quaero-crawl/internal/common"
	"github.com/ternarybob/quaero-crawl/internal/models"
	"github.com/ternarybob/quaero-crawl/internal/storage/redisstore"
)

func testQueues() QueueNames {
	return QueueNames{
		JobQueue:        "crawl_jobs",
		ResultQueue:     "crawl_results",
		DeadLetterQueue: "dead_letter_queue",
		ScheduledJobs:   "scheduled_crawl_jobs",
		Heartbeats:      "crawler_heartbeats_sorted",
		PausedFlagKey:   "job_processing_paused",
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *redisstore.JobStorage) {
	t.Helper()
	logger := arbor.NewLogger()

	mr := miniredis.RunT(t)
	db, err := redisstore.NewRedisDB(logger, &common.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b := broker.New(db.Client(), logger)
	jobStore := redisstore.NewJobStorage(db, logger)
	bc := broadcaster.New(0, logger)
	cfg := Config{SchedulerIntervalSeconds: 1, CrawlerTimeoutSeconds: 30}

	return New(b, jobStore, bc, testQueues(), cfg, logger), jobStore
}

func newValidJob() *models.Job {
	return &models.Job{
		ID:        "job-1",
		TargetURL: "https://example.com",
		SeedURLs:  []string{"https://example.com"},
		Config:    models.CrawlConfig{MaxPages: 10},
		CreatedAt: time.Now(),
	}
}

func TestCoordinator_SubmitImmediateJobQueues(t *testing.T) {
	c, _ := newTestCoordinator(t)
	job := newValidJob()

	id, err := c.Submit(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	n, err := c.broker.ListLen(context.Background(), c.queues.JobQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCoordinator_SubmitScheduledJobGoesToScheduledSet(t *testing.T) {
	c, _ := newTestCoordinator(t)
	job := newValidJob()
	future := time.Now().Add(time.Hour)
	job.ScheduledAt = &future

	_, err := c.Submit(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	n, err := c.broker.ZCard(context.Background(), c.queues.ScheduledJobs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCoordinator_SubmitInvalidJobFails(t *testing.T) {
	c, _ := newTestCoordinator(t)
	job := &models.Job{ID: "bad", TargetURL: "https://example.com"}

	_, err := c.Submit(context.Background(), job)
	assert.Error(t, err)
}

func TestCoordinator_CancelIsIdempotentOnTerminalJob(t *testing.T) {
	c, store := newTestCoordinator(t)
	job := newValidJob()
	job.Status = models.JobStatusCompleted
	require.NoError(t, store.SaveJob(context.Background(), job))

	ok, err := c.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCoordinator_CancelUnknownJobReturnsFalse(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ok, err := c.Cancel(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_PauseThenResumeClearsFlag(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.PauseProcessing(ctx))
	paused, err := c.broker.GetFlag(ctx, c.queues.PausedFlagKey)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, c.ResumeProcessing(ctx))
	paused, err = c.broker.GetFlag(ctx, c.queues.PausedFlagKey)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestCoordinator_HealthReportsQueueDepths(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	job := newValidJob()
	_, err := c.Submit(ctx, job)
	require.NoError(t, err)

	stats, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingJobs)
	assert.False(t, stats.ProcessingPaused)
}

func TestCoordinator_IngestResultMergesIntoJob(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()
	job := newValidJob()
	job.Status = models.JobStatusInProgress
	require.NoError(t, store.SaveJob(ctx, job))

	result := models.CrawlResult{
		JobID:          job.ID,
		URL:            "https://example.com/page1",
		StatusCode:     200,
		LinksFound:     []models.Link{{ID: "l1"}},
		CrawlTimestamp: time.Now(),
	}
	data, err := json.Marshal(result)
	require.NoError(t, err)

	c.ingestResult(ctx, data)

	updated, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.URLsCrawled)
	assert.Equal(t, 1, updated.LinksFound)
}

func TestCoordinator_IngestResultUnknownJobGoesToDeadLetter(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	result := models.CrawlResult{JobID: "missing", URL: "https://example.com"}
	data, err := json.Marshal(result)
	require.NoError(t, err)

	c.ingestResult(ctx, data)

	n, err := c.broker.ListLen(ctx, c.queues.DeadLetterQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCoordinator_IngestResultMalformedPayloadGoesToDeadLetter(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.ingestResult(ctx, []byte("not json"))

	n, err := c.broker.ListLen(ctx, c.queues.DeadLetterQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCoordinator_PromoteScheduledJobsMovesReadyEntries(t *testing.T) {
	c, store := newTestCoordinator(t)
	ctx := context.Background()
	job := newValidJob()
	future := time.Now().Add(time.Hour)
	job.ScheduledAt = &future
	_, err := c.Submit(ctx, job)
	require.NoError(t, err)

	// Move the scheduled entry's score into the past so it is due now.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, c.broker.ZAdd(ctx, c.queues.ScheduledJobs, job.ID, float64(past.Unix()), nil))

	require.NoError(t, c.promoteScheduledJobs(ctx))

	n, err := c.broker.ZCard(ctx, c.queues.ScheduledJobs)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	queueLen, err := c.broker.ListLen(ctx, c.queues.JobQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, queueLen)

	updated, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, updated.Status)
}
