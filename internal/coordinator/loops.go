package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/quaero-crawl/internal/broker"
	"github.com/ternarybob/quaero-crawl/internal/models"
)

// resultIngestTimeout bounds the blocking pop in ResultIngestLoop, per
// spec §4.1's "bounded timeout (~5s)".
const resultIngestTimeout = 5 * time.Second

// RunResultIngestLoop implements spec §4.1 loop 1. It never returns
// except when ctx is cancelled, following job_coordinator.py's
// process_results: broker connection errors sleep-and-retry rather than
// terminating the process.
func (c *Coordinator) RunResultIngestLoop(ctx context.Context) {
	c.logger.Info().Msg("starting result ingest loop")
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := c.popResultWithTimeout(ctx, resultIngestTimeout)
		if err != nil {
			if err == broker.ErrNoMessage {
				continue
			}
			c.logger.Error().Err(err).Msg("broker error in result ingest loop, backing off")
			c.sleep(ctx, backoff)
			backoff = minDuration(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		if payload == nil {
			continue
		}
		c.ingestResult(ctx, payload)
	}
}

func (c *Coordinator) popResultWithTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		payload, err := c.broker.Pop(ctx, c.queues.ResultQueue)
		if err == nil {
			return payload, nil
		}
		if err != broker.ErrNoMessage {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, broker.ErrNoMessage
}

func (c *Coordinator) ingestResult(ctx context.Context, payload []byte) {
	var result models.CrawlResult
	if err := json.Unmarshal(payload, &result); err != nil {
		c.logger.Error().Err(err).Msg("malformed crawl result payload, moving to dead letter")
		c.deadLetter(ctx, payload)
		return
	}

	job, err := c.store.GetJob(ctx, result.JobID)
	if err != nil {
		c.logger.Warn().Str("job_id", result.JobID).Msg("result for unknown job, moving to dead letter")
		c.deadLetter(ctx, payload)
		return
	}

	c.mergeResult(job, &result)
	if err := c.store.SaveJob(ctx, job); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist merged job, result left un-acked")
		c.deadLetter(ctx, payload)
		return
	}

	c.broadcaster.BroadcastJobUpdate(job.ID, string(job.Status), result)
	c.logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("processed crawl result")
}

// mergeResult applies a CrawlResult onto a Job, per spec §4.1's "merge
// fields (status, completed_at, progress, urls_crawled, links_found,
// aggregated errors)".
func (c *Coordinator) mergeResult(job *models.Job, result *models.CrawlResult) {
	job.URLsCrawled += 1
	job.LinksFound += len(result.LinksFound)
	job.ErrorLog = append(job.ErrorLog, result.Errors...)

	if result.IsFinalSummary {
		now := time.Now()
		job.CompletedAt = &now
		job.Progress = 100
		job.URLsCrawled = result.PagesCrawled
		job.LinksFound = result.TotalLinksFound
		// A job already in a terminal status (e.g. cancelled while its
		// crawl was in flight) keeps that status.
		if !job.Status.IsTerminal() {
			if len(result.Errors) > 0 {
				job.Status = models.JobStatusFailed
				job.ErrorMessage = result.Errors[0].Message
			} else {
				job.Status = models.JobStatusCompleted
			}
		}
		return
	}

	if !job.Status.IsTerminal() {
		job.Status = models.JobStatusInProgress
	}
	if job.Config.MaxPages > 0 {
		job.Progress = minFloat(99, 100*float64(job.URLsCrawled)/float64(job.Config.MaxPages))
	}
}

func (c *Coordinator) deadLetter(ctx context.Context, payload []byte) {
	if err := c.broker.Push(ctx, c.queues.DeadLetterQueue, payload); err != nil {
		c.logger.Error().Err(err).Msg("failed to push to dead letter queue")
	}
}

// RunSchedulerPromotionLoop implements spec §4.1 loop 2.
func (c *Coordinator) RunSchedulerPromotionLoop(ctx context.Context) {
	c.logger.Info().Msg("starting scheduler promotion loop")
	interval := time.Duration(c.cfg.SchedulerIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := c.promoteScheduledJobs(ctx); err != nil {
			c.logger.Error().Err(err).Msg("error promoting scheduled jobs")
		}
	}
}

func (c *Coordinator) promoteScheduledJobs(ctx context.Context) error {
	now := float64(time.Now().Unix())
	ready, err := c.broker.ZPopLE(ctx, c.queues.ScheduledJobs, now)
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}

	c.logger.Info().Int("count", len(ready)).Msg("promoting scheduled jobs to work queue")
	for _, entry := range ready {
		if err := c.broker.Push(ctx, c.queues.JobQueue, entry.Payload); err != nil {
			c.logger.Error().Err(err).Str("job_id", entry.Member).Msg("failed to push promoted job to queue")
			continue
		}

		job, err := c.store.GetJob(ctx, entry.Member)
		if err != nil {
			c.logger.Warn().Str("job_id", entry.Member).Msg("scheduled job found in broker but not in JobStore")
			continue
		}
		job.Status = models.JobStatusQueued
		if err := c.store.SaveJob(ctx, job); err != nil {
			c.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist promoted job status")
			continue
		}
		c.broadcaster.BroadcastJobUpdate(job.ID, string(job.Status), nil)
	}
	return nil
}

// RunSatelliteMonitorLoop implements spec §4.1 loop 3. Heartbeats are
// read-only here; entries are never removed, matching
// monitor_satellites' zrangebyscore-only behavior.
func (c *Coordinator) RunSatelliteMonitorLoop(ctx context.Context) {
	c.logger.Info().Msg("starting satellite monitor loop")
	interval := time.Duration(c.cfg.SchedulerIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		minScore := float64(time.Now().Add(-time.Duration(c.cfg.CrawlerTimeoutSeconds) * time.Second).Unix())
		active, err := c.broker.ZEntriesGE(ctx, c.queues.Heartbeats, minScore)
		if err != nil {
			c.logger.Error().Err(err).Msg("error monitoring satellites")
			continue
		}
		c.logger.Debug().Int("active_satellites", len(active)).Msg("satellite heartbeat sweep")
	}
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
