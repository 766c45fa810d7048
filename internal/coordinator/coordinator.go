// Package coordinator implements spec §4.1: the singleton process that
// submits, promotes, tracks, and finalizes crawl jobs, fans out control
// commands, and broadcasts telemetry. Operations and background loops
// are grounded 1:1 on original_source's Link_Profiler queue_system
// job_coordinator.py (JobCoordinator.submit_crawl_job/get_job_status/
// cancel_job/pause_job_processing/process_results/monitor_satellites/
// _process_scheduled_jobs), adapted to the broker/JobStore interfaces
// and arbor logging idiom the teacher uses throughout internal/queue.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/broadcaster"
	"github.com/ternarybob/quaero-crawl/internal/broker"
	"github.com/ternarybob/quaero-crawl/internal/models"
)

// JobStore is the durable record of jobs, per spec §2. Satisfied by
// internal/storage/redisstore.JobStorage.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	CountByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// QueueNames carries the broker key namespace from spec §6.
type QueueNames struct {
	JobQueue        string
	ResultQueue     string
	DeadLetterQueue string
	ScheduledJobs   string
	Heartbeats      string
	PausedFlagKey   string
}

// Config carries the coordinator's tunables, mirroring
// job_coordinator.py's config_loader reads.
type Config struct {
	SchedulerIntervalSeconds int
	CrawlerTimeoutSeconds    int
}

// Coordinator is the singleton orchestration process described in spec
// §4.1. Unlike the teacher's JobCoordinator (a process-wide singleton
// reached via get_coordinator()), this is an ordinary struct constructed
// once by cmd/coordinator and passed explicitly — idiomatic Go avoids
// the package-level singleton the original relies on.
type Coordinator struct {
	broker      broker.Broker
	store       JobStore
	broadcaster *broadcaster.Broadcaster
	queues      QueueNames
	cfg         Config
	logger      arbor.ILogger
}

// New builds a Coordinator.
func New(b broker.Broker, store JobStore, bc *broadcaster.Broadcaster, queues QueueNames, cfg Config, logger arbor.ILogger) *Coordinator {
	return &Coordinator{broker: b, store: store, broadcaster: bc, queues: queues, cfg: cfg, logger: logger}
}

// Submit implements spec §4.1 submit(Job) -> job_id.
func (c *Coordinator) Submit(ctx context.Context, job *models.Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}

	if job.ScheduledAt != nil && job.ScheduledAt.After(time.Now()) {
		job.Status = models.JobStatusPending
		payload, err := json.Marshal(job)
		if err != nil {
			return "", fmt.Errorf("marshal job: %w", err)
		}
		if err := c.broker.ZAdd(ctx, c.queues.ScheduledJobs, job.ID, float64(job.ScheduledAt.Unix()), payload); err != nil {
			return "", fmt.Errorf("%w: %s", models.ErrBroker, err)
		}
		if err := c.store.SaveJob(ctx, job); err != nil {
			return "", err
		}
		c.logger.Info().Str("job_id", job.ID).Time("scheduled_at", *job.ScheduledAt).Msg("job scheduled")
	} else {
		job.Status = models.JobStatusQueued
		payload, err := json.Marshal(job)
		if err != nil {
			return "", fmt.Errorf("marshal job: %w", err)
		}
		if err := c.broker.Push(ctx, c.queues.JobQueue, payload); err != nil {
			return "", fmt.Errorf("%w: %s", models.ErrBroker, err)
		}
		if err := c.store.SaveJob(ctx, job); err != nil {
			return "", err
		}
		c.logger.Info().Str("job_id", job.ID).Msg("job submitted to queue")
	}

	c.broadcaster.BroadcastJobUpdate(job.ID, string(job.Status), nil)
	return job.ID, nil
}

// Status implements spec §4.1 status(job_id) -> Job, reconciling a
// Pending JobStore entry against the broker's scheduled-set (the only
// membership check the broker exposes without destructively popping).
// A Queued entry is trusted as-is: the satellite that pops it advances
// JobStore straight to InProgress, so the queue is never the more
// current source of truth once a job has left Pending.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == models.JobStatusPending {
		scheduled, serr := c.scheduledContainsJob(ctx, jobID)
		if serr == nil && !scheduled {
			job.Status = models.JobStatusQueued
		}
	}

	return job, nil
}

func (c *Coordinator) scheduledContainsJob(ctx context.Context, jobID string) (bool, error) {
	entries, err := c.broker.ZEntriesGE(ctx, c.queues.ScheduledJobs, 0)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Member == jobID {
			return true, nil
		}
	}
	return false, nil
}

// Cancel implements spec §4.1 cancel(job_id) -> bool.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return false, nil //nolint:nilerr // unknown job: cancel is a no-op, not an error
	}

	if job.Status.IsTerminal() {
		return true, nil // idempotent: second cancel on a terminal job is a no-op
	}

	if _, err := c.broker.RemoveMatching(ctx, c.queues.JobQueue, jobID); err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to remove job from queue during cancel")
	}
	if _, err := c.broker.RemoveMatching(ctx, c.queues.ScheduledJobs, jobID); err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to remove job from scheduled set during cancel")
	}

	now := time.Now()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	if err := c.store.SaveJob(ctx, job); err != nil {
		return false, err
	}

	payload, err := broker.EncodeCancelJob(jobID)
	if err != nil {
		return false, fmt.Errorf("encode cancel payload: %w", err)
	}
	if err := c.broker.Publish(ctx, broker.GlobalControlChannel, payload); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish cancel command")
	}

	c.broadcaster.BroadcastJobUpdate(jobID, string(job.Status), nil)
	c.logger.Info().Str("job_id", jobID).Msg("job cancelled")
	return true, nil
}

// PauseProcessing implements spec §4.1 pause_processing().
func (c *Coordinator) PauseProcessing(ctx context.Context) error {
	if err := c.broker.SetFlag(ctx, c.queues.PausedFlagKey, true); err != nil {
		return fmt.Errorf("%w: %s", models.ErrBroker, err)
	}
	payload, err := broker.EncodeSimpleCommand(broker.CommandPause)
	if err != nil {
		return err
	}
	if err := c.broker.Publish(ctx, broker.GlobalControlChannel, payload); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish pause command")
	}
	c.logger.Info().Msg("job processing paused")
	return nil
}

// ResumeProcessing implements spec §4.1 resume_processing().
func (c *Coordinator) ResumeProcessing(ctx context.Context) error {
	if err := c.broker.SetFlag(ctx, c.queues.PausedFlagKey, false); err != nil {
		return fmt.Errorf("%w: %s", models.ErrBroker, err)
	}
	payload, err := broker.EncodeSimpleCommand(broker.CommandResume)
	if err != nil {
		return err
	}
	if err := c.broker.Publish(ctx, broker.GlobalControlChannel, payload); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish resume command")
	}
	c.logger.Info().Msg("job processing resumed")
	return nil
}

// HealthStats is the shape returned by Health(), mirroring
// get_queue_stats in job_coordinator.py.
type HealthStats struct {
	PendingJobs       int       `json:"pending_jobs"`
	ResultsPending    int       `json:"results_pending"`
	ScheduledJobs     int       `json:"scheduled_jobs"`
	ActiveSatellites  int       `json:"active_satellites"`
	ProcessingPaused  bool      `json:"processing_paused"`
	Timestamp         time.Time `json:"timestamp"`
}

// Health implements spec §4.1 health() -> stats.
func (c *Coordinator) Health(ctx context.Context) (HealthStats, error) {
	pending, err := c.broker.ListLen(ctx, c.queues.JobQueue)
	if err != nil {
		return HealthStats{}, fmt.Errorf("%w: %s", models.ErrBroker, err)
	}
	results, err := c.broker.ListLen(ctx, c.queues.ResultQueue)
	if err != nil {
		return HealthStats{}, fmt.Errorf("%w: %s", models.ErrBroker, err)
	}
	scheduled, err := c.broker.ZCard(ctx, c.queues.ScheduledJobs)
	if err != nil {
		return HealthStats{}, fmt.Errorf("%w: %s", models.ErrBroker, err)
	}
	paused, err := c.broker.GetFlag(ctx, c.queues.PausedFlagKey)
	if err != nil {
		return HealthStats{}, fmt.Errorf("%w: %s", models.ErrBroker, err)
	}

	activeMin := time.Now().Add(-time.Duration(c.cfg.CrawlerTimeoutSeconds) * time.Second).Unix()
	active, err := c.broker.ZEntriesGE(ctx, c.queues.Heartbeats, float64(activeMin))
	if err != nil {
		return HealthStats{}, fmt.Errorf("%w: %s", models.ErrBroker, err)
	}

	return HealthStats{
		PendingJobs:      pending,
		ResultsPending:   results,
		ScheduledJobs:    scheduled,
		ActiveSatellites: len(active),
		ProcessingPaused: paused,
		Timestamp:        time.Now(),
	}, nil
}
