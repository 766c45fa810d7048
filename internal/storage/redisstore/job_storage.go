package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/models"
)

const (
	jobKeyPrefix    = "job:"
	allJobsSetKey   = "jobs:all"
	statusIndexHash = "jobs:status_index"
)

func jobKey(id string) string { return jobKeyPrefix + id }

func statusSetKey(status models.JobStatus) string { return "jobs:status:" + string(status) }

// JobStorage is the durable JobStore named in spec §2: the record of
// jobs, errors, and terminal results that the Coordinator owns, and
// that satellites write to directly. Badgerhold's native `Where(...)`
// indexed queries (the teacher's equivalent) have no Redis counterpart,
// so ListJobs/CountByStatus are backed by a maintained set-per-status
// secondary index instead.
type JobStorage struct {
	db     *RedisDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance.
func NewJobStorage(db *RedisDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{db: db, logger: logger}
}

// SaveJob persists a job, inserting or overwriting by ID, and keeps the
// jobs:status:* secondary index consistent with the job's current status.
func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	client := s.db.client
	prevStatus, err := client.HGet(ctx, statusIndexHash, job.ID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read prior job status: %w", err)
	}

	pipe := client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.SAdd(ctx, allJobsSetKey, job.ID)
	if prevStatus != "" && prevStatus != string(job.Status) {
		pipe.SRem(ctx, statusSetKey(models.JobStatus(prevStatus)), job.ID)
	}
	pipe.SAdd(ctx, statusSetKey(job.Status), job.ID)
	pipe.HSet(ctx, statusIndexHash, job.ID, string(job.Status))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob returns models.ErrUnknownJob (wrapped) if the job does not exist.
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := s.db.client.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownJob, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// ListJobs returns every job, optionally filtered by status, newest first.
func (s *JobStorage) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	setKey := allJobsSetKey
	if status != "" {
		setKey = statusSetKey(status)
	}

	ids, err := s.db.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			// Index entry outlived the job record (e.g. a DeleteJob that
			// raced a concurrent SaveJob); skip rather than fail the list.
			s.logger.Warn().Str("job_id", id).Msg("stale job index entry, skipping")
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// CountByStatus reports the number of jobs with the given status.
func (s *JobStorage) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	n, err := s.db.client.SCard(ctx, statusSetKey(status)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(n), nil
}

// DeleteJob removes a job; absence is not an error.
func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	client := s.db.client
	prevStatus, err := client.HGet(ctx, statusIndexHash, jobID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read job status before delete: %w", err)
	}

	pipe := client.TxPipeline()
	pipe.Del(ctx, jobKey(jobID))
	pipe.SRem(ctx, allJobsSetKey, jobID)
	if prevStatus != "" {
		pipe.SRem(ctx, statusSetKey(models.JobStatus(prevStatus)), jobID)
	}
	pipe.HDel(ctx, statusIndexHash, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
