package models

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// JobStatus is the job lifecycle state. Terminal statuses are absorbing.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusPaused     JobStatus = "paused"
	JobStatusStopped    JobStatus = "stopped"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is one of the absorbing states.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is the durable unit of crawl work tracked end to end by the
// Coordinator and executed, one at a time, by whichever SatelliteCrawler
// pops it from the work queue.
type Job struct {
	ID           string      `json:"id"`
	TargetURL    string      `json:"target_url"`
	SeedURLs     []string    `json:"seed_urls"`
	Config       CrawlConfig `json:"config"`
	Status       JobStatus   `json:"status"`
	ScheduledAt  *time.Time  `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	Progress     float64     `json:"progress_percentage"`
	URLsCrawled  int         `json:"urls_crawled"`
	LinksFound   int         `json:"links_found"`
	ErrorLog     []CrawlError `json:"error_log"`
	OwnerID      string      `json:"owner_satellite_id,omitempty"`
	ErrorMessage string      `json:"error,omitempty"`
}

// Validate implements spec §4.1 submit() validation: InvalidJob if
// seed_urls empty, max_pages <= 0, or target_url unparseable, plus the
// struct-tag constraints on CrawlConfig (`validate:"..."` in config.go).
func (j *Job) Validate() error {
	if len(j.SeedURLs) == 0 {
		return fmt.Errorf("%w: seed_urls must be non-empty", ErrInvalidJob)
	}
	if err := structValidator.Struct(j.Config); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidJob, err)
	}
	u, err := url.Parse(j.TargetURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: target_url unparseable: %q", ErrInvalidJob, j.TargetURL)
	}
	return nil
}

// TargetDomain returns host(target_url), used by the crawl loop's
// backlink-match predicate.
func (j *Job) TargetDomain() string {
	u, err := url.Parse(j.TargetURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
