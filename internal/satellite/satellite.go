// Package satellite implements spec §4.2: the long-running worker that
// pops one job at a time from the shared queue, runs the Crawl Loop
// (§4.3) to completion, and emits results and heartbeats along the way.
// Grounded on original_source's web_crawler_fixed.py (start_crawl/
// crawl_url) for the loop structure, and on the teacher's
// internal/queue/worker.go for the ticker/context-cancellation idiom
// used by the heartbeat emitter and control-channel listener.
package satellite

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/broker"
	"github.com/ternarybob/quaero-crawl/internal/fetcher"
	"github.com/ternarybob/quaero-crawl/internal/models"
	"github.com/ternarybob/quaero-crawl/internal/ratelimiter"
	"github.com/ternarybob/quaero-crawl/internal/robotscache"
)

// JobStore is the narrow slice of the durable job record a satellite
// needs: read its own job and advance its status. Unlike the
// coordinator's JobStore, a satellite never lists or counts jobs.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	SaveJob(ctx context.Context, job *models.Job) error
}

// QueueNames mirrors coordinator.QueueNames; kept as its own type so this
// package doesn't import coordinator (narrow interfaces, not a shared
// service locator, per spec §9's design notes).
type QueueNames struct {
	JobQueue        string
	ResultQueue     string
	Heartbeats      string
	PausedFlagKey   string
}

// Config carries the satellite's tunables.
type Config struct {
	HeartbeatEvery    time.Duration
	JobPollTimeout    time.Duration
	PausedPollInterval time.Duration
	UserAgent         string
}

func (c Config) withDefaults() Config {
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 15 * time.Second
	}
	if c.JobPollTimeout <= 0 {
		c.JobPollTimeout = 5 * time.Second
	}
	if c.PausedPollInterval <= 0 {
		c.PausedPollInterval = 2 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Quaero-Crawler/1.0"
	}
	return c
}

// Satellite is one crawler process instance, identified by ID.
type Satellite struct {
	ID     string
	broker broker.Broker
	store  JobStore
	queues QueueNames
	cfg    Config
	logger arbor.ILogger

	httpFetcher     fetcher.Fetcher
	headlessFetcher fetcher.Fetcher
	rateLimiter     *ratelimiter.RateLimiter
	robotsCache     *robotscache.RobotsCache

	mu            sync.Mutex
	localPaused   bool
	currentJob    string
	cancelPending bool
}

// New builds a Satellite. headlessFetcher may be nil if no headless
// renderer is available; render_javascript jobs then fall back to the
// plain HTTP fetcher.
func New(id string, b broker.Broker, store JobStore, queues QueueNames, cfg Config, logger arbor.ILogger, httpFetcher, headlessFetcher fetcher.Fetcher, rl *ratelimiter.RateLimiter, robots *robotscache.RobotsCache) *Satellite {
	return &Satellite{
		ID:              id,
		broker:          b,
		store:           store,
		queues:          queues,
		cfg:             cfg.withDefaults(),
		logger:          logger,
		httpFetcher:     httpFetcher,
		headlessFetcher: headlessFetcher,
		rateLimiter:     rl,
		robotsCache:     robots,
	}
}

// Run is the main loop of spec §4.2. It blocks until ctx is cancelled.
func (s *Satellite) Run(ctx context.Context) {
	s.logger.Info().Str("satellite_id", s.ID).Msg("satellite starting")

	go s.runHeartbeatLoop(ctx)
	go s.runControlListener(ctx, broker.GlobalControlChannel)
	go s.runControlListener(ctx, broker.SatelliteControlChannel(s.ID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("satellite_id", s.ID).Msg("satellite shutting down")
			return
		default:
		}

		if s.paused(ctx) {
			s.sleep(ctx, s.cfg.PausedPollInterval)
			continue
		}

		payload, err := s.popJobWithTimeout(ctx, s.cfg.JobPollTimeout)
		if err != nil {
			if err == broker.ErrNoMessage {
				continue
			}
			s.logger.Error().Err(err).Msg("broker error in main loop, retrying")
			s.sleep(ctx, time.Second)
			continue
		}

		var job models.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			s.logger.Error().Err(err).Msg("malformed job payload, dropping")
			continue
		}

		s.runJob(ctx, &job)
	}
}

// paused checks the coordinator-set job_processing_paused broker flag,
// per spec §4.2 main-loop step 1.
func (s *Satellite) paused(ctx context.Context) bool {
	paused, err := s.broker.GetFlag(ctx, s.queues.PausedFlagKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read paused flag, assuming not paused")
		return false
	}
	return paused
}

func (s *Satellite) popJobWithTimeout(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		payload, err := s.broker.Pop(ctx, s.queues.JobQueue)
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

// runJob advances a popped job to InProgress, executes the crawl loop,
// and pushes its final result, per spec §4.2 steps 3-5.
func (s *Satellite) runJob(ctx context.Context, job *models.Job) {
	s.mu.Lock()
	s.currentJob = job.ID
	s.localPaused = false
	s.cancelPending = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.currentJob = ""
		s.mu.Unlock()
	}()

	job.Status = models.JobStatusInProgress
	job.OwnerID = s.ID
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist in-progress status")
		return
	}
	s.logger.Info().Str("job_id", job.ID).Str("satellite_id", s.ID).Msg("claimed job, starting crawl")

	loop := newCrawlLoop(s, job)
	result := loop.run(ctx)

	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to marshal final crawl result")
		return
	}
	if err := s.broker.Push(ctx, s.queues.ResultQueue, payload); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to push final crawl result")
		return
	}
	s.logger.Info().Str("job_id", job.ID).Int("pages_crawled", result.PagesCrawled).Msg("crawl finished")
}

// fetcherFor selects the headless or plain fetcher per spec §4.3 step 5.
// Jobs with a proxy_list use the plain fetcher, which applies the proxy.
func (s *Satellite) fetcherFor(cfg *models.CrawlConfig) fetcher.Fetcher {
	if cfg.RenderJavaScript && s.headlessFetcher != nil && len(cfg.ProxyList) == 0 {
		return s.headlessFetcher
	}
	return s.httpFetcher
}

func (s *Satellite) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// runHeartbeatLoop implements spec §4.2 step 4's "periodically ... write
// heartbeat" on a fixed T-seconds cadence.
func (s *Satellite) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := float64(time.Now().Unix())
			if err := s.broker.ZAdd(ctx, s.queues.Heartbeats, s.ID, now, nil); err != nil {
				s.logger.Warn().Err(err).Msg("failed to write heartbeat")
			}
		}
	}
}

// runControlListener implements spec §4.2's "Control subscription":
// CANCEL_JOB for the currently owned job sets the local cancel flag
// observed by the crawl loop between URLs; PAUSE/RESUME set/clear a
// local paused flag.
func (s *Satellite) runControlListener(ctx context.Context, channel string) {
	messages, err := s.broker.Subscribe(ctx, channel)
	if err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("failed to subscribe to control channel")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			s.handleControlMessage(msg)
		}
	}
}

func (s *Satellite) handleControlMessage(raw []byte) {
	var ctrl broker.ControlMessage
	if err := json.Unmarshal(raw, &ctrl); err != nil {
		s.logger.Warn().Err(err).Msg("malformed control message")
		return
	}

	switch ctrl.Command {
	case broker.CommandPause:
		s.mu.Lock()
		s.localPaused = true
		s.mu.Unlock()
	case broker.CommandResume:
		s.mu.Lock()
		s.localPaused = false
		s.mu.Unlock()
	case broker.CommandCancelJob:
		var payload broker.CancelJobPayload
		if err := json.Unmarshal(ctrl.Payload, &payload); err != nil {
			s.logger.Warn().Err(err).Msg("malformed cancel_job payload")
			return
		}
		s.mu.Lock()
		owned := s.currentJob == payload.JobID
		if owned {
			s.cancelPending = true
		}
		s.mu.Unlock()
		if owned {
			s.logger.Info().Str("job_id", payload.JobID).Msg("cancel observed for owned job")
		}
	}
}

// isLocallyPaused reports the control-channel PAUSE state, distinct from
// the broker-wide job_processing_paused flag: this one only affects the
// crawl loop of an already-running job, not whether new jobs are popped.
func (s *Satellite) isLocallyPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localPaused
}

// cancelRequested reports whether a CANCEL_JOB control message has
// arrived for the given job id since it was claimed.
func (s *Satellite) cancelRequested(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentJob == jobID && s.cancelPending
}
