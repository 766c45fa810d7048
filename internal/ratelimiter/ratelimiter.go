// Package ratelimiter implements the adaptive per-host delay described in
// spec §4.4, grounded on original_source's AdaptiveRateLimiter.wait_if_needed
// and on the teacher's RateLimiter for its context-aware Wait and
// per-domain map/mutex structuring.
package ratelimiter

import (
	"container/ring"
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/quaero-crawl/internal/models"
)

// Observation is one (status_code, latency_ms) sample fed to Record.
type Observation struct {
	StatusCode int
	LatencyMs  int
}

// RateLimiter holds one HostProfile per host and enforces the adaptive
// delay formula before each request. HostProfiles are process-local, per
// spec §4.4's "no cross-process coordination."
type RateLimiter struct {
	cfg          models.RateLimiterConfig
	initialDelay float64

	mu       sync.Mutex
	profiles map[string]*hostState
}

type hostState struct {
	mu            sync.Mutex
	currentDelay  float64
	history       *ring.Ring // of Observation
	lastRequestAt time.Time
}

// New creates a RateLimiter. initialDelaySeconds is crawler.delay_seconds,
// the starting current_delay for every newly-seen host.
func New(cfg models.RateLimiterConfig, initialDelaySeconds float64) *RateLimiter {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	return &RateLimiter{
		cfg:          cfg,
		initialDelay: initialDelaySeconds,
		profiles:     make(map[string]*hostState),
	}
}

func (r *RateLimiter) stateFor(host string) *hostState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.profiles[host]
	if !ok {
		s = &hostState{
			currentDelay: r.initialDelay,
			history:      ring.New(r.cfg.HistorySize),
		}
		r.profiles[host] = s
	}
	return s
}

// Record appends the result of the most recent request to host's history
// and recomputes current_delay per spec §4.4's adjustment rule (or its
// ML-mode windowed variant when MLRateOptimization is enabled). It must
// be called once per request, before the next Wait for that host.
func (r *RateLimiter) Record(host string, obs Observation) {
	s := r.stateFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Value = obs
	s.history = s.history.Next()

	if r.cfg.MLRateOptimization {
		s.currentDelay = r.mlAdjust(s, obs)
	} else {
		s.currentDelay = r.simpleAdjust(s.currentDelay, obs)
	}

	min := r.cfg.MinDelaySeconds
	max := r.cfg.MaxDelaySeconds
	if min <= 0 {
		min = 0.1
	}
	if max <= 0 {
		max = 60.0
	}
	if s.currentDelay < min {
		s.currentDelay = min
	}
	if s.currentDelay > max {
		s.currentDelay = max
	}
}

// simpleAdjust implements the non-ML branch of original_source's
// wait_if_needed.
func (r *RateLimiter) simpleAdjust(currentDelay float64, obs Observation) float64 {
	switch {
	case obs.StatusCode == 429:
		return currentDelay * 2.0
	case obs.StatusCode >= 500 && obs.StatusCode < 600, obs.StatusCode == 0:
		return currentDelay * 1.5
	case obs.LatencyMs > 5000:
		return currentDelay * 1.2
	default:
		d := currentDelay * 0.9
		if d < r.initialDelay {
			d = r.initialDelay
		}
		return d
	}
}

// mlAdjust implements the ML-mode windowed branch: success_ratio and
// avg_response_time over the ring buffer, per original_source.
func (r *RateLimiter) mlAdjust(s *hostState, obs Observation) float64 {
	currentDelay := s.currentDelay
	failureFactor := r.cfg.FailureFactor
	if failureFactor <= 0 {
		failureFactor = 1.5
	}
	successFactor := r.cfg.SuccessFactor
	if successFactor <= 0 {
		successFactor = 0.9
	}

	var successCount, totalCount, successLatencySum int
	s.history.Do(func(v interface{}) {
		if v == nil {
			return
		}
		o := v.(Observation)
		totalCount++
		if o.StatusCode >= 200 && o.StatusCode < 400 {
			successCount++
			successLatencySum += o.LatencyMs
		}
	})

	successRatio := 1.0
	if totalCount > 0 {
		successRatio = float64(successCount) / float64(totalCount)
	}
	avgResponseTime := 0.0
	if successCount > 0 {
		avgResponseTime = float64(successLatencySum) / float64(successCount)
	}

	switch {
	case obs.StatusCode == 429:
		return currentDelay * failureFactor * 2
	case obs.StatusCode >= 500 || obs.StatusCode == 0:
		return currentDelay * failureFactor
	case successRatio < 0.7:
		return currentDelay * failureFactor
	case avgResponseTime > 3000:
		return currentDelay * (1 + avgResponseTime/10000)
	default:
		d := currentDelay * successFactor
		if d < r.initialDelay {
			d = r.initialDelay
		}
		return d
	}
}

// Wait sleeps for max(0, current_delay - (now - last_request_at)) and
// sets last_request_at = now on return, honoring ctx cancellation.
func (r *RateLimiter) Wait(ctx context.Context, host string) error {
	s := r.stateFor(host)
	s.mu.Lock()
	delay := s.currentDelay
	elapsed := time.Since(s.lastRequestAt)
	s.mu.Unlock()

	if remaining := time.Duration(delay*float64(time.Second)) - elapsed; remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	s.lastRequestAt = time.Now()
	s.mu.Unlock()
	return nil
}

// CurrentDelay reports the current adaptive delay for a host, for tests
// and diagnostics.
func (r *RateLimiter) CurrentDelay(host string) float64 {
	s := r.stateFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDelay
}

// HostFromURL extracts the host used as the rate-limiter key.
func HostFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

