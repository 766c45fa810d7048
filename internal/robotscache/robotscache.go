// Package robotscache implements spec §4.7's RobotsCache: per-host
// fetch-permission evaluation with TTL caching and fail-open behavior on
// network or parse error. Grounded directly on
// lukemcguire-vibraphone-template's RobotsChecker.
package robotscache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

type cachedRobots struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsCache fetches and caches robots.txt rules per host.
type RobotsCache struct {
	client   *http.Client
	cache    sync.Map // host string -> *cachedRobots
	cacheTTL time.Duration
}

// New creates a RobotsCache with a 1-hour TTL, matching the original
// implementation's cache lifetime.
func New(client *http.Client) *RobotsCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsCache{client: client, cacheTTL: time.Hour}
}

// CanFetch reports whether userAgent may fetch rawURL. Network or parse
// failures fail open (return true) per spec §4.7.
func (r *RobotsCache) CanFetch(ctx context.Context, rawURL, userAgent string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true, fmt.Errorf("parse URL: %w", err)
	}
	host := parsed.Host
	if host == "" {
		return true, nil
	}

	if cached, ok := r.cache.Load(host); ok {
		entry, ok := cached.(*cachedRobots)
		if !ok || entry == nil {
			r.cache.Delete(host)
		} else if time.Since(entry.fetchedAt) < r.cacheTTL {
			if entry.data == nil {
				return true, nil
			}
			return entry.data.TestAgent(parsed.Path, userAgent), nil
		}
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		r.cacheNilEntry(host)
		return true, fmt.Errorf("create robots.txt request for host %s: %w", host, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.cacheNilEntry(host)
		return true, fmt.Errorf("fetch robots.txt for host %s: %w", host, err)
	}
	body, readErr := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if readErr != nil {
		r.cacheNilEntry(host)
		return true, fmt.Errorf("read robots.txt body for host %s: %w", host, readErr)
	}
	if closeErr != nil {
		r.cacheNilEntry(host)
		return true, fmt.Errorf("close robots.txt response body for host %s: %w", host, closeErr)
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		r.cacheNilEntry(host)
		return true, nil
	}

	robots, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		r.cacheNilEntry(host)
		return true, fmt.Errorf("parse robots.txt for host %s: %w", host, err)
	}
	if robots == nil {
		r.cacheNilEntry(host)
		return true, nil
	}

	r.cache.Store(host, &cachedRobots{data: robots, fetchedAt: time.Now()})
	return robots.TestAgent(parsed.Path, userAgent), nil
}

func (r *RobotsCache) cacheNilEntry(host string) {
	r.cache.Store(host, &cachedRobots{data: nil, fetchedAt: time.Now()})
}

// ClearCache removes all cached entries.
func (r *RobotsCache) ClearCache() {
	r.cache = sync.Map{}
}
