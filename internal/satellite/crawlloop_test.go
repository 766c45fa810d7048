package satellite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/broker"
	"github.com/ternarybob/quaero-crawl/internal/common"
	"github.com/ternarybob/quaero-crawl/internal/fetcher"
	"github.com/ternarybob/quaero-crawl/internal/models"
	"github.com/ternarybob/quaero-crawl/internal/ratelimiter"
	"github.com/ternarybob/quaero-crawl/internal/robotscache"
	"github.com/ternarybob/quaero-crawl/internal/storage/redisstore"
)

func testQueues() QueueNames {
	return QueueNames{
		JobQueue:      "crawl_jobs",
		ResultQueue:   "crawl_results",
		Heartbeats:    "crawler_heartbeats_sorted",
		PausedFlagKey: "job_processing_paused",
	}
}

func newTestSatellite(t *testing.T, httpFetcher fetcher.Fetcher, headlessFetcher fetcher.Fetcher) (*Satellite, *redisstore.JobStorage, broker.Broker) {
	t.Helper()
	logger := arbor.NewLogger()

	mr := miniredis.RunT(t)
	db, err := redisstore.NewRedisDB(logger, &common.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b := broker.New(db.Client(), logger)
	store := redisstore.NewJobStorage(db, logger)
	rl := ratelimiter.New(models.DefaultRateLimiterConfig(), 0) // zero delay keeps tests fast
	robots := robotscache.New(http.DefaultClient)

	sat := New("sat-test-1", b, store, testQueues(), Config{PausedPollInterval: 10 * time.Millisecond}, logger, httpFetcher, headlessFetcher, rl, robots)
	return sat, store, b
}

func newTestJob(seed string, maxPages, maxDepth int) *models.Job {
	return &models.Job{
		ID:        "job-crawl-1",
		TargetURL: seed,
		SeedURLs:  []string{seed},
		Status:    models.JobStatusInProgress,
		Config: models.CrawlConfig{
			MaxPages:         maxPages,
			MaxDepth:         maxDepth,
			RespectRobotsTxt: false,
			UserAgent:        "test-agent",
		},
		CreatedAt: time.Now(),
	}
}

func TestCrawlLoop_MaxPagesBoundaryStopsAtOne(t *testing.T) {
	hf := newStubFetcher().withHTML("https://example.com/", 200,
		`<a href="https://example.com/a">a</a><a href="https://example.com/b">b</a>`)
	sat, store, _ := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 1, 5)
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())

	assert.Equal(t, 1, result.PagesCrawled)
	assert.True(t, result.IsFinalSummary)
}

func TestCrawlLoop_MaxDepthZeroDoesNotFollowLinks(t *testing.T) {
	hf := newStubFetcher().withHTML("https://example.com/", 200,
		`<a href="https://example.com/child">child</a>`)
	sat, store, _ := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 10, 0)
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())

	assert.Equal(t, 1, result.PagesCrawled)
	assert.Contains(t, hf.calls, "https://example.com/")
	assert.NotContains(t, hf.calls, "https://example.com/child")
}

func TestCrawlLoop_EmptyHTMLNeverPanics(t *testing.T) {
	hf := newStubFetcher().withHTML("https://example.com/", 200, "")
	sat, store, _ := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 5, 3)
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	assert.NotPanics(t, func() {
		result := loop.run(context.Background())
		assert.Equal(t, 1, result.PagesCrawled)
		assert.Equal(t, 0, result.TotalLinksFound)
	})
}

func TestCrawlLoop_DomainNotAllowedSynthesizes403(t *testing.T) {
	hf := newStubFetcher()
	sat, store, _ := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 5, 3)
	job.Config.AllowedDomains = []string{"other.example.com"}
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())

	assert.Equal(t, 1, result.PagesCrawled)
	assert.Equal(t, 1, result.FailedURLsCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.ErrorKindPolicyDenied, result.Errors[0].ErrorType)
	assert.Contains(t, result.Errors[0].Message, "Domain not allowed")
	assert.Empty(t, hf.calls)
}

func TestCrawlLoop_RobotsDenySynthesizes403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	seed := srv.URL + "/private/page"
	hf := newStubFetcher()
	sat, store, _ := newTestSatellite(t, hf, nil)
	sat.robotsCache = robotscache.New(srv.Client())

	job := newTestJob(seed, 5, 3)
	job.Config.RespectRobotsTxt = true
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())

	assert.Equal(t, 1, result.PagesCrawled)
	assert.Equal(t, 1, result.FailedURLsCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Blocked by robots.txt rules", result.Errors[0].Message)
	assert.Empty(t, hf.calls)
}

func TestCrawlLoop_BacklinkEmitsIntermediateResult(t *testing.T) {
	hf := newStubFetcher().withHTML("https://example.com/", 200,
		`<a href="https://target.example.com/">target</a><a href="https://other.example.com/">other</a>`)
	sat, store, b := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 5, 3)
	job.TargetURL = "https://target.example.com/"
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())

	assert.Equal(t, 1, result.BacklinksFound)

	payload, err := b.Pop(context.Background(), testQueues().ResultQueue)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "target.example.com")
}

func TestCrawlLoop_MarkdownDetailLevelPopulatesIntermediateResult(t *testing.T) {
	hf := newStubFetcher().withHTML("https://example.com/", 200,
		`<html><body><h1>Title</h1><a href="https://target.example.com/">target</a></body></html>`)
	sat, store, b := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 5, 3)
	job.TargetURL = "https://target.example.com/"
	job.Config.DetailLevel = "markdown"
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())
	assert.Equal(t, 1, result.BacklinksFound)

	payload, err := b.Pop(context.Background(), testQueues().ResultQueue)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "Title")
}

func TestCrawlLoop_FetchTimeoutClassifiedAsTimeoutWith408(t *testing.T) {
	hf := newStubFetcher().withError("https://example.com/",
		fmt.Errorf("%w: %s", fetcher.ErrTimeout, "context deadline exceeded"))
	sat, store, _ := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 5, 3)
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())

	assert.Equal(t, 1, result.FailedURLsCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.ErrorKindTimeout, result.Errors[0].ErrorType)
	assert.Equal(t, 1, result.StatusCodeDistribution[408])
	assert.Equal(t, 0, result.StatusCodeDistribution[0])
}

func TestCrawlLoop_FetchTransportFailureClassifiedAsTransportWithZeroStatus(t *testing.T) {
	hf := newStubFetcher().withError("https://example.com/", errors.New("connection refused"))
	sat, store, _ := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 5, 3)
	require.NoError(t, store.SaveJob(context.Background(), job))

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())

	assert.Equal(t, 1, result.FailedURLsCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.ErrorKindTransport, result.Errors[0].ErrorType)
	assert.Equal(t, 1, result.StatusCodeDistribution[0])
}

func TestCrawlLoop_CancelStopsBeforeNextURL(t *testing.T) {
	hf := newStubFetcher().withHTML("https://example.com/", 200,
		`<a href="https://example.com/a">a</a>`)
	sat, store, _ := newTestSatellite(t, hf, nil)

	job := newTestJob("https://example.com/", 10, 3)
	require.NoError(t, store.SaveJob(context.Background(), job))

	sat.mu.Lock()
	sat.currentJob = job.ID
	sat.cancelPending = true
	sat.mu.Unlock()

	loop := newCrawlLoop(sat, job)
	result := loop.run(context.Background())

	assert.Equal(t, 0, result.PagesCrawled)
	assert.Empty(t, hf.calls)
}
