package satellite

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/ternarybob/quaero-crawl/internal/contentparser"
	"github.com/ternarybob/quaero-crawl/internal/fetcher"
	"github.com/ternarybob/quaero-crawl/internal/linkextractor"
	"github.com/ternarybob/quaero-crawl/internal/models"
	"github.com/ternarybob/quaero-crawl/internal/proxy"
	"github.com/ternarybob/quaero-crawl/internal/ratelimiter"
)

// crawlLoop executes spec §4.3 for a single job. It is single-threaded
// per job; concurrency across jobs comes from running multiple
// satellites, per spec §5's scheduling model.
type crawlLoop struct {
	sat *Satellite
	job *models.Job
	cfg *models.CrawlConfig

	frontier      *frontier
	visited       map[string]bool
	targetDomain  string
	proxyMgr      *proxy.Manager

	start time.Time

	pagesCrawled    int
	totalLinks      int
	backlinksFound  int
	failedURLs      int
	domains         map[string]bool
	statusCodes     map[int]int
	totalLatencyMs  int64
	successCount    int
	errors          []models.CrawlError
}

func newCrawlLoop(sat *Satellite, job *models.Job) *crawlLoop {
	cfg := &job.Config
	var proxyMgr *proxy.Manager
	if len(cfg.ProxyList) > 0 {
		proxyMgr = proxy.New(cfg.ProxyList, 5*time.Minute, 3)
	}
	return &crawlLoop{
		sat:          sat,
		job:          job,
		cfg:          cfg,
		frontier:     newFrontier(job.SeedURLs),
		visited:      make(map[string]bool),
		targetDomain: job.TargetDomain(),
		proxyMgr:     proxyMgr,
		start:        time.Now(),
		domains:      make(map[string]bool),
		statusCodes:  make(map[int]int),
	}
}

// run executes the crawl loop to termination and returns the final
// summary CrawlResult, per spec §4.3's "Termination" paragraph.
func (c *crawlLoop) run(ctx context.Context) models.CrawlResult {
	for {
		if ctx.Err() != nil {
			break
		}

		status, stop := c.checkStatus(ctx)
		if stop {
			c.sat.logger.Info().Str("job_id", c.job.ID).Str("status", string(status)).Msg("crawl loop terminated by status/cancel")
			break
		}

		entry, ok := c.frontier.pop()
		if !ok {
			break
		}
		if c.pagesCrawled >= c.cfg.MaxPages {
			break
		}

		c.processURL(ctx, entry)
	}

	return c.finalSummary()
}

// checkStatus implements per-iteration step 1: reload JobStore status and
// observe the satellite's locally-set cancel flag for the owned job.
func (c *crawlLoop) checkStatus(ctx context.Context) (models.JobStatus, bool) {
	for {
		if c.sat.cancelRequested(c.job.ID) {
			return models.JobStatusCancelled, true
		}
		if c.sat.isLocallyPaused() {
			c.sat.sleep(ctx, c.sat.cfg.PausedPollInterval)
			if ctx.Err() != nil {
				return c.job.Status, true
			}
			continue
		}

		job, err := c.sat.store.GetJob(ctx, c.job.ID)
		if err != nil {
			// JobStore unreachable: proceed rather than stall the crawl.
			return c.job.Status, false
		}

		switch job.Status {
		case models.JobStatusStopped, models.JobStatusCancelled:
			return job.Status, true
		case models.JobStatusPaused:
			c.sat.sleep(ctx, c.sat.cfg.PausedPollInterval)
			if ctx.Err() != nil {
				return job.Status, true
			}
			continue
		default:
			return job.Status, false
		}
	}
}

func (c *crawlLoop) processURL(ctx context.Context, entry frontierEntry) {
	if c.visited[entry.url] {
		return
	}
	if entry.depth > c.cfg.MaxDepth {
		return
	}
	c.visited[entry.url] = true
	c.pagesCrawled++

	u, err := url.Parse(entry.url)
	if err != nil {
		c.recordError(entry.url, models.ErrorKindParseError, "unparseable URL: "+err.Error())
		return
	}
	host := u.Hostname()
	c.domains[host] = true

	if !c.cfg.IsDomainAllowed(host) {
		c.recordSynthetic403(entry.url, "Domain not allowed by config")
		return
	}
	if c.cfg.RespectRobotsTxt {
		ua := c.cfg.UserAgent
		if ua == "" {
			ua = c.sat.cfg.UserAgent
		}
		allowed, _ := c.sat.robotsCache.CanFetch(ctx, entry.url, ua)
		if !allowed {
			c.recordSynthetic403(entry.url, "Blocked by robots.txt rules")
			return
		}
	}

	if err := c.sat.rateLimiter.Wait(ctx, host); err != nil {
		return
	}

	var proxyURL string
	var selectedProxy *proxy.Details
	if c.proxyMgr != nil && !c.proxyMgr.Empty() {
		selectedProxy = c.proxyMgr.Next(c.cfg.ProxyRegion)
		if selectedProxy != nil {
			proxyURL = selectedProxy.URL
		}
	}

	f := c.sat.fetcherFor(c.cfg)
	resp, err := f.Fetch(ctx, entry.url, c.cfg, proxyURL)
	if err != nil {
		c.handleFetchFailure(host, entry.url, selectedProxy, err)
		return
	}

	c.sat.rateLimiter.Record(host, ratelimiter.Observation{StatusCode: resp.StatusCode, LatencyMs: resp.LatencyMs})
	if selectedProxy != nil {
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			c.proxyMgr.MarkBad(selectedProxy.URL, "bad status")
		} else {
			c.proxyMgr.MarkGood(selectedProxy.URL, time.Duration(resp.LatencyMs)*time.Millisecond)
		}
	}

	c.statusCodes[resp.StatusCode]++
	c.totalLatencyMs += int64(resp.LatencyMs)
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.successCount++
	} else {
		c.failedURLs++
		kind := models.ErrorKindHTTP4xx
		if resp.StatusCode >= 500 {
			kind = models.ErrorKindHTTP5xx
		}
		c.recordError(entry.url, kind, "non-2xx response")
	}

	var links []models.Link
	var seo *models.SEOMetrics
	var markdown string
	if strings.Contains(resp.ContentType, "text/html") {
		html := string(resp.Body)
		links, err = linkextractor.Extract(resp.FinalURL, html)
		if err != nil {
			c.recordError(entry.url, models.ErrorKindParseError, "link extraction failed: "+err.Error())
		}
		seo = contentparser.Parse(resp.FinalURL, html)
		if c.cfg.DetailLevel == "markdown" {
			markdown = c.toMarkdown(resp.FinalURL, html)
		}
		now := time.Now()
		for i := range links {
			links[i].HTTPStatus = resp.StatusCode
			links[i].DiscoveredAt = now
		}
	}
	c.totalLinks += len(links)

	var backlinks []models.Link
	for _, l := range links {
		if isBacklink(l.TargetURL, c.job.TargetURL, c.targetDomain) {
			backlinks = append(backlinks, l)
		}
	}
	if len(backlinks) > 0 {
		c.backlinksFound += len(backlinks)
		c.emitIntermediate(ctx, entry.url, resp.StatusCode, backlinks, seo, markdown)
	}

	c.enqueueDiscovered(links, entry.depth+1)
}

// handleFetchFailure classifies a fetch error per spec §4.3: a request
// that exceeded timeout_seconds is ErrorKindTimeout with a synthetic
// status_code=408, distinct from ErrorKindTransport/status_code=0 for
// every other network failure (DNS, TLS, connection refused).
func (c *crawlLoop) handleFetchFailure(host, rawURL string, selectedProxy *proxy.Details, err error) {
	c.failedURLs++

	kind := models.ErrorKindTransport
	statusCode := 0
	if errors.Is(err, fetcher.ErrTimeout) {
		kind = models.ErrorKindTimeout
		statusCode = 408
	}

	c.statusCodes[statusCode]++
	c.sat.rateLimiter.Record(host, ratelimiter.Observation{StatusCode: statusCode, LatencyMs: 0})
	if selectedProxy != nil {
		c.proxyMgr.MarkBad(selectedProxy.URL, err.Error())
	}
	c.recordError(rawURL, kind, err.Error())
}

func (c *crawlLoop) recordSynthetic403(rawURL, message string) {
	c.failedURLs++
	c.statusCodes[403]++
	c.recordError(rawURL, models.ErrorKindPolicyDenied, message)
}

func (c *crawlLoop) recordError(rawURL string, kind models.ErrorKind, message string) {
	c.errors = append(c.errors, models.CrawlError{
		Timestamp: time.Now(),
		URL:       rawURL,
		ErrorType: kind,
		Message:   message,
	})
}

// enqueueDiscovered implements step 8: filter by allowed_domains and bound
// frontier growth so pages_crawled + frontier.size never exceeds max_pages.
func (c *crawlLoop) enqueueDiscovered(links []models.Link, depth int) {
	for _, l := range links {
		if c.pagesCrawled+c.frontier.size() >= c.cfg.MaxPages {
			return
		}
		if c.visited[l.TargetURL] {
			continue
		}
		u, err := url.Parse(l.TargetURL)
		if err != nil {
			continue
		}
		if !c.cfg.IsDomainAllowed(u.Hostname()) {
			continue
		}
		c.frontier.push(frontierEntry{url: l.TargetURL, depth: depth})
	}
}

// toMarkdown renders a normalized markdown version of page content,
// produced only when the job requests DetailLevel "markdown" (see
// SPEC_FULL.md's supplemented-features section). Conversion failure is
// recorded as a ParseError and never aborts the crawl.
func (c *crawlLoop) toMarkdown(pageURL, html string) string {
	converter := md.NewConverter(pageURL, true, nil)
	rendered, err := converter.ConvertString(html)
	if err != nil {
		c.recordError(pageURL, models.ErrorKindParseError, "markdown conversion failed: "+err.Error())
		return ""
	}
	return rendered
}

// emitIntermediate implements step 7: an intermediate CrawlResult carrying
// only target-matching links, plus the page's SEOMetrics and (optionally)
// its markdown rendering.
func (c *crawlLoop) emitIntermediate(ctx context.Context, pageURL string, statusCode int, backlinks []models.Link, seo *models.SEOMetrics, markdown string) {
	result := models.CrawlResult{
		JobID:          c.job.ID,
		URL:            pageURL,
		StatusCode:     statusCode,
		LinksFound:     backlinks,
		SEOMetrics:     seo,
		Markdown:       markdown,
		CrawlTimestamp: time.Now(),
		IsFinalSummary: false,
	}
	payload, err := marshalResult(result)
	if err != nil {
		c.sat.logger.Warn().Err(err).Str("job_id", c.job.ID).Msg("failed to marshal intermediate result")
		return
	}
	if err := c.sat.broker.Push(ctx, c.sat.queues.ResultQueue, payload); err != nil {
		c.sat.logger.Warn().Err(err).Str("job_id", c.job.ID).Msg("failed to push intermediate result")
	}
}

// finalSummary implements the "Termination" paragraph's final CrawlResult.
func (c *crawlLoop) finalSummary() models.CrawlResult {
	duration := time.Since(c.start).Seconds()
	avgLatency := 0.0
	if c.successCount > 0 {
		avgLatency = float64(c.totalLatencyMs) / float64(c.successCount)
	}
	return models.CrawlResult{
		JobID:                  c.job.ID,
		URL:                    c.job.TargetURL,
		StatusCode:             200,
		CrawlTimestamp:         time.Now(),
		IsFinalSummary:         true,
		PagesCrawled:           c.pagesCrawled,
		TotalLinksFound:        c.totalLinks,
		BacklinksFound:         c.backlinksFound,
		FailedURLsCount:        c.failedURLs,
		DomainsVisitedCount:    len(c.domains),
		AvgResponseTimeMs:      avgLatency,
		StatusCodeDistribution: c.statusCodes,
		CrawlDurationSeconds:   duration,
		Errors:                 c.errors,
	}
}
