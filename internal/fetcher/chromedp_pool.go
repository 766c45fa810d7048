package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero-crawl/internal/models"
)

// ChromeDPPoolConfig configures the allocator pool.
type ChromeDPPoolConfig struct {
	MaxInstances       int
	UserAgent          string
	Headless           bool
	DisableGPU         bool
	NoSandbox          bool
	JavaScriptWaitTime time.Duration
	RequestTimeout     time.Duration
}

// ChromeDPPool holds a round-robin set of browser allocators. Unlike the
// teacher's pool, GetBrowser here returns a fresh per-page
// chromedp.NewContext drawn from one of the shared allocators rather than
// the allocator's own top-level context, so concurrent fetches never
// share tab/renderer state (DESIGN.md Open Question #2).
type ChromeDPPool struct {
	mu               sync.Mutex
	allocators       []context.Context
	allocatorCancels []context.CancelFunc
	currentIndex     int
	maxInstances     int
	userAgent        string
	logger           arbor.ILogger
	initialized      bool
}

// NewChromeDPPool creates an (uninitialized) browser pool.
func NewChromeDPPool(logger arbor.ILogger) *ChromeDPPool {
	return &ChromeDPPool{logger: logger}
}

// InitBrowserPool creates config.MaxInstances exec allocators, tolerating
// partial failure by shrinking to however many actually started.
func (p *ChromeDPPool) InitBrowserPool(config ChromeDPPoolConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("browser pool already initialized")
	}
	if config.MaxInstances <= 0 {
		return fmt.Errorf("max_instances must be greater than 0, got: %d", config.MaxInstances)
	}
	if config.MaxInstances > 20 {
		p.logger.Warn().Int("max_instances", config.MaxInstances).Msg("large browser pool size detected")
	}
	if config.UserAgent == "" {
		config.UserAgent = "Quaero-Crawler/1.0"
	}

	p.maxInstances = config.MaxInstances
	p.userAgent = config.UserAgent
	p.allocators = make([]context.Context, 0, p.maxInstances)
	p.allocatorCancels = make([]context.CancelFunc, 0, p.maxInstances)

	successCount := 0
	var lastErr error
	for i := 0; i < p.maxInstances; i++ {
		if err := p.createAllocator(i, config); err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Int("index", i).Msg("failed to create chromedp allocator")
			continue
		}
		successCount++
	}
	if successCount == 0 {
		p.cleanup()
		return fmt.Errorf("failed to create any chromedp allocators, last error: %w", lastErr)
	}
	p.maxInstances = successCount
	p.initialized = true
	return nil
}

func (p *ChromeDPPool) createAllocator(index int, config ChromeDPPoolConfig) error {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.DisableGPU),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	testTimeout := 30 * time.Second
	if config.RequestTimeout > 0 {
		testTimeout = config.RequestTimeout
	}
	testCtx, testCancel := chromedp.NewContext(allocatorCtx)
	defer testCancel()
	timeoutCtx, cancel := context.WithTimeout(testCtx, testTimeout)
	defer cancel()
	if err := chromedp.Run(timeoutCtx, chromedp.Navigate("about:blank")); err != nil {
		allocatorCancel()
		return fmt.Errorf("allocator failed startup test: %w", err)
	}

	p.allocators = append(p.allocators, allocatorCtx)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)
	p.logger.Debug().Int("index", index).Msg("chromedp allocator created")
	return nil
}

// ShutdownBrowserPool cancels every allocator.
func (p *ChromeDPPool) ShutdownBrowserPool() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanup()
}

func (p *ChromeDPPool) cleanup() {
	for _, cancel := range p.allocatorCancels {
		if cancel != nil {
			cancel()
		}
	}
	p.allocators = nil
	p.allocatorCancels = nil
	p.initialized = false
}

// IsInitialized reports whether the pool has live allocators.
func (p *ChromeDPPool) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// nextAllocator picks the next allocator round-robin.
func (p *ChromeDPPool) nextAllocator() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized || len(p.allocators) == 0 {
		return nil, fmt.Errorf("browser pool not initialized")
	}
	idx := p.currentIndex % len(p.allocators)
	p.currentIndex = (p.currentIndex + 1) % len(p.allocators)
	return p.allocators[idx], nil
}

// HeadlessFetcher renders a page with chromedp for render_javascript
// jobs, opening a fresh tab (chromedp.NewContext) per fetch.
type HeadlessFetcher struct {
	pool     *ChromeDPPool
	waitTime time.Duration
}

// NewHeadlessFetcher wraps an initialized ChromeDPPool.
func NewHeadlessFetcher(pool *ChromeDPPool, jsWaitTime time.Duration) *HeadlessFetcher {
	return &HeadlessFetcher{pool: pool, waitTime: jsWaitTime}
}

func (f *HeadlessFetcher) Fetch(ctx context.Context, rawURL string, cfg *models.CrawlConfig, proxyURL string) (*Response, error) {
	allocatorCtx, err := f.pool.nextAllocator()
	if err != nil {
		return nil, err
	}

	pageCtx, cancel := chromedp.NewContext(allocatorCtx)
	defer cancel()

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageCtx, timeoutCancel := context.WithTimeout(pageCtx, timeout)
	defer timeoutCancel()

	var statusCode int64 = 200
	var finalURL, html string

	tasks := chromedp.Tasks{
		network.Enable(),
	}
	if proxyURL != "" {
		// Per-page proxy override requires a dedicated allocator flag in
		// chromedp; with a shared allocator pool, proxy_list jobs fall back
		// to the HTTPFetcher path (see internal/satellite crawl loop).
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.Sleep(f.waitTime),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)

	start := time.Now()
	if err := chromedp.Run(pageCtx, tasks); err != nil {
		return nil, err
	}
	latency := time.Since(start)

	return &Response{
		StatusCode:  int(statusCode),
		Body:        []byte(html),
		FinalURL:    finalURL,
		ContentType: "text/html",
		LatencyMs:   int(latency.Milliseconds()),
	}, nil
}
