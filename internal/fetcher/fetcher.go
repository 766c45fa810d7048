// Package fetcher implements spec §4.3 step 5: a Fetcher abstraction
// with a plain HTTP GET path and an optional headless-browser path.
// The HTTP path follows the teacher's net/http conventions; the headless
// path adapts internal/services/crawler/chromedp_pool.go's pooled
// allocator, switched to a fresh chromedp.NewContext per page (see
// DESIGN.md) so concurrent fetches never share renderer state.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ternarybob/quaero-crawl/internal/models"
)

// ErrTimeout marks a fetch error caused by the request deadline expiring
// (cfg.TimeoutSeconds), distinct from other transport failures such as
// DNS failure, TLS handshake failure, or connection refused. Per spec
// §4.3's error classification, a caller should translate this into
// ErrorKindTimeout with a synthetic status_code=408, never
// ErrorKindTransport/status_code=0.
var ErrTimeout = errors.New("fetcher: request timed out")

// classifyFetchErr wraps err with ErrTimeout when it represents the
// request's own deadline expiring rather than a different network
// failure, so callers can branch with errors.Is instead of string
// matching.
func classifyFetchErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return err
}

// Response is the normalized result of a single fetch, independent of
// which path produced it.
type Response struct {
	StatusCode  int
	Body        []byte
	FinalURL    string
	ContentType string
	Headers     http.Header
	LatencyMs   int
}

// Fetcher performs a single HTTP(S) fetch, honoring the crawl config's
// redirect and timeout policy.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, cfg *models.CrawlConfig, proxyURL string) (*Response, error)
}

// HTTPFetcher is the plain net/http path used when render_javascript is
// false or the headless renderer is unavailable.
type HTTPFetcher struct {
	userAgent string
	anti      models.AntiDetectionConfig
}

// NewHTTPFetcher builds an HTTPFetcher with the given default user agent
// (overridden per-request by cfg.UserAgent when set) and the deployment's
// anti_detection.* policy.
func NewHTTPFetcher(userAgent string, anti models.AntiDetectionConfig) *HTTPFetcher {
	return &HTTPFetcher{userAgent: userAgent, anti: anti}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, cfg *models.CrawlConfig, proxyURL string) (*Response, error) {
	client := &http.Client{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	if proxyURL != "" {
		transport, err := proxyTransport(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("configure proxy transport: %w", err)
		}
		client.Transport = transport
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	applyHeaders(req, f.userAgent, headerPolicy{
		requestHeaderRandomization: f.anti.RequestHeaderRandomization,
		userAgentRotation:          cfg.UserAgentRotation,
		fixedUserAgent:             cfg.UserAgent,
		customHeaders:              cfg.CustomHeaders,
	})

	if f.anti.HumanLikeDelays {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(humanLikeJitter()):
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, classifyFetchErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Body:        body,
		FinalURL:    finalURL,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     resp.Header,
		LatencyMs:   int(latency.Milliseconds()),
	}, nil
}
