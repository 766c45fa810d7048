package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quaero-crawl/internal/models"
)

func TestHTTPFetcher_FetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "quaero-test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher("quaero-test-agent", models.AntiDetectionConfig{})
	cfg := &models.CrawlConfig{TimeoutSeconds: 5, FollowRedirects: true}

	resp, err := f.Fetch(context.Background(), srv.URL, cfg, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "ok")
	assert.Equal(t, "text/html", resp.ContentType)
}

func TestHTTPFetcher_CustomUserAgentOverridesDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "per-job-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("default-agent", models.AntiDetectionConfig{})
	cfg := &models.CrawlConfig{TimeoutSeconds: 5, FollowRedirects: true, UserAgent: "per-job-agent"}

	_, err := f.Fetch(context.Background(), srv.URL, cfg, "")
	require.NoError(t, err)
}

func TestHTTPFetcher_NoFollowRedirectsStopsAtFirstHop(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()
	target := final.URL

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}))
	defer redirecting.Close()

	f := NewHTTPFetcher("agent", models.AntiDetectionConfig{})
	cfg := &models.CrawlConfig{TimeoutSeconds: 5, FollowRedirects: false}

	resp, err := f.Fetch(context.Background(), redirecting.URL, cfg, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestHTTPFetcher_CustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v1", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("agent", models.AntiDetectionConfig{})
	cfg := &models.CrawlConfig{
		TimeoutSeconds:  5,
		FollowRedirects: true,
		CustomHeaders:   map[string]string{"X-Custom": "v1"},
	}

	_, err := f.Fetch(context.Background(), srv.URL, cfg, "")
	require.NoError(t, err)
}

func TestHTTPFetcher_InvalidProxyURLFails(t *testing.T) {
	f := NewHTTPFetcher("agent", models.AntiDetectionConfig{})
	cfg := &models.CrawlConfig{TimeoutSeconds: 5, FollowRedirects: true}

	_, err := f.Fetch(context.Background(), "http://example.com", cfg, "://bad-proxy")
	assert.Error(t, err)
}

func TestChromeDPPool_FetchBeforeInitFails(t *testing.T) {
	pool := NewChromeDPPool(nil)
	_, err := pool.nextAllocator()
	assert.Error(t, err)
}

func TestHTTPFetcher_RequestHeaderRandomizationSetsFullProfile(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("default-agent", models.AntiDetectionConfig{RequestHeaderRandomization: true})
	cfg := &models.CrawlConfig{TimeoutSeconds: 5, FollowRedirects: true}

	_, err := f.Fetch(context.Background(), srv.URL, cfg, "")
	require.NoError(t, err)
	assert.NotEmpty(t, gotUA)
	assert.NotEmpty(t, gotAccept)
}

func TestHTTPFetcher_UserAgentRotationOverridesFixedAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("default-agent", models.AntiDetectionConfig{})
	cfg := &models.CrawlConfig{TimeoutSeconds: 5, FollowRedirects: true, UserAgentRotation: true}

	_, err := f.Fetch(context.Background(), srv.URL, cfg, "")
	require.NoError(t, err)
	found := false
	for _, ua := range desktopUserAgents {
		if ua == gotUA {
			found = true
			break
		}
	}
	assert.True(t, found, "expected rotated User-Agent to come from the known pool, got %q", gotUA)
}

func TestHTTPFetcher_HumanLikeDelaysAddsLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("agent", models.AntiDetectionConfig{HumanLikeDelays: true})
	cfg := &models.CrawlConfig{TimeoutSeconds: 5, FollowRedirects: true}

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL, cfg, "")
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}
