package fetcher

import (
	"net/http"
	"net/url"
)

// proxyTransport builds an http.Transport routed through a single
// upstream proxy URL, one per request so failures never leak into a
// shared client's connection pool.
func proxyTransport(proxyURL string) (*http.Transport, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Transport{Proxy: http.ProxyURL(parsed)}, nil
}
