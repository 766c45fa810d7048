package satellite

import (
	"context"
	"net/http"

	"github.com/ternarybob/quaero-crawl/internal/fetcher"
	"github.com/ternarybob/quaero-crawl/internal/models"
)

// stubFetcher returns a canned response per URL, keyed exactly, used to
// drive the crawl loop deterministically without real network I/O.
type stubFetcher struct {
	responses map[string]*fetcher.Response
	err       map[string]error
	calls     []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{responses: make(map[string]*fetcher.Response), err: make(map[string]error)}
}

func (s *stubFetcher) withHTML(url string, statusCode int, body string) *stubFetcher {
	s.responses[url] = &fetcher.Response{
		StatusCode:  statusCode,
		Body:        []byte(body),
		FinalURL:    url,
		ContentType: "text/html; charset=utf-8",
		Headers:     http.Header{},
	}
	return s
}

func (s *stubFetcher) withError(url string, err error) *stubFetcher {
	s.err[url] = err
	return s
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string, cfg *models.CrawlConfig, proxyURL string) (*fetcher.Response, error) {
	s.calls = append(s.calls, rawURL)
	if err, ok := s.err[rawURL]; ok {
		return nil, err
	}
	if resp, ok := s.responses[rawURL]; ok {
		return resp, nil
	}
	return &fetcher.Response{StatusCode: 200, Body: []byte(""), FinalURL: rawURL, ContentType: "text/html"}, nil
}
