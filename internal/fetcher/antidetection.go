package fetcher

import (
	"math/rand"
	"net/http"
	"time"
)

// desktopUserAgents is a small rotation pool standing in for the
// teacher corpus's user_agent_manager: a handful of current, realistic
// desktop browser strings rather than an exhaustive database.
var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// headerProfiles are full realistic browser header sets, keyed to a
// user agent, used when request_header_randomization is enabled so a
// target sees a consistent Accept/Accept-Language/Sec-Fetch-* fingerprint
// rather than just a rotated User-Agent on otherwise-bare headers.
var headerProfiles = []map[string]string{
	{
		"User-Agent":      desktopUserAgents[0],
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Accept-Encoding": "gzip, deflate, br",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
	},
	{
		"User-Agent":      desktopUserAgents[1],
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-GB,en;q=0.8",
		"Accept-Encoding": "gzip, deflate, br",
	},
	{
		"User-Agent":      desktopUserAgents[2],
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
	},
}

func randomUserAgent() string {
	return desktopUserAgents[rand.Intn(len(desktopUserAgents))]
}

func randomHeaderProfile() map[string]string {
	return headerProfiles[rand.Intn(len(headerProfiles))]
}

// applyHeaders implements web_crawler_fixed.py's WebCrawler.__aenter__
// header-selection priority: full randomized profile, then rotated
// bare User-Agent, then the job's fixed user agent.
func applyHeaders(req *http.Request, fallbackUA string, cfg headerPolicy) {
	switch {
	case cfg.requestHeaderRandomization:
		for k, v := range randomHeaderProfile() {
			req.Header.Set(k, v)
		}
	case cfg.userAgentRotation:
		req.Header.Set("User-Agent", randomUserAgent())
	default:
		ua := cfg.fixedUserAgent
		if ua == "" {
			ua = fallbackUA
		}
		req.Header.Set("User-Agent", ua)
	}
	for k, v := range cfg.customHeaders {
		req.Header.Set(k, v)
	}
}

// headerPolicy bundles the per-request header-selection inputs so
// applyHeaders doesn't need to import models just for CrawlConfig.
type headerPolicy struct {
	requestHeaderRandomization bool
	userAgentRotation          bool
	fixedUserAgent             string
	customHeaders              map[string]string
}

// humanLikeJitter implements web_crawler_fixed.py's
// `asyncio.sleep(random.uniform(0.1, 0.5))` anti-detection pause,
// applied once per fetch right before the request goes out.
func humanLikeJitter() time.Duration {
	return time.Duration(100+rand.Intn(400)) * time.Millisecond
}
