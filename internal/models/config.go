package models

import "time"

// CrawlConfig is immutable for the lifetime of a job once submitted.
// Grounded on internal/services/crawler/types.go's CrawlConfig, extended
// with the anti-detection/proxy fields spec §6 names as configuration
// inputs but that the teacher attached to the job rather than a global
// config, matching original_source's per-job config dict.
type CrawlConfig struct {
	MaxPages           int               `json:"max_pages" validate:"required,gt=0"`
	MaxDepth           int               `json:"max_depth" validate:"gte=0"`
	DelaySeconds       float64           `json:"delay_seconds" validate:"gte=0"`
	TimeoutSeconds     int               `json:"timeout_seconds" validate:"gte=0"`
	RespectRobotsTxt   bool              `json:"respect_robots_txt"`
	FollowRedirects    bool              `json:"follow_redirects"`
	RenderJavaScript   bool              `json:"render_javascript"`
	UserAgent          string            `json:"user_agent"`
	UserAgentRotation  bool              `json:"user_agent_rotation"`
	AllowedDomains     []string          `json:"allowed_domains"`
	CustomHeaders      map[string]string `json:"custom_headers"`
	ProxyList          []string          `json:"proxy_list"`
	ProxyRegion        string            `json:"proxy_region,omitempty"`
	DetailLevel        string            `json:"detail_level,omitempty"`
}

// IsDomainAllowed implements the allowed_domains gate from spec §4.3 step
// 3: empty allow-list means any domain is permitted.
func (c *CrawlConfig) IsDomainAllowed(host string) bool {
	if len(c.AllowedDomains) == 0 {
		return true
	}
	for _, d := range c.AllowedDomains {
		if d == host {
			return true
		}
	}
	return false
}

// RateLimiterConfig mirrors the rate_limiter.* configuration keys from
// spec §6.
type RateLimiterConfig struct {
	HistorySize        int     `toml:"history_size"`
	SuccessFactor      float64 `toml:"success_factor"`
	FailureFactor      float64 `toml:"failure_factor"`
	MinDelaySeconds    float64 `toml:"min_delay"`
	MaxDelaySeconds    float64 `toml:"max_delay"`
	MLRateOptimization bool    `toml:"ml_rate_optimization"`
}

// DefaultRateLimiterConfig mirrors the original_source defaults
// (AdaptiveRateLimiter.__init__).
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		HistorySize:     10,
		SuccessFactor:   0.9,
		FailureFactor:   1.5,
		MinDelaySeconds: 0.1,
		MaxDelaySeconds: 60.0,
	}
}

// AntiDetectionConfig mirrors anti_detection.* from spec §6.
type AntiDetectionConfig struct {
	MLRateOptimization        bool `toml:"ml_rate_optimization"`
	HumanLikeDelays           bool `toml:"human_like_delays"`
	RequestHeaderRandomization bool `toml:"request_header_randomization"`
}

// ProxyConfig mirrors proxy.* from spec §6.
type ProxyConfig struct {
	UseProxies               bool          `toml:"use_proxies"`
	ProxyRetryDelaySeconds   time.Duration `toml:"proxy_retry_delay_seconds"`
	MaxFailuresBeforeBan     int           `toml:"max_failures_before_ban"`
}
