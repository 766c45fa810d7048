package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/quaero-crawl/internal/models"
)

// Config is the root configuration struct. It follows the teacher's
// layered-override pattern: NewDefaultConfig() -> LoadFromFiles (TOML,
// later files win) -> applyEnvOverrides (QUAERO_*) -> ApplyFlagOverrides
// (CLI, highest priority).
type Config struct {
	Environment string `toml:"environment"`

	Server     ServerConfig     `toml:"server"`
	Queue      QueueConfig      `toml:"queue"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
	Monitoring MonitoringConfig `toml:"monitoring"`

	RateLimiter   models.RateLimiterConfig   `toml:"rate_limiter"`
	Crawler       CrawlerConfig              `toml:"crawler"`
	AntiDetection models.AntiDetectionConfig `toml:"anti_detection"`
	Proxy         models.ProxyConfig         `toml:"proxy"`
	ChromeDP      ChromeDPConfig             `toml:"chromedp"`
	Broadcaster   BroadcasterConfig          `toml:"broadcaster"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// QueueConfig mirrors the six queue.* keys of spec §6.
type QueueConfig struct {
	JobQueueName             string `toml:"job_queue_name"`
	ResultQueueName          string `toml:"result_queue_name"`
	DeadLetterQueueName      string `toml:"dead_letter_queue_name"`
	ScheduledJobsQueue       string `toml:"scheduled_jobs_queue"`
	HeartbeatQueueSortedName string `toml:"heartbeat_queue_sorted_name"`
	SchedulerIntervalSeconds int    `toml:"scheduler_interval"`
}

type StorageConfig struct {
	Redis RedisConfig `toml:"redis"`
}

// RedisConfig addresses the external, shared JobStore/Broker substrate
// both cmd/coordinator and every cmd/satellite connect to (spec.md line
// 17's "JobStore (external)"): a real network service, unlike an
// embedded-per-process Badger file, is what lets the two binaries
// actually observe each other's writes.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

// MonitoringConfig mirrors monitoring.crawler_timeout from spec §6.
type MonitoringConfig struct {
	CrawlerTimeoutSeconds int `toml:"crawler_timeout"`
}

// CrawlerConfig mirrors crawler.* from spec §6. The satellite reads
// DelaySeconds (the rate limiter's initial delay), UserAgent (the default
// User-Agent) and RenderJavaScript (whether the headless pool is built).
// These values are not copied into a submitted Job's CrawlConfig, which is
// used as submitted.
type CrawlerConfig struct {
	DelaySeconds            float64 `toml:"delay_seconds"`
	TimeoutSeconds          int     `toml:"timeout_seconds"`
	UserAgent               string  `toml:"user_agent"`
	RespectRobotsTxt        bool    `toml:"respect_robots_txt"`
	FollowRedirects         bool    `toml:"follow_redirects"`
	RenderJavaScript        bool    `toml:"render_javascript"`
	MaxCrawlDepthAdjustment int     `toml:"max_crawl_depth_adjustment"`
}

type ChromeDPConfig struct {
	MaxInstances       int           `toml:"max_instances"`
	Headless           bool          `toml:"headless"`
	DisableGPU         bool          `toml:"disable_gpu"`
	NoSandbox          bool          `toml:"no_sandbox"`
	JavaScriptWaitTime time.Duration `toml:"javascript_wait_time"`
	RequestTimeout     time.Duration `toml:"request_timeout"`
}

type BroadcasterConfig struct {
	MaxSubscribers int `toml:"max_subscribers"`
}

// NewDefaultConfig returns the baseline configuration, mirroring the
// teacher's NewDefaultConfig(): technical parameters hardcoded for
// production stability, user-facing settings left to quaero-crawl.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Queue: QueueConfig{
			JobQueueName:             "crawl_jobs",
			ResultQueueName:          "crawl_results",
			DeadLetterQueueName:      "dead_letter_queue",
			ScheduledJobsQueue:       "scheduled_crawl_jobs",
			HeartbeatQueueSortedName: "crawler_heartbeats_sorted",
			SchedulerIntervalSeconds: 5,
		},
		Storage: StorageConfig{
			Redis: RedisConfig{Addr: "localhost:6379", DB: 0},
		},
		Logging:    LoggingConfig{Level: "info", Format: "text", Output: []string{"stdout"}, TimeFormat: "15:04:05.000"},
		Monitoring: MonitoringConfig{CrawlerTimeoutSeconds: 120},
		RateLimiter: models.DefaultRateLimiterConfig(),
		Crawler: CrawlerConfig{
			DelaySeconds:     1.0,
			TimeoutSeconds:   30,
			UserAgent:        "Quaero-Crawler/1.0",
			RespectRobotsTxt: true,
			FollowRedirects:  true,
			RenderJavaScript: false,
		},
		AntiDetection: models.AntiDetectionConfig{},
		Proxy:         models.ProxyConfig{ProxyRetryDelaySeconds: 300 * time.Second, MaxFailuresBeforeBan: 3},
		ChromeDP: ChromeDPConfig{
			MaxInstances:       2,
			Headless:           true,
			DisableGPU:         true,
			NoSandbox:          true,
			JavaScriptWaitTime: 2 * time.Second,
			RequestTimeout:     30 * time.Second,
		},
		Broadcaster: BroadcasterConfig{MaxSubscribers: 256},
	}
}

// LoadFromFiles loads defaults, merges each TOML file in order (later
// files override earlier ones), then applies environment overrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", p, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", p, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides mirrors the teacher's exhaustive
// `if val := os.Getenv("QUAERO_X"); val != "" { ... }` pattern, scoped to
// the keys this core actually consumes.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("QUAERO_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("QUAERO_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("QUAERO_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("QUAERO_REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv("QUAERO_REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("QUAERO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("QUAERO_LOG_OUTPUT"); v != "" {
		c.Logging.Output = splitAndTrim(v, ",")
	}
	if v := os.Getenv("QUAERO_CRAWLER_USER_AGENT"); v != "" {
		c.Crawler.UserAgent = v
	}
	if v := os.Getenv("QUAERO_CRAWLER_DELAY_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Crawler.DelaySeconds = f
		}
	}
	if v := os.Getenv("QUAERO_CRAWLER_RESPECT_ROBOTS_TXT"); v != "" {
		c.Crawler.RespectRobotsTxt = v == "true"
	}
	if v := os.Getenv("QUAERO_CRAWLER_RENDER_JAVASCRIPT"); v != "" {
		c.Crawler.RenderJavaScript = v == "true"
	}
	if v := os.Getenv("QUAERO_MONITORING_CRAWLER_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitoring.CrawlerTimeoutSeconds = n
		}
	}
	if v := os.Getenv("QUAERO_QUEUE_SCHEDULER_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.SchedulerIntervalSeconds = n
		}
	}
	if v := os.Getenv("QUAERO_ANTI_DETECTION_ML_RATE_OPTIMIZATION"); v != "" {
		c.AntiDetection.MLRateOptimization = v == "true"
		c.RateLimiter.MLRateOptimization = v == "true"
	}
	if v := os.Getenv("QUAERO_PROXY_USE_PROXIES"); v != "" {
		c.Proxy.UseProxies = v == "true"
	}
}

// ApplyFlagOverrides applies CLI flags, the highest-priority layer.
func ApplyFlagOverrides(c *Config, port int, host string) {
	if port != 0 {
		c.Server.Port = port
	}
	if host != "" {
		c.Server.Host = host
	}
}

// ValidateJobSchedule validates a cron-form schedule string, following the
// teacher's use of robfig/cron for schedule validation (kept here as the
// extension point for future cron-scheduled recurring jobs; the core
// spec's one-shot scheduled_at jobs don't need it). Nothing in the module
// calls it; queue.scheduler_interval is an integer number of seconds and
// is not validated here.
func ValidateJobSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
