// -----------------------------------------------------------------------
// cmd/satellite runs one crawler process instance of spec §4.2: it claims
// one job at a time from the shared broker, runs the Crawl Loop to
// completion, and reports heartbeats and results. Startup sequence
// mirrors cmd/coordinator and, ultimately, cmd/quaero/main.go: load
// config -> apply CLI overrides -> init logger -> wire services -> run
// -> wait for interrupt -> graceful shutdown.
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/quaero-crawl/internal/broker"
	"github.com/ternarybob/quaero-crawl/internal/common"
	"github.com/ternarybob/quaero-crawl/internal/fetcher"
	"github.com/ternarybob/quaero-crawl/internal/ratelimiter"
	"github.com/ternarybob/quaero-crawl/internal/robotscache"
	"github.com/ternarybob/quaero-crawl/internal/satellite"
	"github.com/ternarybob/quaero-crawl/internal/storage/redisstore"
)

type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	satelliteID  = flag.String("id", "", "Satellite instance id (defaults to a generated id)")
	showVersion  = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("quaero-satellite version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("quaero-crawl.toml"); err == nil {
			configFiles = append(configFiles, "quaero-crawl.toml")
		}
	}

	cfg, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger := common.SetupLogger(cfg)
	common.InstallCrashHandler("logs")
	defer common.RecoverWithCrashFile()
	defer common.Stop()

	id := *satelliteID
	if id == "" {
		id = common.NewSatelliteID()
	}

	db, err := redisstore.NewRedisDB(logger, &cfg.Storage.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer db.Close()

	store := redisstore.NewJobStorage(db, logger)
	brokerImpl := broker.New(db.Client(), logger)

	rateLimiter := ratelimiter.New(cfg.RateLimiter, cfg.Crawler.DelaySeconds)
	robotsCache := robotscache.New(http.DefaultClient)
	httpFetcher := fetcher.NewHTTPFetcher(cfg.Crawler.UserAgent, cfg.AntiDetection)

	var headlessFetcher fetcher.Fetcher
	if cfg.Crawler.RenderJavaScript {
		pool := fetcher.NewChromeDPPool(logger)
		err := pool.InitBrowserPool(fetcher.ChromeDPPoolConfig{
			MaxInstances:       cfg.ChromeDP.MaxInstances,
			UserAgent:          cfg.Crawler.UserAgent,
			Headless:           cfg.ChromeDP.Headless,
			DisableGPU:         cfg.ChromeDP.DisableGPU,
			NoSandbox:          cfg.ChromeDP.NoSandbox,
			JavaScriptWaitTime: cfg.ChromeDP.JavaScriptWaitTime,
			RequestTimeout:     cfg.ChromeDP.RequestTimeout,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("headless browser pool unavailable, falling back to plain HTTP fetch")
		} else {
			headlessFetcher = fetcher.NewHeadlessFetcher(pool, cfg.ChromeDP.JavaScriptWaitTime)
			defer pool.ShutdownBrowserPool()
		}
	}

	queues := satellite.QueueNames{
		JobQueue:      cfg.Queue.JobQueueName,
		ResultQueue:   cfg.Queue.ResultQueueName,
		Heartbeats:    cfg.Queue.HeartbeatQueueSortedName,
		PausedFlagKey: "job_processing_paused",
	}
	satCfg := satellite.Config{
		UserAgent: cfg.Crawler.UserAgent,
	}

	sat := satellite.New(id, brokerImpl, store, queues, satCfg, logger, httpFetcher, headlessFetcher, rateLimiter, robotsCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info().Str("satellite_id", id).Msg("satellite ready")

	done := make(chan struct{})
	common.SafeGoWithContext(ctx, logger, "satellite-run-loop", func() {
		sat.Run(ctx)
		close(done)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down satellite")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("satellite main loop did not stop within grace period")
	}

	logger.Info().Msg("satellite stopped")
}
