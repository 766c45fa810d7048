// -----------------------------------------------------------------------
// cmd/coordinator runs the singleton orchestration process of spec §4.1:
// Coordinator + its three background loops plus a minimal control/health
// HTTP surface and the dashboard WebSocket. Startup sequence mirrors
// cmd/quaero/main.go: load config -> apply CLI overrides -> init logger
// -> wire services -> start -> wait for interrupt -> graceful shutdown.
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/quaero-crawl/internal/broadcaster"
	"github.com/ternarybob/quaero-crawl/internal/broker"
	"github.com/ternarybob/quaero-crawl/internal/common"
	"github.com/ternarybob/quaero-crawl/internal/coordinator"
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
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("quaero-coordinator version %s\n", common.GetVersion())
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
	common.ApplyFlagOverrides(cfg, *serverPort, *serverHost)

	logger := common.SetupLogger(cfg)
	common.InstallCrashHandler("logs")
	defer common.RecoverWithCrashFile()
	defer common.Stop()

	logger.Info().
		Str("environment", cfg.Environment).
		Str("redis_addr", cfg.Storage.Redis.Addr).
		Msg("coordinator starting")

	db, err := redisstore.NewRedisDB(logger, &cfg.Storage.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer db.Close()

	store := redisstore.NewJobStorage(db, logger)
	brokerImpl := broker.New(db.Client(), logger)
	bc := broadcaster.New(cfg.Broadcaster.MaxSubscribers, logger)

	queues := coordinator.QueueNames{
		JobQueue:        cfg.Queue.JobQueueName,
		ResultQueue:     cfg.Queue.ResultQueueName,
		DeadLetterQueue: cfg.Queue.DeadLetterQueueName,
		ScheduledJobs:   cfg.Queue.ScheduledJobsQueue,
		Heartbeats:      cfg.Queue.HeartbeatQueueSortedName,
		PausedFlagKey:   "job_processing_paused",
	}
	coordCfg := coordinator.Config{
		SchedulerIntervalSeconds: cfg.Queue.SchedulerIntervalSeconds,
		CrawlerTimeoutSeconds:    cfg.Monitoring.CrawlerTimeoutSeconds,
	}
	coord := coordinator.New(brokerImpl, store, bc, queues, coordCfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	common.SafeGoWithContext(ctx, logger, "result-ingest-loop", func() { coord.RunResultIngestLoop(ctx) })
	common.SafeGoWithContext(ctx, logger, "scheduler-promotion-loop", func() { coord.RunSchedulerPromotionLoop(ctx) })
	common.SafeGoWithContext(ctx, logger, "satellite-monitor-loop", func() { coord.RunSatelliteMonitorLoop(ctx) })

	api := newAPIServer(cfg, coord, bc, logger)
	go func() {
		if err := api.Start(); err != nil {
			logger.Fatal().Err(err).Msg("coordinator HTTP server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("coordinator ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down coordinator")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("coordinator HTTP server shutdown failed")
	}

	logger.Info().Msg("coordinator stopped")
}
