// The worker binary drains the message queue: it runs the orchestrator's
// worker pool over claimed batches and the poller that promotes scheduled
// campaigns when their start time arrives. Multiple workers can run against
// the same database; claims use row leases so they never collide.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/event-stream-engine/internal/config"
	"github.com/ignite/event-stream-engine/internal/consent"
	"github.com/ignite/event-stream-engine/internal/orchestrator"
	"github.com/ignite/event-stream-engine/internal/pkg/clock"
	"github.com/ignite/event-stream-engine/internal/pkg/distlock"
	"github.com/ignite/event-stream-engine/internal/pkg/logger"
	"github.com/ignite/event-stream-engine/internal/provider"
	"github.com/ignite/event-stream-engine/internal/ratelimit"
	"github.com/ignite/event-stream-engine/internal/scheduler"
	"github.com/ignite/event-stream-engine/internal/segment"
	"github.com/ignite/event-stream-engine/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	st, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()
	logger.Info("store connected")

	var redisClient *redis.Client
	if cfg.RateLimiter.Backend == "redis" {
		opts, err := redis.ParseURL(cfg.RateLimiter.RedisURL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	limiter, err := ratelimit.New(cfg.RateLimiter.Backend, redisClient)
	if err != nil {
		log.Fatalf("rate limiter: %v", err)
	}

	consentSvc := consent.NewService(st.Recipients, st.Audit)
	evaluator := segment.NewEvaluator(st.Recipients, 500)

	orch := orchestrator.New(
		st.Campaigns, st.Messages, st.Templates, st.Segments, st.Recipients, st.Audit,
		consentSvc, evaluator, limiter, provider.NewTwilioClient(cfg.Provider),
		clock.Real{},
		func(campaignID int64) distlock.DistLock {
			return distlock.ForCampaign(redisClient, st.DB, campaignID, 5*time.Minute)
		},
		orchestrator.Config{
			Workers:         cfg.Workers.Count,
			BatchSize:       cfg.Workers.BatchSize,
			ProviderTimeout: cfg.Provider.ProviderTimeout(),
		},
	)

	runner := orchestrator.NewRunner(orch)
	runner.Start()

	poller := scheduler.NewCampaignPoller(st.Campaigns, func(ctx context.Context, id int64) error {
		_, err := orch.Trigger(ctx, id)
		return err
	}, 10*time.Second)
	poller.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	poller.Stop()
	runner.Stop(cfg.Shutdown.GracePeriod())
	logger.Info("worker stopped")
}
