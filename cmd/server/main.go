// The server binary exposes the HTTP API: provider webhooks, campaign
// control, and CRUD over recipients, templates, and segments. Campaign
// triggers start materialization in-process; the drain work is done by
// cmd/worker instances, which share the database queue.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/event-stream-engine/internal/api"
	"github.com/ignite/event-stream-engine/internal/config"
	"github.com/ignite/event-stream-engine/internal/consent"
	"github.com/ignite/event-stream-engine/internal/ingest"
	"github.com/ignite/event-stream-engine/internal/orchestrator"
	"github.com/ignite/event-stream-engine/internal/pkg/clock"
	"github.com/ignite/event-stream-engine/internal/pkg/distlock"
	"github.com/ignite/event-stream-engine/internal/pkg/logger"
	"github.com/ignite/event-stream-engine/internal/provider"
	"github.com/ignite/event-stream-engine/internal/ratelimit"
	"github.com/ignite/event-stream-engine/internal/segment"
	"github.com/ignite/event-stream-engine/internal/store"
)

// newRedisClient connects to Redis when the rate limiter wants it. A memory
// backend runs without Redis; campaign run locks then fall back to PG
// advisory locks.
func newRedisClient(cfg config.RateLimiterConfig) *redis.Client {
	if cfg.Backend != "redis" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	return redis.NewClient(opts)
}

func lockFactory(redisClient *redis.Client, st *store.Store) orchestrator.LockFactory {
	return func(campaignID int64) distlock.DistLock {
		return distlock.ForCampaign(redisClient, st.DB, campaignID, 5*time.Minute)
	}
}

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

	redisClient := newRedisClient(cfg.RateLimiter)
	if redisClient != nil {
		defer redisClient.Close()
	}

	limiter, err := ratelimit.New(cfg.RateLimiter.Backend, redisClient)
	if err != nil {
		log.Fatalf("rate limiter: %v", err)
	}

	consentSvc := consent.NewService(st.Recipients, st.Audit)
	ingestor := ingest.NewIngestor(st.Events, st.Recipients, st.Messages, consentSvc, nil)
	evaluator := segment.NewEvaluator(st.Recipients, 500)

	orch := orchestrator.New(
		st.Campaigns, st.Messages, st.Templates, st.Segments, st.Recipients, st.Audit,
		consentSvc, evaluator, limiter, provider.NewTwilioClient(cfg.Provider),
		clock.Real{}, lockFactory(redisClient, st),
		orchestrator.Config{
			Workers:         cfg.Workers.Count,
			BatchSize:       cfg.Workers.BatchSize,
			ProviderTimeout: cfg.Provider.ProviderTimeout(),
		},
	)

	server := api.NewServer(cfg.Server, api.NewHandlers(st, orch, ingestor, consentSvc))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod())
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err.Error())
	}
	logger.Info("server stopped")
}
