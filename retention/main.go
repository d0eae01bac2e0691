package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dlatjsrb112-dev/final3/internal/config"
	"github.com/dlatjsrb112-dev/final3/internal/elasticsearch"
	"github.com/dlatjsrb112-dev/final3/internal/logger"
)

const (
	maxConnectAttempts = 10
	maxRetryDelay      = 30 * time.Second
	runTimeout         = 2 * time.Minute
)

type purger interface {
	DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, nil, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	if err := waitForElasticsearch(ctx, log, esClient, maxConnectAttempts, 2*time.Second); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to elasticsearch")

	scheduler, err := newScheduler(ctx, log, esClient, cfg)
	if err != nil {
		log.Error("parse schedule", slog.String("schedule", cfg.Schedule), slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("retention job running",
		slog.String("schedule", cfg.Schedule),
		slog.Duration("max_age", cfg.MaxAge),
	)

	// First pass at startup; failures wait for the next scheduled run.
	runOnce(ctx, log, esClient, cfg)

	scheduler.Start()
	<-ctx.Done()
	log.Info("shutdown signal received")
	<-scheduler.Stop().Done()
}

// newScheduler registers the purge on cfg.Schedule. Overlapping runs are skipped.
func newScheduler(ctx context.Context, log *slog.Logger, p purger, cfg *config.Retention) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Schedule, func() { runOnce(ctx, log, p, cfg) }); err != nil {
		return nil, err
	}
	return c, nil
}

func waitForElasticsearch(ctx context.Context, log *slog.Logger, es pinger, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = es.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", attempts),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, maxRetryDelay)
	}
	return err
}

func runOnce(ctx context.Context, log *slog.Logger, p purger, cfg *config.Retention) int64 {
	subCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	deleted, err := p.DeleteOlderThan(subCtx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		log.Warn("retention run failed (will retry on next run)", slog.Any("err", err))
		return deleted
	}

	if deleted > 0 {
		log.Info("retention run completed", slog.Int64("deleted", deleted))
	} else {
		log.Debug("retention run completed, no old digests found")
	}
	return deleted
}
