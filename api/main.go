package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dlatjsrb112-dev/final3/internal/agent"
	"github.com/dlatjsrb112-dev/final3/internal/config"
	"github.com/dlatjsrb112-dev/final3/internal/elasticsearch"
	"github.com/dlatjsrb112-dev/final3/internal/feed"
	"github.com/dlatjsrb112-dev/final3/internal/llm"
	"github.com/dlatjsrb112-dev/final3/internal/logger"
	"github.com/dlatjsrb112-dev/final3/internal/queue"
	"github.com/dlatjsrb112-dev/final3/internal/session"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	newClient, err := llm.NewClientFunc(cfg.LLM, nil)
	if err != nil {
		log.Error("init llm", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.LLM.APIKey == "" {
		log.Warn("model credential missing, summarize and chat will fail", slog.String("setting", cfg.LLM.CredentialEnv()))
	}

	sessions, err := session.New(ctx, cfg.Session, log)
	if err != nil {
		log.Error("init session store", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{
		log: log,
		cfg: cfg,
		fetcher: feed.New(&http.Client{Timeout: cfg.Feed.Timeout}, feed.Endpoint{
			BaseURL:  cfg.Feed.BaseURL,
			Language: cfg.Feed.Language,
			Region:   cfg.Feed.Region,
			Edition:  cfg.Feed.Edition,
		}, log),
		agent:    agent.New(cfg.LLM, newClient, log),
		sessions: sessions,
	}

	if cfg.ArchiveEnabled {
		esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, nil, log)
		if err != nil {
			log.Error("init elasticsearch", slog.Any("err", err))
			os.Exit(1)
		}
		srv.archive = esClient
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := queue.NewPublisher(queue.NewWriter(cfg.KafkaBrokers, cfg.DigestTopic), log)
		defer publisher.Close()
		srv.publisher = publisher
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      90 * time.Second,
	}

	go func() {
		log.Info("api server starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("provider", cfg.LLM.Provider),
			slog.String("session_backend", cfg.Session.Backend),
			slog.Bool("archive", cfg.ArchiveEnabled),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
