package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dlatjsrb112-dev/final3/internal/agent"
	"github.com/dlatjsrb112-dev/final3/internal/config"
	"github.com/dlatjsrb112-dev/final3/internal/feed"
	"github.com/dlatjsrb112-dev/final3/internal/llm"
	"github.com/dlatjsrb112-dev/final3/internal/logger"
	"github.com/dlatjsrb112-dev/final3/internal/session"
	"github.com/dlatjsrb112-dev/final3/internal/telegram"
)

func main() {
	log := logger.New("bot")
	cfg, err := config.LoadBot()
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

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Error("init telegram", slog.Any("err", err))
		os.Exit(1)
	}

	fetcher := feed.New(&http.Client{Timeout: cfg.Feed.Timeout}, feed.Endpoint{
		BaseURL:  cfg.Feed.BaseURL,
		Language: cfg.Feed.Language,
		Region:   cfg.Feed.Region,
		Edition:  cfg.Feed.Edition,
	}, log)

	handler := telegram.NewHandler(
		telegram.NewBotSender(api),
		fetcher,
		agent.New(cfg.LLM, newClient, log),
		sessions,
		cfg.Feed.Limit,
		cfg.ReplyTimeout,
		log,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.PollTimeout
	updates := api.GetUpdatesChan(u)

	log.Info("bot started", slog.String("username", api.Self.UserName), slog.String("provider", cfg.LLM.Provider))

	// Chats are served concurrently; the handler serializes updates within one chat.
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			api.StopReceivingUpdates()
			wg.Wait()
			return
		case update, ok := <-updates:
			if !ok {
				wg.Wait()
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handler.HandleUpdate(ctx, update)
			}()
		}
	}
}
