package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/dlatjsrb112-dev/final3/internal/agent"
	"github.com/dlatjsrb112-dev/final3/internal/cache"
	"github.com/dlatjsrb112-dev/final3/internal/config"
	"github.com/dlatjsrb112-dev/final3/internal/elasticsearch"
	"github.com/dlatjsrb112-dev/final3/internal/feed"
	"github.com/dlatjsrb112-dev/final3/internal/llm"
	"github.com/dlatjsrb112-dev/final3/internal/logger"
	"github.com/dlatjsrb112-dev/final3/internal/models"
	"github.com/dlatjsrb112-dev/final3/internal/processing"
	"github.com/dlatjsrb112-dev/final3/internal/queue"
)

const (
	dlqAttempts = 5
	dlqBackoff  = time.Second
)

type articleFetcher interface {
	Fetch(ctx context.Context, keyword string, limit int) ([]models.Article, error)
}

type summarizer interface {
	Summarize(ctx context.Context, keyword string, articles []models.Article) (string, error)
	Model() string
}

type digestIndexer interface {
	IndexDigest(ctx context.Context, d models.Digest) error
}

type pipeline struct {
	log     *slog.Logger
	fetcher articleFetcher
	agent   summarizer
	index   digestIndexer
	seen    *cache.Seen
	cfg     *config.Worker
	now     func() time.Time
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, nil, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	newClient, err := llm.NewClientFunc(cfg.LLM, nil)
	if err != nil {
		log.Error("init llm", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.LLM.APIKey == "" {
		log.Warn("model credential missing, every digest will fail", slog.String("setting", cfg.LLM.CredentialEnv()))
	}

	p := &pipeline{
		log: log,
		fetcher: feed.New(&http.Client{Timeout: cfg.Feed.Timeout}, feed.Endpoint{
			BaseURL:  cfg.Feed.BaseURL,
			Language: cfg.Feed.Language,
			Region:   cfg.Feed.Region,
			Edition:  cfg.Feed.Edition,
		}, log),
		agent: agent.New(cfg.LLM, newClient, log),
		index: esClient,
		seen:  cache.NewSeen(cfg.DedupeCapacity, cfg.DedupeTTL),
		cfg:   cfg,
		now:   time.Now,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := queue.NewWriter(cfg.KafkaBrokers, dlqTopic)
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
		slog.String("model", cfg.LLM.Model),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := p.processMessage(ctx, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			dlqErr := queue.WriteWithBackoff(ctx, dlqWriter, queue.DeadLetter(msg, err, time.Now()), dlqAttempts, dlqBackoff, log)
			if errors.Is(dlqErr, context.Canceled) {
				log.Info("context canceled during DLQ retry")
				return
			}
			// Without a DLQ copy the offset stays uncommitted and the message is redelivered.
			if dlqErr != nil {
				log.Error("DLQ write exhausted retries",
					slog.Any("err", dlqErr),
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
			log.Info("message sent to DLQ", slog.Int("partition", msg.Partition), slog.Int64("offset", msg.Offset))
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

func (p *pipeline) processMessage(ctx context.Context, msg kafka.Message) error {
	req, err := queue.DecodeDigestRequest(msg.Value)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DigestTimeout)
	defer cancel()

	limit := req.Limit
	if limit <= 0 || limit > p.cfg.Feed.Limit {
		limit = p.cfg.Feed.Limit
	}

	articles, err := p.fetcher.Fetch(ctx, req.Keyword, limit)
	if err != nil {
		return fmt.Errorf("fetch articles: %w", err)
	}
	if len(articles) == 0 {
		p.log.Info("no articles for keyword, skipping", slog.String("keyword", req.Keyword))
		return nil
	}

	ts := req.RequestedAt
	if ts.IsZero() {
		ts = p.now()
	}
	ts = ts.UTC()

	links := make([]string, 0, len(articles))
	for _, a := range articles {
		links = append(links, a.Link)
	}

	id := processing.BuildDigestID(req.Keyword, links, ts)
	if id == "" {
		id = uuid.NewString()
	}

	if p.seen.IsSeen(id) {
		p.log.Debug("duplicate digest", slog.String("id", id))
		return nil
	}

	summary, err := p.agent.Summarize(ctx, req.Keyword, articles)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	d := models.Digest{
		ID:        id,
		Keyword:   req.Keyword,
		Summary:   summary,
		Articles:  articles,
		Keywords:  processing.ExtractKeywords(summary, p.cfg.KeywordLimit, p.cfg.KeywordMinLength),
		Model:     p.agent.Model(),
		CreatedAt: p.now().UTC(),
	}

	if err := p.index.IndexDigest(ctx, d); err != nil {
		return fmt.Errorf("index digest: %w", err)
	}

	p.seen.MarkSeen(id)
	p.log.Info("indexed digest",
		slog.String("id", d.ID),
		slog.String("keyword", d.Keyword),
		slog.Int("articles", len(articles)),
	)
	return nil
}
