package config

import (
	"fmt"
	"strings"
	"time"
)

// Common contains Elasticsearch parameters shared by every service that touches the digest archive.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// LLM selects and authenticates the hosted model provider.
// APIKey comes from the process environment only.
type LLM struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Feed configures the news search feed.
type Feed struct {
	BaseURL  string
	Language string
	Region   string
	Edition  string
	Limit    int
	Timeout  time.Duration
}

// Session configures where conversation state lives between requests.
type Session struct {
	Backend  string
	RedisURL string
	TTL      time.Duration
	Capacity int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	LLM            LLM
	Feed           Feed
	Session        Session
	BindAddr       string
	AllowedOrigins []string
	CookieSecure   bool
	ArchiveEnabled bool
	KafkaBrokers   []string
	DigestTopic    string
	DefaultPage    int
	MaxPage        int
}

// Worker holds configuration for the Kafka -> Elasticsearch digest worker.
type Worker struct {
	Common
	LLM              LLM
	Feed             Feed
	KafkaBrokers     []string
	KafkaTopic       string
	KafkaConsumer    string
	KeywordLimit     int
	KeywordMinLength int
	DedupeCapacity   int
	DedupeTTL        time.Duration
	BatchSize        int
	DigestTimeout    time.Duration
}

// Retention configures the cleanup job.
type Retention struct {
	Common
	Schedule  string
	MaxAge    time.Duration
	BatchSize int
}

// Bot configures the Telegram front-end.
type Bot struct {
	LLM           LLM
	Feed          Feed
	Session       Session
	TelegramToken string
	PollTimeout   int
	ReplyTimeout  time.Duration
}

// LoadAPI builds an API config from the environment and the optional config file.
func LoadAPI() (*API, error) {
	e, err := newEnv()
	if err != nil {
		return nil, err
	}

	llm, err := e.llm()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:         e.common(),
		LLM:            llm,
		Feed:           e.feed(),
		Session:        e.session(),
		BindAddr:       e.str("API_BIND_ADDR", "0.0.0.0:8080"),
		AllowedOrigins: splitAndTrim(e.str("API_ALLOWED_ORIGINS", "*")),
		CookieSecure:   e.bool("SESSION_COOKIE_SECURE", false),
		ArchiveEnabled: e.bool("ARCHIVE_ENABLED", false),
		KafkaBrokers:   splitAndTrim(e.str("KAFKA_BROKERS", "")),
		DigestTopic:    e.str("KAFKA_TOPIC", "digest_requests"),
		DefaultPage:    e.int("API_PAGE_SIZE", 20),
		MaxPage:        e.int("API_MAX_PAGE_SIZE", 100),
	}

	if err := c.Feed.validate(); err != nil {
		return nil, err
	}
	if err := c.Session.validate(); err != nil {
		return nil, err
	}
	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadWorker builds a Worker config from the environment and the optional config file.
func LoadWorker() (*Worker, error) {
	e, err := newEnv()
	if err != nil {
		return nil, err
	}

	llm, err := e.llm()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:           e.common(),
		LLM:              llm,
		Feed:             e.feed(),
		KafkaBrokers:     splitAndTrim(e.str("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:       e.str("KAFKA_TOPIC", "digest_requests"),
		KafkaConsumer:    e.str("KAFKA_CONSUMER_GROUP", "digest-worker"),
		KeywordLimit:     e.int("WORKER_KEYWORD_LIMIT", 8),
		KeywordMinLength: e.int("WORKER_KEYWORD_MIN_LEN", 2),
		DedupeCapacity:   e.int("WORKER_DEDUPE_CAPACITY", 5000),
		DedupeTTL:        e.duration("WORKER_DEDUPE_TTL", "1h"),
		BatchSize:        e.int("WORKER_BATCH_SIZE", 10),
		DigestTimeout:    e.duration("WORKER_DIGEST_TIMEOUT", "2m"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if err := c.Feed.validate(); err != nil {
		return nil, err
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.KeywordLimit <= 0 {
		return nil, fmt.Errorf("WORKER_KEYWORD_LIMIT must be positive")
	}
	if c.KeywordMinLength < 0 {
		return nil, fmt.Errorf("WORKER_KEYWORD_MIN_LEN cannot be negative")
	}

	return c, nil
}

// LoadRetention builds a Retention config from the environment and the optional config file.
func LoadRetention() (*Retention, error) {
	e, err := newEnv()
	if err != nil {
		return nil, err
	}

	c := &Retention{
		Common:    e.common(),
		Schedule:  e.str("RETENTION_SCHEDULE", "@every 24h"),
		MaxAge:    e.duration("RETENTION_MAX_AGE", "720h"),
		BatchSize: e.int("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if strings.TrimSpace(c.Schedule) == "" {
		return nil, fmt.Errorf("RETENTION_SCHEDULE cannot be empty")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

// LoadBot builds a Bot config from the environment and the optional config file.
func LoadBot() (*Bot, error) {
	e, err := newEnv()
	if err != nil {
		return nil, err
	}

	llm, err := e.llm()
	if err != nil {
		return nil, err
	}

	c := &Bot{
		LLM:           llm,
		Feed:          e.feed(),
		Session:       e.session(),
		TelegramToken: e.secret("TELEGRAM_BOT_TOKEN"),
		PollTimeout:   e.int("TELEGRAM_POLL_TIMEOUT", 60),
		ReplyTimeout:  e.duration("BOT_REPLY_TIMEOUT", "90s"),
	}

	if c.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if err := c.Feed.validate(); err != nil {
		return nil, err
	}
	if err := c.Session.validate(); err != nil {
		return nil, err
	}
	if c.PollTimeout <= 0 {
		return nil, fmt.Errorf("TELEGRAM_POLL_TIMEOUT must be positive")
	}

	return c, nil
}

func (f Feed) validate() error {
	if f.Limit <= 0 {
		return fmt.Errorf("FEED_LIMIT must be positive")
	}
	if f.BaseURL == "" {
		return fmt.Errorf("FEED_BASE_URL cannot be empty")
	}
	return nil
}

func (s Session) validate() error {
	switch s.Backend {
	case "memory":
		if s.Capacity <= 0 {
			return fmt.Errorf("SESSION_CAPACITY must be positive")
		}
	case "redis":
		if s.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND %q", s.Backend)
	}
	if s.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// CredentialEnv names the environment variable that holds the provider credential.
func (c LLM) CredentialEnv() string {
	switch c.Provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}
