package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at an optional YAML settings file.
// The file is a flat map keyed like the environment; real environment values win.
const FileEnv = "NEWSBOT_CONFIG"

// Credentials are read from the process environment only, never from the settings file.
var secretKeys = map[string]struct{}{
	"GEMINI_API_KEY":     {},
	"OPENAI_API_KEY":     {},
	"ANTHROPIC_API_KEY":  {},
	"TELEGRAM_BOT_TOKEN": {},
}

var dotenvOnce sync.Once

type env struct {
	file map[string]string
}

func newEnv() (*env, error) {
	// .env is a local-development convenience; a missing file is fine.
	dotenvOnce.Do(func() { _ = godotenv.Load() })

	e := &env{file: map[string]string{}}
	path := strings.TrimSpace(os.Getenv(FileEnv))
	if path == "" {
		return e, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	for key, value := range raw {
		key = strings.ToUpper(strings.TrimSpace(key))
		if _, secret := secretKeys[key]; secret {
			continue
		}
		if value == nil {
			continue
		}
		e.file[key] = fmt.Sprint(value)
	}

	return e, nil
}

func (e *env) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	if v, ok := e.file[key]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (e *env) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return fallback
}

func (e *env) secret(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (e *env) int(key string, fallback int) int {
	if v, ok := e.lookup(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e *env) bool(key string, fallback bool) bool {
	if v, ok := e.lookup(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e *env) duration(key, fallback string) time.Duration {
	raw := e.str(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func (e *env) common() Common {
	return Common{
		ElasticsearchAddr:  e.str("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: e.str("ELASTICSEARCH_INDEX", "digests"),
	}
}

func (e *env) llm() (LLM, error) {
	c := LLM{
		Provider: strings.ToLower(e.str("LLM_PROVIDER", "gemini")),
		BaseURL:  e.str("LLM_BASE_URL", ""),
	}

	switch c.Provider {
	case "gemini":
		c.Model = e.str("LLM_MODEL", "gemini-3-flash-preview")
		c.APIKey = e.secret("GEMINI_API_KEY")
	case "openai":
		c.Model = e.str("LLM_MODEL", "gpt-4o-mini")
		c.APIKey = e.secret("OPENAI_API_KEY")
	case "anthropic":
		c.Model = e.str("LLM_MODEL", "claude-haiku-4-5")
		c.APIKey = e.secret("ANTHROPIC_API_KEY")
	case "mock":
		// Local runs without any provider account.
		c.Model = "mock"
		c.APIKey = "mock"
	default:
		return LLM{}, fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}

	return c, nil
}

func (e *env) feed() Feed {
	return Feed{
		BaseURL:  e.str("FEED_BASE_URL", "https://news.google.com/rss/search"),
		Language: e.str("FEED_LANGUAGE", "ko"),
		Region:   e.str("FEED_REGION", "KR"),
		Edition:  e.str("FEED_EDITION", "KR:ko"),
		Limit:    e.int("FEED_LIMIT", 10),
		Timeout:  e.duration("FEED_TIMEOUT", "15s"),
	}
}

func (e *env) session() Session {
	return Session{
		Backend:  strings.ToLower(e.str("SESSION_BACKEND", "memory")),
		RedisURL: e.str("REDIS_URL", ""),
		TTL:      e.duration("SESSION_TTL", "24h"),
		Capacity: e.int("SESSION_CAPACITY", 10000),
	}
}
