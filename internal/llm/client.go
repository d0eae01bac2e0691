package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/dlatjsrb112-dev/final3/internal/config"
)

// Generator turns one prompt into one completion.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ClientFunc builds a Generator authenticated with apiKey.
type ClientFunc func(apiKey string) (Generator, error)

// ProviderError reports a failed call to the hosted model.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s request failed (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewClientFunc selects the provider named in cfg. httpClient may be nil.
func NewClientFunc(cfg config.LLM, httpClient *http.Client) (ClientFunc, error) {
	switch cfg.Provider {
	case "gemini":
		return func(apiKey string) (Generator, error) {
			return NewGemini(apiKey, cfg.Model, cfg.BaseURL, httpClient), nil
		}, nil
	case "openai":
		return func(apiKey string) (Generator, error) {
			return NewOpenAI(apiKey, cfg.Model, cfg.BaseURL, httpClient), nil
		}, nil
	case "anthropic":
		return func(apiKey string) (Generator, error) {
			return NewAnthropic(apiKey, cfg.Model, cfg.BaseURL, httpClient), nil
		}, nil
	case "mock":
		return func(string) (Generator, error) {
			return NewMock(), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// rawResponse renders a provider response that carried no text.
func rawResponse(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
