package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/dlatjsrb112-dev/final3/internal/config"
	"github.com/dlatjsrb112-dev/final3/internal/llm"
	"github.com/dlatjsrb112-dev/final3/internal/logger"
	"github.com/dlatjsrb112-dev/final3/internal/models"
)

// NoArticlesMessage is returned by Summarize for an empty article list.
const NoArticlesMessage = "수집된 뉴스가 없습니다."

const chatFailurePrefix = "응답 생성 중 오류가 발생했습니다: "

// ErrMissingCredential matches every ConfigurationError via errors.Is.
var ErrMissingCredential = errors.New("model provider credential is not configured")

// ConfigurationError means the provider credential is absent. No request is attempted.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not set; provide it through the process environment", e.Setting)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrMissingCredential
}

// Agent summarizes articles and answers follow-up questions grounded in a summary.
// It holds no conversation state; callers pass everything in.
type Agent struct {
	apiKey        string
	credentialEnv string
	model         string
	newClient     llm.ClientFunc
	log           *slog.Logger
}

// New creates an Agent. The credential is taken from cfg once; an empty credential is not an
// error here, every call fails closed instead.
func New(cfg config.LLM, newClient llm.ClientFunc, log *slog.Logger) *Agent {
	if log == nil {
		log = logger.Discard()
	}
	return &Agent{
		apiKey:        cfg.APIKey,
		credentialEnv: cfg.CredentialEnv(),
		model:         cfg.Model,
		newClient:     newClient,
		log:           log,
	}
}

// Model reports the configured model name.
func (a *Agent) Model() string {
	return a.model
}

func (a *Agent) client() (llm.Generator, error) {
	if a.apiKey == "" {
		return nil, &ConfigurationError{Setting: a.credentialEnv}
	}
	gen, err := a.newClient(a.apiKey)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	return gen, nil
}

// Summarize asks the model for a short synthesis of articles.
// Provider failures are returned unchanged; there is exactly one attempt.
func (a *Agent) Summarize(ctx context.Context, keyword string, articles []models.Article) (string, error) {
	if len(articles) == 0 {
		return NoArticlesMessage, nil
	}

	gen, err := a.client()
	if err != nil {
		return "", err
	}

	summary, err := gen.GenerateText(ctx, SummaryPrompt(keyword, articles))
	if err != nil {
		a.log.Warn("summarize failed", slog.String("keyword", keyword), slog.Any("err", err))
		return "", err
	}

	a.log.Info("summary generated",
		slog.String("keyword", keyword),
		slog.Int("articles", len(articles)),
		slog.Int("chars", utf8.RuneCountInString(summary)),
	)
	return summary, nil
}

// Chat answers message using only summary and the conversation so far. history is not modified.
// A provider failure does not surface as an error: the reply text describes it instead.
func (a *Agent) Chat(ctx context.Context, message, keyword, summary string, history []models.ChatTurn) (string, error) {
	gen, err := a.client()
	if err != nil {
		return "", err
	}

	reply, err := gen.GenerateText(ctx, ChatPrompt(message, keyword, summary, history))
	if err != nil {
		a.log.Warn("chat reply failed", slog.String("keyword", keyword), slog.Any("err", err))
		return FailureReply(err), nil
	}

	a.log.Debug("chat reply generated",
		slog.String("keyword", keyword),
		slog.Int("turns", len(history)),
	)
	return reply, nil
}

// FailureReply renders a provider error as a chat reply.
func FailureReply(err error) string {
	return chatFailurePrefix + err.Error()
}
