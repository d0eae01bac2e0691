package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI generates text with the chat completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI generator. SDK retries are off: every call is a single attempt.
func NewOpenAI(apiKey, model, baseURL string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OpenAI) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		perr := &ProviderError{Provider: "openai", Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			perr.Status = apiErr.StatusCode
		}
		return "", perr
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return rawResponse(resp), nil
	}
	return resp.Choices[0].Message.Content, nil
}
