package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/franckalain/glowscan/internal/models"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIFactory creates completers for OpenAI compatible endpoints
type OpenAIFactory struct {
	config Config
}

func NewOpenAIFactory(cfg Config) *OpenAIFactory {
	return &OpenAIFactory{config: cfg}
}

func (f *OpenAIFactory) CreateCompleter(context.Context) (Completer, error) {
	return NewOpenAICompleter(f.config)
}

// OpenAICompleter implements Completer with the chat completions API
type OpenAICompleter struct {
	client openai.Client
	model  string
}

func NewOpenAICompleter(cfg Config) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai needs an api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAICompleter{client: openai.NewClient(opts...), model: model}, nil
}

func (c *OpenAICompleter) params(system string, messages []models.Message) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)},
	}
	for _, m := range messages {
		if m.Sender == models.SenderAssistant {
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Text))
		} else {
			params.Messages = append(params.Messages, openai.UserMessage(m.Text))
		}
	}
	return params
}

func (c *OpenAICompleter) Complete(ctx context.Context, system string, messages []models.Message) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(system, messages))
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response generated")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
