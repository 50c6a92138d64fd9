package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/franckalain/glowscan/internal/models"
)

const defaultVertexModel = "gemini-1.5-flash"

// VertexFactory creates Gemini completers on Vertex AI
type VertexFactory struct {
	config Config
}

func NewVertexFactory(cfg Config) *VertexFactory {
	return &VertexFactory{config: cfg}
}

func (f *VertexFactory) CreateCompleter(ctx context.Context) (Completer, error) {
	return NewVertexCompleter(ctx, f.config)
}

// VertexCompleter implements Completer with Gemini on Vertex AI
type VertexCompleter struct {
	client *genai.Client
	model  string
}

func NewVertexCompleter(ctx context.Context, cfg Config) (*VertexCompleter, error) {
	if cfg.ProjectID == "" || cfg.Location == "" {
		return nil, errors.New("vertex ai needs a project id and location")
	}

	opts := []option.ClientOption{}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultVertexModel
	}
	return &VertexCompleter{client: client, model: model}, nil
}

func (c *VertexCompleter) Complete(ctx context.Context, system string, messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages to complete")
	}

	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	session := model.StartChat()
	last := messages[len(messages)-1]
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Sender == models.SenderAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Text)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(last.Text))
	if err != nil {
		return "", fmt.Errorf("failed to call ai: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response generated")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("no content in response")
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *VertexCompleter) Close() error {
	return c.client.Close()
}
