package chat

import (
	"context"
	"fmt"

	"github.com/franckalain/glowscan/internal/models"
)

// Completer produces the assistant reply for a conversation. messages ends
// with the user's latest message.
type Completer interface {
	Complete(ctx context.Context, system string, messages []models.Message) (string, error)
}

// Config selects and configures a completion backend
type Config struct {
	Type string // google or openai

	// Vertex AI
	ProjectID       string
	Location        string
	CredentialsFile string

	// OpenAI compatible
	APIKey  string
	BaseURL string

	Model string
}

// CompleterFactory creates a completer for one backend
type CompleterFactory interface {
	CreateCompleter(ctx context.Context) (Completer, error)
}

// NewCompleter creates the completer named by cfg.Type
func NewCompleter(ctx context.Context, cfg Config) (Completer, error) {
	var factory CompleterFactory
	switch cfg.Type {
	case "google":
		factory = NewVertexFactory(cfg)
	case "openai":
		factory = NewOpenAIFactory(cfg)
	default:
		return nil, fmt.Errorf("unsupported chat type: %s", cfg.Type)
	}
	return factory.CreateCompleter(ctx)
}
