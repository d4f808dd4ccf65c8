package llm

import (
	"context"
	"fmt"

	"vibe-planner/internal/config"
	"vibe-planner/internal/shared"
)

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// NewTextGenerator builds the generator for the configured provider.
func NewTextGenerator(ctx context.Context, cfg *config.Config) (TextGenerator, error) {
	if err := cfg.LLMCredentialsError(); err != nil {
		return nil, err
	}
	switch cfg.LLMProvider {
	case config.ProviderGroq:
		return NewGroqClient(cfg.GroqAPIKey, cfg.GroqModel), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLMProvider)
}
