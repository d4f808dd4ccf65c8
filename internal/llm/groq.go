package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vibe-planner/internal/shared"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// GroqClient talks to Groq through its OpenAI-compatible API.
type GroqClient struct {
	client *openai.Client
	model  string
}

// NewGroqClient creates a new Groq API client.
func NewGroqClient(apiKey, model string) *GroqClient {
	return newOpenAICompatibleClient(apiKey, groqBaseURL, model)
}

func newOpenAICompatibleClient(apiKey, baseURL, model string) *GroqClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	return &GroqClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// GenerateContent sends a prompt to the Groq model and returns the generated text.
func (c *GroqClient) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.9,
	})
	if err != nil {
		return ContentResponse{}, fmt.Errorf("groq api error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return ContentResponse{}, errors.New("no content generated")
	}

	return ContentResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: shared.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Model:            resp.Model,
		},
	}, nil
}
