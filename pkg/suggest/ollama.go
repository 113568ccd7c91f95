package suggest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"coach/pkg/config"
)

type ollamaClient struct {
	client *api.Client
	model  string
}

func newOllamaClient(hostURL, model string) *ollamaClient {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse(config.DefaultOllamaHost)
	}
	return &ollamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

func (c *ollamaClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
		Options: map[string]any{
			"num_predict": maxTokens,
		},
	}

	var text string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		text += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama completion failed: %w", err)
	}
	return text, nil
}

func (c *ollamaClient) ModelName() string {
	return c.model
}
