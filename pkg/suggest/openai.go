package suggest

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"coach/pkg/config"
)

type openaiClient struct {
	client openai.Client
	model  string
}

func newOpenAIClient(apiKey, model string) *openaiClient {
	return &openaiClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *openaiClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if info, ok := config.KnownModels[c.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI API")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openaiClient) ModelName() string {
	return c.model
}
