package suggest

import (
	"context"
	"fmt"

	"coach/pkg/config"
)

// Client is the minimal completion surface the suggester needs from a
// model provider.
type Client interface {
	// Complete sends a single-turn prompt and returns the model's text.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)

	// ModelName returns the model this client targets.
	ModelName() string
}

// NewClient builds a provider client for the given model name. The
// provider is inferred from the model name the same way config resolves
// it: claude models go to Anthropic, gpt/o-series to OpenAI, and
// anything tagged like an Ollama model (name:tag) to the local Ollama
// host.
func NewClient(model, ollamaHost string) (Client, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, err
	}

	switch provider {
	case config.ProviderAnthropic:
		key, err := config.GetSecret(config.SecretAnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("no Anthropic API key configured (run `coach init` or set %s): %w", config.SecretAnthropicAPIKey, err)
		}
		return newAnthropicClient(key, model), nil
	case config.ProviderOpenAI:
		key, err := config.GetSecret(config.SecretOpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("no OpenAI API key configured (run `coach init` or set %s): %w", config.SecretOpenAIAPIKey, err)
		}
		return newOpenAIClient(key, model), nil
	case config.ProviderOllama:
		if ollamaHost == "" {
			ollamaHost = config.DefaultOllamaHost
		}
		return newOllamaClient(ollamaHost, model), nil
	default:
		return nil, fmt.Errorf("no client for provider %s", provider)
	}
}
