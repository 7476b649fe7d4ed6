package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/config"
)

// NewClientFromConfig creates the model client selected by cfg.Provider.
func NewClientFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (Client, error) {
	if !cfg.IsAvailable() {
		return nil, fmt.Errorf("llm is not configured")
	}

	clientCfg := &Config{
		Endpoint:    cfg.Endpoint,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		client, err := NewOpenAIClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	case config.LLMProviderAnthropic:
		// The OpenAI default endpoint does not apply to Anthropic.
		if clientCfg.Endpoint == config.DefaultOpenAIEndpoint {
			clientCfg.Endpoint = ""
		}
		client, err := NewAnthropicClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
