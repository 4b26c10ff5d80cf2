package oracle

import (
	"fmt"

	"selfforge/internal/config"
)

// NewClient builds the configured provider client from the unified config.
func NewClient(cfg *config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.GetLLMTimeout(),
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}), nil
	case "gemini":
		return NewGeminiClientWithConfig(GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.GetLLMTimeout(),
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider: %s", cfg.LLM.Provider)
	}
}
