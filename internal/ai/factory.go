package ai

import (
	"fmt"

	"redmansion/internal/config"
)

// NewGrader builds the grader selected by cfg.AIProvider. It returns
// ErrNoProvider for "none" or when the provider's key is missing.
func NewGrader(cfg *config.Config) (Grader, error) {
	switch cfg.AIProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY not set", ErrNoProvider)
		}
		return NewLLMGrader("anthropic", NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AIModel)), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrNoProvider)
		}
		return NewLLMGrader("openai", NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.AIModel)), nil
	case "", "none":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.AIProvider)
	}
}
