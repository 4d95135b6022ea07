package classifier

import (
	"fmt"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "openai", or "auto"

	// Gemini config
	GeminiAPIKey string

	// OpenAI config
	OpenAIAPIKey string
	OpenAIModel  string
}

// NewEmailClassifier creates an EmailClassifier based on the config.
// This is the factory function - switch AI provider by changing config.Provider.
func NewEmailClassifier(cfg Config) (EmailClassifier, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return NewGeminiClassifier(cfg.GeminiAPIKey), nil

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil

	default:
		// Auto: primary Gemini with OpenAI fallback when both keys are
		// present, otherwise whichever is configured.
		if cfg.GeminiAPIKey != "" && cfg.OpenAIAPIKey != "" {
			return NewFallbackClassifier(
				NewGeminiClassifier(cfg.GeminiAPIKey),
				NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.OpenAIModel),
			), nil
		}
		if cfg.GeminiAPIKey != "" {
			return NewGeminiClassifier(cfg.GeminiAPIKey), nil
		}
		if cfg.OpenAIAPIKey != "" {
			return NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
		}
		return nil, fmt.Errorf("no AI provider configured")
	}
}
