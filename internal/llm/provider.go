package llm

import (
	"context"
	"fmt"

	"github.com/atera92/mensetsu-app/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel builds the generation model for cfg. Gemini is configured with
// content blocking disabled for every harm category so that interview
// answers are never silently dropped.
func NewModel(ctx context.Context, cfg config.GenerationConfig) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		model, err := googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
			googleai.WithHarmThreshold(googleai.HarmBlockNone),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini: %w", err)
		}
		return model, nil

	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
	}
}
