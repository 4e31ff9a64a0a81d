package ai

import (
	"context"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/config"
	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/infra/adapters/replicate"
)

// RegisterDefaults installs the factories for every backend with credentials
// in cfg. Backends without credentials stay unregistered and resolve to
// ErrUnknownProvider.
func RegisterDefaults(r *Router, cfg config.ProviderConfig, logger *zerolog.Logger) {
	r.Register("replicate", func(ctx context.Context) (adapter.ProviderHandle, error) {
		return replicate.NewClient(replicate.Options{
			Token:       cfg.ReplicateToken,
			BaseURL:     cfg.ReplicateBaseURL,
			Timeout:     cfg.HTTPTimeout,
			MaxRetries:  cfg.MaxRetries,
			BackoffBase: cfg.BackoffBase,
		}, logger)
	})
	if cfg.OpenAIKey != "" {
		r.Register("openai", func(ctx context.Context) (adapter.ProviderHandle, error) {
			return NewOpenAIAdapter(cfg.OpenAIKey, "", "", cfg.HTTPTimeout)
		})
	}
	if cfg.GeminiKey != "" {
		r.Register("gemini", func(ctx context.Context) (adapter.ProviderHandle, error) {
			return NewGeminiAdapter(ctx, cfg.GeminiKey, "", "", 1024)
		})
	}
}
