// -- internal/llmclient/factory.go --
package llmclient

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// NewClient is a factory function that assembles the tier router from the
// agent configuration. Model entries come from the config's models map; a
// model named there but not described gets a bare Gemini entry so that a
// shared API key is enough to get going.
func NewClient(cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fastCfg, err := resolveModel(cfg.LLM, cfg.LLM.DefaultFastModel)
	if err != nil {
		return nil, err
	}
	powerfulCfg, err := resolveModel(cfg.LLM, cfg.LLM.DefaultPowerfulModel)
	if err != nil {
		return nil, err
	}

	fastClient, err := newProviderClient(fastCfg, cfg.LLM.EmbeddingModel, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}

	var powerfulClient schemas.LLMClient
	if powerfulCfg.Model == fastCfg.Model && powerfulCfg.Endpoint == fastCfg.Endpoint {
		powerfulClient = fastClient
	} else {
		powerfulClient, err = newProviderClient(powerfulCfg, cfg.LLM.EmbeddingModel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
		}
	}

	// One request budget shared across tiers and embedding calls.
	limit := rate.Inf
	if cfg.RequestsPerMin > 0 {
		limit = rate.Limit(cfg.RequestsPerMin / 60.0)
	}
	limiter := rate.NewLimiter(limit, 1)

	return NewLLMRouter(logger, fastClient, powerfulClient, fastClient, limiter)
}

// resolveModel finds the configuration for a model name, synthesizing a
// default Gemini entry when the models map has no explicit one.
func resolveModel(cfg config.LLMRouterConfig, name string) (config.LLMModelConfig, error) {
	if name == "" {
		return config.LLMModelConfig{}, fmt.Errorf("no model name configured")
	}
	if mc, ok := cfg.Models[name]; ok {
		if mc.Model == "" {
			mc.Model = name
		}
		return mc, nil
	}
	// Fall back to a bare entry; the API key must then arrive via the
	// DROIDPILOT_GEMINI_API_KEY binding in the config package.
	return config.LLMModelConfig{Provider: config.ProviderGemini, Model: name}, nil
}

func newProviderClient(mc config.LLMModelConfig, embedModel string, logger *zap.Logger) (schemas.LLMClient, error) {
	provider := mc.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	switch provider {
	case config.ProviderGemini:
		return NewGeminiClient(mc, embedModel, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", provider, config.ProviderGemini)
	}
}
