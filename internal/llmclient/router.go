// internal/llmclient/router.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// LLMRouter implements the schemas.LLMClient interface and routes requests to
// a tier-specific client. All calls pass through a shared rate limiter so that
// the fast and powerful tiers draw from one request budget.
type LLMRouter struct {
	logger   *zap.Logger
	clients  map[schemas.ModelTier]schemas.LLMClient
	embedder schemas.LLMClient
	limiter  *rate.Limiter
}

// NewLLMRouter creates a new router with the specified clients for each tier.
// The embedder may be the same client instance as a tier client.
func NewLLMRouter(logger *zap.Logger, fastClient, powerfulClient, embedder schemas.LLMClient, limiter *rate.Limiter) (*LLMRouter, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	return &LLMRouter{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
		embedder: embedder,
		limiter:  limiter,
	}, nil
}

// Generate selects the appropriate client based on the request's Tier.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful // Default to the powerful tier if unspecified.
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}

// Embed forwards the request to the embedding-capable client.
func (r *LLMRouter) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("no embedding client configured")
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait aborted: %w", err)
	}
	return r.embedder.Embed(ctx, text)
}

// Close shuts down every distinct underlying client once.
func (r *LLMRouter) Close() error {
	seen := make(map[schemas.LLMClient]bool)
	var firstErr error
	for _, c := range r.clients {
		if c == nil || seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.embedder != nil && !seen[r.embedder] {
		if err := r.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
