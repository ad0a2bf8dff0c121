// internal/knowledge/assistant.go
package knowledge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// Embedder derives a query embedding from raw instruction text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Resolution is the assistant's answer for one instruction. A null Package
// means no knowledge cleared the acceptance threshold; the orchestrator then
// plans step-by-step from screen state alone instead of failing.
type Resolution struct {
	Package string
	Matches []Match
	Hints   []LocatorHint
}

// Grounded reports whether the resolution carries a usable package identity.
func (r Resolution) Grounded() bool { return r.Package != "" }

// Assistant turns an instruction into an intent resolution: embed the text,
// retrieve the nearest documents, and adopt the top match when it clears the
// acceptance threshold. It is a pure read/derive stage; it never dispatches
// device actions and never writes to the store.
type Assistant struct {
	store    Searcher
	embedder Embedder
	cfg      config.KnowledgeConfig
	logger   *zap.Logger
}

func NewAssistant(store Searcher, embedder Embedder, cfg config.KnowledgeConfig, logger *zap.Logger) *Assistant {
	return &Assistant{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.Named("assistant"),
	}
}

// Resolve produces the intent resolution for one instruction. Store or
// embedding failures degrade to an ungrounded resolution; only cancellation
// propagates as an error.
func (a *Assistant) Resolve(ctx context.Context, instruction string) (Resolution, error) {
	embedding, err := a.embedder.Embed(ctx, instruction)
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		a.logger.Warn("Instruction embedding failed, planning without knowledge", zap.Error(err))
		return Resolution{}, nil
	}

	matches, err := a.store.Search(ctx, embedding, a.cfg.TopK)
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		if errors.Is(err, ErrStoreUnavailable) {
			a.logger.Warn("Knowledge store unavailable, planning without knowledge", zap.Error(err))
			return Resolution{}, nil
		}
		return Resolution{}, err
	}

	if len(matches) == 0 || matches[0].Similarity < a.cfg.AcceptThreshold {
		top := float32(0)
		if len(matches) > 0 {
			top = matches[0].Similarity
		}
		a.logger.Info("No knowledge match cleared the threshold",
			zap.Float32("top_similarity", top),
			zap.Float32("threshold", a.cfg.AcceptThreshold),
		)
		return Resolution{Matches: matches}, nil
	}

	resolved := matches[0].Document.Package
	res := Resolution{Package: resolved, Matches: matches}

	// Hints merge in document rank order, restricted to the resolved package
	// so a runner-up for a different app cannot splice foreign steps in.
	for _, m := range matches {
		if m.Similarity < a.cfg.AcceptThreshold || m.Document.Package != resolved {
			continue
		}
		res.Hints = append(res.Hints, m.Document.Hints...)
	}

	a.logger.Info("Instruction resolved against knowledge store",
		zap.String("package", resolved),
		zap.Int("matches", len(matches)),
		zap.Int("hints", len(res.Hints)),
	)
	return res, nil
}
