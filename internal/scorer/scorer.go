// Package scorer implements four Scorer adapters: a declarative rule
// scorer, a statistical EWMA/trend scorer, a pluggable
// outlier-tree scorer, and a sequence-prediction scorer. Every adapter is
// pure with respect to the supplied frame; any internal state (EWMAs,
// loaded model blobs) is private and per-device.
package scorer

import (
	"context"

	"github.com/hankooktire/control-plane/internal/domain"
)

// Scorer maps a feature frame to a Score. Implementations must not mutate
// the frame and must be safe for concurrent use across devices.
type Scorer interface {
	Kind() domain.ScoreKind
	Score(ctx context.Context, frame domain.FeatureFrame) domain.Score
}

// Registry fans a frame out to every registered scorer and collects the
// results, skipping unavailable ones.
type Registry struct {
	scorers []Scorer
}

// NewRegistry builds a registry over scorers.
func NewRegistry(scorers ...Scorer) *Registry {
	return &Registry{scorers: scorers}
}

// ScoreAll runs every registered scorer against frame and returns the
// available scores (an unavailable sequence-prediction scorer, for
// instance, is simply omitted, not an error).
func (r *Registry) ScoreAll(ctx context.Context, frame domain.FeatureFrame) []domain.Score {
	out := make([]domain.Score, 0, len(r.scorers))
	for _, s := range r.scorers {
		score := s.Score(ctx, frame)
		if score.Available {
			out = append(out, score)
		}
	}
	return out
}
