package scorer

import (
	"context"

	"github.com/hankooktire/control-plane/internal/domain"
)

// Model is the narrow interface an outlier-tree implementation (isolation
// forest, local outlier factor, ...) must satisfy. The algorithm choice is
// pluggable; this core never trains one — a Model is loaded, and
// optionally swapped between ticks, by an external capability.
type Model interface {
	// DecisionMargin returns a signed margin for features (lower ⇒ more
	// anomalous) and whether the model is ready to score.
	DecisionMargin(features []float64) (margin float64, ready bool)
}

// FeatureChannels is the fixed channel order Models are trained against.
var FeatureChannels = []string{
	domain.ChannelTemperature,
	domain.ChannelHumidity,
	domain.ChannelPressure,
	domain.ChannelAccelerationMag,
	domain.ChannelBatteryVoltage,
	domain.ChannelSignalStrength,
}

// OutlierTreeScorer consumes a frame's last row through a pluggable Model
// and reports a normalized signed margin .
type OutlierTreeScorer struct {
	model Model
}

// NewOutlierTreeScorer wraps model. A nil model makes the scorer always
// report unavailable, matching "remains usable if absent" semantics shared
// with the sequence-prediction scorer.
func NewOutlierTreeScorer(model Model) *OutlierTreeScorer {
	return &OutlierTreeScorer{model: model}
}

func (s *OutlierTreeScorer) Kind() domain.ScoreKind { return domain.ScoreKindOutlierTree }

func (s *OutlierTreeScorer) Score(ctx context.Context, frame domain.FeatureFrame) domain.Score {
	latest, ok := frame.Latest()
	if !ok || s.model == nil {
		return domain.Score{Kind: s.Kind(), DeviceID: frame.DeviceID, Available: false}
	}

	features := make([]float64, len(FeatureChannels))
	for i, ch := range FeatureChannels {
		features[i] = latest.Channels[ch]
	}

	margin, ready := s.model.DecisionMargin(features)
	if !ready {
		return domain.Score{Kind: s.Kind(), DeviceID: frame.DeviceID, Available: false}
	}

	severity := domain.SeverityInfo
	switch {
	case margin < -0.5:
		severity = domain.SeverityCritical
	case margin < -0.2:
		severity = domain.SeverityError
	case margin < 0:
		severity = domain.SeverityWarning
	}

	return domain.Score{
		Kind: s.Kind(), DeviceID: frame.DeviceID, Available: true,
		Value: margin, Confidence: clamp(-margin, 0, 1), SeverityHint: severity,
		Diagnostics: map[string]interface{}{"margin": margin},
	}
}
