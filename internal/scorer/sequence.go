package scorer

import (
	"context"

	"github.com/hankooktire/control-plane/internal/domain"
)

// Predictor is the narrow interface a sequence-prediction model must
// satisfy: given the chronological history of one channel, predict its
// next value. Trained weights are an external, optional concern
// .
type Predictor interface {
	Predict(history []float64) (predicted float64, ready bool)
}

// SequencePredictionScorer predicts the next value for channel and reports
// |predicted - actual| normalized by an expected-noise estimate
// . Reports unavailable rather
// than erroring when no trained weights are loaded.
type SequencePredictionScorer struct {
	predictor     Predictor
	channel       string
	expectedNoise float64
}

// NewSequencePredictionScorer wraps predictor, scoring channel against an
// expected per-step noise magnitude used to normalize prediction error.
func NewSequencePredictionScorer(predictor Predictor, channel string, expectedNoise float64) *SequencePredictionScorer {
	return &SequencePredictionScorer{predictor: predictor, channel: channel, expectedNoise: expectedNoise}
}

func (s *SequencePredictionScorer) Kind() domain.ScoreKind { return domain.ScoreKindSequencePrediction }

func (s *SequencePredictionScorer) Score(ctx context.Context, frame domain.FeatureFrame) domain.Score {
	if s.predictor == nil || len(frame.Readings) < 2 {
		return domain.Score{Kind: s.Kind(), DeviceID: frame.DeviceID, Available: false}
	}

	history := make([]float64, 0, len(frame.Readings)-1)
	for _, r := range frame.Readings[:len(frame.Readings)-1] {
		if v, ok := r.Channels[s.channel]; ok {
			history = append(history, v)
		}
	}
	actual, hasActual := frame.Readings[len(frame.Readings)-1].Channels[s.channel]
	if len(history) == 0 || !hasActual {
		return domain.Score{Kind: s.Kind(), DeviceID: frame.DeviceID, Available: false}
	}

	predicted, ready := s.predictor.Predict(history)
	if !ready {
		return domain.Score{Kind: s.Kind(), DeviceID: frame.DeviceID, Available: false}
	}

	noise := s.expectedNoise
	if noise == 0 {
		noise = 1
	}
	normalizedError := abs(predicted-actual) / noise

	severity := domain.SeverityInfo
	switch {
	case normalizedError >= 3:
		severity = domain.SeverityError
	case normalizedError >= 2:
		severity = domain.SeverityWarning
	}

	return domain.Score{
		Kind: s.Kind(), DeviceID: frame.DeviceID, Available: true,
		Value: normalizedError, Confidence: clamp(normalizedError/3, 0, 1), SeverityHint: severity,
		Diagnostics: map[string]interface{}{"predicted": predicted, "actual": actual, "channel": s.channel},
	}
}
