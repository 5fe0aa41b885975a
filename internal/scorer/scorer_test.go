package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/hankooktire/control-plane/internal/domain"
)

func frameWithLatest(channels map[string]float64) domain.FeatureFrame {
	r := domain.Reading{DeviceID: "D1", Timestamp: time.Now(), Channels: channels}
	return domain.FeatureFrame{DeviceID: "D1", Readings: []domain.Reading{r}, Quality: 1}
}

func TestRuleScorer_PressureCritical(t *testing.T) {
	ctx := context.Background()
	rs, err := NewRuleScorer(ctx, DefaultRuleModule)
	if err != nil {
		t.Fatalf("compile rule module: %v", err)
	}

	frame := frameWithLatest(map[string]float64{domain.ChannelPressure: 150})
	score := rs.Score(ctx, frame)

	if !score.Available {
		t.Fatal("expected rule scorer to be available")
	}
	if score.SeverityHint != domain.SeverityCritical {
		t.Fatalf("expected Critical severity for pressure < 200, got %v", score.SeverityHint)
	}
}

func TestRuleScorer_NoMatchYieldsInfo(t *testing.T) {
	ctx := context.Background()
	rs, err := NewRuleScorer(ctx, DefaultRuleModule)
	if err != nil {
		t.Fatalf("compile rule module: %v", err)
	}

	frame := frameWithLatest(map[string]float64{domain.ChannelPressure: 1000, domain.ChannelTemperature: 20})
	score := rs.Score(ctx, frame)
	if score.SeverityHint != domain.SeverityInfo {
		t.Fatalf("expected Info severity with no matching rule, got %v", score.SeverityHint)
	}
}

func TestStatisticalScorer_FlagsLargeDeviation(t *testing.T) {
	s := NewStatisticalScorer(domain.ChannelTemperature, 0.3)
	ctx := context.Background()

	// Warm up the EWMA around a stable baseline.
	for i := 0; i < 10; i++ {
		s.Score(ctx, frameWithLatest(map[string]float64{domain.ChannelTemperature: 20}))
	}

	score := s.Score(ctx, frameWithLatest(map[string]float64{domain.ChannelTemperature: 80}))
	if !score.Available {
		t.Fatal("expected statistical scorer to be available")
	}
	if score.SeverityHint == domain.SeverityInfo {
		t.Fatal("expected a large deviation to raise severity above Info")
	}
}

func TestStatisticalScorer_PrivatePerDevice(t *testing.T) {
	s := NewStatisticalScorer(domain.ChannelTemperature, 0.3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		r := domain.Reading{DeviceID: "D1", Timestamp: time.Now(), Channels: map[string]float64{domain.ChannelTemperature: 20}}
		frame := domain.FeatureFrame{DeviceID: "D1", Readings: []domain.Reading{r}}
		s.Score(ctx, frame)
	}

	// A fresh device should start from scratch, not inherit D1's baseline.
	r := domain.Reading{DeviceID: "D2", Timestamp: time.Now(), Channels: map[string]float64{domain.ChannelTemperature: 80}}
	frame := domain.FeatureFrame{DeviceID: "D2", Readings: []domain.Reading{r}}
	score := s.Score(ctx, frame)
	if score.Value != 0 {
		t.Fatalf("expected first observation for a new device to have zscore 0, got %v", score.Value)
	}
}

type fakeModel struct {
	margin float64
	ready  bool
}

func (f fakeModel) DecisionMargin(features []float64) (float64, bool) { return f.margin, f.ready }

func TestOutlierTreeScorer_UnavailableWithoutModel(t *testing.T) {
	s := NewOutlierTreeScorer(nil)
	score := s.Score(context.Background(), frameWithLatest(map[string]float64{}))
	if score.Available {
		t.Fatal("expected scorer without a model to be unavailable")
	}
}

func TestOutlierTreeScorer_NegativeMarginIsAnomalous(t *testing.T) {
	s := NewOutlierTreeScorer(fakeModel{margin: -0.8, ready: true})
	score := s.Score(context.Background(), frameWithLatest(map[string]float64{domain.ChannelTemperature: 20}))
	if score.SeverityHint != domain.SeverityCritical {
		t.Fatalf("expected Critical for margin -0.8, got %v", score.SeverityHint)
	}
}

type fakePredictor struct {
	predicted float64
	ready     bool
}

func (f fakePredictor) Predict(history []float64) (float64, bool) { return f.predicted, f.ready }

func TestSequencePredictionScorer_UnavailableWithoutPredictor(t *testing.T) {
	s := NewSequencePredictionScorer(nil, domain.ChannelBatteryVoltage, 0.1)
	score := s.Score(context.Background(), frameWithLatest(map[string]float64{}))
	if score.Available {
		t.Fatal("expected scorer without a predictor to be unavailable")
	}
}

func TestSequencePredictionScorer_LargeErrorRaisesSeverity(t *testing.T) {
	s := NewSequencePredictionScorer(fakePredictor{predicted: 3.7, ready: true}, domain.ChannelBatteryVoltage, 0.05)
	r1 := domain.Reading{DeviceID: "D1", Timestamp: time.Now(), Channels: map[string]float64{domain.ChannelBatteryVoltage: 3.7}}
	r2 := domain.Reading{DeviceID: "D1", Timestamp: time.Now(), Channels: map[string]float64{domain.ChannelBatteryVoltage: 3.2}}
	frame := domain.FeatureFrame{DeviceID: "D1", Readings: []domain.Reading{r1, r2}}

	score := s.Score(context.Background(), frame)
	if !score.Available {
		t.Fatal("expected scorer to be available")
	}
	if score.SeverityHint == domain.SeverityInfo {
		t.Fatal("expected large prediction error to raise severity")
	}
}
