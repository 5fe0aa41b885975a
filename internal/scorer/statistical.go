package scorer

import (
	"context"
	stdmath "math"
	"sync"

	shmath "github.com/hankooktire/control-plane/pkg/shared/math"

	"github.com/hankooktire/control-plane/internal/domain"
)

// ewmaState is the per-device, per-channel running statistics the
// statistical scorer maintains privately .
type ewmaState struct {
	mean, variance float64
	initialized    bool
}

// StatisticalScorer maintains per-device EWMA and variance on selected
// channels and returns a z-score, plus a linear-trend estimate on battery
// voltage .
type StatisticalScorer struct {
	mu      sync.Mutex
	alpha   float64
	state   map[string]map[string]*ewmaState // deviceID -> channel -> state
	channel string                            // the channel scored for anomaly (e.g. temperature)
}

// NewStatisticalScorer builds a scorer tracking channel with EWMA decay alpha.
func NewStatisticalScorer(channel string, alpha float64) *StatisticalScorer {
	return &StatisticalScorer{
		alpha:   alpha,
		state:   make(map[string]map[string]*ewmaState),
		channel: channel,
	}
}

func (s *StatisticalScorer) Kind() domain.ScoreKind { return domain.ScoreKindStatistical }

func (s *StatisticalScorer) deviceState(deviceID string) map[string]*ewmaState {
	dm, ok := s.state[deviceID]
	if !ok {
		dm = make(map[string]*ewmaState)
		s.state[deviceID] = dm
	}
	return dm
}

// update advances the EWMA mean/variance for one (device, channel, value)
// observation and returns the z-score of value against the state *before*
// this observation was folded in.
func (s *StatisticalScorer) update(deviceID, channel string, value float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	dm := s.deviceState(deviceID)
	st, ok := dm[channel]
	if !ok {
		st = &ewmaState{}
		dm[channel] = st
	}
	if !st.initialized {
		st.mean = value
		st.variance = 0
		st.initialized = true
		return 0
	}

	stddev := stdmath.Sqrt(st.variance)
	zscore := shmath.ZScore(value, st.mean, stddev)

	delta := value - st.mean
	st.mean += s.alpha * delta
	st.variance = (1 - s.alpha) * (st.variance + s.alpha*delta*delta)

	return zscore
}

func (s *StatisticalScorer) Score(ctx context.Context, frame domain.FeatureFrame) domain.Score {
	latest, ok := frame.Latest()
	if !ok {
		return domain.Score{Kind: s.Kind(), DeviceID: frame.DeviceID, Available: false}
	}
	value, ok := latest.Channels[s.channel]
	if !ok {
		return domain.Score{Kind: s.Kind(), DeviceID: frame.DeviceID, Available: false}
	}

	z := s.update(frame.DeviceID, s.channel, value)

	diagnostics := map[string]interface{}{"channel": s.channel, "zscore": z}

	if s.channel == domain.ChannelBatteryVoltage {
		if hours, ok := s.hoursToThreshold(frame); ok {
			diagnostics["hours_to_threshold"] = hours
		}
	}

	severity := domain.SeverityInfo
	switch {
	case abs(z) >= 4:
		severity = domain.SeverityCritical
	case abs(z) >= 3:
		severity = domain.SeverityError
	case abs(z) >= 2:
		severity = domain.SeverityWarning
	}

	confidence := clamp(abs(z)/4, 0, 1)

	return domain.Score{
		Kind: s.Kind(), DeviceID: frame.DeviceID, Available: true,
		Value: z, Confidence: confidence, SeverityHint: severity,
		Diagnostics: diagnostics,
	}
}

// hoursToThreshold fits a linear trend to the frame's battery-voltage
// series and, if the trend is negative with sufficient correlation,
// estimates hours until voltage crosses a low-battery threshold
// .
const lowBatteryThreshold = 3.0
const minTrendCorrelation = 0.7

func (s *StatisticalScorer) hoursToThreshold(frame domain.FeatureFrame) (float64, bool) {
	var xs, ys []float64
	base := frame.Readings[0].Timestamp
	for _, r := range frame.Readings {
		v, ok := r.Channels[domain.ChannelBatteryVoltage]
		if !ok {
			continue
		}
		xs = append(xs, r.Timestamp.Sub(base).Hours())
		ys = append(ys, v)
	}
	if len(xs) < 3 {
		return 0, false
	}
	slope, intercept, corr := shmath.LinearTrend(xs, ys)
	if slope >= 0 || abs(corr) < minTrendCorrelation {
		return 0, false
	}
	lastX := xs[len(xs)-1]
	currentV := slope*lastX + intercept
	hours := (currentV - lowBatteryThreshold) / -slope
	if hours < 0 {
		return 0, false
	}
	return hours, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
