// Package scaler implements predictive scaling : forecast
// near-term load from recent metrics and proactively scale managed
// deployments up or down ahead of demand. Grounded on
// original_source/monitoring/auto-recovery/self_healing_system.py's
// predictive_scaling/proactive_scale_up/proactive_scale_down, with model
// *training* externalized as a pluggable LoadPredictor (same boundary as
// the scorer adapters — this core never trains one).
package scaler

import (
	"context"
	"time"

	"github.com/hankooktire/control-plane/internal/clock"
	"github.com/hankooktire/control-plane/internal/domain"
	"github.com/hankooktire/control-plane/internal/recovery"
)

// LoadPredictor forecasts a normalized [0,1] load figure from the current
// metrics snapshot. A nil predictor degrades gracefully to hour-of-day-only
// decisions (matching the original's fallback when scaling_predictor is
// still untrained).
type LoadPredictor interface {
	PredictLoad(metrics map[string]float64) (load float64, ready bool)
}

// Config carries the scaler's tunable surface: managed deployments, replica
// bounds per deployment, and the peak-hour calendar (grounded on
// predictive_scaling's hard-coded peak_hours=[9,10,11,14,15,16,19,20,21]).
type Config struct {
	Deployments []string
	MinReplicas map[string]int
	MaxReplicas map[string]int
	PeakHours   []int // hour-of-day, 0-23
	// ScaleUpThreshold/ScaleDownThreshold generalize the original's
	// hard-coded 0.8/0.3 predicted-load thresholds.
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	// MinHold is the minimum time between scaling dispatches for the same
	// deployment, claimed on the shared cooldown ledger — "next tick
	// within min_hold produces no further scale".
	MinHold time.Duration
}

func (c Config) minHold() time.Duration {
	if c.MinHold <= 0 {
		return 5 * time.Minute
	}
	return c.MinHold
}

func (c Config) isPeakHour(hour int) bool {
	for _, h := range c.PeakHours {
		if h == hour {
			return true
		}
	}
	return false
}

// Decision is the outcome of one scaling evaluation for one deployment.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionScaleUp
	DecisionScaleDown
)

// Scaler evaluates predicted load plus time-of-day against Config and
// dispatches scale actions through the recovery engine's Orchestrator
// capability .
type Scaler struct {
	cfg          Config
	predictor    LoadPredictor
	orchestrator recovery.Orchestrator
	ledger       *clock.Ledger
	now          func() time.Time
}

// NewScaler builds a Scaler. predictor may be nil (falls back to
// peak-hour-only decisions); now defaults to time.Now. ledger is the same
// cooldown ledger the recovery engine dispatches through; both claim the
// deployment's IssueScaleAction key, so while one side's claim is live the
// other does not scale that deployment.
func NewScaler(cfg Config, predictor LoadPredictor, orchestrator recovery.Orchestrator, ledger *clock.Ledger, now func() time.Time) *Scaler {
	if now == nil {
		now = time.Now
	}
	return &Scaler{cfg: cfg, predictor: predictor, orchestrator: orchestrator, ledger: ledger, now: now}
}

func scaleKey(deployment string) string {
	return domain.Incident{Subject: deployment, Kind: domain.IssueScaleAction}.Key()
}

// Decide evaluates metrics against the predictor and the clock to choose
// a single scaling decision, mirroring predictive_scaling's
// predicted_load/current_hour branch.
func (s *Scaler) Decide(metrics map[string]float64) Decision {
	hour := s.now().Hour()
	peak := s.cfg.isPeakHour(hour)

	var predictedLoad float64
	var ready bool
	if s.predictor != nil {
		predictedLoad, ready = s.predictor.PredictLoad(metrics)
	}

	upThreshold := s.cfg.ScaleUpThreshold
	if upThreshold == 0 {
		upThreshold = 0.8
	}
	downThreshold := s.cfg.ScaleDownThreshold
	if downThreshold == 0 {
		downThreshold = 0.3
	}

	switch {
	case (ready && predictedLoad > upThreshold) || peak:
		return DecisionScaleUp
	case ready && predictedLoad < downThreshold && !peak:
		return DecisionScaleDown
	default:
		return DecisionNone
	}
}

// Run applies Decide's outcome to every configured deployment (grounded
// on proactive_scale_up/proactive_scale_down's per-deployment loop).
func (s *Scaler) Run(ctx context.Context, metrics map[string]float64) []ScaleResult {
	decision := s.Decide(metrics)
	if decision == DecisionNone {
		return nil
	}

	results := make([]ScaleResult, 0, len(s.cfg.Deployments))
	for _, d := range s.cfg.Deployments {
		if s.ledger != nil && !s.ledger.CheckAndClaim(scaleKey(d), s.cfg.minHold()) {
			continue
		}

		delta := 1
		if decision == DecisionScaleDown {
			delta = -1
		}
		min := s.cfg.MinReplicas[d]
		max := s.cfg.MaxReplicas[d]
		if max == 0 {
			max = 5 // grounded on proactive_scale_up's "최대 5개까지" cap.
		}
		if min == 0 {
			min = 2 // grounded on proactive_scale_down's "최소 2개 유지" floor.
		}

		desired, err := s.orchestrator.ScaleWorkload(ctx, d, delta, min, max)
		results = append(results, ScaleResult{Deployment: d, Decision: decision, Desired: desired, Err: err})
	}
	return results
}

// ScaleResult is one deployment's scaling outcome for a Run call.
type ScaleResult struct {
	Deployment string
	Decision   Decision
	Desired    int
	Err        error
}
