// Package fusion implements anomaly fusion and ranking :
// classify each Score into an issue kind, assign severity with agreement
// and quality lifts, compute confidence, deduplicate within a tick, and
// rank deterministically. Grounded on the classify/severity/confidence
// logic of original_source/monitoring/ai-analytics/anomaly_detector.py,
// generalized to this core's pluggable Scorer boundary.
package fusion

import (
	"sort"
	"time"

	"github.com/hankooktire/control-plane/internal/domain"
)

// Config parameterizes fusion (Open Question decision: the agreement-lift
// factor is not fully formalized by the source; see DESIGN.md).
type Config struct {
	// MinAgreementForLift is carried in the config but not read by
	// agreementFactor, whose formula is fixed:
	// agreement_factor = min(1, 0.5 + 0.5*(n_agreeing-1)/max(1,n_scorers-1)).
	MinAgreementForLift float64
}

// RecommendationTable maps an issue kind to its ordered candidate actions
// .
var RecommendationTable = map[domain.IssueKind][]domain.RecoveryAction{
	domain.IssueSensorMalfunction:     {domain.ActionRestartTarget, domain.ActionUpdateConfig},
	domain.IssueTemperatureAnomaly:    {domain.ActionUpdateConfig, domain.ActionFailover},
	domain.IssuePressureAnomaly:       {domain.ActionRestartTarget},
	domain.IssueBatteryDegradation:    {domain.ActionUpdateConfig},
	domain.IssueCommunicationIssue:    {domain.ActionRestartTarget, domain.ActionCircuitBreak},
	domain.IssueDataQualityDrop:       {domain.ActionUpdateConfig},
	domain.IssuePredictiveMaintenance: {domain.ActionUpdateConfig},
	domain.IssueSecurityBreach:        {domain.ActionCircuitBreak, domain.ActionFailover},
}

// autoRecoverable lists issue kinds that the recovery engine may act on
// without a human in the loop . SecurityBreach is
// deliberately excluded: it is surfaced, never auto-remediated.
var autoRecoverable = map[domain.IssueKind]bool{
	domain.IssueSensorMalfunction:     true,
	domain.IssueTemperatureAnomaly:    true,
	domain.IssuePressureAnomaly:       true,
	domain.IssueBatteryDegradation:    true,
	domain.IssueCommunicationIssue:    true,
	domain.IssueDataQualityDrop:       true,
	domain.IssuePredictiveMaintenance: true,
	domain.IssueSecurityBreach:        false,
}

// classify maps a single Score to an issue kind by inspecting its
// diagnostics; default is SensorMalfunction .
func classify(score domain.Score) domain.IssueKind {
	if score.Diagnostics != nil {
		if matched, ok := score.Diagnostics["matched"].([]string); ok {
			for _, m := range matched {
				if k := domain.IssueKind(m); recommendationExists(k) {
					return k
				}
			}
		}
		if ch, ok := score.Diagnostics["channel"].(string); ok {
			switch ch {
			case domain.ChannelTemperature:
				return domain.IssueTemperatureAnomaly
			case domain.ChannelPressure:
				return domain.IssuePressureAnomaly
			case domain.ChannelBatteryVoltage:
				if _, hasHours := score.Diagnostics["hours_to_threshold"]; hasHours {
					return domain.IssuePredictiveMaintenance
				}
				return domain.IssueBatteryDegradation
			case domain.ChannelSignalStrength:
				return domain.IssueCommunicationIssue
			}
		}
	}
	if score.Kind == domain.ScoreKindOutlierTree || score.Kind == domain.ScoreKindSequencePrediction {
		return domain.IssueSensorMalfunction
	}
	return domain.IssueSensorMalfunction
}

func recommendationExists(k domain.IssueKind) bool {
	_, ok := RecommendationTable[k]
	return ok
}

// classified groups a scorer's output together with its derived issue kind.
type classified struct {
	kind  domain.IssueKind
	score domain.Score
}

// Fuse runs the full classify-lift-rank algorithm over one device's scores for one tick
// and returns zero or one incident per distinct (subject, kind) — already
// deduplicated, but NOT yet ranked against other devices' incidents (see
// Rank for the cross-device ranking step).
func Fuse(cfg Config, deviceID string, scores []domain.Score, frameQuality float64, observedAt time.Time) []domain.Incident {
	if len(scores) == 0 {
		return nil
	}

	byKind := make(map[domain.IssueKind][]classified)
	for _, sc := range scores {
		k := classify(sc)
		byKind[k] = append(byKind[k], classified{kind: k, score: sc})
	}

	totalScorers := len(scores)
	incidents := make([]domain.Incident, 0, len(byKind))
	for kind, group := range byKind {
		incidents = append(incidents, buildIncident(cfg, deviceID, kind, group, totalScorers, frameQuality, observedAt))
	}
	return incidents
}

func buildIncident(cfg Config, deviceID string, kind domain.IssueKind, group []classified, totalScorers int, frameQuality float64, observedAt time.Time) domain.Incident {
	worst := domain.SeverityInfo
	var sumConfidence float64
	scores := make([]domain.Score, 0, len(group))
	for _, c := range group {
		if c.score.SeverityHint > worst {
			worst = c.score.SeverityHint
		}
		sumConfidence += c.score.Confidence
		scores = append(scores, c.score)
	}

	severity := worst
	if len(group) >= 2 {
		severity = severity.Lift(1)
	}
	if frameQuality < 0.5 {
		severity = severity.Lift(1)
	}

	factor := agreementFactor(len(group), totalScorers, cfg)
	meanConfidence := sumConfidence / float64(len(group))
	confidence := clamp(meanConfidence*factor, 0, 1)

	return domain.Incident{
		Subject:         deviceID,
		Kind:            kind,
		Severity:        severity,
		Confidence:      confidence,
		ObservedAt:      observedAt,
		Evidence:        domain.Evidence{Scores: scores, Metrics: map[string]float64{"frame_quality": frameQuality}},
		AutoRecoverable: autoRecoverable[kind],
		RecommendedActions: append(
			[]domain.RecoveryAction(nil), RecommendationTable[kind]...,
		),
		CooldownSeconds: defaultCooldownSeconds(kind),
	}
}

// agreementFactor implements the Open Question decision recorded in
// DESIGN.md: agreement_factor = min(1, 0.5 + 0.5*(n_agreeing-1)/max(1,n_scorers-1)).
// A single contributing scorer yields 0.5; unanimous agreement across every
// scorer that ran this tick yields 1.0. cfg is accepted for forward
// compatibility with a configurable curve; the current formula is fixed.
func agreementFactor(nAgreeing, totalScorers int, cfg Config) float64 {
	_ = cfg
	denom := totalScorers - 1
	if denom < 1 {
		denom = 1
	}
	return clampMax(0.5+0.5*float64(nAgreeing-1)/float64(denom), 1.0)
}

func clampMax(v, max float64) float64 {
	if v > max {
		return max
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

var defaultCooldowns = map[domain.IssueKind]int{
	domain.IssueSensorMalfunction:     300,
	domain.IssueTemperatureAnomaly:    300,
	domain.IssuePressureAnomaly:       600,
	domain.IssueBatteryDegradation:    3600,
	domain.IssueCommunicationIssue:    300,
	domain.IssueDataQualityDrop:       300,
	domain.IssuePredictiveMaintenance: 86400,
	domain.IssueSecurityBreach:        60,
}

func defaultCooldownSeconds(kind domain.IssueKind) int {
	if c, ok := defaultCooldowns[kind]; ok {
		return c
	}
	return 300
}

// Rank sorts incidents by (severity desc, confidence desc, observed_at
// asc), tie-broken by lexicographic subject id for determinism
// .
func Rank(incidents []domain.Incident) []domain.Incident {
	out := append([]domain.Incident(nil), incidents...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		return a.Subject < b.Subject
	})
	return out
}

// Dedupe collapses incidents sharing (subject, kind), keeping the one with
// the higher severity, then higher confidence .
func Dedupe(incidents []domain.Incident) []domain.Incident {
	best := make(map[string]domain.Incident, len(incidents))
	for _, inc := range incidents {
		key := inc.Key()
		current, ok := best[key]
		if !ok {
			best[key] = inc
			continue
		}
		if inc.Severity > current.Severity || (inc.Severity == current.Severity && inc.Confidence > current.Confidence) {
			best[key] = inc
		}
	}
	out := make([]domain.Incident, 0, len(best))
	for _, inc := range best {
		out = append(out, inc)
	}
	return out
}
