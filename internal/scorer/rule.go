package scorer

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/hankooktire/control-plane/internal/domain"
)

// DefaultRuleModule is the declarative anomaly-rule predicate table,
// expressed as a Rego policy per an "externalize as a declarative table"
// design choice — hot-reloadable and independently testable, rather
// than a Go literal switch.
const DefaultRuleModule = `
package controlplane.rules

hints[hint] {
	input.pressure < 200
	hint := {"issue_kind": "PressureAnomaly", "severity": 3}
}

hints[hint] {
	input.temperature > 80
	hint := {"issue_kind": "TemperatureAnomaly", "severity": 1}
}

hints[hint] {
	input.battery_voltage < 3.0
	hint := {"issue_kind": "BatteryDegradation", "severity": 2}
}

hints[hint] {
	input.signal_strength < -90
	hint := {"issue_kind": "CommunicationIssue", "severity": 1}
}
`

var severityFromRego = map[int64]domain.Severity{
	0: domain.SeverityInfo,
	1: domain.SeverityWarning,
	2: domain.SeverityError,
	3: domain.SeverityCritical,
	4: domain.SeverityEmergency,
}

// RuleScorer evaluates a compiled Rego rule table against a frame's latest
// reading . Deterministic and side-effect
// free; reload a new RuleScorer to hot-swap the module.
type RuleScorer struct {
	query rego.PreparedEvalQuery
}

// NewRuleScorer compiles module (Rego source, `package controlplane.rules`,
// a `hints` partial set rule) into a ready-to-evaluate scorer.
func NewRuleScorer(ctx context.Context, module string) (*RuleScorer, error) {
	query, err := rego.New(
		rego.Query("data.controlplane.rules.hints"),
		rego.Module("rules.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rule module: %w", err)
	}
	return &RuleScorer{query: query}, nil
}

func (s *RuleScorer) Kind() domain.ScoreKind { return domain.ScoreKindRule }

func (s *RuleScorer) Score(ctx context.Context, frame domain.FeatureFrame) domain.Score {
	latest, ok := frame.Latest()
	if !ok {
		return domain.Score{Kind: s.Kind(), DeviceID: frame.DeviceID, Available: false}
	}

	input := make(map[string]interface{}, len(latest.Channels))
	for ch, v := range latest.Channels {
		input[ch] = v
	}

	results, err := s.query.Eval(ctx, rego.EvalInput(input))
	if err != nil || len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.Score{
			Kind: s.Kind(), DeviceID: frame.DeviceID, Available: true,
			Value: 0, Confidence: 1, SeverityHint: domain.SeverityInfo,
			Diagnostics: map[string]interface{}{"matched": []string{}},
		}
	}

	hints, _ := results[0].Expressions[0].Value.([]interface{})
	worst := domain.SeverityInfo
	matched := make([]string, 0, len(hints))
	for _, h := range hints {
		hm, ok := h.(map[string]interface{})
		if !ok {
			continue
		}
		kind, _ := hm["issue_kind"].(string)
		matched = append(matched, kind)
		var sevNum int64
		switch v := hm["severity"].(type) {
		case int64:
			sevNum = v
		case float64:
			sevNum = int64(v)
		}
		if sev, ok := severityFromRego[sevNum]; ok && sev > worst {
			worst = sev
		}
	}

	return domain.Score{
		Kind:         s.Kind(),
		DeviceID:     frame.DeviceID,
		Available:    true,
		Value:        float64(worst),
		Confidence:   1.0,
		SeverityHint: worst,
		Diagnostics:  map[string]interface{}{"matched": matched},
	}
}
