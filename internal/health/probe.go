// Package health implements the seven subsystem health probes: Service,
// Relational-store, Cache, Message-bus, Orchestrator, Host, and
// Fleet. Each probe collects a metrics snapshot through a narrow
// capability interface, then evaluates a declarative rule table against
// that snapshot to produce incidents — mirroring the rule-table dispatch
// in original_source's check_api_health/check_database_health/
// check_redis_health/check_mqtt_health/check_kubernetes_pods/
// check_system_resources/check_sensor_connectivity, generalized to this
// core's IssueKind/Severity vocabulary.
package health

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hankooktire/control-plane/internal/domain"
)

var tracer = otel.Tracer("internal/health")

// Probe is one subsystem health check .
type Probe interface {
	Component() string
	Check(ctx context.Context) ProbeResult
}

// UnreachableRecovery lets a probe override the default auto-recoverable
// restart/failover actions attached to its own deadline-exceeded
// incident. A probe that has no meaningful restart/failover target for
// itself (the Orchestrator probe: restarting/failing over "orchestrator"
// through the very capability it reports unreachable is nonsensical)
// implements this to report a non-actionable incident instead.
type UnreachableRecovery interface {
	UnreachableRecovery() (autoRecoverable bool, actions []domain.RecoveryAction)
}

// ProbeResult is a single probe invocation's outcome.
type ProbeResult struct {
	Component string
	Metrics   map[string]float64
	Incidents []domain.Incident
	Err       error
}

// Rule is one entry of a probe's declarative rule table: "(metric
// predicate) -> (issue_kind, severity, candidate_actions, cooldown)"
// .
type Rule struct {
	Name            string
	Condition       func(metrics map[string]float64) bool
	IssueKind       domain.IssueKind
	Severity        domain.Severity
	Actions         []domain.RecoveryAction
	CooldownSeconds int
	AutoRecoverable bool
}

// evaluate runs a probe's rule table against metrics and builds one
// incident per matching rule.
func evaluate(component string, metrics map[string]float64, rules []Rule, observedAt time.Time) []domain.Incident {
	var incidents []domain.Incident
	for _, r := range rules {
		if !r.Condition(metrics) {
			continue
		}
		incidents = append(incidents, domain.Incident{
			Subject:            component,
			Kind:               r.IssueKind,
			Severity:           r.Severity,
			Confidence:         1.0,
			ObservedAt:         observedAt,
			Evidence:           domain.Evidence{Metrics: metrics},
			AutoRecoverable:    r.AutoRecoverable,
			RecommendedActions: r.Actions,
			CooldownSeconds:    r.CooldownSeconds,
		})
	}
	return incidents
}

// unreachableIncident builds the Critical "unreachable" incident a probe
// reports when it cannot complete within its deadline, defaulting to the
// auto-recoverable restart/failover candidate actions.
func unreachableIncident(component string, observedAt time.Time, detail string) domain.Incident {
	return unreachableIncidentWithRecovery(component, observedAt, detail, true,
		[]domain.RecoveryAction{domain.ActionRestartTarget, domain.ActionFailover})
}

// unreachableIncidentWithRecovery is unreachableIncident with an explicit
// recovery policy, for probes whose UnreachableRecovery overrides the default.
func unreachableIncidentWithRecovery(component string, observedAt time.Time, detail string, autoRecoverable bool, actions []domain.RecoveryAction) domain.Incident {
	return domain.Incident{
		Subject:             component,
		Kind:                domain.IssueUnreachable,
		Severity:            domain.SeverityCritical,
		Confidence:          1.0,
		ObservedAt:          observedAt,
		Evidence:            domain.Evidence{Extra: map[string]interface{}{"detail": detail}},
		AutoRecoverable:     autoRecoverable,
		RecommendedActions:  actions,
		CooldownSeconds:     60,
	}
}

// Runner executes a set of probes concurrently, each bounded by its own
// deadline, and returns every result .
type Runner struct {
	probes    []Probe
	deadlines map[string]time.Duration
}

// NewRunner builds a Runner over probes, using deadline for any probe not
// present in perProbeDeadline.
func NewRunner(probes []Probe, deadline time.Duration, perProbeDeadline map[string]time.Duration) *Runner {
	deadlines := make(map[string]time.Duration, len(probes))
	for _, p := range probes {
		d := deadline
		if custom, ok := perProbeDeadline[p.Component()]; ok {
			d = custom
		}
		deadlines[p.Component()] = d
	}
	return &Runner{probes: probes, deadlines: deadlines}
}

// RunAll fans out every probe concurrently and collects results, tagging
// any probe that exceeds its deadline with an unreachable incident rather
// than dropping it silently.
func (r *Runner) RunAll(ctx context.Context, now time.Time) []ProbeResult {
	results := make([]ProbeResult, len(r.probes))
	done := make(chan int, len(r.probes))

	for i, p := range r.probes {
		go func(i int, p Probe) {
			spanCtx, span := tracer.Start(ctx, "health.probe.check", trace.WithAttributes(
				attribute.String("component", p.Component()),
			))
			defer span.End()

			deadline := r.deadlines[p.Component()]
			probeCtx, cancel := context.WithTimeout(spanCtx, deadline)
			defer cancel()

			resultCh := make(chan ProbeResult, 1)
			go func() { resultCh <- p.Check(probeCtx) }()

			select {
			case res := <-resultCh:
				results[i] = res
				span.SetAttributes(attribute.Int("incident_count", len(res.Incidents)))
			case <-probeCtx.Done():
				autoRecoverable, actions := true, []domain.RecoveryAction{domain.ActionRestartTarget, domain.ActionFailover}
				if ur, ok := p.(UnreachableRecovery); ok {
					autoRecoverable, actions = ur.UnreachableRecovery()
				}
				results[i] = ProbeResult{
					Component: p.Component(),
					Incidents: []domain.Incident{unreachableIncidentWithRecovery(p.Component(), now, probeCtx.Err().Error(), autoRecoverable, actions)},
					Err:       probeCtx.Err(),
				}
				span.SetAttributes(attribute.String("outcome", "deadline_exceeded"))
			}
			done <- i
		}(i, p)
	}

	for range r.probes {
		<-done
	}
	return results
}
