// Package recovery implements the decision procedure and action catalog
// that turns ranked incidents into dispatched remediation: rank
// incidents, gate dispatch through the cooldown ledger, run each action
// against the Orchestrator/Cache/Storage
// capabilities, and verify the outcome. Grounded on
// original_source/monitoring/auto-recovery/self_healing_system.py's
// analyze_and_plan_recovery/execute_recovery_plan/execute_recovery_action.
package recovery

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hankooktire/control-plane/internal/clock"
	"github.com/hankooktire/control-plane/internal/domain"
)

var tracer = otel.Tracer("internal/recovery")

// Executor performs one recovery action against a target and reports
// whether it completed (not yet verified). Concrete per-action executors
// live in actions.go, each backed by a capability.
type Executor interface {
	Execute(ctx context.Context, target string) (message string, sideEffects []string, err error)
}

// Verifier confirms an action actually resolved the condition. The engine
// runs the verifier registered for an action, if any, after a successful
// Execute; this package ships no Verifier implementations.
type Verifier interface {
	Verify(ctx context.Context, target string) (bool, error)
}

// Engine plans and dispatches recovery actions .
type Engine struct {
	ledger      *clock.Ledger
	clk         clock.Clock
	executors   map[domain.RecoveryAction]Executor
	verifiers   map[domain.RecoveryAction]Verifier
	maintMode   bool
	maxInFlight int
	onDispatch  func(action domain.RecoveryAction, duration time.Duration, success bool)
}

// Config parameterizes the engine beyond the action tables.
type Config struct {
	MaxConcurrentActions int
	// OnDispatch, if set, is invoked once per dispatched action after
	// verification, for an external observability sink (Prometheus
	// counters/histograms live at the wiring edge, not in this package).
	OnDispatch func(action domain.RecoveryAction, duration time.Duration, success bool)
}

// NewEngine builds an Engine dispatching through executors/verifiers,
// gated by ledger.
func NewEngine(ledger *clock.Ledger, clk clock.Clock, executors map[domain.RecoveryAction]Executor, verifiers map[domain.RecoveryAction]Verifier, cfg Config) *Engine {
	max := cfg.MaxConcurrentActions
	if max <= 0 {
		max = 10
	}
	return &Engine{ledger: ledger, clk: clk, executors: executors, verifiers: verifiers, maxInFlight: max, onDispatch: cfg.OnDispatch}
}

// SetMaintenanceMode toggles maintenance mode: while set, incidents
// still surface but no action is ever auto-dispatched.
func (e *Engine) SetMaintenanceMode(on bool) { e.maintMode = on }

// Plan walks incidents in the order given (the supervisor ranks them with
// fusion.Rank first) and selects each one's first recommended action if
// the incident's cooldown key can be claimed — mirroring
// analyze_and_plan_recovery's "first action, set cooldown" behavior. A
// scale_up/scale_down action claims the subject's IssueScaleAction key
// instead, the key the predictive scaler claims. An incident whose key is
// in cooldown is skipped; its other candidate actions are not tried.
// Non-auto-recoverable incidents and maintenance-mode are both skipped.
func (e *Engine) Plan(incidents []domain.Incident) []PlannedAction {
	var plan []PlannedAction
	for _, inc := range incidents {
		if !inc.AutoRecoverable || e.maintMode {
			continue
		}
		if len(inc.RecommendedActions) == 0 {
			continue
		}
		action := inc.RecommendedActions[0]
		cooldown := time.Duration(inc.CooldownSeconds) * time.Second
		key := inc.Key()
		if action == domain.ActionScaleUp || action == domain.ActionScaleDown {
			key = domain.Incident{Subject: inc.Subject, Kind: domain.IssueScaleAction}.Key()
		}
		if !e.ledger.CheckAndClaim(key, cooldown) {
			continue
		}
		plan = append(plan, PlannedAction{Incident: inc, Action: action})
	}
	return plan
}

// PlannedAction pairs an incident with the single action chosen for it.
type PlannedAction struct {
	Incident domain.Incident
	Action   domain.RecoveryAction
}

// Dispatch executes every planned action concurrently (bounded by
// maxInFlight) and returns one RecoveryRecord per action, mirroring
// execute_recovery_plan's asyncio.gather fan-out.
func (e *Engine) Dispatch(ctx context.Context, plan []PlannedAction) []domain.RecoveryRecord {
	records := make([]domain.RecoveryRecord, len(plan))
	sem := make(chan struct{}, e.maxInFlight)
	done := make(chan int, len(plan))

	for i, p := range plan {
		go func(i int, p PlannedAction) {
			sem <- struct{}{}
			defer func() { <-sem }()
			records[i] = e.dispatchOne(ctx, p)
			done <- i
		}(i, p)
	}
	for range plan {
		<-done
	}
	return records
}

func (e *Engine) dispatchOne(ctx context.Context, p PlannedAction) domain.RecoveryRecord {
	ctx, span := tracer.Start(ctx, "recovery.dispatch", trace.WithAttributes(
		attribute.String("action", string(p.Action)),
		attribute.String("target", p.Incident.Subject),
	))
	defer span.End()

	start := e.clk.WallNow()
	executor, ok := e.executors[p.Action]
	if !ok {
		rec := domain.RecoveryRecord{
			IncidentID: p.Incident.ID, Action: p.Action, Target: p.Incident.Subject,
			StartedAt: start, Duration: 0, Success: false,
			Message: fmt.Sprintf("no executor registered for action %s", p.Action),
		}
		span.SetAttributes(attribute.String("outcome", "no_executor"))
		e.reportDispatch(rec)
		return rec
	}

	message, sideEffects, err := executor.Execute(ctx, p.Incident.Subject)
	duration := e.clk.WallNow().Sub(start)
	success := err == nil
	if err != nil {
		message = err.Error()
	}

	if success {
		if verifier, ok := e.verifiers[p.Action]; ok {
			verified, verr := verifier.Verify(ctx, p.Incident.Subject)
			if verr != nil || !verified {
				success = false
				message = "action completed but verification failed"
			}
		}
	}

	span.SetAttributes(attribute.Bool("success", success))

	rec := domain.RecoveryRecord{
		IncidentID: p.Incident.ID, Action: p.Action, Target: p.Incident.Subject,
		StartedAt: start, Duration: duration, Success: success,
		Message: message, SideEffects: sideEffects,
	}
	e.reportDispatch(rec)
	return rec
}

func (e *Engine) reportDispatch(rec domain.RecoveryRecord) {
	if e.onDispatch != nil {
		e.onDispatch(rec.Action, rec.Duration, rec.Success)
	}
}
