package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hankooktire/control-plane/internal/clock"
	"github.com/hankooktire/control-plane/internal/domain"
)

func incident(subject string, action domain.RecoveryAction, autoRecoverable bool) domain.Incident {
	return domain.Incident{
		ID: subject + "-inc", Subject: subject, Kind: domain.IssueSensorMalfunction,
		Severity: domain.SeverityError, AutoRecoverable: autoRecoverable,
		RecommendedActions: []domain.RecoveryAction{action},
		CooldownSeconds:    60,
	}
}

func TestPlan_SkipsNonAutoRecoverable(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ledger := clock.NewLedger(clk)
	e := NewEngine(ledger, clk, nil, nil, Config{})

	plan := e.Plan([]domain.Incident{incident("d1", domain.ActionRestartTarget, false)})
	if len(plan) != 0 {
		t.Fatalf("expected no plan entries for non-auto-recoverable incident, got %d", len(plan))
	}
}

func TestPlan_SkipsWhileInMaintenanceMode(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ledger := clock.NewLedger(clk)
	e := NewEngine(ledger, clk, nil, nil, Config{})
	e.SetMaintenanceMode(true)

	plan := e.Plan([]domain.Incident{incident("d1", domain.ActionRestartTarget, true)})
	if len(plan) != 0 {
		t.Fatalf("expected no plan entries in maintenance mode, got %d", len(plan))
	}
}

func TestPlan_RespectsCooldown(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ledger := clock.NewLedger(clk)
	e := NewEngine(ledger, clk, nil, nil, Config{})

	inc := incident("d1", domain.ActionRestartTarget, true)
	first := e.Plan([]domain.Incident{inc})
	if len(first) != 1 {
		t.Fatalf("expected first plan to claim the cooldown, got %d entries", len(first))
	}

	second := e.Plan([]domain.Incident{inc})
	if len(second) != 0 {
		t.Fatalf("expected second plan within the cooldown window to be empty, got %d", len(second))
	}
}

type fakeExecutor struct {
	message string
	err     error
}

func (f fakeExecutor) Execute(ctx context.Context, target string) (string, []string, error) {
	return f.message, nil, f.err
}

type fakeVerifier struct{ ok bool }

func (f fakeVerifier) Verify(ctx context.Context, target string) (bool, error) { return f.ok, nil }

func TestDispatch_SuccessfulActionVerified(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ledger := clock.NewLedger(clk)
	executors := map[domain.RecoveryAction]Executor{domain.ActionRestartTarget: fakeExecutor{message: "ok"}}
	verifiers := map[domain.RecoveryAction]Verifier{domain.ActionRestartTarget: fakeVerifier{ok: true}}
	e := NewEngine(ledger, clk, executors, verifiers, Config{})

	records := e.Dispatch(context.Background(), []PlannedAction{{Incident: incident("d1", domain.ActionRestartTarget, true), Action: domain.ActionRestartTarget}})
	if len(records) != 1 || !records[0].Success {
		t.Fatalf("expected a successful verified record, got %+v", records)
	}
}

func TestDispatch_VerificationFailureMarksUnsuccessful(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ledger := clock.NewLedger(clk)
	executors := map[domain.RecoveryAction]Executor{domain.ActionRestartTarget: fakeExecutor{message: "ok"}}
	verifiers := map[domain.RecoveryAction]Verifier{domain.ActionRestartTarget: fakeVerifier{ok: false}}
	e := NewEngine(ledger, clk, executors, verifiers, Config{})

	records := e.Dispatch(context.Background(), []PlannedAction{{Incident: incident("d1", domain.ActionRestartTarget, true), Action: domain.ActionRestartTarget}})
	if records[0].Success {
		t.Fatal("expected verification failure to mark the record unsuccessful")
	}
}

func TestDispatch_ExecutorErrorIsRecorded(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ledger := clock.NewLedger(clk)
	executors := map[domain.RecoveryAction]Executor{domain.ActionRestartTarget: fakeExecutor{err: errors.New("k8s unavailable")}}
	e := NewEngine(ledger, clk, executors, nil, Config{})

	records := e.Dispatch(context.Background(), []PlannedAction{{Incident: incident("d1", domain.ActionRestartTarget, true), Action: domain.ActionRestartTarget}})
	if records[0].Success {
		t.Fatal("expected executor error to mark the record unsuccessful")
	}
}

func TestDispatch_MissingExecutorIsRecordedNotPanicked(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	ledger := clock.NewLedger(clk)
	e := NewEngine(ledger, clk, map[domain.RecoveryAction]Executor{}, nil, Config{})

	records := e.Dispatch(context.Background(), []PlannedAction{{Incident: incident("d1", domain.ActionScaleUp, true), Action: domain.ActionScaleUp}})
	if records[0].Success {
		t.Fatal("expected missing-executor record to be unsuccessful")
	}
}

type fakeOrchestrator struct {
	replicas int
}

func (f *fakeOrchestrator) RestartWorkload(ctx context.Context, target string) error { return nil }
func (f *fakeOrchestrator) CurrentReplicas(ctx context.Context, target string) (int, error) {
	return f.replicas, nil
}
func (f *fakeOrchestrator) ScaleWorkload(ctx context.Context, target string, delta, min, max int) (int, error) {
	desired := f.replicas + delta
	if desired < min {
		desired = min
	}
	if desired > max {
		desired = max
	}
	f.replicas = desired
	return desired, nil
}

func TestScaleExecutor_ClampsWithinBounds(t *testing.T) {
	orch := &fakeOrchestrator{replicas: 10}
	e := &ScaleExecutor{Orchestrator: orch, Delta: 1, MinReplicas: 1, MaxReplicas: 10}

	_, _, err := e.Execute(context.Background(), "fleet-worker")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orch.replicas != 10 {
		t.Fatalf("expected scale-up to clamp at MaxReplicas=10, got %d", orch.replicas)
	}
}

func TestCircuitBreakExecutor_OpensBreaker(t *testing.T) {
	e := NewCircuitBreakExecutor()
	_, _, err := e.Execute(context.Background(), "flaky-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.State("flaky-service"); got != gobreaker.StateOpen {
		t.Fatalf("expected the flaky-service breaker to be open, got %v", got)
	}
}
