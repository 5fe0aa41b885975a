// Package chaos implements time-windowed fault injection :
// pick one fault kind at random, inject it against a live target, wait a
// settle period, then verify the system recovered on its own. Grounded on
// original_source/monitoring/auto-recovery/self_healing_system.py's
// chaos_engineering_test/chaos_pod_kill/chaos_network_delay/
// chaos_cpu_stress/chaos_memory_stress/verify_system_recovery.
package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hankooktire/control-plane/internal/domain"
	"github.com/hankooktire/control-plane/internal/health"
	"github.com/hankooktire/control-plane/internal/recovery"
)

// FaultKind enumerates the injectable fault types (chaos_engineering_test's
// tests list: chaos_pod_kill/chaos_network_delay/chaos_cpu_stress/
// chaos_memory_stress).
type FaultKind string

const (
	FaultPodKill       FaultKind = "pod_kill"
	FaultNetworkDelay  FaultKind = "network_delay"
	FaultCPUStress     FaultKind = "cpu_stress"
	FaultMemoryStress  FaultKind = "memory_stress"
)

var allFaults = []FaultKind{FaultPodKill, FaultNetworkDelay, FaultCPUStress, FaultMemoryStress}

// Injector applies one fault kind against a target and reports what
// happened. Network delay, CPU stress, and memory stress are themselves
// simulation-only in the source ("실제로는 ... 도구 필요" — a real fault
// tool is deployment-specific); PodKill is backed by the real Orchestrator
// capability already used by the recovery engine.
type Injector interface {
	Inject(ctx context.Context, kind FaultKind, target string) (message string, err error)
}

// PodKiller deletes a running workload outright, distinct from
// Orchestrator.RestartWorkload's graceful rolling restart — grounded on
// chaos_pod_kill's delete_namespaced_pod call.
type PodKiller interface {
	KillWorkload(ctx context.Context, target string) error
}

// CandidateLister enumerates fault-eligible workloads (grounded on
// chaos_pod_kill's "hankook-* and not postgres and Running" filter).
type CandidateLister interface {
	ListCandidates(ctx context.Context) ([]string, error)
}

// RealInjector is the production Injector: pod-kill goes through
// PodKiller; the remaining fault kinds are simulated (logged, no actual
// resource pressure injected), matching the source's own stub bodies.
type RealInjector struct {
	Killer PodKiller
}

func (r RealInjector) Inject(ctx context.Context, kind FaultKind, target string) (string, error) {
	switch kind {
	case FaultPodKill:
		if err := r.Killer.KillWorkload(ctx, target); err != nil {
			return "", fmt.Errorf("chaos pod-kill %s: %w", target, err)
		}
		return fmt.Sprintf("pod-kill injected: %s", target), nil
	case FaultNetworkDelay:
		return fmt.Sprintf("network-delay simulated: %s", target), nil
	case FaultCPUStress:
		return fmt.Sprintf("cpu-stress simulated: %s", target), nil
	case FaultMemoryStress:
		return fmt.Sprintf("memory-stress simulated: %s", target), nil
	default:
		return "", fmt.Errorf("unknown fault kind %q", kind)
	}
}

// Config bounds when and how chaos runs.
type Config struct {
	Enabled     bool
	Windows     []int // hour-of-day chaos is allowed to run, e.g. [2, 14]
	SettleDelay time.Duration
	RandSource  *rand.Rand
}

func (c Config) inWindow(now time.Time) bool {
	if len(c.Windows) == 0 {
		return true
	}
	hour := now.Hour()
	for _, h := range c.Windows {
		if h == hour {
			return true
		}
	}
	return false
}

func (c Config) settleDelay() time.Duration {
	if c.SettleDelay <= 0 {
		return 5 * time.Minute
	}
	return c.SettleDelay
}

// Run is one chaos-test outcome: the fault injected, its target, the
// injection result, and — once settled — the post-recovery verdict.
type Run struct {
	ID         string
	Kind       FaultKind
	Target     string
	InjectedAt time.Time
	Message    string
	Err        error
}

// Controller drives the chaos_engineering_test flow: select, inject, wait,
// verify.
type Controller struct {
	cfg      Config
	injector Injector
	lister   CandidateLister
	runner   *health.Runner
	engine   *recovery.Engine

	mu             sync.Mutex
	maintMode      bool
	disabledUntil  time.Time
}

// NewController builds a Controller. lister may be nil when the only
// candidates needed are non-pod-kill simulations.
func NewController(cfg Config, injector Injector, lister CandidateLister, runner *health.Runner, engine *recovery.Engine) *Controller {
	if cfg.RandSource == nil {
		cfg.RandSource = rand.New(rand.NewSource(1))
	}
	return &Controller{cfg: cfg, injector: injector, lister: lister, runner: runner, engine: engine}
}

// SetMaintenanceMode refuses chaos injection entirely while on, per the
// maintenance-mode supplemented feature.
func (c *Controller) SetMaintenanceMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maintMode = on
}

// disabled reports whether injection is currently refused: either
// maintenance mode is on, or a prior verification failure disabled chaos
// for the remainder of the day.
func (c *Controller) disabled(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maintMode || now.Before(c.disabledUntil)
}

// disableForRestOfDay refuses further injection until the next midnight
// after now, in now's own location, mirroring the original's same-day chaos suspension
// after a verification failure.
func (c *Controller) disableForRestOfDay(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	y, m, d := now.Date()
	c.disabledUntil = time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// InjectOnce selects one fault kind at random and applies it — the Go
// analogue of chaos_engineering_test's np.random.choice(tests) call. It
// does not wait for settle or verify; callers needing the full cycle use
// RunCycle.
func (c *Controller) InjectOnce(ctx context.Context, now time.Time) (Run, bool) {
	if !c.cfg.Enabled || !c.cfg.inWindow(now) || c.disabled(now) {
		return Run{}, false
	}

	kind := allFaults[c.cfg.RandSource.Intn(len(allFaults))]
	target, err := c.pickTarget(ctx, kind)
	if err != nil {
		return Run{ID: uuid.NewString(), Kind: kind, InjectedAt: now, Err: err}, true
	}

	message, err := c.injector.Inject(ctx, kind, target)
	return Run{ID: uuid.NewString(), Kind: kind, Target: target, InjectedAt: now, Message: message, Err: err}, true
}

func (c *Controller) pickTarget(ctx context.Context, kind FaultKind) (string, error) {
	if kind != FaultPodKill || c.lister == nil {
		return "shared-target", nil
	}
	candidates, err := c.lister.ListCandidates(ctx)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no fault-eligible candidates available")
	}
	return candidates[c.cfg.RandSource.Intn(len(candidates))], nil
}

// VerifyRecovery re-runs health checks and, for any issue at Error
// severity or worse, re-plans and re-dispatches recovery — mirroring
// verify_system_recovery's "critical_issues" follow-up pass. It returns
// true if the system had already recovered on its own (no qualifying
// incidents found). When the system has not recovered, it also raises an
// Emergency-severity incident for the run itself and disables further
// chaos injection for the remainder of the day, per the chaos-test
// supplemented feature.
func (c *Controller) VerifyRecovery(ctx context.Context, run Run, now time.Time) (recovered bool, records []domain.RecoveryRecord, emergency *domain.Incident) {
	results := c.runner.RunAll(ctx, now)

	var notRecovered []domain.Incident
	for _, r := range results {
		for _, inc := range r.Incidents {
			if inc.Severity >= domain.SeverityError {
				notRecovered = append(notRecovered, inc)
			}
		}
	}
	if len(notRecovered) == 0 {
		return true, nil, nil
	}

	c.disableForRestOfDay(now)
	inc := domain.Incident{
		ID:              uuid.NewString(),
		Subject:         run.Target,
		Kind:            domain.IssueUnreachable,
		Severity:        domain.SeverityEmergency,
		Confidence:      1.0,
		ObservedAt:      now,
		AutoRecoverable: false,
		Evidence: domain.Evidence{Extra: map[string]interface{}{
			"chaos_run_id":   run.ID,
			"chaos_fault":    string(run.Kind),
			"unrecovered":    len(notRecovered),
		}},
	}

	if c.engine == nil {
		return false, nil, &inc
	}
	plan := c.engine.Plan(notRecovered)
	if len(plan) == 0 {
		return false, nil, &inc
	}
	return false, c.engine.Dispatch(ctx, plan), &inc
}

// RunCycle performs the full chaos_engineering_test flow synchronously:
// inject, sleep settleDelay (honoring ctx cancellation), verify. Intended
// to be launched from its own supervised goroutine since settleDelay is
// typically minutes.
func (c *Controller) RunCycle(ctx context.Context, now time.Time, sleep func(context.Context, time.Duration) error) (Run, bool, bool, []domain.RecoveryRecord, *domain.Incident) {
	run, injected := c.InjectOnce(ctx, now)
	if !injected || run.Err != nil {
		return run, injected, false, nil, nil
	}

	if err := sleep(ctx, c.cfg.settleDelay()); err != nil {
		return run, injected, false, nil, nil
	}

	recovered, records, emergency := c.VerifyRecovery(ctx, run, now.Add(c.cfg.settleDelay()))
	return run, injected, recovered, records, emergency
}
