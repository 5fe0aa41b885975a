// Package supervisor runs the control plane's tick loop :
// one cycle runs health checks, plans and dispatches recovery, runs
// predictive scaling, and publishes results to the event bus, then sleeps
// until the next tick or a cancellation. Grounded on
// original_source/monitoring/auto-recovery/self_healing_system.py's
// continuous_health_monitoring main loop, adapted to an errgroup-supervised
// worker set instead of a single asyncio task.
package supervisor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/hankooktire/control-plane/internal/clock"
	"github.com/hankooktire/control-plane/internal/domain"
	"github.com/hankooktire/control-plane/internal/eventbus"
	"github.com/hankooktire/control-plane/internal/fusion"
	"github.com/hankooktire/control-plane/internal/health"
	"github.com/hankooktire/control-plane/internal/recovery"
	"github.com/hankooktire/control-plane/internal/scaler"
)

var tracer = otel.Tracer("internal/supervisor")

// Topic names published on the shared event bus.
const (
	TopicHealthSnapshot     = "health.snapshot"
	TopicHealthSnapshotJSON = "health.snapshot.json"
	TopicIncidentsJSON      = "incidents.json"
	TopicRecoveryRecords    = "recovery.records"
	TopicScaleResults       = "scaler.results"
)

// Config parameterizes the tick cadence and error backoff, mirroring the
// original's 30s normal interval / 60s post-error backoff.
type Config struct {
	TickInterval time.Duration
	ErrorBackoff time.Duration
}

func (c Config) tickInterval() time.Duration {
	if c.TickInterval <= 0 {
		return 30 * time.Second
	}
	return c.TickInterval
}

func (c Config) errorBackoff() time.Duration {
	if c.ErrorBackoff <= 0 {
		return 60 * time.Second
	}
	return c.ErrorBackoff
}

// Supervisor owns one tick cycle: health → rank → plan → dispatch → scale.
type Supervisor struct {
	cfg     Config
	clk     clock.Clock
	runner  *health.Runner
	engine  *recovery.Engine
	scaler  *scaler.Scaler
	bus     *eventbus.Bus
	metrics func(metric string)
	notify  func(incidents []domain.Incident, records []domain.RecoveryRecord)
}

// New builds a Supervisor wired to its per-tick collaborators. metrics may
// be nil; when set, it is invoked once per tick phase for observability
// hooks (Prometheus counters live at the wiring edge, not in this
// package). notify may be nil; when set, it is invoked once per tick with
// that cycle's incidents and recovery records; what it forwards to the
// Notifier capability is decided at the wiring edge, outside this package
// (same boundary as the metrics hook).
func New(cfg Config, clk clock.Clock, runner *health.Runner, engine *recovery.Engine, sc *scaler.Scaler, bus *eventbus.Bus, metrics func(metric string), notify ...func(incidents []domain.Incident, records []domain.RecoveryRecord)) *Supervisor {
	if metrics == nil {
		metrics = func(string) {}
	}
	var notifyFn func(incidents []domain.Incident, records []domain.RecoveryRecord)
	if len(notify) > 0 {
		notifyFn = notify[0]
	}
	if notifyFn == nil {
		notifyFn = func([]domain.Incident, []domain.RecoveryRecord) {}
	}
	return &Supervisor{cfg: cfg, clk: clk, runner: runner, engine: engine, scaler: sc, bus: bus, metrics: metrics, notify: notifyFn}
}

// Tick runs exactly one monitoring cycle, returning the health snapshot
// and the recovery/scale outcomes it produced. Errors from any phase are
// returned rather than swallowed; Run decides how to back off.
func (s *Supervisor) Tick(ctx context.Context, scaleMetrics map[string]float64) (domain.HealthSnapshot, []domain.RecoveryRecord, []scaler.ScaleResult, error) {
	ctx, span := tracer.Start(ctx, "supervisor.tick")
	defer span.End()

	start := s.clk.WallNow()

	results := s.runner.RunAll(ctx, start)
	snapshot := health.BuildSnapshot(results, start)
	s.metrics("health_check_cycle")
	if s.bus != nil {
		s.bus.Publish(TopicHealthSnapshot, snapshot)
		s.bus.PublishSnapshotJSON(TopicHealthSnapshotJSON, snapshot)
	}

	var allIncidents []domain.Incident
	for _, r := range results {
		allIncidents = append(allIncidents, r.Incidents...)
	}
	allIncidents = fusion.Rank(allIncidents)
	if s.bus != nil && len(allIncidents) > 0 {
		s.bus.PublishIncidentsJSON(TopicIncidentsJSON, allIncidents)
	}

	var records []domain.RecoveryRecord
	if s.engine != nil {
		plan := s.engine.Plan(allIncidents)
		if len(plan) > 0 {
			records = s.engine.Dispatch(ctx, plan)
			s.metrics("recovery_dispatch_cycle")
			if s.bus != nil {
				s.bus.Publish(TopicRecoveryRecords, records)
			}
		}
	}

	var scaleResults []scaler.ScaleResult
	if s.scaler != nil {
		scaleResults = s.scaler.Run(ctx, scaleMetrics)
		s.metrics("predictive_scaling_cycle")
		if s.bus != nil && scaleResults != nil {
			s.bus.Publish(TopicScaleResults, scaleResults)
		}
	}

	s.notify(allIncidents, records)

	return snapshot, records, scaleResults, nil
}

// SetMaintenanceMode forwards the maintenance toggle to the recovery
// engine: while on, incidents still surface and are still passed to
// notify, but Plan selects no action for any of them, so nothing is
// dispatched (the maintenance-mode supplemented feature).
func (s *Supervisor) SetMaintenanceMode(on bool) {
	if s.engine != nil {
		s.engine.SetMaintenanceMode(on)
	}
}

// Run drives Tick forever until ctx is cancelled, sleeping TickInterval
// between cycles and ErrorBackoff after a failed one — the Go analogue of
// continuous_health_monitoring's while-True/asyncio.sleep loop. metricsFn
// supplied to New fires every tick; scaleMetricsFn supplies the live
// metrics snapshot the scaler needs each cycle.
func (s *Supervisor) Run(ctx context.Context, scaleMetricsFn func() map[string]float64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var metrics map[string]float64
		if scaleMetricsFn != nil {
			metrics = scaleMetricsFn()
		}

		_, _, _, err := s.Tick(ctx, metrics)

		wait := s.cfg.tickInterval()
		if err != nil {
			wait = s.cfg.errorBackoff()
		}

		timer := s.clk.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
}

// Group runs Supervisor.Run alongside auxiliary background workers
// (chaos injector ticks, cache/storage maintenance) under one
// errgroup.Group: the first worker to return a non-nil error cancels the
// shared context and Group.Wait returns that error, same contract as the
// teacher's goroutine-supervision idiom.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewGroup derives a cancellable errgroup from parent.
func NewGroup(parent context.Context) (*Group, context.Context) {
	g, ctx := errgroup.WithContext(parent)
	return &Group{g: g, ctx: ctx}, ctx
}

// Go schedules fn as a supervised worker.
func (sg *Group) Go(fn func() error) { sg.g.Go(fn) }

// Wait blocks until every worker returns, yielding the first error.
func (sg *Group) Wait() error { return sg.g.Wait() }
