package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hankooktire/control-plane/internal/clock"
	"github.com/hankooktire/control-plane/internal/domain"
	"github.com/hankooktire/control-plane/internal/recovery"
)

type fakeServiceSource struct {
	body []byte
	err  error
}

func (f fakeServiceSource) FetchMetricsJSON(ctx context.Context) ([]byte, error) { return f.body, f.err }

func TestServiceProbe_HighErrorRateRaisesIncident(t *testing.T) {
	src := fakeServiceSource{body: []byte(`{"error_rate": 0.5, "response_time_ms": 100}`)}
	probe := NewServiceProbe("api", src, nil)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(result.Incidents))
	}
	if result.Incidents[0].Kind != domain.IssueCommunicationIssue {
		t.Fatalf("expected CommunicationIssue, got %v", result.Incidents[0].Kind)
	}
}

func TestServiceProbe_HealthyMetricsYieldNoIncidents(t *testing.T) {
	src := fakeServiceSource{body: []byte(`{"error_rate": 0.01, "response_time_ms": 50}`)}
	probe := NewServiceProbe("api", src, nil)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 0 {
		t.Fatalf("expected no incidents, got %d", len(result.Incidents))
	}
}

func TestServiceProbe_FetchErrorYieldsUnreachable(t *testing.T) {
	src := fakeServiceSource{err: errors.New("connection refused")}
	probe := NewServiceProbe("api", src, nil)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 || result.Incidents[0].Kind != domain.IssueUnreachable {
		t.Fatalf("expected an Unreachable incident, got %+v", result.Incidents)
	}
	if result.Incidents[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected Critical severity on probe failure, got %v", result.Incidents[0].Severity)
	}
}

type fakeRelationalStore struct {
	snap RelationalSnapshot
	err  error
}

func (f fakeRelationalStore) Snapshot(ctx context.Context) (RelationalSnapshot, error) {
	return f.snap, f.err
}

func TestRelationalProbe_ConnectionExhaustionRaisesIncident(t *testing.T) {
	store := fakeRelationalStore{snap: RelationalSnapshot{ActiveConnections: 195}}
	probe := NewRelationalProbe("postgres", store, nil)

	result := probe.Check(context.Background())
	found := false
	for _, inc := range result.Incidents {
		if inc.Severity == domain.SeverityError {
			found = true
		}
	}
	if !found {
		t.Fatal("expected connection-exhaustion incident at Error severity")
	}
}

type fakeCacheStore struct{ snap CacheSnapshot }

func (f fakeCacheStore) Snapshot(ctx context.Context) (CacheSnapshot, error) { return f.snap, nil }

func TestCacheProbe_MemoryPressureRaisesIncident(t *testing.T) {
	store := fakeCacheStore{snap: CacheSnapshot{UsedMemoryBytes: 950, MaxMemoryBytes: 1000}}
	probe := NewCacheProbe("redis", store, nil)

	result := probe.Check(context.Background())
	if len(result.Incidents) == 0 {
		t.Fatal("expected a memory-pressure incident")
	}
}

func TestParseRedisInfo_ExtractsFields(t *testing.T) {
	info := "used_memory:1000\r\nmaxmemory:2000\r\nconnected_clients:5\r\nkeyspace_hits:90\r\nkeyspace_misses:10\r\n"
	snap := parseRedisInfo(info)
	if snap.UsedMemoryBytes != 1000 || snap.MaxMemoryBytes != 2000 || snap.ConnectedClients != 5 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.KeyspaceHitRatio != 0.9 {
		t.Fatalf("expected hit ratio 0.9, got %v", snap.KeyspaceHitRatio)
	}
}

type fakeMessageBusChecker struct {
	dialErr error
	metrics map[string]float64
}

func (f fakeMessageBusChecker) Dial(ctx context.Context) error { return f.dialErr }
func (f fakeMessageBusChecker) ScrapeMetrics(ctx context.Context) (map[string]float64, error) {
	return f.metrics, nil
}

func TestMessageBusProbe_DialFailureYieldsUnreachable(t *testing.T) {
	checker := fakeMessageBusChecker{dialErr: errors.New("no route to host")}
	probe := NewMessageBusProbe("mqtt", checker, nil)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 || result.Incidents[0].Kind != domain.IssueUnreachable {
		t.Fatalf("expected Unreachable incident, got %+v", result.Incidents)
	}
}

func TestMessageBusProbe_QueueDepthRaisesIncident(t *testing.T) {
	checker := fakeMessageBusChecker{metrics: map[string]float64{"queue_depth": 20000, "connected_clients": 5}}
	probe := NewMessageBusProbe("mqtt", checker, nil)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(result.Incidents))
	}
}

type fakeEnumerator struct {
	workloads []WorkloadStatus
	err       error
}

func (f fakeEnumerator) ListWorkloads(ctx context.Context, namespace string) ([]WorkloadStatus, error) {
	return f.workloads, f.err
}

func TestOrchestratorProbe_NotRunningRaisesIncident(t *testing.T) {
	enum := fakeEnumerator{workloads: []WorkloadStatus{{Name: "core-0", Phase: "CrashLoopBackOff"}}}
	probe := NewOrchestratorProbe("orchestrator", "default", enum)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 || result.Incidents[0].Subject != "core-0" {
		t.Fatalf("expected 1 incident for core-0, got %+v", result.Incidents)
	}
}

func TestOrchestratorProbe_HighRestartCountRaisesIncident(t *testing.T) {
	enum := fakeEnumerator{workloads: []WorkloadStatus{{Name: "core-0", Phase: "Running", RestartCount: 9}}}
	probe := NewOrchestratorProbe("orchestrator", "default", enum)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 {
		t.Fatalf("expected 1 incident for high restart count, got %d", len(result.Incidents))
	}
}

type fakeHostSource struct{ cpu, mem, disk float64 }

func (f fakeHostSource) Usage(ctx context.Context) (float64, float64, float64, error) {
	return f.cpu, f.mem, f.disk, nil
}

func TestOrchestratorProbe_EnumerationErrorIsNotAutoRecoverable(t *testing.T) {
	enum := fakeEnumerator{err: errors.New("connection refused")}
	probe := NewOrchestratorProbe("orchestrator", "default", enum)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 {
		t.Fatalf("expected 1 unreachable incident, got %+v", result.Incidents)
	}
	inc := result.Incidents[0]
	if inc.AutoRecoverable {
		t.Fatal("expected the Orchestrator-unreachable incident to be non-auto-recoverable")
	}
	if len(inc.RecommendedActions) != 0 {
		t.Fatalf("expected no recommended actions, got %v", inc.RecommendedActions)
	}
}

func TestOrchestratorUnreachable_ProducesZeroRecoveryDispatches(t *testing.T) {
	enum := fakeEnumerator{err: errors.New("connection refused")}
	probe := NewOrchestratorProbe("orchestrator", "default", enum)
	runner := NewRunner([]Probe{probe}, 10*time.Millisecond, nil)

	results := runner.RunAll(context.Background(), time.Now())
	var incidents []domain.Incident
	for _, r := range results {
		incidents = append(incidents, r.Incidents...)
	}

	clk := clock.NewVirtual(time.Unix(0, 0))
	ledger := clock.NewLedger(clk)
	engine := recovery.NewEngine(ledger, clk, nil, nil, recovery.Config{})
	plan := engine.Plan(incidents)

	if len(plan) != 0 {
		t.Fatalf("expected zero dispatches for an unreachable orchestrator, got %d: %+v", len(plan), plan)
	}
}

func TestRunner_DeadlineExceededOnOrchestratorIsNotAutoRecoverable(t *testing.T) {
	probe := orchestratorSlowProbe{slowProbe{component: "orchestrator", delay: 200 * time.Millisecond}}
	runner := NewRunner([]Probe{probe}, 10*time.Millisecond, nil)

	results := runner.RunAll(context.Background(), time.Now())
	if len(results) != 1 || len(results[0].Incidents) != 1 {
		t.Fatalf("expected 1 unreachable incident, got %+v", results)
	}
	inc := results[0].Incidents[0]
	if inc.AutoRecoverable {
		t.Fatal("expected deadline-exceeded orchestrator incident to be non-auto-recoverable")
	}
}

// orchestratorSlowProbe wraps slowProbe to exercise Runner.RunAll's
// UnreachableRecovery override path without a real WorkloadEnumerator.
type orchestratorSlowProbe struct {
	slowProbe
}

func (o orchestratorSlowProbe) UnreachableRecovery() (bool, []domain.RecoveryAction) {
	return false, nil
}

func TestHostProbe_SaturationRaisesIncidents(t *testing.T) {
	probe := NewHostProbe("host", fakeHostSource{cpu: 95, mem: 50, disk: 50}, nil)
	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 {
		t.Fatalf("expected 1 incident for CPU saturation, got %d", len(result.Incidents))
	}
}

type fakeRegistry struct{ body []byte }

func (f fakeRegistry) FetchStatusJSON(ctx context.Context) ([]byte, error) { return f.body, nil }

func TestFleetProbe_HighOfflineRateIsCriticalAndNotAutoRecoverable(t *testing.T) {
	registry := fakeRegistry{body: []byte(`{"total_sensors": 100, "offline_sensors": 60}`)}
	probe := NewFleetProbe("fleet", registry)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(result.Incidents))
	}
	inc := result.Incidents[0]
	if inc.Severity != domain.SeverityCritical {
		t.Fatalf("expected Critical for 60%% offline, got %v", inc.Severity)
	}
	if inc.AutoRecoverable {
		t.Fatal("expected fleet connectivity incidents to never be auto-recoverable")
	}
}

func TestFleetProbe_LowOfflineRateYieldsNoIncident(t *testing.T) {
	registry := fakeRegistry{body: []byte(`{"total_sensors": 100, "offline_sensors": 5}`)}
	probe := NewFleetProbe("fleet", registry)

	result := probe.Check(context.Background())
	if len(result.Incidents) != 0 {
		t.Fatalf("expected no incidents, got %d", len(result.Incidents))
	}
}

type slowProbe struct {
	component string
	delay     time.Duration
}

func (s slowProbe) Component() string { return s.component }
func (s slowProbe) Check(ctx context.Context) ProbeResult {
	select {
	case <-time.After(s.delay):
		return ProbeResult{Component: s.component}
	case <-ctx.Done():
		return ProbeResult{Component: s.component, Err: ctx.Err()}
	}
}

func TestRunner_DeadlineExceededYieldsUnreachableIncident(t *testing.T) {
	runner := NewRunner([]Probe{slowProbe{component: "slow", delay: 200 * time.Millisecond}}, 10*time.Millisecond, nil)
	results := runner.RunAll(context.Background(), time.Now())

	if len(results) != 1 || len(results[0].Incidents) != 1 {
		t.Fatalf("expected 1 unreachable incident, got %+v", results)
	}
	if results[0].Incidents[0].Kind != domain.IssueUnreachable {
		t.Fatalf("expected Unreachable, got %v", results[0].Incidents[0].Kind)
	}
}

func TestBuildSnapshot_NoIncidentsYieldsFullScore(t *testing.T) {
	snap := BuildSnapshot([]ProbeResult{{Component: "api"}}, time.Now())
	if snap.Score != 100 {
		t.Fatalf("expected score 100 with no incidents, got %d", snap.Score)
	}
	if !snap.Components[0].Healthy {
		t.Fatal("expected component with no incidents to be healthy")
	}
}

func TestBuildSnapshot_DeductsForIncidents(t *testing.T) {
	results := []ProbeResult{
		{Component: "api", Incidents: []domain.Incident{{Severity: domain.SeverityCritical}}},
	}
	snap := BuildSnapshot(results, time.Now())
	if snap.Score != 60 {
		t.Fatalf("expected score 60 after one Critical incident, got %d", snap.Score)
	}
	if snap.Components[0].Healthy {
		t.Fatal("expected component with an incident to be unhealthy")
	}
}
