package health

import (
	"context"
	"time"

	"github.com/hankooktire/control-plane/internal/domain"
)

// HostResourceSource reads CPU/memory/disk usage of the host running the
// core , grounded on check_system_resources'
// psutil-based metrics.
type HostResourceSource interface {
	Usage(ctx context.Context) (cpuPercent, memoryPercent, diskPercent float64, err error)
}

// K8sMetricsHostResourceSource reads node-level usage from the
// metrics.k8s.io API .
type K8sMetricsHostResourceSource struct {
	// NodeUsageFunc fetches {cpu, memory, disk}-percent for NodeName from a
	// metrics.k8s.io NodeMetrics client. Held as a func value so this probe
	// has no hard compile-time dependency on a live cluster in tests.
	NodeUsageFunc func(ctx context.Context, nodeName string) (cpuPercent, memoryPercent, diskPercent float64, err error)
	NodeName      string
}

func (s *K8sMetricsHostResourceSource) Usage(ctx context.Context) (float64, float64, float64, error) {
	return s.NodeUsageFunc(ctx, s.NodeName)
}

// DefaultHostRules is the Host probe's rule table, grounded on
// check_system_resources' cpu/memory/disk keyword-matched rules.
var DefaultHostRules = []Rule{
	{
		Name:            "cpu_saturated",
		Condition:       func(m map[string]float64) bool { return m["cpu_usage_percent"] > 90 },
		IssueKind:       domain.IssueSensorMalfunction,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionScaleUp},
		CooldownSeconds: 300,
		AutoRecoverable: true,
	},
	{
		Name:            "memory_saturated",
		Condition:       func(m map[string]float64) bool { return m["memory_usage_percent"] > 90 },
		IssueKind:       domain.IssueSensorMalfunction,
		Severity:        domain.SeverityError,
		Actions:         []domain.RecoveryAction{domain.ActionScaleUp, domain.ActionRestartTarget},
		CooldownSeconds: 300,
		AutoRecoverable: true,
	},
	{
		Name:            "disk_saturated",
		Condition:       func(m map[string]float64) bool { return m["disk_usage_percent"] > 85 },
		IssueKind:       domain.IssueSensorMalfunction,
		Severity:        domain.SeverityWarning,
		Actions:         []domain.RecoveryAction{domain.ActionCleanupResources, domain.ActionRotateLogs},
		CooldownSeconds: 3600,
		AutoRecoverable: true,
	},
}

// HostProbe is the host-resource health probe.
type HostProbe struct {
	component string
	source    HostResourceSource
	rules     []Rule
}

func NewHostProbe(component string, source HostResourceSource, rules []Rule) *HostProbe {
	if rules == nil {
		rules = DefaultHostRules
	}
	return &HostProbe{component: component, source: source, rules: rules}
}

func (p *HostProbe) Component() string { return p.component }

func (p *HostProbe) Check(ctx context.Context) ProbeResult {
	now := time.Now()
	cpu, mem, disk, err := p.source.Usage(ctx)
	if err != nil {
		return ProbeResult{
			Component: p.component,
			Incidents: []domain.Incident{unreachableIncident(p.component, now, err.Error())},
			Err:       err,
		}
	}

	metrics := map[string]float64{
		"cpu_usage_percent":    cpu,
		"memory_usage_percent": mem,
		"disk_usage_percent":   disk,
	}
	return ProbeResult{
		Component: p.component,
		Metrics:   metrics,
		Incidents: evaluate(p.component, metrics, p.rules, now),
	}
}
