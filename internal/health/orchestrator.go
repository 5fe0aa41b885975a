package health

import (
	"context"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/hankooktire/control-plane/internal/domain"
)

// WorkloadStatus is one managed workload's phase and restart count
// , grounded on check_kubernetes_pods.
type WorkloadStatus struct {
	Name         string
	Phase        string
	RestartCount int
}

// WorkloadEnumerator lists the managed workloads in a namespace.
type WorkloadEnumerator interface {
	ListWorkloads(ctx context.Context, namespace string) ([]WorkloadStatus, error)
}

// ClientGoWorkloadEnumerator is the real enumerator over client-go, scoped
// to pods whose name carries prefix — mirroring check_kubernetes_pods'
// "hankook-" filter.
type ClientGoWorkloadEnumerator struct {
	Clientset kubernetes.Interface
	Prefix    string
}

func NewClientGoWorkloadEnumerator(clientset kubernetes.Interface, prefix string) *ClientGoWorkloadEnumerator {
	return &ClientGoWorkloadEnumerator{Clientset: clientset, Prefix: prefix}
}

func (e *ClientGoWorkloadEnumerator) ListWorkloads(ctx context.Context, namespace string) ([]WorkloadStatus, error) {
	pods, err := e.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	var out []WorkloadStatus
	for _, pod := range pods.Items {
		if e.Prefix != "" && !strings.HasPrefix(pod.Name, e.Prefix) {
			continue
		}
		restarts := 0
		for _, cs := range pod.Status.ContainerStatuses {
			restarts += int(cs.RestartCount)
		}
		out = append(out, WorkloadStatus{
			Name:         pod.Name,
			Phase:        string(pod.Status.Phase),
			RestartCount: restarts,
		})
	}
	return out, nil
}

// OrchestratorProbe is the orchestrator health probe. Unlike
// the other probes it emits per-workload incidents directly rather than
// through a shared metrics map, since each workload is independently
// actionable (grounded on check_kubernetes_pods).
type OrchestratorProbe struct {
	component string
	namespace string
	enum      WorkloadEnumerator
}

func NewOrchestratorProbe(component, namespace string, enum WorkloadEnumerator) *OrchestratorProbe {
	return &OrchestratorProbe{component: component, namespace: namespace, enum: enum}
}

func (p *OrchestratorProbe) Component() string { return p.component }

// UnreachableRecovery reports the Orchestrator probe's own unreachable
// incident as not auto-recoverable: the only candidate actions
// (restart/failover) are themselves Orchestrator capability calls, so
// dispatching one against the Orchestrator because the Orchestrator is
// unreachable would loop back into the very capability that just failed.
func (p *OrchestratorProbe) UnreachableRecovery() (bool, []domain.RecoveryAction) {
	return false, nil
}

func (p *OrchestratorProbe) Check(ctx context.Context) ProbeResult {
	now := time.Now()
	workloads, err := p.enum.ListWorkloads(ctx, p.namespace)
	if err != nil {
		return ProbeResult{
			Component: p.component,
			Incidents: []domain.Incident{unreachableIncidentWithRecovery(p.component, now, err.Error(), false, nil)},
			Err:       err,
		}
	}

	var incidents []domain.Incident
	metrics := map[string]float64{"workload_count": float64(len(workloads))}
	for _, w := range workloads {
		if w.Phase != "Running" {
			incidents = append(incidents, domain.Incident{
				Subject: w.Name, Kind: domain.IssueSensorMalfunction, Severity: domain.SeverityError,
				Confidence: 1.0, ObservedAt: now, AutoRecoverable: true,
				RecommendedActions: []domain.RecoveryAction{domain.ActionRestartTarget},
				CooldownSeconds:    300,
				Evidence:           domain.Evidence{Extra: map[string]interface{}{"phase": w.Phase}},
			})
		}
		if w.RestartCount > 5 {
			incidents = append(incidents, domain.Incident{
				Subject: w.Name, Kind: domain.IssueSensorMalfunction, Severity: domain.SeverityWarning,
				Confidence: 1.0, ObservedAt: now, AutoRecoverable: true,
				RecommendedActions: []domain.RecoveryAction{domain.ActionScaleUp, domain.ActionUpdateConfig},
				CooldownSeconds:    600,
				Evidence:           domain.Evidence{Metrics: map[string]float64{"restart_count": float64(w.RestartCount)}},
			})
		}
	}

	return ProbeResult{Component: p.component, Metrics: metrics, Incidents: incidents}
}
