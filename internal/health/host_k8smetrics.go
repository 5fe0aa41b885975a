package health

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
)

// NewK8sNodeUsageFunc builds the NodeUsageFunc backing
// K8sMetricsHostResourceSource from a live metrics.k8s.io clientset,
// dividing each NodeMetrics reading by the node's allocatable capacity
// .
func NewK8sNodeUsageFunc(core kubernetes.Interface, metrics metricsclientset.Interface) func(ctx context.Context, nodeName string) (float64, float64, float64, error) {
	return func(ctx context.Context, nodeName string) (float64, float64, float64, error) {
		node, err := core.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
		if err != nil {
			return 0, 0, 0, fmt.Errorf("fetch node %s: %w", nodeName, err)
		}
		usage, err := metrics.MetricsV1beta1().NodeMetricses().Get(ctx, nodeName, metav1.GetOptions{})
		if err != nil {
			return 0, 0, 0, fmt.Errorf("fetch node metrics %s: %w", nodeName, err)
		}

		cpuPct := percentOfAllocatable(usage.Usage[corev1.ResourceCPU], node.Status.Allocatable[corev1.ResourceCPU])
		memPct := percentOfAllocatable(usage.Usage[corev1.ResourceMemory], node.Status.Allocatable[corev1.ResourceMemory])
		// metrics.k8s.io exposes no disk figure; ephemeral-storage
		// allocatable is the closest proxy available without a node agent.
		diskPct := percentOfAllocatable(usage.Usage[corev1.ResourceEphemeralStorage], node.Status.Allocatable[corev1.ResourceEphemeralStorage])
		return cpuPct, memPct, diskPct, nil
	}
}

func percentOfAllocatable(used, total resource.Quantity) float64 {
	t := total.MilliValue()
	if t == 0 {
		return 0
	}
	return float64(used.MilliValue()) / float64(t) * 100
}
