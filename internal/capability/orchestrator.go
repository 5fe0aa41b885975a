package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

// scaleReplicasPatch is the typed shape of a strategic-merge replica-count
// patch; ptr.To avoids a throwaway local for the *int32 field.
type scaleReplicasPatch struct {
	Spec struct {
		Replicas *int32 `json:"replicas"`
	} `json:"spec"`
}

// ClientGoOrchestrator implements internal/recovery.Orchestrator against
// a real cluster, grounded on restart_pod (rolling-restart annotation
// patch) and scale_deployment (read-then-patch replica count, clamped).
// It satisfies recovery.Orchestrator structurally rather than importing
// it, keeping internal/recovery free of a k8s.io/client-go dependency.
type ClientGoOrchestrator struct {
	Clientset kubernetes.Interface
	Namespace string
}

// NewClientGoOrchestrator builds an Orchestrator scoped to namespace.
func NewClientGoOrchestrator(clientset kubernetes.Interface, namespace string) *ClientGoOrchestrator {
	return &ClientGoOrchestrator{Clientset: clientset, Namespace: namespace}
}

// RestartWorkload triggers a rolling restart by patching the deployment's
// pod template annotation, mirroring restart_pod's
// kubectl.kubernetes.io/restartedAt patch.
func (o *ClientGoOrchestrator) RestartWorkload(ctx context.Context, target string) error {
	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]interface{}{
						"kubectl.kubernetes.io/restartedAt": time.Now().Format(time.RFC3339),
					},
				},
			},
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("restart workload %s: encode patch: %w", target, err)
	}

	_, err = o.Clientset.AppsV1().Deployments(o.Namespace).Patch(ctx, target, types.StrategicMergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("restart workload %s: %w", target, err)
	}
	return nil
}

// CurrentReplicas reads the deployment's configured replica count.
func (o *ClientGoOrchestrator) CurrentReplicas(ctx context.Context, target string) (int, error) {
	dep, err := o.Clientset.AppsV1().Deployments(o.Namespace).Get(ctx, target, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("current replicas %s: %w", target, err)
	}
	if dep.Spec.Replicas == nil {
		return 1, nil
	}
	return int(*dep.Spec.Replicas), nil
}

// ScaleWorkload patches the deployment's replica count by delta, clamped
// to [minReplicas, maxReplicas] — grounded on scale_deployment's
// min(current+1, 10)/max(current-1, 1) clamping, generalized to
// caller-supplied bounds so both the recovery engine's wider window and
// the scaler's tighter proactive window share one implementation.
func (o *ClientGoOrchestrator) ScaleWorkload(ctx context.Context, target string, delta, minReplicas, maxReplicas int) (int, error) {
	current, err := o.CurrentReplicas(ctx, target)
	if err != nil {
		return 0, err
	}

	desired := current + delta
	if desired < minReplicas {
		desired = minReplicas
	}
	if desired > maxReplicas {
		desired = maxReplicas
	}
	if desired == current {
		return current, nil
	}

	var patch scaleReplicasPatch
	patch.Spec.Replicas = ptr.To(int32(desired))
	body, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("scale workload %s: encode patch: %w", target, err)
	}

	_, err = o.Clientset.AppsV1().Deployments(o.Namespace).Patch(ctx, target, types.StrategicMergePatchType, body, metav1.PatchOptions{})
	if err != nil {
		return 0, fmt.Errorf("scale workload %s: %w", target, err)
	}
	return desired, nil
}
