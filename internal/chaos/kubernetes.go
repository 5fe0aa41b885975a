package chaos

import (
	"context"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ClientGoCandidateLister is the real CandidateLister, scoped to the same
// "hankook-*, not postgres, Running" filter as chaos_pod_kill: it excludes
// the relational store outright (a killed postgres pod is a real outage,
// not a recoverable chaos drill) and anything not currently Running (no
// point injecting a fault into a workload that's already down).
type ClientGoCandidateLister struct {
	Clientset kubernetes.Interface
	Namespace string
	Prefix    string
}

func NewClientGoCandidateLister(clientset kubernetes.Interface, namespace, prefix string) *ClientGoCandidateLister {
	return &ClientGoCandidateLister{Clientset: clientset, Namespace: namespace, Prefix: prefix}
}

func (l *ClientGoCandidateLister) ListCandidates(ctx context.Context) ([]string, error) {
	pods, err := l.Clientset.CoreV1().Pods(l.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, pod := range pods.Items {
		if l.Prefix != "" && !strings.HasPrefix(pod.Name, l.Prefix) {
			continue
		}
		if strings.Contains(pod.Name, "postgres") {
			continue
		}
		if pod.Status.Phase != "Running" {
			continue
		}
		candidates = append(candidates, pod.Name)
	}
	return candidates, nil
}
