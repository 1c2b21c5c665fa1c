// Package kube implements cluster.Lister and cluster.Scaler on top of client-go.
package kube

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"schedscaler/internal/cluster"
)

// Config controls how resources are found.
//
// Empty Namespaces means all namespaces. Empty Kinds means Deployments and
// StatefulSets.
type Config struct {
	Kubeconfig    string
	Namespaces    []string
	Kinds         []string
	LabelSelector string
	QPS           float32
	Burst         int
}

// NewClientset builds a clientset: in-cluster when running in a pod, otherwise
// from the kubeconfig path (explicit, $KUBECONFIG, then ~/.kube/config).
func NewClientset(cfg Config) (kubernetes.Interface, error) {
	rc, err := restConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	if cfg.QPS > 0 {
		rc.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		rc.Burst = cfg.Burst
	}
	rc.UserAgent = "schedscaler"
	return kubernetes.NewForConfig(rc)
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if p := strings.TrimSpace(kubeconfig); p != "" {
		return clientcmd.BuildConfigFromFlags("", p)
	}
	if _, ok := os.LookupEnv("KUBERNETES_SERVICE_HOST"); ok {
		return rest.InClusterConfig()
	}
	if p, ok := os.LookupEnv("KUBECONFIG"); ok && strings.TrimSpace(p) != "" {
		return clientcmd.BuildConfigFromFlags("", p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return clientcmd.BuildConfigFromFlags("", filepath.Join(home, ".kube", "config"))
	}
	return nil, errors.New("could not create client-go config")
}

// NormalizeKinds validates kind names (case-insensitive) and returns them in
// canonical form, deduplicated.
func NormalizeKinds(kinds []string) ([]string, error) {
	if len(kinds) == 0 {
		return []string{cluster.KindDeployment, cluster.KindStatefulSet}, nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		var canon string
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "deployment", "deployments", "deploy":
			canon = cluster.KindDeployment
		case "statefulset", "statefulsets", "sts":
			canon = cluster.KindStatefulSet
		default:
			return nil, fmt.Errorf("unsupported kind %q", k)
		}
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
	}
	return out, nil
}
