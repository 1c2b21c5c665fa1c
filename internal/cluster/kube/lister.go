package kube

import (
	"context"
	"fmt"
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"schedscaler/internal/cluster"
)

// Lister lists Deployments/StatefulSets in the configured namespaces.
type Lister struct {
	client     kubernetes.Interface
	namespaces []string
	kinds      []string
	selector   string
}

var _ cluster.Lister = (*Lister)(nil)

func NewLister(client kubernetes.Interface, cfg Config) (*Lister, error) {
	kinds, err := NormalizeKinds(cfg.Kinds)
	if err != nil {
		return nil, err
	}
	ns := cfg.Namespaces
	if len(ns) == 0 {
		ns = []string{metav1.NamespaceAll}
	}
	return &Lister{client: client, namespaces: ns, kinds: kinds, selector: cfg.LabelSelector}, nil
}

// List returns every matching resource, sorted by Ref for stable logs.
// Any API error fails the whole list.
func (l *Lister) List(ctx context.Context) ([]cluster.Resource, error) {
	opts := metav1.ListOptions{LabelSelector: l.selector}
	var out []cluster.Resource
	for _, ns := range l.namespaces {
		for _, kind := range l.kinds {
			var (
				items []cluster.Resource
				err   error
			)
			switch kind {
			case cluster.KindDeployment:
				items, err = l.listDeployments(ctx, ns, opts)
			case cluster.KindStatefulSet:
				items, err = l.listStatefulSets(ctx, ns, opts)
			}
			if err != nil {
				return nil, fmt.Errorf("list %s in %q: %w", kind, ns, err)
			}
			out = append(out, items...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Ref, out[j].Ref
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Name < b.Name
	})
	return out, nil
}

func (l *Lister) listDeployments(ctx context.Context, ns string, opts metav1.ListOptions) ([]cluster.Resource, error) {
	list, err := l.client.AppsV1().Deployments(ns).List(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]cluster.Resource, 0, len(list.Items))
	for i := range list.Items {
		d := &list.Items[i]
		out = append(out, cluster.Resource{
			Ref:         cluster.Ref{Kind: cluster.KindDeployment, Namespace: d.Namespace, Name: d.Name},
			Annotations: d.Annotations,
			Replicas:    replicasOrDefault(d.Spec.Replicas),
		})
	}
	return out, nil
}

func (l *Lister) listStatefulSets(ctx context.Context, ns string, opts metav1.ListOptions) ([]cluster.Resource, error) {
	list, err := l.client.AppsV1().StatefulSets(ns).List(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]cluster.Resource, 0, len(list.Items))
	for i := range list.Items {
		s := &list.Items[i]
		out = append(out, cluster.Resource{
			Ref:         cluster.Ref{Kind: cluster.KindStatefulSet, Namespace: s.Namespace, Name: s.Name},
			Annotations: s.Annotations,
			Replicas:    replicasOrDefault(s.Spec.Replicas),
		})
	}
	return out, nil
}

// The API server defaults a nil spec.replicas to 1.
func replicasOrDefault(p *int32) int32 {
	if p == nil {
		return 1
	}
	return *p
}
