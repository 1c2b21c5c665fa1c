package kube

import (
	"context"
	"fmt"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"schedscaler/internal/cluster"
)

// Scaler sets replicas through the scale subresource, so it needs only
// the deployments/scale and statefulsets/scale permissions.
type Scaler struct {
	client kubernetes.Interface
}

var _ cluster.Scaler = (*Scaler)(nil)

func NewScaler(client kubernetes.Interface) *Scaler {
	return &Scaler{client: client}
}

type scaleClient interface {
	GetScale(ctx context.Context, name string, opts metav1.GetOptions) (*autoscalingv1.Scale, error)
	UpdateScale(ctx context.Context, name string, scale *autoscalingv1.Scale, opts metav1.UpdateOptions) (*autoscalingv1.Scale, error)
}

func (s *Scaler) scaleClientFor(ref cluster.Ref) (scaleClient, error) {
	switch ref.Kind {
	case cluster.KindDeployment:
		return s.client.AppsV1().Deployments(ref.Namespace), nil
	case cluster.KindStatefulSet:
		return s.client.AppsV1().StatefulSets(ref.Namespace), nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", ref.Kind)
	}
}

// Scale reads the current scale and writes the new replica count. The read
// carries the resourceVersion, so a concurrent change makes the update fail
// instead of being overwritten. The reconcile loop keeps the failed decision
// and applies it again on its next pass.
func (s *Scaler) Scale(ctx context.Context, ref cluster.Ref, replicas int32) error {
	sc, err := s.scaleClientFor(ref)
	if err != nil {
		return err
	}
	cur, err := sc.GetScale(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get scale %s: %w", ref, err)
	}
	if cur.Spec.Replicas == replicas {
		return nil
	}
	next := cur.DeepCopy()
	next.Spec.Replicas = replicas
	if _, err := sc.UpdateScale(ctx, ref.Name, next, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update scale %s: %w", ref, err)
	}
	return nil
}
