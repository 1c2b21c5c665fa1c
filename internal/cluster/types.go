// Package cluster describes the scalable resources the reconciler works on and
// the two collaborators it needs: something that lists them and something that
// sets their replica count.
package cluster

import (
	"context"
	"fmt"
)

const (
	KindDeployment  = "Deployment"
	KindStatefulSet = "StatefulSet"
)

// Ref identifies a scalable resource.
type Ref struct {
	Kind      string
	Namespace string
	Name      string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %s/%s", r.Kind, r.Namespace, r.Name)
}

// Resource is a read-only snapshot taken at list time.
type Resource struct {
	Ref         Ref
	Annotations map[string]string
	Replicas    int32
}

type Lister interface {
	List(ctx context.Context) ([]Resource, error)
}

type Scaler interface {
	Scale(ctx context.Context, ref Ref, replicas int32) error
}
