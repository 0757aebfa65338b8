// Package clusteradapter is the cluster adapter: every read or write the
// controllers make against the Kubernetes API — Eips, Pods, Nodes,
// finalizers, and server-side-apply patches — goes through Adapter.
package clusteradapter

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	eipv2 "github.com/materialize/eip-operator/api/eip/v2"
)

// FieldManager is the stable field manager every server-side-apply write in
// this operator uses, so re-applying the same object never flags another
// controller's fields as conflicting.
const FieldManager = "eip.materialize.cloud"

// Adapter is every Kubernetes API operation the reconcilers and sweeper
// need.
type Adapter struct {
	client.Client
}

func New(c client.Client) *Adapter {
	return &Adapter{Client: c}
}

// GetEip fetches an Eip by namespaced name, returning (nil, nil) if it does
// not exist.
func (a *Adapter) GetEip(ctx context.Context, key types.NamespacedName) (*eipv2.Eip, error) {
	eip := &eipv2.Eip{}
	if err := a.Get(ctx, key, eip); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting eip %s: %w", key, err)
	}
	return eip, nil
}

// ListEips returns every Eip in namespace ("" for all namespaces).
func (a *Adapter) ListEips(ctx context.Context, namespace string) ([]eipv2.Eip, error) {
	list := &eipv2.EipList{}
	if err := a.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, fmt.Errorf("listing eips: %w", err)
	}
	return list.Items, nil
}

// ListPods returns every Pod in namespace ("" for all namespaces).
func (a *Adapter) ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error) {
	list := &corev1.PodList{}
	if err := a.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	return list.Items, nil
}

// GetPod fetches a Pod by namespaced name, returning (nil, nil) if it does
// not exist.
func (a *Adapter) GetPod(ctx context.Context, key types.NamespacedName) (*corev1.Pod, error) {
	pod := &corev1.Pod{}
	if err := a.Get(ctx, key, pod); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting pod %s: %w", key, err)
	}
	return pod, nil
}

// ListNodes returns every Node in the cluster.
func (a *Adapter) ListNodes(ctx context.Context) ([]corev1.Node, error) {
	list := &corev1.NodeList{}
	if err := a.List(ctx, list); err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return list.Items, nil
}

// GetNode fetches a Node by name, returning (nil, nil) if it does not
// exist.
func (a *Adapter) GetNode(ctx context.Context, name string) (*corev1.Node, error) {
	node := &corev1.Node{}
	if err := a.Get(ctx, types.NamespacedName{Name: name}, node); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting node %s: %w", name, err)
	}
	return node, nil
}

// Apply server-side-applies obj under FieldManager, forcing ownership of
// any field this operator sets. Field ownership is tracked by the API
// server rather than inferred from a diff, so another manager's fields are
// never clobbered. managedFields must be unset in an apply request body, so
// it is cleared here in case obj came straight from a Get.
func (a *Adapter) Apply(ctx context.Context, obj client.Object) error {
	obj.SetManagedFields(nil)
	if err := a.Patch(ctx, obj, client.Apply, client.FieldOwner(FieldManager), client.ForceOwnership); err != nil {
		return fmt.Errorf("applying %T %s/%s: %w", obj, obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// ApplyStatus server-side-applies obj's status subresource under
// FieldManager.
func (a *Adapter) ApplyStatus(ctx context.Context, obj client.Object) error {
	obj.SetManagedFields(nil)
	if err := a.Status().Patch(ctx, obj, client.Apply, client.FieldOwner(FieldManager), client.ForceOwnership); err != nil {
		return fmt.Errorf("applying status of %T %s/%s: %w", obj, obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}

// EnsureFinalizer adds finalizer to obj and persists the change if it was
// not already present, reporting whether a write happened so callers can
// return early and let the update event re-trigger them.
func (a *Adapter) EnsureFinalizer(ctx context.Context, obj client.Object, finalizer string) (bool, error) {
	if controllerutil.ContainsFinalizer(obj, finalizer) {
		return false, nil
	}
	controllerutil.AddFinalizer(obj, finalizer)
	if err := a.Update(ctx, obj); err != nil {
		return false, fmt.Errorf("adding finalizer %s: %w", finalizer, err)
	}
	return true, nil
}

// RemoveFinalizer removes finalizer from obj and persists the change if it
// was present.
func (a *Adapter) RemoveFinalizer(ctx context.Context, obj client.Object, finalizer string) error {
	if !controllerutil.ContainsFinalizer(obj, finalizer) {
		return nil
	}
	controllerutil.RemoveFinalizer(obj, finalizer)
	if err := a.Update(ctx, obj); err != nil {
		return fmt.Errorf("removing finalizer %s: %w", finalizer, err)
	}
	return nil
}

// DeleteEip deletes eip, tolerating it already being gone.
func (a *Adapter) DeleteEip(ctx context.Context, eip *eipv2.Eip) error {
	if err := a.Delete(ctx, eip); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting eip %s/%s: %w", eip.Namespace, eip.Name, err)
	}
	return nil
}

// PurgeLegacyPodFinalizer removes a single finalizer from pod's finalizer
// list by a test-then-remove JSON patch addressed by array index: the
// "test" op confirms the finalizer is still at the index we observed, so a
// concurrent modification aborts the whole patch instead of deleting the
// wrong entry.
func (a *Adapter) PurgeLegacyPodFinalizer(ctx context.Context, pod *corev1.Pod, finalizer string) error {
	idx := -1
	for i, f := range pod.Finalizers {
		if f == finalizer {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	patch := []map[string]any{
		{"op": "test", "path": fmt.Sprintf("/metadata/finalizers/%d", idx), "value": finalizer},
		{"op": "remove", "path": fmt.Sprintf("/metadata/finalizers/%d", idx)},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshaling legacy finalizer patch: %w", err)
	}
	if err := a.Patch(ctx, pod, client.RawPatch(types.JSONPatchType, body)); err != nil {
		if apierrors.IsConflict(err) || apierrors.IsInvalid(err) {
			// the finalizer moved or was already removed concurrently; the
			// next sweep will observe the new state and retry if needed.
			return nil
		}
		return fmt.Errorf("purging legacy finalizer from pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
	return nil
}
