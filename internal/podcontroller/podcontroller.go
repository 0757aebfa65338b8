// Package podcontroller is the Pod reconciler. It watches labeled pods,
// autocreates their Eip if asked to, resolves the pod's ENI, associates
// the bound address with that ENI when it doesn't already match, and
// publishes the result back onto the pod as annotations.
package podcontroller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	eipv2 "github.com/materialize/eip-operator/api/eip/v2"
	"github.com/materialize/eip-operator/internal/cloudeip"
	"github.com/materialize/eip-operator/internal/clusteradapter"
	"github.com/materialize/eip-operator/internal/config"
	"github.com/materialize/eip-operator/internal/eiperrors"
	"github.com/materialize/eip-operator/internal/requeue"
	"github.com/materialize/eip-operator/internal/selector"
	"github.com/materialize/eip-operator/internal/tracing"
)

// Reconciler reconciles a single pod's ENI association with its bound Eip.
type Reconciler struct {
	Cluster *clusteradapter.Adapter
	Cloud   cloudeip.Adapter
	Config  config.Config
}

func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	_, err := ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Pod{}).
		WithOptions(controller.Options{
			RateLimiter:             workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](3*time.Second, 30*time.Second),
			MaxConcurrentReconciles: 5,
		}).
		Build(r)
	if err != nil {
		return fmt.Errorf("failed setting up pod controller: %w", err)
	}
	return nil
}

func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "pod.Reconcile")
	defer span.End()

	logger := log.FromContext(ctx).WithValues("name", req.Name, "namespace", req.Namespace)
	ctx = logr.NewContext(ctx, logger)

	pod, err := r.Cluster.GetPod(ctx, req.NamespacedName)
	if err != nil {
		return ctrl.Result{}, err
	}
	if pod == nil {
		return ctrl.Result{}, nil
	}

	if !shouldManage(pod) {
		return ctrl.Result{}, nil
	}

	if !pod.DeletionTimestamp.IsZero() {
		return r.reconcileDelete(ctx, pod)
	}

	added, err := r.Cluster.EnsureFinalizer(ctx, pod, config.PodFinalizerName)
	if err != nil {
		if apierrors.IsConflict(err) {
			return ctrl.Result{Requeue: true}, nil
		}
		return ctrl.Result{}, err
	}
	if added {
		// the finalizer write re-triggers this reconcile.
		return ctrl.Result{}, nil
	}

	if err := r.reconcileApply(ctx, pod); err != nil {
		if eiperrors.KindOf(err) == eiperrors.Retryable {
			return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
		}
		logr.FromContextOrDiscard(ctx).Error(err, "failed to apply pod")
		return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
	}

	return ctrl.Result{RequeueAfter: requeue.SteadyState()}, nil
}

func shouldManage(pod *corev1.Pod) bool {
	_, managed := pod.Labels[config.ManageEipLabel]
	return managed
}

func shouldAutocreate(pod *corev1.Pod) bool {
	v, ok := pod.Labels[config.AutocreateEipLabel]
	return ok && strings.EqualFold(v, "true")
}

// reconcileApply drives one labeled pod toward its bound address:
// autocreate -> find the bound Eip -> resolve the ENI -> associate if the
// cloud side is stale -> publish status and annotations.
func (r *Reconciler) reconcileApply(ctx context.Context, pod *corev1.Pod) error {
	logger := logr.FromContextOrDiscard(ctx)

	if shouldAutocreate(pod) {
		if err := r.ensureEipForPod(ctx, pod); err != nil {
			return err
		}
	}

	if pod.Status.PodIP == "" || pod.Spec.NodeName == "" {
		return eiperrors.RetryableErr(fmt.Errorf("pod has no pod IP or node name assigned yet"))
	}

	eip, err := r.findBoundEip(ctx, pod)
	if err != nil {
		return err
	}
	if eip == nil {
		return eiperrors.RetryableErr(fmt.Errorf("no eip selects pod %s/%s yet", pod.Namespace, pod.Name))
	}
	if eip.AllocationID() == "" {
		return eiperrors.RetryableErr(fmt.Errorf("eip %s/%s has no allocation id yet", eip.Namespace, eip.Name))
	}

	eni, err := r.resolvePodENI(ctx, pod)
	if err != nil {
		return err
	}

	addr, err := r.Cloud.DescribeByAllocationID(ctx, eip.AllocationID())
	if err != nil {
		return err
	}
	if addr == nil {
		return eiperrors.RetryableErr(fmt.Errorf("allocation %s no longer exists", eip.AllocationID()))
	}

	if addr.NetworkInterface != eni || addr.PrivateIPAddress != pod.Status.PodIP {
		logger.Info("associating address with pod eni", "allocationId", addr.AllocationID, "eni", eni)
		if _, err := r.Cloud.Associate(ctx, addr.AllocationID, eni, pod.Status.PodIP); err != nil {
			return err
		}
		addr.NetworkInterface = eni
		addr.PrivateIPAddress = pod.Status.PodIP
	}

	if err := r.Cluster.ApplyStatus(ctx, eipStatusSkeleton(eip, addr)); err != nil {
		return err
	}

	return r.annotatePod(ctx, pod, addr.AllocationID, addr.PublicIPAddress)
}

// eipStatusSkeleton builds the minimal object an apply of eip's status
// needs, carrying the full observed cloud state. The status apply shares
// one field manager with the Eip reconciler, so every owned status field
// must be restated on each apply or the server would interpret its absence
// as a deletion.
func eipStatusSkeleton(eip *eipv2.Eip, addr *cloudeip.Address) *eipv2.Eip {
	out := &eipv2.Eip{
		TypeMeta:   metav1.TypeMeta{APIVersion: eipv2.GroupVersion.String(), Kind: "Eip"},
		ObjectMeta: metav1.ObjectMeta{Name: eip.Name, Namespace: eip.Namespace},
	}
	if addr.AllocationID != "" {
		out.Status.AllocationID = ptr.To(addr.AllocationID)
	}
	if addr.PublicIPAddress != "" {
		out.Status.PublicIPAddress = ptr.To(addr.PublicIPAddress)
	}
	if addr.NetworkInterface != "" {
		out.Status.ENI = ptr.To(addr.NetworkInterface)
	}
	if addr.PrivateIPAddress != "" {
		out.Status.PrivateIPAddress = ptr.To(addr.PrivateIPAddress)
	}
	return out
}

// ensureEipForPod creates an Eip selecting this pod by name if one doesn't
// already exist; the apply is idempotent so racing reconciles converge on
// the same object.
func (r *Reconciler) ensureEipForPod(ctx context.Context, pod *corev1.Pod) error {
	eips, err := r.Cluster.ListEips(ctx, pod.Namespace)
	if err != nil {
		return err
	}
	if selector.EipForPod(pod, eips) != nil {
		return nil
	}

	eip := &eipv2.Eip{
		TypeMeta: metav1.TypeMeta{APIVersion: eipv2.GroupVersion.String(), Kind: "Eip"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      pod.Name,
			Namespace: pod.Namespace,
		},
		Spec: eipv2.EipSpec{
			Selector: eipv2.EipSelector{
				Type: eipv2.PodEipSelectorType,
				Pod:  &eipv2.PodEipSelector{PodName: pod.Name},
			},
		},
	}
	return r.Cluster.Apply(ctx, eip)
}

// findBoundEip resolves which Eip (if any) claims this pod, feeding the
// selector engine a snapshot of nodes and of the other managed pods so a
// Node selector satisfied by several nodes settles on one deterministically.
func (r *Reconciler) findBoundEip(ctx context.Context, pod *corev1.Pod) (*eipv2.Eip, error) {
	eips, err := r.Cluster.ListEips(ctx, pod.Namespace)
	if err != nil {
		return nil, err
	}

	nodes, err := r.Cluster.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	pods, err := r.Cluster.ListPods(ctx, pod.Namespace)
	if err != nil {
		return nil, err
	}
	claimants := make([]corev1.Pod, 0, len(pods))
	for _, p := range pods {
		if shouldManage(&p) {
			claimants = append(claimants, p)
		}
	}

	engine := selector.Engine{Nodes: nodes, Claimants: claimants}
	return engine.EipForPod(pod, eips), nil
}

// resolvePodENI prefers the VPC CNI annotation recording the pod's actual
// ENI, falling back to a DescribeInstances lookup against the node's
// providerID when the annotation hasn't landed yet.
func (r *Reconciler) resolvePodENI(ctx context.Context, pod *corev1.Pod) (string, error) {
	if raw, ok := pod.Annotations[config.PodENIAnnotationKey]; ok {
		if eni, err := eniFromAnnotation(raw); err == nil && eni != "" {
			return eni, nil
		}
	}

	node, err := r.Cluster.GetNode(ctx, pod.Spec.NodeName)
	if err != nil {
		return "", err
	}
	if node == nil || node.Spec.ProviderID == "" {
		return "", eiperrors.RetryableErr(fmt.Errorf("node %s has no providerID yet", pod.Spec.NodeName))
	}
	inst, err := r.Cloud.DescribeInstanceByProviderID(ctx, node.Spec.ProviderID, pod.Status.PodIP)
	if err != nil {
		return "", err
	}
	return inst.NetworkInterface, nil
}

// eniDescription is the shape of each entry in the pod-eni annotation; only
// the first entry is consulted.
type eniDescription struct {
	ENIID string `json:"eniId"`
}

func eniFromAnnotation(raw string) (string, error) {
	var entries []eniDescription
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return "", fmt.Errorf("decoding %s annotation: %w", config.PodENIAnnotationKey, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%s annotation had no entries", config.PodENIAnnotationKey)
	}
	return entries[0].ENIID, nil
}

// annotatePod publishes the bound address's allocation id and public IP
// onto the pod: the allocation id for operators inspecting
// `kubectl get pod -o yaml`, the public IP for external-dns to pick up.
// The apply carries only the annotations so this operator never takes
// ownership of fields the kubelet or scheduler manage.
func (r *Reconciler) annotatePod(ctx context.Context, pod *corev1.Pod, allocationID, publicIP string) error {
	if pod.Annotations[config.AllocationIDAnnotationKey] == allocationID &&
		(publicIP == "" || pod.Annotations[config.ExternalDNSTargetAnnotationKey] == publicIP) {
		return nil
	}
	updated := &corev1.Pod{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        pod.Name,
			Namespace:   pod.Namespace,
			Annotations: map[string]string{config.AllocationIDAnnotationKey: allocationID},
		},
	}
	if publicIP != "" {
		updated.Annotations[config.ExternalDNSTargetAnnotationKey] = publicIP
	}
	return r.Cluster.Apply(ctx, updated)
}

// reconcileDelete runs when a managed pod is going away: disassociate the
// address from this pod's ENI (but don't release it — the Eip controller
// owns release), clear the association half of the Eip's status, delete
// the Eip if this pod autocreated it, then drop the finalizer.
func (r *Reconciler) reconcileDelete(ctx context.Context, pod *corev1.Pod) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(pod, config.PodFinalizerName) {
		return ctrl.Result{}, nil
	}

	eip, err := r.findBoundEip(ctx, pod)
	if err != nil {
		return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
	}
	if eip != nil && eip.AllocationID() != "" {
		addr, err := r.Cloud.DescribeByAllocationID(ctx, eip.AllocationID())
		if err != nil {
			return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
		}
		if addr != nil && addr.AssociationID != "" {
			if err := r.Cloud.Disassociate(ctx, addr.AssociationID); err != nil {
				return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
			}
		}
		detached := cloudeip.Address{AllocationID: eip.AllocationID()}
		if eip.Status.PublicIPAddress != nil {
			detached.PublicIPAddress = *eip.Status.PublicIPAddress
		}
		if err := r.Cluster.ApplyStatus(ctx, eipStatusSkeleton(eip, &detached)); err != nil {
			return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
		}
	}

	// an autocreated Eip is deleted with its pod even when the Eip
	// controller hasn't allocated an address for it yet — otherwise a pod
	// deleted in that window leaves behind an Eip that still counts as
	// live, and the address allocated for it later is never released. The
	// Eip's own destroy finalizer releases anything already allocated.
	if shouldAutocreate(pod) {
		target := eip
		if target == nil {
			target = &eipv2.Eip{ObjectMeta: metav1.ObjectMeta{Name: pod.Name, Namespace: pod.Namespace}}
		}
		if err := r.Cluster.DeleteEip(ctx, target); err != nil {
			return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
		}
	}

	if err := r.Cluster.RemoveFinalizer(ctx, pod, config.PodFinalizerName); err != nil {
		if apierrors.IsConflict(err) {
			return ctrl.Result{Requeue: true}, nil
		}
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}
