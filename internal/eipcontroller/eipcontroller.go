// Package eipcontroller is the Eip reconciler. It owns the cloud-address
// side of the binding — allocating an address the first time an Eip is
// seen, keeping its status in sync with what AWS reports, and releasing
// the address when the Eip is deleted.
package eipcontroller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
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
	"github.com/materialize/eip-operator/internal/clusteradapter"
	"github.com/materialize/eip-operator/internal/cloudeip"
	"github.com/materialize/eip-operator/internal/config"
	"github.com/materialize/eip-operator/internal/eiperrors"
	"github.com/materialize/eip-operator/internal/quota"
	"github.com/materialize/eip-operator/internal/requeue"
	"github.com/materialize/eip-operator/internal/sweeper"
	"github.com/materialize/eip-operator/internal/tracing"
)

// Reconciler reconciles a single Eip's cloud-address lifecycle.
type Reconciler struct {
	Cluster *clusteradapter.Adapter
	Cloud   cloudeip.Adapter
	Config  config.Config

	// Quota is optional; when set, Reconcile reports EIP quota
	// utilization after every successful reconcile.
	Quota *quota.Reporter

	// Sweeper is optional; when set, Reconcile runs one orphan sweep after
	// every successful apply, complementing the one-shot sweep at startup.
	Sweeper *sweeper.Sweeper
}

func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	_, err := ctrl.NewControllerManagedBy(mgr).
		For(&eipv2.Eip{}).
		WithOptions(controller.Options{
			RateLimiter:             workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](3*time.Second, 30*time.Second),
			MaxConcurrentReconciles: 5,
		}).
		Build(r)
	if err != nil {
		return fmt.Errorf("failed setting up eip controller: %w", err)
	}
	return nil
}

func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "eip.Reconcile")
	defer span.End()

	logger := log.FromContext(ctx).WithValues("name", req.Name, "namespace", req.Namespace)
	ctx = logr.NewContext(ctx, logger)

	eip, err := r.Cluster.GetEip(ctx, req.NamespacedName)
	if err != nil {
		return ctrl.Result{}, err
	}
	if eip == nil {
		return ctrl.Result{}, nil
	}

	if !eip.DeletionTimestamp.IsZero() {
		return r.reconcileDelete(ctx, eip)
	}

	added, err := r.Cluster.EnsureFinalizer(ctx, eip, config.EipFinalizerName)
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

	if err := r.reconcileApply(ctx, eip); err != nil {
		if eiperrors.KindOf(err) == eiperrors.InvariantViolation {
			logger.Error(err, "invariant violation, will keep retrying")
		}
		return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
	}

	if r.Sweeper != nil {
		if err := r.Sweeper.Run(ctx); err != nil {
			logger.Error(err, "post-hook orphan sweep failed")
		}
	}

	if r.Quota != nil {
		allocated, countErr := r.allocatedCount(ctx)
		if countErr == nil {
			r.Quota.Report(ctx, logger, allocated)
		}
	}

	return ctrl.Result{RequeueAfter: requeue.SteadyState()}, nil
}

// reconcileApply finds the cloud address tagged for this Eip's uid,
// allocating one if none exists yet, and rejects the invariant-broken case
// of more than one address claiming the same uid. Adopting an existing
// address whose state the status already reflects is a no-op: no write is
// issued.
func (r *Reconciler) reconcileApply(ctx context.Context, eip *eipv2.Eip) error {
	logger := logr.FromContextOrDiscard(ctx)

	addrs, err := r.Cloud.DescribeByTag(ctx, config.EipUIDTag, string(eip.UID))
	if err != nil {
		return err
	}

	var addr *cloudeip.Address
	switch len(addrs) {
	case 0:
		podName := podNameHint(eip)
		tags := r.Config.AllocationTags(string(eip.UID), eip.Name, podName, eip.Namespace)
		allocated, err := r.Cloud.Allocate(ctx, tags)
		if err != nil {
			return err
		}
		logger.Info("allocated new address", "allocationId", allocated.AllocationID)
		addr = allocated
	case 1:
		addr = &addrs[0]
	default:
		return eiperrors.MultipleEipsTaggedForPod(string(eip.UID), len(addrs))
	}

	want := eipv2.EipStatus{
		AllocationID:    ptr.To(addr.AllocationID),
		PublicIPAddress: ptr.To(addr.PublicIPAddress),
	}
	if addr.NetworkInterface != "" {
		want.ENI = ptr.To(addr.NetworkInterface)
	}
	if addr.PrivateIPAddress != "" {
		want.PrivateIPAddress = ptr.To(addr.PrivateIPAddress)
	}
	if statusEqual(eip.Status, want) {
		return nil
	}

	updated := &eipv2.Eip{
		TypeMeta:   metav1.TypeMeta{APIVersion: eipv2.GroupVersion.String(), Kind: "Eip"},
		ObjectMeta: metav1.ObjectMeta{Name: eip.Name, Namespace: eip.Namespace},
		Status:     want,
	}
	return r.Cluster.ApplyStatus(ctx, updated)
}

func statusEqual(a, b eipv2.EipStatus) bool {
	eq := func(x, y *string) bool {
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		return *x == *y
	}
	return eq(a.AllocationID, b.AllocationID) &&
		eq(a.PublicIPAddress, b.PublicIPAddress) &&
		eq(a.ENI, b.ENI) &&
		eq(a.PrivateIPAddress, b.PrivateIPAddress)
}

// reconcileDelete releases whatever cloud address(es) are tagged for this
// Eip's uid, then lets the finalizer go.
func (r *Reconciler) reconcileDelete(ctx context.Context, eip *eipv2.Eip) (ctrl.Result, error) {
	logger := logr.FromContextOrDiscard(ctx)

	if !controllerutil.ContainsFinalizer(eip, config.EipFinalizerName) {
		return ctrl.Result{}, nil
	}

	addrs, err := r.Cloud.DescribeByTag(ctx, config.EipUIDTag, string(eip.UID))
	if err != nil {
		return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
	}
	for _, addr := range addrs {
		if err := r.Cloud.DisassociateAndRelease(ctx, addr); err != nil {
			logger.Error(err, "failed to release address during eip deletion", "allocationId", addr.AllocationID)
			return ctrl.Result{RequeueAfter: requeue.OnError()}, nil
		}
	}

	if err := r.Cluster.RemoveFinalizer(ctx, eip, config.EipFinalizerName); err != nil {
		if apierrors.IsConflict(err) {
			return ctrl.Result{Requeue: true}, nil
		}
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

func (r *Reconciler) allocatedCount(ctx context.Context) (int, error) {
	eips, err := r.Cluster.ListEips(ctx, r.Config.Namespace)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range eips {
		if e.Status.AllocationID != nil {
			count++
		}
	}
	return count, nil
}

func podNameHint(eip *eipv2.Eip) string {
	if eip.Spec.Selector.Type == eipv2.PodEipSelectorType && eip.Spec.Selector.Pod != nil {
		return eip.Spec.Selector.Pod.PodName
	}
	return ""
}
