package podcontroller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	eipv2 "github.com/materialize/eip-operator/api/eip/v2"
	"github.com/materialize/eip-operator/internal/cloudeip"
	"github.com/materialize/eip-operator/internal/clusteradapter"
	"github.com/materialize/eip-operator/internal/config"
)

type fakeCloud struct {
	cloudeip.Adapter
	addrs map[string]*cloudeip.Address
	inst  *cloudeip.Instance

	associated    []string
	disassociated []string
}

func (f *fakeCloud) DescribeByAllocationID(_ context.Context, allocationID string) (*cloudeip.Address, error) {
	return f.addrs[allocationID], nil
}

func (f *fakeCloud) Associate(_ context.Context, allocationID, eni, privateIP string) (string, error) {
	f.associated = append(f.associated, allocationID)
	return "assoc-1", nil
}

func (f *fakeCloud) Disassociate(_ context.Context, associationID string) error {
	f.disassociated = append(f.disassociated, associationID)
	return nil
}

func (f *fakeCloud) DescribeInstanceByProviderID(_ context.Context, _, _ string) (*cloudeip.Instance, error) {
	return f.inst, nil
}

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))
	require.NoError(t, eipv2.AddToScheme(scheme))
	return scheme
}

func managedPod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  "ns",
			Labels:     map[string]string{config.ManageEipLabel: ""},
			Finalizers: []string{config.PodFinalizerName},
		},
		Spec:   corev1.PodSpec{NodeName: "node-1"},
		Status: corev1.PodStatus{PodIP: "10.0.0.5"},
	}
}

func TestReconcileAssociatesAddressFromENIAnnotation(t *testing.T) {
	pod := managedPod("web-0")
	pod.Annotations = map[string]string{config.PodENIAnnotationKey: `[{"eniId":"eni-123"}]`}
	eip := &eipv2.Eip{
		ObjectMeta: metav1.ObjectMeta{Name: "web-0", Namespace: "ns"},
		Spec:       eipv2.EipSpec{Selector: eipv2.EipSelector{Type: eipv2.PodEipSelectorType, Pod: &eipv2.PodEipSelector{PodName: "web-0"}}},
		Status:     eipv2.EipStatus{AllocationID: strPtr("eipalloc-a")},
	}
	fc := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(pod, eip).WithStatusSubresource(&eipv2.Eip{}).Build()
	cloud := &fakeCloud{addrs: map[string]*cloudeip.Address{
		"eipalloc-a": {AllocationID: "eipalloc-a", PublicIPAddress: "203.0.113.9"},
	}}
	r := &Reconciler{Cluster: clusteradapter.New(fc), Cloud: cloud, Config: config.Config{ClusterName: "test"}}

	res, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Name: "web-0", Namespace: "ns"}})
	require.NoError(t, err)
	assert.Greater(t, res.RequeueAfter.Seconds(), float64(0))
	assert.Equal(t, []string{"eipalloc-a"}, cloud.associated)

	gotEip := &eipv2.Eip{}
	require.NoError(t, fc.Get(context.Background(), types.NamespacedName{Name: "web-0", Namespace: "ns"}, gotEip))
	require.NotNil(t, gotEip.Status.ENI)
	assert.Equal(t, "eni-123", *gotEip.Status.ENI)

	gotPod := &corev1.Pod{}
	require.NoError(t, fc.Get(context.Background(), types.NamespacedName{Name: "web-0", Namespace: "ns"}, gotPod))
	assert.Equal(t, "203.0.113.9", gotPod.Annotations[config.ExternalDNSTargetAnnotationKey])
	assert.Equal(t, "eipalloc-a", gotPod.Annotations[config.AllocationIDAnnotationKey])
}

func TestReconcileFallsBackToProviderIDWhenNoAnnotation(t *testing.T) {
	pod := managedPod("web-1")
	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
		Spec:       corev1.NodeSpec{ProviderID: "aws:///us-east-1a/i-0123456789"},
	}
	eip := &eipv2.Eip{
		ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "ns"},
		Spec:       eipv2.EipSpec{Selector: eipv2.EipSelector{Type: eipv2.PodEipSelectorType, Pod: &eipv2.PodEipSelector{PodName: "web-1"}}},
		Status:     eipv2.EipStatus{AllocationID: strPtr("eipalloc-b")},
	}
	fc := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(pod, node, eip).WithStatusSubresource(&eipv2.Eip{}).Build()
	cloud := &fakeCloud{
		addrs: map[string]*cloudeip.Address{"eipalloc-b": {AllocationID: "eipalloc-b"}},
		inst:  &cloudeip.Instance{InstanceID: "i-0123456789", NetworkInterface: "eni-999", PrivateIPAddress: "10.0.0.5"},
	}
	r := &Reconciler{Cluster: clusteradapter.New(fc), Cloud: cloud, Config: config.Config{ClusterName: "test"}}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Name: "web-1", Namespace: "ns"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"eipalloc-b"}, cloud.associated)
}

func TestReconcileUnmanagedPodIsNoOp(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "plain", Namespace: "ns"}}
	fc := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(pod).Build()
	r := &Reconciler{Cluster: clusteradapter.New(fc), Cloud: &fakeCloud{}, Config: config.Config{ClusterName: "test"}}

	res, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Name: "plain", Namespace: "ns"}})
	require.NoError(t, err)
	assert.Equal(t, ctrl.Result{}, res)
}

func TestReconcileAutocreatesEipWhenLabeled(t *testing.T) {
	pod := managedPod("auto-0")
	pod.Labels[config.AutocreateEipLabel] = "true"
	pod.Annotations = map[string]string{config.PodENIAnnotationKey: `[{"eniId":"eni-auto"}]`}
	fc := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(pod).WithStatusSubresource(&eipv2.Eip{}).Build()
	cloud := &fakeCloud{addrs: map[string]*cloudeip.Address{}}
	r := &Reconciler{Cluster: clusteradapter.New(fc), Cloud: cloud, Config: config.Config{ClusterName: "test"}}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Name: "auto-0", Namespace: "ns"}})
	require.NoError(t, err)

	got := &eipv2.Eip{}
	require.NoError(t, fc.Get(context.Background(), types.NamespacedName{Name: "auto-0", Namespace: "ns"}, got))
	require.NotNil(t, got.Spec.Selector.Pod)
	assert.Equal(t, "auto-0", got.Spec.Selector.Pod.PodName)
}

func TestReconcileDeleteOfAutocreatedPodRemovesEip(t *testing.T) {
	pod := managedPod("auto-1")
	pod.Labels[config.AutocreateEipLabel] = "true"
	now := metav1.Now()
	pod.DeletionTimestamp = &now
	eip := &eipv2.Eip{
		ObjectMeta: metav1.ObjectMeta{Name: "auto-1", Namespace: "ns"},
		Spec:       eipv2.EipSpec{Selector: eipv2.EipSelector{Type: eipv2.PodEipSelectorType, Pod: &eipv2.PodEipSelector{PodName: "auto-1"}}},
		Status: eipv2.EipStatus{
			AllocationID: strPtr("eipalloc-c"),
			ENI:          strPtr("eni-c"),
		},
	}
	fc := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(pod, eip).WithStatusSubresource(&eipv2.Eip{}).Build()
	cloud := &fakeCloud{addrs: map[string]*cloudeip.Address{
		"eipalloc-c": {AllocationID: "eipalloc-c", AssociationID: "assoc-c"},
	}}
	r := &Reconciler{Cluster: clusteradapter.New(fc), Cloud: cloud, Config: config.Config{ClusterName: "test"}}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Name: "auto-1", Namespace: "ns"}})
	require.NoError(t, err)

	gotEip := &eipv2.Eip{}
	err = fc.Get(context.Background(), types.NamespacedName{Name: "auto-1", Namespace: "ns"}, gotEip)
	assert.True(t, apierrors.IsNotFound(err), "expected autocreated eip to be deleted, got err=%v", err)
	assert.Equal(t, []string{"assoc-c"}, cloud.disassociated)
}

func TestReconcileDeleteOfAutocreatedPodRemovesUnallocatedEip(t *testing.T) {
	// the pod is deleted before the Eip controller ever allocated an
	// address for its autocreated Eip; the Eip must still be deleted or
	// the later allocation is leaked forever.
	pod := managedPod("auto-2")
	pod.Labels[config.AutocreateEipLabel] = "true"
	now := metav1.Now()
	pod.DeletionTimestamp = &now
	eip := &eipv2.Eip{
		ObjectMeta: metav1.ObjectMeta{Name: "auto-2", Namespace: "ns"},
		Spec:       eipv2.EipSpec{Selector: eipv2.EipSelector{Type: eipv2.PodEipSelectorType, Pod: &eipv2.PodEipSelector{PodName: "auto-2"}}},
	}
	fc := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(pod, eip).WithStatusSubresource(&eipv2.Eip{}).Build()
	cloud := &fakeCloud{addrs: map[string]*cloudeip.Address{}}
	r := &Reconciler{Cluster: clusteradapter.New(fc), Cloud: cloud, Config: config.Config{ClusterName: "test"}}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Name: "auto-2", Namespace: "ns"}})
	require.NoError(t, err)

	gotEip := &eipv2.Eip{}
	err = fc.Get(context.Background(), types.NamespacedName{Name: "auto-2", Namespace: "ns"}, gotEip)
	assert.True(t, apierrors.IsNotFound(err), "expected unallocated autocreated eip to be deleted, got err=%v", err)
	assert.Empty(t, cloud.disassociated)
}

func TestReconcileMissingPodIsNoOp(t *testing.T) {
	fc := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	r := &Reconciler{Cluster: clusteradapter.New(fc), Cloud: &fakeCloud{}, Config: config.Config{ClusterName: "test"}}

	res, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Name: "gone", Namespace: "ns"}})
	require.NoError(t, err)
	assert.Equal(t, ctrl.Result{}, res)
}

func strPtr(s string) *string { return &s }
