package clusteradapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	eipv2 "github.com/materialize/eip-operator/api/eip/v2"
)

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))
	require.NoError(t, eipv2.AddToScheme(scheme))
	return scheme
}

func TestEnsureAndRemoveFinalizer(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p", Namespace: "ns"}}
	fc := fake.NewClientBuilder().WithScheme(newTestScheme(t)).WithObjects(pod).Build()
	a := New(fc)
	ctx := context.Background()

	added, err := a.EnsureFinalizer(ctx, pod, "eip.materialize.cloud/pod")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Contains(t, pod.Finalizers, "eip.materialize.cloud/pod")

	// idempotent: adding again doesn't duplicate, error, or write
	added, err = a.EnsureFinalizer(ctx, pod, "eip.materialize.cloud/pod")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, pod.Finalizers, 1)

	require.NoError(t, a.RemoveFinalizer(ctx, pod, "eip.materialize.cloud/pod"))
	assert.NotContains(t, pod.Finalizers, "eip.materialize.cloud/pod")
}

func TestPurgeLegacyPodFinalizer(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "p",
			Namespace:  "ns",
			Finalizers: []string{"other/finalizer", "eip.aws.materialize.com/legacy", "another/one"},
		},
	}
	fc := fake.NewClientBuilder().WithScheme(newTestScheme(t)).WithObjects(pod).Build()
	a := New(fc)
	ctx := context.Background()

	require.NoError(t, a.PurgeLegacyPodFinalizer(ctx, pod, "eip.aws.materialize.com/legacy"))
	assert.Equal(t, []string{"other/finalizer", "another/one"}, pod.Finalizers)

	// no-op when finalizer already absent
	require.NoError(t, a.PurgeLegacyPodFinalizer(ctx, pod, "eip.aws.materialize.com/legacy"))
}

func TestDeleteEipIsIdempotent(t *testing.T) {
	eip := &eipv2.Eip{ObjectMeta: metav1.ObjectMeta{Name: "e1", Namespace: "ns"}}
	fc := fake.NewClientBuilder().WithScheme(newTestScheme(t)).WithObjects(eip).Build()
	a := New(fc)
	ctx := context.Background()

	require.NoError(t, a.DeleteEip(ctx, eip))

	got, err := a.GetEip(ctx, types.NamespacedName{Namespace: "ns", Name: "e1"})
	require.NoError(t, err)
	assert.Nil(t, got)

	// deleting again is a no-op, not NotFound surfaced as an error
	require.NoError(t, a.DeleteEip(ctx, eip))
}

func TestGetEipNotFoundReturnsNilNil(t *testing.T) {
	fc := fake.NewClientBuilder().WithScheme(newTestScheme(t)).Build()
	a := New(fc)

	eip, err := a.GetEip(context.Background(), types.NamespacedName{Namespace: "ns", Name: "missing"})
	require.NoError(t, err)
	assert.Nil(t, eip)
}
