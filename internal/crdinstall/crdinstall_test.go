package crdinstall

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eipv1 "github.com/materialize/eip-operator/api/eip/v1"
	eipv2 "github.com/materialize/eip-operator/api/eip/v2"
)

func TestBuildCRDServesBothVersionsWithV2AsStorage(t *testing.T) {
	crd := BuildCRD()
	require.Len(t, crd.Spec.Versions, 2)

	byName := map[string]bool{}
	for _, v := range crd.Spec.Versions {
		assert.True(t, v.Served, "version %s should be served", v.Name)
		byName[v.Name] = v.Storage
	}
	assert.False(t, byName["v1"], "v1 must not be the storage version")
	assert.True(t, byName["v2"], "v2 must be the storage version")
}

func TestConvertFromV1RefusesMissingPodName(t *testing.T) {
	_, err := eipv2.ConvertFromV1(&eipv1.LaxEip{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, eipv2.ErrNoPodName))
}

func TestConvertFromV1BuildsPodSelector(t *testing.T) {
	podName := "web-0"
	lax := &eipv1.LaxEip{Spec: eipv1.LaxEipSpec{PodName: &podName}}

	out, err := eipv2.ConvertFromV1(lax)
	require.NoError(t, err)
	assert.Equal(t, eipv2.PodEipSelectorType, out.Spec.Selector.Type)
	require.NotNil(t, out.Spec.Selector.Pod)
	assert.Equal(t, podName, out.Spec.Selector.Pod.PodName)
}
