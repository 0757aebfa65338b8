// Package crdinstall applies the merged v1+v2 Eip CRD at startup and
// migrates any objects still stored as v1 up to v2.
package crdinstall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	eipv1 "github.com/materialize/eip-operator/api/eip/v1"
	eipv2 "github.com/materialize/eip-operator/api/eip/v2"
	"github.com/materialize/eip-operator/internal/clusteradapter"
)

// establishedTimeout bounds how long Install waits for the API server to
// report the CRD Established.
const establishedTimeout = 10 * time.Second

const crdName = "eips.materialize.cloud"

// BuildCRD returns the merged CustomResourceDefinition serving both v1 (for
// in-flight clients during a rollout) and v2 (the storage version).
func BuildCRD() *apiextensionsv1.CustomResourceDefinition {
	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: crdName},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: eipv2.GroupVersion.Group,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Plural:   "eips",
				Singular: "eip",
				Kind:     "Eip",
				ListKind: "EipList",
			},
			Scope: apiextensionsv1.NamespaceScoped,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{
					Name:    eipv1.GroupVersion.Version,
					Served:  true,
					Storage: false,
					Schema:  laxSchema(),
					Subresources: &apiextensionsv1.CustomResourceSubresources{
						Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
					},
					AdditionalPrinterColumns: printerColumns(".spec.pod_name"),
				},
				{
					Name:    eipv2.GroupVersion.Version,
					Served:  true,
					Storage: true,
					Schema:  laxSchema(),
					Subresources: &apiextensionsv1.CustomResourceSubresources{
						Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
					},
					AdditionalPrinterColumns: printerColumns(".spec.selector.type"),
				},
			},
		},
	}
}

// printerColumns is the kubectl column set shared by both served versions;
// only the selector column's path differs, since v1 has no selector union.
func printerColumns(selectorPath string) []apiextensionsv1.CustomResourceColumnDefinition {
	return []apiextensionsv1.CustomResourceColumnDefinition{
		{Name: "AllocationID", Type: "string", JSONPath: ".status.allocation_id"},
		{Name: "PublicIP", Type: "string", JSONPath: ".status.public_ip_address"},
		{Name: "Selector", Type: "string", JSONPath: selectorPath},
		{Name: "ENI", Type: "string", JSONPath: ".status.eni"},
		{Name: "PrivateIP", Type: "string", JSONPath: ".status.private_ip_address"},
	}
}

func laxSchema() *apiextensionsv1.CustomResourceValidation {
	preserve := true
	return &apiextensionsv1.CustomResourceValidation{
		OpenAPIV3Schema: &apiextensionsv1.JSONSchemaProps{
			Type:                   "object",
			XPreserveUnknownFields: &preserve,
		},
	}
}

// Install server-side-applies the merged CRD and waits for it to report
// Established, bounded by establishedTimeout.
func Install(ctx context.Context, adapter *clusteradapter.Adapter) error {
	crd := BuildCRD()
	crd.APIVersion = apiextensionsv1.SchemeGroupVersion.String()
	crd.Kind = "CustomResourceDefinition"
	if err := adapter.Apply(ctx, crd); err != nil {
		return fmt.Errorf("applying eip CRD: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, establishedTimeout)
	defer cancel()
	return wait.PollUntilContextCancel(ctx, 250*time.Millisecond, true, func(ctx context.Context) (bool, error) {
		current := &apiextensionsv1.CustomResourceDefinition{}
		if err := adapter.Get(ctx, client.ObjectKey{Name: crdName}, current); err != nil {
			return false, nil
		}
		for _, cond := range current.Status.Conditions {
			if cond.Type == apiextensionsv1.Established && cond.Status == apiextensionsv1.ConditionTrue {
				return true, nil
			}
		}
		return false, nil
	})
}

// MigrateV1ToV2 rewrites every Eip still observable under v1 through the
// v2 schema. The write is a full replace (not a server-side apply): the
// legacy spec.pod_name may have been written by any field manager, and a
// replace discards it outright instead of leaving a foreign-owned field
// behind under the preserve-unknown-fields schema. resourceVersion is
// preserved so a concurrent writer fails the replace rather than being
// silently overwritten. The migration is idempotent: it writes the same
// v2 payload no matter how many times it runs.
func MigrateV1ToV2(ctx context.Context, adapter *clusteradapter.Adapter) error {
	logger := logr.FromContextOrDiscard(ctx).WithName("crdinstall")

	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(eipv1.GroupVersion.WithKind("EipList"))
	if err := adapter.List(ctx, list); err != nil {
		return fmt.Errorf("listing v1 eips: %w", err)
	}

	for i := range list.Items {
		raw, err := list.Items[i].MarshalJSON()
		if err != nil {
			return fmt.Errorf("marshaling v1 eip: %w", err)
		}
		var lax eipv1.LaxEip
		if err := json.Unmarshal(raw, &lax); err != nil {
			return fmt.Errorf("decoding v1 eip as lax: %w", err)
		}

		v2obj, err := eipv2.ConvertFromV1(&lax)
		if err != nil {
			if errors.Is(err, eipv2.ErrNoPodName) {
				logger.Info("skipping v1 eip with no pod_name", "name", lax.Name, "namespace", lax.Namespace)
				continue
			}
			return fmt.Errorf("converting eip %s/%s to v2: %w", lax.Namespace, lax.Name, err)
		}
		v2obj.ResourceVersion = lax.ResourceVersion
		v2obj.ManagedFields = nil

		if err := adapter.Update(ctx, v2obj); err != nil {
			return fmt.Errorf("replacing migrated eip %s/%s: %w", v2obj.Namespace, v2obj.Name, err)
		}
		if err := adapter.Status().Update(ctx, v2obj); err != nil {
			return fmt.Errorf("replacing migrated eip %s/%s status: %w", v2obj.Namespace, v2obj.Name, err)
		}
	}
	return nil
}
