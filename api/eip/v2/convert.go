package v2

import (
	"fmt"

	eipv1 "github.com/materialize/eip-operator/api/eip/v1"
)

// ErrNoPodName is returned by ConvertFromV1 when the v1 object carries no
// pod_name at all. Per the migration's skip rule, the caller should drop
// this instance from the migration rather than treat it as a fatal error.
var ErrNoPodName = fmt.Errorf("v1 spec has no pod_name")

// ConvertFromV1 builds the v2 representation of a v1 Eip, preserving every
// field the installer needs to re-apply the object (name, namespace,
// resourceVersion) and translating the bare pod_name spec into an
// equivalent Pod selector. It refuses objects whose pod_name was entirely
// absent (a LaxEip with a nil PodName) rather than guessing at an empty
// selector, since that indicates the stored object predates pod_name being
// required; the caller skips these instead of aborting the migration.
func ConvertFromV1(lax *eipv1.LaxEip) (*Eip, error) {
	if lax.Spec.PodName == nil {
		return nil, ErrNoPodName
	}

	out := &Eip{
		ObjectMeta: *lax.ObjectMeta.DeepCopy(),
		Spec: EipSpec{
			Selector: EipSelector{
				Type: PodEipSelectorType,
				Pod:  &PodEipSelector{PodName: *lax.Spec.PodName},
			},
		},
		Status: EipStatus{
			AllocationID:     lax.Status.AllocationID,
			PublicIPAddress:  lax.Status.PublicIPAddress,
			ENI:              lax.Status.ENI,
			PrivateIPAddress: lax.Status.PrivateIPAddress,
		},
	}
	out.APIVersion = GroupVersion.String()
	out.Kind = "Eip"
	return out, nil
}
