package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +genclient
// +kubebuilder:resource:path=eips,scope=Namespaced
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status

// Eip is the legacy (pre-selector) binding of a cloud Elastic IP address to
// a single named pod. It is superseded by v2.Eip, which replaces PodName
// with a tagged selector. This type is retained only so the installer can
// serve it as a conversion source during the v1->v2 migration window.
type Eip struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   EipSpec   `json:"spec,omitempty"`
	Status EipStatus `json:"status,omitempty"`
}

// EipSpec identifies the pod this Eip is bound to by name.
type EipSpec struct {
	// +kubebuilder:validation:Required
	PodName string `json:"pod_name"`
}

// EipStatus mirrors v2.EipStatus; kept identical across versions so the
// migration can copy it field-for-field.
type EipStatus struct {
	// +optional
	AllocationID *string `json:"allocation_id,omitempty"`
	// +optional
	PublicIPAddress *string `json:"public_ip_address,omitempty"`
	// +optional
	ENI *string `json:"eni,omitempty"`
	// +optional
	PrivateIPAddress *string `json:"private_ip_address,omitempty"`
}

// +kubebuilder:object:root=true

// EipList contains a list of Eip.
type EipList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Eip `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Eip{}, &EipList{})
}
