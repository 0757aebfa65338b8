package v2

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +genclient
// +kubebuilder:resource:path=eips,scope=Namespaced
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:storageversion
// +kubebuilder:printcolumn:name="AllocationID",type=string,JSONPath=`.status.allocation_id`
// +kubebuilder:printcolumn:name="PublicIP",type=string,JSONPath=`.status.public_ip_address`
// +kubebuilder:printcolumn:name="Selector",type=string,JSONPath=`.spec.selector.type`
// +kubebuilder:printcolumn:name="ENI",type=string,JSONPath=`.status.eni`
// +kubebuilder:printcolumn:name="PrivateIP",type=string,JSONPath=`.status.private_ip_address`

// Eip binds a cloud Elastic IP address to whatever Pod or Node its Selector
// currently resolves to. The binding target is re-evaluated on every
// reconcile; it is not fixed at creation time.
type Eip struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   EipSpec   `json:"spec,omitempty"`
	Status EipStatus `json:"status,omitempty"`
}

// EipSpec carries the selector that determines which cluster object this
// address is currently bound to.
type EipSpec struct {
	// +kubebuilder:validation:Required
	Selector EipSelector `json:"selector"`
}

// EipSelectorType discriminates the variant held by an EipSelector.
// +kubebuilder:validation:Enum=Pod;Node
type EipSelectorType string

const (
	// PodEipSelectorType binds by exact pod name.
	PodEipSelectorType EipSelectorType = "Pod"
	// NodeEipSelectorType binds to whichever node currently carries a
	// superset of the given labels, breaking ties lexicographically by
	// node name.
	NodeEipSelectorType EipSelectorType = "Node"
)

// EipSelector is a discriminated union: exactly one of Pod or Node is set,
// matching the Type field. The union is a discriminator plus pointer
// members rather than an interface, since the CRD schema needs a concrete,
// structurally-validatable shape.
// +kubebuilder:validation:XValidation:rule="self.type == 'Pod' ? has(self.pod) : true",message="pod is required when type is Pod"
// +kubebuilder:validation:XValidation:rule="self.type == 'Node' ? has(self.node) : true",message="node is required when type is Node"
type EipSelector struct {
	// +unionDiscriminator
	// +kubebuilder:validation:Required
	Type EipSelectorType `json:"type"`

	// +optional
	Pod *PodEipSelector `json:"pod,omitempty"`

	// +optional
	Node *NodeEipSelector `json:"node,omitempty"`
}

// PodEipSelector binds to the single pod with this exact name, in the Eip's
// own namespace.
type PodEipSelector struct {
	// +kubebuilder:validation:Required
	PodName string `json:"pod_name"`
}

// NodeEipSelector binds to whichever node's labels are a superset of Labels.
type NodeEipSelector struct {
	// +kubebuilder:validation:Required
	Labels map[string]string `json:"labels"`
}

// EipStatus records what the controller last observed about the cloud
// address itself. All fields are optional because a freshly-created Eip has
// no cloud-side state yet.
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
