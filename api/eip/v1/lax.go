package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// LaxEip decodes a v1 Eip whose stored spec may predate the pod_name field
// becoming required (objects created by very early controller builds).
// Unlike Eip, PodName is a pointer so a completely absent field decodes to
// nil instead of silently becoming the empty string, letting the migrator
// distinguish "no pod recorded" from "recorded empty pod name" and refuse
// the conversion for the former instead of fabricating a Pod selector.
type LaxEip struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   LaxEipSpec `json:"spec,omitempty"`
	Status EipStatus  `json:"status,omitempty"`
}

// LaxEipSpec is unmarshalled from the same bytes as EipSpec, carrying the
// pointer form of PodName used only to detect its absence.
type LaxEipSpec struct {
	PodName *string `json:"pod_name,omitempty"`
}
