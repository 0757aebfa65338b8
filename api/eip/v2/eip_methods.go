package v2

import (
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// String renders the selector for logs and events. For a Node selector the
// labels are joined in sorted-key order with ", " between adjacent pairs
// and no trailing separator.
func (s EipSelector) String() string {
	switch s.Type {
	case PodEipSelectorType:
		if s.Pod == nil {
			return "Pod()"
		}
		return "Pod(" + s.Pod.PodName + ")"
	case NodeEipSelectorType:
		if s.Node == nil {
			return "Node()"
		}
		keys := make([]string, 0, len(s.Node.Labels))
		for k := range s.Node.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+s.Node.Labels[k])
		}
		return "Node(" + strings.Join(pairs, ", ") + ")"
	default:
		return string(s.Type)
	}
}

// MatchesPod reports whether this selector names pod exactly.
func (s EipSelector) MatchesPod(pod *corev1.Pod) bool {
	return s.Type == PodEipSelectorType && s.Pod != nil && pod != nil && s.Pod.PodName == pod.Name
}

// MatchesNodeLabels reports whether nodeLabels is a superset of this
// selector's required labels.
func (s EipSelector) MatchesNodeLabels(nodeLabels map[string]string) bool {
	if s.Type != NodeEipSelectorType || s.Node == nil {
		return false
	}
	for k, v := range s.Node.Labels {
		if nodeLabels[k] != v {
			return false
		}
	}
	return true
}

// AllocationID returns the allocation id this Eip was last reported as
// bound to, if any.
func (e *Eip) AllocationID() string {
	if e.Status.AllocationID == nil {
		return ""
	}
	return *e.Status.AllocationID
}

// Attached reports whether the Eip's status reflects an address currently
// associated with an ENI.
func (e *Eip) Attached() bool {
	return e.Status.ENI != nil && e.Status.PrivateIPAddress != nil
}
