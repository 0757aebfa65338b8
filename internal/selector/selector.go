// Package selector is the selector engine: given a pod and a snapshot of
// cluster state, it decides which live Eip (if any) claims that pod. Pod
// selectors match by exact name; Node selectors match against the labels of
// the node the pod is scheduled on, with a deterministic tie-break when
// more than one node satisfies the selector.
package selector

import (
	corev1 "k8s.io/api/core/v1"

	eipv2 "github.com/materialize/eip-operator/api/eip/v2"
)

// Engine resolves selectors against a snapshot of cluster state. It is
// pure: all inputs are taken at construction and nothing here performs I/O.
type Engine struct {
	// Nodes is a snapshot of the cluster's nodes, consulted for Node
	// selectors. May be nil, in which case Node selectors never match.
	Nodes []corev1.Node

	// Claimants is the set of pods eligible to claim an Eip (the caller
	// pre-filters to managed pods). Used for the tie-break: when a Node
	// selector is satisfied by several nodes hosting claimants, only the
	// pod on the lexicographically smallest such node wins, so the
	// attachment target is stable across reconciles instead of flapping
	// between nodes.
	Claimants []corev1.Pod
}

// EipForPod returns the first Eip in eips whose selector claims pod: either
// a Pod selector naming it exactly, or a Node selector satisfied by the
// labels of the node pod is scheduled on (subject to the tie-break above).
func (e Engine) EipForPod(pod *corev1.Pod, eips []eipv2.Eip) *eipv2.Eip {
	for i := range eips {
		sel := eips[i].Spec.Selector
		if sel.MatchesPod(pod) {
			return &eips[i]
		}
		if sel.Type == eipv2.NodeEipSelectorType && e.claims(pod, sel) {
			return &eips[i]
		}
	}
	return nil
}

func (e Engine) claims(pod *corev1.Pod, sel eipv2.EipSelector) bool {
	if pod.Spec.NodeName == "" || len(e.Nodes) == 0 || !sel.MatchesNodeLabels(e.nodeLabels(pod.Spec.NodeName)) {
		return false
	}
	winner := e.winningNode(sel)
	return winner == "" || winner == pod.Spec.NodeName
}

// winningNode returns the lexicographically smallest node name among nodes
// that satisfy sel and host at least one claimant, or "" when the snapshot
// carries no such node.
func (e Engine) winningNode(sel eipv2.EipSelector) string {
	winner := ""
	for i := range e.Nodes {
		n := &e.Nodes[i]
		if !sel.MatchesNodeLabels(n.Labels) || !e.hostsClaimant(n.Name) {
			continue
		}
		if winner == "" || n.Name < winner {
			winner = n.Name
		}
	}
	return winner
}

func (e Engine) hostsClaimant(nodeName string) bool {
	for i := range e.Claimants {
		if e.Claimants[i].Spec.NodeName == nodeName {
			return true
		}
	}
	return false
}

func (e Engine) nodeLabels(name string) map[string]string {
	for i := range e.Nodes {
		if e.Nodes[i].Name == name {
			return e.Nodes[i].Labels
		}
	}
	return nil
}

// EipForPod is the snapshot-free form used when only Pod selectors are of
// interest (e.g. checking whether an autocreated Eip already exists): with
// no node snapshot, Node selectors never match.
func EipForPod(pod *corev1.Pod, eips []eipv2.Eip) *eipv2.Eip {
	return Engine{}.EipForPod(pod, eips)
}
