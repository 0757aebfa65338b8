// Package config carries the label, annotation, tag, and finalizer
// constants shared across every controller, plus the Config struct loaded
// from the environment at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	// ManageEipLabel marks a pod as one this operator manages; its presence
	// (with any value) is the opt-in, independent of AutocreateEipLabel.
	ManageEipLabel = "eip.materialize.cloud/manage"
	// AutocreateEipLabel, when "true" (case-insensitive), tells the pod
	// reconciler to create an Eip for this pod if none exists yet.
	AutocreateEipLabel = "eip.materialize.cloud/autocreate_eip"
	// PodFinalizerName is added to every pod this operator manages so its
	// address is disassociated before the pod is actually removed.
	PodFinalizerName = "eip.materialize.cloud/disassociate"
	// EipFinalizerName is added to every Eip so its cloud address is
	// released before the custom resource is actually removed.
	EipFinalizerName = "eip.materialize.cloud/destroy"
	// AllocationIDAnnotationKey records the bound address's allocation id on
	// the pod, for operators inspecting `kubectl get pod -o yaml`.
	AllocationIDAnnotationKey = "eip.materialize.cloud/allocation_id"
	// ExternalDNSTargetAnnotationKey is written with the address's public
	// IP so external-dns can publish a record pointing at it.
	ExternalDNSTargetAnnotationKey = "external-dns.alpha.kubernetes.io/target"
	// PodENIAnnotationKey is the Multus/VPC-CNI annotation carrying the
	// pod's assigned ENI, consulted before falling back to a
	// DescribeInstances lookup.
	PodENIAnnotationKey = "vpc.amazonaws.com/pod-eni"

	// LegacyManageEipLabel is the label name the v0 controller used for
	// the same purpose as ManageEipLabel, kept so the sweeper can still
	// find and migrate clusters that predate the rewrite.
	LegacyManageEipLabel = "eip.aws.materialize.com/manage"
	// LegacyPodFinalizerName is the v0 controller's pod finalizer name.
	LegacyPodFinalizerName = "eip.aws.materialize.com/disassociate"
	// LegacyClusterNameTag is the v0 controller's cluster-identity tag
	// key, unioned with ClusterNameTag when the sweeper looks for
	// addresses belonging to this cluster.
	LegacyClusterNameTag = "eip.aws.materialize.com/cluster_name"

	// ClusterNameTag, EipUIDTag, EipNameTag, PodNameTag, and NamespaceTag
	// are the tag keys this operator writes onto every address it
	// allocates.
	ClusterNameTag = "eip.materialize.cloud/cluster-name"
	EipUIDTag      = "eip.materialize.cloud/eip-uid"
	EipNameTag     = "eip.materialize.cloud/eip-name"
	PodNameTag     = "eip.materialize.cloud/pod-name"
	NamespaceTag   = "eip.materialize.cloud/namespace"
)

// Config is the process-wide configuration read once at startup.
type Config struct {
	ClusterName string
	Namespace   string
	DefaultTags map[string]string
}

// FromEnv reads CLUSTER_NAME, NAMESPACE, and DEFAULT_TAGS (a JSON object).
// NAMESPACE may be empty, meaning "watch every namespace".
func FromEnv() (Config, error) {
	cfg := Config{
		ClusterName: strings.TrimSpace(os.Getenv("CLUSTER_NAME")),
		Namespace:   os.Getenv("NAMESPACE"),
	}
	if cfg.ClusterName == "" {
		return Config{}, fmt.Errorf("CLUSTER_NAME must be set")
	}

	if raw := os.Getenv("DEFAULT_TAGS"); raw != "" {
		var tags map[string]string
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return Config{}, fmt.Errorf("parsing DEFAULT_TAGS: %w", err)
		}
		cfg.DefaultTags = tags
	}
	return cfg, nil
}

// AllocationTags returns the full tag set to apply to a newly-allocated
// address bound to eipUID in namespace ns, layering the operator's
// identity tags over the operator-wide defaults (identity tags always
// win, since they're load-bearing for the sweeper and must never be
// overridden by DEFAULT_TAGS).
func (c Config) AllocationTags(eipUID, eipName, podName, ns string) map[string]string {
	tags := make(map[string]string, len(c.DefaultTags)+5)
	for k, v := range c.DefaultTags {
		tags[k] = v
	}
	tags[ClusterNameTag] = c.ClusterName
	tags[EipUIDTag] = eipUID
	tags[EipNameTag] = eipName
	tags[PodNameTag] = podName
	tags[NamespaceTag] = ns
	return tags
}
