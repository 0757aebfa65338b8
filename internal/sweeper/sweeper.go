// Package sweeper is the orphan sweep. It finds cloud addresses tagged for
// this cluster that no live Eip claims any more and releases them, and
// purges the legacy per-pod finalizer left behind by clusters that predate
// the v2 rewrite. It runs once at startup and again after every successful
// Eip reconcile.
package sweeper

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/materialize/eip-operator/internal/cloudeip"
	"github.com/materialize/eip-operator/internal/clusteradapter"
	"github.com/materialize/eip-operator/internal/config"
)

// Sweeper reconciles cloud-address existence against the live Eip set,
// independently of either per-object controller.
type Sweeper struct {
	Cluster *clusteradapter.Adapter
	Cloud   cloudeip.Adapter
	Config  config.Config

	// TagIndex is optional. When set, it supplements Cloud's own
	// tag-filtered DescribeAddresses scan with a resourcegroupstaggingapi
	// lookup against the legacy cluster-name tag, catching addresses a
	// pre-rewrite cluster tagged through a path this operator's own EC2
	// DescribeAddresses filter doesn't enumerate.
	TagIndex cloudeip.TagIndex
}

// Run performs one full sweep: release any cloud address tagged for this
// cluster (under either the current or legacy tag key) that no Eip's uid
// claims any more, then purge the legacy pod finalizer from any pod still
// carrying it.
func (s *Sweeper) Run(ctx context.Context) error {
	logger := logr.FromContextOrDiscard(ctx).WithName("sweeper")

	if err := s.sweepOrphanAddresses(ctx, logger); err != nil {
		return fmt.Errorf("sweeping orphan addresses: %w", err)
	}
	if err := s.purgeLegacyFinalizers(ctx, logger); err != nil {
		return fmt.Errorf("purging legacy pod finalizers: %w", err)
	}
	return nil
}

func (s *Sweeper) sweepOrphanAddresses(ctx context.Context, logger logr.Logger) error {
	addrs, err := s.Cloud.DescribeByClusterTag(ctx, []string{config.ClusterNameTag, config.LegacyClusterNameTag}, s.Config.ClusterName)
	if err != nil {
		return err
	}

	if s.TagIndex != nil {
		legacy, err := s.legacyTaggedAddresses(ctx)
		if err != nil {
			logger.Error(err, "legacy tag index lookup failed, continuing with EC2-filter results only")
		} else {
			addrs = mergeByAllocationID(addrs, legacy)
		}
	}

	if len(addrs) == 0 {
		return nil
	}

	live, err := s.liveEipUIDs(ctx)
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		uid, ok := addr.Tag(config.EipUIDTag)
		if ok && live[uid] {
			continue
		}
		logger.Info("releasing orphaned address", "allocationId", addr.AllocationID, "eipUid", uid)
		if err := s.Cloud.DisassociateAndRelease(ctx, addr); err != nil {
			logger.Error(err, "failed to release orphaned address", "allocationId", addr.AllocationID)
		}
	}
	return nil
}

// legacyTaggedAddresses resolves every allocation id the Resource Groups
// Tagging API reports under the legacy cluster-name tag into a full
// Address via the EC2 adapter, since the tagging API itself only returns
// ARNs.
func (s *Sweeper) legacyTaggedAddresses(ctx context.Context) ([]cloudeip.Address, error) {
	ids, err := s.TagIndex.AllocationIDsByTag(ctx, config.LegacyClusterNameTag, s.Config.ClusterName)
	if err != nil {
		return nil, err
	}
	addrs := make([]cloudeip.Address, 0, len(ids))
	for _, id := range ids {
		addr, err := s.Cloud.DescribeByAllocationID(ctx, id)
		if err != nil {
			return nil, err
		}
		if addr != nil {
			addrs = append(addrs, *addr)
		}
	}
	return addrs, nil
}

func mergeByAllocationID(a, b []cloudeip.Address) []cloudeip.Address {
	seen := make(map[string]bool, len(a))
	out := make([]cloudeip.Address, 0, len(a)+len(b))
	for _, addr := range a {
		seen[addr.AllocationID] = true
		out = append(out, addr)
	}
	for _, addr := range b {
		if !seen[addr.AllocationID] {
			seen[addr.AllocationID] = true
			out = append(out, addr)
		}
	}
	return out
}

// liveEipUIDs returns the set of every live Eip's metadata.uid, scoped to
// Config.Namespace when set (empty means every namespace). Correlation is
// by uid tag, not by status.allocation_id: an
// Eip whose allocate() just succeeded but whose status write hasn't landed
// yet still owns its address, and checking the uid tag instead of status
// is what keeps the sweeper from racing that write and releasing a
// brand-new allocation out from under it.
func (s *Sweeper) liveEipUIDs(ctx context.Context) (map[string]bool, error) {
	eips, err := s.Cluster.ListEips(ctx, s.Config.Namespace)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(eips))
	for _, e := range eips {
		live[string(e.UID)] = true
	}
	return live, nil
}

// purgeLegacyFinalizers drops the v0 controller's disassociate finalizer
// from any pod still carrying it, scoped to Config.Namespace like
// liveEipUIDs, so those pods can finish terminating under the v2
// controller's own finalizer instead.
func (s *Sweeper) purgeLegacyFinalizers(ctx context.Context, logger logr.Logger) error {
	pods, err := s.Cluster.ListPods(ctx, s.Config.Namespace)
	if err != nil {
		return err
	}
	for i := range pods {
		pod := &pods[i]
		if _, ok := pod.Labels[config.LegacyManageEipLabel]; !ok {
			continue
		}
		hasLegacy := false
		for _, f := range pod.Finalizers {
			if f == config.LegacyPodFinalizerName {
				hasLegacy = true
				break
			}
		}
		if !hasLegacy {
			continue
		}
		logger.Info("purging legacy finalizer", "pod", pod.Namespace+"/"+pod.Name)
		if err := s.Cluster.PurgeLegacyPodFinalizer(ctx, pod, config.LegacyPodFinalizerName); err != nil {
			return err
		}
	}
	return nil
}
