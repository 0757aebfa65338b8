// Package cloudeip is the cloud EIP adapter: every call the controllers
// make against AWS for allocating, associating, and releasing Elastic IP
// addresses goes through the Adapter interface here; nothing outside this
// package touches ec2iface.EC2API directly.
package cloudeip

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"

	"github.com/materialize/eip-operator/internal/eiperrors"
)

// Address is the subset of an EC2 Elastic IP's state the controllers care
// about.
type Address struct {
	AllocationID     string
	PublicIPAddress  string
	AssociationID    string
	NetworkInterface string
	PrivateIPAddress string
	Tags             map[string]string
}

// Tag looks up a tag by key, the way the orphan sweeper correlates a cloud
// address with the Eip uid that owns it without a further API call.
func (a Address) Tag(key string) (string, bool) {
	v, ok := a.Tags[key]
	return v, ok
}

// Instance is the subset of an EC2 instance's state the pod reconciler
// needs to resolve a pod's ENI when the pod has no Multus ENI annotation.
type Instance struct {
	InstanceID       string
	NetworkInterface string
	PrivateIPAddress string
}

// Adapter is every Cloud EIP operation the controllers need. It is
// implemented by *Client against real AWS and by a hand-written fake in
// tests, the same shape ec2iface.EC2API itself is faked against upstream.
type Adapter interface {
	Allocate(ctx context.Context, tags map[string]string) (*Address, error)
	DescribeByAllocationID(ctx context.Context, allocationID string) (*Address, error)
	DescribeByTag(ctx context.Context, key, value string) ([]Address, error)
	DescribeByClusterTag(ctx context.Context, keys []string, value string) ([]Address, error)
	Associate(ctx context.Context, allocationID, eni, privateIP string) (associationID string, err error)
	Disassociate(ctx context.Context, associationID string) error
	Release(ctx context.Context, allocationID string) error
	DisassociateAndRelease(ctx context.Context, addr Address) error
	DescribeInstanceByProviderID(ctx context.Context, providerID, podIP string) (*Instance, error)
}

// Client is the real Adapter, backed by the AWS SDK EC2 client.
type Client struct {
	EC2 ec2iface.EC2API
}

var _ Adapter = (*Client)(nil)

func (c *Client) Allocate(ctx context.Context, tags map[string]string) (*Address, error) {
	out, err := c.EC2.AllocateAddressWithContext(ctx, &ec2.AllocateAddressInput{
		Domain:            aws.String(ec2.DomainTypeVpc),
		TagSpecifications: tagSpecifications(ec2.ResourceTypeElasticIp, tags),
	})
	if err != nil {
		return nil, eiperrors.RetryableErr(fmt.Errorf("allocating address: %w", err))
	}
	return &Address{
		AllocationID:    aws.StringValue(out.AllocationId),
		PublicIPAddress: aws.StringValue(out.PublicIp),
	}, nil
}

func (c *Client) DescribeByAllocationID(ctx context.Context, allocationID string) (*Address, error) {
	out, err := c.EC2.DescribeAddressesWithContext(ctx, &ec2.DescribeAddressesInput{
		AllocationIds: []*string{aws.String(allocationID)},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, eiperrors.RetryableErr(fmt.Errorf("describing address %s: %w", allocationID, err))
	}
	if len(out.Addresses) == 0 {
		return nil, nil
	}
	return toAddress(out.Addresses[0]), nil
}

func (c *Client) DescribeByTag(ctx context.Context, key, value string) ([]Address, error) {
	out, err := c.EC2.DescribeAddressesWithContext(ctx, &ec2.DescribeAddressesInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("tag:" + key),
			Values: []*string{aws.String(value)},
		}},
	})
	if err != nil {
		return nil, eiperrors.RetryableErr(fmt.Errorf("describing addresses tagged %s=%s: %w", key, value, err))
	}
	addrs := make([]Address, 0, len(out.Addresses))
	for _, a := range out.Addresses {
		addrs = append(addrs, *toAddress(a))
	}
	return addrs, nil
}

func (c *Client) DescribeByClusterTag(ctx context.Context, keys []string, value string) ([]Address, error) {
	seen := map[string]Address{}
	for _, key := range keys {
		addrs, err := c.DescribeByTag(ctx, key, value)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			seen[a.AllocationID] = a
		}
	}
	out := make([]Address, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) Associate(ctx context.Context, allocationID, eni, privateIP string) (string, error) {
	in := &ec2.AssociateAddressInput{
		AllocationId:       aws.String(allocationID),
		NetworkInterfaceId: aws.String(eni),
		AllowReassociation: aws.Bool(true),
	}
	if privateIP != "" {
		in.PrivateIpAddress = aws.String(privateIP)
	}
	out, err := c.EC2.AssociateAddressWithContext(ctx, in)
	if err != nil {
		return "", eiperrors.RetryableErr(fmt.Errorf("associating address %s with eni %s: %w", allocationID, eni, err))
	}
	return aws.StringValue(out.AssociationId), nil
}

func (c *Client) Disassociate(ctx context.Context, associationID string) error {
	if associationID == "" {
		return nil
	}
	_, err := c.EC2.DisassociateAddressWithContext(ctx, &ec2.DisassociateAddressInput{
		AssociationId: aws.String(associationID),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return eiperrors.RetryableErr(fmt.Errorf("disassociating address (association %s): %w", associationID, err))
	}
	return nil
}

func (c *Client) Release(ctx context.Context, allocationID string) error {
	_, err := c.EC2.ReleaseAddressWithContext(ctx, &ec2.ReleaseAddressInput{
		AllocationId: aws.String(allocationID),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return eiperrors.RetryableErr(fmt.Errorf("releasing address %s: %w", allocationID, err))
	}
	return nil
}

func (c *Client) DisassociateAndRelease(ctx context.Context, addr Address) error {
	if err := c.Disassociate(ctx, addr.AssociationID); err != nil {
		return err
	}
	return c.Release(ctx, addr.AllocationID)
}

// DescribeInstanceByProviderID resolves a node's ProviderID (of the form
// aws:///<az>/<instance-id>) to the ENI among that instance's network
// interfaces whose private IP equals podIP, used as a fallback when a pod
// carries no Multus ENI annotation: the pod's IP can land on any attached
// ENI, not just the primary one, so every interface's private IPs are
// searched rather than assuming device index 0.
func (c *Client) DescribeInstanceByProviderID(ctx context.Context, providerID, podIP string) (*Instance, error) {
	instanceID, err := instanceIDFromProviderID(providerID)
	if err != nil {
		return nil, eiperrors.Invariant(err)
	}
	out, err := c.EC2.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return nil, eiperrors.RetryableErr(fmt.Errorf("describing instance %s: %w", instanceID, err))
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			for _, ni := range inst.NetworkInterfaces {
				for _, pa := range ni.PrivateIpAddresses {
					if aws.StringValue(pa.PrivateIpAddress) == podIP {
						return &Instance{
							InstanceID:       instanceID,
							NetworkInterface: aws.StringValue(ni.NetworkInterfaceId),
							PrivateIPAddress: podIP,
						}, nil
					}
				}
			}
		}
	}
	return nil, eiperrors.RetryableErr(fmt.Errorf("instance %s has no network interface with private ip %s yet", instanceID, podIP))
}

func toAddress(a *ec2.Address) *Address {
	tags := make(map[string]string, len(a.Tags))
	for _, t := range a.Tags {
		tags[aws.StringValue(t.Key)] = aws.StringValue(t.Value)
	}
	return &Address{
		AllocationID:     aws.StringValue(a.AllocationId),
		PublicIPAddress:  aws.StringValue(a.PublicIp),
		AssociationID:    aws.StringValue(a.AssociationId),
		NetworkInterface: aws.StringValue(a.NetworkInterfaceId),
		PrivateIPAddress: aws.StringValue(a.PrivateIpAddress),
		Tags:             tags,
	}
}

func tagSpecifications(resourceType string, tags map[string]string) []*ec2.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	return []*ec2.TagSpecification{{
		ResourceType: aws.String(resourceType),
		Tags:         ec2Tags(tags),
	}}
}

func ec2Tags(tags map[string]string) []*ec2.Tag {
	out := make([]*ec2.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, &ec2.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func isNotFound(err error) bool {
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch awsErr.Code() {
	case "InvalidAllocationID.NotFound", "InvalidAssociationID.NotFound", "InvalidAddressID.NotFound":
		return true
	default:
		return false
	}
}
