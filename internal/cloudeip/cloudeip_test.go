package cloudeip

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialize/eip-operator/internal/eiperrors"
)

// fakeEC2Client implements ec2iface.EC2API for testing.
// Only the methods used by Client are implemented.
type fakeEC2Client struct {
	ec2iface.EC2API

	allocateOut     *ec2.AllocateAddressOutput
	allocateErr     error
	describeOut     *ec2.DescribeAddressesOutput
	describeErr     error
	associateOut    *ec2.AssociateAddressOutput
	associateErr    error
	disassocErr     error
	releaseErr      error
	describeInst    *ec2.DescribeInstancesOutput
	describeInstErr error
}

func (f *fakeEC2Client) AllocateAddressWithContext(context.Context, *ec2.AllocateAddressInput, ...request.Option) (*ec2.AllocateAddressOutput, error) {
	return f.allocateOut, f.allocateErr
}

func (f *fakeEC2Client) DescribeAddressesWithContext(context.Context, *ec2.DescribeAddressesInput, ...request.Option) (*ec2.DescribeAddressesOutput, error) {
	return f.describeOut, f.describeErr
}

func (f *fakeEC2Client) AssociateAddressWithContext(context.Context, *ec2.AssociateAddressInput, ...request.Option) (*ec2.AssociateAddressOutput, error) {
	return f.associateOut, f.associateErr
}

func (f *fakeEC2Client) DisassociateAddressWithContext(context.Context, *ec2.DisassociateAddressInput, ...request.Option) (*ec2.DisassociateAddressOutput, error) {
	return &ec2.DisassociateAddressOutput{}, f.disassocErr
}

func (f *fakeEC2Client) ReleaseAddressWithContext(context.Context, *ec2.ReleaseAddressInput, ...request.Option) (*ec2.ReleaseAddressOutput, error) {
	return &ec2.ReleaseAddressOutput{}, f.releaseErr
}

func (f *fakeEC2Client) DescribeInstancesWithContext(context.Context, *ec2.DescribeInstancesInput, ...request.Option) (*ec2.DescribeInstancesOutput, error) {
	return f.describeInst, f.describeInstErr
}

type fakeAWSErr struct {
	code string
}

func (e fakeAWSErr) Error() string   { return e.code }
func (e fakeAWSErr) Code() string    { return e.code }
func (e fakeAWSErr) Message() string { return e.code }
func (e fakeAWSErr) OrigErr() error  { return nil }

var _ awserr.Error = fakeAWSErr{}

func TestAllocate(t *testing.T) {
	ec2c := &fakeEC2Client{allocateOut: &ec2.AllocateAddressOutput{
		AllocationId: aws.String("eipalloc-1"),
		PublicIp:     aws.String("1.2.3.4"),
	}}
	c := &Client{EC2: ec2c}

	addr, err := c.Allocate(context.Background(), map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "eipalloc-1", addr.AllocationID)
	assert.Equal(t, "1.2.3.4", addr.PublicIPAddress)
}

func TestReleaseTreatsNotFoundAsSuccess(t *testing.T) {
	c := &Client{EC2: &fakeEC2Client{releaseErr: fakeAWSErr{code: "InvalidAllocationID.NotFound"}}}
	assert.NoError(t, c.Release(context.Background(), "eipalloc-gone"))
}

func TestDescribeByAllocationIDNotFoundReturnsNil(t *testing.T) {
	c := &Client{EC2: &fakeEC2Client{describeErr: fakeAWSErr{code: "InvalidAllocationID.NotFound"}}}
	addr, err := c.DescribeByAllocationID(context.Background(), "eipalloc-gone")
	require.NoError(t, err)
	assert.Nil(t, addr)
}

func TestInstanceIDFromProviderID(t *testing.T) {
	id, err := instanceIDFromProviderID("aws:///us-east-1a/i-0123456789abcdef0")
	require.NoError(t, err)
	assert.Equal(t, "i-0123456789abcdef0", id)

	_, err = instanceIDFromProviderID("garbage")
	assert.Error(t, err)
}

func TestAddressTagLookup(t *testing.T) {
	addr := Address{Tags: map[string]string{"eip.materialize.cloud/eip-uid": "uid-1"}}
	v, ok := addr.Tag("eip.materialize.cloud/eip-uid")
	assert.True(t, ok)
	assert.Equal(t, "uid-1", v)

	_, ok = addr.Tag("missing")
	assert.False(t, ok)
}

func TestDescribeInstanceByProviderIDMatchesSecondaryENIByPodIP(t *testing.T) {
	ec2c := &fakeEC2Client{describeInst: &ec2.DescribeInstancesOutput{
		Reservations: []*ec2.Reservation{{
			Instances: []*ec2.Instance{{
				NetworkInterfaces: []*ec2.InstanceNetworkInterface{
					{
						NetworkInterfaceId: aws.String("eni-primary"),
						Attachment:         &ec2.InstanceNetworkInterfaceAttachment{DeviceIndex: aws.Int64(0)},
						PrivateIpAddresses: []*ec2.InstancePrivateIpAddress{
							{PrivateIpAddress: aws.String("10.0.0.1")},
						},
					},
					{
						NetworkInterfaceId: aws.String("eni-secondary"),
						Attachment:         &ec2.InstanceNetworkInterfaceAttachment{DeviceIndex: aws.Int64(1)},
						PrivateIpAddresses: []*ec2.InstancePrivateIpAddress{
							{PrivateIpAddress: aws.String("10.0.0.2")},
							{PrivateIpAddress: aws.String("10.0.0.9")},
						},
					},
				},
			}},
		}},
	}}
	c := &Client{EC2: ec2c}

	inst, err := c.DescribeInstanceByProviderID(context.Background(), "aws:///us-east-1a/i-0123456789abcdef0", "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "eni-secondary", inst.NetworkInterface)
	assert.Equal(t, "10.0.0.9", inst.PrivateIPAddress)
}

func TestDescribeInstanceByProviderIDNoMatchingPrivateIPIsRetryable(t *testing.T) {
	ec2c := &fakeEC2Client{describeInst: &ec2.DescribeInstancesOutput{
		Reservations: []*ec2.Reservation{{
			Instances: []*ec2.Instance{{
				NetworkInterfaces: []*ec2.InstanceNetworkInterface{{
					NetworkInterfaceId: aws.String("eni-primary"),
					PrivateIpAddresses: []*ec2.InstancePrivateIpAddress{
						{PrivateIpAddress: aws.String("10.0.0.1")},
					},
				}},
			}},
		}},
	}}
	c := &Client{EC2: ec2c}

	_, err := c.DescribeInstanceByProviderID(context.Background(), "aws:///us-east-1a/i-0123456789abcdef0", "10.0.0.99")
	require.Error(t, err)
	var classified *eiperrors.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, eiperrors.Retryable, classified.Kind)
}

func TestAllocationIDFromARN(t *testing.T) {
	assert.Equal(t, "eipalloc-abc", allocationIDFromARN("arn:aws:ec2:us-east-1:111122223333:elastic-ip/eipalloc-abc"))
}
