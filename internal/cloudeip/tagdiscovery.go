package cloudeip

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	rgtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"

	"github.com/materialize/eip-operator/internal/eiperrors"
)

// TagIndex is the resourcegroupstaggingapi-backed "list every cloud address
// carrying this tag" query used by the orphan sweeper. It's a separate,
// narrower interface from Adapter because GetResources is the only
// operation in the sweeper's union-of-tags discovery that benefits from
// the tagging API's cross-resource-type filtering instead of paging
// ec2:DescribeAddresses by hand once per tag key.
type TagIndex interface {
	AllocationIDsByTag(ctx context.Context, key, value string) ([]string, error)
}

// TaggingClient implements TagIndex against the real AWS Resource Groups
// Tagging API.
type TaggingClient struct {
	RGTA *resourcegroupstaggingapi.Client
}

var _ TagIndex = (*TaggingClient)(nil)

const eipResourceType = "ec2:elastic-ip"

func (c *TaggingClient) AllocationIDsByTag(ctx context.Context, key, value string) ([]string, error) {
	var ids []string
	var token *string
	for {
		out, err := c.RGTA.GetResources(ctx, &resourcegroupstaggingapi.GetResourcesInput{
			ResourceTypeFilters: []string{eipResourceType},
			TagFilters: []rgtypes.TagFilter{{
				Key:    awsv2.String(key),
				Values: []string{value},
			}},
			PaginationToken: token,
		})
		if err != nil {
			return nil, eiperrors.RetryableErr(fmt.Errorf("listing resources tagged %s=%s: %w", key, value, err))
		}
		for _, m := range out.ResourceTagMappingList {
			ids = append(ids, allocationIDFromARN(awsv2.ToString(m.ResourceARN)))
		}
		if out.PaginationToken == nil || *out.PaginationToken == "" {
			break
		}
		token = out.PaginationToken
	}
	return ids, nil
}

// allocationIDFromARN extracts "eipalloc-..." from an Elastic IP ARN of
// the form arn:aws:ec2:<region>:<account>:elastic-ip/eipalloc-xxxx.
func allocationIDFromARN(arn string) string {
	for i := len(arn) - 1; i >= 0; i-- {
		if arn[i] == '/' {
			return arn[i+1:]
		}
	}
	return arn
}
