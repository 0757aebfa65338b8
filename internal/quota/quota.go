// Package quota is the EIP quota observability post-hook: after a
// successful Eip reconcile, log the account's current Elastic IP usage
// against its service quota so an operator sees pressure building before
// allocation starts failing outright.
package quota

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	"github.com/go-logr/logr"
)

// EipQuotaCode is the AWS Service Quotas code for "EC2-VPC Elastic IPs".
const EipQuotaCode = "L-0263D0A3"

const ec2ServiceCode = "ec2"

// Reporter queries the account's EIP quota and logs allocated-vs-quota.
type Reporter struct {
	Client *servicequotas.Client
}

// Report logs the ratio of allocatedCount (the number of addresses this
// operator currently has allocated) to the account's EIP quota. A failure
// to reach Service Quotas is logged and swallowed: this is an observability
// post-hook, not a condition that should ever fail a reconcile.
func (r *Reporter) Report(ctx context.Context, log logr.Logger, allocatedCount int) {
	out, err := r.Client.GetServiceQuota(ctx, &servicequotas.GetServiceQuotaInput{
		ServiceCode: aws.String(ec2ServiceCode),
		QuotaCode:   aws.String(EipQuotaCode),
	})
	if err != nil {
		log.Error(err, "failed to fetch EIP service quota")
		return
	}
	if out.Quota == nil || out.Quota.Value == nil {
		log.Info("EIP service quota response had no value")
		return
	}
	quota := *out.Quota.Value
	log.Info("eip quota status", "allocated", allocatedCount, "quota", quota, "utilization", fmt.Sprintf("%.1f%%", 100*float64(allocatedCount)/quota))
}
