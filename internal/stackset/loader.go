// Package stackset loads stack sets and probes their instances.
package stackset

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/stackshift-io/stackshift/internal/engine"
	"github.com/stackshift-io/stackshift/internal/ir"
	"github.com/stackshift-io/stackshift/internal/logging"
)

// CloudFormationAPI is the subset of the CloudFormation client used to read
// stack sets and run drift detection.
type CloudFormationAPI interface {
	DescribeStackSet(ctx context.Context, params *cloudformation.DescribeStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOutput, error)
	ListStackInstances(ctx context.Context, params *cloudformation.ListStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackInstancesOutput, error)
	DescribeStackInstance(ctx context.Context, params *cloudformation.DescribeStackInstanceInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackInstanceOutput, error)
	DetectStackSetDrift(ctx context.Context, params *cloudformation.DetectStackSetDriftInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DetectStackSetDriftOutput, error)
	DescribeStackSetOperation(ctx context.Context, params *cloudformation.DescribeStackSetOperationInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOperationOutput, error)
}

// AccountResolver expands organization groupings into account ids.
type AccountResolver interface {
	ResolveAll(ctx context.Context, groupingIDs []string) ([]string, error)
}

// Loader builds stack set snapshots.
type Loader struct {
	client   CloudFormationAPI
	resolver AccountResolver
	retry    *engine.RetryPolicy
}

// NewLoader creates a loader. Throttled calls are retried once.
func NewLoader(client CloudFormationAPI, resolver AccountResolver) *Loader {
	return &Loader{
		client:   client,
		resolver: resolver,
		retry:    engine.ThrottleRetryPolicy(),
	}
}

// WithRetry replaces the retry policy applied to every call.
func (l *Loader) WithRetry(p *engine.RetryPolicy) *Loader {
	l.retry = p
	return l
}

// Load describes the stack set, resolves its target accounts, lists every
// instance and narrows FilteredInstances to filterAccounts.
func (l *Loader) Load(ctx context.Context, name string, filterAccounts []string) (*ir.StackSetSnapshot, error) {
	logging.Info("loading stack set", "stackset", name)

	out, err := engine.Retry(ctx, l.retry, func(ctx context.Context) (*cloudformation.DescribeStackSetOutput, error) {
		return l.client.DescribeStackSet(ctx, &cloudformation.DescribeStackSetInput{
			StackSetName: aws.String(name),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack set %s: %w", name, err)
	}
	if out.StackSet == nil {
		return nil, fmt.Errorf("stack set %s not found", name)
	}

	snap := &ir.StackSetSnapshot{
		Name:                name,
		Template:            aws.ToString(out.StackSet.TemplateBody),
		Parameters:          convertParameters(out.StackSet.Parameters),
		ExecutionRoleName:   aws.ToString(out.StackSet.ExecutionRoleName),
		OrganizationalUnits: out.StackSet.OrganizationalUnitIds,
	}
	for _, c := range out.StackSet.Capabilities {
		snap.Capabilities = append(snap.Capabilities, string(c))
	}

	if len(snap.OrganizationalUnits) > 0 {
		snap.TargetAccounts, err = l.resolver.ResolveAll(ctx, snap.OrganizationalUnits)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve target accounts of %s: %w", name, err)
		}
	}
	logging.Info("evaluated stack set targets", "stackset", name, "accounts", len(snap.TargetAccounts))

	snap.Instances, err = l.listInstances(ctx, name)
	if err != nil {
		return nil, err
	}
	snap.FilterByAccounts(filterAccounts)

	logging.Info("loaded stack set", "stackset", name,
		"instances", len(snap.Instances), "filtered", len(snap.FilteredInstances))
	return snap, nil
}

func (l *Loader) listInstances(ctx context.Context, name string) ([]ir.InstanceRef, error) {
	var refs []ir.InstanceRef
	p := cloudformation.NewListStackInstancesPaginator(l.client, &cloudformation.ListStackInstancesInput{
		StackSetName: aws.String(name),
	})
	for p.HasMorePages() {
		page, err := engine.Retry(ctx, l.retry, func(ctx context.Context) (*cloudformation.ListStackInstancesOutput, error) {
			return p.NextPage(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list instances of %s: %w", name, err)
		}
		for _, s := range page.Summaries {
			ref, err := summaryRef(s)
			if err != nil {
				return nil, fmt.Errorf("stack set %s: %w", name, err)
			}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func summaryRef(s cfntypes.StackInstanceSummary) (ir.InstanceRef, error) {
	if s.StackId == nil {
		ref := ir.PlaceholderRef(aws.ToString(s.Region), aws.ToString(s.Account))
		logging.Warn("stack instance has no stack id", "account", ref.Account, "region", ref.Region)
		return ref, nil
	}
	return ir.ParseInstanceRef(aws.ToString(s.StackId))
}

func convertParameters(params []cfntypes.Parameter) []ir.Parameter {
	out := make([]ir.Parameter, 0, len(params))
	for _, p := range params {
		out = append(out, ir.Parameter{
			Key:              aws.ToString(p.ParameterKey),
			Value:            aws.ToString(p.ParameterValue),
			UsePreviousValue: aws.ToBool(p.UsePreviousValue),
			ResolvedValue:    aws.ToString(p.ResolvedValue),
		})
	}
	return out
}
