package stackset

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"

	"github.com/stackshift-io/stackshift/internal/engine"
	"github.com/stackshift-io/stackshift/internal/ir"
	"github.com/stackshift-io/stackshift/internal/logging"
)

// ErrPlaceholderInstance is returned when an instance without a stack is
// probed.
var ErrPlaceholderInstance = errors.New("instance has no stack")

// Evaluator probes every instance of a snapshot and records its
// classifications.
type Evaluator struct {
	client CloudFormationAPI
	retry  *engine.RetryPolicy
}

// NewEvaluator creates an evaluator that retries throttled probes once after
// engine.ThrottleBackoff.
func NewEvaluator(client CloudFormationAPI) *Evaluator {
	return &Evaluator{client: client, retry: engine.ThrottleRetryPolicy()}
}

// WithRetry replaces the retry policy applied to every probe.
func (e *Evaluator) WithRetry(p *engine.RetryPolicy) *Evaluator {
	e.retry = p
	return e
}

// Probe returns the current status of one instance.
func (e *Evaluator) Probe(ctx context.Context, stackSet string, ref ir.InstanceRef) (ir.InstanceStatus, error) {
	if ref.Placeholder {
		return ir.InstanceStatus{}, fmt.Errorf("%w: %s", ErrPlaceholderInstance, ref)
	}
	out, err := engine.Retry(ctx, e.retry, func(ctx context.Context) (*cloudformation.DescribeStackInstanceOutput, error) {
		return e.client.DescribeStackInstance(ctx, &cloudformation.DescribeStackInstanceInput{
			StackSetName:         aws.String(stackSet),
			StackInstanceAccount: aws.String(ref.Account),
			StackInstanceRegion:  aws.String(ref.Region),
		})
	})
	if err != nil {
		return ir.InstanceStatus{}, fmt.Errorf("failed to describe instance %s: %w", ref, err)
	}
	if out.StackInstance == nil {
		return ir.InstanceStatus{}, fmt.Errorf("instance %s not found in %s", ref, stackSet)
	}
	return ir.InstanceStatus{
		Status:             string(out.StackInstance.Status),
		DriftStatus:        string(out.StackInstance.DriftStatus),
		ParameterOverrides: len(out.StackInstance.ParameterOverrides),
	}, nil
}

// Evaluate probes every instance of snap, in order, and appends the results
// to snap.Classified. The instance list itself is left untouched.
func (e *Evaluator) Evaluate(ctx context.Context, snap *ir.StackSetSnapshot) error {
	logging.Info("evaluating stack instances", "stackset", snap.Name, "instances", len(snap.Instances))
	for _, ref := range snap.Instances {
		st, err := e.Probe(ctx, snap.Name, ref)
		if err != nil {
			return err
		}
		classes := ir.ClassifyInstance(st, snap.IsTargetAccount(ref.Account))
		logging.Debug("instance classified", "stack", ref.StackID, "classes", classes)
		snap.Classified.Add(ref, classes)
	}
	c := snap.Classified
	logging.Info("evaluation complete", "stackset", snap.Name,
		"drifted", len(c.Drifted), "overrides", len(c.Overrides),
		"non_current", len(c.NonCurrent), "extras", len(c.Extras))
	return nil
}
