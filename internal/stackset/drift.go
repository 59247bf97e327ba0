package stackset

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/stackshift-io/stackshift/internal/engine"
	"github.com/stackshift-io/stackshift/internal/ir"
	"github.com/stackshift-io/stackshift/internal/logging"
)

// DriftDetector runs stack set drift detection and waits for it to finish.
type DriftDetector struct {
	client CloudFormationAPI
	waiter *engine.OperationWaiter
	retry  *engine.RetryPolicy
}

// NewDriftDetector creates a detector polling every interval.
func NewDriftDetector(client CloudFormationAPI, interval time.Duration) *DriftDetector {
	retry := engine.ThrottleRetryPolicy()
	return &DriftDetector{
		client: client,
		waiter: &engine.OperationWaiter{Client: client, Interval: interval, Retry: retry},
		retry:  retry,
	}
}

// Detect starts drift detection across every region in parallel and blocks
// until it is terminal. Failed regions never stop the others; their
// instances surface later as unknown drift.
func (d *DriftDetector) Detect(ctx context.Context, snap *ir.StackSetSnapshot) error {
	logging.Info("starting drift detection", "stackset", snap.Name)
	out, err := engine.Retry(ctx, d.retry, func(ctx context.Context) (*cloudformation.DetectStackSetDriftOutput, error) {
		return d.client.DetectStackSetDrift(ctx, &cloudformation.DetectStackSetDriftInput{
			StackSetName: aws.String(snap.Name),
			OperationPreferences: &cfntypes.StackSetOperationPreferences{
				RegionConcurrencyType:      cfntypes.RegionConcurrencyTypeParallel,
				FailureTolerancePercentage: aws.Int32(100),
				MaxConcurrentPercentage:    aws.Int32(100),
			},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to start drift detection on %s: %w", snap.Name, err)
	}

	status, err := d.waiter.Wait(ctx, snap.Name, aws.ToString(out.OperationId))
	if err != nil {
		return fmt.Errorf("drift detection on %s: %w", snap.Name, err)
	}
	if status != cfntypes.StackSetOperationStatusSucceeded {
		logging.Warn("drift detection did not succeed", "stackset", snap.Name, "status", string(status))
	}
	return nil
}
