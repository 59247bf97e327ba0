package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/stackshift-io/stackshift/internal/logging"
)

// DefaultPollInterval is the delay between two status probes of a
// long-running operation.
const DefaultPollInterval = 5 * time.Second

// AwaitOperation calls fetch every interval until done reports a terminal
// state, and returns that final status. The first probe happens immediately.
// maxPolls <= 0 means no limit.
func AwaitOperation[T any](ctx context.Context, interval time.Duration, maxPolls int, fetch func(ctx context.Context) (T, error), done func(T) bool) (T, error) {
	status, err := fetch(ctx)
	if err != nil {
		return status, err
	}
	for polls := 0; !done(status); polls++ {
		if maxPolls > 0 && polls >= maxPolls {
			return status, fmt.Errorf("operation not finished after %d polls", maxPolls)
		}
		select {
		case <-ctx.Done():
			return status, fmt.Errorf("wait cancelled: %w", ctx.Err())
		case <-time.After(interval):
		}
		status, err = fetch(ctx)
		if err != nil {
			return status, err
		}
	}
	return status, nil
}

// StackSetOperationAPI describes stack set operations.
type StackSetOperationAPI interface {
	DescribeStackSetOperation(ctx context.Context, params *cloudformation.DescribeStackSetOperationInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOperationOutput, error)
}

// IsTerminalOperationStatus reports whether a stack set operation has finished.
func IsTerminalOperationStatus(status cfntypes.StackSetOperationStatus) bool {
	switch status {
	case cfntypes.StackSetOperationStatusSucceeded,
		cfntypes.StackSetOperationStatusFailed,
		cfntypes.StackSetOperationStatusStopped:
		return true
	}
	return false
}

// OperationWaiter blocks until stack set operations reach a terminal state.
type OperationWaiter struct {
	Client   StackSetOperationAPI
	Interval time.Duration
	Retry    *RetryPolicy
	// Timeout bounds a single Wait. Zero waits for as long as ctx allows.
	Timeout time.Duration
}

// Wait polls the operation until it is terminal and returns its final status.
func (w *OperationWaiter) Wait(ctx context.Context, stackSetName, operationID string) (cfntypes.StackSetOperationStatus, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := WithTimeout(ctx, w.Timeout)
	defer cancel()

	fetch := func(ctx context.Context) (*cfntypes.StackSetOperation, error) {
		out, err := Retry(ctx, w.Retry, func(ctx context.Context) (*cloudformation.DescribeStackSetOperationOutput, error) {
			return w.Client.DescribeStackSetOperation(ctx, &cloudformation.DescribeStackSetOperationInput{
				StackSetName: aws.String(stackSetName),
				OperationId:  aws.String(operationID),
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe operation %s on %s: %w", operationID, stackSetName, err)
		}
		if out.StackSetOperation == nil {
			return nil, fmt.Errorf("operation %s on %s not found", operationID, stackSetName)
		}
		op := out.StackSetOperation
		logging.Info("stack set operation status",
			"stackset", stackSetName, "operation", operationID,
			"action", string(op.Action), "status", string(op.Status))
		return op, nil
	}

	op, err := AwaitOperation(ctx, interval, 0, fetch, func(op *cfntypes.StackSetOperation) bool {
		return IsTerminalOperationStatus(op.Status)
	})
	if err != nil {
		return "", err
	}
	return op.Status, nil
}
