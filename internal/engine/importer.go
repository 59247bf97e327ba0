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

// ImportBatchSize is the number of stacks imported per operation.
const ImportBatchSize = 10

// ImportAPI is the subset of the CloudFormation client used to import stacks.
type ImportAPI interface {
	StackSetOperationAPI
	ImportStacksToStackSet(ctx context.Context, params *cloudformation.ImportStacksToStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ImportStacksToStackSetOutput, error)
}

// ImportError reports a batch that did not import. Remaining lists every
// stack id of that batch and of the batches after it.
type ImportError struct {
	StackSet    string
	Batch       int
	OperationID string
	Status      cfntypes.StackSetOperationStatus
	Remaining   []string
	Manifest    string
	Err         error
}

func (e *ImportError) Error() string {
	msg := fmt.Sprintf("import batch %d into %s failed", e.Batch, e.StackSet)
	if e.Status != "" {
		msg += fmt.Sprintf(" with status %s", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	msg += fmt.Sprintf(" (%d stacks not imported", len(e.Remaining))
	if e.Manifest != "" {
		msg += ", manifest " + e.Manifest
	}
	return msg + ")"
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// Batches splits ids into consecutive chunks of at most size.
func Batches(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}

// Importer attaches existing stacks to a stack set.
type Importer struct {
	Client   ImportAPI
	Interval time.Duration
	Retry    *RetryPolicy
	// Timeout bounds the wait on each batch; zero means no bound.
	Timeout time.Duration
}

// Import imports ids into stackSet in batches of ImportBatchSize. Each batch
// is awaited before the next one starts; the first failure stops the import.
func (im *Importer) Import(ctx context.Context, stackSet string, ids []string) error {
	logging.Info("starting to import stack instances", "stackset", stackSet, "instances", len(ids))
	waiter := &OperationWaiter{Client: im.Client, Interval: im.Interval, Retry: im.Retry, Timeout: im.Timeout}

	for i, batch := range Batches(ids, ImportBatchSize) {
		from := i * ImportBatchSize
		logging.Info("importing batch", "stackset", stackSet, "batch", i+1, "from", from, "to", from+len(batch))
		fail := func(opID string, status cfntypes.StackSetOperationStatus, err error) error {
			return &ImportError{
				StackSet:    stackSet,
				Batch:       i + 1,
				OperationID: opID,
				Status:      status,
				Remaining:   append([]string(nil), ids[from:]...),
				Err:         err,
			}
		}

		out, err := Retry(ctx, im.Retry, func(ctx context.Context) (*cloudformation.ImportStacksToStackSetOutput, error) {
			return im.Client.ImportStacksToStackSet(ctx, &cloudformation.ImportStacksToStackSetInput{
				StackSetName: aws.String(stackSet),
				StackIds:     batch,
				OperationPreferences: &cfntypes.StackSetOperationPreferences{
					RegionConcurrencyType: cfntypes.RegionConcurrencyTypeParallel,
					FailureToleranceCount: aws.Int32(10),
				},
			})
		})
		if err != nil {
			return fail("", "", err)
		}
		opID := aws.ToString(out.OperationId)
		status, err := waiter.Wait(ctx, stackSet, opID)
		if err != nil {
			return fail(opID, "", err)
		}
		if status != cfntypes.StackSetOperationStatusSucceeded {
			return fail(opID, status, nil)
		}
	}
	return nil
}
