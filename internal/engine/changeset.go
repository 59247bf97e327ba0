package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"golang.org/x/sync/errgroup"

	"github.com/stackshift-io/stackshift/internal/ir"
	"github.com/stackshift-io/stackshift/internal/logging"
)

const (
	// ChangeSetName names every dry-run change set.
	ChangeSetName = "stackset-migration"
	// NoChangesReason is the status reason of a change set that failed
	// because the update would not change anything.
	NoChangesReason = "The submitted information didn't contain changes. Submit different information to create a change set."
	// DefaultChangeSetConcurrency bounds concurrent change set evaluations.
	DefaultChangeSetConcurrency = 5

	changeSetMaxPolls = 10
)

// ChangeSetAPI is the subset of the CloudFormation client used for dry runs.
type ChangeSetAPI interface {
	CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	DeleteChangeSet(ctx context.Context, params *cloudformation.DeleteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteChangeSetOutput, error)
}

// ChangeSetClientProvider returns a client acting as roleName in the given
// account and region.
type ChangeSetClientProvider interface {
	ChangeSetClient(ctx context.Context, account, region, roleName string) (ChangeSetAPI, error)
}

// ChangeSetError records a dry run that could not be completed.
type ChangeSetError struct {
	Instance ir.InstanceRef
	Err      error
}

func (e *ChangeSetError) Error() string {
	return fmt.Sprintf("change set evaluation for %s: %v", e.Instance, e.Err)
}

func (e *ChangeSetError) Unwrap() error {
	return e.Err
}

// ChangeSetOutcome is the result of one dry run.
type ChangeSetOutcome struct {
	Instance ir.InstanceRef
	Changes  int
	Err      error
}

// ChangeSetEvaluator previews, per instance, what updating it to the target
// stack set's template and parameters would change.
type ChangeSetEvaluator struct {
	Clients     ChangeSetClientProvider
	Interval    time.Duration
	Concurrency int
	Retry       *RetryPolicy
}

// Count creates a change set for ref against target, waits for it and
// returns the number of proposed changes. The change set is always deleted.
func (e *ChangeSetEvaluator) Count(ctx context.Context, ref ir.InstanceRef, target *ir.StackSetSnapshot) (int, error) {
	if ref.Placeholder {
		return 0, &ChangeSetError{Instance: ref, Err: fmt.Errorf("instance has no stack")}
	}
	logging.Info("evaluating change set", "stack", ref.StackID)

	client, err := e.Clients.ChangeSetClient(ctx, ref.Account, ref.Region, target.ExecutionRoleName)
	if err != nil {
		return 0, &ChangeSetError{Instance: ref, Err: err}
	}

	created, err := Retry(ctx, e.Retry, func(ctx context.Context) (*cloudformation.CreateChangeSetOutput, error) {
		return client.CreateChangeSet(ctx, &cloudformation.CreateChangeSetInput{
			StackName:     aws.String(ref.StackID),
			ChangeSetName: aws.String(ChangeSetName),
			ChangeSetType: cfntypes.ChangeSetTypeUpdate,
			TemplateBody:  aws.String(target.Template),
			Parameters:    sdkParameters(target.Parameters),
			Capabilities:  sdkCapabilities(target.Capabilities),
		})
	})
	if err != nil {
		return 0, &ChangeSetError{Instance: ref, Err: fmt.Errorf("create: %w", err)}
	}
	id := aws.ToString(created.Id)
	defer e.cleanup(ctx, client, ref, id)

	interval := e.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	fetch := func(ctx context.Context) (*cloudformation.DescribeChangeSetOutput, error) {
		return Retry(ctx, e.Retry, func(ctx context.Context) (*cloudformation.DescribeChangeSetOutput, error) {
			return client.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
				ChangeSetName: aws.String(id),
			})
		})
	}
	out, err := AwaitOperation(ctx, interval, changeSetMaxPolls, fetch, func(out *cloudformation.DescribeChangeSetOutput) bool {
		logging.Debug("change set status", "stack", ref.StackID,
			"status", string(out.Status), "execution_status", string(out.ExecutionStatus))
		return out.ExecutionStatus == cfntypes.ExecutionStatusAvailable || out.Status == cfntypes.ChangeSetStatusFailed
	})
	if err != nil {
		return 0, &ChangeSetError{Instance: ref, Err: err}
	}

	if out.Status == cfntypes.ChangeSetStatusFailed {
		if aws.ToString(out.StatusReason) == NoChangesReason {
			return 0, nil
		}
		return 0, &ChangeSetError{Instance: ref, Err: fmt.Errorf("change set failed: %s", aws.ToString(out.StatusReason))}
	}

	changes := len(out.Changes)
	for token := out.NextToken; token != nil; {
		page, err := fetchChangesPage(ctx, e.Retry, client, id, token)
		if err != nil {
			return 0, &ChangeSetError{Instance: ref, Err: err}
		}
		changes += len(page.Changes)
		token = page.NextToken
	}
	return changes, nil
}

func fetchChangesPage(ctx context.Context, retry *RetryPolicy, client ChangeSetAPI, id string, token *string) (*cloudformation.DescribeChangeSetOutput, error) {
	return Retry(ctx, retry, func(ctx context.Context) (*cloudformation.DescribeChangeSetOutput, error) {
		return client.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
			ChangeSetName: aws.String(id),
			NextToken:     token,
		})
	})
}

// cleanup runs even when ctx is cancelled so no change set outlives the run.
func (e *ChangeSetEvaluator) cleanup(ctx context.Context, client ChangeSetAPI, ref ir.InstanceRef, id string) {
	_, err := Retry(context.WithoutCancel(ctx), e.Retry, func(ctx context.Context) (*cloudformation.DeleteChangeSetOutput, error) {
		return client.DeleteChangeSet(ctx, &cloudformation.DeleteChangeSetInput{
			ChangeSetName: aws.String(id),
		})
	})
	if err != nil {
		logging.Error("failed to delete change set, delete it manually to avoid drift",
			"stack", ref.StackID, "changeset", id, "error", err)
	}
}

// EvaluateAll runs Count for every ref with bounded concurrency. Failures are
// reported in the outcomes and never cancel the other evaluations.
func (e *ChangeSetEvaluator) EvaluateAll(ctx context.Context, refs []ir.InstanceRef, target *ir.StackSetSnapshot) []ChangeSetOutcome {
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultChangeSetConcurrency
	}
	outcomes := make([]ChangeSetOutcome, len(refs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, ref := range refs {
		g.Go(func() error {
			n, err := e.Count(ctx, ref, target)
			outcomes[i] = ChangeSetOutcome{Instance: ref, Changes: n, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func sdkParameters(params []ir.Parameter) []cfntypes.Parameter {
	out := make([]cfntypes.Parameter, 0, len(params))
	for _, p := range params {
		sp := cfntypes.Parameter{ParameterKey: aws.String(p.Key)}
		if p.UsePreviousValue {
			sp.UsePreviousValue = aws.Bool(true)
		} else {
			sp.ParameterValue = aws.String(p.Value)
		}
		out = append(out, sp)
	}
	return out
}

func sdkCapabilities(caps []string) []cfntypes.Capability {
	out := make([]cfntypes.Capability, 0, len(caps))
	for _, c := range caps {
		out = append(out, cfntypes.Capability(c))
	}
	return out
}
