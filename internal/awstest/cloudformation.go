// Package awstest provides in-memory fakes of the AWS clients used by
// stackshift, for tests.
package awstest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
)

// Instance is a stack instance held by the fake.
type Instance struct {
	StackID     string
	Region      string
	Account     string
	Status      cfntypes.StackInstanceStatus
	DriftStatus cfntypes.StackDriftStatus
	Overrides   []cfntypes.Parameter
}

// StackSet is a stack set held by the fake.
type StackSet struct {
	Template            string
	Parameters          []cfntypes.Parameter
	Capabilities        []cfntypes.Capability
	ExecutionRoleName   string
	OrganizationalUnits []string
	Instances           []Instance
}

// ChangeSetResult is what DescribeChangeSet reports for a stack.
type ChangeSetResult struct {
	Changes      int
	Failed       bool
	StatusReason string
	// PendingPolls is the number of CREATE_PENDING answers before the
	// result becomes visible.
	PendingPolls int
	CreateErr    error
}

type operation struct {
	stackSet string
	action   cfntypes.StackSetOperationAction
	pending  int
	failed   bool
}

type changeSet struct {
	stackID string
	polls   int
}

// CloudFormation is a concurrency-safe fake of the CloudFormation client.
type CloudFormation struct {
	mu sync.Mutex

	StackSets map[string]*StackSet
	// PageSize bounds ListStackInstances pages. Zero means 2.
	PageSize int
	// PendingPolls is the number of RUNNING answers before an operation
	// reaches its final status.
	PendingPolls int
	// OperationStatus overrides the final status per action.
	OperationStatus map[cfntypes.StackSetOperationAction]cfntypes.StackSetOperationStatus
	// FailImportBatch makes the n-th import (1-based) finish FAILED.
	FailImportBatch int
	// ThrottleDescribes makes the first n DescribeStackInstance calls throttle.
	ThrottleDescribes int
	// ChangeSets maps a stack id to its dry-run outcome.
	ChangeSets map[string]ChangeSetResult

	// Events records every mutating call and every operation probe, in order.
	Events           []string
	DriftCalls       []*cloudformation.DetectStackSetDriftInput
	DeleteCalls      []*cloudformation.DeleteStackInstancesInput
	ImportCalls      []*cloudformation.ImportStacksToStackSetInput
	DescribeCalls    int
	DeletedChangeSet []string

	ops        map[string]*operation
	changeSets map[string]*changeSet
	nextID     int
	imports    int
}

// NewCloudFormation returns an empty fake.
func NewCloudFormation() *CloudFormation {
	return &CloudFormation{
		StackSets:  make(map[string]*StackSet),
		ChangeSets: make(map[string]ChangeSetResult),
		ops:        make(map[string]*operation),
		changeSets: make(map[string]*changeSet),
	}
}

func notFound(kind, name string) error {
	return &smithy.GenericAPIError{Code: kind + "NotFoundException", Message: name + " not found"}
}

// Throttled is the error returned for throttled calls.
func Throttled() error {
	return &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"}
}

func (f *CloudFormation) stackSet(name *string) (*StackSet, error) {
	s, ok := f.StackSets[aws.ToString(name)]
	if !ok {
		return nil, notFound("StackSet", aws.ToString(name))
	}
	return s, nil
}

func (f *CloudFormation) startOperation(stackSet string, action cfntypes.StackSetOperationAction) string {
	f.nextID++
	id := "op-" + strconv.Itoa(f.nextID)
	f.ops[id] = &operation{stackSet: stackSet, action: action, pending: f.PendingPolls}
	f.Events = append(f.Events, fmt.Sprintf("start:%s:%s", action, id))
	return id
}

func (f *CloudFormation) DescribeStackSet(ctx context.Context, params *cloudformation.DescribeStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.stackSet(params.StackSetName)
	if err != nil {
		return nil, err
	}
	return &cloudformation.DescribeStackSetOutput{StackSet: &cfntypes.StackSet{
		StackSetName:          params.StackSetName,
		TemplateBody:          aws.String(s.Template),
		Parameters:            s.Parameters,
		Capabilities:          s.Capabilities,
		ExecutionRoleName:     aws.String(s.ExecutionRoleName),
		OrganizationalUnitIds: s.OrganizationalUnits,
	}}, nil
}

func (f *CloudFormation) ListStackInstances(ctx context.Context, params *cloudformation.ListStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.stackSet(params.StackSetName)
	if err != nil {
		return nil, err
	}
	size := f.PageSize
	if size <= 0 {
		size = 2
	}
	start := 0
	if params.NextToken != nil {
		start, _ = strconv.Atoi(*params.NextToken)
	}
	end := min(start+size, len(s.Instances))

	out := &cloudformation.ListStackInstancesOutput{}
	for _, inst := range s.Instances[start:end] {
		summary := cfntypes.StackInstanceSummary{
			Account:     aws.String(inst.Account),
			Region:      aws.String(inst.Region),
			Status:      inst.Status,
			DriftStatus: inst.DriftStatus,
		}
		if inst.StackID != "" {
			summary.StackId = aws.String(inst.StackID)
		}
		out.Summaries = append(out.Summaries, summary)
	}
	if end < len(s.Instances) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *CloudFormation) DescribeStackInstance(ctx context.Context, params *cloudformation.DescribeStackInstanceInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackInstanceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DescribeCalls++
	if f.ThrottleDescribes > 0 {
		f.ThrottleDescribes--
		return nil, Throttled()
	}
	s, err := f.stackSet(params.StackSetName)
	if err != nil {
		return nil, err
	}
	for _, inst := range s.Instances {
		if inst.Account == aws.ToString(params.StackInstanceAccount) && inst.Region == aws.ToString(params.StackInstanceRegion) {
			return &cloudformation.DescribeStackInstanceOutput{StackInstance: &cfntypes.StackInstance{
				Account:            aws.String(inst.Account),
				Region:             aws.String(inst.Region),
				StackId:            aws.String(inst.StackID),
				Status:             inst.Status,
				DriftStatus:        inst.DriftStatus,
				ParameterOverrides: inst.Overrides,
			}}, nil
		}
	}
	return nil, notFound("StackInstance", aws.ToString(params.StackInstanceAccount)+"/"+aws.ToString(params.StackInstanceRegion))
}

func (f *CloudFormation) DetectStackSetDrift(ctx context.Context, params *cloudformation.DetectStackSetDriftInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DetectStackSetDriftOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.stackSet(params.StackSetName); err != nil {
		return nil, err
	}
	f.DriftCalls = append(f.DriftCalls, params)
	id := f.startOperation(aws.ToString(params.StackSetName), cfntypes.StackSetOperationActionDetectDrift)
	return &cloudformation.DetectStackSetDriftOutput{OperationId: aws.String(id)}, nil
}

func (f *CloudFormation) DeleteStackInstances(ctx context.Context, params *cloudformation.DeleteStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.stackSet(params.StackSetName); err != nil {
		return nil, err
	}
	f.DeleteCalls = append(f.DeleteCalls, params)
	id := f.startOperation(aws.ToString(params.StackSetName), cfntypes.StackSetOperationActionDelete)
	return &cloudformation.DeleteStackInstancesOutput{OperationId: aws.String(id)}, nil
}

func (f *CloudFormation) ImportStacksToStackSet(ctx context.Context, params *cloudformation.ImportStacksToStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ImportStacksToStackSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.stackSet(params.StackSetName); err != nil {
		return nil, err
	}
	f.imports++
	f.ImportCalls = append(f.ImportCalls, params)
	id := f.startOperation(aws.ToString(params.StackSetName), cfntypes.StackSetOperationActionCreate)
	if f.FailImportBatch == f.imports {
		f.ops[id].failed = true
	}
	return &cloudformation.ImportStacksToStackSetOutput{OperationId: aws.String(id)}, nil
}

func (f *CloudFormation) DescribeStackSetOperation(ctx context.Context, params *cloudformation.DescribeStackSetOperationInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOperationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(params.OperationId)
	op, ok := f.ops[id]
	if !ok {
		return nil, notFound("Operation", id)
	}

	status := cfntypes.StackSetOperationStatusRunning
	if op.pending > 0 {
		op.pending--
	} else {
		status = cfntypes.StackSetOperationStatusSucceeded
		if op.failed {
			status = cfntypes.StackSetOperationStatusFailed
		} else if s, ok := f.OperationStatus[op.action]; ok {
			status = s
		}
	}
	f.Events = append(f.Events, fmt.Sprintf("describe:%s:%s", id, status))
	return &cloudformation.DescribeStackSetOperationOutput{StackSetOperation: &cfntypes.StackSetOperation{
		OperationId: aws.String(id),
		StackSetId:  aws.String(op.stackSet),
		Action:      op.action,
		Status:      status,
	}}, nil
}

func (f *CloudFormation) CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stackID := aws.ToString(params.StackName)
	if res := f.ChangeSets[stackID]; res.CreateErr != nil {
		return nil, res.CreateErr
	}
	f.nextID++
	id := "cs-" + strconv.Itoa(f.nextID)
	f.changeSets[id] = &changeSet{stackID: stackID}
	f.Events = append(f.Events, "create-changeset:"+stackID)
	return &cloudformation.CreateChangeSetOutput{Id: aws.String(id), StackId: params.StackName}, nil
}

func (f *CloudFormation) DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(params.ChangeSetName)
	cs, ok := f.changeSets[id]
	if !ok {
		return nil, notFound("ChangeSet", id)
	}
	res := f.ChangeSets[cs.stackID]
	cs.polls++
	if cs.polls <= res.PendingPolls {
		return &cloudformation.DescribeChangeSetOutput{
			Status:          cfntypes.ChangeSetStatusCreatePending,
			ExecutionStatus: cfntypes.ExecutionStatusUnavailable,
		}, nil
	}
	if res.Failed {
		return &cloudformation.DescribeChangeSetOutput{
			Status:          cfntypes.ChangeSetStatusFailed,
			ExecutionStatus: cfntypes.ExecutionStatusUnavailable,
			StatusReason:    aws.String(res.StatusReason),
		}, nil
	}
	out := &cloudformation.DescribeChangeSetOutput{
		Status:          cfntypes.ChangeSetStatusCreateComplete,
		ExecutionStatus: cfntypes.ExecutionStatusAvailable,
	}
	for i := 0; i < res.Changes; i++ {
		out.Changes = append(out.Changes, cfntypes.Change{Type: cfntypes.ChangeTypeResource})
	}
	return out, nil
}

func (f *CloudFormation) DeleteChangeSet(ctx context.Context, params *cloudformation.DeleteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteChangeSetOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(params.ChangeSetName)
	if _, ok := f.changeSets[id]; !ok {
		return nil, notFound("ChangeSet", id)
	}
	delete(f.changeSets, id)
	f.DeletedChangeSet = append(f.DeletedChangeSet, id)
	return &cloudformation.DeleteChangeSetOutput{}, nil
}

// OpenChangeSets returns the number of change sets not yet deleted.
func (f *CloudFormation) OpenChangeSets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changeSets)
}
