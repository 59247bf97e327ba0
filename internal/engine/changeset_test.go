package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackshift-io/stackshift/internal/awstest"
	"github.com/stackshift-io/stackshift/internal/ir"
)

type fakeChangeSetClients struct {
	mu     sync.Mutex
	client ChangeSetAPI
	err    error
	calls  []string
}

func (f *fakeChangeSetClients) ChangeSetClient(ctx context.Context, account, region, roleName string) (ChangeSetAPI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, account+"/"+region+"/"+roleName)
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func newChangeSetEvaluator(cfn *awstest.CloudFormation) (*ChangeSetEvaluator, *fakeChangeSetClients) {
	clients := &fakeChangeSetClients{client: cfn}
	return &ChangeSetEvaluator{Clients: clients, Interval: time.Millisecond, Retry: fastPolicy(2)}, clients
}

func TestChangeSetCount(t *testing.T) {
	r := ref("us-east-1", "111111111111")
	target := snapshot("dst")

	tests := []struct {
		name    string
		result  awstest.ChangeSetResult
		changes int
		wantErr bool
	}{
		{"no changes", awstest.ChangeSetResult{Failed: true, StatusReason: NoChangesReason}, 0, false},
		{"changes", awstest.ChangeSetResult{Changes: 3}, 3, false},
		{"available without changes", awstest.ChangeSetResult{}, 0, false},
		{"pending then changes", awstest.ChangeSetResult{Changes: 1, PendingPolls: 3}, 1, false},
		{"failed for another reason", awstest.ChangeSetResult{Failed: true, StatusReason: "No updates are to be performed."}, 0, true},
		{"never ready", awstest.ChangeSetResult{PendingPolls: 50}, 0, true},
		{"create rejected", awstest.ChangeSetResult{CreateErr: errors.New("stack is in UPDATE_IN_PROGRESS")}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfn := awstest.NewCloudFormation()
			cfn.ChangeSets[r.StackID] = tt.result
			e, clients := newChangeSetEvaluator(cfn)

			n, err := e.Count(context.Background(), r, target)
			if tt.wantErr {
				var cse *ChangeSetError
				require.ErrorAs(t, err, &cse)
				assert.Equal(t, r, cse.Instance)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.changes, n)
			assert.Zero(t, cfn.OpenChangeSets(), "change set must always be deleted")
			assert.Equal(t, []string{"111111111111/us-east-1/AWSCloudFormationStackSetExecutionRole"}, clients.calls)
		})
	}
}

func TestChangeSetCount_PlaceholderIsError(t *testing.T) {
	cfn := awstest.NewCloudFormation()
	e, clients := newChangeSetEvaluator(cfn)
	_, err := e.Count(context.Background(), ir.PlaceholderRef("us-east-1", "111111111111"), snapshot("dst"))
	assert.Error(t, err)
	assert.Empty(t, clients.calls)
}

func TestChangeSetCount_RoleAssumptionFails(t *testing.T) {
	cfn := awstest.NewCloudFormation()
	e, clients := newChangeSetEvaluator(cfn)
	clients.err = errors.New("not authorized to perform sts:AssumeRole")

	_, err := e.Count(context.Background(), ref("us-east-1", "111111111111"), snapshot("dst"))
	assert.ErrorContains(t, err, "sts:AssumeRole")
}

func TestEvaluateAll_CollectsFailures(t *testing.T) {
	var refs []ir.InstanceRef
	cfn := awstest.NewCloudFormation()
	for _, account := range []string{"111111111111", "222222222222", "333333333333", "444444444444", "555555555555", "666666666666", "777777777777"} {
		r := ref("us-east-1", account)
		refs = append(refs, r)
		cfn.ChangeSets[r.StackID] = awstest.ChangeSetResult{Failed: true, StatusReason: NoChangesReason}
	}
	cfn.ChangeSets[refs[2].StackID] = awstest.ChangeSetResult{CreateErr: errors.New("denied")}
	cfn.ChangeSets[refs[5].StackID] = awstest.ChangeSetResult{Changes: 4}

	e, _ := newChangeSetEvaluator(cfn)
	e.Concurrency = 3
	outcomes := e.EvaluateAll(context.Background(), refs, snapshot("dst"))

	require.Len(t, outcomes, len(refs))
	for i, o := range outcomes {
		assert.Equal(t, refs[i], o.Instance, "outcomes keep input order")
	}
	assert.Error(t, outcomes[2].Err)
	assert.Equal(t, 4, outcomes[5].Changes)
	assert.Zero(t, cfn.OpenChangeSets())
}

func TestSDKParameters(t *testing.T) {
	params := sdkParameters([]ir.Parameter{
		{Key: "Env", Value: "prod"},
		{Key: "Keep", UsePreviousValue: true},
	})
	require.Len(t, params, 2)
	assert.Equal(t, "prod", *params[0].ParameterValue)
	assert.Nil(t, params[1].ParameterValue)
	assert.True(t, *params[1].UsePreviousValue)
}
