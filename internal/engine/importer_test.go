package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackshift-io/stackshift/internal/awstest"
)

func stackIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("arn:aws:cloudformation:us-east-1:%012d:stack/StackSet-x/guid", i+1)
	}
	return ids
}

func TestBatches(t *testing.T) {
	tests := []struct {
		n     int
		sizes []int
	}{
		{0, nil},
		{1, []int{1}},
		{10, []int{10}},
		{23, []int{10, 10, 3}},
	}
	for _, tt := range tests {
		var sizes []int
		for _, b := range Batches(stackIDs(tt.n), ImportBatchSize) {
			sizes = append(sizes, len(b))
		}
		assert.Equal(t, tt.sizes, sizes, "n=%d", tt.n)
	}
}

func TestImport_BatchesAwaitedInOrder(t *testing.T) {
	cfn := awstest.NewCloudFormation()
	cfn.StackSets["dst"] = &awstest.StackSet{}
	cfn.PendingPolls = 1
	ids := stackIDs(23)

	im := &Importer{Client: cfn, Interval: time.Millisecond}
	require.NoError(t, im.Import(context.Background(), "dst", ids))

	require.Len(t, cfn.ImportCalls, 3)
	var sizes []int
	var imported []string
	for _, call := range cfn.ImportCalls {
		sizes = append(sizes, len(call.StackIds))
		imported = append(imported, call.StackIds...)
		assert.Equal(t, cfntypes.RegionConcurrencyTypeParallel, call.OperationPreferences.RegionConcurrencyType)
		assert.Equal(t, int32(10), aws.ToInt32(call.OperationPreferences.FailureToleranceCount))
	}
	assert.Equal(t, []int{10, 10, 3}, sizes)
	assert.Equal(t, ids, imported)

	// Every operation reaches a terminal state before the next one starts.
	var starts []int
	for i, ev := range cfn.Events {
		if strings.HasPrefix(ev, "start:") {
			starts = append(starts, i)
		}
	}
	require.Len(t, starts, 3)
	for n, i := range starts[1:] {
		assert.Equal(t, fmt.Sprintf("describe:op-%d:SUCCEEDED", n+1), cfn.Events[i-1])
	}
}

func TestImport_FailedBatchStops(t *testing.T) {
	cfn := awstest.NewCloudFormation()
	cfn.StackSets["dst"] = &awstest.StackSet{}
	cfn.FailImportBatch = 2
	ids := stackIDs(23)

	im := &Importer{Client: cfn, Interval: time.Millisecond}
	err := im.Import(context.Background(), "dst", ids)

	var ierr *ImportError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 2, ierr.Batch)
	assert.Equal(t, cfntypes.StackSetOperationStatusFailed, ierr.Status)
	assert.Equal(t, ids[10:], ierr.Remaining)
	assert.Len(t, cfn.ImportCalls, 2, "no batch after a failure")
	assert.Contains(t, err.Error(), "13 stacks not imported")
}

func TestImport_UnknownStackSet(t *testing.T) {
	cfn := awstest.NewCloudFormation()
	im := &Importer{Client: cfn, Interval: time.Millisecond, Retry: fastPolicy(1)}
	err := im.Import(context.Background(), "missing", stackIDs(3))

	var ierr *ImportError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, ierr.Batch)
	assert.Len(t, ierr.Remaining, 3)
}
