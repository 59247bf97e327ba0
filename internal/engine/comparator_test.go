package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackshift-io/stackshift/internal/awstest"
	"github.com/stackshift-io/stackshift/internal/ir"
)

func ref(region, account string) ir.InstanceRef {
	return ir.MustParseInstanceRef(fmt.Sprintf("arn:aws:cloudformation:%s:%s:stack/StackSet-x/%s-%s", region, account, region, account))
}

func snapshot(name string, refs ...ir.InstanceRef) *ir.StackSetSnapshot {
	return &ir.StackSetSnapshot{
		Name:                name,
		Template:            "Resources: {}",
		Parameters:          []ir.Parameter{{Key: "Env", Value: "prod"}},
		Capabilities:        []string{"CAPABILITY_IAM"},
		ExecutionRoleName:   "AWSCloudFormationStackSetExecutionRole",
		OrganizationalUnits: []string{"ou-a"},
		Instances:           refs,
		FilteredInstances:   refs,
	}
}

func TestCompare_CleanPass(t *testing.T) {
	source := snapshot("src", ref("us-east-1", "111111111111"), ref("eu-west-1", "111111111111"))
	target := snapshot("dst", ref("us-east-1", "222222222222"))

	v, err := (&Comparator{}).Compare(context.Background(), source, target, false)
	require.NoError(t, err)
	assert.True(t, v.Passed())
	assert.Empty(t, v.Violations)
}

func TestCompare_SourceOnly(t *testing.T) {
	source := snapshot("src", ref("us-east-1", "111111111111"))
	v, err := (&Comparator{}).Compare(context.Background(), source, nil, false)
	require.NoError(t, err)
	assert.True(t, v.Passed())
}

func TestCompare_OneDriftedInstance(t *testing.T) {
	drifted := ref("us-east-1", "111111111111")
	source := snapshot("src", drifted, ref("eu-west-1", "111111111111"))
	source.Classified.Drifted = []ir.InstanceRef{drifted}
	target := snapshot("dst")

	v, err := (&Comparator{}).Compare(context.Background(), source, target, false)
	require.NoError(t, err)
	assert.False(t, v.Passed())
	require.Len(t, v.Violations, 1)
	assert.Equal(t, ir.ViolationDrift, v.Violations[0].Category)
	assert.Equal(t, []ir.InstanceRef{drifted}, v.Violations[0].Instances)
}

func TestCompare_InstanceConflict(t *testing.T) {
	mine := ref("us-east-1", "111111111111")
	theirs := ir.MustParseInstanceRef("arn:aws:cloudformation:us-east-1:111111111111:stack/StackSet-other/guid")
	source := snapshot("src", mine)
	target := snapshot("dst", theirs)

	v, err := (&Comparator{}).Compare(context.Background(), source, target, false)
	require.NoError(t, err)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, ir.ViolationInstanceConflict, v.Violations[0].Category)
	assert.Equal(t, []ir.InstanceRef{mine}, v.Violations[0].Instances)
}

func TestCompare_ViolationsAccumulate(t *testing.T) {
	a := ref("us-east-1", "111111111111")
	b := ref("us-east-1", "222222222222")
	c := ref("eu-west-1", "111111111111")
	source := snapshot("src", a, b, c)
	source.Classified = ir.Classified{
		Drifted:    []ir.InstanceRef{a},
		Overrides:  []ir.InstanceRef{b},
		NonCurrent: []ir.InstanceRef{c},
	}
	target := snapshot("dst", a)
	target.Template = "Resources: {Bucket: {}}"
	target.Parameters = []ir.Parameter{{Key: "Env", Value: "dev"}}

	v, err := (&Comparator{}).Compare(context.Background(), source, target, false)
	require.NoError(t, err)

	var categories []ir.ViolationCategory
	for _, viol := range v.Violations {
		categories = append(categories, viol.Category)
	}
	assert.Equal(t, []ir.ViolationCategory{
		ir.ViolationDrift,
		ir.ViolationOverride,
		ir.ViolationNonCurrent,
		ir.ViolationRegionAsymmetry,
		ir.ViolationTemplateMismatch,
		ir.ViolationParamMismatch,
		ir.ViolationInstanceConflict,
	}, categories)
}

func TestCompare_ParameterOrderMatters(t *testing.T) {
	source := snapshot("src")
	source.Parameters = []ir.Parameter{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}}
	target := snapshot("dst")
	target.Parameters = []ir.Parameter{{Key: "B", Value: "2"}, {Key: "A", Value: "1"}}

	v, err := (&Comparator{}).Compare(context.Background(), source, target, false)
	require.NoError(t, err)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, ir.ViolationParamMismatch, v.Violations[0].Category)
}

func TestCompare_PendingChanges(t *testing.T) {
	clean := ref("us-east-1", "111111111111")
	changed := ref("us-east-1", "222222222222")
	broken := ref("us-east-1", "333333333333")
	source := snapshot("src", clean, changed, broken)
	source.FilteredInstances = nil
	target := snapshot("dst")

	cfn := awstest.NewCloudFormation()
	cfn.ChangeSets[clean.StackID] = awstest.ChangeSetResult{Failed: true, StatusReason: NoChangesReason}
	cfn.ChangeSets[changed.StackID] = awstest.ChangeSetResult{Changes: 2}
	cfn.ChangeSets[broken.StackID] = awstest.ChangeSetResult{Failed: true, StatusReason: "Template format error"}
	clients := &fakeChangeSetClients{client: cfn}

	cmp := &Comparator{ChangeSets: &ChangeSetEvaluator{Clients: clients, Interval: time.Millisecond, Concurrency: 2}}
	v, err := cmp.Compare(context.Background(), source, target, true)
	require.NoError(t, err)

	require.Len(t, v.Violations, 1)
	assert.Equal(t, ir.ViolationPendingChange, v.Violations[0].Category)
	assert.ElementsMatch(t, []ir.InstanceRef{changed, broken}, v.Violations[0].Instances)
	assert.Zero(t, cfn.OpenChangeSets())
}

func TestCompare_PendingChangesNeedEvaluator(t *testing.T) {
	_, err := (&Comparator{}).Compare(context.Background(), snapshot("src"), snapshot("dst"), true)
	assert.Error(t, err)
}

func TestConflicts(t *testing.T) {
	source := []ir.InstanceRef{ref("us-east-1", "111111111111"), ref("eu-west-1", "111111111111"), ref("us-east-1", "222222222222")}
	target := []ir.InstanceRef{ref("us-east-1", "111111111111"), ref("us-east-1", "222222222222")}
	assert.Equal(t, []ir.InstanceRef{source[0], source[2]}, Conflicts(source, target))
	assert.Empty(t, Conflicts(source, nil))
}
