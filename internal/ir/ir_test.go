package ir

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStackID = "arn:aws:cloudformation:us-east-1:111111111111:stack/StackSet-baseline-abc/0f5e7a10-1111-2222-3333-444455556666"

func TestParseInstanceRef(t *testing.T) {
	ref, err := ParseInstanceRef(testStackID)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", ref.Region)
	assert.Equal(t, "111111111111", ref.Account)
	assert.Equal(t, "StackSet-baseline-abc", ref.StackName)
	assert.False(t, ref.Placeholder)
	assert.Equal(t, testStackID, ref.String())
}

func TestParseInstanceRef_Invalid(t *testing.T) {
	tests := []string{
		"",
		"not-an-arn",
		"arn:aws:s3:::bucket",
		"arn:aws:cloudformation::111111111111:stack/x/y",
	}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			_, err := ParseInstanceRef(id)
			assert.Error(t, err)
		})
	}
}

func TestPlaceholderRef(t *testing.T) {
	ref := PlaceholderRef("eu-west-1", "222222222222")
	assert.True(t, ref.Placeholder)
	assert.Equal(t, "arn:aws:cloudformation:eu-west-1:222222222222:non-existent-stack", ref.StackID)

	// The sentinel survives a round trip through the parser.
	parsed, err := ParseInstanceRef(ref.StackID)
	require.NoError(t, err)
	assert.True(t, parsed.Placeholder)
	assert.True(t, parsed.Colocated(ref))
}

func TestColocated(t *testing.T) {
	a := MustParseInstanceRef("arn:aws:cloudformation:us-east-1:111111111111:stack/a/1")
	b := MustParseInstanceRef("arn:aws:cloudformation:us-east-1:111111111111:stack/b/2")
	c := MustParseInstanceRef("arn:aws:cloudformation:us-west-2:111111111111:stack/a/1")
	assert.True(t, a.Colocated(b))
	assert.False(t, a.Colocated(c))
}

func TestClassifyInstance(t *testing.T) {
	tests := []struct {
		name     string
		status   InstanceStatus
		inTarget bool
		expected []Classification
	}{
		{
			name:     "clean",
			status:   InstanceStatus{Status: "CURRENT", DriftStatus: "IN_SYNC"},
			inTarget: true,
			expected: []Classification{ClassCurrent},
		},
		{
			name:     "drifted and outdated",
			status:   InstanceStatus{Status: "OUTDATED", DriftStatus: "DRIFTED"},
			inTarget: true,
			expected: []Classification{ClassNonCurrent, ClassDrifted},
		},
		{
			name:     "unknown drift with override outside targets",
			status:   InstanceStatus{Status: "CURRENT", DriftStatus: "UNKNOWN", ParameterOverrides: 2},
			inTarget: false,
			expected: []Classification{ClassParameterOverride, ClassCurrent, ClassUnknownDrift, ClassExtra},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyInstance(tt.status, tt.inTarget))
		})
	}
}

func TestClassifiedAdd(t *testing.T) {
	ref := MustParseInstanceRef(testStackID)
	var c Classified
	c.Add(ref, []Classification{ClassNonCurrent, ClassUnknownDrift, ClassExtra})

	assert.Equal(t, []InstanceRef{ref}, c.Drifted)
	assert.Equal(t, []InstanceRef{ref}, c.NonCurrent)
	assert.Equal(t, []InstanceRef{ref}, c.Extras)
	assert.Empty(t, c.Overrides)
}

func TestSnapshotFilterAndRegions(t *testing.T) {
	s := &StackSetSnapshot{
		Instances: []InstanceRef{
			MustParseInstanceRef("arn:aws:cloudformation:us-east-1:111111111111:stack/a/1"),
			MustParseInstanceRef("arn:aws:cloudformation:eu-west-1:111111111111:stack/a/2"),
			MustParseInstanceRef("arn:aws:cloudformation:us-east-1:222222222222:stack/a/3"),
		},
	}

	s.FilterByAccounts(nil)
	assert.Empty(t, s.FilteredInstances)

	s.FilterByAccounts([]string{"222222222222"})
	require.Len(t, s.FilteredInstances, 1)
	assert.Equal(t, "222222222222", s.FilteredInstances[0].Account)

	s.WidenFilter()
	assert.Equal(t, s.Instances, s.FilteredInstances)

	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, s.Regions())
	assert.Equal(t, map[string]int{"us-east-1": 2, "eu-west-1": 1}, s.InstancesPerRegion())
}

func TestParametersEqual(t *testing.T) {
	a := []Parameter{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}}
	b := []Parameter{{Key: "B", Value: "2"}, {Key: "A", Value: "1"}}
	assert.True(t, ParametersEqual(a, a))
	assert.False(t, ParametersEqual(a, b), "comparison is order sensitive")
	assert.True(t, ParametersEqual(nil, []Parameter{}))
}

func TestVerdict(t *testing.T) {
	ref := MustParseInstanceRef(testStackID)
	var v Verdict
	assert.True(t, v.Passed())

	v.Add(ViolationDrift, "drifted", ref)
	v.Add(ViolationNonCurrent, "non current", ref)
	v.Add(ViolationTemplateMismatch, "templates differ")

	assert.False(t, v.Passed())
	assert.Len(t, v.Violations, 3)
	assert.Equal(t, []InstanceRef{ref}, v.Instances())
}

func TestHasRegionAsymmetry(t *testing.T) {
	build := func(counts map[string]int) *StackSetSnapshot {
		s := &StackSetSnapshot{}
		account := 100000000000
		for region, n := range counts {
			for i := 0; i < n; i++ {
				account++
				s.Instances = append(s.Instances, MustParseInstanceRef(
					"arn:aws:cloudformation:"+region+":"+strconv.Itoa(account)+":stack/s/1"))
			}
		}
		return s
	}

	tests := []struct {
		name     string
		counts   map[string]int
		expected bool
	}{
		{"empty", map[string]int{}, false},
		{"single region", map[string]int{"r1": 4}, false},
		{"uniform", map[string]int{"us-east-1": 3, "eu-west-1": 3}, false},
		{"asymmetric", map[string]int{"us-east-1": 3, "eu-west-1": 2}, true},
		{"one region off", map[string]int{"us-east-1": 2, "eu-west-1": 2, "ap-south-1": 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, build(tt.counts).HasRegionAsymmetry())
		})
	}
}
