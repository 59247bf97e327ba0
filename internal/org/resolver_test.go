package org

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackshift-io/stackshift/internal/awstest"
	"github.com/stackshift-io/stackshift/internal/engine"
)

func fastRetry() *engine.RetryPolicy {
	return &engine.RetryPolicy{
		MaxAttempts: 2,
		Backoff:     engine.FixedBackoff(time.Millisecond),
		ShouldRetry: engine.IsThrottlingError,
	}
}

func TestResolve_Root(t *testing.T) {
	orgs := awstest.NewOrganizations()
	orgs.Accounts = []string{"111", "222", "333", "444", "555"}

	accounts, err := NewResolver(orgs).Resolve(context.Background(), "r-abcd")
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333", "444", "555"}, accounts)
}

func TestResolve_UnitCountsDescendants(t *testing.T) {
	tests := []struct {
		name   string
		direct int
		units  int
		perOU  int
	}{
		{"leaf unit", 3, 0, 0},
		{"children only", 0, 2, 3},
		{"mixed", 5, 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orgs := awstest.NewOrganizations()
			next := 100
			account := func() string {
				next++
				return fmt.Sprintf("%012d", next)
			}
			for i := 0; i < tt.direct; i++ {
				orgs.Units["ou-root"] = append(orgs.Units["ou-root"], account())
			}
			for u := 0; u < tt.units; u++ {
				child := fmt.Sprintf("ou-child-%d", u)
				orgs.Children["ou-root"] = append(orgs.Children["ou-root"], child)
				for i := 0; i < tt.perOU; i++ {
					orgs.Units[child] = append(orgs.Units[child], account())
				}
			}

			accounts, err := NewResolver(orgs).Resolve(context.Background(), "ou-root")
			require.NoError(t, err)
			assert.Len(t, accounts, tt.direct+tt.units*tt.perOU)
		})
	}
}

func TestResolve_NestedAndDeduplicated(t *testing.T) {
	orgs := awstest.NewOrganizations()
	orgs.Units["ou-a"] = []string{"111"}
	orgs.Children["ou-a"] = []string{"ou-b"}
	orgs.Units["ou-b"] = []string{"222", "111"}
	orgs.Children["ou-b"] = []string{"ou-c"}
	orgs.Units["ou-c"] = []string{"333"}

	accounts, err := NewResolver(orgs).Resolve(context.Background(), "ou-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333"}, accounts)
}

func TestResolve_VanishedUnitKeepsCollectedAccounts(t *testing.T) {
	orgs := awstest.NewOrganizations()
	orgs.Units["ou-a"] = []string{"111"}
	orgs.Children["ou-a"] = []string{"ou-gone", "ou-c"}
	orgs.Units["ou-gone"] = []string{"222"}
	orgs.Vanished["ou-gone"] = true
	orgs.Units["ou-c"] = []string{"333"}

	accounts, err := NewResolver(orgs).Resolve(context.Background(), "ou-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333"}, accounts)
}

func TestResolve_OtherFaultsPropagate(t *testing.T) {
	orgs := awstest.NewOrganizations()
	orgs.Children["ou-a"] = []string{"ou-b"}
	boom := errors.New("access denied")
	orgs.Errors["ou-b"] = boom

	_, err := NewResolver(orgs).Resolve(context.Background(), "ou-a")
	assert.ErrorIs(t, err, boom)
}

func TestResolve_InvalidGroupingID(t *testing.T) {
	orgs := awstest.NewOrganizations()
	for _, id := range []string{"", "111111111111", "ou", "root"} {
		_, err := NewResolver(orgs).Resolve(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidGroupingID, id)
	}
	assert.Zero(t, orgs.Calls)
}

func TestResolveAll(t *testing.T) {
	orgs := awstest.NewOrganizations()
	orgs.Units["ou-a"] = []string{"111", "222"}
	orgs.Units["ou-b"] = []string{"222", "333"}

	accounts, err := NewResolver(orgs).ResolveAll(context.Background(), []string{"ou-a", "ou-b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333"}, accounts)
}

func TestResolve_RetriesThrottledPage(t *testing.T) {
	orgs := awstest.NewOrganizations()
	orgs.Accounts = []string{"111", "222", "333", "444", "555"}
	orgs.ThrottleCalls = 1

	accounts, err := NewResolver(orgs).WithRetry(fastRetry()).Resolve(context.Background(), "r-abcd")
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333", "444", "555"}, accounts)
	assert.Equal(t, 4, orgs.Calls)
}

func TestResolve_PersistentThrottlingFails(t *testing.T) {
	orgs := awstest.NewOrganizations()
	orgs.Units["ou-a"] = []string{"111"}
	orgs.ThrottleCalls = 2

	_, err := NewResolver(orgs).WithRetry(fastRetry()).Resolve(context.Background(), "ou-a")
	require.Error(t, err)
	assert.True(t, engine.IsThrottlingError(err))
	assert.Equal(t, 2, orgs.Calls)
}
