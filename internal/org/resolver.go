// Package org expands organization groupings into account ids.
package org

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"

	"github.com/stackshift-io/stackshift/internal/engine"
	"github.com/stackshift-io/stackshift/internal/logging"
)

// ErrInvalidGroupingID is returned for ids that are neither a root nor an
// organizational unit.
var ErrInvalidGroupingID = errors.New("invalid grouping id")

// OrganizationsAPI is the subset of the Organizations client the resolver needs.
type OrganizationsAPI interface {
	ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error)
	ListAccountsForParent(ctx context.Context, params *organizations.ListAccountsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsForParentOutput, error)
	ListChildren(ctx context.Context, params *organizations.ListChildrenInput, optFns ...func(*organizations.Options)) (*organizations.ListChildrenOutput, error)
}

// IsRootID reports whether id denotes an organization root.
func IsRootID(id string) bool {
	return strings.HasPrefix(id, "r-")
}

// IsOrganizationalUnitID reports whether id denotes an organizational unit.
func IsOrganizationalUnitID(id string) bool {
	return strings.HasPrefix(id, "ou-")
}

// Resolver expands roots and organizational units into account ids.
type Resolver struct {
	client OrganizationsAPI
	retry  *engine.RetryPolicy
}

// NewResolver creates a resolver backed by client.
func NewResolver(client OrganizationsAPI) *Resolver {
	return &Resolver{client: client, retry: engine.ThrottleRetryPolicy()}
}

// WithRetry replaces the retry policy applied to every page request.
func (r *Resolver) WithRetry(p *engine.RetryPolicy) *Resolver {
	r.retry = p
	return r
}

// Resolve returns every account under groupingID, without duplicates.
// A root resolves to every account of the organization; an organizational
// unit resolves to its accounts and the accounts of all its descendants.
func (r *Resolver) Resolve(ctx context.Context, groupingID string) ([]string, error) {
	var accounts []string
	var err error
	switch {
	case IsRootID(groupingID):
		accounts, err = r.allAccounts(ctx)
	case IsOrganizationalUnitID(groupingID):
		accounts, err = r.unitAccounts(ctx, groupingID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroupingID, groupingID)
	}
	if err != nil {
		return nil, err
	}
	accounts = dedupe(accounts)
	logging.Debug("resolved grouping", "grouping", groupingID, "accounts", len(accounts))
	return accounts, nil
}

// ResolveAll resolves several groupings into one de-duplicated account list.
func (r *Resolver) ResolveAll(ctx context.Context, groupingIDs []string) ([]string, error) {
	var accounts []string
	for _, id := range groupingIDs {
		logging.Info("getting all accounts for grouping", "grouping", id)
		resolved, err := r.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, resolved...)
	}
	return dedupe(accounts), nil
}

func (r *Resolver) allAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	p := organizations.NewListAccountsPaginator(r.client, &organizations.ListAccountsInput{})
	for p.HasMorePages() {
		page, err := engine.Retry(ctx, r.retry, func(ctx context.Context) (*organizations.ListAccountsOutput, error) {
			return p.NextPage(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list organization accounts: %w", err)
		}
		for _, a := range page.Accounts {
			accounts = append(accounts, aws.ToString(a.Id))
		}
	}
	return accounts, nil
}

// unitAccounts walks ou and its descendants. A unit that disappears while
// being walked keeps whatever was collected for it so far.
func (r *Resolver) unitAccounts(ctx context.Context, ou string) ([]string, error) {
	var accounts []string
	err := r.walkUnit(ctx, ou, &accounts)
	if err != nil && !isParentNotFound(err) {
		return nil, err
	}
	return accounts, nil
}

func (r *Resolver) walkUnit(ctx context.Context, ou string, accounts *[]string) error {
	ap := organizations.NewListAccountsForParentPaginator(r.client, &organizations.ListAccountsForParentInput{
		ParentId: aws.String(ou),
	})
	for ap.HasMorePages() {
		page, err := engine.Retry(ctx, r.retry, func(ctx context.Context) (*organizations.ListAccountsForParentOutput, error) {
			return ap.NextPage(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to list accounts for %s: %w", ou, err)
		}
		for _, a := range page.Accounts {
			*accounts = append(*accounts, aws.ToString(a.Id))
		}
	}

	var children []string
	cp := organizations.NewListChildrenPaginator(r.client, &organizations.ListChildrenInput{
		ParentId:  aws.String(ou),
		ChildType: orgtypes.ChildTypeOrganizationalUnit,
	})
	for cp.HasMorePages() {
		page, err := engine.Retry(ctx, r.retry, func(ctx context.Context) (*organizations.ListChildrenOutput, error) {
			return cp.NextPage(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to list child units of %s: %w", ou, err)
		}
		for _, c := range page.Children {
			children = append(children, aws.ToString(c.Id))
		}
	}

	for _, child := range children {
		childAccounts, err := r.unitAccounts(ctx, child)
		if err != nil {
			return err
		}
		*accounts = append(*accounts, childAccounts...)
	}
	return nil
}

func isParentNotFound(err error) bool {
	var pnf *orgtypes.ParentNotFoundException
	if errors.As(err, &pnf) {
		logging.Warn("organizational unit vanished during scan", "error", err)
		return true
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
