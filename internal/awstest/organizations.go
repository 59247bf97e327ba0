package awstest

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
)

// Organizations is a fake of the Organizations client. Accounts lists every
// account of the organization; Units maps a unit id to its direct accounts
// and Children maps a unit id to its child units.
type Organizations struct {
	mu sync.Mutex

	Accounts []string
	Units    map[string][]string
	Children map[string][]string
	// Vanished units answer ParentNotFoundException once their direct
	// accounts have been listed.
	Vanished map[string]bool
	// Errors fails every call about a parent id.
	Errors map[string]error
	// PageSize bounds every page. Zero means 2.
	PageSize int
	// ThrottleCalls makes the first n calls throttle.
	ThrottleCalls int

	Calls int
}

// NewOrganizations returns an empty fake.
func NewOrganizations() *Organizations {
	return &Organizations{
		Units:    make(map[string][]string),
		Children: make(map[string][]string),
		Vanished: make(map[string]bool),
		Errors:   make(map[string]error),
	}
}

func (f *Organizations) page(items []string, token *string) ([]string, *string) {
	size := f.PageSize
	if size <= 0 {
		size = 2
	}
	start := 0
	if token != nil {
		start, _ = strconv.Atoi(*token)
	}
	end := min(start+size, len(items))
	var next *string
	if end < len(items) {
		next = aws.String(strconv.Itoa(end))
	}
	return items[start:end], next
}

func accounts(ids []string) []orgtypes.Account {
	out := make([]orgtypes.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, orgtypes.Account{Id: aws.String(id)})
	}
	return out
}

func (f *Organizations) ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.ThrottleCalls > 0 {
		f.ThrottleCalls--
		return nil, Throttled()
	}
	ids, next := f.page(f.Accounts, params.NextToken)
	return &organizations.ListAccountsOutput{Accounts: accounts(ids), NextToken: next}, nil
}

func (f *Organizations) ListAccountsForParent(ctx context.Context, params *organizations.ListAccountsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsForParentOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.ThrottleCalls > 0 {
		f.ThrottleCalls--
		return nil, Throttled()
	}
	parent := aws.ToString(params.ParentId)
	if err := f.Errors[parent]; err != nil {
		return nil, err
	}
	ids, next := f.page(f.Units[parent], params.NextToken)
	return &organizations.ListAccountsForParentOutput{Accounts: accounts(ids), NextToken: next}, nil
}

func (f *Organizations) ListChildren(ctx context.Context, params *organizations.ListChildrenInput, optFns ...func(*organizations.Options)) (*organizations.ListChildrenOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.ThrottleCalls > 0 {
		f.ThrottleCalls--
		return nil, Throttled()
	}
	parent := aws.ToString(params.ParentId)
	if err := f.Errors[parent]; err != nil {
		return nil, err
	}
	if f.Vanished[parent] {
		return nil, &orgtypes.ParentNotFoundException{Message: aws.String("parent " + parent + " not found")}
	}
	ids, next := f.page(f.Children[parent], params.NextToken)
	out := &organizations.ListChildrenOutput{NextToken: next}
	for _, id := range ids {
		out.Children = append(out.Children, orgtypes.Child{Id: aws.String(id), Type: params.ChildType})
	}
	return out, nil
}
