package ir

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// placeholderResource is the resource part of a synthesized stack id for an
// instance the provider listed without a stack.
const placeholderResource = "non-existent-stack"

// InstanceRef identifies a single stack instance.
type InstanceRef struct {
	StackID     string
	Region      string
	Account     string
	StackName   string
	Placeholder bool
}

// ParseInstanceRef parses a CloudFormation stack id
// (arn:<partition>:cloudformation:<region>:<account>:stack/<name>/<guid>).
func ParseInstanceRef(stackID string) (InstanceRef, error) {
	a, err := arn.Parse(stackID)
	if err != nil {
		return InstanceRef{}, fmt.Errorf("invalid stack id %q: %w", stackID, err)
	}
	if a.Service != "cloudformation" {
		return InstanceRef{}, fmt.Errorf("invalid stack id %q: service is %q", stackID, a.Service)
	}
	if a.Region == "" || a.AccountID == "" {
		return InstanceRef{}, fmt.Errorf("invalid stack id %q: missing region or account", stackID)
	}

	ref := InstanceRef{
		StackID: stackID,
		Region:  a.Region,
		Account: a.AccountID,
	}
	if a.Resource == placeholderResource {
		ref.Placeholder = true
		return ref, nil
	}
	parts := strings.Split(a.Resource, "/")
	if len(parts) >= 2 && parts[0] == "stack" {
		ref.StackName = parts[1]
	}
	return ref, nil
}

// MustParseInstanceRef is like ParseInstanceRef but panics on error.
func MustParseInstanceRef(stackID string) InstanceRef {
	ref, err := ParseInstanceRef(stackID)
	if err != nil {
		panic(err)
	}
	return ref
}

// PlaceholderRef synthesizes a ref for an instance that has no stack.
func PlaceholderRef(region, account string) InstanceRef {
	return InstanceRef{
		StackID:     fmt.Sprintf("arn:aws:cloudformation:%s:%s:%s", region, account, placeholderResource),
		Region:      region,
		Account:     account,
		Placeholder: true,
	}
}

// Colocated reports whether both refs live in the same account and region.
func (r InstanceRef) Colocated(other InstanceRef) bool {
	return r.Region == other.Region && r.Account == other.Account
}

func (r InstanceRef) String() string {
	return r.StackID
}

// StackIDs returns the stack ids of refs, in order.
func StackIDs(refs []InstanceRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.StackID
	}
	return ids
}
