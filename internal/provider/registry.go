// Package provider hands out CloudFormation clients acting inside member
// accounts through role assumption.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/stackshift-io/stackshift/internal/engine"
	"github.com/stackshift-io/stackshift/internal/logging"
)

// DefaultExecutionRoleName is used when a stack set does not name its
// execution role.
const DefaultExecutionRoleName = "AWSCloudFormationStackSetExecutionRole"

// STSAPI is the subset of the STS client the registry needs.
type STSAPI interface {
	stscreds.AssumeRoleAPIClient
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type clientKey struct {
	account string
	region  string
	role    string
}

// Registry caches one CloudFormation client per account, region and role.
type Registry struct {
	mu        sync.RWMutex
	base      aws.Config
	sts       STSAPI
	partition string
	clients   map[clientKey]*cloudformation.Client
}

// NewRegistry creates a registry assuming roles with stsClient on top of base.
func NewRegistry(base aws.Config, stsClient STSAPI) *Registry {
	return &Registry{
		base:    base,
		sts:     stsClient,
		clients: make(map[clientKey]*cloudformation.Client),
	}
}

// Partition returns the partition of the calling identity.
func (r *Registry) Partition(ctx context.Context) (string, error) {
	r.mu.RLock()
	p := r.partition
	r.mu.RUnlock()
	if p != "" {
		return p, nil
	}

	out, err := r.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	caller, err := arn.Parse(aws.ToString(out.Arn))
	if err != nil {
		return "", fmt.Errorf("unexpected caller identity: %w", err)
	}

	r.mu.Lock()
	r.partition = caller.Partition
	r.mu.Unlock()
	return caller.Partition, nil
}

// RoleARN builds the ARN of roleName in account.
func (r *Registry) RoleARN(ctx context.Context, account, roleName string) (string, error) {
	partition, err := r.Partition(ctx)
	if err != nil {
		return "", err
	}
	return arn.ARN{
		Partition: partition,
		Service:   "iam",
		AccountID: account,
		Resource:  "role/" + roleName,
	}.String(), nil
}

// CloudFormation returns a client for region that acts as roleName in
// account. Credentials are obtained lazily and refreshed before expiry.
func (r *Registry) CloudFormation(ctx context.Context, account, region, roleName string) (*cloudformation.Client, error) {
	if roleName == "" {
		roleName = DefaultExecutionRoleName
	}
	key := clientKey{account: account, region: region, role: roleName}

	r.mu.RLock()
	c, ok := r.clients[key]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	roleARN, err := r.RoleARN(ctx, account, roleName)
	if err != nil {
		return nil, fmt.Errorf("could not assume role in account %s: %w", account, err)
	}

	cfg := r.base.Copy()
	cfg.Region = region
	cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(r.sts, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = account + "-" + roleName
	}))

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c = cloudformation.NewFromConfig(cfg)
	r.clients[key] = c
	logging.Info("assumed session", "account", account, "role", roleName, "region", region)
	return c, nil
}

// ChangeSetClient implements engine.ChangeSetClientProvider.
func (r *Registry) ChangeSetClient(ctx context.Context, account, region, roleName string) (engine.ChangeSetAPI, error) {
	c, err := r.CloudFormation(ctx, account, region, roleName)
	if err != nil {
		return nil, err
	}
	return c, nil
}
