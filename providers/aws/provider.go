// Package aws builds the AWS clients stackshift talks to from the operator's
// default credential chain.
package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Options select the region and shared config profile of a session. Empty
// values fall back to the SDK defaults.
type Options struct {
	Region  string
	Profile string
}

// Session holds the management account clients of one run.
type Session struct {
	Config         sdkaws.Config
	CloudFormation *cloudformation.Client
	Organizations  *organizations.Client
	STS            *sts.Client
	S3             *s3.Client
}

// NewSession loads the default AWS configuration and creates every client.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("no AWS region configured; set --region or AWS_REGION")
	}

	return &Session{
		Config:         cfg,
		CloudFormation: cloudformation.NewFromConfig(cfg),
		Organizations:  organizations.NewFromConfig(cfg),
		STS:            sts.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
	}, nil
}
