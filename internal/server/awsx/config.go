// Package awsx builds the aws.Config shared by the S3 and SQS clients. Static
// credentials and per-service base endpoints make it work against MinIO and
// ElasticMQ as well as AWS.
package awsx

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Options describes how to reach AWS or a compatible stack.
type Options struct {
	Region string
	// AccessKey/SecretKey are optional; when empty the default credential
	// chain is used.
	AccessKey string
	SecretKey string
}

// loadDefaultAWSConfig is a seam for tests.
var loadDefaultAWSConfig = config.LoadDefaultConfig

// Load returns an aws.Config for opts.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	return loadDefaultAWSConfig(ctx, optFns...)
}
