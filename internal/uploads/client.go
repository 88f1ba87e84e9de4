package uploads

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client builds a plain S3 client against endpoint/region,
// supporting S3-compatible stores (MinIO, R2, etc.) via a custom
// endpoint, matching spec.md §1's "object store (S3-compatible)". Both
// the presign client (uploads) and the artifact fetcher (downloads)
// share this constructor.
func NewS3Client(ctx context.Context, endpoint, region string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = true },
	}
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return s3.NewFromConfig(cfg, opts...), nil
}

// NewPresignClient builds an S3 presign client against endpoint/region.
func NewPresignClient(ctx context.Context, endpoint, region string) (*s3.PresignClient, error) {
	client, err := NewS3Client(ctx, endpoint, region)
	if err != nil {
		return nil, err
	}
	return s3.NewPresignClient(client), nil
}
