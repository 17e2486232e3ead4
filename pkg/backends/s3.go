package backends

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// S3Factory opens *s3.Client handles and probes one bucket with HeadBucket.
type S3Factory struct {
	bucket   string
	region   string
	endpoint string
	logger   *zap.Logger
}

// NewS3 builds a factory for the s3 kind. The bucket comes from an
// "s3://bucket" DSN or the bucket option; region and endpoint (for
// S3-compatible stores) are options.
func NewS3(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	bucket := resourceName(cfg, "s3", "bucket")
	if bucket == "" {
		return nil, configError(cfg, nil, "s3 backend requires a bucket")
	}
	f := &S3Factory{
		bucket:   bucket,
		region:   cfg.Option("region", "us-east-1"),
		endpoint: cfg.Option("endpoint", ""),
		logger:   logger,
	}
	logger.Debug("s3 backend configured",
		zap.String("bucket", f.bucket),
		zap.String("region", f.region))
	return f, nil
}

// Create implements pool.ResourceFactory.
func (f *S3Factory) Create(ctx context.Context) (any, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Validate implements pool.ResourceFactory.
func (f *S3Factory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*s3.Client)
	if !ok {
		return false
	}
	_, err := c.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(f.bucket)})
	return err == nil
}

// Close implements pool.ResourceFactory. S3 clients hold no connection state
// beyond the shared HTTP transport.
func (f *S3Factory) Close(conn any) {}
