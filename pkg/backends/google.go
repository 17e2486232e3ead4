package backends

import (
	"context"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// googleClientOptions maps backend options onto Google API client options:
// credentials_file, access_token and endpoint.
func googleClientOptions(cfg config.BackendConfig) []option.ClientOption {
	var opts []option.ClientOption
	if f := cfg.Option("credentials_file", ""); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	if tok := cfg.Option("access_token", ""); tok != "" {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})))
	}
	if ep := cfg.Option("endpoint", ""); ep != "" {
		opts = append(opts, option.WithEndpoint(ep))
		if cfg.Option("insecure", "false") == "true" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts
}

// BigQueryFactory opens *bigquery.Client handles for one project.
type BigQueryFactory struct {
	project string
	opts    []option.ClientOption
	logger  *zap.Logger
}

// NewBigQuery builds a factory for the bigquery kind. The project comes from
// a "bigquery://project" DSN or the project option.
func NewBigQuery(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	project := resourceName(cfg, "bigquery", "project")
	if project == "" {
		return nil, configError(cfg, nil, "bigquery backend requires a project")
	}
	logger.Debug("bigquery backend configured", zap.String("project", project))
	return &BigQueryFactory{project: project, opts: googleClientOptions(cfg), logger: logger}, nil
}

// Create implements pool.ResourceFactory.
func (f *BigQueryFactory) Create(ctx context.Context) (any, error) {
	return bigquery.NewClient(ctx, f.project, f.opts...)
}

// Validate implements pool.ResourceFactory with a SELECT 1 round trip.
func (f *BigQueryFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*bigquery.Client)
	if !ok {
		return false
	}
	it, err := c.Query("SELECT 1").Read(ctx)
	if err != nil {
		return false
	}
	var row []bigquery.Value
	err = it.Next(&row)
	return err == nil || err == iterator.Done
}

// Close implements pool.ResourceFactory.
func (f *BigQueryFactory) Close(conn any) {
	c, ok := conn.(*bigquery.Client)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		f.logger.Debug("failed to close bigquery client", zap.Error(err))
	}
}

// GCSFactory opens *storage.Client handles and probes one bucket.
type GCSFactory struct {
	bucket string
	opts   []option.ClientOption
	logger *zap.Logger
}

// NewGCS builds a factory for the gcs kind. The bucket comes from a
// "gs://bucket" DSN or the bucket option.
func NewGCS(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	bucket := resourceName(cfg, "gs", "bucket")
	if bucket == "" {
		return nil, configError(cfg, nil, "gcs backend requires a bucket")
	}
	logger.Debug("gcs backend configured", zap.String("bucket", bucket))
	return &GCSFactory{bucket: bucket, opts: googleClientOptions(cfg), logger: logger}, nil
}

// Create implements pool.ResourceFactory.
func (f *GCSFactory) Create(ctx context.Context) (any, error) {
	return storage.NewClient(ctx, f.opts...)
}

// Validate implements pool.ResourceFactory.
func (f *GCSFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*storage.Client)
	if !ok {
		return false
	}
	_, err := c.Bucket(f.bucket).Attrs(ctx)
	return err == nil
}

// Close implements pool.ResourceFactory.
func (f *GCSFactory) Close(conn any) {
	c, ok := conn.(*storage.Client)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		f.logger.Debug("failed to close gcs client", zap.Error(err))
	}
}
