package backends

import (
	"context"
	"strconv"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// MongoFactory opens *mongo.Client handles. Each client keeps a small
// driver pool of its own, sized by the max_pool_size option.
type MongoFactory struct {
	opts   *options.ClientOptions
	logger *zap.Logger
}

// NewMongoDB builds a factory for the mongodb kind from a mongodb:// or
// mongodb+srv:// URI.
func NewMongoDB(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	opts := options.Client().
		ApplyURI(cfg.DSN).
		SetConnectTimeout(connectTimeout(cfg)).
		SetServerSelectionTimeout(connectTimeout(cfg))

	if v := cfg.Option("max_pool_size", ""); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, configError(cfg, err, "invalid max_pool_size")
		}
		opts.SetMaxPoolSize(n)
	} else {
		opts.SetMaxPoolSize(1)
	}
	if name := cfg.Option("app_name", ""); name != "" {
		opts.SetAppName(name)
	}
	if err := opts.Validate(); err != nil {
		return nil, configError(cfg, err, "invalid mongodb uri")
	}

	logger.Debug("mongodb backend configured", zap.Strings("hosts", opts.Hosts))

	return &MongoFactory{opts: opts, logger: logger}, nil
}

// Create implements pool.ResourceFactory.
func (f *MongoFactory) Create(ctx context.Context) (any, error) {
	client, err := mongo.Connect(ctx, f.opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		f.Close(client)
		return nil, err
	}
	return client, nil
}

// Validate implements pool.ResourceFactory.
func (f *MongoFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(*mongo.Client)
	if !ok {
		return false
	}
	return c.Ping(ctx, readpref.Primary()) == nil
}

// Close implements pool.ResourceFactory.
func (f *MongoFactory) Close(conn any) {
	c, ok := conn.(*mongo.Client)
	if !ok {
		return
	}
	ctx, cancel := closeContext()
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		f.logger.Debug("failed to disconnect mongodb client", zap.Error(err))
	}
}
