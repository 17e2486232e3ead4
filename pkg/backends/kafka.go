package backends

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

// KafkaFactory opens sarama.Client handles to a broker set.
type KafkaFactory struct {
	brokers []string
	config  *sarama.Config
	logger  *zap.Logger
}

// NewKafka builds a factory for the kafka kind. The DSN is a comma separated
// broker list, optionally prefixed with "kafka://". Options: client_id,
// version (e.g. "3.6.0") and tls ("true").
func NewKafka(cfg config.BackendConfig, logger *zap.Logger) (pool.ResourceFactory, error) {
	brokers := parseBrokers(cfg.DSN)
	if len(brokers) == 0 {
		return nil, configError(cfg, nil, "kafka dsn must list at least one broker")
	}

	kc := sarama.NewConfig()
	kc.ClientID = cfg.Option("client_id", "connmgr")
	kc.Net.DialTimeout = connectTimeout(cfg)
	kc.Metadata.Retry.Max = 1
	kc.Metadata.Full = false
	if v := cfg.Option("version", ""); v != "" {
		version, err := sarama.ParseKafkaVersion(v)
		if err != nil {
			return nil, configError(cfg, err, "invalid kafka version")
		}
		kc.Version = version
	}
	if cfg.Option("tls", "false") == "true" {
		kc.Net.TLS.Enable = true
	}
	if err := kc.Validate(); err != nil {
		return nil, configError(cfg, err, "invalid kafka config")
	}

	logger.Debug("kafka backend configured",
		zap.Strings("brokers", brokers),
		zap.String("client_id", kc.ClientID))

	return &KafkaFactory{brokers: brokers, config: kc, logger: logger}, nil
}

func parseBrokers(dsn string) []string {
	dsn = strings.TrimPrefix(dsn, "kafka://")
	var brokers []string
	for _, b := range strings.Split(dsn, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Create implements pool.ResourceFactory. sarama dials without a context;
// the pool bounds the call with connection_timeout.
func (f *KafkaFactory) Create(ctx context.Context) (any, error) {
	return sarama.NewClient(f.brokers, f.config)
}

// Validate implements pool.ResourceFactory.
func (f *KafkaFactory) Validate(ctx context.Context, conn any) bool {
	c, ok := conn.(sarama.Client)
	if !ok || c.Closed() {
		return false
	}
	return c.RefreshMetadata() == nil
}

// Close implements pool.ResourceFactory.
func (f *KafkaFactory) Close(conn any) {
	c, ok := conn.(sarama.Client)
	if !ok || c.Closed() {
		return
	}
	if err := c.Close(); err != nil {
		f.logger.Debug("failed to close kafka client", zap.Error(err))
	}
}
