package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/connmgr/pkg/backends"
	"github.com/ajitpratap0/connmgr/pkg/config"
	"github.com/ajitpratap0/connmgr/pkg/logger"
	"github.com/ajitpratap0/connmgr/pkg/manager"
	"github.com/ajitpratap0/connmgr/pkg/observability"
	"github.com/ajitpratap0/connmgr/pkg/pool"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "connmgr",
		Short: "connmgr - pooled, circuit-broken connections to many backends",
		Long: `connmgr keeps bounded pools of connections to databases, caches, brokers and
object stores, fails fast when a backend is down and heals itself when it comes back.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "connmgr v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newConfigCommand())
	root.AddCommand(newKindsCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newServeCommand())
	return root
}

func newConfigCommand() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Print an example configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Marshal(config.Example())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cfgCmd
}

func newKindsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List available backend kinds",
		Run: func(cmd *cobra.Command, args []string) {
			for _, k := range backends.DefaultRegistry().Kinds() {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", k)
			}
		},
	}
}

func newCheckCommand() *cobra.Command {
	var configFile string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Initialize every pool once and report its health",
		Long: `Initialize every configured pool, run one health check per pool and print the
results as JSON. Exits non-zero when any pool is unhealthy.

Example:
  connmgr check --config connmgr.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			app, err := newApp(ctx, configFile)
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.manager.Initialize(ctx); err != nil {
				app.logger.Warn("initialization incomplete", zap.Error(err))
			}

			results := app.manager.HealthCheckAll(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}

			if unhealthy := unhealthyTypes(results); len(unhealthy) > 0 {
				return fmt.Errorf("unhealthy pools: %v", unhealthy)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Overall timeout")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newServeCommand() *cobra.Command {
	var configFile, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the manager and expose metrics and health endpoints",
		Long: `Run every configured pool and serve /metrics, /healthz, /pools and /status until
SIGINT or SIGTERM.

Example:
  connmgr serve --config connmgr.yaml --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, configFile)
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.manager.Initialize(ctx); err != nil {
				app.logger.Warn("some pools failed to initialize; they will keep retrying", zap.Error(err))
			}

			if addr == "" {
				addr = app.config.MetricsAddr
			}
			return serve(ctx, addr, app.manager, app.logger)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (required)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to metrics_addr from the config)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// app bundles what check and serve need.
type app struct {
	config   *config.Config
	manager  *manager.Manager
	logger   *zap.Logger
	provider *observability.Provider
}

func newApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
	}); err != nil {
		return nil, err
	}
	log := logger.Get().With(zap.String("component", "connmgr-cli"))

	provider, err := observability.Setup(ctx, cfg.Tracing, observability.WithServiceVersion(version))
	if err != nil {
		return nil, err
	}

	configs, factories, err := backends.DefaultRegistry().Build(cfg, logger.Get())
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	m, err := manager.New(configs, factories, manager.WithLogger(logger.Get()))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	log.Info("connection manager configured",
		zap.String("config", configFile),
		zap.Strings("backends", cfg.BackendNames()))

	return &app{config: cfg, manager: m, logger: log, provider: provider}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to shut down manager", zap.Error(err))
	}
	if err := a.provider.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to flush traces", zap.Error(err))
	}
	_ = logger.Sync()
}

func unhealthyTypes(results map[pool.ConnectionType]pool.HealthCheckResult) []pool.ConnectionType {
	var out []pool.ConnectionType
	for t, r := range results {
		if r.Status == pool.StatusUnhealthy {
			out = append(out, t)
		}
	}
	return out
}
