package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/interlink/internal/service"
	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/logger"
	"github.com/ajitpratap0/interlink/pkg/observability"

	// Register every connector
	_ "github.com/ajitpratap0/interlink/pkg/connector/adapters/crm"
	_ "github.com/ajitpratap0/interlink/pkg/connector/adapters/delimited"
	_ "github.com/ajitpratap0/interlink/pkg/connector/adapters/erp"
	_ "github.com/ajitpratap0/interlink/pkg/connector/adapters/kafka"
	_ "github.com/ajitpratap0/interlink/pkg/connector/adapters/relational"
)

var version = "0.1.0"

// globalFlags are shared by every command
type globalFlags struct {
	configFile string
	logLevel   string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "interlink",
		Short: "Interlink - data integration middleware",
		Long: `Interlink polls source systems (files, SFTP, databases, ERP, CRM), stages
their records in a durable message store and delivers them to every
subscribed destination with at-least-once semantics.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to the service configuration YAML file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(
		versionCmd(),
		connectorsCmd(),
		serveCmd(flags),
		pollCmd(flags),
		deliverCmd(flags),
		migrateCmd(flags),
		routesCmd(flags),
		deadLettersCmd(flags),
		requeueCmd(flags),
		schemaCmd(flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Interlink v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// loadConfig reads the service configuration and builds the process logger.
func loadConfig(flags *globalFlags) (*config.ServiceConfig, *zap.Logger, error) {
	cfg, err := config.LoadService(flags.configFile)
	if err != nil {
		return nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log.With(zap.String("component", "interlink-cli")), nil
}

// withService runs fn against a service opened from the configuration and
// closes it afterwards. Commands other than serve never expose metrics.
func withService(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, svc *service.Service) error) error {
	cfg, log, err := loadConfig(flags)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	cfg.Metrics.Enabled = false

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			log.Warn("failed to close service", zap.Error(err))
		}
	}()
	return fn(ctx, svc)
}

func serveCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the polling scheduler and delivery workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Address = metricsAddr
			}

			shutdown, err := observability.Setup(cfg.Tracing, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warn("failed to flush traces", zap.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := service.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(context.Background()); err != nil {
					log.Warn("failed to close service", zap.Error(err))
				}
			}()

			log.Info("interlink starting", zap.String("version", version))
			if err := svc.Run(ctx); err != nil {
				return err
			}
			log.Info("interlink stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.address)")
	return cmd
}

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply message store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if err := service.Migrate(cmd.Context(), cfg.Store, log); err != nil {
				return err
			}
			fmt.Println("message store is up to date")
			return nil
		},
	}
}
