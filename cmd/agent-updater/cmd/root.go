package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oshokin/agent-updater/internal/config"
	"github.com/oshokin/agent-updater/internal/lock"
	"github.com/oshokin/agent-updater/internal/logger"
	"github.com/oshokin/agent-updater/internal/repository/manifest"
	"github.com/oshokin/agent-updater/internal/service/download"
	"github.com/oshokin/agent-updater/internal/service/supervisor"
	"github.com/oshokin/agent-updater/internal/service/updater"
	"github.com/oshokin/agent-updater/internal/version"
)

// errAlreadyRunning is returned when another updater owns the state directory.
var errAlreadyRunning = errors.New("another agent-updater instance is running")

var (
	// settings merges flags and AGENT_UPDATE_* environment variables.
	settings *viper.Viper

	// rootCmd represents the base command of the reconciliation daemon.
	rootCmd = &cobra.Command{
		Use:          "agent-updater",
		Short:        "Keep installed agent artifacts in sync with the artifact store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error

			settings, err = bindSettings(cmd.Root())
			if err != nil {
				return err
			}

			return setupLogging(settings.GetString(flagLogLevel))
		},
	}

	// runCmd reconciles until interrupted.
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Reconcile artifacts every interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return execute(true)
		},
	}

	// onceCmd performs a single cycle.
	onceCmd = &cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return execute(false)
		},
	}
)

// Execute runs the agent-updater CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	registerFlags(rootCmd)
	rootCmd.AddCommand(runCmd, onceCmd)
}

func setupLogging(level string) error {
	parsed, ok := logger.ParseLogLevel(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	logger.SetLevel(parsed)

	return nil
}

// execute wires the collaborators and runs the reconciler.
func execute(loop bool) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ctx = logger.WithName(ctx, "agent-updater")

	defer logger.Sync()

	cfg, err := resolveConfig(settings)
	if err != nil {
		logger.ErrorKV(ctx, "Invalid configuration", "error", err)

		return err
	}

	instance, acquired, err := lock.Acquire(cfg.ManifestPath + ".lock")
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}

	if !acquired {
		logger.ErrorKV(ctx, "Refusing to start", "error", errAlreadyRunning)

		return errAlreadyRunning
	}

	defer func() {
		_ = instance.Release()
	}()

	logger.DebugKV(ctx, "Instance lock acquired", "path", instance.Path())

	reconciler, err := newReconciler(cfg)
	if err != nil {
		return err
	}

	if loop {
		err = reconciler.Run(ctx)
	} else {
		_, err = reconciler.Cycle(ctx)
	}

	if err != nil {
		logger.ErrorKV(ctx, "Updater stopped", "error", err)

		return err
	}

	return nil
}

// newReconciler builds the reconciler from validated settings.
func newReconciler(cfg *config.Config) (*updater.Reconciler, error) {
	client := newHTTPClient(cfg)

	downloader := download.New(
		download.WithHTTPClient(client),
		download.WithDirectory(cfg.DownloadDir),
		download.WithChunkSize(cfg.ChunkSize),
		download.WithRetry(cfg.RetryMin, cfg.RetryMax),
	)

	controller := supervisor.NewSupervisorctl(cfg.Supervisorctl,
		supervisor.WithTimeout(cfg.CommandTimeout),
		supervisor.WithProcessCheck(cfg.SupervisorProcess),
	)

	return updater.New(&updater.Params{
		StoreURL:        cfg.StoreURL,
		Interval:        cfg.Interval,
		RetryMin:        cfg.RetryMin,
		RetryMax:        cfg.RetryMax,
		ManifestRetries: updater.DefaultManifestRetries,
		HTTPClient:      client,
		Repository:      manifest.NewFileRepository(cfg.ManifestPath),
		Downloader:      downloader,
		Controller:      controller,
	})
}
