package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/agent-updater/internal/service/packager"
	"github.com/oshokin/agent-updater/internal/version"
)

var (
	// planPath is the YAML file listing artifacts to package.
	planPath string
	// outputDir overrides the output directory of the plan.
	outputDir string

	// rootCmd represents the base command for producing store artifacts.
	rootCmd = &cobra.Command{
		Use:          "agent-packager",
		Short:        "Compress, hash and tag artifacts for the agent store",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			_, err := packager.Run(ctx, &packager.Options{
				PlanPath: planPath,
				Output:   outputDir,
			})

			return err
		},
	}
)

// Execute runs the agent-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&planPath, "plan", "p", packager.DefaultPlanFilename, "path to the packaging plan")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory, overrides the plan")
}
