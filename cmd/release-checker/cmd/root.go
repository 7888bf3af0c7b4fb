package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cha777/pro11-push-update-server/internal/config"
	"github.com/cha777/pro11-push-update-server/internal/service/checker"
	"github.com/cha777/pro11-push-update-server/internal/version"
)

// rootCmd represents the base command for polling the published version.
//
//nolint:gochecknoglobals // Required by Cobra CLI framework architecture.
var rootCmd = &cobra.Command{
	Use:   "release-checker [server-address]",
	Short: "Watch the version published by a release server.",
	Long: `Polls GetLatestVersion of the gRPC release-info service and logs when the
published application or installer version changes.

The server address can be provided as argument or loaded from grpc_addr of the
configuration file. Use --once to check a single time and exit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		v, err := config.BindFlags(cmd.Flags())
		if err != nil {
			return err
		}

		// Use server address argument if provided, otherwise rely on config.
		var serverAddress string
		if len(args) > 0 {
			serverAddress = args[0]
		}

		checkerOptions := &checker.Options{
			ConfigPath:    v.GetString("config"),
			ServerAddress: serverAddress,
			PollInterval:  v.GetDuration("interval"),
			Timeout:       v.GetDuration("timeout"),
			Once:          v.GetBool("once"),
		}

		return checker.Run(ctx, checkerOptions)
	},
}

// Execute runs the release-checker CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringP("config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().DurationP("interval", "i", checker.DefaultPollInterval, "polling interval")
	rootCmd.Flags().Duration("timeout", 0, "per-call timeout, overrides timeout")
	rootCmd.Flags().Bool("once", false, "check once and exit")
}
