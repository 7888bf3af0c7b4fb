package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cha777/pro11-push-update-server/internal/config"
	"github.com/cha777/pro11-push-update-server/internal/service/server"
	"github.com/cha777/pro11-push-update-server/internal/version"
)

// rootCmd represents the base command for running the release server.
//
//nolint:gochecknoglobals // Required by Cobra CLI framework architecture.
var rootCmd = &cobra.Command{
	Use:   "release-server [listen-address]",
	Short: "Run the release server that accepts and publishes release bundles.",
	Long: `Starts the HTTP release server and, when configured, the gRPC release-info service.

POST /createRelease accepts a {label}_build.zip bundle and a versionName, validates it
and makes it live, restoring the previous state if anything fails. The published
versionInfo.json, prevReleases.json and release directories are served as static files.

The listen address can be provided as argument to override config (e.g., :9090).
Every flag can also be set through a PUSH_UPDATE_<FLAG> environment variable,
e.g. PUSH_UPDATE_LOG_LEVEL=debug.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		v, err := config.BindFlags(cmd.Flags())
		if err != nil {
			return err
		}

		// Use listen address argument if provided, otherwise rely on flags and config.
		listenAddress := v.GetString("listen")
		if len(args) > 0 {
			listenAddress = args[0]
		}

		options := &server.Options{
			ConfigPath:    v.GetString("config"),
			ListenAddress: listenAddress,
			GRPCAddress:   v.GetString("grpc-listen"),
			LogLevel:      v.GetString("log-level"),
			LogFile:       v.GetString("log-file"),
		}

		return server.Run(ctx, options)
	},
}

// Execute runs the release-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringP("config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringP("listen", "l", "", "HTTP listen address, overrides listen_addr")
	rootCmd.Flags().String("grpc-listen", "", "gRPC listen address, overrides grpc_addr")
	rootCmd.Flags().String("log-level", "", "log level, overrides log_level")
	rootCmd.Flags().String("log-file", "", "log file, overrides log_file")
}
