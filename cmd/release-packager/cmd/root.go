package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cha777/pro11-push-update-server/internal/config"
	"github.com/cha777/pro11-push-update-server/internal/service/packager"
	"github.com/cha777/pro11-push-update-server/internal/version"
)

// rootCmd represents the base command for building release bundles.
//
//nolint:gochecknoglobals // Required by Cobra CLI framework architecture.
var rootCmd = &cobra.Command{
	Use:   "release-packager <description.yaml> <source-dir>",
	Short: "Build a release bundle for the release server.",
	Long: `Builds {label}_build.zip from a YAML description and a directory of release files.

The description names the release:

  label: "1021000001"
  app: 10.2.1
  installer: 3.1.0
  notes:
    EN: Bug fixes
    FR: Corrections

versionInfo.json, releaseNote.json and checksums.yaml are generated and packed
with the source files into {label}/{label}_installer.zip inside the bundle.
With --version-name the label is checked the same way the server checks it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		v, err := config.BindFlags(cmd.Flags())
		if err != nil {
			return err
		}

		options := &packager.Options{
			DescriptionPath: args[0],
			SourceDir:       args[1],
			OutputDir:       v.GetString("output"),
			VersionName:     v.GetString("version-name"),
		}

		return packager.Run(ctx, options)
	},
}

// Execute runs the release-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringP("output", "o", ".", "directory receiving the bundle")
	rootCmd.Flags().String("version-name", "", "version name to cross-check the label against")
}
