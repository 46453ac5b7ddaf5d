package cmd

import (
	"context"

	"github.com/devantler-tech/fluxdiff/internal/buildmeta"
	"github.com/devantler-tech/fluxdiff/pkg/cli/ui/errorhandler"
	"github.com/devantler-tech/fluxdiff/pkg/config"
	"github.com/devantler-tech/fluxdiff/pkg/log"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root command with version info and subcommands.
func NewRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fluxdiff",
		Short: "Build and diff Flux GitOps repositories offline",
		Long: "fluxdiff expands the Flux Kustomizations or HelmReleases of a GitOps repository " +
			"into the manifests they would apply, and diffs two checkouts of it.",
		RunE:         handleRootRunE,
		SilenceUsage: true,
	}

	cmd.Version = buildmeta.Summary(version, commit, date)

	logOpts := log.NewDefaultOptions()
	logOpts.AddPFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().String(config.ConfigFlagName, "", "Path to a YAML file with default flag values")

	cmd.AddCommand(NewDiffCmd())
	cmd.AddCommand(NewBuildCmd())
	cmd.AddCommand(NewGetCmd())
	cmd.AddCommand(NewVersionCmd(version, commit, date))

	return cmd
}

// Execute runs the provided root command. The returned error is an
// *errorhandler.CommandError whose message is ready to show to the user.
func Execute(ctx context.Context, cmd *cobra.Command) error {
	return errorhandler.NewExecutor().Execute(ctx, cmd) //nolint:wrapcheck // message is user-facing as is
}

// handleRootRunE handles the root command.
func handleRootRunE(cmd *cobra.Command, _ []string) error {
	// The err can safely be ignored, as it can never fail at runtime.
	_ = cmd.Help()

	return nil
}
