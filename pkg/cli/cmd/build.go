package cmd

import (
	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/config"
	"github.com/devantler-tech/fluxdiff/pkg/notify"
	"github.com/devantler-tech/fluxdiff/pkg/svc/pipeline"
	"github.com/spf13/cobra"
)

// NewBuildCmd creates the build command.
func NewBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build " + kindUsage() + " [name]",
		Short: "Print the rendered objects of a tree",
		Long: "Expand the Kustomizations or HelmReleases of the tree at --path and print the " +
			"resulting objects as a multi-document YAML stream.",
		Example:      "  fluxdiff build ks apps --path ./clusters/prod",
		Args:         cobra.RangeArgs(1, 2), //nolint:mnd // kind and optional name
		ValidArgs:    kindArgs,
		SilenceUsage: true,
		RunE:         runBuild,
	}

	addBuildFlags(cmd.Flags(), "Path of the tree to build (required)")

	return cmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	var opts config.Build

	err := loadOptions(cmd, args, &opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, opts.LogLevel)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync() }()

	runner, err := newPipeline(opts, logger)
	if err != nil {
		return err
	}

	set, err := runner.Build(cmd.Context(), opts.Path, buildOptions(opts))
	if err != nil {
		return err
	}

	out, err := manifest.EncodeSet(set)
	if err != nil {
		return err
	}

	err = pipeline.WriteOutput(cmd.OutOrStdout(), opts.OutputFile, out)
	if err != nil {
		return err
	}

	notify.Successf(cmd.ErrOrStderr(), "built %d objects from %s", set.Len(), opts.Path)

	return nil
}
