package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/config"
	"github.com/devantler-tech/fluxdiff/pkg/notify"
	"github.com/devantler-tech/fluxdiff/pkg/svc/pipeline"
	"github.com/spf13/cobra"
)

const tableCellPadding = 3

// NewGetCmd creates the get command.
func NewGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get " + kindUsage() + " [name]",
		Short: "List the Kustomizations or HelmReleases of a tree",
		Long: "List the Flux Kustomizations or HelmReleases declared in the tree at --path, " +
			"including those produced by expanding other Kustomizations.",
		Example:      "  fluxdiff get hr -A --path ./clusters/prod",
		Args:         cobra.RangeArgs(1, 2), //nolint:mnd // kind and optional name
		ValidArgs:    kindArgs,
		SilenceUsage: true,
		RunE:         runGet,
	}

	addBuildFlags(cmd.Flags(), "Path of the tree to inspect (required)")

	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
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

	items, err := runner.Get(cmd.Context(), opts.Path, buildOptions(opts))
	if err != nil {
		return err
	}

	if len(items) == 0 {
		notify.Infof(cmd.ErrOrStderr(), "no %s found in %s", opts.Kind, opts.Path)

		return nil
	}

	return pipeline.WriteOutput(cmd.OutOrStdout(), opts.OutputFile, []byte(renderTable(items)+"\n"))
}

func renderTable(items []*manifest.Manifest) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.Key.Namespace, item.Key.Name, item.Source, item.Owner})
	}

	cell := lipgloss.NewStyle().PaddingRight(tableCellPadding)

	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(false).
		StyleFunc(func(_, _ int) lipgloss.Style { return cell }).
		Headers("NAMESPACE", "NAME", "PATH", "DECLARED BY").
		Rows(rows...).
		String()
}
