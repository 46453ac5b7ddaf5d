package cmd

import (
	"io"

	"github.com/devantler-tech/fluxdiff/pkg/config"
	"github.com/devantler-tech/fluxdiff/pkg/notify"
	"github.com/devantler-tech/fluxdiff/pkg/svc/diff"
	"github.com/devantler-tech/fluxdiff/pkg/svc/normalize"
	"github.com/devantler-tech/fluxdiff/pkg/svc/pipeline"
	"github.com/spf13/cobra"
)

const diffCmdLong = `Build the proposed tree (--path) and the live tree (--path-orig), normalize
both and print a unified diff of every object that differs.

Kustomizations are expanded depth-first through their sources. In helmrelease
mode the charts of the HelmReleases found that way are rendered offline.
The patch goes to stdout, or to --output-file, and only once every step has
succeeded. An empty patch means the trees are equivalent.`

const diffCmdExample = `  # Diff every Kustomization in flux-system
  fluxdiff diff ks --path ./pr/clusters/prod --path-orig ./live/clusters/prod

  # Diff the rendered charts of all HelmReleases, mapping a second source
  fluxdiff diff hr -A --path ./pr/clusters/prod --path-orig ./live/clusters/prod \
    --sources cluster=./kubernetes/`

// NewDiffCmd creates the diff command.
func NewDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "diff " + kindUsage() + " [name]",
		Short:        "Diff the rendered objects of two trees",
		Long:         diffCmdLong,
		Example:      diffCmdExample,
		Args:         cobra.RangeArgs(1, 2), //nolint:mnd // kind and optional name
		ValidArgs:    kindArgs,
		SilenceUsage: true,
		RunE:         runDiff,
	}

	fs := cmd.Flags()
	addBuildFlags(fs, "Path of the proposed tree (required)")
	fs.String("path-orig", "", "Path of the live tree (required)")
	fs.Int("unified", diff.DefaultContextLines, "Lines of context around each change")
	fs.StringSlice("strip-attrs", normalize.DefaultStripAttrs,
		"Label and annotation keys removed before comparing")
	fs.Bool("skip-crds", true, "Compare CustomResourceDefinitions by identity only")
	fs.Bool("no-skip-crds", false, "Compare CustomResourceDefinitions in full")
	fs.Bool("skip-secrets", true, "Compare Secrets by identity only")
	fs.Bool("no-skip-secrets", false, "Compare Secrets in full")
	fs.Int("limit-bytes", diff.DefaultLimitBytes, "Maximum diff size per object in bytes; 0 or less is unlimited")

	return cmd
}

func runDiff(cmd *cobra.Command, args []string) error {
	var opts config.Diff

	err := loadOptions(cmd, args, &opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, opts.LogLevel)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync() }()

	runner, err := newPipeline(opts.Build, logger)
	if err != nil {
		return err
	}

	notify.Activityf(cmd.ErrOrStderr(), "diffing %s objects of %s against %s", opts.Kind, opts.Path, opts.PathOrig)

	result, err := runner.Diff(cmd.Context(), pipeline.DiffOptions{
		Build:    buildOptions(opts.Build),
		PRPath:   opts.Path,
		LivePath: opts.PathOrig,
		Normalize: normalize.Options{
			StripAttrs:  opts.StripAttrs,
			SkipSecrets: !opts.IncludeSecrets(),
			SkipCRDs:    !opts.IncludeCRDs(),
		},
		Diff: diff.Options{ContextLines: opts.Unified, LimitBytes: opts.LimitBytes},
	})
	if err != nil {
		return err
	}

	err = pipeline.WriteOutput(cmd.OutOrStdout(), opts.OutputFile, []byte(result.Patch()))
	if err != nil {
		return err
	}

	reportDiff(cmd.ErrOrStderr(), result)

	return nil
}

func reportDiff(w io.Writer, result *diff.Result) {
	if result.Empty() {
		notify.Successf(w, "no differences")

		return
	}

	summary := result.Summary()
	notify.Infof(w, "%d objects differ (%d added, %d removed, %d modified)",
		len(result.Entries),
		summary[diff.ChangeAdded],
		summary[diff.ChangeRemoved],
		summary[diff.ChangeModified])

	truncated := 0

	for _, entry := range result.Entries {
		if entry.Truncated {
			truncated++
		}
	}

	if truncated > 0 {
		notify.Warningf(w, "%d diffs were truncated, raise --limit-bytes to see them in full", truncated)
	}
}
