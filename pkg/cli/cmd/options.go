package cmd

import (
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/client/helm"
	"github.com/devantler-tech/fluxdiff/pkg/config"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/devantler-tech/fluxdiff/pkg/log"
	"github.com/devantler-tech/fluxdiff/pkg/svc/pipeline"
	"github.com/devantler-tech/fluxdiff/pkg/svc/source"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	kindArgIndex = 0
	nameArgIndex = 1
)

// kindArgs are the accepted spellings of the resource kind argument.
var kindArgs = []string{"kustomization", "ks", "helmrelease", "hr"} //nolint:gochecknoglobals // read-only

func kindUsage() string {
	return "<" + strings.Join(kindArgs, "|") + ">"
}

// addBuildFlags registers the flags every tree build accepts.
func addBuildFlags(fs *pflag.FlagSet, pathUsage string) {
	fs.String("path", "", pathUsage)
	fs.StringP("namespace", "n", source.DefaultSourceName,
		"Only include objects declared by Flux objects in this namespace")
	fs.BoolP("all-namespaces", "A", false, "Include objects declared in every namespace")
	fs.String("kustomize-build-flags", "",
		`Extra kustomize build flags, e.g. "--load-restrictor=LoadRestrictionsNone"`)
	fs.String("sources", "",
		"Comma-separated name[=path] list mapping Flux sources to local directories")
	fs.StringSlice("api-versions", nil,
		"API versions advertised to charts through .Capabilities.APIVersions")
	fs.Duration("render-timeout", helm.DefaultRenderTimeout, "Timeout for rendering a single chart")
	fs.Bool("enable-oci", false, "Pull OCIRepository sources that --sources does not map")
	fs.String("output-file", "", "Write the output to this file instead of stdout")
}

// loadOptions merges flags, environment and config file into out. The kind
// and name positional arguments override every other layer.
func loadOptions(cmd *cobra.Command, args []string, out any) error {
	loader := config.NewLoader()

	err := loader.BindFlags(cmd.Flags())
	if err != nil {
		return err
	}

	err = loader.ReadFile("")
	if err != nil {
		return err
	}

	if len(args) > kindArgIndex {
		loader.Set("kind", args[kindArgIndex])
	}

	if len(args) > nameArgIndex {
		loader.Set("name", args[nameArgIndex])
	}

	return loader.Unmarshal(out)
}

func newLogger(cmd *cobra.Command, raw string) (*zap.Logger, error) {
	level := log.LevelInfo

	if raw != "" {
		err := level.Set(raw)
		if err != nil {
			return nil, &fluxerr.ConfigError{Message: "--log-level", Err: err}
		}
	}

	return log.NewWithWriter(level, cmd.ErrOrStderr()), nil
}

func buildOptions(opts config.Build) pipeline.BuildOptions {
	return pipeline.BuildOptions{
		Kind:                opts.Kind,
		Name:                opts.Name,
		Namespace:           opts.Namespace,
		AllNamespaces:       opts.AllNamespaces,
		APIVersions:         opts.APIVersions,
		KustomizeBuildFlags: opts.KustomizeBuildFlags,
		Sources:             opts.Sources,
		EnableOCI:           opts.EnableOCI,
	}
}

func newPipeline(opts config.Build, logger *zap.Logger) (*pipeline.Pipeline, error) {
	if opts.Kind == "" {
		return nil, fluxerr.NewConfigError("a resource kind is required, one of %s", kindUsage())
	}

	return pipeline.New(pipeline.Options{RenderTimeout: opts.RenderTimeout, Logger: logger})
}
