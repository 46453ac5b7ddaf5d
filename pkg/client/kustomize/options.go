package kustomize

import (
	"fmt"
	"io"
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/google/shlex"
	"github.com/spf13/pflag"
	"sigs.k8s.io/kustomize/api/krusty"
	"sigs.k8s.io/kustomize/api/types"
)

// Options mirrors the subset of `kustomize build` flags that change output.
type Options struct {
	LoadRestrictor     types.LoadRestrictions
	Reorder            krusty.ReorderOption
	EnableHelm         bool
	HelmCommand        string
	EnableAlphaPlugins bool
}

// DefaultOptions allows references outside the kustomization root, as Flux does.
func DefaultOptions() Options {
	return Options{
		LoadRestrictor: types.LoadRestrictionsNone,
		Reorder:        krusty.ReorderOptionUnspecified,
		HelmCommand:    "helm",
	}
}

// ParseBuildFlags parses a shell-style string of kustomize build flags on
// top of DefaultOptions. Unknown flags and positional arguments are a
// ConfigError.
func ParseBuildFlags(raw string) (Options, error) {
	opts := DefaultOptions()

	args, err := shlex.Split(raw)
	if err != nil {
		return opts, &fluxerr.ConfigError{Message: "--kustomize-build-flags", Err: err}
	}

	if len(args) == 0 {
		return opts, nil
	}

	var loadRestrictor, reorder string

	flags := pflag.NewFlagSet("kustomize build", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&loadRestrictor, "load-restrictor", types.LoadRestrictionsNone.String(), "")
	flags.StringVar(&reorder, "reorder", string(opts.Reorder), "")
	flags.BoolVar(&opts.EnableHelm, "enable-helm", false, "")
	flags.StringVar(&opts.HelmCommand, "helm-command", opts.HelmCommand, "")
	flags.BoolVar(&opts.EnableAlphaPlugins, "enable-alpha-plugins", false, "")

	err = flags.Parse(args)
	if err != nil {
		return opts, &fluxerr.ConfigError{Message: "--kustomize-build-flags", Err: err}
	}

	if flags.NArg() > 0 {
		return opts, fluxerr.NewConfigError(
			"--kustomize-build-flags: unexpected argument %q", flags.Arg(0))
	}

	opts.LoadRestrictor, err = parseLoadRestrictor(loadRestrictor)
	if err != nil {
		return opts, err
	}

	opts.Reorder, err = parseReorder(reorder)
	if err != nil {
		return opts, err
	}

	return opts, nil
}

func parseLoadRestrictor(value string) (types.LoadRestrictions, error) {
	switch strings.ToLower(strings.TrimPrefix(value, "LoadRestrictions")) {
	case "none":
		return types.LoadRestrictionsNone, nil
	case "rootonly":
		return types.LoadRestrictionsRootOnly, nil
	default:
		return types.LoadRestrictionsUnknown, fluxerr.NewConfigError(
			"--kustomize-build-flags: invalid --load-restrictor %q", value)
	}
}

func parseReorder(value string) (krusty.ReorderOption, error) {
	switch krusty.ReorderOption(strings.ToLower(value)) {
	case krusty.ReorderOptionLegacy:
		return krusty.ReorderOptionLegacy, nil
	case krusty.ReorderOptionNone:
		return krusty.ReorderOptionNone, nil
	case krusty.ReorderOptionUnspecified, "":
		return krusty.ReorderOptionUnspecified, nil
	default:
		return krusty.ReorderOptionUnspecified, fluxerr.NewConfigError(
			"--kustomize-build-flags: invalid --reorder %q", value)
	}
}

func (o Options) krustyOptions() *krusty.Options {
	kopts := krusty.MakeDefaultOptions()
	kopts.LoadRestrictions = o.LoadRestrictor
	kopts.Reorder = o.Reorder

	if o.EnableAlphaPlugins {
		kopts.PluginConfig = types.EnabledPluginConfig(types.BploUseStaticallyLinked)
	}

	if o.EnableHelm {
		kopts.PluginConfig.HelmConfig.Enabled = true
		kopts.PluginConfig.HelmConfig.Command = o.HelmCommand
	}

	return kopts
}

func (o Options) String() string {
	return fmt.Sprintf(
		"load-restrictor=%s reorder=%s enable-helm=%t alpha-plugins=%t",
		o.LoadRestrictor, o.Reorder, o.EnableHelm, o.EnableAlphaPlugins,
	)
}
