// Package config loads command options from flags, FLUXDIFF_ environment
// variables and an optional YAML config file.
//
// Precedence, lowest first: flag defaults, config file, environment, flags
// set on the command line.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/envvar"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "FLUXDIFF"

// ConfigFlagName is the flag naming the optional config file.
const ConfigFlagName = "config"

// Build holds the options shared by every command that builds a tree.
type Build struct {
	Kind                manifest.ResourceKind `mapstructure:"kind"`
	Name                string                `mapstructure:"name"`
	Path                string                `mapstructure:"path"`
	Namespace           string                `mapstructure:"namespace"`
	AllNamespaces       bool                  `mapstructure:"all-namespaces"`
	KustomizeBuildFlags string                `mapstructure:"kustomize-build-flags"`
	Sources             string                `mapstructure:"sources"`
	APIVersions         []string              `mapstructure:"api-versions"`
	RenderTimeout       time.Duration         `mapstructure:"render-timeout"`
	EnableOCI           bool                  `mapstructure:"enable-oci"`
	OutputFile          string                `mapstructure:"output-file"`
	LogLevel            string                `mapstructure:"log-level"`
}

// Diff holds the options of the diff command.
type Diff struct {
	Build `mapstructure:",squash"`

	PathOrig      string   `mapstructure:"path-orig"`
	Unified       int      `mapstructure:"unified"`
	StripAttrs    []string `mapstructure:"strip-attrs"`
	SkipCRDs      bool     `mapstructure:"skip-crds"`
	NoSkipCRDs    bool     `mapstructure:"no-skip-crds"`
	SkipSecrets   bool     `mapstructure:"skip-secrets"`
	NoSkipSecrets bool     `mapstructure:"no-skip-secrets"`
	LimitBytes    int      `mapstructure:"limit-bytes"`
}

// IncludeCRDs reports whether CustomResourceDefinitions are diffed in full.
func (d Diff) IncludeCRDs() bool {
	return d.NoSkipCRDs || !d.SkipCRDs
}

// IncludeSecrets reports whether Secrets are diffed in full.
func (d Diff) IncludeSecrets() bool {
	return d.NoSkipSecrets || !d.SkipSecrets
}

// Loader wraps a viper instance scoped to one command invocation.
type Loader struct {
	viper *viper.Viper
}

// NewLoader returns a Loader reading FLUXDIFF_<FLAG_NAME> variables, with
// dashes in flag names mapped to underscores.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return &Loader{viper: v}
}

// BindFlags registers every flag of fs as a configuration key.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	err := l.viper.BindPFlags(fs)
	if err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	return nil
}

// ReadFile merges the YAML config file at path. An empty path falls back to
// FLUXDIFF_CONFIG and is a no-op when that is unset too.
func (l *Loader) ReadFile(path string) error {
	if path == "" {
		path = l.viper.GetString(ConfigFlagName)
	}

	if path == "" {
		return nil
	}

	l.viper.SetConfigFile(path)
	l.viper.SetConfigType("yaml")

	err := l.viper.ReadInConfig()
	if err != nil {
		return &fluxerr.ConfigError{Message: "read config file " + path, Err: err}
	}

	return nil
}

// Set overrides key with value, taking precedence over every other layer.
// Commands use it for positional arguments.
func (l *Loader) Set(key string, value any) {
	l.viper.Set(key, value)
}

// Unmarshal decodes the merged configuration into out.
func (l *Loader) Unmarshal(out any) error {
	decoderConfig := func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			expandEnvHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			csvToSliceHook(),
			resourceKindHook(),
		)
	}

	err := l.viper.Unmarshal(out, decoderConfig)
	if err != nil {
		return &fluxerr.ConfigError{Message: "decode configuration", Err: err}
	}

	return nil
}

// expandEnvHook expands ${VAR} references in string values from the process
// environment.
func expandEnvHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, _ reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}

		s, ok := data.(string)
		if !ok {
			return data, nil
		}

		expanded, _ := envvar.Expand(s, envvar.EnvLookup)

		return expanded, nil
	}
}

// csvToSliceHook splits comma-separated strings into trimmed slices and
// trims the elements of slices that came from CSV flags.
func csvToSliceHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}

		var items []string

		switch from.Kind() {
		case reflect.String:
			raw, _ := data.(string)
			items = strings.Split(raw, ",")
		case reflect.Slice:
			values := reflect.ValueOf(data)
			for i := range values.Len() {
				items = append(items, fmt.Sprint(values.Index(i).Interface()))
			}
		default:
			return data, nil
		}

		out := make([]string, 0, len(items))

		for _, item := range items {
			item = strings.TrimSpace(item)
			if item != "" {
				out = append(out, item)
			}
		}

		return out, nil
	}
}

var errKindType = errors.New("resource kind must be a string")

func resourceKindHook() mapstructure.DecodeHookFuncType {
	kindType := reflect.TypeFor[manifest.ResourceKind]()

	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != kindType {
			return data, nil
		}

		if from.Kind() != reflect.String {
			return nil, errKindType
		}

		return manifest.ParseResourceKind(fmt.Sprint(data))
	}
}
