// Package pipeline wires source resolution, tree builds, normalization and
// diffing into the operations the CLI exposes.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/cli/parallel"
	"github.com/devantler-tech/fluxdiff/pkg/client/helm"
	"github.com/devantler-tech/fluxdiff/pkg/client/kustomize"
	"github.com/devantler-tech/fluxdiff/pkg/client/oci"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/devantler-tech/fluxdiff/pkg/fsutil"
	"github.com/devantler-tech/fluxdiff/pkg/svc/builder"
	"github.com/devantler-tech/fluxdiff/pkg/svc/diff"
	"github.com/devantler-tech/fluxdiff/pkg/svc/normalize"
	"github.com/devantler-tech/fluxdiff/pkg/svc/source"
	helmv2 "github.com/fluxcd/helm-controller/api/v2"
	kustomizev1 "github.com/fluxcd/kustomize-controller/api/v1"
	"go.uber.org/zap"
)

const (
	// TreePR names the proposed tree.
	TreePR = "pr"
	// TreeLive names the tree currently applied.
	TreeLive = "live"
)

// TreeBuilder builds one tree.
type TreeBuilder interface {
	Build(ctx context.Context, req builder.Request) (*manifest.ManifestSet, error)
}

// BuildOptions selects what a tree build expands.
type BuildOptions struct {
	Kind                manifest.ResourceKind
	Name                string
	Namespace           string
	AllNamespaces       bool
	APIVersions         []string
	KustomizeBuildFlags string
	// Sources is the comma-separated name[=path] list.
	Sources   string
	EnableOCI bool
}

// DiffOptions describes a diff between two trees.
type DiffOptions struct {
	Build     BuildOptions
	PRPath    string
	LivePath  string
	Normalize normalize.Options
	Diff      diff.Options
}

// Options configures a Pipeline built with New.
type Options struct {
	RenderTimeout time.Duration
	Logger        *zap.Logger
}

// Pipeline runs builds and diffs. It keeps no state between calls.
type Pipeline struct {
	builder  TreeBuilder
	executor *parallel.Executor
	logger   *zap.SugaredLogger
}

// New returns a Pipeline backed by the in-process Helm renderer and OCI puller.
func New(opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	renderer, err := helm.NewClient(opts.RenderTimeout, logger)
	if err != nil {
		return nil, err
	}

	treeBuilder := builder.New(builder.Options{
		Renderer: renderer,
		Puller:   oci.NewPuller(oci.PullOptions{}, logger),
		Logger:   logger,
	})

	return NewWithBuilder(treeBuilder, logger), nil
}

// NewWithBuilder returns a Pipeline using b for every tree build.
func NewWithBuilder(b TreeBuilder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		builder:  b,
		executor: parallel.NewExecutor(2), //nolint:mnd // one task per tree
		logger:   logger.Sugar().Named("pipeline"),
	}
}

// Request resolves the workspace and sources of the tree at path and
// returns the builder request for it.
func Request(path string, opts BuildOptions) (builder.Request, error) {
	if path == "" {
		return builder.Request{}, fluxerr.NewConfigError("a path to build is required")
	}

	root, err := fsutil.ExpandHomePath(path)
	if err != nil {
		return builder.Request{}, &fluxerr.ConfigError{Message: "path " + path, Err: err}
	}

	err = fsutil.EnsureDir(root)
	if err != nil {
		return builder.Request{}, &fluxerr.ConfigError{Message: "path " + path, Err: err}
	}

	workspace, err := fsutil.FindWorkspaceRoot(root)
	if err != nil {
		return builder.Request{}, &fluxerr.ConfigError{Message: "workspace of " + path, Err: err}
	}

	sources, err := source.Resolve(opts.Sources, source.DefaultSourceName, workspace)
	if err != nil {
		return builder.Request{}, err
	}

	flags, err := kustomize.ParseBuildFlags(opts.KustomizeBuildFlags)
	if err != nil {
		return builder.Request{}, err
	}

	return builder.Request{
		Root:          root,
		Kind:          opts.Kind,
		APIVersions:   opts.APIVersions,
		BuildFlags:    flags,
		Sources:       sources,
		Namespace:     opts.Namespace,
		AllNamespaces: opts.AllNamespaces,
		Name:          opts.Name,
		EnableOCI:     opts.EnableOCI,
	}, nil
}

// Build expands the tree at path.
func (p *Pipeline) Build(ctx context.Context, path string, opts BuildOptions) (*manifest.ManifestSet, error) {
	req, err := Request(path, opts)
	if err != nil {
		return nil, err
	}

	p.logger.Debugw("build", "root", req.Root, "workspace", req.Sources.Workspace(), "sources", req.Sources.Names())

	return p.builder.Build(ctx, req)
}

// Diff builds both trees concurrently, normalizes them and compares pr
// against live.
func (p *Pipeline) Diff(ctx context.Context, opts DiffOptions) (*diff.Result, error) {
	switch {
	case opts.PRPath == "":
		return nil, fluxerr.NewConfigError("--path is required")
	case opts.LivePath == "":
		return nil, fluxerr.NewConfigError("--path-orig is required")
	}

	paths := map[string]string{TreePR: opts.PRPath, TreeLive: opts.LivePath}

	sets, err := parallel.Collect(ctx, p.executor, []string{TreePR, TreeLive},
		func(ctx context.Context, tree string) (*manifest.ManifestSet, error) {
			set, buildErr := p.Build(ctx, paths[tree], opts.Build)
			if buildErr != nil {
				return nil, buildErr
			}

			return normalize.Normalize(set, opts.Normalize), nil
		})
	if err != nil {
		return nil, err
	}

	result, err := diff.NewEngine(opts.Diff).Compute(sets[TreePR], sets[TreeLive])
	if err != nil {
		return nil, fmt.Errorf("compute diff: %w", err)
	}

	summary := result.Summary()
	p.logger.Debugw("diff computed",
		"added", summary[diff.ChangeAdded],
		"removed", summary[diff.ChangeRemoved],
		"modified", summary[diff.ChangeModified])

	return result, nil
}

// Get lists the Kustomizations or HelmReleases the tree at path declares,
// including those produced by expanding other Kustomizations.
func (p *Pipeline) Get(ctx context.Context, path string, opts BuildOptions) ([]*manifest.Manifest, error) {
	group, err := fluxGroup(opts.Kind)
	if err != nil {
		return nil, err
	}

	expand := opts
	expand.Kind = manifest.ResourceKindKustomization
	expand.AllNamespaces = true
	expand.Name = ""

	set, err := p.Build(ctx, path, expand)
	if err != nil {
		return nil, err
	}

	var out []*manifest.Manifest

	for _, m := range set.Items() {
		if m.Key.Kind != string(opts.Kind) || !strings.HasPrefix(m.Key.APIVersion, group+"/") {
			continue
		}

		if !opts.AllNamespaces && opts.Namespace != "" && m.Key.Namespace != opts.Namespace {
			continue
		}

		if opts.Name != "" && m.Key.Name != opts.Name {
			continue
		}

		out = append(out, m)
	}

	return out, nil
}

func fluxGroup(kind manifest.ResourceKind) (string, error) {
	switch kind {
	case manifest.ResourceKindKustomization:
		return kustomizev1.GroupVersion.Group, nil
	case manifest.ResourceKindHelmRelease:
		return helmv2.GroupVersion.Group, nil
	default:
		return "", fluxerr.NewConfigError("unsupported resource kind %q", kind)
	}
}

// WriteOutput writes content atomically to outputFile, or to w when
// outputFile is empty.
func WriteOutput(w io.Writer, outputFile string, content []byte) error {
	if outputFile != "" {
		return fsutil.WriteFileAtomic(outputFile, content)
	}

	_, err := w.Write(content)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}
