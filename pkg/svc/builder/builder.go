// Package builder expands a Flux GitOps tree into the flat set of objects
// the cluster would end up with.
//
// Kustomizations are expanded depth-first starting from the ones declared in
// the build root. In HelmRelease mode every HelmRelease reached by that
// expansion is rendered offline with its declared values.
package builder

import (
	"context"
	"fmt"
	"os"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/cli/parallel"
	"github.com/devantler-tech/fluxdiff/pkg/client/helm"
	"github.com/devantler-tech/fluxdiff/pkg/client/kustomize"
	"github.com/devantler-tech/fluxdiff/pkg/client/oci"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/devantler-tech/fluxdiff/pkg/fsutil"
	"github.com/devantler-tech/fluxdiff/pkg/svc/source"
	"go.uber.org/zap"
)

// ChartRenderer renders Helm charts without a cluster.
type ChartRenderer interface {
	Render(ctx context.Context, req helm.RenderRequest) ([]byte, error)
	BuildDependencies(ctx context.Context, root string) error
}

// ArtifactPuller fetches OCI artifacts into a directory.
type ArtifactPuller interface {
	Pull(ctx context.Context, ref oci.Reference, dest string) (string, error)
}

// Request describes one tree build.
type Request struct {
	// Root is the directory to build.
	Root string
	Kind manifest.ResourceKind
	// APIVersions is the capability set charts are rendered against.
	APIVersions []string
	// BuildFlags holds the parsed kustomize build flags.
	BuildFlags kustomize.Options
	Sources    *source.Mapping
	// Namespace restricts output to declaring objects in this namespace
	// unless AllNamespaces is set.
	Namespace     string
	AllNamespaces bool
	// Name restricts output to the declaring object with this name.
	Name string
	// EnableOCI pulls unmapped OCIRepository sources from their registry.
	EnableOCI bool
}

// Options configures a Builder.
type Options struct {
	Renderer ChartRenderer
	Puller   ArtifactPuller
	// CacheDir receives pulled OCI artifacts. A temporary directory is used
	// per build when empty.
	CacheDir string
	// MaxConcurrency bounds parallel chart renders.
	MaxConcurrency int64
	Logger         *zap.Logger
}

// Builder expands GitOps trees. It is safe for concurrent use.
type Builder struct {
	renderer ChartRenderer
	puller   ArtifactPuller
	cacheDir string
	executor *parallel.Executor
	logger   *zap.SugaredLogger
}

// New returns a Builder.
func New(opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Builder{
		renderer: opts.Renderer,
		puller:   opts.Puller,
		cacheDir: opts.CacheDir,
		executor: parallel.NewExecutor(opts.MaxConcurrency),
		logger:   logger.Sugar().Named("builder"),
	}
}

// Build expands req.Root and returns the selected objects in discovery order.
func (b *Builder) Build(ctx context.Context, req Request) (*manifest.ManifestSet, error) {
	err := validate(req)
	if err != nil {
		return nil, err
	}

	root, err := fsutil.ExpandHomePath(req.Root)
	if err != nil {
		return nil, &fluxerr.ConfigError{Message: "path " + req.Root, Err: err}
	}

	err = fsutil.EnsureDir(root)
	if err != nil {
		return nil, &fluxerr.ConfigError{Message: "path " + req.Root, Err: err}
	}

	req.Root = root

	cacheDir := b.cacheDir
	if cacheDir == "" && req.EnableOCI {
		cacheDir, err = os.MkdirTemp("", "fluxdiff-oci-")
		if err != nil {
			return nil, fmt.Errorf("create artifact cache: %w", err)
		}

		defer os.RemoveAll(cacheDir) //nolint:errcheck // best-effort cleanup of a temp dir
	}

	b.logger.Debugw("building tree", "root", root, "kind", req.Kind, "buildFlags", req.BuildFlags.String())

	exp := newExpansion(b, req, cacheDir)

	err = exp.run(ctx)
	if err != nil {
		return nil, err
	}

	if req.Kind == manifest.ResourceKindHelmRelease {
		return b.renderHelmReleases(ctx, exp)
	}

	return exp.output, nil
}

func validate(req Request) error {
	switch {
	case req.Root == "":
		return fluxerr.NewConfigError("a path to build is required")
	case req.Sources == nil:
		return fluxerr.NewConfigError("a source mapping is required")
	case req.Kind != manifest.ResourceKindKustomization && req.Kind != manifest.ResourceKindHelmRelease:
		return fluxerr.NewConfigError("unsupported resource kind %q", req.Kind)
	default:
		return nil
	}
}

// selected reports whether objects declared by namespace/name contribute output.
func (r Request) selected(namespace, name string) bool {
	if !r.AllNamespaces && r.Namespace != "" && namespace != r.Namespace {
		return false
	}

	return r.Name == "" || r.Name == name
}
