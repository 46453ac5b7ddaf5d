package builder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/client/kustomize"
	"github.com/devantler-tech/fluxdiff/pkg/client/oci"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/devantler-tech/fluxdiff/pkg/fsutil"
	"github.com/devantler-tech/fluxdiff/pkg/svc/source"
	kustomizev1 "github.com/fluxcd/kustomize-controller/api/v1"
	meta "github.com/fluxcd/pkg/apis/meta"
	sourcev1 "github.com/fluxcd/source-controller/api/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// declared is a HelmRelease reached by the expansion.
type declared struct {
	object *unstructured.Unstructured
	origin string
}

// expansion is the state of a single Build call.
type expansion struct {
	builder  *Builder
	req      Request
	kust     *kustomize.Client
	sources  *source.Mapping
	cacheDir string

	index objectIndex
	// built holds the source root and path pairs already built.
	built map[string]struct{}
	// expanded holds the namespace/name of every Kustomization expanded.
	expanded map[string]struct{}

	output       *manifest.ManifestSet
	helmReleases []declared
	seenReleases map[string]struct{}
}

func newExpansion(b *Builder, req Request, cacheDir string) *expansion {
	return &expansion{
		builder:      b,
		req:          req,
		kust:         kustomize.NewClient(req.BuildFlags),
		sources:      req.Sources,
		cacheDir:     cacheDir,
		index:        objectIndex{},
		built:        map[string]struct{}{},
		expanded:     map[string]struct{}{},
		output:       manifest.NewManifestSet(),
		seenReleases: map[string]struct{}{},
	}
}

func (e *expansion) run(ctx context.Context) error {
	found, err := e.builder.discover(e.req.Root)
	if err != nil {
		return fluxerr.NewBuildError(e.req.Root, err)
	}

	var kustomizations []discovered

	for _, item := range found {
		e.index.record(item.object)

		if isKustomization(item.object) {
			kustomizations = append(kustomizations, item)
		}
	}

	if len(kustomizations) == 0 {
		err = e.buildImplicit(ctx)
	} else {
		err = e.expandDiscovered(ctx, kustomizations)
	}

	if err != nil {
		return err
	}

	for _, item := range found {
		if isHelmRelease(item.object) {
			e.addHelmRelease(item.object, item.file)
		}
	}

	return nil
}

// buildImplicit treats the root as the only Kustomization.
func (e *expansion) buildImplicit(ctx context.Context) error {
	objects, err := e.buildPath(ctx, e.req.Root)
	if err != nil {
		return fluxerr.NewBuildError(e.req.Root, err)
	}

	e.built[builtKey(e.req.Root, e.req.Root)] = struct{}{}

	return e.record(ctx, objects, e.req.Root, "", true)
}

// expandDiscovered expands the Kustomizations not declared inside another
// Kustomization's build directory first, then any that were not reached.
func (e *expansion) expandDiscovered(ctx context.Context, items []discovered) error {
	dirs := make([]string, len(items))
	for i, item := range items {
		dirs[i] = e.buildDirHint(item.object)
	}

	var roots, rest []discovered

	for i, item := range items {
		if e.nested(item.file, i, dirs) {
			rest = append(rest, item)
		} else {
			roots = append(roots, item)
		}
	}

	for _, item := range append(roots, rest...) {
		err := e.expand(ctx, item.object, item.file)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *expansion) nested(file string, self int, dirs []string) bool {
	for i, dir := range dirs {
		if i != self && dir != "" && fsutil.IsWithin(dir, filepath.Dir(file)) {
			return true
		}
	}

	return false
}

// buildDirHint returns the directory obj would build, or "" when it cannot
// be resolved yet.
func (e *expansion) buildDirHint(obj *unstructured.Unstructured) string {
	var ks kustomizev1.Kustomization

	err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &ks)
	if err != nil {
		return ""
	}

	ref, err := e.sources.Lookup(sourceRefOf(&ks))
	if err != nil {
		return ""
	}

	return fsutil.JoinRooted(ref.LocalPath, ks.Spec.Path)
}

func sourceRefOf(ks *kustomizev1.Kustomization) meta.NamespacedObjectKindReference {
	namespace := ks.Spec.SourceRef.Namespace
	if namespace == "" {
		namespace = ks.Namespace
	}

	return meta.NamespacedObjectKindReference{
		APIVersion: ks.Spec.SourceRef.APIVersion,
		Kind:       ks.Spec.SourceRef.Kind,
		Name:       ks.Spec.SourceRef.Name,
		Namespace:  namespace,
	}
}

// expand builds one Flux Kustomization and recurses into the Kustomizations
// its output declares.
func (e *expansion) expand(ctx context.Context, obj *unstructured.Unstructured, origin string) error {
	identity := obj.GetNamespace() + "/" + obj.GetName()
	if _, done := e.expanded[identity]; done {
		return nil
	}

	e.expanded[identity] = struct{}{}

	var ks kustomizev1.Kustomization

	err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &ks)
	if err != nil {
		return fluxerr.NewBuildError(origin, fmt.Errorf("decode Kustomization %s: %w", identity, err))
	}

	sourceRoot, err := e.sourceRoot(ctx, sourceRefOf(&ks))
	if err != nil {
		return err
	}

	dir := fsutil.JoinRooted(sourceRoot, ks.Spec.Path)

	key := builtKey(sourceRoot, dir)
	if _, done := e.built[key]; done {
		return nil
	}

	e.built[key] = struct{}{}

	e.builder.logger.Debugw("expanding Kustomization", "name", identity, "path", dir)

	objects, err := e.buildPath(ctx, dir)
	if err != nil {
		return fluxerr.NewBuildError(dir, fmt.Errorf("Kustomization %s: %w", identity, err))
	}

	objects, err = e.postBuild(&ks, objects)
	if err != nil {
		return fluxerr.NewBuildError(dir, fmt.Errorf("Kustomization %s: %w", identity, err))
	}

	owner := ownerName(kustomizev1.KustomizationKind, ks.Namespace, ks.Name)

	return e.record(ctx, objects, e.relative(dir), owner, e.req.selected(ks.Namespace, ks.Name))
}

// record stores the output of one build and expands nested Kustomizations.
func (e *expansion) record(
	ctx context.Context,
	objects []*unstructured.Unstructured,
	origin, owner string,
	selected bool,
) error {
	var nested []*unstructured.Unstructured

	for _, obj := range objects {
		e.index.record(obj)

		switch {
		case isKustomization(obj):
			nested = append(nested, obj)
		case isHelmRelease(obj):
			e.addHelmRelease(obj, origin)
		}

		if !selected || e.req.Kind != manifest.ResourceKindKustomization {
			continue
		}

		err := e.output.Add(manifest.NewManifest(obj, origin, owner))
		if err != nil {
			return fluxerr.NewBuildError(origin, err)
		}
	}

	for _, obj := range nested {
		err := e.expand(ctx, obj, origin)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *expansion) addHelmRelease(obj *unstructured.Unstructured, origin string) {
	identity := obj.GetNamespace() + "/" + obj.GetName()
	if _, seen := e.seenReleases[identity]; seen {
		return
	}

	e.seenReleases[identity] = struct{}{}
	e.helmReleases = append(e.helmReleases, declared{object: obj, origin: origin})
}

// sourceRoot resolves ref to a local directory, pulling OCIRepository
// artifacts when enabled.
func (e *expansion) sourceRoot(ctx context.Context, ref meta.NamespacedObjectKindReference) (string, error) {
	resolved, err := e.sources.Lookup(ref)
	if err == nil {
		return resolved.LocalPath, nil
	}

	if !e.req.EnableOCI || ref.Kind != sourcev1.OCIRepositoryKind || e.builder.puller == nil {
		return "", err
	}

	repo, ok := e.index.get(
		schema.GroupKind{Group: sourcev1.GroupVersion.Group, Kind: sourcev1.OCIRepositoryKind},
		ref.Namespace, ref.Name,
	)
	if !ok {
		return "", err
	}

	pulled, pullErr := e.pullOCIRepository(ctx, repo)
	if pullErr != nil {
		return "", fluxerr.NewBuildError(ref.Namespace+"/"+ref.Name, pullErr)
	}

	e.sources = e.sources.WithSource(source.SourceRef{
		Name:      ref.Name,
		Kind:      manifest.SourceKindOCIRepository,
		LocalPath: pulled,
	})

	return pulled, nil
}

func (e *expansion) pullOCIRepository(ctx context.Context, obj *unstructured.Unstructured) (string, error) {
	var repo sourcev1.OCIRepository

	err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &repo)
	if err != nil {
		return "", fmt.Errorf("decode OCIRepository: %w", err)
	}

	ref := oci.Reference{URL: repo.Spec.URL}
	if repo.Spec.Reference != nil {
		ref.Tag = repo.Spec.Reference.Tag
		ref.SemVer = repo.Spec.Reference.SemVer
		ref.Digest = repo.Spec.Reference.Digest
	}

	dest := filepath.Join(e.cacheDir, repo.Namespace, repo.Name, sanitize(ref.Version()))

	_, err = e.builder.puller.Pull(ctx, ref, dest)
	if err != nil {
		return "", err
	}

	if e.builder.renderer != nil {
		err = e.builder.renderer.BuildDependencies(ctx, dest)
		if err != nil {
			return "", err
		}
	}

	return dest, nil
}

func sanitize(version string) string {
	return strings.NewReplacer(":", "_", "/", "_", "@", "_").Replace(version)
}

func (e *expansion) relative(dir string) string {
	rel, err := filepath.Rel(e.sources.Workspace(), dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dir
	}

	return rel
}

func builtKey(root, dir string) string {
	return root + "\x00" + dir
}

// buildPath builds dir with kustomize when it has a kustomization file.
// Otherwise every YAML file below dir is read, and subdirectories with a
// kustomization file are built with kustomize.
func (e *expansion) buildPath(ctx context.Context, dir string) ([]*unstructured.Unstructured, error) {
	if kustomize.HasKustomization(dir) {
		return e.kustomizeBuild(ctx, dir)
	}

	var objects []*unstructured.Unstructured

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if entry.IsDir() {
			return e.visitDir(ctx, dir, path, entry, &objects)
		}

		if !fsutil.IsYAMLFile(path) {
			return nil
		}

		data, err := os.ReadFile(path) //nolint:gosec // path comes from walking dir
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		decoded, err := manifest.Decode(data, true)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		objects = append(objects, decoded...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

func (e *expansion) visitDir(
	ctx context.Context,
	root, path string,
	entry fs.DirEntry,
	objects *[]*unstructured.Unstructured,
) error {
	if path == root {
		return nil
	}

	if strings.HasPrefix(entry.Name(), ".") {
		return filepath.SkipDir
	}

	if !kustomize.HasKustomization(path) {
		return nil
	}

	built, err := e.kustomizeBuild(ctx, path)
	if err != nil {
		return err
	}

	*objects = append(*objects, built...)

	return filepath.SkipDir
}

func (e *expansion) kustomizeBuild(ctx context.Context, dir string) ([]*unstructured.Unstructured, error) {
	out, err := e.kust.Build(ctx, dir)
	if err != nil {
		return nil, err
	}

	objects, err := manifest.Decode(out.Bytes(), true)
	if err != nil {
		return nil, fmt.Errorf("decode kustomize output of %s: %w", dir, err)
	}

	return objects, nil
}
