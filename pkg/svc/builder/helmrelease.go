package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/cli/parallel"
	"github.com/devantler-tech/fluxdiff/pkg/client/helm"
	"github.com/devantler-tech/fluxdiff/pkg/client/oci"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/devantler-tech/fluxdiff/pkg/fsutil"
	helmv2 "github.com/fluxcd/helm-controller/api/v2"
	meta "github.com/fluxcd/pkg/apis/meta"
	sourcev1 "github.com/fluxcd/source-controller/api/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	defaultValuesKey  = "values.yaml"
	latestVersionSpec = "*"
	helmRepoTypeOCI   = "oci"
)

var (
	errUnsupportedSource = errors.New("unsupported source kind")
	errNoRenderer        = errors.New("chart rendering is not configured")
	errNoChart           = errors.New("neither spec.chart nor spec.chartRef is set")
)

type renderedRelease struct {
	objects []*unstructured.Unstructured
	chart   string
}

// renderHelmReleases renders the selected HelmReleases concurrently and
// assembles their objects in declaration order.
func (b *Builder) renderHelmReleases(ctx context.Context, exp *expansion) (*manifest.ManifestSet, error) {
	selected := make(map[string]declared)

	var names []string

	for _, release := range exp.helmReleases {
		if !exp.req.selected(release.object.GetNamespace(), release.object.GetName()) {
			continue
		}

		name := ownerName(helmv2.HelmReleaseKind, release.object.GetNamespace(), release.object.GetName())
		selected[name] = release
		names = append(names, name)
	}

	if len(names) > 0 && b.renderer == nil {
		return nil, fluxerr.NewBuildError(exp.req.Root, errNoRenderer)
	}

	rendered, err := parallel.Collect(ctx, b.executor, names,
		func(ctx context.Context, name string) (renderedRelease, error) {
			return exp.renderRelease(ctx, selected[name])
		})
	if err != nil {
		return nil, err
	}

	set := manifest.NewManifestSet()

	for _, name := range names {
		release := rendered[name]
		for _, obj := range release.objects {
			err = set.Add(manifest.NewManifest(obj, release.chart, name))
			if err != nil {
				return nil, fluxerr.NewBuildError(release.chart, err)
			}
		}
	}

	return set, nil
}

func (e *expansion) renderRelease(ctx context.Context, item declared) (renderedRelease, error) {
	var release helmv2.HelmRelease

	err := runtime.DefaultUnstructuredConverter.FromUnstructured(item.object.Object, &release)
	if err != nil {
		return renderedRelease{}, fluxerr.NewBuildError(item.origin, fmt.Errorf("decode HelmRelease: %w", err))
	}

	chart, err := e.chartFor(&release)
	if err != nil {
		return renderedRelease{}, wrapBuild(item.origin, err)
	}

	values, err := e.valuesFor(&release)
	if err != nil {
		return renderedRelease{}, fluxerr.NewBuildError(item.origin, err)
	}

	namespace := release.GetReleaseNamespace()

	out, err := e.builder.renderer.Render(ctx, helm.RenderRequest{
		ReleaseName: release.GetReleaseName(),
		Namespace:   namespace,
		Chart:       chart,
		Values:      values,
		APIVersions: e.req.APIVersions,
	})
	if err != nil {
		return renderedRelease{}, fluxerr.NewBuildError(chart.String(), err)
	}

	objects, err := manifest.Decode(out, true)
	if err != nil {
		return renderedRelease{}, fluxerr.NewBuildError(chart.String(), fmt.Errorf("decode rendered chart: %w", err))
	}

	for _, obj := range objects {
		setNamespace(obj, namespace, false)
	}

	return renderedRelease{objects: objects, chart: e.relativeChart(chart)}, nil
}

func wrapBuild(origin string, err error) error {
	var unresolved *fluxerr.UnresolvedSourceError
	if errors.As(err, &unresolved) {
		return err
	}

	return fluxerr.NewBuildError(origin, err)
}

// chartFor locates the chart of release.
func (e *expansion) chartFor(release *helmv2.HelmRelease) (helm.ChartSpec, error) {
	if ref := release.Spec.ChartRef; ref != nil {
		return e.chartFromRef(release, meta.NamespacedObjectKindReference{
			APIVersion: ref.APIVersion,
			Kind:       ref.Kind,
			Name:       ref.Name,
			Namespace:  orDefault(ref.Namespace, release.Namespace),
		})
	}

	if release.Spec.Chart == nil {
		return helm.ChartSpec{}, errNoChart
	}

	tmpl := release.Spec.Chart.Spec
	ref := meta.NamespacedObjectKindReference{
		APIVersion: tmpl.SourceRef.APIVersion,
		Kind:       tmpl.SourceRef.Kind,
		Name:       tmpl.SourceRef.Name,
		Namespace:  orDefault(tmpl.SourceRef.Namespace, release.Namespace),
	}

	version := tmpl.Version
	if version == latestVersionSpec {
		version = ""
	}

	switch ref.Kind {
	case sourcev1.HelmRepositoryKind:
		return e.chartFromHelmRepository(ref, tmpl.Chart, version, tmpl.ValuesFiles)
	case sourcev1.GitRepositoryKind, sourcev1.OCIRepositoryKind, sourcev1.BucketKind:
		resolved, err := e.sources.Lookup(ref)
		if err != nil {
			return helm.ChartSpec{}, err
		}

		return helm.ChartSpec{
			Path:        fsutil.JoinRooted(resolved.LocalPath, tmpl.Chart),
			ValuesFiles: tmpl.ValuesFiles,
		}, nil
	default:
		return helm.ChartSpec{}, fmt.Errorf("%w %q", errUnsupportedSource, ref.Kind)
	}
}

func (e *expansion) chartFromHelmRepository(
	ref meta.NamespacedObjectKindReference,
	chart, version string,
	valuesFiles []string,
) (helm.ChartSpec, error) {
	obj, ok := e.index.get(
		schema.GroupKind{Group: sourcev1.GroupVersion.Group, Kind: sourcev1.HelmRepositoryKind},
		ref.Namespace, ref.Name,
	)
	if !ok {
		return helm.ChartSpec{}, &fluxerr.UnresolvedSourceError{Kind: ref.Kind, Namespace: ref.Namespace, Name: ref.Name}
	}

	var repo sourcev1.HelmRepository

	err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &repo)
	if err != nil {
		return helm.ChartSpec{}, fmt.Errorf("decode HelmRepository %s/%s: %w", ref.Namespace, ref.Name, err)
	}

	if repo.Spec.Type == helmRepoTypeOCI || strings.HasPrefix(repo.Spec.URL, oci.Scheme) {
		return helm.ChartSpec{
			Name:        strings.TrimSuffix(repo.Spec.URL, "/") + "/" + chart,
			Version:     version,
			ValuesFiles: valuesFiles,
		}, nil
	}

	return helm.ChartSpec{
		Name:        chart,
		RepoURL:     repo.Spec.URL,
		Version:     version,
		ValuesFiles: valuesFiles,
	}, nil
}

// chartFromRef resolves spec.chartRef. A locally mapped OCIRepository is a
// chart directory; otherwise the repository URL is pulled by Helm.
func (e *expansion) chartFromRef(
	release *helmv2.HelmRelease,
	ref meta.NamespacedObjectKindReference,
) (helm.ChartSpec, error) {
	if ref.Kind != sourcev1.OCIRepositoryKind {
		return helm.ChartSpec{}, fmt.Errorf("spec.chartRef: %w %q", errUnsupportedSource, ref.Kind)
	}

	resolved, lookupErr := e.sources.Lookup(ref)
	if lookupErr == nil {
		return helm.ChartSpec{Path: resolved.LocalPath}, nil
	}

	obj, ok := e.index.get(
		schema.GroupKind{Group: sourcev1.GroupVersion.Group, Kind: sourcev1.OCIRepositoryKind},
		ref.Namespace, ref.Name,
	)
	if !ok {
		return helm.ChartSpec{}, lookupErr
	}

	var repo sourcev1.OCIRepository

	err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &repo)
	if err != nil {
		return helm.ChartSpec{}, fmt.Errorf("decode OCIRepository %s/%s: %w", ref.Namespace, ref.Name, err)
	}

	spec := helm.ChartSpec{Name: repo.Spec.URL}
	if repo.Spec.Reference != nil {
		spec.Version = repo.Spec.Reference.SemVer
		if spec.Version == "" {
			spec.Version = repo.Spec.Reference.Tag
		}
	}

	e.builder.logger.Debugw("resolved chartRef", "release", release.Namespace+"/"+release.Name, "chart", spec.String())

	return spec, nil
}

// valuesFor merges valuesFrom in order, then spec.values on top.
func (e *expansion) valuesFor(release *helmv2.HelmRelease) (map[string]any, error) {
	values := map[string]any{}

	for _, ref := range release.Spec.ValuesFrom {
		data, found, err := e.configData(ref.Kind, release.Namespace, ref.Name)
		if err != nil {
			return nil, err
		}

		key := orDefault(ref.ValuesKey, defaultValuesKey)

		content, hasKey := data[key]
		if !found || !hasKey {
			if ref.Optional {
				continue
			}

			return nil, fmt.Errorf("valuesFrom: %s %s/%s key %q not found", ref.Kind, release.Namespace, ref.Name, key)
		}

		if ref.TargetPath != "" {
			err = helm.SetAtPath(values, ref.TargetPath, content)
			if err != nil {
				return nil, fmt.Errorf("valuesFrom %s %s: %w", ref.Kind, ref.Name, err)
			}

			continue
		}

		parsed, err := helm.ParseValues([]byte(content))
		if err != nil {
			return nil, fmt.Errorf("valuesFrom %s %s: %w", ref.Kind, ref.Name, err)
		}

		values = helm.MergeValues(values, parsed)
	}

	return helm.MergeValues(values, helm.CloneValues(release.GetValues())), nil
}

func (e *expansion) relativeChart(chart helm.ChartSpec) string {
	if chart.Path != "" {
		return e.relative(chart.Path)
	}

	return chart.String()
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
