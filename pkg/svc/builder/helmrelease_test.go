package builder_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/client/helm"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/devantler-tech/fluxdiff/pkg/svc/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	mu       sync.Mutex
	requests map[string]helm.RenderRequest
	depRoots []string
	output   string
	err      error
}

func (r *fakeRenderer) Render(_ context.Context, req helm.RenderRequest) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.requests == nil {
		r.requests = map[string]helm.RenderRequest{}
	}

	r.requests[req.ReleaseName] = req

	if r.err != nil {
		return nil, r.err
	}

	return []byte(r.output), nil
}

func (r *fakeRenderer) BuildDependencies(_ context.Context, root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.depRoots = append(r.depRoots, root)

	return nil
}

func (r *fakeRenderer) request(t *testing.T, release string) helm.RenderRequest {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[release]
	require.True(t, ok, "release %s was not rendered", release)

	return req
}

const podinfoRelease = `apiVersion: source.toolkit.fluxcd.io/v1
kind: HelmRepository
metadata:
  name: podinfo
  namespace: flux-system
spec:
  url: https://stefanprodan.github.io/podinfo
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: podinfo-values
  namespace: apps
data:
  values.yaml: |
    replicaCount: 2
    ingress:
      enabled: true
  password: s3cret
---
apiVersion: helm.toolkit.fluxcd.io/v2
kind: HelmRelease
metadata:
  name: podinfo
  namespace: apps
spec:
  interval: 10m
  chart:
    spec:
      chart: podinfo
      version: "6.x"
      sourceRef:
        kind: HelmRepository
        name: podinfo
        namespace: flux-system
  valuesFrom:
    - kind: ConfigMap
      name: podinfo-values
    - kind: ConfigMap
      name: podinfo-values
      valuesKey: password
      targetPath: auth.password
    - kind: Secret
      name: optional-values
      optional: true
  values:
    replicaCount: 3
`

const localChartRelease = `apiVersion: helm.toolkit.fluxcd.io/v2
kind: HelmRelease
metadata:
  name: internal
  namespace: tools
spec:
  releaseName: internal-tools
  targetNamespace: tools-runtime
  chart:
    spec:
      chart: ./charts/internal
      sourceRef:
        kind: GitRepository
        name: flux-system
        namespace: flux-system
      valuesFiles:
        - values.yaml
        - values-prod.yaml
`

const renderedConfigMap = `apiVersion: v1
kind: ConfigMap
metadata:
  name: rendered
data:
  key: value
`

func TestBuildHelmReleaseFromHelmRepository(t *testing.T) {
	t.Parallel()

	workspace := writeTree(t, map[string]string{"releases/podinfo.yaml": podinfoRelease})
	renderer := &fakeRenderer{output: renderedConfigMap}

	req := request(t, workspace, "releases", manifest.ResourceKindHelmRelease)
	req.AllNamespaces = true
	req.APIVersions = []string{"monitoring.coreos.com/v1"}

	set, err := builder.New(builder.Options{Renderer: renderer}).Build(context.Background(), req)
	require.NoError(t, err)

	rendered, ok := set.Get(key("v1", "ConfigMap", "apps", "rendered"))
	require.True(t, ok, "rendered objects default to the release namespace")
	assert.Equal(t, "HelmRelease apps/podinfo", rendered.Owner)
	assert.Equal(t, 1, set.Len())

	got := renderer.request(t, "podinfo")
	assert.Equal(t, "apps", got.Namespace)
	assert.Equal(t, helm.ChartSpec{
		Name:    "podinfo",
		RepoURL: "https://stefanprodan.github.io/podinfo",
		Version: "6.x",
	}, got.Chart)
	assert.Equal(t, []string{"monitoring.coreos.com/v1"}, got.APIVersions)
	assert.Equal(t, map[string]any{
		"replicaCount": float64(3),
		"ingress":      map[string]any{"enabled": true},
		"auth":         map[string]any{"password": "s3cret"},
	}, got.Values)
}

func TestBuildHelmReleaseFromLocalChart(t *testing.T) {
	t.Parallel()

	workspace := writeTree(t, map[string]string{
		"releases/internal.yaml":      localChartRelease,
		"charts/internal/Chart.yaml":  "apiVersion: v2\nname: internal\nversion: 0.1.0\n",
		"charts/internal/values.yaml": "replicas: 1\n",
	})
	renderer := &fakeRenderer{output: renderedConfigMap}

	req := request(t, workspace, "releases", manifest.ResourceKindHelmRelease)
	req.Namespace = "tools"

	set, err := builder.New(builder.Options{Renderer: renderer}).Build(context.Background(), req)
	require.NoError(t, err)

	rendered, ok := set.Get(key("v1", "ConfigMap", "tools-runtime", "rendered"))
	require.True(t, ok)
	assert.Equal(t, filepath.Join("charts", "internal"), rendered.Source)

	got := renderer.request(t, "internal-tools")
	assert.Equal(t, "tools-runtime", got.Namespace)
	assert.Equal(t, filepath.Join(workspace, "charts", "internal"), got.Chart.Path)
	assert.Equal(t, []string{"values.yaml", "values-prod.yaml"}, got.Chart.ValuesFiles)
}

func TestBuildHelmReleaseSelection(t *testing.T) {
	t.Parallel()

	workspace := writeTree(t, map[string]string{"releases/podinfo.yaml": podinfoRelease})
	renderer := &fakeRenderer{output: renderedConfigMap}

	set, err := builder.New(builder.Options{Renderer: renderer}).Build(
		context.Background(), request(t, workspace, "releases", manifest.ResourceKindHelmRelease))
	require.NoError(t, err)

	assert.Equal(t, 0, set.Len(), "the release lives outside flux-system")
}

func TestBuildHelmReleaseMissingRepository(t *testing.T) {
	t.Parallel()

	workspace := writeTree(t, map[string]string{"releases/app.yaml": `apiVersion: helm.toolkit.fluxcd.io/v2
kind: HelmRelease
metadata:
  name: app
  namespace: flux-system
spec:
  chart:
    spec:
      chart: app
      sourceRef:
        kind: HelmRepository
        name: absent
`})

	_, err := builder.New(builder.Options{Renderer: &fakeRenderer{}}).Build(
		context.Background(), request(t, workspace, "releases", manifest.ResourceKindHelmRelease))

	var unresolved *fluxerr.UnresolvedSourceError

	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "absent", unresolved.Name)
}

func TestBuildHelmReleaseMissingValues(t *testing.T) {
	t.Parallel()

	workspace := writeTree(t, map[string]string{"releases/app.yaml": `apiVersion: source.toolkit.fluxcd.io/v1
kind: HelmRepository
metadata:
  name: charts
  namespace: flux-system
spec:
  url: oci://ghcr.io/org/charts
---
apiVersion: helm.toolkit.fluxcd.io/v2
kind: HelmRelease
metadata:
  name: app
  namespace: flux-system
spec:
  chart:
    spec:
      chart: app
      sourceRef:
        kind: HelmRepository
        name: charts
  valuesFrom:
    - kind: Secret
      name: required-values
`})

	_, err := builder.New(builder.Options{Renderer: &fakeRenderer{}}).Build(
		context.Background(), request(t, workspace, "releases", manifest.ResourceKindHelmRelease))
	require.Error(t, err)
	assert.Equal(t, fluxerr.CategoryBuild, fluxerr.CategoryOf(err))
	assert.Contains(t, err.Error(), "required-values")
}

func TestBuildHelmReleaseOCIRepository(t *testing.T) {
	t.Parallel()

	workspace := writeTree(t, map[string]string{"releases/app.yaml": `apiVersion: source.toolkit.fluxcd.io/v1
kind: OCIRepository
metadata:
  name: app-chart
  namespace: flux-system
spec:
  url: oci://ghcr.io/org/charts/app
  ref:
    tag: 1.2.3
---
apiVersion: helm.toolkit.fluxcd.io/v2
kind: HelmRelease
metadata:
  name: app
  namespace: flux-system
spec:
  chartRef:
    kind: OCIRepository
    name: app-chart
`})
	renderer := &fakeRenderer{output: renderedConfigMap}

	_, err := builder.New(builder.Options{Renderer: renderer}).Build(
		context.Background(), request(t, workspace, "releases", manifest.ResourceKindHelmRelease))
	require.NoError(t, err)

	assert.Equal(t, helm.ChartSpec{Name: "oci://ghcr.io/org/charts/app", Version: "1.2.3"}, renderer.request(t, "app").Chart)
}

func TestBuildHelmReleaseRenderFailure(t *testing.T) {
	t.Parallel()

	workspace := writeTree(t, map[string]string{"releases/podinfo.yaml": podinfoRelease})

	req := request(t, workspace, "releases", manifest.ResourceKindHelmRelease)
	req.AllNamespaces = true

	_, err := builder.New(builder.Options{Renderer: &fakeRenderer{err: errChartBroken}}).Build(context.Background(), req)
	require.ErrorIs(t, err, errChartBroken)
	assert.Equal(t, fluxerr.CategoryBuild, fluxerr.CategoryOf(err))

	timeout := &fluxerr.RenderTimeoutError{Path: "podinfo", Timeout: time.Minute}

	_, err = builder.New(builder.Options{Renderer: &fakeRenderer{err: timeout}}).Build(context.Background(), req)

	var timeoutErr *fluxerr.RenderTimeoutError

	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, fluxerr.CategoryBuild, fluxerr.CategoryOf(err))
}

func TestBuildHelmReleaseReachedThroughKustomization(t *testing.T) {
	t.Parallel()

	workspace := writeTree(t, map[string]string{
		"clusters/apps.yaml": `apiVersion: kustomize.toolkit.fluxcd.io/v1
kind: Kustomization
metadata:
  name: apps
  namespace: flux-system
spec:
  path: ./apps
  sourceRef:
    kind: GitRepository
    name: flux-system
`,
		"apps/podinfo.yaml": podinfoRelease,
	})
	renderer := &fakeRenderer{output: renderedConfigMap}

	req := request(t, workspace, "clusters", manifest.ResourceKindHelmRelease)
	req.AllNamespaces = true

	set, err := builder.New(builder.Options{Renderer: renderer}).Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []manifest.ResourceKey{key("v1", "ConfigMap", "apps", "rendered")}, keys(set))
}
