package helm_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devantler-tech/fluxdiff/pkg/client/helm"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRenderFailed = errors.New("template: boom")

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func writeChart(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "testchart")
	writeFile(t, filepath.Join(dir, "Chart.yaml"), `apiVersion: v2
name: testchart
version: 0.1.0
`)
	writeFile(t, filepath.Join(dir, "values.yaml"), `replicas: 1
greeting: hello
`)
	writeFile(t, filepath.Join(dir, "values-prod.yaml"), `replicas: 5
`)
	writeFile(t, filepath.Join(dir, "templates", "configmap.yaml"), `apiVersion: v1
kind: ConfigMap
metadata:
  name: {{ .Release.Name }}-config
  namespace: {{ .Release.Namespace }}
data:
  replicas: {{ .Values.replicas | quote }}
  greeting: {{ .Values.greeting | quote }}
{{- if .Capabilities.APIVersions.Has "monitoring.coreos.com/v1" }}
  monitoring: "enabled"
{{- end }}
`)
	writeFile(t, filepath.Join(dir, "templates", "hook.yaml"), `apiVersion: batch/v1
kind: Job
metadata:
  name: {{ .Release.Name }}-migrate
  annotations:
    helm.sh/hook: pre-install
spec:
  template:
    spec:
      restartPolicy: Never
      containers:
        - name: migrate
          image: busybox
`)

	return dir
}

func newClient(t *testing.T, timeout time.Duration) *helm.Client {
	t.Helper()

	client, err := helm.NewClient(timeout, nil)
	require.NoError(t, err)

	return client
}

func TestRenderLocalChart(t *testing.T) {
	t.Parallel()

	client := newClient(t, time.Minute)

	out, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "demo",
		Namespace:   "apps",
		Chart:       helm.ChartSpec{Path: writeChart(t)},
		Values:      map[string]any{"replicas": 3},
	})
	require.NoError(t, err)

	rendered := string(out)
	assert.Contains(t, rendered, "name: demo-config")
	assert.Contains(t, rendered, "namespace: apps")
	assert.Contains(t, rendered, `replicas: "3"`)
	assert.Contains(t, rendered, `greeting: "hello"`)
	assert.NotContains(t, rendered, "monitoring")
	assert.Contains(t, rendered, "name: demo-migrate")
	assert.Contains(t, rendered, "templates/hook.yaml")
}

func TestRenderAPIVersions(t *testing.T) {
	t.Parallel()

	client := newClient(t, time.Minute)

	out, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "demo",
		Namespace:   "apps",
		Chart:       helm.ChartSpec{Path: writeChart(t)},
		APIVersions: []string{"monitoring.coreos.com/v1"},
	})
	require.NoError(t, err)

	assert.Contains(t, string(out), `monitoring: "enabled"`)
}

func TestRenderValuesFiles(t *testing.T) {
	t.Parallel()

	client := newClient(t, time.Minute)

	out, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "demo",
		Namespace:   "apps",
		Chart: helm.ChartSpec{
			Path:        writeChart(t),
			ValuesFiles: []string{"values.yaml", "./values-prod.yaml"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, string(out), `replicas: "5"`)
	assert.Contains(t, string(out), `greeting: "hello"`)
}

func TestRenderMissingValuesFile(t *testing.T) {
	t.Parallel()

	client := newClient(t, time.Minute)

	_, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "demo",
		Chart: helm.ChartSpec{
			Path:        writeChart(t),
			ValuesFiles: []string{"values-missing.yaml"},
		},
	})
	require.ErrorIs(t, err, helm.ErrValuesFileNotFound)
}

func TestRenderValidatesRequest(t *testing.T) {
	t.Parallel()

	client := newClient(t, time.Minute)

	_, err := client.Render(context.Background(), helm.RenderRequest{Chart: helm.ChartSpec{Path: "x"}})
	require.Error(t, err)

	_, err = client.Render(context.Background(), helm.RenderRequest{ReleaseName: "demo"})
	require.Error(t, err)
}

func TestRenderRetriesOnceOnTimeout(t *testing.T) {
	t.Parallel()

	client := newClient(t, 20*time.Millisecond)

	var attempts atomic.Int32

	client.SetRenderFunc(func(ctx context.Context, _ helm.RenderRequest) (string, error) {
		attempts.Add(1)
		<-ctx.Done()

		return "", ctx.Err()
	})

	_, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "slow",
		Chart:       helm.ChartSpec{Path: "charts/slow"},
	})

	var timeoutErr *fluxerr.RenderTimeoutError

	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "charts/slow", timeoutErr.Path)
	assert.Equal(t, fluxerr.CategoryRenderTimeout, fluxerr.CategoryOf(err))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRenderSucceedsOnRetry(t *testing.T) {
	t.Parallel()

	client := newClient(t, 20*time.Millisecond)

	var attempts atomic.Int32

	client.SetRenderFunc(func(ctx context.Context, _ helm.RenderRequest) (string, error) {
		if attempts.Add(1) == 1 {
			<-ctx.Done()

			return "", ctx.Err()
		}

		return "kind: ConfigMap\n", nil
	})

	out, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "flaky",
		Chart:       helm.ChartSpec{Path: "charts/flaky"},
	})
	require.NoError(t, err)

	assert.Equal(t, "kind: ConfigMap\n", string(out))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRenderRetryWaitsForAbandonedAttempt(t *testing.T) {
	t.Parallel()

	client := newClient(t, 100*time.Millisecond)

	var attempts, inFlight, maxInFlight atomic.Int32

	client.SetRenderFunc(func(context.Context, helm.RenderRequest) (string, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			seen := maxInFlight.Load()
			if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}

		if attempts.Add(1) == 1 {
			time.Sleep(150 * time.Millisecond)

			return "", context.DeadlineExceeded
		}

		return "kind: ConfigMap\n", nil
	})

	out, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "stubborn",
		Chart:       helm.ChartSpec{Path: "charts/stubborn"},
	})
	require.NoError(t, err)

	assert.Equal(t, "kind: ConfigMap\n", string(out))
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int32(1), maxInFlight.Load(), "attempts never overlap")
}

func TestRenderSkipsRetryWhileAttemptIsStuck(t *testing.T) {
	t.Parallel()

	client := newClient(t, 20*time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var attempts atomic.Int32

	client.SetRenderFunc(func(context.Context, helm.RenderRequest) (string, error) {
		attempts.Add(1)
		<-release

		return "", nil
	})

	_, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "stuck",
		Chart:       helm.ChartSpec{Path: "charts/stuck"},
	})

	var timeoutErr *fluxerr.RenderTimeoutError

	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRenderDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	client := newClient(t, time.Minute)

	var attempts atomic.Int32

	client.SetRenderFunc(func(context.Context, helm.RenderRequest) (string, error) {
		attempts.Add(1)

		return "", errRenderFailed
	})

	_, err := client.Render(context.Background(), helm.RenderRequest{
		ReleaseName: "broken",
		Chart:       helm.ChartSpec{Path: "charts/broken"},
	})
	require.ErrorIs(t, err, errRenderFailed)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestChartSpecString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "charts/app", helm.ChartSpec{Path: "charts/app", Name: "app"}.String())
	assert.Equal(t, "https://charts.example.com/app",
		helm.ChartSpec{Name: "app", RepoURL: "https://charts.example.com/"}.String())
	assert.Equal(t, "oci://ghcr.io/org/app", helm.ChartSpec{Name: "oci://ghcr.io/org/app"}.String())
}

func TestBuildDependenciesSkipsChartsWithoutDependencies(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "charts", "plain", "Chart.yaml"), "apiVersion: v2\nname: plain\nversion: 0.1.0\n")
	writeFile(t, filepath.Join(root, "charts", "broken", "Chart.yaml"), "name: [unterminated\n")

	client := newClient(t, time.Minute)

	require.NoError(t, client.BuildDependencies(context.Background(), root))
}

func TestBuildDependenciesHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newClient(t, time.Minute)

	require.ErrorIs(t, client.BuildDependencies(ctx, t.TempDir()), context.Canceled)
}

func writeChartWithDependency(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dep", "Chart.yaml"), "apiVersion: v2\nname: dep\nversion: 0.1.0\n")
	writeFile(t, filepath.Join(root, "dep", "templates", "service.yaml"), `apiVersion: v1
kind: Service
metadata:
  name: {{ .Release.Name }}-dep
spec:
  ports:
    - port: 80
`)
	writeFile(t, filepath.Join(root, "app", "Chart.yaml"), `apiVersion: v2
name: app
version: 0.1.0
dependencies:
  - name: dep
    version: 0.1.0
    repository: file://../dep
`)
	writeFile(t, filepath.Join(root, "app", "templates", "configmap.yaml"), `apiVersion: v1
kind: ConfigMap
metadata:
  name: {{ .Release.Name }}-app
`)

	return filepath.Join(root, "app")
}

func TestRenderSharedChartBuildsDependenciesOnce(t *testing.T) {
	t.Parallel()

	chartPath := writeChartWithDependency(t)
	client := newClient(t, time.Minute)

	const releases = 8

	var wg sync.WaitGroup

	outputs := make([]string, releases)
	errs := make([]error, releases)

	for i := range releases {
		wg.Add(1)

		go func() {
			defer wg.Done()

			out, err := client.Render(context.Background(), helm.RenderRequest{
				ReleaseName: fmt.Sprintf("app-%d", i),
				Namespace:   "apps",
				Chart:       helm.ChartSpec{Path: chartPath},
			})
			outputs[i], errs[i] = string(out), err
		}()
	}

	wg.Wait()

	for i := range releases {
		require.NoError(t, errs[i])
		assert.Contains(t, outputs[i], fmt.Sprintf("name: app-%d-dep", i))
	}

	archives, err := filepath.Glob(filepath.Join(chartPath, "charts", "dep-*.tgz"))
	require.NoError(t, err)
	assert.Len(t, archives, 1)
}
