package helm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"go.uber.org/zap"
	helmv4action "helm.sh/helm/v4/pkg/action"
	helmv4common "helm.sh/helm/v4/pkg/chart/common"
	helmv4loader "helm.sh/helm/v4/pkg/chart/loader"
	chartv2 "helm.sh/helm/v4/pkg/chart/v2"
	helmv4cli "helm.sh/helm/v4/pkg/cli"
	helmv4downloader "helm.sh/helm/v4/pkg/downloader"
	helmv4getter "helm.sh/helm/v4/pkg/getter"
	helmv4registry "helm.sh/helm/v4/pkg/registry"
	v1 "helm.sh/helm/v4/pkg/release/v1"
	"sigs.k8s.io/yaml"
)

// DefaultRenderTimeout bounds a single chart render attempt.
const DefaultRenderTimeout = 2 * time.Minute

var (
	errReleaseNameRequired = errors.New("helm: release name is required")
	errChartRequired       = errors.New("helm: chart path or name is required")
	errUnexpectedChart     = errors.New("helm: unexpected chart type")
	errUnexpectedRelease   = errors.New("helm: unexpected release type")
)

// ChartSpec identifies the chart to render. Path wins over Name when both are set.
type ChartSpec struct {
	// Path is a chart directory on disk.
	Path string
	// Name is a chart name in RepoURL, or a full oci:// reference.
	Name        string
	RepoURL     string
	Version     string
	ValuesFiles []string
}

// String returns the most specific identifier for the chart.
func (s ChartSpec) String() string {
	if s.Path != "" {
		return s.Path
	}

	if s.RepoURL != "" {
		return strings.TrimSuffix(s.RepoURL, "/") + "/" + s.Name
	}

	return s.Name
}

// RenderRequest describes one offline chart render.
type RenderRequest struct {
	ReleaseName string
	Namespace   string
	Chart       ChartSpec
	Values      map[string]any
	APIVersions []string
}

type renderFunc func(ctx context.Context, req RenderRequest) (string, error)

// Client renders charts client-side. It never contacts a cluster.
type Client struct {
	settings       *helmv4cli.EnvSettings
	registryClient *helmv4registry.Client
	timeout        time.Duration
	logger         *zap.SugaredLogger
	render         renderFunc

	// depLocks serializes dependency builds per chart directory.
	depLocks sync.Map
}

// NewClient returns a Client whose render attempts are bounded by timeout.
// A non-positive timeout selects DefaultRenderTimeout.
func NewClient(timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	registryClient, err := helmv4registry.NewClient()
	if err != nil {
		return nil, fmt.Errorf("create helm registry client: %w", err)
	}

	client := &Client{
		settings:       helmv4cli.New(),
		registryClient: registryClient,
		timeout:        timeout,
		logger:         logger.Sugar().Named("helm"),
	}
	client.render = client.renderOnce

	return client, nil
}

// Timeout returns the per-attempt render timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Render produces the manifests of req as a multi-document YAML stream.
//
// An attempt exceeding the timeout is retried once. The retry starts only
// after the abandoned attempt has returned; if it does not return within
// another timeout period, or the retry times out too, the result is a
// *fluxerr.RenderTimeoutError.
func (c *Client) Render(ctx context.Context, req RenderRequest) ([]byte, error) {
	if req.ReleaseName == "" {
		return nil, errReleaseNameRequired
	}

	if req.Chart.Path == "" && req.Chart.Name == "" {
		return nil, errChartRequired
	}

	for attempt := 1; ; attempt++ {
		manifest, pending, err := c.renderWithTimeout(ctx, req)
		if err == nil {
			return []byte(manifest), nil
		}

		var timeoutErr *fluxerr.RenderTimeoutError
		if !errors.As(err, &timeoutErr) || attempt > 1 {
			return nil, err
		}

		if !c.awaitAbandoned(ctx, pending) {
			c.logger.Warnw("abandoned render still running, not retrying",
				"chart", req.Chart.String(), "release", req.ReleaseName)

			return nil, err
		}

		c.logger.Warnw("render timed out, retrying",
			"chart", req.Chart.String(), "release", req.ReleaseName, "timeout", c.timeout)
	}
}

type renderResult struct {
	manifest string
	err      error
}

// renderWithTimeout runs one attempt. When the attempt is abandoned on
// timeout, the returned channel delivers its result once it returns.
func (c *Client) renderWithTimeout(ctx context.Context, req RenderRequest) (string, <-chan renderResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan renderResult, 1)

	go func() {
		manifest, err := c.render(attemptCtx, req)
		done <- renderResult{manifest: manifest, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && ctx.Err() == nil &&
			errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", nil, &fluxerr.RenderTimeoutError{Path: req.Chart.String(), Timeout: c.timeout}
		}

		return result.manifest, nil, result.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return "", done, fmt.Errorf("render %s: %w", req.Chart.String(), ctx.Err())
		}

		return "", done, &fluxerr.RenderTimeoutError{Path: req.Chart.String(), Timeout: c.timeout}
	}
}

// awaitAbandoned waits up to one timeout period for an abandoned attempt.
func (c *Client) awaitAbandoned(ctx context.Context, pending <-chan renderResult) bool {
	if pending == nil {
		return true
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-pending:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Client) renderOnce(ctx context.Context, req RenderRequest) (string, error) {
	install := helmv4action.NewInstall(new(helmv4action.Configuration))
	install.DryRunStrategy = helmv4action.DryRunClient
	install.Replace = true
	install.IncludeCRDs = true
	install.ReleaseName = req.ReleaseName
	install.Namespace = req.Namespace
	install.Version = req.Chart.Version
	install.APIVersions = helmv4common.VersionSet(req.APIVersions)
	install.SetRegistryClient(c.registryClient)

	chart, err := c.locateAndLoadChart(install, req.Chart)
	if err != nil {
		return "", err
	}

	if len(req.Chart.ValuesFiles) > 0 {
		chart.Values, err = MergeValuesFiles(chartFiles(chart), req.Chart.ValuesFiles)
		if err != nil {
			return "", fmt.Errorf("chart %s: %w", req.Chart.String(), err)
		}
	}

	releaser, err := install.RunWithContext(ctx, chart, req.Values)
	if err != nil {
		return "", fmt.Errorf("render chart %s: %w", req.Chart.String(), err)
	}

	rel, ok := releaser.(*v1.Release)
	if !ok {
		return "", fmt.Errorf("%w: %T", errUnexpectedRelease, releaser)
	}

	return releaseManifest(rel), nil
}

func (c *Client) locateAndLoadChart(
	install *helmv4action.Install,
	spec ChartSpec,
) (*chartv2.Chart, error) {
	if spec.Path != "" {
		return c.loadWithDependencies(spec.Path)
	}

	install.ChartPathOptions.RepoURL = spec.RepoURL

	located, err := install.ChartPathOptions.LocateChart(spec.Name, c.settings)
	if err != nil {
		return nil, fmt.Errorf("locate chart %s: %w", spec.String(), err)
	}

	return loadChart(located)
}

// loadWithDependencies loads the local chart at chartPath while holding its
// lock, building missing dependencies first unless a concurrent render
// already did.
func (c *Client) loadWithDependencies(chartPath string) (*chartv2.Chart, error) {
	unlock := c.lockChart(chartPath)
	defer unlock()

	chart, err := loadChart(chartPath)
	if err != nil {
		return nil, err
	}

	if !missingDependencies(chart) {
		return chart, nil
	}

	c.logger.Debugw("building chart dependencies", "chart", chartPath)

	err = c.buildDependencies(chartPath)
	if err != nil {
		return nil, err
	}

	return loadChart(chartPath)
}

func (c *Client) lockChart(chartPath string) func() {
	key := filepath.Clean(chartPath)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	value, _ := c.depLocks.LoadOrStore(key, &sync.Mutex{})
	mu, _ := value.(*sync.Mutex)
	mu.Lock()

	return mu.Unlock
}

func loadChart(path string) (*chartv2.Chart, error) {
	charter, err := helmv4loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load chart %s: %w", path, err)
	}

	chart, ok := charter.(*chartv2.Chart)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errUnexpectedChart, charter)
	}

	return chart, nil
}

func chartFiles(chart *chartv2.Chart) map[string][]byte {
	files := make(map[string][]byte, len(chart.Raw))
	for _, file := range chart.Raw {
		files[file.Name] = file.Data
	}

	return files
}

func missingDependencies(chart *chartv2.Chart) bool {
	if chart.Metadata == nil || len(chart.Metadata.Dependencies) == 0 {
		return false
	}

	vendored := make(map[string]struct{}, len(chart.Dependencies()))
	for _, dep := range chart.Dependencies() {
		vendored[dep.Name()] = struct{}{}
	}

	for _, dep := range chart.Metadata.Dependencies {
		if _, ok := vendored[dep.Name]; !ok {
			return true
		}
	}

	return false
}

func (c *Client) buildDependencies(chartPath string) error {
	manager := &helmv4downloader.Manager{
		Out:              io.Discard,
		ChartPath:        chartPath,
		SkipUpdate:       false,
		Getters:          helmv4getter.All(c.settings),
		RegistryClient:   c.registryClient,
		RepositoryConfig: c.settings.RepositoryConfig,
		RepositoryCache:  c.settings.RepositoryCache,
		ContentCache:     c.settings.ContentCache,
	}

	err := manager.Build()
	if err != nil {
		return fmt.Errorf("build dependencies of chart %s: %w", chartPath, err)
	}

	return nil
}

func releaseManifest(rel *v1.Release) string {
	var builder strings.Builder

	builder.WriteString(rel.Manifest)

	for _, hook := range rel.Hooks {
		if hook == nil || strings.TrimSpace(hook.Manifest) == "" {
			continue
		}

		if builder.Len() > 0 && !strings.HasSuffix(builder.String(), "\n") {
			builder.WriteString("\n")
		}

		fmt.Fprintf(&builder, "---\n# Source: %s\n%s\n", hook.Path, strings.TrimSpace(hook.Manifest))
	}

	return builder.String()
}

// BuildDependencies runs a dependency build for every chart below root whose
// Chart.yaml declares dependencies. Unparseable Chart.yaml files are skipped.
func (c *Client) BuildDependencies(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("build chart dependencies: %w", ctxErr)
		}

		if entry.IsDir() || entry.Name() != "Chart.yaml" {
			return nil
		}

		data, err := os.ReadFile(path) //nolint:gosec // path comes from walking root
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var metadata chartv2.Metadata

		err = yaml.Unmarshal(data, &metadata)
		if err != nil {
			c.logger.Warnw("skipping invalid Chart.yaml", "path", path, "error", err)

			return nil
		}

		if len(metadata.Dependencies) == 0 {
			return nil
		}

		c.logger.Infow("building chart dependencies",
			"chart", metadata.Name, "dependencies", len(metadata.Dependencies))

		unlock := c.lockChart(filepath.Dir(path))
		defer unlock()

		return c.buildDependencies(filepath.Dir(path))
	})
}
