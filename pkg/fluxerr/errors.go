// Package fluxerr defines the closed set of failures a build-and-diff run can
// end with. Every error returned to the command line unwraps to exactly one
// of the sentinel categories below.
package fluxerr

import (
	"errors"
	"fmt"
	"time"
)

// Category classifies a failure.
type Category int

const (
	// CategoryUnknown is returned for errors outside the taxonomy.
	CategoryUnknown Category = iota
	// CategoryConfig marks invalid command line or configuration input.
	CategoryConfig
	// CategoryBuild marks a kustomize, template or chart render failure.
	CategoryBuild
	// CategoryUnresolvedSource marks a reference to a source missing from the mapping.
	CategoryUnresolvedSource
	// CategoryRenderTimeout marks a chart render that exceeded its deadline.
	CategoryRenderTimeout
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "ConfigError"
	case CategoryBuild:
		return "BuildError"
	case CategoryUnresolvedSource:
		return "UnresolvedSourceError"
	case CategoryRenderTimeout:
		return "RenderTimeoutError"
	case CategoryUnknown:
		return "UnknownError"
	default:
		return "UnknownError"
	}
}

var (
	// ErrConfig is the sentinel for CategoryConfig.
	ErrConfig = errors.New("invalid configuration")
	// ErrBuild is the sentinel for CategoryBuild.
	ErrBuild = errors.New("build failed")
	// ErrUnresolvedSource is the sentinel for CategoryUnresolvedSource.
	ErrUnresolvedSource = errors.New("unresolved source")
	// ErrRenderTimeout is the sentinel for CategoryRenderTimeout.
	ErrRenderTimeout = errors.New("render timed out")
)

// CategoryOf returns the most specific category found in err's chain.
// A render timeout that was escalated to a build error reports CategoryBuild.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrConfig):
		return CategoryConfig
	case errors.Is(err, ErrUnresolvedSource):
		return CategoryUnresolvedSource
	case errors.Is(err, ErrBuild):
		return CategoryBuild
	case errors.Is(err, ErrRenderTimeout):
		return CategoryRenderTimeout
	default:
		return CategoryUnknown
	}
}

// ConfigError reports bad user input.
type ConfigError struct {
	Message string
	Err     error
}

// NewConfigError formats a ConfigError.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}

	return e.Message
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfig}
	}

	return []error{ErrConfig, e.Err}
}

// BuildError reports a failure to produce manifests for Path.
type BuildError struct {
	Path string
	Err  error
}

// NewBuildError wraps err with the path that failed to build.
func NewBuildError(path string, err error) *BuildError {
	return &BuildError{Path: path, Err: err}
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Path, e.Err)
}

func (e *BuildError) Unwrap() []error {
	return []error{ErrBuild, e.Err}
}

// UnresolvedSourceError reports a source name that is not in the mapping.
type UnresolvedSourceError struct {
	Kind      string
	Name      string
	Namespace string
}

func (e *UnresolvedSourceError) Error() string {
	ref := e.Name
	if e.Namespace != "" {
		ref = e.Namespace + "/" + e.Name
	}

	if e.Kind != "" {
		ref = e.Kind + " " + ref
	}

	return fmt.Sprintf("source %s is not mapped to a local path; add it to --sources", ref)
}

func (e *UnresolvedSourceError) Unwrap() error {
	return ErrUnresolvedSource
}

// RenderTimeoutError reports a chart render exceeding Timeout.
type RenderTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("rendering %s did not finish within %s", e.Path, e.Timeout)
}

func (e *RenderTimeoutError) Unwrap() error {
	return ErrRenderTimeout
}
