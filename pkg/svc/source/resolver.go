// Package source maps Flux source names to local directories.
package source

import (
	"errors"
	"slices"
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/fluxerr"
	"github.com/devantler-tech/fluxdiff/pkg/fsutil"
	meta "github.com/fluxcd/pkg/apis/meta"
)

// DefaultSourceName is the source every bootstrapped cluster syncs from.
const DefaultSourceName = "flux-system"

// SourceRef is a source name bound to a local checkout.
type SourceRef struct {
	Name      string
	Kind      manifest.SourceKind
	LocalPath string
}

// Mapping is the result of Resolve. It is immutable.
type Mapping struct {
	workspace string
	refs      map[string]SourceRef
	order     []string
}

// Resolve parses a comma-separated list of name or name=path tokens.
//
// Relative paths are resolved against workspace and must stay inside it. A
// bare name, and defaultSourceName when it is not listed, map to workspace.
// Malformed tokens, duplicates, escaping paths and paths that are not
// existing directories yield a ConfigError.
func Resolve(spec, defaultSourceName, workspace string) (*Mapping, error) {
	root, err := fsutil.ExpandHomePath(workspace)
	if err != nil {
		return nil, &fluxerr.ConfigError{Message: "workspace " + workspace, Err: err}
	}

	err = fsutil.EnsureDir(root)
	if err != nil {
		return nil, &fluxerr.ConfigError{Message: "workspace " + workspace, Err: err}
	}

	mapping := &Mapping{workspace: root, refs: map[string]SourceRef{}}

	for token := range strings.SplitSeq(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		ref, parseErr := parseToken(token, root)
		if parseErr != nil {
			return nil, parseErr
		}

		if _, exists := mapping.refs[ref.Name]; exists {
			return nil, fluxerr.NewConfigError("source %q is listed more than once in --sources", ref.Name)
		}

		mapping.add(ref)
	}

	if defaultSourceName != "" {
		if _, exists := mapping.refs[defaultSourceName]; !exists {
			mapping.add(SourceRef{Name: defaultSourceName, Kind: manifest.SourceKindGitRepository, LocalPath: root})
		}
	}

	return mapping, nil
}

func parseToken(token, root string) (SourceRef, error) {
	name, path, hasPath := strings.Cut(token, "=")
	name = strings.TrimSpace(name)
	path = strings.TrimSpace(path)

	switch {
	case name == "":
		return SourceRef{}, fluxerr.NewConfigError("source %q has an empty name", token)
	case strings.Contains(path, "="):
		return SourceRef{}, fluxerr.NewConfigError("source %q must have the form name or name=path", token)
	case hasPath && path == "":
		return SourceRef{}, fluxerr.NewConfigError("source %q has an empty path", token)
	case !hasPath:
		return SourceRef{Name: name, Kind: manifest.SourceKindGitRepository, LocalPath: root}, nil
	}

	resolved, err := fsutil.ResolveWithin(root, path)
	if err != nil {
		if errors.Is(err, fsutil.ErrPathOutsideBase) {
			return SourceRef{}, fluxerr.NewConfigError("source %q points outside the workspace %s", name, root)
		}

		return SourceRef{}, &fluxerr.ConfigError{Message: "source " + name, Err: err}
	}

	err = fsutil.EnsureDir(resolved)
	if err != nil {
		return SourceRef{}, &fluxerr.ConfigError{Message: "source " + name, Err: err}
	}

	return SourceRef{Name: name, Kind: manifest.SourceKindGitRepository, LocalPath: resolved}, nil
}

func (m *Mapping) add(ref SourceRef) {
	m.refs[ref.Name] = ref
	m.order = append(m.order, ref.Name)
}

// Workspace returns the directory relative paths were resolved against.
func (m *Mapping) Workspace() string {
	return m.workspace
}

// Names returns the mapped source names in declaration order.
func (m *Mapping) Names() []string {
	return slices.Clone(m.order)
}

// Lookup resolves a Flux source reference. Only the name selects the entry;
// the returned SourceRef carries the kind of ref. A missing name, or a kind
// that never has a local directory, yields an UnresolvedSourceError.
func (m *Mapping) Lookup(ref meta.NamespacedObjectKindReference) (SourceRef, error) {
	found, ok := m.refs[ref.Name]
	if !ok || (ref.Kind != "" && !manifest.SourceKind(ref.Kind).IsLocal()) {
		return SourceRef{}, &fluxerr.UnresolvedSourceError{Kind: ref.Kind, Namespace: ref.Namespace, Name: ref.Name}
	}

	if ref.Kind != "" {
		found.Kind = manifest.SourceKind(ref.Kind)
	}

	return found, nil
}

// WithSource returns a copy of m that also maps ref. Existing names win.
func (m *Mapping) WithSource(ref SourceRef) *Mapping {
	clone := &Mapping{workspace: m.workspace, refs: make(map[string]SourceRef, len(m.refs)+1)}
	for _, name := range m.order {
		clone.add(m.refs[name])
	}

	if _, exists := clone.refs[ref.Name]; !exists {
		clone.add(ref)
	}

	return clone
}
