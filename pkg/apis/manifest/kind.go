package manifest

import (
	"fmt"
	"strings"
)

// ResourceKind selects which Flux objects a build expands.
type ResourceKind string

const (
	// ResourceKindKustomization expands Flux Kustomizations into their rendered objects.
	ResourceKindKustomization ResourceKind = "Kustomization"
	// ResourceKindHelmRelease renders the charts of Flux HelmReleases.
	ResourceKindHelmRelease ResourceKind = "HelmRelease"
)

// ValidResourceKinds returns the supported resource kinds.
func ValidResourceKinds() []ResourceKind {
	return []ResourceKind{ResourceKindKustomization, ResourceKindHelmRelease}
}

// ParseResourceKind accepts the kind name, its lowercase plural, or the short
// names ks and hr.
func ParseResourceKind(value string) (ResourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "kustomization", "kustomizations", "ks":
		return ResourceKindKustomization, nil
	case "helmrelease", "helmreleases", "hr":
		return ResourceKindHelmRelease, nil
	default:
		return "", fmt.Errorf(
			"%w: %q (valid options: %s, %s)",
			ErrInvalidResourceKind,
			value,
			ResourceKindKustomization,
			ResourceKindHelmRelease,
		)
	}
}

// Set for ResourceKind (pflag.Value interface).
func (k *ResourceKind) Set(value string) error {
	parsed, err := ParseResourceKind(value)
	if err != nil {
		return err
	}

	*k = parsed

	return nil
}

// String returns the string representation of the ResourceKind.
func (k *ResourceKind) String() string {
	return string(*k)
}

// Type returns the type of the ResourceKind.
func (k *ResourceKind) Type() string {
	return "ResourceKind"
}

// ValidValues returns all valid ResourceKind values as strings.
func (k *ResourceKind) ValidValues() []string {
	return []string{string(ResourceKindKustomization), string(ResourceKindHelmRelease)}
}

// SourceKind is the kind of a Flux source a Kustomization or HelmRelease points at.
type SourceKind string

const (
	SourceKindGitRepository  SourceKind = "GitRepository"
	SourceKindOCIRepository  SourceKind = "OCIRepository"
	SourceKindHelmRepository SourceKind = "HelmRepository"
	SourceKindBucket         SourceKind = "Bucket"
)

// IsLocal reports whether sources of this kind are mapped to directories.
func (k SourceKind) IsLocal() bool {
	switch k {
	case SourceKindGitRepository, SourceKindOCIRepository, SourceKindBucket:
		return true
	case SourceKindHelmRepository:
		return false
	default:
		return false
	}
}
