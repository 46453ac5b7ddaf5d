package oci

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-containerregistry/pkg/name"
)

const (
	// Scheme is the URL scheme of OCIRepository and OCI HelmRepository sources.
	Scheme = "oci://"

	defaultTag = "latest"
)

// Reference selects one artifact of an OCI repository. Digest wins over
// SemVer, which wins over Tag.
type Reference struct {
	URL    string
	Tag    string
	SemVer string
	Digest string
}

// Version returns the digest, semver range or tag the reference pins,
// falling back to "latest".
func (r Reference) Version() string {
	switch {
	case r.Digest != "":
		return r.Digest
	case r.SemVer != "":
		return r.SemVer
	case r.Tag != "":
		return r.Tag
	default:
		return defaultTag
	}
}

// Repository returns the registry repository of r without scheme.
func (r Reference) Repository() (string, error) {
	if strings.TrimSpace(r.URL) == "" {
		return "", ErrEmptyURL
	}

	if !strings.HasPrefix(r.URL, Scheme) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, r.URL)
	}

	return strings.TrimSuffix(strings.TrimPrefix(r.URL, Scheme), "/"), nil
}

// VersionedURL returns the registry reference without scheme, suffixed with
// the digest (repo@sha256:...) or tag (repo:tag). A semver range must be
// resolved with SelectTag first.
func (r Reference) VersionedURL() (string, error) {
	repository, err := r.Repository()
	if err != nil {
		return "", err
	}

	switch {
	case r.Digest != "":
		return repository + "@" + r.Digest, nil
	case r.SemVer != "":
		return "", fmt.Errorf("%w: %s", ErrSemVerUnresolved, r.SemVer)
	case r.Tag != "":
		return repository + ":" + r.Tag, nil
	default:
		return repository + ":" + defaultTag, nil
	}
}

// SelectTag returns the highest tag satisfying the semver range. Tags that
// are not semantic versions are ignored.
func SelectTag(tags []string, semverRange string) (string, error) {
	constraint, err := semver.NewConstraint(semverRange)
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidSemVer, semverRange, err)
	}

	var (
		best    *semver.Version
		bestTag string
	)

	for _, tag := range tags {
		version, parseErr := semver.NewVersion(tag)
		if parseErr != nil || !constraint.Check(version) {
			continue
		}

		if best == nil || version.GreaterThan(best) {
			best, bestTag = version, tag
		}
	}

	if best == nil {
		return "", fmt.Errorf("%w %q", ErrNoMatchingTag, semverRange)
	}

	return bestTag, nil
}

// String renders the reference the way it appears in logs.
func (r Reference) String() string {
	return r.URL + "@" + r.Version()
}

func (r Reference) parse(insecure bool) (name.Reference, error) {
	versioned, err := r.VersionedURL()
	if err != nil {
		return nil, err
	}

	opts := []name.Option{name.WeakValidation}
	if insecure {
		opts = append(opts, name.Insecure)
	}

	ref, err := name.ParseReference(versioned, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse reference %s: %w", versioned, err)
	}

	return ref, nil
}
