package oci

import "errors"

// Pull errors.
var (
	// ErrEmptyURL indicates a reference without a repository URL.
	ErrEmptyURL = errors.New("oci: repository url is required")
	// ErrUnsupportedScheme indicates a repository URL not using oci://.
	ErrUnsupportedScheme = errors.New("oci: repository url must use the oci:// scheme")
	// ErrSemVerUnresolved indicates a semver range that was not resolved to a tag.
	ErrSemVerUnresolved = errors.New("oci: semver range has not been resolved to a tag")
	// ErrInvalidSemVer indicates a semver range that does not parse.
	ErrInvalidSemVer = errors.New("oci: invalid semver range")
	// ErrNoMatchingTag indicates no tag of the repository satisfies the semver range.
	ErrNoMatchingTag = errors.New("oci: no tag matches the semver range")
	// ErrArtifactNotFound indicates the registry has no artifact for the reference.
	ErrArtifactNotFound = errors.New("oci: artifact not found")
	// ErrAuthRequired indicates the registry rejected anonymous or keychain credentials.
	ErrAuthRequired = errors.New("oci: registry requires authentication")
	// ErrUnsafeArchivePath indicates an archive entry escaping the destination.
	ErrUnsafeArchivePath = errors.New("oci: archive entry escapes destination")
	// ErrNoLayers indicates an artifact without content layers.
	ErrNoLayers = errors.New("oci: artifact has no layers")
)
