package manifest

import "errors"

var (
	// ErrDuplicateKey is returned when a ManifestSet already holds an object with the same key.
	ErrDuplicateKey = errors.New("duplicate resource")
	// ErrInvalidResourceKind is returned for an unknown resource kind argument.
	ErrInvalidResourceKind = errors.New("invalid resource kind")
	// ErrMissingTypeMeta is returned for a document without apiVersion or kind.
	ErrMissingTypeMeta = errors.New("document has no apiVersion or kind")
)
