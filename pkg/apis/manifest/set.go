package manifest

import (
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Manifest is a rendered object together with where it came from.
type Manifest struct {
	Key    ResourceKey
	Object *unstructured.Unstructured
	// Source is the file or directory the object was built from.
	Source string
	// Owner names the Flux object that declared it, e.g. "Kustomization flux-system/apps".
	Owner string
}

// NewManifest wraps obj and derives its key.
func NewManifest(obj *unstructured.Unstructured, source, owner string) *Manifest {
	return &Manifest{Key: KeyOf(obj), Object: obj, Source: source, Owner: owner}
}

// ManifestSet is an ordered collection of manifests with unique keys.
// The zero value is ready to use.
type ManifestSet struct {
	items []*Manifest
	index map[ResourceKey]int
}

// NewManifestSet returns an empty set.
func NewManifestSet() *ManifestSet {
	return &ManifestSet{}
}

// Add appends m. A second manifest with the same key is rejected with ErrDuplicateKey.
func (s *ManifestSet) Add(m *Manifest) error {
	if s.index == nil {
		s.index = make(map[ResourceKey]int)
	}

	if i, ok := s.index[m.Key]; ok {
		return fmt.Errorf(
			"%w: %s from %s conflicts with %s",
			ErrDuplicateKey,
			m.Key,
			describe(m),
			describe(s.items[i]),
		)
	}

	s.index[m.Key] = len(s.items)
	s.items = append(s.items, m)

	return nil
}

// Merge adds every manifest of other in order.
func (s *ManifestSet) Merge(other *ManifestSet) error {
	for _, m := range other.Items() {
		if err := s.Add(m); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the manifest stored under key.
func (s *ManifestSet) Get(key ResourceKey) (*Manifest, bool) {
	if s == nil {
		return nil, false
	}

	i, ok := s.index[key]
	if !ok {
		return nil, false
	}

	return s.items[i], true
}

// Len returns the number of manifests.
func (s *ManifestSet) Len() int {
	if s == nil {
		return 0
	}

	return len(s.items)
}

// Items returns the manifests in insertion order.
func (s *ManifestSet) Items() []*Manifest {
	if s == nil {
		return nil
	}

	return slices.Clone(s.items)
}

// Keys returns all keys sorted with ResourceKey.Compare.
func (s *ManifestSet) Keys() []ResourceKey {
	if s == nil {
		return nil
	}

	keys := make([]ResourceKey, 0, len(s.items))
	for _, m := range s.items {
		keys = append(keys, m.Key)
	}

	slices.SortFunc(keys, ResourceKey.Compare)

	return keys
}

func describe(m *Manifest) string {
	switch {
	case m.Owner != "" && m.Source != "":
		return m.Owner + " (" + m.Source + ")"
	case m.Owner != "":
		return m.Owner
	case m.Source != "":
		return m.Source
	default:
		return "unknown origin"
	}
}
