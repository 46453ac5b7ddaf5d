// Package normalize prepares rendered manifests for a stable comparison.
package normalize

import (
	"slices"
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// DefaultStripAttrs are labels and annotations that change on every chart
// release without changing the workload.
var DefaultStripAttrs = []string{ //nolint:gochecknoglobals // read-only defaults
	"helm.sh/chart",
	"checksum/config",
	"app.kubernetes.io/version",
	"chart",
}

// Options controls normalization.
type Options struct {
	// StripAttrs are label and annotation keys removed by exact match.
	StripAttrs []string
	// SkipSecrets replaces every Secret with an identity placeholder.
	SkipSecrets bool
	// SkipCRDs replaces every CustomResourceDefinition with an identity placeholder.
	SkipCRDs bool
}

// ParseStripAttrs splits a comma-separated list, dropping blanks and duplicates.
func ParseStripAttrs(csv string) []string {
	var attrs []string

	for attr := range strings.SplitSeq(csv, ",") {
		attr = strings.TrimSpace(attr)
		if attr != "" && !slices.Contains(attrs, attr) {
			attrs = append(attrs, attr)
		}
	}

	return attrs
}

// Normalize returns a new set in which every object has been cleaned
// according to opts. The input set and its objects are left untouched.
// Applying Normalize to its own output yields an identical set.
func Normalize(set *manifest.ManifestSet, opts Options) *manifest.ManifestSet {
	out := manifest.NewManifestSet()

	for _, m := range set.Items() {
		obj := Object(m.Object, opts)

		// Keys are unchanged by normalization, so Add cannot collide.
		_ = out.Add(&manifest.Manifest{Key: m.Key, Object: obj, Source: m.Source, Owner: m.Owner})
	}

	return out
}

// Object returns a normalized deep copy of obj.
func Object(obj *unstructured.Unstructured, opts Options) *unstructured.Unstructured {
	if (opts.SkipSecrets && IsSecret(obj)) || (opts.SkipCRDs && IsCRD(obj)) {
		return Placeholder(obj)
	}

	clone := obj.DeepCopy()
	stripMetadata(clone, opts.StripAttrs)

	return clone
}

// IsSecret reports whether obj is a core Secret.
func IsSecret(obj *unstructured.Unstructured) bool {
	gvk := obj.GroupVersionKind()

	return gvk.Group == corev1.GroupName && gvk.Kind == "Secret"
}

// IsCRD reports whether obj is a CustomResourceDefinition.
func IsCRD(obj *unstructured.Unstructured) bool {
	gvk := obj.GroupVersionKind()

	return gvk.GroupKind() == schema.GroupKind{Group: apiextensionsv1.GroupName, Kind: "CustomResourceDefinition"}
}

// Placeholder keeps only the identity of obj so that presence and absence
// still show up in a diff while the body never does.
func Placeholder(obj *unstructured.Unstructured) *unstructured.Unstructured {
	metadata := map[string]any{"name": obj.GetName()}
	if ns := obj.GetNamespace(); ns != "" {
		metadata["namespace"] = ns
	}

	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": obj.GetAPIVersion(),
		"kind":       obj.GetKind(),
		"metadata":   metadata,
	}}
}

// podTemplatePaths locate embedded pod template metadata, where chart
// checksums usually live.
var podTemplatePaths = [][]string{ //nolint:gochecknoglobals // read-only table
	{"spec", "template", "metadata"},
	{"spec", "jobTemplate", "spec", "template", "metadata"},
}

func stripMetadata(obj *unstructured.Unstructured, attrs []string) {
	if len(attrs) == 0 {
		return
	}

	if metadata, ok := obj.Object["metadata"].(map[string]any); ok {
		stripAttrs(metadata, attrs)
	}

	for _, path := range podTemplatePaths {
		metadata, found, err := unstructured.NestedFieldNoCopy(obj.Object, path...)
		if err != nil || !found {
			continue
		}

		if m, ok := metadata.(map[string]any); ok {
			stripAttrs(m, attrs)
		}
	}
}

func stripAttrs(metadata map[string]any, attrs []string) {
	for _, field := range []string{"labels", "annotations"} {
		values, ok := metadata[field].(map[string]any)
		if !ok {
			continue
		}

		for _, attr := range attrs {
			delete(values, attr)
		}

		if len(values) == 0 {
			delete(metadata, field)
		}
	}
}
