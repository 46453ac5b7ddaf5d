package builder

import (
	"fmt"
	"os"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/fsutil"
	kustomizev1 "github.com/fluxcd/kustomize-controller/api/v1"
	helmv2 "github.com/fluxcd/helm-controller/api/v2"
	sourcev1 "github.com/fluxcd/source-controller/api/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// discovered is an object read from a file below the build root.
type discovered struct {
	object *unstructured.Unstructured
	file   string
}

// discover decodes every YAML file below root. Files that are not valid
// Kubernetes YAML are skipped.
func (b *Builder) discover(root string) ([]discovered, error) {
	files, err := fsutil.WalkYAML(root)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}

	var found []discovered

	for _, file := range files {
		data, readErr := os.ReadFile(file) //nolint:gosec // file comes from walking root
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", file, readErr)
		}

		objects, decodeErr := manifest.Decode(data, true)
		if decodeErr != nil {
			b.logger.Debugw("skipping unparseable file", "file", file, "error", decodeErr)

			continue
		}

		for _, obj := range objects {
			found = append(found, discovered{object: obj, file: file})
		}
	}

	return found, nil
}

func isGroupKind(obj *unstructured.Unstructured, group, kind string) bool {
	gvk := obj.GroupVersionKind()

	return gvk.Group == group && gvk.Kind == kind
}

func isKustomization(obj *unstructured.Unstructured) bool {
	return isGroupKind(obj, kustomizev1.GroupVersion.Group, kustomizev1.KustomizationKind)
}

func isHelmRelease(obj *unstructured.Unstructured) bool {
	return isGroupKind(obj, helmv2.GroupVersion.Group, helmv2.HelmReleaseKind)
}

func isSource(obj *unstructured.Unstructured) bool {
	gvk := obj.GroupVersionKind()
	if gvk.Group != sourcev1.GroupVersion.Group {
		return false
	}

	switch gvk.Kind {
	case sourcev1.GitRepositoryKind, sourcev1.OCIRepositoryKind, sourcev1.HelmRepositoryKind, sourcev1.BucketKind:
		return true
	default:
		return false
	}
}

func isConfigData(obj *unstructured.Unstructured) bool {
	gvk := obj.GroupVersionKind()

	return gvk.Group == "" && (gvk.Kind == "ConfigMap" || gvk.Kind == "Secret")
}

// objectKey identifies an object by group, kind, namespace and name.
type objectKey struct {
	groupKind schema.GroupKind
	namespace string
	name      string
}

func keyFor(groupKind schema.GroupKind, namespace, name string) objectKey {
	return objectKey{groupKind: groupKind, namespace: namespace, name: name}
}

func keyOf(obj *unstructured.Unstructured) objectKey {
	return keyFor(obj.GroupVersionKind().GroupKind(), obj.GetNamespace(), obj.GetName())
}

// objectIndex holds the ConfigMaps, Secrets and sources seen so far. Later
// definitions replace earlier ones.
type objectIndex map[objectKey]*unstructured.Unstructured

func (idx objectIndex) record(obj *unstructured.Unstructured) {
	if isConfigData(obj) || isSource(obj) {
		idx[keyOf(obj)] = obj
	}
}

func (idx objectIndex) get(groupKind schema.GroupKind, namespace, name string) (*unstructured.Unstructured, bool) {
	obj, ok := idx[keyFor(groupKind, namespace, name)]

	return obj, ok
}

func ownerName(kind, namespace, name string) string {
	if namespace == "" {
		return kind + " " + name
	}

	return kind + " " + namespace + "/" + name
}
