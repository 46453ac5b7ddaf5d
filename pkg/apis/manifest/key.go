package manifest

import (
	"cmp"
	"path"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ResourceKey identifies a rendered object.
type ResourceKey struct {
	APIVersion string
	Kind       string
	Namespace  string
	Name       string
}

// KeyOf returns the key of obj.
func KeyOf(obj *unstructured.Unstructured) ResourceKey {
	return ResourceKey{
		APIVersion: obj.GetAPIVersion(),
		Kind:       obj.GetKind(),
		Namespace:  obj.GetNamespace(),
		Name:       obj.GetName(),
	}
}

// Compare orders keys by kind, namespace, name and finally apiVersion.
func (k ResourceKey) Compare(other ResourceKey) int {
	return cmp.Or(
		cmp.Compare(k.Kind, other.Kind),
		cmp.Compare(k.Namespace, other.Namespace),
		cmp.Compare(k.Name, other.Name),
		cmp.Compare(k.APIVersion, other.APIVersion),
	)
}

// Path renders the key as <apiVersion>/<Kind>/[<namespace>/]<name>.
func (k ResourceKey) Path() string {
	if k.Namespace == "" {
		return path.Join(k.APIVersion, k.Kind, k.Name)
	}

	return path.Join(k.APIVersion, k.Kind, k.Namespace, k.Name)
}

func (k ResourceKey) String() string {
	ref := k.Name
	if k.Namespace != "" {
		ref = k.Namespace + "/" + k.Name
	}

	return k.Kind + " " + ref + " (" + k.APIVersion + ")"
}
