// Package manifest models rendered Kubernetes objects.
//
// A ResourceKey identifies an object by apiVersion, kind, namespace and name.
// A ManifestSet holds rendered objects in discovery order and rejects
// duplicate keys. Objects are decoded from multi-document YAML into
// unstructured.Unstructured values and serialized back with sorted keys.
package manifest
