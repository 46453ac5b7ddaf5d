package builder

import (
	"fmt"
	"maps"

	"github.com/devantler-tech/fluxdiff/pkg/apis/manifest"
	"github.com/devantler-tech/fluxdiff/pkg/envvar"
	kustomizev1 "github.com/fluxcd/kustomize-controller/api/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/kustomize/kyaml/openapi"
	kyaml "sigs.k8s.io/kustomize/kyaml/yaml"
)

const (
	// SubstituteAnnotation disables post-build substitution on an object
	// when set to SubstituteDisabled.
	SubstituteAnnotation = "kustomize.toolkit.fluxcd.io/substitute"
	// SubstituteDisabled is the value of SubstituteAnnotation that opts out.
	SubstituteDisabled = "disabled"
)

// postBuild applies targetNamespace, commonMetadata and variable
// substitution in the order kustomize-controller does.
func (e *expansion) postBuild(
	ks *kustomizev1.Kustomization,
	objects []*unstructured.Unstructured,
) ([]*unstructured.Unstructured, error) {
	if ks.Spec.TargetNamespace != "" {
		for _, obj := range objects {
			setNamespace(obj, ks.Spec.TargetNamespace, true)
		}
	}

	if meta := ks.Spec.CommonMetadata; meta != nil {
		for _, obj := range objects {
			obj.SetLabels(mergeStrings(obj.GetLabels(), meta.Labels))
			obj.SetAnnotations(mergeStrings(obj.GetAnnotations(), meta.Annotations))
		}
	}

	if ks.Spec.PostBuild == nil {
		return objects, nil
	}

	vars, err := e.substitutionVars(ks)
	if err != nil {
		return nil, err
	}

	substituted := make([]*unstructured.Unstructured, 0, len(objects))

	for _, obj := range objects {
		out, subErr := e.substitute(obj, vars)
		if subErr != nil {
			return nil, subErr
		}

		substituted = append(substituted, out)
	}

	return substituted, nil
}

// substitutionVars collects substituteFrom in order, then substitute on top.
func (e *expansion) substitutionVars(ks *kustomizev1.Kustomization) (map[string]string, error) {
	vars := map[string]string{}

	for _, ref := range ks.Spec.PostBuild.SubstituteFrom {
		data, found, err := e.configData(ref.Kind, ks.Namespace, ref.Name)
		if err != nil {
			return nil, err
		}

		if !found {
			if ref.Optional {
				continue
			}

			return nil, fmt.Errorf("postBuild.substituteFrom: %s %s/%s not found", ref.Kind, ks.Namespace, ref.Name)
		}

		maps.Copy(vars, data)
	}

	maps.Copy(vars, ks.Spec.PostBuild.Substitute)

	return vars, nil
}

func (e *expansion) substitute(obj *unstructured.Unstructured, vars map[string]string) (*unstructured.Unstructured, error) {
	if obj.GetAnnotations()[SubstituteAnnotation] == SubstituteDisabled ||
		obj.GetLabels()[SubstituteAnnotation] == SubstituteDisabled {
		return obj, nil
	}

	data, err := manifest.Encode(obj)
	if err != nil {
		return nil, err
	}

	expanded, missing := envvar.ExpandBytes(data, vars)
	if len(missing) > 0 {
		e.builder.logger.Debugw("substitution variables not set",
			"object", manifest.KeyOf(obj).String(), "variables", missing)
	}

	decoded, err := manifest.Decode(expanded, false)
	if err != nil {
		return nil, fmt.Errorf("substitute %s: %w", manifest.KeyOf(obj), err)
	}

	if len(decoded) != 1 {
		return nil, fmt.Errorf("substitute %s: expected one object, got %d", manifest.KeyOf(obj), len(decoded))
	}

	return decoded[0], nil
}

// configData returns the string data of a ConfigMap or Secret seen so far.
func (e *expansion) configData(kind, namespace, name string) (map[string]string, bool, error) {
	obj, ok := e.index.get(schema.GroupKind{Kind: kind}, namespace, name)
	if !ok {
		return nil, false, nil
	}

	switch kind {
	case "ConfigMap":
		var configMap corev1.ConfigMap

		err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &configMap)
		if err != nil {
			return nil, false, fmt.Errorf("decode ConfigMap %s/%s: %w", namespace, name, err)
		}

		data := make(map[string]string, len(configMap.Data)+len(configMap.BinaryData))
		for key, value := range configMap.BinaryData {
			data[key] = string(value)
		}

		maps.Copy(data, configMap.Data)

		return data, true, nil
	case "Secret":
		var secret corev1.Secret

		err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &secret)
		if err != nil {
			return nil, false, fmt.Errorf("decode Secret %s/%s: %w", namespace, name, err)
		}

		data := make(map[string]string, len(secret.Data)+len(secret.StringData))
		for key, value := range secret.Data {
			data[key] = string(value)
		}

		maps.Copy(data, secret.StringData)

		return data, true, nil
	default:
		return nil, false, fmt.Errorf("%w %q, expected ConfigMap or Secret", errUnsupportedSource, kind)
	}
}

// setNamespace sets the namespace of namespaced objects. Kinds unknown to
// the built-in schema are treated as namespaced. With override unset only
// objects without a namespace are changed.
func setNamespace(obj *unstructured.Unstructured, namespace string, override bool) {
	if !override && obj.GetNamespace() != "" {
		return
	}

	namespaced, known := openapi.IsNamespaceScoped(kyaml.TypeMeta{
		APIVersion: obj.GetAPIVersion(),
		Kind:       obj.GetKind(),
	})
	if known && !namespaced {
		return
	}

	obj.SetNamespace(namespace)
}

func mergeStrings(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}

	if dst == nil {
		dst = make(map[string]string, len(src))
	}

	maps.Copy(dst, src)

	return dst
}
