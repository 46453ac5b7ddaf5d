package helm

import (
	"errors"
	"fmt"
	"maps"
	"path"
	"strings"

	helmv4strvals "helm.sh/helm/v4/pkg/strvals"
	"sigs.k8s.io/yaml"
)

// ErrValuesFileNotFound is returned when a values file is absent from the chart.
var ErrValuesFileNotFound = errors.New("helm: values file not found in chart")

// MergeValues deep-merges src into dst and returns dst. Nested maps merge
// key by key; any other src value replaces the dst value. A nil dst is
// allocated.
func MergeValues(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}

	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)

		if srcIsMap && dstIsMap {
			dst[key] = MergeValues(dstMap, srcMap)

			continue
		}

		if srcIsMap {
			dst[key] = MergeValues(nil, srcMap)

			continue
		}

		dst[key] = value
	}

	return dst
}

// SetAtPath stores value at the dotted Helm path inside values.
func SetAtPath(values map[string]any, targetPath, value string) error {
	err := helmv4strvals.ParseInto(targetPath+"="+value, values)
	if err != nil {
		return fmt.Errorf("set values at %q: %w", targetPath, err)
	}

	return nil
}

// ParseValues decodes a YAML document into a values map. Empty input
// yields an empty map.
func ParseValues(data []byte) (map[string]any, error) {
	values := map[string]any{}

	err := yaml.Unmarshal(data, &values)
	if err != nil {
		return nil, fmt.Errorf("parse values: %w", err)
	}

	if values == nil {
		values = map[string]any{}
	}

	return values, nil
}

// MergeValuesFiles merges the named entries of files in order. Names are
// relative to the chart root.
func MergeValuesFiles(files map[string][]byte, names []string) (map[string]any, error) {
	merged := map[string]any{}

	for _, name := range names {
		data, ok := files[path.Clean(strings.TrimPrefix(name, "./"))]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrValuesFileNotFound, name)
		}

		values, err := ParseValues(data)
		if err != nil {
			return nil, fmt.Errorf("values file %s: %w", name, err)
		}

		merged = MergeValues(merged, values)
	}

	return merged, nil
}

// CloneValues returns a deep copy of values.
func CloneValues(values map[string]any) map[string]any {
	clone := make(map[string]any, len(values))
	maps.Copy(clone, values)

	for key, value := range clone {
		if nested, ok := value.(map[string]any); ok {
			clone[key] = CloneValues(nested)
		}
	}

	return clone
}
