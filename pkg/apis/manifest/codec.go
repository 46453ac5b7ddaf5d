package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

// Decode splits multi-document YAML and returns one object per non-empty
// document. Documents without apiVersion or kind are reported with
// ErrMissingTypeMeta unless skipUntyped is set, in which case they are dropped.
func Decode(data []byte, skipUntyped bool) ([]*unstructured.Unstructured, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))

	var objects []*unstructured.Unstructured

	for index := 0; ; index++ {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return objects, nil
		}

		if err != nil {
			return nil, fmt.Errorf("read document %d: %w", index, err)
		}

		obj, err := decodeDocument(doc)
		if err != nil {
			if skipUntyped && errors.Is(err, ErrMissingTypeMeta) {
				continue
			}

			return nil, fmt.Errorf("decode document %d: %w", index, err)
		}

		if obj != nil {
			objects = append(objects, obj)
		}
	}
}

func decodeDocument(doc []byte) (*unstructured.Unstructured, error) {
	jsonBytes, err := yaml.YAMLToJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml to json: %w", err)
	}

	trimmed := bytes.TrimSpace(jsonBytes)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil //nolint:nilnil // empty document
	}

	if trimmed[0] != '{' {
		return nil, ErrMissingTypeMeta
	}

	var content map[string]any

	err = utiljson.Unmarshal(trimmed, &content)
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}

	obj := &unstructured.Unstructured{Object: content}
	if obj.GetAPIVersion() == "" || obj.GetKind() == "" {
		return nil, ErrMissingTypeMeta
	}

	return obj, nil
}

// Encode serializes obj as YAML with map keys in lexicographic order.
func Encode(obj *unstructured.Unstructured) ([]byte, error) {
	out, err := yaml.Marshal(obj.Object)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", KeyOf(obj), err)
	}

	return out, nil
}

// EncodeSet writes every manifest of set as a YAML stream separated by "---".
func EncodeSet(set *ManifestSet) ([]byte, error) {
	var buf bytes.Buffer

	for i, m := range set.Items() {
		if i > 0 {
			buf.WriteString("---\n")
		}

		out, err := Encode(m.Object)
		if err != nil {
			return nil, err
		}

		buf.Write(out)
	}

	return buf.Bytes(), nil
}
