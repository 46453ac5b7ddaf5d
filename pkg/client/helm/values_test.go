package helm_test

import (
	"testing"

	"github.com/devantler-tech/fluxdiff/pkg/client/helm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeValues(t *testing.T) {
	t.Parallel()

	dst := map[string]any{
		"image":    map[string]any{"repository": "nginx", "tag": "1.0"},
		"replicas": 1,
		"list":     []any{"a"},
	}
	src := map[string]any{
		"image": map[string]any{"tag": "2.0"},
		"list":  []any{"b"},
		"extra": map[string]any{"enabled": true},
	}

	merged := helm.MergeValues(dst, src)

	assert.Equal(t, map[string]any{
		"image":    map[string]any{"repository": "nginx", "tag": "2.0"},
		"replicas": 1,
		"list":     []any{"b"},
		"extra":    map[string]any{"enabled": true},
	}, merged)
}

func TestMergeValuesNilDestination(t *testing.T) {
	t.Parallel()

	src := map[string]any{"nested": map[string]any{"key": "value"}}
	merged := helm.MergeValues(nil, src)

	merged["nested"].(map[string]any)["key"] = "changed"

	assert.Equal(t, "value", src["nested"].(map[string]any)["key"])
}

func TestSetAtPath(t *testing.T) {
	t.Parallel()

	values := map[string]any{"existing": "kept"}

	require.NoError(t, helm.SetAtPath(values, "auth.password", "s3cret"))

	assert.Equal(t, map[string]any{
		"existing": "kept",
		"auth":     map[string]any{"password": "s3cret"},
	}, values)
}

func TestParseValues(t *testing.T) {
	t.Parallel()

	values, err := helm.ParseValues(nil)
	require.NoError(t, err)
	assert.Empty(t, values)

	values, err = helm.ParseValues([]byte("a:\n  b: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": float64(1)}}, values)

	_, err = helm.ParseValues([]byte("- not\n- a map\n"))
	require.Error(t, err)
}

func TestMergeValuesFiles(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"values.yaml":      []byte("replicas: 1\nname: app\n"),
		"env/prod.yaml":    []byte("replicas: 3\n"),
		"templates/a.yaml": []byte("ignored: true\n"),
	}

	merged, err := helm.MergeValuesFiles(files, []string{"values.yaml", "./env/prod.yaml"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"replicas": float64(3), "name": "app"}, merged)

	_, err = helm.MergeValuesFiles(files, []string{"missing.yaml"})
	require.ErrorIs(t, err, helm.ErrValuesFileNotFound)
}

func TestCloneValues(t *testing.T) {
	t.Parallel()

	original := map[string]any{"nested": map[string]any{"key": "value"}}
	clone := helm.CloneValues(original)

	clone["nested"].(map[string]any)["key"] = "changed"

	assert.Equal(t, "value", original["nested"].(map[string]any)["key"])
}
