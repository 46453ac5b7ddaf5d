package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/devantler-tech/fluxdiff/pkg/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRooted(t *testing.T) {
	t.Parallel()

	root := filepath.FromSlash("/work/repo")

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "relative", path: "./apps", want: filepath.FromSlash("/work/repo/apps")},
		{name: "leading slash", path: "/apps", want: filepath.FromSlash("/work/repo/apps")},
		{name: "empty", path: "", want: root},
		{name: "dotdot clamps", path: "../../etc", want: filepath.FromSlash("/work/repo/etc")},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, test.want, fsutil.JoinRooted(root, test.path))
		})
	}
}

func TestResolveWithin(t *testing.T) {
	t.Parallel()

	base := filepath.FromSlash("/work/repo")

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "relative child", path: "./kubernetes/", want: filepath.FromSlash("/work/repo/kubernetes")},
		{name: "base itself", path: ".", want: base},
		{name: "absolute child", path: filepath.FromSlash("/work/repo/apps"), want: filepath.FromSlash("/work/repo/apps")},
		{name: "dotdot inside", path: "apps/../infra", want: filepath.FromSlash("/work/repo/infra")},
		{name: "escapes with dotdot", path: "../other", wantErr: true},
		{name: "sibling prefix", path: filepath.FromSlash("/work/repo-other"), wantErr: true},
		{name: "absolute outside", path: filepath.FromSlash("/etc"), wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			got, err := fsutil.ResolveWithin(base, test.path)
			if test.wantErr {
				require.ErrorIs(t, err, fsutil.ErrPathOutsideBase)
				assert.False(t, fsutil.IsWithin(base, test.path))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestResolveWithinEmptyBase(t *testing.T) {
	t.Parallel()

	_, err := fsutil.ResolveWithin("", "apps")
	require.ErrorIs(t, err, fsutil.ErrBasePath)
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file.yaml")
	require.NoError(t, os.WriteFile(file, []byte("a: b"), 0o600))

	require.NoError(t, fsutil.EnsureDir(dir))
	require.ErrorIs(t, fsutil.EnsureDir(file), fsutil.ErrNotDirectory)
	require.ErrorIs(t, fsutil.EnsureDir(filepath.Join(dir, "missing")), os.ErrNotExist)
}

func TestFindWorkspaceRoot(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	nested := filepath.Join(repo, "clusters", "prod")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	got, err := fsutil.FindWorkspaceRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, nested, got, "falls back to the start directory without .git")

	require.NoError(t, os.Mkdir(filepath.Join(repo, ".git"), 0o750))

	got, err = fsutil.FindWorkspaceRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, repo, got)
}

func TestExpandHomePath(t *testing.T) {
	t.Parallel()

	got, err := fsutil.ExpandHomePath("relative/dir")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))

	got, err = fsutil.ExpandHomePath("~/config.yaml")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "config.yaml", filepath.Base(got))
}
