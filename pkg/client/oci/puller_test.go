package oci_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devantler-tech/fluxdiff/pkg/client/netretry"
	"github.com/devantler-tech/fluxdiff/pkg/client/oci"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tarball(t *testing.T, compress bool, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	var gz *gzip.Writer

	var tarWriter *tar.Writer
	if compress {
		gz = gzip.NewWriter(&buf)
		tarWriter = tar.NewWriter(gz)
	} else {
		tarWriter = tar.NewWriter(&buf)
	}

	for name, content := range files {
		require.NoError(t, tarWriter.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))

		_, err := tarWriter.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tarWriter.Close())

	if gz != nil {
		require.NoError(t, gz.Close())
	}

	return buf.Bytes()
}

func startRegistry(t *testing.T) string {
	t.Helper()

	server := httptest.NewServer(registry.New())
	t.Cleanup(server.Close)

	return strings.TrimPrefix(server.URL, "http://")
}

func pushArtifact(t *testing.T, host, repository, tag string, files map[string]string) string {
	t.Helper()

	return pushLayer(t, host, repository, tag, static.NewLayer(tarball(t, true, files), types.OCILayer))
}

func pushLayer(t *testing.T, host, repository, tag string, layer v1.Layer) string {
	t.Helper()

	image, err := mutate.AppendLayers(empty.Image, layer)
	require.NoError(t, err)

	ref, err := name.ParseReference(host+"/"+repository+":"+tag, name.Insecure)
	require.NoError(t, err)

	require.NoError(t, remote.Write(ref, image))

	digest, err := image.Digest()
	require.NoError(t, err)

	return digest.String()
}

func newPuller() *oci.Puller {
	return oci.NewPuller(oci.PullOptions{
		Insecure: true,
		Keychain: authn.NewMultiKeychain(),
		Retry:    netretry.Policy{Attempts: 1},
	}, nil)
}

func TestPullByTag(t *testing.T) {
	t.Parallel()

	host := startRegistry(t)
	digest := pushArtifact(t, host, "flux/apps", "v1.0.0", map[string]string{
		"apps/kustomization.yaml": "resources:\n  - deployment.yaml\n",
		"apps/deployment.yaml":    "kind: Deployment\n",
	})

	dest := filepath.Join(t.TempDir(), "artifact")

	pulled, err := newPuller().Pull(context.Background(), oci.Reference{
		URL: "oci://" + host + "/flux/apps",
		Tag: "v1.0.0",
	}, dest)
	require.NoError(t, err)
	assert.Equal(t, digest, pulled)

	content, err := os.ReadFile(filepath.Join(dest, "apps", "deployment.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "kind: Deployment\n", string(content))
	assert.FileExists(t, filepath.Join(dest, "apps", "kustomization.yaml"))
}

func TestPullByDigest(t *testing.T) {
	t.Parallel()

	host := startRegistry(t)
	digest := pushArtifact(t, host, "flux/infra", "latest", map[string]string{
		"namespace.yaml": "kind: Namespace\n",
	})

	dest := t.TempDir()

	_, err := newPuller().Pull(context.Background(), oci.Reference{
		URL:    "oci://" + host + "/flux/infra",
		Digest: digest,
	}, dest)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "namespace.yaml"))
}

func TestPullMissingTag(t *testing.T) {
	t.Parallel()

	host := startRegistry(t)
	pushArtifact(t, host, "flux/apps", "v1", map[string]string{"a.yaml": "a: 1\n"})

	_, err := newPuller().Pull(context.Background(), oci.Reference{
		URL: "oci://" + host + "/flux/apps",
		Tag: "v2",
	}, t.TempDir())
	require.ErrorIs(t, err, oci.ErrArtifactNotFound)
}

func TestPullResolvesSemVer(t *testing.T) {
	t.Parallel()

	host := startRegistry(t)
	for _, tag := range []string{"1.0.0", "1.4.2", "2.0.0", "latest"} {
		pushArtifact(t, host, "flux/apps", tag, map[string]string{"version.txt": tag})
	}

	dest := t.TempDir()

	_, err := newPuller().Pull(context.Background(), oci.Reference{
		URL:    "oci://" + host + "/flux/apps",
		Tag:    "latest",
		SemVer: "1.x",
	}, dest)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dest, "version.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", string(content))

	_, err = newPuller().Pull(context.Background(), oci.Reference{
		URL:    "oci://" + host + "/flux/apps",
		SemVer: ">=3.0.0",
	}, t.TempDir())
	require.ErrorIs(t, err, oci.ErrNoMatchingTag)
}

func TestPullUncompressedLayer(t *testing.T) {
	t.Parallel()

	host := startRegistry(t)
	layer := static.NewLayer(tarball(t, false, map[string]string{"plain.yaml": "kind: ConfigMap\n"}), types.OCIUncompressedLayer)
	pushLayer(t, host, "flux/plain", "v1", layer)

	dest := t.TempDir()

	_, err := newPuller().Pull(context.Background(), oci.Reference{
		URL: "oci://" + host + "/flux/plain",
		Tag: "v1",
	}, dest)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "plain.yaml"))
}

func TestUntarPlainArchive(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()

	require.NoError(t, oci.Untar(bytes.NewReader(tarball(t, false, map[string]string{
		"./nested/file.yaml": "key: value\n",
	})), dest))

	assert.FileExists(t, filepath.Join(dest, "nested", "file.yaml"))
}

func TestUntarRejectsTraversal(t *testing.T) {
	t.Parallel()

	err := oci.Untar(bytes.NewReader(tarball(t, false, map[string]string{
		"../escape.yaml": "key: value\n",
	})), t.TempDir())
	require.ErrorIs(t, err, oci.ErrUnsafeArchivePath)
}
