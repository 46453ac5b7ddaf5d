package oci

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/devantler-tech/fluxdiff/pkg/client/netretry"
	"github.com/devantler-tech/fluxdiff/pkg/fsutil"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const (
	filePerm = 0o600
	dirPerm  = 0o750
)

// PullOptions configures a Puller.
type PullOptions struct {
	// Insecure allows plain HTTP registries.
	Insecure bool
	// Keychain resolves registry credentials. Nil selects authn.DefaultKeychain.
	Keychain authn.Keychain
	// Retry bounds attempts on transient registry failures.
	Retry netretry.Policy
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Puller downloads OCI artifacts and unpacks their layers into a directory.
type Puller struct {
	opts   PullOptions
	logger *zap.SugaredLogger
}

// NewPuller returns a Puller. Zero-valued options select the defaults.
func NewPuller(opts PullOptions, logger *zap.Logger) *Puller {
	if opts.Keychain == nil {
		opts.Keychain = authn.DefaultKeychain
	}

	if opts.Retry.Attempts == 0 {
		opts.Retry = netretry.DefaultPolicy()
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Puller{opts: opts, logger: logger.Sugar().Named("oci")}
}

// Pull fetches the artifact selected by ref and extracts every layer into
// dest, creating it when needed. A semver range is resolved against the
// repository's tags first. It returns the manifest digest.
func (p *Puller) Pull(ctx context.Context, ref Reference, dest string) (string, error) {
	remoteOpts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(p.opts.Keychain),
	}
	if p.opts.Transport != nil {
		remoteOpts = append(remoteOpts, remote.WithTransport(p.opts.Transport))
	}

	if ref.Digest == "" && ref.SemVer != "" {
		resolved, err := p.resolveSemVer(ctx, ref, remoteOpts)
		if err != nil {
			return "", err
		}

		ref = resolved
	}

	parsed, err := ref.parse(p.opts.Insecure)
	if err != nil {
		return "", err
	}

	err = os.MkdirAll(dest, dirPerm)
	if err != nil {
		return "", fmt.Errorf("prepare %s: %w", dest, err)
	}

	p.logger.Infow("pulling artifact", "reference", ref.String(), "destination", dest)

	var digest string

	err = netretry.Do(ctx, p.opts.Retry, func(context.Context) error {
		image, fetchErr := remote.Image(parsed, remoteOpts...)
		if fetchErr != nil {
			return classifyError(fetchErr)
		}

		hash, digestErr := image.Digest()
		if digestErr != nil {
			return fmt.Errorf("read digest: %w", digestErr)
		}

		digest = hash.String()

		return extractImage(image, dest)
	})
	if err != nil {
		return "", fmt.Errorf("pull %s: %w", ref.String(), err)
	}

	p.logger.Debugw("pulled artifact", "reference", ref.String(), "digest", digest)

	return digest, nil
}

// resolveSemVer replaces the semver range of ref with the highest matching tag.
func (p *Puller) resolveSemVer(ctx context.Context, ref Reference, remoteOpts []remote.Option) (Reference, error) {
	repository, err := ref.Repository()
	if err != nil {
		return Reference{}, err
	}

	nameOpts := []name.Option{name.WeakValidation}
	if p.opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}

	repo, err := name.NewRepository(repository, nameOpts...)
	if err != nil {
		return Reference{}, fmt.Errorf("parse repository %s: %w", repository, err)
	}

	var tags []string

	err = netretry.Do(ctx, p.opts.Retry, func(context.Context) error {
		listed, listErr := remote.List(repo, remoteOpts...)
		if listErr != nil {
			return classifyError(listErr)
		}

		tags = listed

		return nil
	})
	if err != nil {
		return Reference{}, fmt.Errorf("list tags of %s: %w", repository, err)
	}

	tag, err := SelectTag(tags, ref.SemVer)
	if err != nil {
		return Reference{}, fmt.Errorf("resolve %s: %w", ref.String(), err)
	}

	p.logger.Debugw("resolved semver range", "repository", repository, "range", ref.SemVer, "tag", tag)

	ref.Tag, ref.SemVer = tag, ""

	return ref, nil
}

func classifyError(err error) error {
	var transportErr *transport.Error
	if !errors.As(err, &transportErr) {
		return err
	}

	switch transportErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, err.Error())
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthRequired, err.Error())
	default:
		return err
	}
}

func extractImage(image v1.Image, dest string) error {
	layers, err := image.Layers()
	if err != nil {
		return fmt.Errorf("list layers: %w", err)
	}

	if len(layers) == 0 {
		return ErrNoLayers
	}

	for _, layer := range layers {
		err = extractLayer(layer, dest)
		if err != nil {
			return err
		}
	}

	return nil
}

func extractLayer(layer v1.Layer, dest string) error {
	blob, err := layer.Compressed()
	if err != nil {
		return fmt.Errorf("open layer: %w", err)
	}
	defer blob.Close()

	reader, err := layerReader(layer, blob)
	if err != nil {
		return err
	}

	return Untar(reader, dest)
}

// layerReader decodes blob by the layer's OCI media type. Other media types,
// such as Flux artifact content, are sniffed for gzip.
func layerReader(layer v1.Layer, blob io.Reader) (io.Reader, error) {
	mediaType, err := layer.MediaType()
	if err != nil {
		return maybeGunzip(blob)
	}

	switch string(mediaType) {
	case ocispec.MediaTypeImageLayer:
		return blob, nil
	case ocispec.MediaTypeImageLayerGzip:
		gz, gzErr := gzip.NewReader(blob)
		if gzErr != nil {
			return nil, fmt.Errorf("open gzip layer: %w", gzErr)
		}

		return gz, nil
	default:
		return maybeGunzip(blob)
	}
}

func maybeGunzip(r io.Reader) (io.Reader, error) {
	buffered := bufio.NewReader(r)

	magic, err := buffered.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read layer header: %w", err)
	}

	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, gzErr := gzip.NewReader(buffered)
		if gzErr != nil {
			return nil, fmt.Errorf("open gzip layer: %w", gzErr)
		}

		return gz, nil
	}

	return buffered, nil
}

// Untar writes the regular files and directories of a tar stream below dest.
// Symlinks and other special entries are skipped.
func Untar(r io.Reader, dest string) error {
	tarReader := tar.NewReader(r)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		name := strings.TrimPrefix(filepath.FromSlash(header.Name), string(filepath.Separator))

		target, err := fsutil.ResolveWithin(dest, name)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnsafeArchivePath, header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, dirPerm)
			if err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
		case tar.TypeReg:
			err = writeEntry(tarReader, target)
			if err != nil {
				return err
			}
		}
	}
}

func writeEntry(r io.Reader, target string) error {
	err := os.MkdirAll(filepath.Dir(target), dirPerm)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm) //nolint:gosec // target is confined to dest
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	_, err = io.Copy(file, r) //nolint:gosec // artifacts are trusted repository content
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("write %s: %w", target, err)
	}

	err = file.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}

	return nil
}
