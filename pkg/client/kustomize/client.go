// Package kustomize runs kustomize builds in-process.
package kustomize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/kustomize/api/konfig"
	"sigs.k8s.io/kustomize/api/krusty"
	"sigs.k8s.io/kustomize/kyaml/filesys"
)

// Client provides kustomize build functionality.
type Client struct {
	opts Options
	fs   filesys.FileSystem
}

// NewClient creates a kustomize client reading from disk.
func NewClient(opts Options) *Client {
	return &Client{opts: opts, fs: filesys.MakeFsOnDisk()}
}

// NewClientWithFS creates a kustomize client reading from fs.
func NewClientWithFS(opts Options, fs filesys.FileSystem) *Client {
	return &Client{opts: opts, fs: fs}
}

// Build runs kustomize build on the specified directory and returns the output.
func (c *Client) Build(ctx context.Context, path string) (*bytes.Buffer, error) {
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("kustomize build %s: %w", path, err)
	}

	kustomizer := krusty.MakeKustomizer(c.opts.krustyOptions())

	resMap, err := kustomizer.Run(c.fs, path)
	if err != nil {
		return nil, fmt.Errorf("kustomize build %s: %w", path, err)
	}

	out, err := resMap.AsYaml()
	if err != nil {
		return nil, fmt.Errorf("kustomize build %s: encode output: %w", path, err)
	}

	return bytes.NewBuffer(out), nil
}

// HasKustomization reports whether dir contains a kustomization file.
func HasKustomization(dir string) bool {
	for _, name := range konfig.RecognizedKustomizationFileNames() {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && !info.IsDir() {
			return true
		}
	}

	return false
}
