package fsutil

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandHomePath expands a path beginning with ~/ to the user's home directory
// and converts relative paths to absolute paths.
func ExpandHomePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		usr, err := user.Current()
		if err != nil {
			return "", fmt.Errorf("failed to get current user: %w", err)
		}

		path = filepath.Join(usr.HomeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to convert to absolute path: %w", err)
		}

		return absPath, nil
	}

	return filepath.Clean(path), nil
}

// ResolveWithin joins path onto base when it is relative, cleans the result
// and returns ErrPathOutsideBase if it is not base or a descendant of base.
func ResolveWithin(base, path string) (string, error) {
	if base == "" {
		return "", ErrBasePath
	}

	base = filepath.Clean(base)

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideBase, path)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideBase, path)
	}

	return resolved, nil
}

// JoinRooted joins a source-relative path onto root the way Flux does: a
// leading slash means root, and ".." never climbs above it.
func JoinRooted(root, path string) string {
	return filepath.Join(root, filepath.Clean(string(filepath.Separator)+filepath.FromSlash(path)))
}

// IsWithin reports whether path is base or lies below it.
func IsWithin(base, path string) bool {
	_, err := ResolveWithin(base, path)

	return err == nil
}

// EnsureDir returns an error unless path exists and is a directory.
func EnsureDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}

	return nil
}

// FindWorkspaceRoot returns the nearest ancestor of start (inclusive) that
// contains a .git entry. When none exists, start itself is returned.
func FindWorkspaceRoot(start string) (string, error) {
	abs, err := ExpandHomePath(start)
	if err != nil {
		return "", err
	}

	for dir := abs; ; {
		_, statErr := os.Stat(filepath.Join(dir, ".git"))
		if statErr == nil {
			return dir, nil
		}

		if !errors.Is(statErr, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", dir, statErr)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}

		dir = parent
	}
}
