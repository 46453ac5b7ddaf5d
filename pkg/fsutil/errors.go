package fsutil

import "errors"

const (
	dirPermUserGroupRX = 0o750
	filePermUserRW     = 0o600
)

var (
	// ErrPathOutsideBase is returned when a path escapes its base directory.
	ErrPathOutsideBase = errors.New("invalid path: file is outside base directory")
	// ErrEmptyOutputPath is returned when an output path is empty.
	ErrEmptyOutputPath = errors.New("output path cannot be empty")
	// ErrBasePath is returned when a base path is empty.
	ErrBasePath = errors.New("base path cannot be empty")
	// ErrNotDirectory is returned when a path exists but is not a directory.
	ErrNotDirectory = errors.New("path is not a directory")
)
