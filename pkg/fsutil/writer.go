package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes content to output through a temporary file in the
// same directory followed by a rename, so readers never observe a partially
// written file. Missing parent directories are created.
func WriteFileAtomic(output string, content []byte) error {
	if output == "" {
		return ErrEmptyOutputPath
	}

	output = filepath.Clean(output)
	dir := filepath.Dir(output)

	err := os.MkdirAll(dir, dirPermUserGroupRX)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(output)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	_, err = tmp.Write(content)
	if err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write file %s: %w", tmpName, err)
	}

	err = tmp.Chmod(filePermUserRW)
	if err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to close file %s: %w", tmpName, err)
	}

	err = os.Rename(tmpName, output)
	if err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", tmpName, output, err)
	}

	committed = true

	return nil
}
