// Package fileutil provides atomic file writes over an afero filesystem.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// TempContext holds state for an atomic file write operation.
type TempContext struct {
	fs      afero.Fs
	TmpFile afero.File
	TmpName string
}

// NewTempContext creates a temp file next to outPath, creating parent directories as needed.
// Caller must defer CleanupOnError.
func NewTempContext(fsys afero.Fs, outPath string) (*TempContext, error) {
	const dirPerm = 0o750

	dir := filepath.Dir(outPath)
	if err := fsys.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating directory %q: %w", dir, err)
	}

	tmpFile, err := afero.TempFile(fsys, dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary file: %w", err)
	}

	return &TempContext{
		fs:      fsys,
		TmpFile: tmpFile,
		TmpName: tmpFile.Name(),
	}, nil
}

// CleanupOnError closes the temp file and removes it if the write failed.
func (tc *TempContext) CleanupOnError(errp *error) {
	tc.TmpFile.Close() //nolint:gosec // best-effort cleanup

	if *errp != nil {
		tc.fs.Remove(tc.TmpName) //nolint:gosec // best-effort cleanup
	}
}

// Commit sets perm on the temp file, closes it and renames it to outPath.
func (tc *TempContext) Commit(outPath string, perm os.FileMode) error {
	if err := tc.fs.Chmod(tc.TmpName, perm); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := tc.TmpFile.Close(); err != nil {
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := tc.fs.Rename(tc.TmpName, outPath); err != nil {
		return fmt.Errorf("renaming output file: %w", err)
	}

	return nil
}

// WriteFile atomically replaces outPath with data.
func WriteFile(fsys afero.Fs, outPath string, data []byte, perm os.FileMode) (err error) {
	tc, err := NewTempContext(fsys, outPath)
	if err != nil {
		return fmt.Errorf("preparing atomic write: %w", err)
	}

	defer tc.CleanupOnError(&err)

	if _, err = tc.TmpFile.Write(data); err != nil {
		return fmt.Errorf("writing %q: %w", outPath, err)
	}

	return tc.Commit(outPath, perm)
}

// FinalizeOutput optionally preserves timestamps and returns the output file size.
func FinalizeOutput(fsys afero.Fs, outPath string, preserveTimestamps bool, modTime time.Time) (int64, error) {
	if preserveTimestamps && !modTime.IsZero() {
		if err := fsys.Chtimes(outPath, modTime, modTime); err != nil {
			return 0, fmt.Errorf("preserving timestamps: %w", err)
		}
	}

	outInfo, err := fsys.Stat(outPath)
	if err != nil {
		return 0, fmt.Errorf("stat output %q: %w", outPath, err)
	}

	return outInfo.Size(), nil
}
