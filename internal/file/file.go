package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const appDirPerm os.FileMode = 0o750

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned data dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// MoveAtomic renames src onto dst, replacing any existing file. Both paths
// must live on the same filesystem; callers stage src in dst's directory.
func MoveAtomic(src, dst string) error {
	if src == "" || dst == "" {
		return errors.New("empty path")
	}
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	// remove existing file to avoid permission issues on Windows
	if _, err := os.Stat(dst); err == nil {
		// ignore error; if remove fails, rename may still succeed on POSIX
		_ = os.Remove(dst)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// CopyAtomic writes data provided by the reader to the destination file atomically.
func CopyAtomic(filename string, reader io.Reader) error {
	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()
	if _, err := io.Copy(tempFile, reader); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("copy to temp: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	return MoveAtomic(tmpName, filename)
}
