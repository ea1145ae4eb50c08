// Package atomicfile writes files so that readers observe either the old or
// the new content, never a partial write.
package atomicfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// Temp file naming. Sweep relies on it to recognize leftovers.
const (
	TempPrefix = ".claude-sync-"
	tempSuffix = ".tmp"
)

// WriteTemp writes data to a new temporary file next to dst and flushes it to
// disk. The caller must Replace or remove it.
func WriteTemp(dst string, data []byte) (string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, TempPrefix+"*"+tempSuffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		return "", errors.Join(fmt.Errorf("failed to write temp file: %w", err), f.Close(), os.Remove(tmp))
	}
	if err := f.Sync(); err != nil {
		return "", errors.Join(fmt.Errorf("failed to sync temp file: %w", err), f.Close(), os.Remove(tmp))
	}
	if err := f.Close(); err != nil {
		return "", errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(tmp))
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return "", errors.Join(fmt.Errorf("failed to chmod temp file: %w", err), os.Remove(tmp))
	}
	return tmp, nil
}

// Replace atomically moves tmp over dst.
func Replace(tmp, dst string) error {
	if err := atomic.ReplaceFile(tmp, dst); err != nil {
		return errors.Join(fmt.Errorf("failed to replace %s: %w", dst, err), os.Remove(tmp))
	}
	return nil
}

// WriteFile atomically replaces dst with data.
func WriteFile(dst string, data []byte) error {
	tmp, err := WriteTemp(dst, data)
	if err != nil {
		return err
	}
	return Replace(tmp, dst)
}

// IsTemp reports whether name looks like a file created by WriteTemp.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, TempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// Sweep removes temp files left behind by an interrupted run anywhere below
// root. Directories named in skip are not descended into. It returns the
// removed paths.
func Sweep(root string, skip ...string) ([]string, error) {
	var removed []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			for _, s := range skip {
				if d.Name() == s && p != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !IsTemp(d.Name()) {
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove leftover %s: %w", p, err)
		}
		removed = append(removed, p)
		return nil
	})
	return removed, err
}
