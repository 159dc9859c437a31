// Package safeio reads manifests and config files through os.Root so that a
// crafted path or symlink cannot pull in files from outside the project.
package safeio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path escapes root")

// ReadFileUnder reads path only if it resolves inside root.
func ReadFileUnder(root, path string) ([]byte, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve target path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil || !IsUnder(rootAbs, pathAbs) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return readIn(rootAbs, rel)
}

// ReadFile reads exactly path, confined to its own directory.
func ReadFile(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve target path: %w", err)
	}
	return readIn(filepath.Dir(abs), filepath.Base(abs))
}

func readIn(dir, name string) ([]byte, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open root %s: %w", dir, err)
	}
	defer root.Close()
	return root.ReadFile(filepath.Clean(name))
}

// ReadJSON decodes the JSON document at path into target.
func ReadJSON(path string, target any) error {
	data, err := ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// IsUnder reports whether target is root itself or lies below it.
func IsUnder(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
