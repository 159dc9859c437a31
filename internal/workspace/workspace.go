// Package workspace discovers the monorepo a program entry belongs to and
// inventories its member packages.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ben-ranford/depsplit/internal/pkgjson"
	"github.com/ben-ranford/depsplit/internal/safeio"
	"github.com/ben-ranford/depsplit/internal/specifier"
)

const pnpmWorkspaceFile = "pnpm-workspace.yaml"

var ErrNoPackageRoot = errors.New("no package.json found above entry")

type PackageInfo struct {
	Name         string            `json:"name"`
	Location     string            `json:"location"`
	Version      string            `json:"version,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`

	manifest pkgjson.Manifest
}

type Info struct {
	Root     string
	Packages map[string]PackageInfo
}

func NormalizeRepoPath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(path)
}

// Discover walks up from the entry file to the nearest workspace root. When no
// directory declares workspaces, the nearest package.json directory is the
// root and the inventory is empty.
func Discover(fromEntry string) (Info, error) {
	start, err := NormalizeRepoPath(fromEntry)
	if err != nil {
		return Info{}, err
	}
	if !safeio.IsDir(start) {
		start = filepath.Dir(start)
	}

	nearest := ""
	for dir := start; ; {
		if safeio.IsFile(filepath.Join(dir, pkgjson.FileName)) && nearest == "" {
			nearest = dir
		}
		patterns, ok, err := workspacePatterns(dir)
		if err != nil {
			return Info{}, err
		}
		if ok {
			packages, err := inventory(dir, patterns)
			if err != nil {
				return Info{}, err
			}
			return Info{Root: dir, Packages: packages}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if nearest == "" {
		return Info{}, fmt.Errorf("%w: %s", ErrNoPackageRoot, fromEntry)
	}
	return Info{Root: nearest, Packages: map[string]PackageInfo{}}, nil
}

func workspacePatterns(dir string) ([]string, bool, error) {
	pnpmPath := filepath.Join(dir, pnpmWorkspaceFile)
	if safeio.IsFile(pnpmPath) {
		data, err := safeio.ReadFileUnder(dir, pnpmPath)
		if err != nil {
			return nil, false, err
		}
		var doc struct {
			Packages []string `yaml:"packages"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, false, fmt.Errorf("parse %s: %w", pnpmPath, err)
		}
		return doc.Packages, true, nil
	}
	if !safeio.IsFile(filepath.Join(dir, pkgjson.FileName)) {
		return nil, false, nil
	}
	manifest, err := pkgjson.Load(dir)
	if err != nil {
		return nil, false, err
	}
	patterns := manifest.WorkspacePatterns()
	return patterns, len(patterns) > 0, nil
}

func inventory(root string, patterns []string) (map[string]PackageInfo, error) {
	include, exclude := make([]string, 0, len(patterns)), make(map[string]struct{})
	for _, pattern := range patterns {
		if negated, ok := strings.CutPrefix(pattern, "!"); ok {
			dirs, err := expand(root, negated)
			if err != nil {
				return nil, err
			}
			for _, dir := range dirs {
				exclude[dir] = struct{}{}
			}
			continue
		}
		include = append(include, pattern)
	}

	packages := make(map[string]PackageInfo)
	for _, pattern := range include {
		dirs, err := expand(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, dir := range dirs {
			if _, skip := exclude[dir]; skip {
				continue
			}
			info, ok, err := loadPackage(dir)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if existing, dup := packages[info.Name]; dup && existing.Location != info.Location {
				return nil, fmt.Errorf("duplicate workspace package %s in %s and %s", info.Name, existing.Location, info.Location)
			}
			packages[info.Name] = info
		}
	}
	return packages, nil
}

// expand resolves one workspace glob to package directories. A trailing "/**"
// matches every nested directory carrying a package.json.
func expand(root, pattern string) ([]string, error) {
	pattern = strings.TrimSuffix(filepath.FromSlash(strings.TrimSpace(pattern)), string(filepath.Separator))
	if pattern == "" {
		return nil, nil
	}
	if base, ok := strings.CutSuffix(pattern, string(filepath.Separator)+"**"); ok {
		return walkPackages(filepath.Join(root, base))
	}
	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return nil, fmt.Errorf("expand workspace pattern %q: %w", pattern, err)
	}
	dirs := make([]string, 0, len(matches))
	for _, match := range matches {
		if safeio.IsDir(match) && safeio.IsUnder(root, match) {
			dirs = append(dirs, match)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func walkPackages(base string) ([]string, error) {
	if !safeio.IsDir(base) {
		return nil, nil
	}
	dirs := make([]string, 0)
	err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if entry.Name() == "node_modules" || (path != base && strings.HasPrefix(entry.Name(), ".")) {
			return filepath.SkipDir
		}
		if safeio.IsFile(filepath.Join(path, pkgjson.FileName)) {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", base, err)
	}
	return dirs, nil
}

func loadPackage(dir string) (PackageInfo, bool, error) {
	if !safeio.IsFile(filepath.Join(dir, pkgjson.FileName)) {
		return PackageInfo{}, false, nil
	}
	manifest, err := pkgjson.Load(dir)
	if err != nil {
		return PackageInfo{}, false, err
	}
	if strings.TrimSpace(manifest.Name) == "" {
		return PackageInfo{}, false, nil
	}
	return PackageInfo{
		Name:         manifest.Name,
		Location:     dir,
		Version:      manifest.Version,
		Dependencies: manifest.AllDependencies(),
		manifest:     manifest,
	}, true, nil
}

// Lookup returns the workspace package owning the given specifier.
func (i Info) Lookup(spec string) (PackageInfo, bool) {
	name := specifier.PackageName(spec)
	if name == "" {
		return PackageInfo{}, false
	}
	pkg, ok := i.Packages[name]
	return pkg, ok
}

func (i Info) IsWorkspace(spec string) bool {
	_, ok := i.Lookup(spec)
	return ok
}

func (i Info) Names() []string {
	names := make([]string, 0, len(i.Packages))
	for name := range i.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EntryFor resolves the source file implementing key within pkg, following the
// package exports map before legacy fields.
func EntryFor(pkg PackageInfo, key string) (string, error) {
	manifest := pkg.manifest
	if manifest.Name == "" {
		if loaded, err := pkgjson.Load(pkg.Location); err == nil {
			manifest = loaded
		}
	}
	if path, ok := manifest.ResolveEntry(pkg.Location, specifier.Subpath(key)); ok {
		return path, nil
	}
	return "", fmt.Errorf("resolve entry for %s in %s: %w", key, pkg.Location, os.ErrNotExist)
}
