// Package resolve locates the installed root directory of a package
// specifier. Results are memoized in an injected Cache that may be shared
// across concurrent analyses.
package resolve

import (
	"path/filepath"
	"sync"

	"github.com/ben-ranford/depsplit/internal/pkgjson"
	"github.com/ben-ranford/depsplit/internal/safeio"
	"github.com/ben-ranford/depsplit/internal/specifier"
	"github.com/ben-ranford/depsplit/internal/workspace"
)

type cacheKey struct {
	name string
	from string
}

// Cache memoizes root lookups and manifest versions. It holds no state other
// than lookup results, so one Cache can back any number of resolvers.
type Cache struct {
	mu       sync.RWMutex
	roots    map[cacheKey]string
	versions map[string]string
}

func NewCache() *Cache {
	return &Cache{
		roots:    make(map[cacheKey]string),
		versions: make(map[string]string),
	}
}

func (c *Cache) root(key cacheKey, lookup func() string) string {
	c.mu.RLock()
	value, ok := c.roots[key]
	c.mu.RUnlock()
	if ok {
		return value
	}
	value = lookup()
	c.mu.Lock()
	c.roots[key] = value
	c.mu.Unlock()
	return value
}

func (c *Cache) version(root string, lookup func() string) string {
	c.mu.RLock()
	value, ok := c.versions[root]
	c.mu.RUnlock()
	if ok {
		return value
	}
	value = lookup()
	c.mu.Lock()
	c.versions[root] = value
	c.mu.Unlock()
	return value
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.roots)
}

type Resolver struct {
	cache     *Cache
	workspace workspace.Info
}

func New(cache *Cache, info workspace.Info) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{cache: cache, workspace: info}
}

// ResolveRoot returns the package root for spec as seen from fromPath, or ""
// when it cannot be found. Workspace packages resolve to their location.
// An empty fromPath resolves from the workspace root.
func (r *Resolver) ResolveRoot(spec, fromPath string) string {
	name := specifier.PackageName(spec)
	if name == "" {
		return ""
	}
	if pkg, ok := r.workspace.Packages[name]; ok {
		return pkg.Location
	}
	from := r.startDir(fromPath)
	if from == "" {
		return ""
	}
	return r.cache.root(cacheKey{name: name, from: from}, func() string {
		return lookupNodeModules(name, from)
	})
}

// Version reads the version declared by the manifest at root.
func (r *Resolver) Version(root string) string {
	if root == "" {
		return ""
	}
	return r.cache.version(root, func() string {
		manifest, err := pkgjson.Load(root)
		if err != nil {
			return ""
		}
		return manifest.Version
	})
}

func (r *Resolver) startDir(fromPath string) string {
	if fromPath == "" {
		return r.workspace.Root
	}
	abs, err := filepath.Abs(fromPath)
	if err != nil {
		return ""
	}
	if safeio.IsDir(abs) {
		return abs
	}
	return filepath.Dir(abs)
}

func lookupNodeModules(name, from string) string {
	for dir := from; ; {
		candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(name))
		if safeio.IsFile(filepath.Join(candidate, pkgjson.FileName)) {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
